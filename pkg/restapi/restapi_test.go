package restapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marel/canmaster/pkg/supervisor"
)

type fakeTable struct {
	nodes    map[uint8]*supervisor.Node
	commands []supervisor.Command
	targets  []uint8
}

func newFakeTable() *fakeTable {
	return &fakeTable{nodes: make(map[uint8]*supervisor.Node)}
}

func (f *fakeTable) Node(id uint8) (*supervisor.Node, bool) {
	n, ok := f.nodes[id]
	return n, ok
}

func (f *fakeTable) Each(fn func(*supervisor.Node)) {
	for id := uint8(1); id <= 127; id++ {
		if n, ok := f.nodes[id]; ok {
			fn(n)
		}
	}
}

func (f *fakeTable) Command(cmd supervisor.Command, nodeID uint8) error {
	f.commands = append(f.commands, cmd)
	f.targets = append(f.targets, nodeID)
	return nil
}

type fakeUploader struct {
	data map[uint16]map[uint8][]byte
	err  error
}

func (f *fakeUploader) Upload(ctx context.Context, nodeID uint8, index uint16, sub uint8) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data[index][sub], nil
}

func TestListNodes(t *testing.T) {
	table := newFakeTable()
	n := supervisor.NewNode(5)
	table.nodes[5] = n

	s := New(table, &fakeUploader{}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nodes", nil)
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if want := `[{"id":5,"state":"DORMANT"}]`; rec.Body.String() != want+"\n" {
		t.Fatalf("body = %q, want %q", rec.Body.String(), want)
	}
}

func TestGetNodeNotFound(t *testing.T) {
	s := New(newFakeTable(), &fakeUploader{}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nodes/9", nil)
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestPostNMTCommand(t *testing.T) {
	table := newFakeTable()
	table.nodes[5] = supervisor.NewNode(5)

	s := New(table, &fakeUploader{}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/nodes/5/nmt/reset-node", nil)
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(table.commands) != 1 || table.commands[0] != supervisor.CommandResetNode {
		t.Fatalf("commands = %v, want [ResetNode]", table.commands)
	}
	if table.targets[0] != 5 {
		t.Fatalf("target = %d, want 5", table.targets[0])
	}
}

func TestPostNMTUnknownCommand(t *testing.T) {
	table := newFakeTable()
	table.nodes[5] = supervisor.NewNode(5)

	s := New(table, &fakeUploader{}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/nodes/5/nmt/bogus", nil)
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestODLookupProxiesLiveUpload(t *testing.T) {
	table := newFakeTable()
	table.nodes[5] = supervisor.NewNode(5)
	up := &fakeUploader{data: map[uint16]map[uint8][]byte{0x1018: {1: {0x7A, 0x00, 0x00, 0x00}}}}

	s := New(table, up, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nodes/5/od/1018/1", nil)
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if want := `{"index":4120,"sub":1,"data":"7a000000"}`; rec.Body.String() != want+"\n" {
		t.Fatalf("body = %q, want %q", rec.Body.String(), want)
	}
}

func TestODLookupPropagatesTransferError(t *testing.T) {
	table := newFakeTable()
	table.nodes[5] = supervisor.NewNode(5)
	up := &fakeUploader{err: errors.New("sdo: timeout waiting for node 5")}

	s := New(table, up, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nodes/5/od/1018/1", nil)
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
}
