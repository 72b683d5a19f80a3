package sdo

import (
	"testing"

	"github.com/marel/canmaster/pkg/frame"
)

func uploadInitRes(index uint16, sub uint8, data []byte) frame.Frame {
	var f frame.Frame
	f = frame.SetCs(f, frame.UlInitRes)
	f = frame.SetMux(f, index, sub)
	f = frame.SetExpedited(f, true)
	f = frame.SetIndicatedSize(f, true)
	f = frame.SetInitSize(f, uint8(4-len(data)))
	f = frame.SetData(f, data)
	return f
}

func uploadSegRes(toggle, end bool, data []byte) frame.Frame {
	var f frame.Frame
	f = frame.SetCs(f, frame.UlSegRes)
	f = frame.SetToggle(f, toggle)
	f = frame.SetEndSegment(f, end)
	f = frame.SetSegmentData(f, data)
	if end {
		f = frame.SetSegmentSize(f, uint8(7-len(data)))
	}
	return f
}

func TestClientUploadExpedited(t *testing.T) {
	sm := NewClientUpload(0x1018, 1)
	sm, start := sm.Start()
	if frame.GetCs(start) != frame.UlInitReq {
		t.Fatal("expected initiate-upload request")
	}
	sm, _, hasOut := sm.Step(uploadInitRes(0x1018, 1, []byte{9, 8, 7}))
	if hasOut {
		t.Fatal("expedited upload should finish with no further output")
	}
	if sm.State != StateDone {
		t.Fatalf("state = %v, want DONE", sm.State)
	}
	if len(sm.Data) != 3 || sm.Data[0] != 9 || sm.Data[2] != 7 {
		t.Fatalf("data mismatch: %v", sm.Data)
	}
}

func TestClientUploadSegmented(t *testing.T) {
	var noExpedite frame.Frame
	noExpedite = frame.SetCs(noExpedite, frame.UlInitRes)
	noExpedite = frame.SetMux(noExpedite, 0x1018, 1)

	sm := NewClientUpload(0x1018, 1)
	sm, _ = sm.Start()
	sm, out, hasOut := sm.Step(noExpedite)
	if !hasOut || frame.IsToggled(out) {
		t.Fatal("expected first, untoggled segment request")
	}

	sm, out, hasOut = sm.Step(uploadSegRes(false, false, []byte{1, 2, 3, 4, 5, 6, 7}))
	if !hasOut || !frame.IsToggled(out) {
		t.Fatal("expected second, toggled segment request")
	}

	sm, _, hasOut = sm.Step(uploadSegRes(true, true, []byte{8, 9}))
	if hasOut {
		t.Fatal("transfer should be complete")
	}
	if sm.State != StateDone {
		t.Fatalf("state = %v, want DONE", sm.State)
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	if len(sm.Data) != len(want) {
		t.Fatalf("data len = %d, want %d", len(sm.Data), len(want))
	}
	for i, b := range want {
		if sm.Data[i] != b {
			t.Fatalf("data[%d] = %d, want %d", i, sm.Data[i], b)
		}
	}
}

func TestClientUploadAbortBeforeSegmentExchangeReArms(t *testing.T) {
	sm := NewClientUpload(0x1018, 1)
	sm, _ = sm.Start()
	var ab frame.Frame
	ab = frame.SetCs(ab, frame.Abort)
	sm, _, hasOut := sm.Step(ab)
	if sm.State != StateStart || hasOut {
		t.Fatalf("expected re-armed START with no output, got state=%v hasOut=%v", sm.State, hasOut)
	}
}

func TestClientUploadRemoteAbortMidTransfer(t *testing.T) {
	var noExpedite frame.Frame
	noExpedite = frame.SetCs(noExpedite, frame.UlInitRes)
	noExpedite = frame.SetMux(noExpedite, 0x1018, 1)

	sm := NewClientUpload(0x1018, 1)
	sm, _ = sm.Start()
	sm, _, _ = sm.Step(noExpedite)
	var ab frame.Frame
	ab = frame.SetCs(ab, frame.Abort)
	sm, _, hasOut := sm.Step(ab)
	if sm.State != StateRemoteAbort || hasOut {
		t.Fatalf("expected REMOTE_ABORT with no output, got state=%v hasOut=%v", sm.State, hasOut)
	}
}
