// Package restapi is the minimal, read-mostly HTTP admin surface: list
// nodes, inspect one node's identity and state, read an object dictionary
// entry live from the node over SDO, and issue NMT commands. It is an
// external collaborator from the spec's perspective, not part of the core
// state machines, so it stays a thin net/http.ServeMux layer over the node
// table and the SDO engine.
package restapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/marel/canmaster/pkg/supervisor"
)

// Table is the subset of pkg/supervisor.Table this package depends on,
// narrowed so the package can be tested without the full master wiring.
type Table interface {
	Node(id uint8) (*supervisor.Node, bool)
	Each(fn func(*supervisor.Node))
	Command(cmd supervisor.Command, nodeID uint8) error
}

// Uploader performs the live SDO read backing GET .../od/{index}/{sub}; the
// engine's blocking Upload satisfies this.
type Uploader interface {
	Upload(ctx context.Context, nodeID uint8, index uint16, sub uint8) ([]byte, error)
}

// Server is the REST admin interface.
type Server struct {
	table   Table
	sdo     Uploader
	logger  *slog.Logger
	mux     *http.ServeMux
	timeout time.Duration
}

// New builds a Server backed by table and sdo (used to proxy live object
// dictionary reads). Call Handler to obtain the http.Handler to serve.
func New(table Table, sdo Uploader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{table: table, sdo: sdo, logger: logger.With("service", "restapi"), timeout: 2 * time.Second}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/nodes", s.handleListNodes)
	s.mux.HandleFunc("/nodes/", s.handleNodeRoutes)
	return s
}

// Handler returns the http.Handler to pass to http.Server.
func (s *Server) Handler() http.Handler { return s.mux }

type nodeSummary struct {
	ID       uint8  `json:"id"`
	State    string `json:"state"`
	Vendor   uint32 `json:"vendor_id,omitempty"`
	Product  uint32 `json:"product_code,omitempty"`
	Name     string `json:"name,omitempty"`
}

func summarize(n *supervisor.Node) nodeSummary {
	return nodeSummary{
		ID:      n.ID,
		State:   n.State.String(),
		Vendor:  n.VendorID,
		Product: n.ProductCode,
		Name:    n.Name,
	}
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var nodes []nodeSummary
	s.table.Each(func(n *supervisor.Node) { nodes = append(nodes, summarize(n)) })
	writeJSON(w, nodes)
}

// handleNodeRoutes dispatches GET /nodes/{id}, GET
// /nodes/{id}/od/{index}/{sub}, and POST /nodes/{id}/nmt/{command}.
func (s *Server) handleNodeRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/nodes/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		http.Error(w, "invalid node id", http.StatusBadRequest)
		return
	}
	node, ok := s.table.Node(uint8(id))
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(parts) == 1:
		writeJSON(w, summarize(node))

	case len(parts) == 4 && parts[1] == "od":
		s.handleODLookup(w, r, node, parts[2], parts[3])

	case len(parts) == 3 && parts[1] == "nmt":
		s.handleNMTCommand(w, r, node.ID, parts[2])

	default:
		http.NotFound(w, r)
	}
}

type odResponse struct {
	Index uint16 `json:"index"`
	Sub   uint8  `json:"sub"`
	Data  string `json:"data"`
	Name  string `json:"name,omitempty"`
}

// handleODLookup proxies a live SDO upload through the engine (C4), per the
// REST surface's "answer object-dictionary lookups" contract; the EDS
// record, when bound, only supplies the human-readable name alongside it.
func (s *Server) handleODLookup(w http.ResponseWriter, r *http.Request, node *supervisor.Node, indexStr, subStr string) {
	index, err1 := strconv.ParseUint(strings.TrimPrefix(indexStr, "0x"), 16, 16)
	sub, err2 := strconv.ParseUint(subStr, 10, 8)
	if err1 != nil || err2 != nil {
		http.Error(w, "invalid index/sub", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	data, err := s.sdo.Upload(ctx, node.ID, uint16(index), uint8(sub))
	if err != nil {
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
		return
	}

	resp := odResponse{Index: uint16(index), Sub: uint8(sub), Data: hex.EncodeToString(data)}
	if rec := node.EDSRecord(); rec != nil {
		if desc, ok := rec.Find(uint16(index), uint8(sub)); ok {
			resp.Name = desc.Name
		}
	}
	writeJSON(w, resp)
}

var commandNames = map[string]supervisor.Command{
	"start":               supervisor.CommandEnterOperational,
	"stop":                supervisor.CommandEnterStopped,
	"pre-operational":     supervisor.CommandEnterPreOperational,
	"reset-node":          supervisor.CommandResetNode,
	"reset-communication": supervisor.CommandResetCommunication,
}

func (s *Server) handleNMTCommand(w http.ResponseWriter, r *http.Request, nodeID uint8, name string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cmd, ok := commandNames[name]
	if !ok {
		http.Error(w, "unknown NMT command", http.StatusBadRequest)
		return
	}
	if err := s.table.Command(cmd, nodeID); err != nil {
		s.logger.Warn("nmt command failed", "node", nodeID, "command", name, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
