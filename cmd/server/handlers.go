package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"broadside.gg/internal/config"
	"broadside.gg/internal/persistence/indexdb"
	"broadside.gg/internal/protocol"
	"broadside.gg/internal/sim/arena"
	"broadside.gg/internal/sim/registry"
	"broadside.gg/internal/sim/sandbox"
)

type handlers struct {
	arena    *arena.Arena
	registry *registry.Registry
	sandbox  *sandbox.Sandbox
	index    *indexdb.SQLiteIndex
	base     config.Match
	logger   *zap.Logger
	// Matches started over http run under runCtx, not the request.
	runCtx context.Context
}

type controllerInfo struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Authors     []string `json:"authors,omitempty"`
	Modes       []string `json:"modes,omitempty"`
	Source      string   `json:"source"`
}

func (h *handlers) controllers(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var out []controllerInfo
	for _, d := range h.registry.List() {
		out = append(out, controllerInfo{
			Name:        d.Name,
			Version:     d.Version,
			Description: d.Description,
			Authors:     d.Authors,
			Modes:       d.Modes,
			Source:      d.Source,
		})
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(out)
}

type startRequest struct {
	Entrants []string        `json:"entrants"`
	Config   json.RawMessage `json:"config,omitempty"`
}

type startResponse struct {
	MatchID string `json:"match_id"`
}

// startMatch handles POST /admin/v1/matches. Config, if given, is a json object
// or a yaml string and overlays the built-in defaults the same way a match file does.
func (h *handlers) startMatch(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, err.Error())
		return
	}
	var req startRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, err.Error())
		return
	}
	cfg := h.base.Clone()
	if len(req.Config) > 0 {
		raw := []byte(req.Config)
		// A json string carries a yaml document.
		var doc string
		if json.Unmarshal(raw, &doc) == nil {
			raw = []byte(doc)
		}
		cfg, err = config.Parse(raw)
		if err != nil {
			writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, err.Error())
			return
		}
	}
	runCtx := h.runCtx
	if runCtx == nil {
		runCtx = context.WithoutCancel(r.Context())
	}
	e, err := h.arena.Start(runCtx, arena.Request{Config: cfg, Entrants: req.Entrants})
	if err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, arena.ErrClosed):
			status = http.StatusServiceUnavailable
		case errors.Is(err, registry.ErrNotFound):
			status = http.StatusNotFound
		}
		writeError(rw, status, protocol.ErrProtoBadRequest, err.Error())
		return
	}
	h.logger.Info("match started over http", zap.String("match_id", e.ID), zap.Strings("entrants", req.Entrants))
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(rw).Encode(startResponse{MatchID: e.ID})
}

func (h *handlers) metrics(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	var running, ended int
	for _, m := range h.arena.List() {
		if m.Ended {
			ended++
		} else {
			running++
		}
	}
	fmt.Fprintf(rw, "# HELP broadside_matches Matches known to the arena.\n")
	fmt.Fprintf(rw, "# TYPE broadside_matches gauge\n")
	fmt.Fprintf(rw, "broadside_matches{state=\"running\"} %d\n", running)
	fmt.Fprintf(rw, "broadside_matches{state=\"ended\"} %d\n", ended)

	st := h.sandbox.Stats()
	fmt.Fprintf(rw, "# HELP broadside_sandbox_calls_total Controller calls made through the sandbox.\n")
	fmt.Fprintf(rw, "# TYPE broadside_sandbox_calls_total counter\n")
	fmt.Fprintf(rw, "broadside_sandbox_calls_total %d\n", st.Calls)
	fmt.Fprintf(rw, "broadside_sandbox_timeouts_total %d\n", st.Timeouts)
	fmt.Fprintf(rw, "broadside_sandbox_faults_total %d\n", st.Faults)
	fmt.Fprintf(rw, "broadside_sandbox_abandoned %d\n", st.Abandoned)

	if h.index != nil {
		is := h.index.Stats()
		fmt.Fprintf(rw, "broadside_index_queue_depth %d\n", is.QueueDepth)
		fmt.Fprintf(rw, "broadside_index_dropped_total %d\n", is.DropMatchTotal+is.DropPlayerTotal+is.DropRoundTotal+is.DropDQTotal+is.DropSnapshotTotal)
		fmt.Fprintf(rw, "broadside_index_write_fail_total %d\n", is.WriteFailTotal)
	}
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, Code: code, Message: msg})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
