// Package control serves the HTTP API used by the home-automation bridge to
// toggle switches and inspect the daemon.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nexad/internal/accessory"
	"github.com/dokzlo13/nexad/internal/ledger"
	"github.com/dokzlo13/nexad/internal/radio"
	"github.com/dokzlo13/nexad/internal/sequencer"
)

const (
	defaultLedgerLimit = 50
	maxLedgerLimit     = 1000
	maxBodyBytes       = 64 << 10
)

// Switcher accepts toggle requests. Implemented by *sequencer.Sequencer.
type Switcher interface {
	Submit(addr radio.Address, on bool) error
	Snapshot() sequencer.Snapshot
}

// History lists recent transmissions. Implemented by *ledger.Ledger.
type History interface {
	Recent(limit int) ([]*ledger.Entry, error)
}

// Platform describes the transmitter setup reported by GET /config.
type Platform struct {
	Name           string        `json:"platform"`
	TransmitterPin int           `json:"transmitter_pin"`
	EmitterID      int           `json:"emitter_id"`
	Window         time.Duration `json:"debounce_window"`
}

// Server is the control API HTTP server.
type Server struct {
	addr     string
	switcher Switcher
	registry *accessory.Registry
	history  History
	platform func() Platform

	httpServer *http.Server
}

// NewServer creates a control server. history may be nil when the ledger is
// disabled.
func NewServer(host string, port int, sw Switcher, registry *accessory.Registry, history History, platform func() Platform) *Server {
	return &Server{
		addr:     fmt.Sprintf("%s:%d", host, port),
		switcher: sw,
		registry: registry,
		history:  history,
		platform: platform,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /config", s.handleConfig)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("POST /switch", s.handleSwitch)
	mux.HandleFunc("GET /ledger", s.handleLedger)
	return mux
}

// Run starts the control server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting control server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Control server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type configResponse struct {
	Platform
	Accessories []accessory.Accessory `json:"accessories"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	resp := configResponse{Accessories: s.registry.All()}
	if s.platform != nil {
		resp.Platform = s.platform()
	}
	writeJSON(w, http.StatusOK, resp)
}

type targetState struct {
	ID    radio.Address `json:"id"`
	Name  string        `json:"name"`
	State radio.State   `json:"state"`
}

type stateResponse struct {
	sequencer.Snapshot
	Targets []targetState `json:"targets"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap := s.switcher.Snapshot()
	resp := stateResponse{Snapshot: snap}
	for _, addr := range snap.States.Addresses() {
		t := targetState{ID: addr, State: snap.States[addr]}
		if a, ok := s.registry.ByID(addr); ok {
			t.Name = a.Name
		}
		resp.Targets = append(resp.Targets, t)
	}
	writeJSON(w, http.StatusOK, resp)
}

// switchRequest accepts the target as an id or a name and the state as a
// boolean or an on/off string.
type switchRequest struct {
	Target any `json:"target"`
	State  any `json:"state"`
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	target, on, err := s.parseSwitch(r)
	if err != nil {
		log.Debug().Err(err).Msg("Rejected switch request")
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.switcher.Submit(target.ID, on); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, sequencer.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err)
		return
	}

	log.Info().
		Str("accessory", target.Name).
		Stringer("address", target.ID).
		Str("state", radio.OnOff(on)).
		Msg("Switch request accepted")

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"target": target.ID,
		"name":   target.Name,
		"state":  radio.OnOff(on),
	})
}

func (s *Server) parseSwitch(r *http.Request) (accessory.Accessory, bool, error) {
	var req switchRequest

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			return accessory.Accessory{}, false, fmt.Errorf("read body: %w", err)
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return accessory.Accessory{}, false, fmt.Errorf("invalid JSON body: %w", err)
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return accessory.Accessory{}, false, fmt.Errorf("invalid form body: %w", err)
		}
		if v := r.Form.Get("target"); v != "" {
			req.Target = v
		}
		if v := r.Form.Get("state"); v != "" {
			req.State = v
		}
	}

	target, err := s.resolveTarget(req.Target)
	if err != nil {
		return accessory.Accessory{}, false, err
	}
	on, err := parseOn(req.State)
	if err != nil {
		return accessory.Accessory{}, false, err
	}
	return target, on, nil
}

func (s *Server) resolveTarget(v any) (accessory.Accessory, error) {
	var key string
	switch t := v.(type) {
	case nil:
		return accessory.Accessory{}, errors.New("missing target")
	case string:
		key = t
	case float64:
		if t != float64(int(t)) {
			return accessory.Accessory{}, fmt.Errorf("invalid target %v", t)
		}
		key = strconv.Itoa(int(t))
	default:
		return accessory.Accessory{}, fmt.Errorf("invalid target %v", t)
	}

	a, ok := s.registry.Lookup(key)
	if !ok {
		return accessory.Accessory{}, fmt.Errorf("%w: %q", sequencer.ErrUnknownTarget, key)
	}
	return a, nil
}

func parseOn(v any) (bool, error) {
	switch t := v.(type) {
	case nil:
		return false, errors.New("missing state")
	case bool:
		return t, nil
	case float64:
		if t == 0 || t == 1 {
			return t == 1, nil
		}
	case string:
		st, err := radio.ParseState(t)
		if err != nil {
			return false, err
		}
		if st.Known() {
			return st.On(), nil
		}
	}
	return false, fmt.Errorf("invalid state %v", v)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, errors.New("ledger disabled"))
		return
	}

	limit := defaultLedgerLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = min(n, maxLedgerLimit)
	}

	entries, err := s.history.Recent(limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read ledger")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
