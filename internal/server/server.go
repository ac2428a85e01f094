// Package server exposes a session over a small local JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"steamroutetool/internal/policy"
	"steamroutetool/internal/route"
	"steamroutetool/internal/session"
)

// Server serves row projections and accepts toggle intents.
type Server struct {
	listen  string
	sess    *session.Session
	reprobe time.Duration

	// base is the context background probes run under.
	base context.Context
	bg   sync.WaitGroup
}

// New constructs a server. A zero reprobe disables periodic probing.
func New(listen string, sess *session.Session, reprobe time.Duration) *Server {
	return &Server{listen: listen, sess: sess, reprobe: reprobe, base: context.Background()}
}

type routeView struct {
	Name      string           `json:"name"`
	Desc      string           `json:"desc,omitempty"`
	PW        bool             `json:"pw"`
	Extended  bool             `json:"extended"`
	AllCheck  bool             `json:"all_check"`
	Endpoints []route.Endpoint `json:"endpoints"`
}

type columnRequest struct {
	Checked bool `json:"checked"`
}

// Handler returns the API mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rows", s.handleRows)
	mux.HandleFunc("GET /routes", s.handleRoutes)
	mux.HandleFunc("POST /routes/{name}/toggle", s.handleToggleRoute)
	mux.HandleFunc("POST /routes/{name}/probe", s.handleProbeRoute)
	mux.HandleFunc("POST /rows/{row}/toggle", s.handleToggleRow)
	mux.HandleFunc("POST /rows/{row}/probe", s.handleProbeRow)
	mux.HandleFunc("POST /column", s.handleColumn)
	mux.HandleFunc("POST /clear", s.handleClear)
	mux.HandleFunc("POST /probe", s.handleProbeAll)
	return mux
}

// ListenAndServe runs the HTTP server until ctx is cancelled, re-probing
// every route on the configured interval.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.base = ctx
	server := &http.Server{
		Addr:              s.listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if s.reprobe > 0 {
		go s.reprobeLoop(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("projection server listening", "addr", s.listen)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := server.Shutdown(shutdownCtx)
	s.bg.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Wait blocks until background probes started by handlers finish.
func (s *Server) Wait() { s.bg.Wait() }

func (s *Server) reprobeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.reprobe)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sess.ProbeAll(ctx)
		}
	}
}

func (s *Server) background(fn func(ctx context.Context)) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn(s.base)
	}()
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	rows := s.sess.Snapshot()
	if r.URL.Query().Get("visible") == "1" {
		visible := rows[:0]
		for _, ev := range rows {
			if ev.Visible {
				visible = append(visible, ev)
			}
		}
		rows = visible
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	routes := s.sess.Registry().Routes()
	out := make([]routeView, 0, len(routes))
	for _, rt := range routes {
		out = append(out, routeView{
			Name:      rt.Name,
			Desc:      rt.Desc,
			PW:        rt.PW,
			Extended:  rt.Extended(),
			AllCheck:  rt.AllCheck(),
			Endpoints: rt.Endpoints,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleToggleRoute(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.sess.ToggleRepresentative(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	s.background(func(ctx context.Context) { _ = s.sess.ProbeRoute(ctx, name) })
	s.writeRouteRows(w, name)
}

func (s *Server) handleProbeRoute(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.sess.Registry().Route(name); !ok {
		writeJSONError(w, http.StatusNotFound, "unknown route "+name)
		return
	}
	s.background(func(ctx context.Context) { _ = s.sess.ProbeRoute(ctx, name) })
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "probing"})
}

func (s *Server) handleToggleRow(w http.ResponseWriter, r *http.Request) {
	index, ok := rowParam(w, r)
	if !ok {
		return
	}
	if err := s.sess.ToggleRow(r.Context(), index); err != nil {
		writeError(w, err)
		return
	}
	rt, _ := s.sess.Registry().RouteForRow(index)
	s.writeRouteRows(w, rt.Name)
}

func (s *Server) handleProbeRow(w http.ResponseWriter, r *http.Request) {
	index, ok := rowParam(w, r)
	if !ok {
		return
	}
	if _, exists := s.sess.Registry().Row(index); !exists {
		writeJSONError(w, http.StatusNotFound, "unknown row")
		return
	}
	s.background(func(ctx context.Context) { _ = s.sess.ProbeRow(ctx, index) })
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "probing"})
}

func (s *Server) handleColumn(w http.ResponseWriter, r *http.Request) {
	var req columnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.sess.ToggleColumnAll(r.Context(), req.Checked); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.Snapshot())
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	n, err := s.sess.ClearNamespace(r.Context())
	if err != nil {
		log.Error("clear rules failed", "err", err)
		writeJSONError(w, http.StatusBadGateway, "failed to clear rules, check permissions: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleProbeAll(w http.ResponseWriter, r *http.Request) {
	s.background(func(ctx context.Context) { s.sess.ProbeAll(ctx) })
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "probing"})
}

func (s *Server) writeRouteRows(w http.ResponseWriter, name string) {
	rt, _ := s.sess.Registry().Route(name)
	out := make([]session.RowEvent, 0, len(rt.Rows()))
	for _, row := range rt.Rows() {
		ev, err := s.sess.Row(row.Index)
		if err == nil {
			out = append(out, ev)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func rowParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(r.PathValue("row"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "row must be an integer")
		return 0, false
	}
	return index, true
}

// writeError maps core errors to statuses. Policy store failures are 502.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, policy.ErrNoRoute), errors.Is(err, session.ErrUnknownRow):
		writeJSONError(w, http.StatusNotFound, err.Error())
	default:
		writeJSONError(w, http.StatusBadGateway, err.Error())
	}
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
