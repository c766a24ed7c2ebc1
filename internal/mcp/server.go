package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nostrintel/internal/metrics"
)

const sessionTTL = 24 * time.Hour

// Server is the HTTP transport: JSON-RPC on POST /mcp plus the health,
// metrics, and L402 challenge endpoints.
type Server struct {
	deps Deps

	// catalog answers requests that need the tool registry but no session.
	catalog *Router

	sessionCounter atomic.Uint64

	sessionMu sync.Mutex
	sessions  map[string]httpSession
}

type httpSession struct {
	router   *Router
	lastSeen time.Time
}

func NewServer(deps Deps) *Server {
	return &Server{
		deps:     deps,
		catalog:  NewRouter(deps, "l402"),
		sessions: make(map[string]httpSession),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleMCP)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/l402/challenge/", s.handleL402Challenge)
	return mux
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go s.runSessionCleanup(ctx)

	errCh := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	log.WithField("addr", addr).Info("http transport listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, nil, -32600, "Content-Type must be application/json", "INVALID_FIELD", false)
		return
	}

	req, parseErr := parseRequest(r.Body)
	if parseErr != nil {
		canonicalCode := "INVALID_FIELD"
		var vErr validationError
		if errors.As(parseErr, &vErr) && vErr.canonicalCode != "" {
			canonicalCode = vErr.canonicalCode
		}
		writeError(w, http.StatusBadRequest, nil, -32600, parseErr.Error(), canonicalCode, false)
		return
	}

	id, hasID, idErr := parseID(req.ID)
	if idErr != nil {
		writeError(w, http.StatusBadRequest, nil, -32600, idErr.Error(), "INVALID_FIELD", false)
		return
	}

	if req.Method == "" {
		writeError(w, http.StatusBadRequest, id, -32600, "method is required", "MISSING_FIELD", false)
		return
	}

	var router *Router
	if req.Method != "initialize" {
		sessionID := strings.TrimSpace(r.Header.Get(sessionHeaderName))
		router = s.lookupSession(sessionID, time.Now())
		if router == nil {
			writeError(w, http.StatusNotFound, id, -32001, "session not found", "SESSION_NOT_FOUND", false)
			return
		}
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, id, hasID)
	case "notifications/initialized":
		if !hasID {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeResult(w, http.StatusOK, id, map[string]interface{}{})
	case "tools/list":
		if !hasID {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeResult(w, http.StatusOK, id, map[string]interface{}{"tools": router.ToolList()})
	case "tools/call":
		if !hasID {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		result, rpcErr := router.Dispatch(r.Context(), req.Params)
		if rpcErr != nil {
			writeResponse(w, http.StatusBadRequest, rpcResponse{JSONRPC: "2.0", ID: id, Error: rpcErr})
			return
		}
		writeResult(w, http.StatusOK, id, result)
	default:
		if !hasID {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeError(w, http.StatusOK, id, -32601, "method not found", "METHOD_NOT_FOUND", false)
	}
}

func (s *Server) handleInitialize(w http.ResponseWriter, id interface{}, hasID bool) {
	if !hasID {
		writeError(w, http.StatusBadRequest, nil, -32600, "initialize requires id", "MISSING_FIELD", false)
		return
	}

	sessionID := fmt.Sprintf("http-%d", s.sessionCounter.Add(1))

	s.sessionMu.Lock()
	s.sessions[sessionID] = httpSession{
		router:   NewRouter(s.deps, sessionID),
		lastSeen: time.Now(),
	}
	s.sessionMu.Unlock()

	w.Header().Set(sessionHeaderName, sessionID)
	writeResult(w, http.StatusOK, id, map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{"listChanged": false},
		},
		"serverInfo": map[string]interface{}{
			"name":    s.deps.Config.Server.Name,
			"version": s.deps.Config.Server.Version,
		},
		"instructions": "Use tools/list then tools/call. Paid tools return a payment_required payload once the free tier runs out; pay the invoice and retry with payment_hash.",
	})
}

func (s *Server) lookupSession(id string, now time.Time) *Router {
	if id == "" {
		return nil
	}
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if now.Sub(session.lastSeen) > sessionTTL {
		delete(s.sessions, id)
		return nil
	}
	session.lastSeen = now
	s.sessions[id] = session
	return session.router
}

func (s *Server) runSessionCleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sessionMu.Lock()
			for id, session := range s.sessions {
				if now.Sub(session.lastSeen) > sessionTTL {
					delete(s.sessions, id)
				}
			}
			s.sessionMu.Unlock()
		}
	}
}
