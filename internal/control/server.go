// Package control serves the HTTP control plane of a callpilot process.
//
// Routes:
//
//	POST /call/start   start a call (409 if one is running)
//	POST /call/stop    stop the current call and wait for its summary
//	GET  /call/status  current session status
//	GET  /ws           live feed of status transitions, records and summaries
//	     /mcp          MCP tools start_call, stop_call and call_status
//	GET  /healthz      liveness
//	GET  /readyz       readiness
//	GET  /metrics      Prometheus exposition
//
// Every route is wrapped in [observe.Middleware].
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/callpilot/internal/app"
	"github.com/MrWong99/callpilot/internal/health"
	"github.com/MrWong99/callpilot/internal/observe"
	"github.com/MrWong99/callpilot/internal/status"
)

// shutdownTimeout bounds the graceful HTTP shutdown once the serve context
// is cancelled.
const shutdownTimeout = 5 * time.Second

// Session is the call lifecycle the control plane drives. *app.Controller
// implements it.
type Session interface {
	StartCall(ctx context.Context) (string, error)
	StopCall(ctx context.Context) error
	Status() status.Status
}

var _ Session = (*app.Controller)(nil)

// Config holds the dependencies of a [Server].
type Config struct {
	// Addr is the listen address, e.g. ":8090".
	Addr string

	Session Session

	// Hub feeds /ws. Nil disables the live feed.
	Hub *Hub

	// Health serves /healthz and /readyz. Nil registers a handler without
	// readiness checks.
	Health *health.Handler

	// Metrics instruments every request. Nil uses [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Version is reported by the MCP server.
	Version string
}

// Server is the control-plane HTTP server.
type Server struct {
	cfg     Config
	handler http.Handler
	mcp     *mcpsdk.Server
}

// New builds the route table.
func New(cfg Config) *Server {
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	s := &Server{cfg: cfg}
	s.mcp = newMCPServer(cfg.Session, cfg.Version)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /call/start", s.handleStart)
	mux.HandleFunc("POST /call/stop", s.handleStop)
	mux.HandleFunc("GET /call/status", s.handleStatus)
	if cfg.Hub != nil {
		mux.HandleFunc("GET /ws", s.handleWebSocket)
	}
	mux.Handle("/mcp", mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.mcp }, nil))
	mux.Handle("GET /metrics", observe.MetricsHandler())
	cfg.Health.Register(mux)

	s.handler = observe.Middleware(cfg.Metrics)(mux)
	return s
}

// Handler returns the instrumented route table.
func (s *Server) Handler() http.Handler { return s.handler }

// MCP returns the MCP server behind /mcp.
func (s *Server) MCP() *mcpsdk.Server { return s.mcp }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is [Server.ListenAndServe] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("control plane listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("control plane shutdown", "err", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type startResponse struct {
	CallID string `json:"call_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id, err := s.cfg.Session.StartCall(r.Context())
	switch {
	case errors.Is(err, app.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case err != nil:
		observe.Logger(r.Context()).Error("start call failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusAccepted, startResponse{CallID: id})
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	// Finalisation must not be cut short by the client disconnecting.
	ctx := context.WithoutCancel(r.Context())
	if err := s.cfg.Session.StopCall(ctx); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Session.Status())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Session.Status())
}

// handleWebSocket streams hub events as JSON messages. The first message is
// the current status. Client messages are ignored.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	events, cancel := s.cfg.Hub.Subscribe()
	defer cancel()

	// CloseRead discards client frames and cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	log := slog.With("remote", r.RemoteAddr)
	log.Debug("live feed connected")

	if err := wsjson.Write(ctx, conn, status.Event{Type: status.EventStatus, Status: s.cfg.Session.Status()}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			log.Debug("live feed disconnected")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, conn, ev)
			wcancel()
			if err != nil {
				log.Debug("live feed write failed", "err", err)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
