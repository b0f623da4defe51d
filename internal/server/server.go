package server

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"collabknit/internal/hub"
	"collabknit/internal/protocol"
	"collabknit/internal/render"
)

// Server is the HTTP surface in front of a hub: the websocket endpoint, a few
// read-only views of the textile, and the browser front-end.
type Server struct {
	hub      *hub.Hub
	logger   *log.Logger
	assets   fs.FS
	upgrader websocket.Upgrader
	ctx      context.Context
}

// New builds a server. Connections accepted by the handler live until ctx
// is cancelled or the client goes away.
func New(ctx context.Context, h *hub.Hub, assets fs.FS, logger *log.Logger) *Server {
	return &Server{
		hub:    h,
		logger: logger,
		assets: assets,
		ctx:    ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    protocol.Subprotocols,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.serveWs)
	r.Methods(http.MethodGet).Path("/api/snapshot").HandlerFunc(s.getSnapshot)
	r.Methods(http.MethodGet).Path("/api/textile.png").HandlerFunc(s.getPNG)
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.getHealth)
	if s.assets != nil {
		r.Methods(http.MethodGet).PathPrefix("/").Handler(http.FileServer(http.FS(s.assets)))
	}
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// websocket handlers hijack the connection and run for its lifetime
		if websocket.IsWebSocketUpgrade(r) {
			s.logger.Debug("upgrading", "url", r.URL, "remote", r.RemoteAddr)
			next.ServeHTTP(w, r)
			return
		}
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.logger.Info("handled", "method", r.Method, "url", r.URL, "duration", m.Duration, "status", m.Code)
	})
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade", "err", err)
		return
	}
	c := protocol.ForSubprotocol(conn.Subprotocol())
	s.logger.Info("new connection", "remote", conn.RemoteAddr().String(), "codec", c.Name())
	if err := s.hub.ServeConn(s.ctx, conn, c); err != nil {
		s.logger.Warn("session ended", "err", err)
	}
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, protocol.SnapshotOf(s.hub.Textile()))
}

func (s *Server) getPNG(w http.ResponseWriter, r *http.Request) {
	cols := 32
	if v := r.URL.Query().Get("cols"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1024 {
			http.Error(w, "cols must be between 1 and 1024", http.StatusBadRequest)
			return
		}
		cols = n
	}
	w.Header().Set("Content-Type", "image/png")
	if err := render.WritePNG(w, s.hub.Textile().Entries(0), cols); err != nil {
		s.logger.Error("failed to write png", "err", err)
	}
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	stats, err := s.hub.Stats(ctx)
	if err != nil {
		status := http.StatusServiceUnavailable
		if !errors.Is(err, hub.ErrStopped) && !errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusInternalServerError
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, s.logger, stats)
}

func writeJSON(w http.ResponseWriter, logger *log.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to write out", "err", err)
	}
}
