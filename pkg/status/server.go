// Package status serves the streamer's state over HTTP: JSON snapshots of
// the running job, finished-job history, Prometheus metrics, and a
// websocket feed that pushes every published snapshot to connected clients.
package status

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bfourk/SerialPrint/pkg/log"
	"github.com/bfourk/SerialPrint/pkg/metrics"
	"github.com/bfourk/SerialPrint/pkg/printer"
)

// Config holds server wiring. Registry and Metrics are optional; without a
// registry /metrics serves 404.
type Config struct {
	Addr     string
	Registry *metrics.Registry
	Metrics  *metrics.PrintMetrics
	Logger   *log.Logger
}

// Server is the read-only HTTP face of a print job.
type Server struct {
	addr     string
	logger   *log.Logger
	registry *metrics.Registry
	pm       *metrics.PrintMetrics

	httpServer *http.Server

	mu       sync.RWMutex
	snapshot printer.Snapshot
	hasSnap  bool

	history *History

	upgrader websocket.Upgrader
	clientMu sync.RWMutex
	clients  map[int64]*client
	nextID   int64
}

// New creates a server. Call Start to begin serving.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default().WithPrefix("status")
	}
	s := &Server{
		addr:     cfg.Addr,
		logger:   logger,
		registry: cfg.Registry,
		pm:       cfg.Metrics,
		history:  NewHistory(100),
		clients:  make(map[int64]*client),
	}
	s.upgrader = websocket.Upgrader{
		// Local dashboards connect from arbitrary origins.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// History returns the finished-job history.
func (s *Server) History() *History {
	return s.history
}

// Handler builds the route table. Exposed so tests can drive the server
// through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/printer/status", s.handleStatus)
	mux.HandleFunc("/printer/job", s.handleJob)
	mux.HandleFunc("/server/history", s.handleHistoryList)
	mux.HandleFunc("/server/history/list", s.handleHistoryList)
	mux.HandleFunc("/server/history/totals", s.handleHistoryTotals)
	mux.HandleFunc("/websocket", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealthz)
	if s.registry != nil {
		mux.Handle("/metrics", s.registry)
	}
	return s.corsMiddleware(s.timingMiddleware(mux))
}

// Start serves until Stop or a listener error. It blocks.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	s.logger.Info("listening on %s", s.addr)
	return s.httpServer.ListenAndServe()
}

// Stop disconnects websocket clients and closes the listener.
func (s *Server) Stop() error {
	s.clientMu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[int64]*client)
	s.clientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// Publish stores a snapshot and pushes it to every websocket client.
func (s *Server) Publish(snap printer.Snapshot) {
	s.mu.Lock()
	s.snapshot = snap
	s.hasSnap = true
	s.mu.Unlock()

	note := notification{Method: "status_update", Params: snap}
	s.clientMu.RLock()
	for _, c := range s.clients {
		c.send(note)
	}
	s.clientMu.RUnlock()
}

// RecordJob adds a finished job to the history.
func (s *Server) RecordJob(rec JobRecord) {
	s.history.Record(rec)
}

func (s *Server) currentSnapshot() (printer.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, s.hasSnap
}

// HTTP handlers

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, _ := s.currentSnapshot()
	s.writeJSON(w, map[string]any{"result": snap})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	snap, _ := s.currentSnapshot()
	s.writeJSON(w, map[string]any{"result": snap.Job})
}

func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	jobs := s.history.Jobs()
	s.writeJSON(w, map[string]any{"result": map[string]any{
		"count": len(jobs),
		"jobs":  jobs,
	}})
}

func (s *Server) handleHistoryTotals(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"result": s.history.Totals()})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "ok\n")
}

// corsMiddleware lets browser dashboards on other origins read the API.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) timingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.pm != nil {
			defer s.pm.HTTPDuration.Timer(metrics.Labels{"path": r.URL.Path})()
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// notification is the envelope pushed over the websocket feed.
type notification struct {
	Method string           `json:"method"`
	Params printer.Snapshot `json:"params"`
}

// client is one websocket consumer. Snapshots are fanned out through a
// buffered channel; a consumer that cannot keep up loses frames rather than
// stalling the publisher.
type client struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	sendCh chan notification
	done   chan struct{}
	mu     sync.Mutex
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{
		id:     atomic.AddInt64(&s.nextID, 1),
		conn:   conn,
		server: s,
		sendCh: make(chan notification, 64),
		done:   make(chan struct{}),
	}

	s.clientMu.Lock()
	s.clients[c.id] = c
	s.clientMu.Unlock()
	s.logger.WithField("client", c.id).Debug("websocket client connected")

	// New clients get the current state right away instead of waiting for
	// the next publish.
	if snap, ok := s.currentSnapshot(); ok {
		c.send(notification{Method: "status_update", Params: snap})
	}

	go c.writePump()
	c.readPump()
}

func (s *Server) removeClient(c *client) {
	s.clientMu.Lock()
	delete(s.clients, c.id)
	s.clientMu.Unlock()
	s.logger.WithField("client", c.id).Debug("websocket client disconnected")
}

func (c *client) send(note notification) {
	select {
	case c.sendCh <- note:
	case <-c.done:
	default:
		// Consumer too slow, drop the frame.
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}
	c.conn.Close()
}

// readPump consumes incoming frames until the peer goes away. The feed is
// one-way; anything the client sends is discarded.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case note := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(note); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
