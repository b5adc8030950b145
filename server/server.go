// Package server exposes a small debug HTTP surface over the running
// engine: a JSON status endpoint and an SSE stream of the live block
// trace, mirroring the console-server's own debug API but trading its
// per-server console multiplexing for a single card's link state.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"blocksec2go/client"
	"blocksec2go/t1prime"
)

// Status is the JSON shape returned by /api/status.
type Status struct {
	Activated bool   `json:"activated"`
	BWTMillis int64  `json:"bwt_millis"`
	UpSince   string `json:"up_since"`
}

// Server serves the debug API. Hub fans out block-trace lines to any
// connected SSE clients; Engine answers /api/status; Client, if non-nil,
// answers /api/publickey/{id}. Requests that run card exchanges through the
// engine (/api/publickey/{id}) are serialized through engineMu, since
// t1prime.Engine is single-threaded cooperative and the HTTP server
// otherwise handles requests concurrently; /api/status reads the engine's
// accessors without taking engineMu.
type Server struct {
	port   int
	engine *t1prime.Engine
	client *client.Client
	hub    *Hub
	router *mux.Router

	engineMu sync.Mutex
	upSince  time.Time

	httpServer *http.Server
}

// New builds a Server listening on port, reporting status from engine and
// streaming trace lines published through hub. cardClient may be nil, in
// which case /api/publickey/{id} answers 503.
func New(port int, engine *t1prime.Engine, hub *Hub, cardClient *client.Client) *Server {
	s := &Server{
		port:    port,
		engine:  engine,
		client:  cardClient,
		hub:     hub,
		router:  mux.NewRouter(),
		upSince: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/trace/stream", s.handleTraceStream).Methods("GET")
	api.HandleFunc("/publickey/{id}", s.handlePublicKey).Methods("GET")
}

// handlePublicKey runs SelectApplet followed by GetPublicKey against the
// card's default applet, returning the key bytes as hex. It holds engineMu
// for the whole exchange: the engine tolerates exactly one transceive in
// flight at a time.
func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	if s.client == nil {
		http.Error(w, "no card client wired", http.StatusServiceUnavailable)
		return
	}
	keyID, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 8)
	if err != nil {
		http.Error(w, "invalid key id", http.StatusBadRequest)
		return
	}

	s.engineMu.Lock()
	defer s.engineMu.Unlock()

	ctx := r.Context()
	if err := s.client.SelectApplet(ctx, defaultAID); err != nil {
		http.Error(w, fmt.Sprintf("select applet: %v", err), http.StatusBadGateway)
		return
	}
	key, err := s.client.GetPublicKey(ctx, byte(keyID))
	if err != nil {
		http.Error(w, fmt.Sprintf("get public key: %v", err), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"public_key": fmt.Sprintf("%x", key)})
}

// defaultAID is the Blockchain Security 2Go applet's AID, selected before
// any command-set operation that needs it.
var defaultAID = []byte{0xD2, 0x76, 0x00, 0x01, 0x24, 0x01, 0x02, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := Status{
		Activated: s.engine.Activated(),
		BWTMillis: s.engine.GetBWT().Milliseconds(),
		UpSince:   s.upSince.Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debugf("server: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails to serve.
func (s *Server) Run(ctx context.Context) error {
	s.router.Use(loggingMiddleware)
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		log.Info("server: context done, shutting down")
		s.httpServer.Shutdown(context.Background())
	}()

	log.Infof("server: listening on :%d", s.port)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Hub fans a single stream of trace lines out to any number of SSE
// subscribers.
type Hub struct {
	mu          sync.Mutex
	subscribers []chan string
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{}
}

// Publish sends line to every currently subscribed channel, dropping it for
// any subscriber whose buffer is full rather than blocking the caller.
func (h *Hub) Publish(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}

// Subscribe registers a new buffered channel for trace lines.
func (h *Hub) Subscribe() chan string {
	ch := make(chan string, 256)
	h.mu.Lock()
	h.subscribers = append(h.subscribers, ch)
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (h *Hub) Unsubscribe(ch chan string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subscribers {
		if s == ch {
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}
