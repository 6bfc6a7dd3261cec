// Package web exposes visualizer instances over HTTP: JSON status and
// controls, PNG frame snapshots, Prometheus metrics and a websocket status
// feed.
package web

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/guidoenr/vizcore/internal/control"
	"github.com/guidoenr/vizcore/internal/params"
	"github.com/guidoenr/vizcore/internal/quality"
	"github.com/guidoenr/vizcore/internal/render"
	"github.com/guidoenr/vizcore/internal/viz"
)

//go:embed static/index.html
var indexHTML []byte

const defaultStatusInterval = 500 * time.Millisecond

type Options struct {
	// StatusInterval paces websocket status pushes.
	StatusInterval time.Duration
	// Presets lists selectable preset files for the UI.
	Presets []string
}

// Server serves every loop of the process. HTTP handlers run on many
// goroutines; posts to the loops' control ports are serialized by postMu so
// the server stays a single producer per port.
type Server struct {
	log     zerolog.Logger
	loops   []*viz.Loop
	ports   []*control.Port
	opts    Options
	postMu  sync.Mutex
	handler http.Handler

	mu        sync.RWMutex
	clients   map[*websocketClient]bool
	broadcast chan []byte
	upgrader  websocket.Upgrader
}

type websocketClient struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

type StatusResponse struct {
	Instances []viz.Status `json:"instances"`
}

type ParamRequest struct {
	Instance *int    `json:"instance,omitempty"`
	ID       string  `json:"id"`
	Value    float64 `json:"value"`
}

type PresetRequest struct {
	Instance *int   `json:"instance,omitempty"`
	Path     string `json:"path"`
}

type QualityRequest struct {
	Instance *int   `json:"instance,omitempty"`
	Mode     string `json:"mode"`
}

type FPSRequest struct {
	Instance *int    `json:"instance,omitempty"`
	FPS      float64 `json:"fps"`
}

func NewServer(loops []*viz.Loop, log zerolog.Logger, opts Options) *Server {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = defaultStatusInterval
	}
	s := &Server{
		log:       log,
		loops:     loops,
		opts:      opts,
		clients:   make(map[*websocketClient]bool),
		broadcast: make(chan []byte, 256),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, loop := range loops {
		s.ports = append(s.ports, loop.NewPort("web"))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/param", s.handleParam)
	mux.HandleFunc("POST /api/preset", s.handlePreset)
	mux.HandleFunc("POST /api/quality", s.handleQuality)
	mux.HandleFunc("POST /api/fps", s.handleFPS)
	mux.HandleFunc("GET /api/params", s.handleParamNames)
	mux.HandleFunc("GET /api/patterns", s.handlePatterns)
	mux.HandleFunc("GET /api/presets", s.handlePresets)
	mux.HandleFunc("GET /frame.png", s.handleFrame)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWebSocket)
	s.handler = mux
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.broadcastLoop(ctx)
	go s.statusUpdateLoop(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", addr).Msg("web server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) status() StatusResponse {
	resp := StatusResponse{Instances: make([]viz.Status, 0, len(s.loops))}
	for _, loop := range s.loops {
		resp.Instances = append(resp.Instances, loop.Status())
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

// targets resolves the optional instance index; nil addresses every loop.
func (s *Server) targets(instance *int) ([]int, error) {
	if instance == nil {
		out := make([]int, len(s.loops))
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	if *instance < 0 || *instance >= len(s.loops) {
		return nil, fmt.Errorf("instance %d out of range [0,%d)", *instance, len(s.loops))
	}
	return []int{*instance}, nil
}

func (s *Server) handleParam(w http.ResponseWriter, r *http.Request) {
	var req ParamRequest
	if !decode(w, r, &req) {
		return
	}
	id := params.ID(req.ID)
	if !params.Known(id) {
		http.Error(w, fmt.Sprintf("unknown parameter %q", req.ID), http.StatusBadRequest)
		return
	}
	idx, err := s.targets(req.Instance)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.postMu.Lock()
	defer s.postMu.Unlock()
	for _, i := range idx {
		if !s.ports[i].PostParameterChange(id, float32(req.Value)) {
			http.Error(w, "control channel full", http.StatusServiceUnavailable)
			return
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handlePreset(w http.ResponseWriter, r *http.Request) {
	var req PresetRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		http.Error(w, "path required", http.StatusBadRequest)
		return
	}
	idx, err := s.targets(req.Instance)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.postMu.Lock()
	defer s.postMu.Unlock()
	for _, i := range idx {
		if !s.ports[i].PostLoadPreset(req.Path) {
			http.Error(w, "control channel full", http.StatusServiceUnavailable)
			return
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	var req QualityRequest
	if !decode(w, r, &req) {
		return
	}
	mode, err := quality.ParseMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	idx, err := s.targets(req.Instance)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, i := range idx {
		s.loops[i].SetQualityMode(mode)
	}
	writeJSON(w, http.StatusOK, map[string]string{"quality": mode.String()})
}

func (s *Server) handleFPS(w http.ResponseWriter, r *http.Request) {
	var req FPSRequest
	if !decode(w, r, &req) {
		return
	}
	if req.FPS <= 0 {
		http.Error(w, "fps must be positive", http.StatusBadRequest)
		return
	}
	idx, err := s.targets(req.Instance)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var applied float64
	for _, i := range idx {
		s.loops[i].SetTargetFPS(req.FPS)
		applied = s.loops[i].TargetFPS()
	}
	writeJSON(w, http.StatusOK, map[string]float64{"fps": applied})
}

func (s *Server) handleParamNames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, params.Names())
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{
		"patterns":   render.PatternNames(),
		"colorModes": render.ColorModeNames(),
	})
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	presets := s.opts.Presets
	if presets == nil {
		presets = []string{}
	}
	writeJSON(w, http.StatusOK, presets)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	instance := 0
	if v := r.URL.Query().Get("instance"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "bad instance", http.StatusBadRequest)
			return
		}
		instance = n
	}
	idx, err := s.targets(&instance)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	frame, ok := s.loops[idx[0]].FrameSnapshot()
	if !ok {
		http.Error(w, "no frame rendered yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, frame); err != nil {
		s.log.Debug().Err(err).Msg("frame encode failed")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &websocketClient{
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
	}

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()

	go client.writePump()
	go client.readPump()
}

// ClientCount reports connected websocket clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			for client := range s.clients {
				close(client.send)
				delete(s.clients, client)
			}
			s.mu.Unlock()
			return
		case message := <-s.broadcast:
			s.mu.Lock()
			for client := range s.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(s.clients, client)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Server) statusUpdateLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		data, err := json.Marshal(s.status())
		if err != nil {
			s.log.Warn().Err(err).Msg("status encode failed")
			continue
		}
		select {
		case s.broadcast <- data:
		default:
			// drop if channel full
		}
	}
}

func (c *websocketClient) readPump() {
	defer func() {
		c.server.mu.Lock()
		if c.server.clients[c] {
			delete(c.server.clients, c)
			close(c.send)
		}
		c.server.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *websocketClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
