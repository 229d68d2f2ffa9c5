// Package gateway exposes the processing engine over HTTP: document
// jobs, uploaded-file management, health, and a websocket progress
// stream. Jobs are serialized per user through a keyed worker pool so
// one user's requests run in order while distinct users proceed
// concurrently.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/officestack/docpatch/pkg/bus"
	"github.com/officestack/docpatch/pkg/config"
	"github.com/officestack/docpatch/pkg/engine"
	"github.com/officestack/docpatch/pkg/logger"
	"github.com/officestack/docpatch/pkg/notify"
	"github.com/officestack/docpatch/pkg/routing"
)

const component = "gateway"

// Processor is the engine surface the gateway drives. *engine.Engine
// implements it; tests substitute scripted stand-ins.
type Processor interface {
	ProcessDocument(ctx context.Context, req engine.Request) (*engine.ProcessingResult, error)
	ProcessPath(ctx context.Context, req engine.PathRequest) (*engine.PathResult, error)
	LastFile(userID string) (string, bool)
}

var _ Processor = (*engine.Engine)(nil)

// Server owns the HTTP API and the progress fan-out.
type Server struct {
	cfg      *config.Config
	proc     Processor
	bus      *bus.ProgressBus
	notifier *notify.Notifier
	version  string

	pool     *routing.JobPool
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	pumpCancel context.CancelFunc
	pumpDone   chan struct{}

	mu       sync.Mutex
	addr     string
	watchers map[string][]chan bus.ProgressEvent
}

// New wires a gateway server. pb must be the same bus the engine
// publishes on; notifier may be nil.
func New(cfg *config.Config, proc Processor, pb *bus.ProgressBus, notifier *notify.Notifier, version string) *Server {
	return &Server{
		cfg:      cfg,
		proc:     proc,
		bus:      pb,
		notifier: notifier,
		version:  version,
		pool:     routing.NewJobPool(16),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The gateway binds to loopback by default; anything exposing
			// it further fronts it with a proxy that owns origin policy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		pumpDone: make(chan struct{}),
		watchers: map[string][]chan bus.ProgressEvent{},
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/process", s.handleProcess)
	mux.HandleFunc("POST /api/process-path", s.handleProcessPath)
	mux.HandleFunc("GET /api/files", s.handleFilesList)
	mux.HandleFunc("GET /api/files/{name}", s.handleFileDownload)
	mux.HandleFunc("DELETE /api/files/{name}", s.handleFileDelete)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ws", s.handleWS)
	return mux
}

// Start binds the configured address and serves until Shutdown. It
// returns nil after a graceful shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.addr = listener.Addr().String()
	s.mu.Unlock()

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.pumpCancel = cancel
	go s.runEventPump(pumpCtx)

	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.InfoCF(component, "Gateway listening", map[string]interface{}{
		"addr":     s.addr,
		"uploads":  s.cfg.UploadsPath(),
		"provider": s.cfg.Providers.Default,
	})

	if err := s.httpSrv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr reports the bound listen address once Start has bound it.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown stops accepting requests, drains in-flight jobs, then stops
// the event pump. Open websocket streams observe the pump stopping and
// close themselves.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	s.pool.Close()
	if s.pumpCancel != nil {
		s.pumpCancel()
		<-s.pumpDone
	}
	return err
}

// runEventPump is the bus's single consumer: it fans each event out to
// the watchers registered for its request ID, plus any firehose
// watchers registered with an empty ID. A full watcher buffer drops
// the event rather than stalling the pump.
func (s *Server) runEventPump(ctx context.Context) {
	defer close(s.pumpDone)
	for {
		ev, ok := s.bus.Subscribe(ctx)
		if !ok {
			return
		}

		s.mu.Lock()
		targets := make([]chan bus.ProgressEvent, 0, 4)
		targets = append(targets, s.watchers[ev.RequestID]...)
		if ev.RequestID != "" {
			targets = append(targets, s.watchers[""]...)
		}
		s.mu.Unlock()

		for _, ch := range targets {
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

func (s *Server) addWatcher(requestID string) (chan bus.ProgressEvent, func()) {
	ch := make(chan bus.ProgressEvent, 32)

	s.mu.Lock()
	s.watchers[requestID] = append(s.watchers[requestID], ch)
	s.mu.Unlock()

	remove := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.watchers[requestID]
		for i, c := range list {
			if c == ch {
				s.watchers[requestID] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(s.watchers[requestID]) == 0 {
			delete(s.watchers, requestID)
		}
	}
	return ch, remove
}

func (s *Server) notifyResult(ctx context.Context, text string) {
	if s.notifier == nil || !s.notifier.Enabled() {
		return
	}
	s.notifier.Result(ctx, text)
}
