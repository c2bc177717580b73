// Package monitor serves the sky over HTTP: the published snapshot and
// journal history as JSON, command endpoints that queue onto the frame
// loop, and debug views.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/banshee-data/starfield/internal/monitoring"
	"github.com/banshee-data/starfield/internal/sky/journal"
	"github.com/banshee-data/starfield/internal/sky/pipeline"
	"github.com/banshee-data/starfield/internal/timeutil"
)

// Controller is the frame loop as seen by the HTTP layer.
// *pipeline.Runner implements it.
type Controller interface {
	Snapshot() *pipeline.Snapshot
	Do(ctx context.Context, cmd pipeline.Command) (pipeline.Result, error)
}

// History is the journal as seen by the HTTP layer.
// *journal.Journal implements it.
type History interface {
	Session() string
	Frames(limit int) ([]journal.FrameStats, error)
	Constellations(limit int) ([]journal.ConstellationRecord, error)
}

// DefaultCommandTimeout bounds how long a request waits for the frame loop
// to pick up its command.
const DefaultCommandTimeout = 5 * time.Second

// Config contains configuration options for the server.
type Config struct {
	Address string
	Runner  Controller
	// Journal is optional; without it /api/sky/history returns 404.
	Journal        History
	CommandTimeout time.Duration
	Clock          timeutil.Clock
}

// Server handles the HTTP interface of the sky.
type Server struct {
	address string
	runner  Controller
	journal History
	timeout time.Duration
	clock   timeutil.Clock
	server  *http.Server
}

// NewServer creates a server with the provided configuration.
func NewServer(cfg Config) *Server {
	s := &Server{
		address: cfg.Address,
		runner:  cfg.Runner,
		journal: cfg.Journal,
		timeout: cfg.CommandTimeout,
		clock:   cfg.Clock,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultCommandTimeout
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	s.server = &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/sky", s.handleSky)
	mux.HandleFunc("/api/sky/history", s.handleHistory)
	mux.HandleFunc("/api/sky/constellations", s.handleConstellations)
	mux.HandleFunc("/api/sky/constellations/{name}", s.handleConstellation)
	mux.HandleFunc("/api/sky/retriangulate", s.handleSimple(pipeline.ReTriangulate))
	mux.HandleFunc("/api/sky/zero", s.handleSimple(pipeline.Zero))
	mux.HandleFunc("/api/sky/capture", s.handleCapture)
	mux.HandleFunc("/api/sky/features", s.handleFeatures)
	mux.HandleFunc("/api/sky/toggle/{what}", s.handleToggle)
	mux.HandleFunc("/debug/sky", s.handleDebugGraph)
	mux.HandleFunc("/debug/sky.png", s.handleDebugPNG)

	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("[HTTP] listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	monitoring.Logf("[HTTP] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("[HTTP] shutdown error: %v", err)
		if err := s.server.Close(); err != nil {
			monitoring.Logf("[HTTP] force close error: %v", err)
		}
	}
	return <-errc
}
