package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gaden/errs"
	"github.com/pthm-cable/gaden/simulation"
)

// Options configures a Server.
type Options struct {
	StepInterval time.Duration // wall time between steps
	DeltaTime    float64       // [s] simulated per step
	MaxFilaments int           // per layer, 0 for all
}

// Server steps a scene on a ticker and streams it to websocket clients.
type Server struct {
	hub  *Hub
	opts Options

	mu        sync.Mutex // guards scene, iteration and last
	scene     *simulation.Scene
	iteration int
	last      *Frame
}

// NewServer returns a server over scene.
func NewServer(scene *simulation.Scene, opts Options) *Server {
	if opts.StepInterval <= 0 {
		opts.StepInterval = 100 * time.Millisecond
	}
	return &Server{hub: NewHub(), opts: opts, scene: scene}
}

// Hub returns the client registry.
func (s *Server) Hub() *Hub { return s.hub }

// Handler routes /ws to the websocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Step advances the scene once and returns the resulting frame. A missing
// playback file is logged and does not fail the step.
func (s *Server) Step() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.scene.AdvanceTimestep(); err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			return Frame{}, err
		}
		slog.Warn("step skipped a frame", "iteration", s.iteration, "error", err)
	}
	s.iteration++
	frame := s.frame()
	s.last = &frame
	return frame, nil
}

func (s *Server) frame() Frame {
	frame := Frame{
		Type:      TypeFrame,
		Iteration: s.iteration,
		Time:      float64(s.iteration) * s.opts.DeltaTime,
	}
	sims := s.scene.Simulations()
	if len(sims) > 0 {
		frame.WindIndex = sims[0].WindIndex()
	}
	for _, sim := range sims {
		fs := sim.Filaments()
		n := len(fs)
		if s.opts.MaxFilaments > 0 {
			n = min(n, s.opts.MaxFilaments)
		}
		layer := Layer{
			Gas:       sim.Metadata().Source.GasType.String(),
			Filaments: make([][4]float32, 0, n),
			Total:     len(fs),
		}
		for _, f := range fs[:n] {
			layer.Filaments = append(layer.Filaments, [4]float32{
				float32(f.Position.X), float32(f.Position.Y), float32(f.Position.Z), float32(f.Sigma),
			})
		}
		frame.Layers = append(frame.Layers, layer)
	}
	return frame
}

// Sample returns the per-gas concentration and the wind at p.
func (s *Server) Sample(p [3]float64) SampleReply {
	pos := r3.Vec{X: p[0], Y: p[1], Z: p[2]}
	s.mu.Lock()
	conc := s.scene.SampleConcentrations(pos)
	w := s.scene.SampleWind(pos)
	s.mu.Unlock()

	reply := SampleReply{
		Type:           TypeSample,
		Position:       p,
		Concentrations: make(map[string]float64, len(conc)),
		Wind:           [3]float64{w.X, w.Y, w.Z},
	}
	for gas, ppm := range conc {
		reply.Concentrations[gas.String()] = ppm
	}
	return reply
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.hub.add(conn)
	defer s.hub.remove(conn)

	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last != nil {
		if err := s.hub.Send(conn, last); err != nil {
			return
		}
	}

	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read ended", "error", err)
			}
			return
		}

		var reply any
		switch req.Type {
		case TypeSample:
			reply = s.Sample(req.Position)
		default:
			reply = ErrorReply{Type: TypeError, Message: "unknown request type " + req.Type}
		}
		if err := s.hub.Send(conn, reply); err != nil {
			return
		}
	}
}

// Run serves addr and steps the scene until ctx is cancelled or a step fails.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("stream listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return s.loop(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		s.hub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) loop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.StepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		frame, err := s.Step()
		if err != nil {
			return err
		}
		start := time.Now()
		s.hub.Broadcast(frame)
		if d := time.Since(start); d > s.opts.StepInterval {
			slog.Warn("slow broadcast", "duration", d, "clients", s.hub.Len())
		}
	}
}
