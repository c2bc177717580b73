// Package pipeline drives the sky layers from a frame source: one tracker
// update per frame, queued commands applied between frames, and an
// immutable snapshot published for concurrent readers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/banshee-data/starfield/internal/config"
	"github.com/banshee-data/starfield/internal/monitoring"
	"github.com/banshee-data/starfield/internal/sky/heaven"
	"github.com/banshee-data/starfield/internal/sky/journal"
	"github.com/banshee-data/starfield/internal/sky/klt"
	"github.com/banshee-data/starfield/internal/sky/source"
	"github.com/banshee-data/starfield/internal/sky/trackedmesh"
	"github.com/banshee-data/starfield/internal/timeutil"
)

// ErrNoCapturer is the result of a Capture command on a runner without a
// capture directory.
var ErrNoCapturer = errors.New("pipeline: capture not configured")

// Recorder persists frame samples and constellation events.
type Recorder interface {
	heaven.EventHandler
	RecordFrame(stats journal.FrameStats) error
}

// Config controls the frame loop.
type Config struct {
	// Retriangulate is config.RetriangulateOnDemand or
	// config.RetriangulateEveryFrame.
	Retriangulate string
	// AutoConstellation grows one constellation per frame.
	AutoConstellation bool
	// ConstellationRetries is the attempt limit of AddConstellation
	// commands before they clear and try once more.
	ConstellationRetries int
	Normalise            bool
	// JournalEvery samples every Nth frame into the recorder; zero disables.
	JournalEvery int
	CommandQueue int
	// FrameInterval paces Run; zero runs as fast as the source allows.
	FrameInterval time.Duration
	Clock         timeutil.Clock
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Retriangulate:        cfg.GetRetriangulate(),
		AutoConstellation:    cfg.GetAutoConstellation(),
		ConstellationRetries: cfg.GetConstellationRetries(),
		Normalise:            cfg.GetNormalise(),
		JournalEvery:         cfg.GetJournalEvery(),
		CommandQueue:         cfg.GetCommandQueue(),
		FrameInterval:        cfg.GetFrameInterval(),
		Clock:                timeutil.RealClock{},
	}
}

// Runner owns the tracked mesh and constellation builder. Step and Run
// must be called from a single goroutine; Submit, Do and Snapshot are
// safe from any goroutine.
type Runner struct {
	cfg      Config
	mesh     *trackedmesh.TrackedMesh
	builder  *heaven.Builder
	recorder Recorder
	capturer *source.Capturer

	cmds chan Command
	snap atomic.Pointer[Snapshot]

	auto      bool
	paused    bool
	normalise bool
	width     int
	height    int
}

// New wires the builder to the mesh's star pool and publishes an empty
// snapshot.
func New(tm *trackedmesh.TrackedMesh, b *heaven.Builder, cfg Config) *Runner {
	if cfg.CommandQueue <= 0 {
		cfg.CommandQueue = 16
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Retriangulate == "" {
		cfg.Retriangulate = config.RetriangulateOnDemand
	}
	r := &Runner{
		cfg:       cfg,
		mesh:      tm,
		builder:   b,
		cmds:      make(chan Command, cfg.CommandQueue),
		auto:      cfg.AutoConstellation,
		normalise: cfg.Normalise,
	}
	b.SetEventHandler(r)
	tm.SetObserver(b)
	r.publish(-1, time.Time{})
	return r
}

// SetRecorder attaches a journal. Call before Run.
func (r *Runner) SetRecorder(rec Recorder) { r.recorder = rec }

// SetCapturer enables the Capture command. Call before Run.
func (r *Runner) SetCapturer(c *source.Capturer) { r.capturer = c }

// Snapshot returns the state published after the last frame.
func (r *Runner) Snapshot() *Snapshot { return r.snap.Load() }

// Submit queues cmd without blocking.
func (r *Runner) Submit(cmd Command) error {
	select {
	case r.cmds <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// Do queues cmd and waits for it to run at the next frame boundary.
func (r *Runner) Do(ctx context.Context, cmd Command) (Result, error) {
	cmd.Reply = make(chan Result, 1)
	if err := r.Submit(cmd); err != nil {
		return Result{}, err
	}
	select {
	case res := <-cmd.Reply:
		return res, res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Run steps every frame from src until it is exhausted or ctx ends. With a
// frame interval set, frames are pulled on the clock's ticker.
func (r *Runner) Run(ctx context.Context, src source.Source) error {
	var tick <-chan time.Time
	if r.cfg.FrameInterval > 0 {
		t := r.cfg.Clock.NewTicker(r.cfg.FrameInterval)
		defer t.Stop()
		tick = t.C()
	}
	monitoring.Logf("[Pipeline] running (interval %v, retriangulate %s)", r.cfg.FrameInterval, r.cfg.Retriangulate)

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		}
		f, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			monitoring.Logf("[Pipeline] source exhausted")
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if err := r.Step(f); err != nil {
			return err
		}
	}
}

// Step processes one frame.
func (r *Runner) Step(f *source.Frame) error {
	img := f.Image
	if err := img.Validate(); err != nil {
		return fmt.Errorf("frame %d: %w", f.Index, err)
	}
	if r.normalise {
		img = source.Normalise(img)
	}
	r.width, r.height = img.Width, img.Height

	r.drain(img)

	if !r.paused {
		if err := r.mesh.Update(img); err != nil {
			return fmt.Errorf("track frame %d: %w", f.Index, err)
		}
		everyFrame := r.cfg.Retriangulate == config.RetriangulateEveryFrame
		if everyFrame {
			r.mesh.ReTriangulate()
		}
		if r.auto {
			if !everyFrame {
				r.mesh.ReTriangulate()
			}
			if _, o := r.builder.AddConstellation(); !o.OK() {
				monitoring.Debugf("[Pipeline] frame %d: auto constellation %s", f.Index, o)
			}
		}
	}

	r.publish(f.Index, f.Timestamp)

	if r.recorder != nil && r.cfg.JournalEvery > 0 && f.Index%int64(r.cfg.JournalEvery) == 0 {
		s := r.Snapshot()
		err := r.recorder.RecordFrame(journal.FrameStats{
			Index:          f.Index,
			Active:         s.Active,
			Stars:          s.Stars,
			MeshEdges:      len(s.MeshEdges),
			Constellations: len(s.Constellations),
			OffsetX:        s.OffsetX,
			OffsetY:        s.OffsetY,
		})
		if err != nil {
			monitoring.Logf("[Pipeline] journal frame %d: %v", f.Index, err)
		}
	}
	return nil
}

func (r *Runner) publish(frame int64, ts time.Time) {
	r.snap.Store(buildSnapshot(r.mesh, r.builder, frame, ts, r.width, r.height, r.auto, r.paused))
}

func (r *Runner) drain(img klt.Image) {
	for {
		select {
		case cmd := <-r.cmds:
			res := r.execute(cmd, img)
			if cmd.Reply != nil {
				select {
				case cmd.Reply <- res:
				default:
				}
			}
		default:
			return
		}
	}
}

func (r *Runner) execute(cmd Command, img klt.Image) Result {
	res := Result{Kind: cmd.Kind}
	switch cmd.Kind {
	case AddConstellation:
		r.mesh.ReTriangulate()
		c, o := r.builder.AddConstellationWithRetry(r.cfg.ConstellationRetries)
		res.Outcome = o
		if c != nil {
			res.Name = c.Name
		}
	case RemoveConstellation:
		if !r.builder.RemoveConstellationByName(cmd.Name) {
			res.Err = fmt.Errorf("%w: %q", ErrUnknownConstellation, cmd.Name)
		}
		res.Name = cmd.Name
	case ClearConstellations:
		r.builder.Clear()
	case ReTriangulate:
		r.mesh.ReTriangulate()
	case Zero:
		r.mesh.Zero()
	case Capture:
		if r.capturer == nil {
			res.Err = ErrNoCapturer
			break
		}
		res.Path, res.Err = r.capturer.Capture(img)
	case SetNumFeatures:
		r.mesh.SetNumFeatures(cmd.Min, cmd.Max)
	case ToggleAuto:
		r.auto = !r.auto
		res.State = r.auto
	case TogglePause:
		r.paused = !r.paused
		res.State = r.paused
	case ToggleNormalise:
		r.normalise = !r.normalise
		res.State = r.normalise
	default:
		res.Err = fmt.Errorf("pipeline: unknown command %v", cmd.Kind)
	}
	if res.Err != nil {
		monitoring.Logf("[Pipeline] %s failed: %v", cmd.Kind, res.Err)
	} else {
		monitoring.Debugf("[Pipeline] %s done", cmd.Kind)
	}
	return res
}

// ConstellationFormed implements heaven.EventHandler.
func (r *Runner) ConstellationFormed(c *heaven.Constellation) {
	monitoring.Logf("[Pipeline] constellation %s formed", c)
	if r.recorder != nil {
		r.recorder.ConstellationFormed(c)
	}
}

// ConstellationDissolved implements heaven.EventHandler.
func (r *Runner) ConstellationDissolved(c *heaven.Constellation, reason heaven.Reason) {
	monitoring.Logf("[Pipeline] constellation %q %s", c.Name, reason)
	if r.recorder != nil {
		r.recorder.ConstellationDissolved(c, reason)
	}
}
