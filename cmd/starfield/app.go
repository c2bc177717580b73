package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/banshee-data/starfield/internal/config"
	"github.com/banshee-data/starfield/internal/monitoring"
	"github.com/banshee-data/starfield/internal/sky/heaven"
	"github.com/banshee-data/starfield/internal/sky/journal"
	"github.com/banshee-data/starfield/internal/sky/klt"
	"github.com/banshee-data/starfield/internal/sky/mesh"
	"github.com/banshee-data/starfield/internal/sky/monitor"
	"github.com/banshee-data/starfield/internal/sky/pipeline"
	"github.com/banshee-data/starfield/internal/sky/source"
	"github.com/banshee-data/starfield/internal/sky/trackedmesh"
	"github.com/banshee-data/starfield/internal/timeutil"
)

// options are the command-line settings that are not tuning parameters.
type options struct {
	Listen     string
	PGMDir     string
	Loop       bool
	Frames     int64
	Width      int
	Height     int
	DBPath     string
	CaptureDir string
	Notes      string
	Auto       bool
	Clock      timeutil.Clock
}

// app is a fully wired frame loop.
type app struct {
	runner  *pipeline.Runner
	src     source.Source
	journal *journal.Journal
	server  *monitor.Server
	clock   timeutil.Clock
}

// newApp wires the engine, tracked mesh, constellation builder, runner and
// the optional journal, capturer and HTTP server.
func newApp(tuning *config.TuningConfig, o options) (*app, error) {
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}

	engine, err := klt.NewEngine(klt.ParamsFromTuning(tuning))
	if err != nil {
		return nil, fmt.Errorf("klt engine: %w", err)
	}

	src, bounds, err := openSource(o)
	if err != nil {
		return nil, err
	}
	a := &app{src: src, clock: o.Clock}

	tm := trackedmesh.New(engine, trackedmesh.ConfigFromTuning(tuning, bounds))

	names := heaven.DefaultNames()
	if path := tuning.GetNamesFile(); path != "" {
		if names, err = heaven.LoadNames(path); err != nil {
			a.close()
			return nil, err
		}
	}
	hcfg := heaven.ConfigFromTuning(tuning)
	hcfg.Clock = o.Clock
	builder := heaven.New(tm, names, hcfg, newRand(tuning.GetSeed(), o.Clock))

	pcfg := pipeline.ConfigFromTuning(tuning)
	pcfg.Clock = o.Clock
	pcfg.AutoConstellation = pcfg.AutoConstellation || o.Auto
	if o.PGMDir == "" && o.Frames > 0 {
		// A finite synthetic run is a batch job: no pacing.
		pcfg.FrameInterval = 0
	}
	a.runner = pipeline.New(tm, builder, pcfg)

	if o.DBPath != "" {
		j, err := journal.Open(o.DBPath, o.Clock)
		if err != nil {
			a.close()
			return nil, err
		}
		a.journal = j
		if _, err := j.StartSession(o.Notes); err != nil {
			a.close()
			return nil, err
		}
		a.runner.SetRecorder(j)
	}

	if o.CaptureDir != "" {
		c, err := source.NewCapturer(o.CaptureDir)
		if err != nil {
			a.close()
			return nil, err
		}
		a.runner.SetCapturer(c)
	}

	if o.Listen != "" {
		mcfg := monitor.Config{Address: o.Listen, Runner: a.runner, Clock: o.Clock}
		if a.journal != nil {
			mcfg.Journal = a.journal
		}
		a.server = monitor.NewServer(mcfg)
	}
	return a, nil
}

// openSource picks the PGM directory when one is given, else the
// synthetic scene, and reports the mesh extent to use.
func openSource(o options) (source.Source, mesh.Rect, error) {
	if o.PGMDir != "" {
		seq, err := source.NewPGMSequence(o.PGMDir, o.Loop, o.Clock)
		if err != nil {
			return nil, mesh.Rect{}, err
		}
		w, h, err := seq.FrameSize()
		if err != nil {
			return nil, mesh.Rect{}, err
		}
		return seq, mesh.Rect{MaxX: float64(w), MaxY: float64(h)}, nil
	}
	cfg := source.DefaultSyntheticConfig()
	if o.Width > 0 && o.Height > 0 {
		cfg.Width, cfg.Height = o.Width, o.Height
	}
	cfg.Frames = o.Frames
	cfg.Clock = o.Clock
	bounds := mesh.Rect{MaxX: float64(cfg.Width), MaxY: float64(cfg.Height)}
	return source.NewSynthetic(cfg), bounds, nil
}

// newRand seeds from the clock when seed is zero.
func newRand(seed int64, clock timeutil.Clock) *rand.Rand {
	s := uint64(seed)
	if seed == 0 {
		s = uint64(clock.Now().UnixNano())
	}
	monitoring.Logf("constellation seed %d", s)
	return rand.New(rand.NewPCG(s, s>>32|1))
}

// run drives the frame loop and, if configured, the HTTP server until the
// source is exhausted or ctx is cancelled.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if a.server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.server.Start(ctx); err != nil {
				monitoring.Logf("HTTP server: %v", err)
			}
		}()
	}

	start := a.clock.Now()
	err := a.runner.Run(ctx, a.src)
	snap := a.runner.Snapshot()
	monitoring.Logf("frame loop stopped after frame %d in %v: %d stars, %d constellations",
		snap.Frame, a.clock.Since(start).Round(time.Millisecond), snap.Stars, len(snap.Constellations))

	cancel()
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) close() {
	if a.src != nil {
		if err := a.src.Close(); err != nil {
			monitoring.Logf("close source: %v", err)
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			monitoring.Logf("close journal: %v", err)
		}
	}
}
