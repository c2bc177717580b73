// Command sky-plot renders a sky snapshot to PNG, either fetched from a
// running starfield (-url) or produced by an offline synthetic run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/banshee-data/starfield/internal/config"
	"github.com/banshee-data/starfield/internal/httputil"
	"github.com/banshee-data/starfield/internal/monitoring"
	"github.com/banshee-data/starfield/internal/sky/heaven"
	"github.com/banshee-data/starfield/internal/sky/klt"
	"github.com/banshee-data/starfield/internal/sky/mesh"
	"github.com/banshee-data/starfield/internal/sky/pipeline"
	"github.com/banshee-data/starfield/internal/sky/skyplot"
	"github.com/banshee-data/starfield/internal/sky/source"
	"github.com/banshee-data/starfield/internal/sky/trackedmesh"
	"gonum.org/v1/plot/vg"
)

var (
	baseURL    = flag.String("url", "", "Base URL of a running starfield; empty runs offline")
	output     = flag.String("o", "sky.png", "Output PNG path")
	configPath = flag.String("config", "", "Tuning config for offline runs")
	frames     = flag.Int("frames", 120, "Offline frames to run")
	width      = flag.Int("width", 320, "Offline frame width")
	height     = flag.Int("height", 240, "Offline frame height")
	seed       = flag.Uint64("seed", 1, "Offline scene and walk seed")
	hideMesh   = flag.Bool("hide-mesh", false, "Omit Delaunay edges")
	sizeInches = flag.Float64("size", 8, "Plot width in inches (height is 3/4 of it)")
	timeout    = flag.Duration("timeout", 10*time.Second, "HTTP timeout for -url")
)

// fetchSnapshot reads /api/sky from a running server.
func fetchSnapshot(ctx context.Context, c httputil.HTTPClient, base string) (*pipeline.Snapshot, error) {
	var snap pipeline.Snapshot
	if err := httputil.GetJSON(ctx, c, strings.TrimRight(base, "/")+"/api/sky", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// simulate runs the synthetic scene for n frames with automatic
// constellation growth and returns the final snapshot.
func simulate(tuning *config.TuningConfig, n, w, h int, seed uint64) (*pipeline.Snapshot, error) {
	engine, err := klt.NewEngine(klt.ParamsFromTuning(tuning))
	if err != nil {
		return nil, err
	}
	tm := trackedmesh.New(engine, trackedmesh.ConfigFromTuning(tuning, mesh.Rect{MaxX: float64(w), MaxY: float64(h)}))
	b := heaven.New(tm, nil, heaven.ConfigFromTuning(tuning), rand.New(rand.NewPCG(seed, seed^0x9e3779b9)))

	pcfg := pipeline.ConfigFromTuning(tuning)
	pcfg.AutoConstellation = true
	pcfg.FrameInterval = 0
	r := pipeline.New(tm, b, pcfg)

	scfg := source.DefaultSyntheticConfig()
	scfg.Width, scfg.Height, scfg.Frames, scfg.Seed = w, h, int64(n), seed
	if err := r.Run(context.Background(), source.NewSynthetic(scfg)); err != nil {
		return nil, err
	}
	return r.Snapshot(), nil
}

func main() {
	flag.Parse()

	var (
		snap *pipeline.Snapshot
		err  error
	)
	if *baseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		snap, err = fetchSnapshot(ctx, httputil.HTTPClient(&http.Client{}), *baseURL)
	} else {
		monitoring.SetLogger(nil)
		tuning := config.EmptyTuningConfig()
		if *configPath != "" {
			if tuning, err = config.LoadTuningConfig(*configPath); err != nil {
				log.Fatalf("failed to load config: %v", err)
			}
		}
		snap, err = simulate(tuning, *frames, *width, *height, *seed)
	}
	if err != nil {
		log.Fatalf("failed to get snapshot: %v", err)
	}

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("failed to create %s: %v", *output, err)
	}
	w := vg.Length(*sizeInches) * vg.Inch
	opts := skyplot.Options{Width: w, Height: w * 3 / 4, HideMesh: *hideMesh}
	if err := skyplot.WritePNG(f, snap, opts); err != nil {
		f.Close()
		log.Fatalf("failed to render: %v", err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("failed to close %s: %v", *output, err)
	}
	fmt.Printf("wrote %s (frame %d, %d stars, %d constellations)\n", *output, snap.Frame, snap.Stars, len(snap.Constellations))
}
