// Command starfield tracks salient points in a frame stream, meshes the
// mature ones and grows named constellations over the mesh.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/banshee-data/starfield/internal/config"
	"github.com/banshee-data/starfield/internal/monitoring"
	"github.com/banshee-data/starfield/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a tuning config JSON file (default: built-in defaults)")
	listen      = flag.String("listen", ":8090", "HTTP listen address; empty disables the API")
	pgmDir      = flag.String("pgm-dir", "", "Read frames from *.pgm files in this directory instead of the synthetic scene")
	loop        = flag.Bool("loop", false, "Restart the PGM sequence when it ends")
	frames      = flag.Int64("frames", 0, "Number of synthetic frames to run (0 runs forever)")
	width       = flag.Int("width", 320, "Synthetic frame width")
	height      = flag.Int("height", 240, "Synthetic frame height")
	dbFile      = flag.String("db", "", "Path to the SQLite journal; empty disables journalling")
	captureDir  = flag.String("capture-dir", "", "Directory for frame captures; empty disables capture")
	notes       = flag.String("notes", "", "Free-text notes stored with the journal session")
	auto        = flag.Bool("auto", false, "Grow a constellation every frame (overrides the config)")
	debug       = flag.Bool("debug", false, "Log per-frame diagnostics")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.EmptyTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *debug {
		monitoring.EnableDebug()
	}

	tuning, err := loadTuning(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	a, err := newApp(tuning, options{
		Listen:     *listen,
		PGMDir:     *pgmDir,
		Loop:       *loop,
		Frames:     *frames,
		Width:      *width,
		Height:     *height,
		DBPath:     *dbFile,
		CaptureDir: *captureDir,
		Notes:      *notes,
		Auto:       *auto,
	})
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("%s starting", version.String())
	if err := a.run(ctx); err != nil {
		log.Printf("frame loop failed: %v", err)
	}
}
