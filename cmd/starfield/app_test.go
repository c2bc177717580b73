package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/starfield/internal/config"
	"github.com/banshee-data/starfield/internal/monitoring"
	"github.com/banshee-data/starfield/internal/sky/klt"
	"github.com/banshee-data/starfield/internal/sky/mesh"
	"github.com/banshee-data/starfield/internal/sky/source"
	"github.com/banshee-data/starfield/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

var epoch = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

func TestLoadTuning(t *testing.T) {
	cfg, err := loadTuning("")
	require.NoError(t, err)
	assert.Equal(t, config.RetriangulateOnDemand, cfg.GetRetriangulate())

	_, err = loadTuning(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, ":8090", *listen)
	assert.Equal(t, int64(0), *frames)
	assert.Empty(t, *dbFile)
	assert.False(t, *auto)
}

func TestNewRandDeterministic(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	a, b := newRand(42, clock), newRand(42, clock)
	for range 5 {
		assert.Equal(t, a.Uint64(), b.Uint64())
	}
}

func TestSyntheticRunJournals(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sky.db")
	tuning := config.EmptyTuningConfig()

	a, err := newApp(tuning, options{
		Frames: 40,
		Width:  96,
		Height: 96,
		DBPath: dbPath,
		Notes:  "synthetic",
		Auto:   true,
		Clock:  timeutil.NewMockClock(epoch),
	})
	require.NoError(t, err)
	defer a.close()
	require.Nil(t, a.server)

	require.NoError(t, a.run(context.Background()))

	snap := a.runner.Snapshot()
	assert.Equal(t, int64(39), snap.Frame)
	assert.Equal(t, 96, snap.Width)
	assert.True(t, snap.Auto)

	frames, err := a.journal.Frames(10)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, int64(30), frames[0].Index)
	assert.Equal(t, int64(0), frames[1].Index)
}

func TestPGMRun(t *testing.T) {
	dir := t.TempDir()
	syn := source.NewSynthetic(source.SyntheticConfig{Width: 64, Height: 48, Seed: 7})
	for i := range 3 {
		f, err := syn.Next(context.Background())
		require.NoError(t, err)
		out, err := os.Create(filepath.Join(dir, "frame"+string(rune('a'+i))+".pgm"))
		require.NoError(t, err)
		require.NoError(t, source.WritePGM(out, f.Image))
		require.NoError(t, out.Close())
	}

	a, err := newApp(config.EmptyTuningConfig(), options{
		PGMDir:     dir,
		CaptureDir: filepath.Join(t.TempDir(), "captures"),
		Listen:     "127.0.0.1:0",
		Clock:      timeutil.NewMockClock(epoch),
	})
	require.NoError(t, err)
	defer a.close()
	require.NotNil(t, a.server)
	assert.Nil(t, a.journal)

	// PGM runs keep the configured pacing, so drive the loop directly.
	for {
		f, err := a.src.Next(context.Background())
		if err != nil {
			break
		}
		require.NoError(t, a.runner.Step(f))
	}
	snap := a.runner.Snapshot()
	assert.Equal(t, int64(2), snap.Frame)
	assert.Equal(t, 64, snap.Width)
}

func TestOpenSourceBounds(t *testing.T) {
	dir := t.TempDir()
	img := klt.NewImage(64, 48)
	out, err := os.Create(filepath.Join(dir, "frame.pgm"))
	require.NoError(t, err)
	require.NoError(t, source.WritePGM(out, img))
	require.NoError(t, out.Close())

	src, bounds, err := openSource(options{PGMDir: dir})
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, mesh.Rect{MaxX: 64, MaxY: 48}, bounds)

	src, bounds, err = openSource(options{Width: 96, Height: 72, Frames: 1})
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, mesh.Rect{MaxX: 96, MaxY: 72}, bounds)
}

func TestNewAppBadNamesFile(t *testing.T) {
	tuning := config.EmptyTuningConfig()
	missing := filepath.Join(t.TempDir(), "names.txt")
	tuning.NamesFile = &missing

	_, err := newApp(tuning, options{Frames: 1, Clock: timeutil.NewMockClock(epoch)})
	assert.Error(t, err)
}
