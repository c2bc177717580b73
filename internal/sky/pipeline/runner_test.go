package pipeline

import (
	"context"
	"math/rand/v2"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/starfield/internal/config"
	"github.com/banshee-data/starfield/internal/monitoring"
	"github.com/banshee-data/starfield/internal/sky/feature"
	"github.com/banshee-data/starfield/internal/sky/heaven"
	"github.com/banshee-data/starfield/internal/sky/journal"
	"github.com/banshee-data/starfield/internal/sky/klt"
	"github.com/banshee-data/starfield/internal/sky/source"
	"github.com/banshee-data/starfield/internal/sky/trackedmesh"
	"github.com/banshee-data/starfield/internal/sky/tracker"
	"github.com/banshee-data/starfield/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

// gridEngine selects a jittered 4x4 grid and keeps every point alive
// where it is.
type gridEngine struct{}

func (gridEngine) SelectGoodFeatures(_ klt.Image, slots []klt.Slot) error {
	r := rand.New(rand.NewPCG(3, 3))
	for i := range slots {
		if i >= 16 {
			slots[i] = klt.Slot{X: -1, Y: -1, Val: klt.NotFound}
			continue
		}
		slots[i] = klt.Slot{
			X:   float32(20+40*(i%4)) + r.Float32()*6,
			Y:   float32(20+40*(i/4)) + r.Float32()*6,
			Val: 5 + i,
		}
	}
	return nil
}

func (gridEngine) TrackFeatures(_, _ klt.Image, slots []klt.Slot) error {
	for i := range slots {
		if slots[i].Val >= 0 {
			slots[i].Val = klt.Tracked
		}
	}
	return nil
}

func (gridEngine) ReplaceLostFeatures(klt.Image, []klt.Slot) error { return nil }

func (gridEngine) CountRemaining(slots []klt.Slot) int {
	n := 0
	for _, s := range slots {
		if s.Val >= 0 {
			n++
		}
	}
	return n
}

type recorder struct {
	frames    []int64
	formed    []string
	dissolved []heaven.Reason
}

func (r *recorder) RecordFrame(s journal.FrameStats) error {
	r.frames = append(r.frames, s.Index)
	return nil
}
func (r *recorder) ConstellationFormed(c *heaven.Constellation) { r.formed = append(r.formed, c.Name) }
func (r *recorder) ConstellationDissolved(_ *heaven.Constellation, reason heaven.Reason) {
	r.dissolved = append(r.dissolved, reason)
}

func newRunner(t *testing.T, cfg Config) *Runner {
	t.Helper()
	tm := trackedmesh.New(gridEngine{}, trackedmesh.Config{
		Tracker: tracker.Config{MinFeatures: 0, MaxFeatures: 20, Adulthood: 1},
		Bounds:  trackedmesh.DefaultBounds,
	})
	b := heaven.New(tm, nil, heaven.Config{MinConst: 3, ContinueProbability: 0.8, SampleFactor: 10}, rand.New(rand.NewPCG(9, 9)))
	if cfg.ConstellationRetries == 0 {
		cfg.ConstellationRetries = 10
	}
	return New(tm, b, cfg)
}

func frame(i int64) *source.Frame {
	return &source.Frame{Index: i, Image: klt.NewImage(200, 200), Timestamp: time.Unix(i, 0).UTC()}
}

func stepN(t *testing.T, r *Runner, from, n int64) {
	t.Helper()
	for i := from; i < from+n; i++ {
		require.NoError(t, r.Step(frame(i)))
	}
}

func TestInitialSnapshot(t *testing.T) {
	t.Parallel()

	r := newRunner(t, Config{})
	s := r.Snapshot()
	require.NotNil(t, s)
	assert.Equal(t, int64(-1), s.Frame)
	assert.Empty(t, s.Features)
	assert.Empty(t, s.Constellations)
}

func TestStepPublishesSnapshot(t *testing.T) {
	t.Parallel()

	r := newRunner(t, Config{})
	stepN(t, r, 0, 3)

	s := r.Snapshot()
	assert.Equal(t, int64(2), s.Frame)
	assert.Equal(t, time.Unix(2, 0).UTC(), s.Timestamp)
	assert.Equal(t, 200, s.Width)
	assert.Equal(t, 16, s.Active)
	assert.Equal(t, 16, s.Stars)
	require.Len(t, s.Features, 16)
	for _, f := range s.Features {
		assert.Equal(t, feature.StateMature, f.State)
		assert.True(t, f.Star)
	}
	assert.NotEmpty(t, s.MeshEdges)

	// Published snapshots are not touched by later frames.
	before := *s
	stepN(t, r, 3, 1)
	assert.Equal(t, int64(2), before.Frame)
	assert.Equal(t, int64(3), r.Snapshot().Frame)
}

func TestAddConstellationCommand(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	r := newRunner(t, Config{})
	r.SetRecorder(rec)
	stepN(t, r, 0, 3)

	reply := make(chan Result, 1)
	require.NoError(t, r.Submit(Command{Kind: AddConstellation, Reply: reply}))
	stepN(t, r, 3, 1)

	res := <-reply
	require.NoError(t, res.Err)
	require.Equal(t, heaven.Formed, res.Outcome)
	require.NotEmpty(t, res.Name)
	assert.Equal(t, []string{res.Name}, rec.formed)

	s := r.Snapshot()
	cv := s.Constellation(res.Name)
	require.NotNil(t, cv)
	assert.GreaterOrEqual(t, len(cv.Edges), 3)
	for _, e := range cv.Edges {
		assert.NotEqual(t, e.A, e.B)
		assert.False(t, e.X1 == 0 && e.Y1 == 0, "edge endpoints carry coordinates")
	}

	reply = make(chan Result, 1)
	require.NoError(t, r.Submit(Command{Kind: RemoveConstellation, Name: res.Name, Reply: reply}))
	require.NoError(t, r.Submit(Command{Kind: RemoveConstellation, Name: "Nowhere", Reply: make(chan Result, 1)}))
	stepN(t, r, 4, 1)
	require.NoError(t, (<-reply).Err)
	assert.Nil(t, r.Snapshot().Constellation(res.Name))
	assert.Equal(t, []heaven.Reason{heaven.Removed}, rec.dissolved)
}

func TestRemoveUnknownConstellation(t *testing.T) {
	t.Parallel()

	r := newRunner(t, Config{})
	reply := make(chan Result, 1)
	require.NoError(t, r.Submit(Command{Kind: RemoveConstellation, Name: "Nowhere", Reply: reply}))
	stepN(t, r, 0, 1)
	assert.ErrorIs(t, (<-reply).Err, ErrUnknownConstellation)
}

func TestSubmitQueueFull(t *testing.T) {
	t.Parallel()

	r := newRunner(t, Config{CommandQueue: 1})
	require.NoError(t, r.Submit(Command{Kind: Zero}))
	assert.ErrorIs(t, r.Submit(Command{Kind: Zero}), ErrQueueFull)
	_, err := r.Do(context.Background(), Command{Kind: Zero})
	assert.ErrorIs(t, err, ErrQueueFull)

	stepN(t, r, 0, 1)
	assert.NoError(t, r.Submit(Command{Kind: Zero}))
}

func TestDoHonoursContext(t *testing.T) {
	t.Parallel()

	r := newRunner(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.Do(ctx, Command{Kind: ReTriangulate})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCaptureCommand(t *testing.T) {
	t.Parallel()

	r := newRunner(t, Config{})
	reply := make(chan Result, 1)
	require.NoError(t, r.Submit(Command{Kind: Capture, Reply: reply}))
	stepN(t, r, 0, 1)
	assert.ErrorIs(t, (<-reply).Err, ErrNoCapturer)

	c, err := source.NewCapturer(t.TempDir())
	require.NoError(t, err)
	r.SetCapturer(c)
	reply = make(chan Result, 1)
	require.NoError(t, r.Submit(Command{Kind: Capture, Reply: reply}))
	stepN(t, r, 1, 1)
	res := <-reply
	require.NoError(t, res.Err)
	img, err := source.LoadPGM(res.Path)
	require.NoError(t, err)
	assert.Equal(t, 200, img.Width)
}

func TestTogglesAndPause(t *testing.T) {
	t.Parallel()

	r := newRunner(t, Config{})
	stepN(t, r, 0, 1)

	reply := make(chan Result, 3)
	require.NoError(t, r.Submit(Command{Kind: TogglePause, Reply: reply}))
	stepN(t, r, 1, 1)
	res := <-reply
	assert.True(t, res.State)
	s := r.Snapshot()
	assert.True(t, s.Paused)
	// The tracker did not run: features are still new after one update.
	for _, f := range s.Features {
		assert.Equal(t, feature.StateNew, f.State)
	}

	require.NoError(t, r.Submit(Command{Kind: TogglePause, Reply: reply}))
	require.NoError(t, r.Submit(Command{Kind: ToggleAuto, Reply: reply}))
	require.NoError(t, r.Submit(Command{Kind: ToggleNormalise, Reply: reply}))
	stepN(t, r, 2, 1)
	assert.False(t, (<-reply).State)
	assert.True(t, (<-reply).State)
	assert.True(t, (<-reply).State)
	assert.True(t, r.Snapshot().Auto)
}

func TestSetNumFeaturesCommand(t *testing.T) {
	t.Parallel()

	r := newRunner(t, Config{})
	stepN(t, r, 0, 3)
	require.Equal(t, 16, r.Snapshot().Stars)

	reply := make(chan Result, 1)
	require.NoError(t, r.Submit(Command{Kind: SetNumFeatures, Min: 2, Max: 8, Reply: reply}))
	stepN(t, r, 3, 1)
	require.NoError(t, (<-reply).Err)

	// Resizing drops every feature; the same frame selects afresh.
	s := r.Snapshot()
	assert.Equal(t, 8, s.Active)
	assert.Zero(t, s.Stars)
	assert.Empty(t, s.MeshEdges)
	for _, f := range s.Features {
		assert.Equal(t, feature.StateNew, f.State)
	}
}

func TestAutoConstellation(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	r := newRunner(t, Config{AutoConstellation: true, JournalEvery: 2})
	r.SetRecorder(rec)
	stepN(t, r, 0, 20)

	s := r.Snapshot()
	assert.True(t, s.Auto)
	assert.NotEmpty(t, s.Constellations)
	assert.NotEmpty(t, rec.formed)
	assert.Equal(t, []int64{0, 2, 4, 6, 8, 10, 12, 14, 16, 18}, rec.frames)

	seen := map[feature.ID]string{}
	for _, c := range s.Constellations {
		for _, id := range c.Stars {
			other, dup := seen[id]
			assert.False(t, dup, "star %d in %q and %q", id, other, c.Name)
			seen[id] = c.Name
		}
	}
}

func TestEveryFrameRetriangulation(t *testing.T) {
	t.Parallel()

	a := newRunner(t, Config{Retriangulate: config.RetriangulateEveryFrame})
	b := newRunner(t, Config{})
	stepN(t, a, 0, 4)
	stepN(t, b, 0, 4)

	// Nothing moves, so the rebuilt mesh matches the incremental one.
	if diff := cmp.Diff(b.Snapshot().MeshEdges, a.Snapshot().MeshEdges, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("mesh differs (-incremental +rebuilt):\n%s", diff)
	}
}

func TestRunStopsAtEOF(t *testing.T) {
	t.Parallel()

	cfg := source.DefaultSyntheticConfig()
	cfg.Width, cfg.Height, cfg.Frames = 96, 96, 4
	r := newRunner(t, Config{})
	require.NoError(t, r.Run(context.Background(), source.NewSynthetic(cfg)))
	assert.Equal(t, int64(3), r.Snapshot().Frame)
}

func TestRunPacedByClock(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	r := newRunner(t, Config{FrameInterval: 40 * time.Millisecond, Clock: clock})
	cfg := source.DefaultSyntheticConfig()
	cfg.Width, cfg.Height = 96, 96
	cfg.Clock = clock

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, source.NewSynthetic(cfg)) }()

	assert.Equal(t, int64(-1), r.Snapshot().Frame, "no frame before the first tick")
	require.Eventually(t, func() bool { return clock.Tickers() == 1 }, 5*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		clock.Advance(40 * time.Millisecond)
		return r.Snapshot().Frame >= 2
	}, 5*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestConfigFromTuning(t *testing.T) {
	t.Parallel()

	cfg := ConfigFromTuning(config.EmptyTuningConfig())
	assert.Equal(t, config.RetriangulateOnDemand, cfg.Retriangulate)
	assert.Equal(t, 30, cfg.JournalEvery)
	assert.Equal(t, 16, cfg.CommandQueue)
	assert.Equal(t, 33*time.Millisecond, cfg.FrameInterval)
	assert.Equal(t, "retriangulate", ReTriangulate.String())
	assert.Equal(t, "CommandKind(99)", CommandKind(99).String())
}
