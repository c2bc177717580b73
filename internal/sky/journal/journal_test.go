package journal

import (
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/starfield/internal/monitoring"
	"github.com/banshee-data/starfield/internal/sky/feature"
	"github.com/banshee-data/starfield/internal/sky/heaven"
	"github.com/banshee-data/starfield/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

var epoch = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func openTestJournal(t *testing.T) (*Journal, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(epoch)
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), clock)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j, clock
}

// triangle is a fixed adjacency over stars 1, 2 and 3.
type triangle struct{}

func (triangle) Neighbours(id feature.ID) []feature.ID {
	return map[feature.ID][]feature.ID{1: {2}, 2: {3}, 3: {1}}[id]
}
func (triangle) Weight(feature.ID) int { return 1 }

func TestOpenMigratesToLatest(t *testing.T) {
	t.Parallel()

	j, _ := openTestJournal(t)
	v, dirty, err := j.MigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.False(t, dirty)
}

func TestReopenIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = Open(path, nil)
	require.NoError(t, err)
	defer j.Close()
	v, _, err := j.MigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
}

func TestWritesNeedSession(t *testing.T) {
	t.Parallel()

	j, _ := openTestJournal(t)
	assert.Empty(t, j.Session())
	assert.ErrorIs(t, j.RecordFrame(FrameStats{Index: 1}), ErrNoSession)
	_, err := j.Frames(10)
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = j.Constellations(10)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRecordFrames(t *testing.T) {
	t.Parallel()

	j, clock := openTestJournal(t)
	id, err := j.StartSession("unit test")
	require.NoError(t, err)
	assert.Equal(t, id, j.Session())

	for i := int64(0); i < 5; i++ {
		require.NoError(t, j.RecordFrame(FrameStats{
			Index:   i * 30,
			Active:  40 + int(i),
			Stars:   20,
			OffsetX: float64(i),
			OffsetY: -float64(i),
		}))
		clock.Advance(time.Second)
	}

	frames, err := j.Frames(3)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, int64(120), frames[0].Index)
	assert.Equal(t, 44, frames[0].Active)
	assert.Equal(t, 4.0, frames[0].OffsetX)
	assert.Equal(t, -4.0, frames[0].OffsetY)
	assert.Equal(t, id, frames[0].SessionID)
	assert.Equal(t, epoch.Add(4*time.Second), frames[0].RecordedAt)
	assert.Equal(t, int64(60), frames[2].Index)
}

func TestNewSessionHidesOldFrames(t *testing.T) {
	t.Parallel()

	j, _ := openTestJournal(t)
	_, err := j.StartSession("first")
	require.NoError(t, err)
	require.NoError(t, j.RecordFrame(FrameStats{Index: 1}))

	_, err = j.StartSession("second")
	require.NoError(t, err)
	frames, err := j.Frames(0)
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestConstellationLifecycle(t *testing.T) {
	t.Parallel()

	j, clock := openTestJournal(t)
	_, err := j.StartSession("")
	require.NoError(t, err)

	cfg := heaven.Config{MinConst: 3, ContinueProbability: 0, SampleFactor: 10, Clock: clock}
	b := heaven.New(triangle{}, nil, cfg, rand.New(rand.NewPCG(1, 2)))
	b.SetEventHandler(j)
	for _, id := range []feature.ID{1, 2, 3} {
		b.AddStar(id)
	}

	c, o := b.AddConstellation()
	require.Equal(t, heaven.Formed, o)

	recs, err := j.Constellations(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, c.ID.String(), recs[0].ID)
	assert.Equal(t, c.Name, recs[0].Name)
	assert.Equal(t, 3, recs[0].StarCount)
	assert.Equal(t, 3, recs[0].EdgeCount)
	assert.Equal(t, [][2]feature.ID{{1, 2}, {1, 3}, {2, 3}}, recs[0].Edges)
	assert.Equal(t, epoch, recs[0].FormedAt)
	assert.Nil(t, recs[0].DissolvedAt)

	clock.Advance(time.Minute)
	b.RemoveStar(2)

	recs, err = j.Constellations(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].DissolvedAt)
	assert.Equal(t, epoch.Add(time.Minute), *recs[0].DissolvedAt)
	assert.Equal(t, "collapsed", recs[0].Reason)
}
