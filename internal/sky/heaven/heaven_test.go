package heaven

import (
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/starfield/internal/sky/feature"
	"github.com/banshee-data/starfield/internal/sky/graph"
	"github.com/banshee-data/starfield/internal/timeutil"
)

// sky is an Adjacency whose neighbour lists are given directly, so a walk
// can be forced along a chosen route. Unlisted weights are 1.
type sky struct {
	next    map[feature.ID][]feature.ID
	weights map[feature.ID]int
}

func (s *sky) Neighbours(id feature.ID) []feature.ID { return s.next[id] }

func (s *sky) Weight(id feature.ID) int {
	if w, ok := s.weights[id]; ok {
		return w
	}
	return 1
}

// ring links ids in a directed cycle.
func ring(s *sky, ids ...feature.ID) {
	for i, id := range ids {
		s.next[id] = append(s.next[id], ids[(i+1)%len(ids)])
	}
}

func newSky() *sky {
	return &sky{next: map[feature.ID][]feature.ID{}, weights: map[feature.ID]int{}}
}

// lowSource makes every IntN return 0 and every Float64 return a value
// just above zero.
type lowSource struct{}

func (lowSource) Uint64() uint64 { return 1 << 32 }

type events struct {
	formed    []string
	dissolved []string
	reasons   []Reason
}

func (e *events) ConstellationFormed(c *Constellation) { e.formed = append(e.formed, c.Name) }

func (e *events) ConstellationDissolved(c *Constellation, r Reason) {
	e.dissolved = append(e.dissolved, c.Name)
	e.reasons = append(e.reasons, r)
}

func fixedConfig(minConst int, p float64) Config {
	return Config{
		MinConst:            minConst,
		ContinueProbability: p,
		SampleFactor:        10,
		Clock:               timeutil.NewMockClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
	}
}

func seeded(seed uint64) *rand.Rand { return rand.New(rand.NewPCG(seed, 99)) }

func addStars(b *Builder, ids ...feature.ID) {
	for _, id := range ids {
		b.AddStar(id)
	}
}

func TestOutcomeAndReasonStrings(t *testing.T) {
	t.Parallel()

	assert.True(t, Formed.OK())
	assert.False(t, NoStart.OK())
	assert.False(t, Stillborn.OK())
	assert.Equal(t, "formed", Formed.String())
	assert.Equal(t, "no start", NoStart.String())
	assert.Equal(t, "stillborn", Stillborn.String())
	assert.Equal(t, "Outcome(9)", Outcome(9).String())
	assert.Equal(t, "collapsed", Collapsed.String())
	assert.Equal(t, "cleared", Cleared.String())
	assert.Equal(t, "removed", Removed.String())
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	b := New(newSky(), nil, Config{ContinueProbability: 1.5}, seeded(1))
	cfg := b.Config()
	assert.Equal(t, DefaultMinConst, cfg.MinConst)
	assert.Equal(t, DefaultContinueProbability, cfg.ContinueProbability)
	assert.Equal(t, DefaultSampleFactor, cfg.SampleFactor)
	assert.NotNil(t, cfg.Clock)
}

func TestEmptyPoolHasNoStart(t *testing.T) {
	t.Parallel()

	b := New(newSky(), nil, DefaultConfig(), seeded(1))
	c, o := b.AddConstellation()
	assert.Nil(t, c)
	assert.Equal(t, NoStart, o)
}

func TestThreeStarWalkThenRemoveMiddle(t *testing.T) {
	t.Parallel()

	s := newSky()
	ring(s, 1, 2, 3)
	b := New(s, nil, fixedConfig(3, 0), seeded(3))
	ev := &events{}
	b.SetEventHandler(ev)
	addStars(b, 1, 2, 3)

	c, o := b.AddConstellation()
	require.Equal(t, Formed, o)
	require.NotNil(t, c)
	assert.Equal(t, [][2]feature.ID{{1, 2}, {1, 3}, {2, 3}}, c.Edges())
	assert.Equal(t, []feature.ID{1, 2, 3}, c.Stars())
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), c.Created)
	assert.NotEmpty(t, c.Name)
	assert.Equal(t, []string{c.Name}, ev.formed)
	for _, id := range []feature.ID{1, 2, 3} {
		assert.Same(t, c, b.ConstellationOf(id))
	}
	require.NoError(t, b.CheckInvariants())

	b.RemoveStar(2)
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.NamesInUse())
	assert.Nil(t, b.ConstellationOf(1))
	assert.Nil(t, b.ConstellationOf(3))
	assert.Equal(t, []feature.ID{1, 3}, b.Stars())
	assert.Equal(t, []string{c.Name}, ev.dissolved)
	assert.Equal(t, []Reason{Collapsed}, ev.reasons)
	require.NoError(t, b.CheckInvariants())
}

func TestEveryStarAssignedLeavesRegistryUnchanged(t *testing.T) {
	t.Parallel()

	s := newSky()
	ring(s, 1, 2, 3, 4)
	b := New(s, nil, fixedConfig(3, 0), seeded(4))
	addStars(b, 1, 2, 3, 4)

	// Any start on a four-ring walks three distinct edges.
	first, o := b.AddConstellation()
	require.Equal(t, Formed, o)
	assert.Equal(t, 3, first.EdgeCount())
	assert.Len(t, first.Stars(), 4)

	before := b.NamesInUse()
	for i := 0; i < 5; i++ {
		c, o := b.AddConstellation()
		assert.Nil(t, c)
		assert.Equal(t, NoStart, o)
	}
	assert.Equal(t, before, b.NamesInUse())
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, []feature.ID{1, 2, 3, 4}, first.Stars())
	require.NoError(t, b.CheckInvariants())
}

func TestStillbornIsUnwound(t *testing.T) {
	t.Parallel()

	s := newSky()
	s.next[1] = []feature.ID{2}
	b := New(s, nil, fixedConfig(3, 0), seeded(5))
	ev := &events{}
	b.SetEventHandler(ev)
	addStars(b, 1, 2)

	for i := 0; i < 10; i++ {
		c, o := b.AddConstellation()
		assert.Nil(t, c)
		assert.Equal(t, Stillborn, o)
	}
	assert.Equal(t, 0, b.Len())
	assert.Nil(t, b.ConstellationOf(1))
	assert.Nil(t, b.ConstellationOf(2))
	assert.Empty(t, ev.formed)
	assert.Empty(t, ev.dissolved)
}

func TestZeroWeightStopsWalk(t *testing.T) {
	t.Parallel()

	s := newSky()
	ring(s, 1, 2, 3)
	s.weights = map[feature.ID]int{1: 0, 2: 0, 3: 0}
	b := New(s, nil, fixedConfig(1, 0), seeded(6))
	addStars(b, 1, 2, 3)

	_, o := b.AddConstellation()
	assert.Equal(t, Stillborn, o)
}

func TestWalkSkipsForeignStars(t *testing.T) {
	t.Parallel()

	s := newSky()
	ring(s, 1, 2, 3)
	ring(s, 4, 5, 6)
	// 4 also sees 1, heavily weighted, but 1 will belong to another
	// constellation by then.
	s.next[4] = append(s.next[4], 1)
	s.weights[1] = 1000

	b := New(s, nil, fixedConfig(3, 0), seeded(7))
	addStars(b, 1, 2, 3)
	first, o := b.AddConstellation()
	require.Equal(t, Formed, o)

	addStars(b, 4, 5, 6)
	second, o := b.AddConstellation()
	require.Equal(t, Formed, o)
	assert.Equal(t, []feature.ID{4, 5, 6}, second.Stars())
	assert.False(t, second.Contains(1))
	assert.Same(t, first, b.ConstellationOf(1))
	assert.NotEqual(t, first.Name, second.Name)
	assert.NotEqual(t, first.ID, second.ID)
	require.NoError(t, b.CheckInvariants())
}

func TestWalkExtendsUntilDeadEnd(t *testing.T) {
	t.Parallel()

	// Every coin flip says continue, so the walk runs to the end of the
	// chain.
	s := newSky()
	s.next[1] = []feature.ID{2}
	s.next[2] = []feature.ID{3}
	s.next[3] = []feature.ID{4}
	b := New(s, nil, fixedConfig(1, 0.5), rand.New(lowSource{}))
	addStars(b, 1, 2, 3, 4)

	c, o := b.AddConstellation()
	require.Equal(t, Formed, o)
	assert.Equal(t, [][2]feature.ID{{1, 2}, {2, 3}, {3, 4}}, c.Edges())

	// Dropping 2 leaves 3-4; 1 has no edge left and is released.
	b.RemoveStar(2)
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, [][2]feature.ID{{3, 4}}, c.Edges())
	assert.Equal(t, []feature.ID{3, 4}, c.Stars())
	assert.Nil(t, b.ConstellationOf(1))
	assert.Same(t, c, b.ConstellationOf(3))
	require.NoError(t, b.CheckInvariants())
}

func TestRemoveUnassignedStarKeepsConstellation(t *testing.T) {
	t.Parallel()

	s := newSky()
	ring(s, 1, 2, 3)
	b := New(s, nil, fixedConfig(3, 0), seeded(8))
	addStars(b, 1, 2, 3)
	c, o := b.AddConstellation()
	require.Equal(t, Formed, o)

	b.AddStar(9)
	b.AddStar(9)
	assert.Equal(t, []feature.ID{1, 2, 3, 9}, b.Stars())
	b.RemoveStar(9)
	b.RemoveStar(42)
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, 3, c.EdgeCount())
}

func TestSelfEdgePanics(t *testing.T) {
	t.Parallel()

	s := newSky()
	s.next[1] = []feature.ID{1}
	b := New(s, nil, fixedConfig(1, 0), seeded(9))
	b.AddStar(1)
	assert.Panics(t, func() { b.AddConstellation() })
}

// fickleSky reports a neighbour once and then forgets it, so the edge
// check sees stars that are no longer adjacent.
type fickleSky struct {
	sky
	asked int
}

func (f *fickleSky) Neighbours(id feature.ID) []feature.ID {
	f.asked++
	if f.asked > 1 {
		return nil
	}
	return f.sky.Neighbours(id)
}

func TestNonAdjacentEdgePanics(t *testing.T) {
	t.Parallel()

	s := &fickleSky{sky: *newSky()}
	s.next[1] = []feature.ID{2}
	b := New(s, nil, fixedConfig(1, 0), rand.New(lowSource{}))
	addStars(b, 1, 2)
	assert.Panics(t, func() { b.AddConstellation() })
}

func TestNamesStayUnique(t *testing.T) {
	t.Parallel()

	names, err := ParseNames(strings.NewReader("Lyra\n"))
	require.NoError(t, err)

	s := newSky()
	ring(s, 1, 2, 3)
	ring(s, 4, 5, 6)
	ring(s, 7, 8, 9)
	b := New(s, names, fixedConfig(3, 0), seeded(10))
	addStars(b, 1, 2, 3, 4, 5, 6, 7, 8, 9)

	for i := 0; i < 3; i++ {
		_, o := b.AddConstellation()
		require.Equal(t, Formed, o)
	}
	assert.Equal(t, []string{"Lyra", "Lyra 2", "Lyra 3"}, b.NamesInUse())

	require.True(t, b.RemoveConstellationByName("Lyra 2"))
	assert.False(t, b.RemoveConstellationByName("Lyra 2"))
	assert.Nil(t, b.Constellation("Lyra 2"))

	_, o := b.AddConstellation()
	require.Equal(t, Formed, o)
	assert.Equal(t, []string{"Lyra", "Lyra 2", "Lyra 3"}, b.NamesInUse())
	require.NoError(t, b.CheckInvariants())
}

func TestRemoveConstellation(t *testing.T) {
	t.Parallel()

	s := newSky()
	ring(s, 1, 2, 3)
	b := New(s, nil, fixedConfig(3, 0), seeded(11))
	ev := &events{}
	b.SetEventHandler(ev)
	addStars(b, 1, 2, 3)
	c, _ := b.AddConstellation()
	require.NotNil(t, c)

	assert.False(t, b.RemoveConstellation(nil))
	require.True(t, b.RemoveConstellation(c))
	assert.False(t, b.RemoveConstellation(c))
	assert.Equal(t, 0, b.Len())
	for _, id := range []feature.ID{1, 2, 3} {
		assert.Nil(t, b.ConstellationOf(id))
	}
	assert.Equal(t, []Reason{Removed}, ev.reasons)
	assert.Equal(t, []feature.ID{1, 2, 3}, b.Stars(), "stars stay in the pool")
}

func TestClearAndRetry(t *testing.T) {
	t.Parallel()

	s := newSky()
	ring(s, 1, 2, 3)
	b := New(s, nil, fixedConfig(3, 0), seeded(12))
	ev := &events{}
	b.SetEventHandler(ev)
	addStars(b, 1, 2, 3)

	first, o := b.AddConstellationWithRetry(4)
	require.Equal(t, Formed, o)
	assert.Empty(t, ev.dissolved, "formed on the first attempt")

	// Every star is taken, so the retries fail and the reset frees them.
	second, o := b.AddConstellationWithRetry(4)
	require.Equal(t, Formed, o)
	assert.Equal(t, []string{first.Name}, ev.dissolved)
	assert.Equal(t, []Reason{Cleared}, ev.reasons)
	assert.Equal(t, []string{first.Name, second.Name}, ev.formed)
	assert.Equal(t, 1, b.Len())
	assert.Same(t, second, b.ConstellationOf(1))

	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, []feature.ID{1, 2, 3}, b.Stars())
}

func TestConstellationsOrderedByName(t *testing.T) {
	t.Parallel()

	names, err := ParseNames(strings.NewReader("Vela\nAries\nLeo\n"))
	require.NoError(t, err)
	s := newSky()
	ring(s, 1, 2, 3)
	ring(s, 4, 5, 6)
	ring(s, 7, 8, 9)
	b := New(s, names, fixedConfig(3, 0), seeded(13))
	addStars(b, 1, 2, 3, 4, 5, 6, 7, 8, 9)
	for i := 0; i < 3; i++ {
		_, o := b.AddConstellation()
		require.Equal(t, Formed, o)
	}

	var got []string
	for _, c := range b.Constellations() {
		got = append(got, c.Name)
	}
	assert.Equal(t, []string{"Aries", "Leo", "Vela"}, got)
}

// meshSky is an undirected grid, the shape a real triangulation gives.
type meshSky struct {
	g       *graph.Graph[feature.ID]
	weights map[feature.ID]int
}

func (m *meshSky) Neighbours(id feature.ID) []feature.ID { return m.g.Neighbours(id) }
func (m *meshSky) Weight(id feature.ID) int              { return m.weights[id] }

func gridSky(n int, r *rand.Rand) *meshSky {
	m := &meshSky{g: graph.New[feature.ID](), weights: map[feature.ID]int{}}
	id := func(x, y int) feature.ID { return feature.ID(y*n + x + 1) }
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			m.weights[id(x, y)] = r.IntN(50)
			if x+1 < n {
				m.g.Insert(id(x, y), id(x+1, y))
			}
			if y+1 < n {
				m.g.Insert(id(x, y), id(x, y+1))
			}
			if x+1 < n && y+1 < n {
				m.g.Insert(id(x, y), id(x+1, y+1))
			}
		}
	}
	return m
}

func TestRandomisedRegistryInvariants(t *testing.T) {
	t.Parallel()

	r := seeded(14)
	m := gridSky(8, r)
	b := New(m, nil, DefaultConfig(), seeded(15))
	for _, v := range m.g.Vertices() {
		b.AddStar(v)
	}

	for round := 0; round < 200; round++ {
		switch r.IntN(6) {
		case 0:
			pool := b.Stars()
			if len(pool) > 0 {
				b.RemoveStar(pool[r.IntN(len(pool))])
			}
		case 1:
			if cs := b.Constellations(); len(cs) > 0 {
				b.RemoveConstellation(cs[r.IntN(len(cs))])
			}
		default:
			c, o := b.AddConstellation()
			if o.OK() {
				for _, e := range c.Edges() {
					assert.True(t, m.g.Has(e[0], e[1]), "edge %v not in mesh", e)
				}
			}
		}
		require.NoError(t, b.CheckInvariants(), "round %d", round)
		names := b.NamesInUse()
		assert.Len(t, names, b.Len())
	}
}
