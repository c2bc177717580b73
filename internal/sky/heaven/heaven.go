// Package heaven grows named constellations over the star mesh.
//
// A constellation is a random walk across mesh adjacency, drawn in
// proportion to star weight. Each star belongs to at most one
// constellation, every registered constellation has at least MinConst
// edges, and no two registered constellations share a name.
package heaven

import (
	"cmp"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/starfield/internal/config"
	"github.com/banshee-data/starfield/internal/monitoring"
	"github.com/banshee-data/starfield/internal/sky/feature"
	"github.com/banshee-data/starfield/internal/sky/graph"
	"github.com/banshee-data/starfield/internal/sky/weighted"
	"github.com/banshee-data/starfield/internal/timeutil"
)

// Defaults for Config.
const (
	DefaultMinConst            = 3
	DefaultContinueProbability = 0.8
	DefaultSampleFactor        = 2
)

// Adjacency is the view of the mesh the walk needs.
type Adjacency interface {
	Neighbours(id feature.ID) []feature.ID
	Weight(id feature.ID) int
}

// Config controls constellation growth.
type Config struct {
	// MinConst is the minimum edge count of a registered constellation,
	// and the number of steps taken before the walk may stop.
	MinConst int
	// ContinueProbability is the chance of taking another step once
	// MinConst steps have been taken. Must be in [0, 1).
	ContinueProbability float64
	// SampleFactor times the pool size is the number of random draws
	// spent looking for an unassigned start star.
	SampleFactor int
	// Clock stamps Constellation.Created. Nil means the real clock.
	Clock timeutil.Clock
}

// DefaultConfig returns the stock growth parameters.
func DefaultConfig() Config {
	return Config{
		MinConst:            DefaultMinConst,
		ContinueProbability: DefaultContinueProbability,
		SampleFactor:        DefaultSampleFactor,
		Clock:               timeutil.RealClock{},
	}
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	c := DefaultConfig()
	c.MinConst = cfg.GetMinConstellation()
	c.ContinueProbability = cfg.GetContinueProbability()
	return c
}

func (c Config) withDefaults() Config {
	if c.MinConst < 1 {
		c.MinConst = DefaultMinConst
	}
	if c.ContinueProbability < 0 || c.ContinueProbability >= 1 {
		c.ContinueProbability = DefaultContinueProbability
	}
	if c.SampleFactor < 1 {
		c.SampleFactor = DefaultSampleFactor
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
	return c
}

// Outcome is the result of one AddConstellation attempt.
type Outcome int

const (
	// Formed means a constellation was registered.
	Formed Outcome = iota
	// NoStart means no unassigned star was found within the sample budget.
	NoStart
	// Stillborn means the walk ended with fewer than MinConst edges.
	Stillborn
)

// OK reports whether a constellation was registered.
func (o Outcome) OK() bool { return o == Formed }

func (o Outcome) String() string {
	switch o {
	case Formed:
		return "formed"
	case NoStart:
		return "no start"
	case Stillborn:
		return "stillborn"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Reason says why a constellation left the registry.
type Reason int

const (
	// Removed by an explicit RemoveConstellation.
	Removed Reason = iota
	// Cleared along with every other constellation.
	Cleared
	// Collapsed after a star departure left it below MinConst edges.
	Collapsed
)

func (r Reason) String() string {
	switch r {
	case Removed:
		return "removed"
	case Cleared:
		return "cleared"
	case Collapsed:
		return "collapsed"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// EventHandler observes the registry. Calls happen synchronously on the
// goroutine driving the Builder.
type EventHandler interface {
	ConstellationFormed(c *Constellation)
	ConstellationDissolved(c *Constellation, reason Reason)
}

type nopHandler struct{}

func (nopHandler) ConstellationFormed(*Constellation)            {}
func (nopHandler) ConstellationDissolved(*Constellation, Reason) {}

// Constellation is a named set of star pairs.
type Constellation struct {
	ID      uuid.UUID
	Name    string
	Created time.Time

	edges   *graph.Graph[feature.ID]
	members map[feature.ID]struct{}
}

func newConstellation(name string, created time.Time) *Constellation {
	return &Constellation{
		ID:      uuid.New(),
		Name:    name,
		Created: created,
		edges:   graph.New[feature.ID](),
		members: make(map[feature.ID]struct{}),
	}
}

// Edges returns each star pair once as {lo, hi}, sorted.
func (c *Constellation) Edges() [][2]feature.ID { return c.edges.Edges() }

// EdgeCount returns the number of distinct star pairs.
func (c *Constellation) EdgeCount() int { return c.edges.EdgeCount() }

// Stars returns the member stars in ascending order.
func (c *Constellation) Stars() []feature.ID {
	out := make([]feature.ID, 0, len(c.members))
	for id := range c.members {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Has reports whether a-b is one of the constellation's edges.
func (c *Constellation) Has(a, b feature.ID) bool { return c.edges.Has(a, b) }

// Contains reports whether id is a member star.
func (c *Constellation) Contains(id feature.ID) bool {
	_, ok := c.members[id]
	return ok
}

func (c *Constellation) String() string {
	return fmt.Sprintf("%q (%d stars, %d edges)", c.Name, len(c.members), c.edges.EdgeCount())
}

// Builder owns the star pool and the constellation registry. It is not
// safe for concurrent use.
type Builder struct {
	adj     Adjacency
	names   *NameList
	cfg     Config
	rng     *rand.Rand
	handler EventHandler

	// pool is sorted; starMap has a key for every pool star, nil when
	// the star is unassigned.
	pool    []feature.ID
	starMap map[feature.ID]*Constellation
	byName  map[string]*Constellation
}

// New returns a Builder with an empty pool. A nil names list uses the
// built-in names.
func New(adj Adjacency, names *NameList, cfg Config, rng *rand.Rand) *Builder {
	if names == nil {
		names = DefaultNames()
	}
	return &Builder{
		adj:     adj,
		names:   names,
		cfg:     cfg.withDefaults(),
		rng:     rng,
		handler: nopHandler{},
		starMap: make(map[feature.ID]*Constellation),
		byName:  make(map[string]*Constellation),
	}
}

// SetEventHandler installs h, or removes the handler when h is nil.
func (b *Builder) SetEventHandler(h EventHandler) {
	if h == nil {
		h = nopHandler{}
	}
	b.handler = h
}

// Config returns the effective configuration.
func (b *Builder) Config() Config { return b.cfg }

// AddStar adds id to the pool, unassigned. Adding a pool star is a no-op.
func (b *Builder) AddStar(id feature.ID) {
	i, found := slices.BinarySearch(b.pool, id)
	if found {
		return
	}
	b.pool = slices.Insert(b.pool, i, id)
	b.starMap[id] = nil
}

// RemoveStar drops id from the pool. If it belonged to a constellation,
// its edges go with it; former neighbours left without an edge are
// unassigned, and a constellation left below MinConst edges collapses.
func (b *Builder) RemoveStar(id feature.ID) {
	i, found := slices.BinarySearch(b.pool, id)
	if !found {
		return
	}
	owner := b.starMap[id]
	b.pool = slices.Delete(b.pool, i, i+1)
	delete(b.starMap, id)
	if owner == nil {
		return
	}

	delete(owner.members, id)
	for _, n := range owner.edges.Erase(id) {
		if !owner.edges.Contains(n) {
			b.unassign(owner, n)
		}
	}
	if owner.edges.EdgeCount() < b.cfg.MinConst {
		monitoring.Debugf("[Heaven] %s collapsed after star %d left", owner, id)
		b.dissolve(owner, Collapsed)
	}
}

// Stars returns the pool in ascending order.
func (b *Builder) Stars() []feature.ID { return slices.Clone(b.pool) }

// AddConstellation makes one attempt to grow and register a constellation.
func (b *Builder) AddConstellation() (*Constellation, Outcome) {
	start, ok := b.pickStart()
	if !ok {
		return nil, NoStart
	}

	c := newConstellation(b.names.Draw(b.rng, b.inUse), b.cfg.Clock.Now())
	b.assign(c, start)

	prev := start
	for steps := 0; ; {
		cands, weights := b.candidates(c, prev)
		next, ok := weighted.Choose(cands, weights, b.rng)
		if !ok {
			break
		}
		b.link(c, prev, next)
		b.assign(c, next)
		prev = next
		steps++
		if steps >= b.cfg.MinConst && b.rng.Float64() >= b.cfg.ContinueProbability {
			break
		}
	}

	if c.edges.EdgeCount() < b.cfg.MinConst {
		for id := range c.members {
			b.starMap[id] = nil
		}
		return nil, Stillborn
	}

	b.byName[c.Name] = c
	monitoring.Debugf("[Heaven] formed %s", c)
	b.handler.ConstellationFormed(c)
	return c, Formed
}

// AddConstellationWithRetry makes up to limit attempts. If none forms a
// constellation, every constellation is cleared and one final attempt is
// made. It returns the result of the last attempt.
func (b *Builder) AddConstellationWithRetry(limit int) (*Constellation, Outcome) {
	for i := 0; i < limit; i++ {
		if c, o := b.AddConstellation(); o.OK() {
			return c, o
		}
	}
	monitoring.Debugf("[Heaven] no constellation after %d attempts, clearing", limit)
	b.Clear()
	return b.AddConstellation()
}

func (b *Builder) pickStart() (feature.ID, bool) {
	n := len(b.pool)
	for i := 0; i < b.cfg.SampleFactor*n; i++ {
		id := b.pool[b.rng.IntN(n)]
		if b.starMap[id] == nil {
			return id, true
		}
	}
	return 0, false
}

// candidates lists the pool neighbours of prev that are unassigned or
// already in c, with their weights.
func (b *Builder) candidates(c *Constellation, prev feature.ID) ([]feature.ID, []int) {
	nb := b.adj.Neighbours(prev)
	cands := make([]feature.ID, 0, len(nb))
	weights := make([]int, 0, len(nb))
	for _, n := range nb {
		owner, inPool := b.starMap[n]
		if !inPool || (owner != nil && owner != c) {
			continue
		}
		cands = append(cands, n)
		weights = append(weights, b.adj.Weight(n))
	}
	return cands, weights
}

func (b *Builder) link(c *Constellation, a, z feature.ID) {
	if a == z {
		panic(fmt.Sprintf("heaven: self edge on star %d in %q", a, c.Name))
	}
	if !slices.Contains(b.adj.Neighbours(a), z) {
		panic(fmt.Sprintf("heaven: edge %d-%d in %q joins stars that are not adjacent", a, z, c.Name))
	}
	c.edges.Insert(a, z)
}

func (b *Builder) assign(c *Constellation, id feature.ID) {
	if owner := b.starMap[id]; owner != nil && owner != c {
		panic(fmt.Sprintf("heaven: star %d already belongs to %q", id, owner.Name))
	}
	b.starMap[id] = c
	c.members[id] = struct{}{}
}

func (b *Builder) unassign(c *Constellation, id feature.ID) {
	delete(c.members, id)
	if _, inPool := b.starMap[id]; inPool {
		b.starMap[id] = nil
	}
}

func (b *Builder) dissolve(c *Constellation, reason Reason) {
	for id := range c.members {
		if owner, inPool := b.starMap[id]; inPool && owner == c {
			b.starMap[id] = nil
		}
	}
	delete(b.byName, c.Name)
	b.handler.ConstellationDissolved(c, reason)
}

func (b *Builder) inUse(name string) bool {
	_, ok := b.byName[name]
	return ok
}

// RemoveConstellation unregisters c and unassigns its stars. It reports
// whether c was registered.
func (b *Builder) RemoveConstellation(c *Constellation) bool {
	if c == nil || b.byName[c.Name] != c {
		return false
	}
	b.dissolve(c, Removed)
	return true
}

// RemoveConstellationByName removes the constellation called name.
func (b *Builder) RemoveConstellationByName(name string) bool {
	c, ok := b.byName[name]
	if !ok {
		return false
	}
	return b.RemoveConstellation(c)
}

// Clear removes every constellation. The star pool is kept.
func (b *Builder) Clear() {
	for _, c := range b.Constellations() {
		b.dissolve(c, Cleared)
	}
}

// Constellations returns the registered constellations ordered by name.
func (b *Builder) Constellations() []*Constellation {
	out := make([]*Constellation, 0, len(b.byName))
	for _, c := range b.byName {
		out = append(out, c)
	}
	slices.SortFunc(out, func(x, y *Constellation) int {
		return cmp.Compare(x.Name, y.Name)
	})
	return out
}

// Constellation returns the constellation called name, or nil.
func (b *Builder) Constellation(name string) *Constellation { return b.byName[name] }

// ConstellationOf returns the constellation id belongs to, or nil.
func (b *Builder) ConstellationOf(id feature.ID) *Constellation { return b.starMap[id] }

// Len returns the number of registered constellations.
func (b *Builder) Len() int { return len(b.byName) }

// NamesInUse returns the registered names in ascending order.
func (b *Builder) NamesInUse() []string {
	out := make([]string, 0, len(b.byName))
	for name := range b.byName {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// CheckInvariants verifies minimum size, star exclusivity, and that every
// member is a pool star assigned to its constellation.
func (b *Builder) CheckInvariants() error {
	seen := make(map[feature.ID]string)
	for name, c := range b.byName {
		if c.Name != name {
			return fmt.Errorf("constellation %q registered as %q", c.Name, name)
		}
		if c.edges.EdgeCount() < b.cfg.MinConst {
			return fmt.Errorf("constellation %q has %d edges, minimum %d", name, c.edges.EdgeCount(), b.cfg.MinConst)
		}
		for id := range c.members {
			if other, dup := seen[id]; dup {
				return fmt.Errorf("star %d in both %q and %q", id, other, name)
			}
			seen[id] = name
			if b.starMap[id] != c {
				return fmt.Errorf("star %d listed in %q but mapped elsewhere", id, name)
			}
		}
		for _, v := range c.edges.Vertices() {
			if !c.Contains(v) {
				return fmt.Errorf("edge endpoint %d of %q is not a member", v, name)
			}
		}
	}
	for id, c := range b.starMap {
		if c != nil && !c.Contains(id) {
			return fmt.Errorf("star %d mapped to %q but not a member", id, c.Name)
		}
		if c != nil && b.byName[c.Name] != c {
			return fmt.Errorf("star %d mapped to unregistered %q", id, c.Name)
		}
	}
	return nil
}
