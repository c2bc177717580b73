// Package tracker keeps a fixed array of feature slots in step with an
// optical-flow engine.
//
// The engine reports per-slot state as (x, y, val); the tracker owns the
// Feature objects behind those slots. After every engine pass the two are
// reconciled slot by slot, which is the only place features are created
// or destroyed.
package tracker

import (
	"fmt"

	"github.com/banshee-data/starfield/internal/config"
	"github.com/banshee-data/starfield/internal/monitoring"
	"github.com/banshee-data/starfield/internal/sky/feature"
	"github.com/banshee-data/starfield/internal/sky/klt"
)

// FlowEngine is the optical-flow capability the tracker drives.
// *klt.Engine satisfies it.
type FlowEngine interface {
	SelectGoodFeatures(img klt.Image, slots []klt.Slot) error
	TrackFeatures(prev, cur klt.Image, slots []klt.Slot) error
	ReplaceLostFeatures(img klt.Image, slots []klt.Slot) error
	CountRemaining(slots []klt.Slot) int
}

// Hooks observe feature lifecycle events. All calls happen synchronously
// inside Update or SetNumFeatures.
type Hooks interface {
	// FeatureAdded is called when a slot gains a new feature.
	FeatureAdded(f *feature.Feature)
	// FeatureMatured is called once, on the update that promotes f to
	// Mature.
	FeatureMatured(f *feature.Feature)
	// FeatureRemoved is called before f is killed and its slot cleared.
	FeatureRemoved(f *feature.Feature)
}

// NopHooks ignores every event.
type NopHooks struct{}

func (NopHooks) FeatureAdded(*feature.Feature)   {}
func (NopHooks) FeatureMatured(*feature.Feature) {}
func (NopHooks) FeatureRemoved(*feature.Feature) {}

// Config holds the tracker's slot limits.
type Config struct {
	MinFeatures int // replacement runs when fewer than this many survive
	MaxFeatures int // slot capacity
	Adulthood   int // updates before a feature matures
}

// DefaultConfig returns tracker configuration loaded from the canonical
// tuning defaults file. Panics if the file cannot be found.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		MinFeatures: cfg.GetMinFeatures(),
		MaxFeatures: cfg.GetMaxFeatures(),
		Adulthood:   cfg.GetAdulthood(),
	}
}

// Tracker is the feature slot array. It is not safe for concurrent use.
type Tracker struct {
	engine FlowEngine
	hooks  Hooks

	minFeatures int
	maxFeatures int
	adulthood   int

	slots    []klt.Slot
	features []*feature.Feature
	active   int
	nextID   feature.ID

	prev klt.Image // last frame seen; valid whenever active > 0
}

// New returns a tracker with cfg.MaxFeatures empty slots. A nil hooks
// value uses NopHooks.
func New(engine FlowEngine, cfg Config, hooks Hooks) *Tracker {
	if hooks == nil {
		hooks = NopHooks{}
	}
	t := &Tracker{
		engine:    engine,
		hooks:     hooks,
		adulthood: cfg.Adulthood,
		nextID:    1,
	}
	t.SetNumFeatures(cfg.MinFeatures, cfg.MaxFeatures)
	return t
}

// SetHooks replaces the lifecycle observer. Intended for wiring at
// construction time, before the first Update.
func (t *Tracker) SetHooks(h Hooks) {
	if h == nil {
		h = NopHooks{}
	}
	t.hooks = h
}

// Update runs one frame through the engine and reconciles the result.
// An invalid image is rejected before any state changes.
func (t *Tracker) Update(img klt.Image) error {
	if err := img.Validate(); err != nil {
		return err
	}

	if t.active == 0 {
		if err := t.engine.SelectGoodFeatures(img, t.slots); err != nil {
			return fmt.Errorf("select features: %w", err)
		}
		t.reconcile(true)
		monitoring.Debugf("[Tracker] selected %d features (max=%d)", t.active, t.maxFeatures)
	} else {
		if err := t.engine.TrackFeatures(t.prev, img, t.slots); err != nil {
			return fmt.Errorf("track features: %w", err)
		}
		t.reconcile(true)

		if t.active < t.minFeatures {
			before := t.active
			if err := t.engine.ReplaceLostFeatures(img, t.slots); err != nil {
				return fmt.Errorf("replace lost features: %w", err)
			}
			// Survivors were already advanced by the track pass.
			t.reconcile(false)
			monitoring.Debugf("[Tracker] replaced lost features: %d -> %d (min=%d)", before, t.active, t.minFeatures)
		}
	}

	if remaining := t.engine.CountRemaining(t.slots); t.active != remaining {
		panic(fmt.Sprintf("tracker: active=%d but engine reports %d live slots", t.active, remaining))
	}

	t.prev = img.Clone()
	return nil
}

// reconcile brings the feature array in line with the engine's slots.
// With advance false, features in slots that are still alive are left
// untouched, so a backfill pass only adopts new detections.
func (t *Tracker) reconcile(advance bool) {
	for i := range t.slots {
		s := t.slots[i]
		f := t.features[i]
		alive := s.Val >= 0

		switch {
		case !alive && f == nil:
			// Nothing to do.
		case !alive && f != nil:
			t.remove(i)
		case alive && f == nil:
			f = feature.New(t.nextID, i, s.X, s.Y, s.Val, t.adulthood)
			t.nextID++
			t.features[i] = f
			t.active++
			t.hooks.FeatureAdded(f)
		case alive && f != nil:
			if !advance {
				break
			}
			if f.Update(s.X, s.Y) {
				t.hooks.FeatureMatured(f)
			}
		default:
			panic(fmt.Sprintf("tracker: slot %d in impossible state val=%d feature=%v", i, s.Val, f))
		}
	}
}

func (t *Tracker) remove(slot int) {
	f := t.features[slot]
	t.hooks.FeatureRemoved(f)
	f.Kill()
	t.features[slot] = nil
	t.active--
}

// SetNumFeatures drops every feature through the removal hook and
// reallocates the slot array. Call it only between frames.
func (t *Tracker) SetNumFeatures(minFeatures, maxFeatures int) {
	if maxFeatures < 0 {
		maxFeatures = 0
	}
	if minFeatures > maxFeatures {
		minFeatures = maxFeatures
	}

	for i, f := range t.features {
		if f != nil {
			t.remove(i)
		}
	}

	t.minFeatures = minFeatures
	t.maxFeatures = maxFeatures
	t.slots = klt.Lost(maxFeatures)
	t.features = make([]*feature.Feature, maxFeatures)
	t.active = 0
	t.prev = klt.Image{}
}

// Active returns the number of occupied slots.
func (t *Tracker) Active() int { return t.active }

// Min returns the replacement threshold.
func (t *Tracker) Min() int { return t.minFeatures }

// Max returns the slot capacity.
func (t *Tracker) Max() int { return t.maxFeatures }

// Features returns the live features in slot order.
func (t *Tracker) Features() []*feature.Feature {
	out := make([]*feature.Feature, 0, t.active)
	for _, f := range t.features {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

// FeatureAt returns the feature in slot i, or nil.
func (t *Tracker) FeatureAt(i int) *feature.Feature {
	if i < 0 || i >= len(t.features) {
		return nil
	}
	return t.features[i]
}

// Slots returns a copy of the engine slot array.
func (t *Tracker) Slots() []klt.Slot {
	out := make([]klt.Slot, len(t.slots))
	copy(out, t.slots)
	return out
}
