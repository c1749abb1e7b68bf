package central

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultDebounceWindow is the minimum time between accepted updates of one
// peripheral's record. Advertisements arrive many times per second; the window
// keeps consumers from re-rendering on each of them.
const DefaultDebounceWindow = 5 * time.Second

type record struct {
	peripheral           Peripheral
	nextEligibleUpdateAt time.Time
}

// Registry is the deduplicated, debounced collection of discovered peripherals.
// Order is first-sighting order; an accepted update replaces the record in place.
type Registry struct {
	window time.Duration
	now    func() time.Time
	logger *logrus.Logger

	mu      sync.RWMutex
	records *orderedmap.OrderedMap[string, record]
}

// NewRegistry creates an empty registry. A zero window uses DefaultDebounceWindow;
// a nil clock uses time.Now.
func NewRegistry(window time.Duration, clock func() time.Time, logger *logrus.Logger) *Registry {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		window:  window,
		now:     clock,
		logger:  logger,
		records: orderedmap.New[string, record](),
	}
}

// Reset drops every record.
func (r *Registry) Reset() {
	r.mu.Lock()
	n := r.records.Len()
	r.records = orderedmap.New[string, record]()
	r.mu.Unlock()

	r.logger.WithField("dropped", n).Debug("Device registry reset")
}

// Offer applies a sighting of p. A new ID is appended; a known ID is replaced
// in place only once its debounce window has elapsed. Returns whether the
// registry changed. An ineligible offer is a silent no-op.
func (r *Registry) Offer(p Peripheral) bool {
	if p.ID == "" {
		return false
	}
	p = p.clone()
	p.State = Discovered

	now := r.now()

	r.mu.Lock()
	cur, exists := r.records.Get(p.ID)
	if exists && now.Before(cur.nextEligibleUpdateAt) {
		r.mu.Unlock()
		return false
	}
	r.records.Set(p.ID, record{
		peripheral:           p,
		nextEligibleUpdateAt: now.Add(r.window),
	})
	r.mu.Unlock()

	if !exists {
		r.logger.WithFields(logrus.Fields{
			"id":   p.ID,
			"name": p.Name,
			"rssi": p.RSSI,
		}).Info("Discovered new device")
	} else {
		r.logger.WithFields(logrus.Fields{
			"id":   p.ID,
			"rssi": p.RSSI,
		}).Debug("Device record updated")
	}
	return true
}

// Snapshot returns the current records in order. The slice and its records are
// the caller's; later registry changes never show through them.
func (r *Registry) Snapshot() []Peripheral {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Peripheral, 0, r.records.Len())
	for pair := r.records.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value.peripheral.clone())
	}
	return out
}

// Get returns the record for id.
func (r *Registry) Get(id string) (Peripheral, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records.Get(id)
	if !ok {
		return Peripheral{}, false
	}
	return rec.peripheral.clone(), true
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records.Len()
}
