package central

import (
	"testing"
	"time"

	"github.com/srg/blecentral/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *testutils.Clock) {
	t.Helper()
	clock := testutils.NewClock(time.UnixMilli(0))
	return NewRegistry(5*time.Second, clock.Now, testutils.NewTestHelper(t).Logger), clock
}

func TestRegistry_DebounceWindow(t *testing.T) {
	// GOAL: Verify a known ID is replaced only after the debounce window elapsed
	//
	// TEST SCENARIO: offer A at t=0 → [A]; A' at t=1000ms → [A]; A'' at t=6000ms → [A''] in place

	r, clock := newTestRegistry(t)

	require.True(t, r.Offer(Peripheral{ID: "A", Name: "first", RSSI: -70}), "first sighting MUST be applied")
	require.True(t, r.Offer(Peripheral{ID: "B", Name: "other"}))

	clock.Advance(1000 * time.Millisecond)
	assert.False(t, r.Offer(Peripheral{ID: "A", Name: "second", RSSI: -60}), "update within window MUST be ignored")

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "first", snap[0].Name, "record MUST keep data of the accepted sighting")

	clock.Advance(5000 * time.Millisecond)
	assert.True(t, r.Offer(Peripheral{ID: "A", Name: "third", RSSI: -50}), "update after window MUST be applied")

	snap = r.Snapshot()
	assert.Equal(t, []string{"A", "B"}, peripheralIDs(snap), "replacement MUST keep position")
	assert.Equal(t, "third", snap[0].Name)
	assert.Equal(t, -50, snap[0].RSSI)
}

func TestRegistry_WindowRestartsOnReplacement(t *testing.T) {
	r, clock := newTestRegistry(t)

	r.Offer(Peripheral{ID: "A", RSSI: 1})
	clock.Advance(5 * time.Second)
	require.True(t, r.Offer(Peripheral{ID: "A", RSSI: 2}), "update exactly at window end MUST be applied")

	clock.Advance(4 * time.Second)
	assert.False(t, r.Offer(Peripheral{ID: "A", RSSI: 3}), "window MUST restart from the last replacement")

	p, ok := r.Get("A")
	require.True(t, ok)
	assert.Equal(t, 2, p.RSSI)
}

func TestRegistry_Reset(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Offer(Peripheral{ID: "A"})
	r.Offer(Peripheral{ID: "B"})

	r.Reset()

	assert.Empty(t, r.Snapshot(), "snapshot after reset MUST be empty")
	assert.Equal(t, 0, r.Len())
	assert.True(t, r.Offer(Peripheral{ID: "A"}), "reset MUST clear debounce state too")
}

func TestRegistry_NoDuplicateIDs(t *testing.T) {
	r, clock := newTestRegistry(t)
	for i := 0; i < 20; i++ {
		r.Offer(Peripheral{ID: "A", RSSI: i})
		clock.Advance(time.Second)
	}
	assert.Equal(t, 1, r.Len(), "registry MUST never hold two records with the same ID")
}

func TestRegistry_RejectsEmptyID(t *testing.T) {
	r, _ := newTestRegistry(t)
	assert.False(t, r.Offer(Peripheral{Name: "anonymous"}))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_SnapshotIsImmutable(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Offer(Peripheral{ID: "A", Services: []string{"180d"}, Advertisement: []byte{1, 2}})

	snap := r.Snapshot()
	snap[0].Services[0] = "ffff"
	snap[0].Advertisement[0] = 9
	snap[0].Name = "mutated"

	p, ok := r.Get("A")
	require.True(t, ok)
	assert.Equal(t, []string{"180d"}, p.Services, "snapshot mutation MUST NOT leak into the registry")
	assert.Equal(t, []byte{1, 2}, p.Advertisement)
	assert.Empty(t, p.Name)
	assert.Equal(t, Discovered, p.State)
}

func TestRegistry_DefaultWindow(t *testing.T) {
	clock := testutils.NewClock(time.UnixMilli(0))
	r := NewRegistry(0, clock.Now, nil)

	r.Offer(Peripheral{ID: "A", RSSI: 1})
	clock.Advance(DefaultDebounceWindow - time.Millisecond)
	assert.False(t, r.Offer(Peripheral{ID: "A", RSSI: 2}))
	clock.Advance(time.Millisecond)
	assert.True(t, r.Offer(Peripheral{ID: "A", RSSI: 3}))
}
