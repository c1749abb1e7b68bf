package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/srg/blecentral/internal/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestFakeStack_StateSubscriptions(t *testing.T) {
	s := NewFakeStack(host.StateUnknown)

	var seen []host.AdapterState
	sub := s.OnStateChange(func(st host.AdapterState) { seen = append(seen, st) }, true)
	s.SetState(host.StatePoweredOn)

	sub.Remove()
	sub.Remove()
	s.SetState(host.StatePoweredOff)

	assert.Equal(t, []host.AdapterState{host.StateUnknown, host.StatePoweredOn}, seen)
	assert.Equal(t, 1, s.Subscribed())
	assert.Equal(t, 1, s.Removed(), "Remove MUST be idempotent")
	assert.Equal(t, 0, s.ActiveSubscriptions())
}

func TestFakeStack_ScanEmit(t *testing.T) {
	s := NewFakeStack(host.StatePoweredOn)
	assert.False(t, s.Emit(CreateAdvertisement("AA", "dev", -50).Build()), "no scan is running")

	var got []host.Advertisement
	require.NoError(t, s.StartScan([]string{"180d"}, func(adv host.Advertisement, err error) {
		got = append(got, adv)
	}))
	assert.True(t, s.Scanning())
	assert.Equal(t, []string{"180d"}, s.ScanFilter())

	assert.True(t, s.Emit(CreateAdvertisement("AA", "dev", -50).Build()))
	require.NoError(t, s.StopScan())
	assert.False(t, s.Scanning())
	require.Len(t, got, 1)
	assert.Equal(t, "AA", got[0].ID)
}

func TestFakeStack_ConnectHonorsContext(t *testing.T) {
	s := NewFakeStack(host.StatePoweredOn)
	s.SetConnectResult("slow", ConnectResult{Delay: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Connect(ctx, "slow")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, s.ConnectedIDs())

	dev, err := s.Connect(context.Background(), "fast")
	require.NoError(t, err)
	assert.Equal(t, "fast", dev.ID)
	assert.Equal(t, []string{"fast"}, s.ConnectedIDs())
	assert.Equal(t, 2, s.Calls("Connect"))
}

func TestFakeStack_GATT(t *testing.T) {
	s := NewFakeStack(host.StatePoweredOn)
	ctx := context.Background()

	_, err := s.ReadCharacteristic(ctx, "AA", "180f", "2a19")
	require.ErrorIs(t, err, host.ErrNotConnected)

	_, err = s.Connect(ctx, "AA")
	require.NoError(t, err)
	s.SetValue("AA", "180F", "2A19", []byte{87})

	v, err := s.ReadCharacteristic(ctx, "AA", "180f", "2a19")
	require.NoError(t, err)
	assert.Equal(t, []byte{87}, v)

	require.NoError(t, s.WriteCharacteristic(ctx, "AA", "1805", "2a2b", []byte("1"), true))
	require.Len(t, s.Writes(), 1)
	assert.True(t, s.Writes()[0].WithResponse)

	_, err = s.ReadCharacteristic(ctx, "AA", "180a", "2a29")
	var nf *host.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestFakeStack_PermissionMock(t *testing.T) {
	s := NewFakeStack(host.StateUnauthorized)
	perms := &PermissionMock{}
	s.Permissions = perms

	caps := []host.Capability{host.CapabilityScan, host.CapabilityConnect}
	perms.On("Request", mock.Anything, caps).
		Return(map[host.Capability]bool{host.CapabilityScan: true, host.CapabilityConnect: false}, nil).
		Once()

	granted, err := s.RequestCapabilities(context.Background(), caps)
	require.NoError(t, err)
	assert.True(t, granted[host.CapabilityScan])
	assert.False(t, granted[host.CapabilityConnect])
	perms.AssertExpectations(t)
}

func TestStackFactory_BuildsFreshStacks(t *testing.T) {
	f := NewStackFactory()
	f.Prepare = func(n int, s *FakeStack) {
		if n == 1 {
			s.SetListConnected(nil, "X")
		}
	}

	factory := f.Factory()
	first, err := factory(host.SessionOptions{RestoreID: "restore"})
	require.NoError(t, err)
	second, err := factory(host.SessionOptions{RestoreID: "restore"})
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Len(t, f.Stacks(), 2)
	assert.Same(t, second, f.Last())
	assert.Equal(t, "restore", f.Last().Options.RestoreID)

	listed, err := second.ListConnected(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []host.Device{{ID: "X"}}, listed)
}
