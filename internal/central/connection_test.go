package central

import (
	"errors"
	"testing"
	"time"

	"github.com/srg/blecentral/internal/host"
	"github.com/srg/blecentral/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type ConnectionTestSuite struct {
	coreSuite
}

func TestConnectionTestSuite(t *testing.T) {
	suite.Run(t, new(ConnectionTestSuite))
}

func (s *ConnectionTestSuite) TestConnect_RejectsDuplicate() {
	// GOAL: Verify one handle per peripheral ID
	//
	// TEST SCENARIO: connect X (100000ms) → [X]; connect X again → AlreadyConnectedError → set still [X]

	s.build(linuxPlatform)

	h, err := s.conns.Connect(s.ctx(), "X", 100000*time.Millisecond)
	s.Require().NoError(err)
	s.Assert().Equal("X", h.ID())
	s.Assert().Equal(Connected, h.Peripheral.State)
	s.Assert().Equal(s.holder.Current().ID(), h.SessionID)

	_, err = s.conns.Connect(s.ctx(), "X", 100000*time.Millisecond)
	s.Require().ErrorIs(err, ErrAlreadyConnected, "second connect MUST be rejected")
	s.Assert().Equal([]string{"X"}, handleIDs(s.conns.Snapshot()))
	s.Assert().Equal(1, s.stack().Calls("Connect"), "rejected connect MUST NOT reach the host")
}

func (s *ConnectionTestSuite) TestConnect_RejectsWhilePending() {
	s.build(linuxPlatform)
	hold := make(chan struct{})
	s.stack().SetConnectResult("X", testutils.ConnectResult{Hold: hold})

	result := make(chan error, 1)
	go func() {
		_, err := s.conns.Connect(s.ctx(), "X", time.Second)
		result <- err
	}()

	s.Require().Eventually(s.conns.Busy, s.TestTimeout, s.Tick(), "connect MUST be in flight")
	s.Assert().Equal([]string{"X"}, s.conns.InFlight())

	_, err := s.conns.Connect(s.ctx(), "X", time.Second)
	var ace *AlreadyConnectedError
	s.Require().ErrorAs(err, &ace)
	s.Assert().True(ace.Pending, "rejection MUST report the pending connect")

	close(hold)
	s.Require().NoError(<-result)
	s.Assert().False(s.conns.Busy(), "busy flag MUST clear after connect")
	s.Assert().Equal([]string{"X"}, handleIDs(s.conns.Snapshot()))
}

func (s *ConnectionTestSuite) TestConnect_StopsScanBeforeReturning() {
	// GOAL: Verify callers never observe a connected peripheral while scanning
	//
	// TEST SCENARIO: scan active → connect succeeds → scan Stopped and host scan off at return

	s.build(linuxPlatform)
	ss, err := s.scanner.Start(nil, nil)
	s.Require().NoError(err)

	s.connect("X")

	s.Assert().Equal(ScanStopped, ss.State(), "scan MUST be stopped before connect returns")
	s.Assert().False(s.stack().Scanning())
	s.Assert().Nil(s.scanner.Active())
}

func (s *ConnectionTestSuite) TestConnect_FailureLeavesNoHandle() {
	s.build(linuxPlatform)
	s.stack().SetConnectResult("X", testutils.ConnectResult{Err: errors.New("peer refused")})
	ss, err := s.scanner.Start(nil, nil)
	s.Require().NoError(err)

	_, err = s.conns.Connect(s.ctx(), "X", time.Second)

	var ae *AdapterError
	s.Require().ErrorAs(err, &ae)
	s.Assert().Equal("connect", ae.Op)
	s.Assert().Equal("X", ae.PeripheralID)
	s.Assert().NotErrorIs(err, ErrConnectTimeout)
	s.Assert().Empty(s.conns.Snapshot(), "failed connect MUST NOT leave a handle")
	s.Assert().False(s.conns.Busy())
	s.Assert().Equal(ScanActive, ss.State(), "failed connect MUST NOT stop the scan")
}

func (s *ConnectionTestSuite) TestConnect_Timeout() {
	// GOAL: Verify a connect that outlives its timeout fails cleanly
	//
	// TEST SCENARIO: host needs 1s → timeout 20ms → AdapterError wrapping ErrConnectTimeout → no handle, not busy

	s.build(linuxPlatform)
	s.stack().SetConnectResult("slow", testutils.ConnectResult{Delay: time.Second})

	start := time.Now()
	_, err := s.conns.Connect(s.ctx(), "slow", 20*time.Millisecond)

	s.Require().ErrorIs(err, ErrConnectTimeout)
	s.Assert().Less(time.Since(start), 500*time.Millisecond, "timeout MUST be honored")
	s.Assert().Empty(s.conns.Snapshot())
	s.Assert().False(s.conns.Busy())
}

func (s *ConnectionTestSuite) TestConnect_RequiresReadyAdapter() {
	s.Stacks.InitialState = host.StatePoweredOff
	s.build(linuxPlatform)

	_, err := s.conns.Connect(s.ctx(), "X", time.Second)
	s.Require().ErrorIs(err, ErrAdapterNotReady)
	s.Assert().Equal(0, s.stack().Calls("Connect"))
}

func (s *ConnectionTestSuite) TestSnapshot_MostRecentFirst() {
	s.build(linuxPlatform)
	s.connect("A")
	s.clock.Advance(time.Second)
	s.connect("B")

	s.Assert().Equal([]string{"B", "A"}, handleIDs(s.conns.Snapshot()))

	latest, ok := s.conns.Latest()
	s.Require().True(ok)
	s.Assert().Equal("B", latest.ID())
	s.Assert().Equal(s.clock.Now(), latest.ConnectedAt)
}

func (s *ConnectionTestSuite) TestConnect_UsesRegistryRecord() {
	s.build(linuxPlatform)
	s.registry.Offer(Peripheral{ID: "A", Name: "Thermo", RSSI: -42, Services: []string{"1809"}})

	h := s.connect("A")
	s.Assert().Equal("Thermo", h.Peripheral.Name)
	s.Assert().Equal([]string{"1809"}, h.Peripheral.Services)

	p, ok := s.registry.Get("A")
	s.Require().True(ok)
	s.Assert().Equal(Discovered, p.State, "registry record MUST stay untouched")
}

func (s *ConnectionTestSuite) TestOperationsOnUnknownID() {
	// GOAL: Verify read/write/discover on an ID outside the connected set never reach the host
	//
	// TEST SCENARIO: nothing connected → read/write/discover/disconnect → PreconditionError not_connected → zero host calls

	s.build(linuxPlatform)
	before := s.stack().TotalCalls()
	ctx := s.ctx()

	_, err := s.conns.Read(ctx, "ghost", "180f", "2a19")
	s.Assert().ErrorIs(err, ErrNotConnected)

	err = s.conns.Write(ctx, "ghost", "1805", "2a2b", []byte("1"), true)
	s.Assert().ErrorIs(err, ErrNotConnected)

	_, err = s.conns.DiscoverServices(ctx, "ghost")
	s.Assert().ErrorIs(err, ErrNotConnected)

	err = s.conns.Disconnect(ctx, "ghost")
	s.Assert().ErrorIs(err, ErrNotConnected)

	s.Assert().Equal(before, s.stack().TotalCalls(), "host stack MUST NOT be contacted")
}

func (s *ConnectionTestSuite) TestInvalidUUIDs() {
	s.build(linuxPlatform)
	s.connect("A")
	before := s.stack().TotalCalls()

	err := s.conns.Write(s.ctx(), "A", "not-a-uuid", "2a2b", nil, true)
	s.Assert().True(IsPrecondition(err, ReasonInvalidArgument))

	_, err = s.conns.Read(s.ctx(), "A", "180f", "")
	s.Assert().True(IsPrecondition(err, ReasonInvalidArgument))

	s.Assert().Equal(before, s.stack().TotalCalls())
}

func (s *ConnectionTestSuite) TestReadWrite() {
	s.build(linuxPlatform)
	s.connect("A")
	s.stack().SetValue("A", "180f", "2a19", []byte{77})

	v, err := s.conns.Read(s.ctx(), "A", "0x180F", "00002A19-0000-1000-8000-00805F9B34FB")
	s.Require().NoError(err)
	s.Assert().Equal([]byte{77}, v)

	s.Require().NoError(s.conns.Write(s.ctx(), "A", "1805", "2a2b", []byte("42"), false))
	writes := s.stack().Writes()
	s.Require().Len(writes, 1)
	s.Assert().Equal(testutils.WriteRecord{
		ID: "A", Service: "1805", Characteristic: "2a2b", Payload: []byte("42"), WithResponse: false,
	}, writes[0])
}

func (s *ConnectionTestSuite) TestDiscoverServices_StoresLatestTree() {
	s.build(linuxPlatform)
	s.connect("A")

	battery := host.Service{UUID: "180f", Characteristics: []host.Characteristic{{UUID: "2a19", Properties: host.PropRead | host.PropNotify}}}
	s.stack().SetServices("A", battery)

	services, err := s.conns.DiscoverServices(s.ctx(), "A")
	s.Require().NoError(err)
	s.Assert().Equal([]host.Service{battery}, services)

	h, ok := s.conns.Get("A")
	s.Require().True(ok)
	s.Assert().Equal([]host.Service{battery}, h.Services)

	current := host.Service{UUID: "1805"}
	s.stack().SetServices("A", current)
	_, err = s.conns.DiscoverServices(s.ctx(), "A")
	s.Require().NoError(err)

	h, _ = s.conns.Get("A")
	s.Assert().Equal([]host.Service{current}, h.Services, "rediscovery MUST replace the stored tree")
}

func (s *ConnectionTestSuite) TestHostDisconnectDropsHandle() {
	s.build(linuxPlatform)
	s.connect("A")
	s.stack().DropConnection("A")

	_, err := s.conns.Read(s.ctx(), "A", "180f", "2a19")
	s.Require().ErrorIs(err, host.ErrNotConnected)

	_, ok := s.conns.Get("A")
	s.Assert().False(ok, "handle of a peripheral the host lost MUST be removed")
}

func (s *ConnectionTestSuite) TestDisconnect() {
	s.build(linuxPlatform)
	s.connect("A")
	s.connect("B")

	s.Require().NoError(s.conns.Disconnect(s.ctx(), "A"))
	s.Assert().Equal([]string{"B"}, handleIDs(s.conns.Snapshot()))
	s.Assert().Equal([]string{"B"}, s.stack().ConnectedIDs())

	s.connect("A")
	s.Assert().Equal([]string{"A", "B"}, handleIDs(s.conns.Snapshot()), "reconnect MUST be allowed after disconnect")
}

func (s *ConnectionTestSuite) TestSnapshotIsDetached() {
	s.build(linuxPlatform)
	s.connect("A")

	snap := s.conns.Snapshot()
	snap[0].Peripheral.Name = "mutated"

	s.Assert().Len(s.conns.Snapshot(), 1)
	h, _ := s.conns.Get("A")
	s.Assert().Empty(h.Peripheral.Name)
}
