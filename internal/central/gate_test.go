package central

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/blecentral/internal/host"
	"github.com/srg/blecentral/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type GateTestSuite struct {
	coreSuite
}

func TestGateTestSuite(t *testing.T) {
	suite.Run(t, new(GateTestSuite))
}

func (s *GateTestSuite) TestAwaitReady_TerminalStates() {
	// GOAL: Verify readiness resolves on the first terminal state and detaches its listener
	//
	// TEST SCENARIO: stack reports X → AwaitReady returns the expected readiness → its subscription removed exactly once

	tests := []struct {
		name      string
		state     host.AdapterState
		readiness Readiness
	}{
		{name: "powered on", state: host.StatePoweredOn, readiness: Ready},
		{name: "powered off", state: host.StatePoweredOff, readiness: NotAvailable},
		{name: "unsupported", state: host.StateUnsupported, readiness: NotAvailable},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()
			s.Stacks.InitialState = tt.state
			s.build(linuxPlatform)

			outcome, err := s.gate.AwaitReady(s.ctx())
			s.Require().NoError(err)
			s.Assert().Equal(tt.readiness, outcome.Readiness)
			s.Assert().Equal(tt.state, outcome.State)

			stack := s.stack()
			s.Assert().Equal(2, stack.Subscribed(), "gate tracker and AwaitReady MUST each subscribe once")
			s.Assert().Equal(1, stack.Removed(), "AwaitReady subscription MUST be removed exactly once")
			s.Assert().Equal(1, stack.ActiveSubscriptions(), "only the gate tracker MUST stay attached")
		})
	}
}

func (s *GateTestSuite) TestAwaitReady_WaitsThroughTransientStates() {
	s.Stacks.InitialState = host.StateUnknown
	s.build(linuxPlatform)
	stack := s.stack()

	done := make(chan ReadinessOutcome, 1)
	go func() {
		outcome, err := s.gate.AwaitReady(s.ctx())
		s.Assert().NoError(err)
		done <- outcome
	}()

	s.Require().Eventually(func() bool { return stack.ActiveSubscriptions() == 2 }, s.TestTimeout, s.Tick())
	stack.SetState(host.StateResetting)
	stack.SetState(host.StatePoweredOn)

	select {
	case outcome := <-done:
		s.Assert().True(outcome.Ready())
	case <-time.After(s.TestTimeout):
		s.FailNow("AwaitReady did not return")
	}
	s.Assert().True(s.gate.Ready(), "gate tracker MUST observe the new state")
}

func (s *GateTestSuite) TestAwaitReady_ContextCancellation() {
	// GOAL: Verify the listener is detached when the caller gives up
	//
	// TEST SCENARIO: state stays Unknown → ctx deadline → DeadlineExceeded returned → subscription removed once

	s.Stacks.InitialState = host.StateUnknown
	s.build(linuxPlatform)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	outcome, err := s.gate.AwaitReady(ctx)
	s.Require().ErrorIs(err, context.DeadlineExceeded)
	s.Assert().False(outcome.Ready())
	s.Assert().Equal(1, s.stack().Removed(), "subscription MUST be removed on cancellation")
}

func (s *GateTestSuite) TestAwaitReady_UnauthorizedRequestsPermission() {
	// GOAL: Verify Unauthorized triggers a permission request and the wait continues
	//
	// TEST SCENARIO: Android 31 stack reports Unauthorized → SCAN+CONNECT requested → grant flips state to PoweredOn → Ready

	perms := &testutils.PermissionMock{}
	s.Stacks.InitialState = host.StateUnauthorized
	s.Stacks.Prepare = func(_ int, st *testutils.FakeStack) { st.Permissions = perms }
	s.build(host.Platform{OS: host.OSAndroid, APILevel: 31})
	stack := s.stack()

	caps := []host.Capability{host.CapabilityScan, host.CapabilityConnect}
	perms.On("Request", mock.Anything, caps).
		Run(func(mock.Arguments) { stack.SetState(host.StatePoweredOn) }).
		Return(map[host.Capability]bool{host.CapabilityScan: true, host.CapabilityConnect: true}, nil).
		Once()

	outcome, err := s.gate.AwaitReady(s.ctx())
	s.Require().NoError(err)
	s.Assert().True(outcome.Ready(), "grant MUST lead to readiness")
	perms.AssertExpectations(s.T())
}

func (s *GateTestSuite) TestAwaitReady_PermissionOutlivesWait() {
	// GOAL: Verify a permission prompt started while waiting is not cancelled with the wait
	//
	// TEST SCENARIO: Unauthorized → prompt starts and blocks → PoweredOn ends the wait → caller cancels ctx → prompt ctx still live and bounded → prompt finishes

	perms := &testutils.PermissionMock{}
	s.Stacks.InitialState = host.StateUnauthorized
	s.Stacks.Prepare = func(_ int, st *testutils.FakeStack) { st.Permissions = perms }
	s.build(host.Platform{OS: host.OSAndroid, APILevel: 31})
	stack := s.stack()

	started := make(chan context.Context, 1)
	release := make(chan struct{})
	perms.On("Request", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			started <- args.Get(0).(context.Context)
			<-release
		}).
		Return(map[host.Capability]bool{host.CapabilityScan: true, host.CapabilityConnect: true}, nil).
		Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	outcomes := make(chan ReadinessOutcome, 1)
	go func() {
		outcome, _ := s.gate.AwaitReady(ctx)
		outcomes <- outcome
	}()

	var promptCtx context.Context
	select {
	case promptCtx = <-started:
	case <-time.After(s.TestTimeout):
		s.FailNow("permission request MUST start")
	}

	stack.SetState(host.StatePoweredOn)
	select {
	case outcome := <-outcomes:
		s.Assert().True(outcome.Ready())
	case <-time.After(s.TestTimeout):
		close(release)
		s.FailNow("AwaitReady MUST return on PoweredOn")
	}

	cancel()
	s.Assert().NoError(promptCtx.Err(), "cancelling the wait MUST NOT cancel the prompt")
	_, bounded := promptCtx.Deadline()
	s.Assert().True(bounded, "the prompt MUST have its own deadline")

	close(release)
	s.Eventually(func() bool { return !s.gate.permissionInFlight.Load() }, s.TestTimeout, s.Tick())
	perms.AssertExpectations(s.T())
}

func (s *GateTestSuite) TestRequireReady() {
	s.Stacks.InitialState = host.StatePoweredOff
	s.build(linuxPlatform)

	err := s.gate.RequireReady("scan")
	s.Require().ErrorIs(err, ErrAdapterNotReady)
	s.Assert().Contains(err.Error(), "PoweredOff")

	s.stack().SetState(host.StatePoweredOn)
	s.Assert().NoError(s.gate.RequireReady("scan"))
}

func (s *GateTestSuite) TestBind_IgnoresLateEventsOfOldSession() {
	s.build(linuxPlatform)
	old := s.holder.Current()

	_, cur, err := s.holder.Replace()
	s.Require().NoError(err)
	s.gate.Bind(cur)

	oldStack := old.Stack().(*testutils.FakeStack)
	s.Assert().Equal(0, oldStack.ActiveSubscriptions(), "old tracker MUST be detached")

	oldStack.SetState(host.StatePoweredOff)
	s.Assert().True(s.gate.Ready(), "events of a replaced session MUST be ignored")
}

func (s *GateTestSuite) TestRequestPermission_Policy() {
	// GOAL: Verify the runtime permission policy per platform
	//
	// TEST SCENARIO: platform → capabilities requested (if any) → result follows the grants

	granted := func(caps ...host.Capability) map[host.Capability]bool {
		m := map[host.Capability]bool{}
		for _, c := range caps {
			m[c] = true
		}
		return m
	}

	tests := []struct {
		name      string
		platform  host.Platform
		requested []host.Capability
		grants    map[host.Capability]bool
		grantErr  error
		want      bool
		wantErr   error
	}{
		{
			name:      "android 30 asks for fine location",
			platform:  host.Platform{OS: host.OSAndroid, APILevel: 30},
			requested: []host.Capability{host.CapabilityFineLocation},
			grants:    granted(host.CapabilityFineLocation),
			want:      true,
		},
		{
			name:      "android 31 asks for scan and connect",
			platform:  host.Platform{OS: host.OSAndroid, APILevel: 31},
			requested: []host.Capability{host.CapabilityScan, host.CapabilityConnect},
			grants:    granted(host.CapabilityScan, host.CapabilityConnect),
			want:      true,
		},
		{
			name:      "android 33 partial grant is a denial",
			platform:  host.Platform{OS: host.OSAndroid, APILevel: 33},
			requested: []host.Capability{host.CapabilityScan, host.CapabilityConnect},
			grants:    granted(host.CapabilityScan),
			want:      false,
		},
		{
			name:      "android request failure",
			platform:  host.Platform{OS: host.OSAndroid, APILevel: 31},
			requested: []host.Capability{host.CapabilityScan, host.CapabilityConnect},
			grantErr:  errors.New("activity gone"),
			wantErr:   &AdapterError{},
		},
		{
			name:     "ios needs no runtime grant",
			platform: host.Platform{OS: host.OSIOS},
			want:     true,
		},
		{
			name:     "desktop needs no runtime grant",
			platform: host.Platform{OS: host.OSDarwin},
			want:     true,
		},
		{
			name:     "unknown OS",
			platform: host.Platform{OS: "plan9"},
			wantErr:  ErrUnsupportedPlatform,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()
			perms := &testutils.PermissionMock{}
			s.Stacks.Prepare = func(_ int, st *testutils.FakeStack) { st.Permissions = perms }
			s.build(tt.platform)

			if tt.requested != nil {
				perms.On("Request", mock.Anything, tt.requested).Return(tt.grants, tt.grantErr).Once()
			}

			ok, err := s.gate.RequestPermission(s.ctx())
			if tt.wantErr != nil {
				var ae *AdapterError
				if errors.As(tt.wantErr, &ae) {
					s.Require().ErrorAs(err, &ae)
				} else {
					s.Require().ErrorIs(err, tt.wantErr)
				}
				s.Assert().False(ok)
			} else {
				s.Require().NoError(err)
				s.Assert().Equal(tt.want, ok)
			}

			if tt.requested == nil {
				s.Assert().Equal(0, s.stack().Calls("RequestCapabilities"), "no capability MUST be requested")
			}
			perms.AssertExpectations(s.T())
		})
	}
}
