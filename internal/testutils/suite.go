package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// FakeStackSuite is a testify suite base that gives every test a fresh
// StackFactory.
//
// Basic usage:
//
//	type GateSuite struct {
//	    testutils.FakeStackSuite
//	}
//
//	func (s *GateSuite) SetupTest() {
//	    s.FakeStackSuite.SetupTest()
//	    s.Stacks.InitialState = host.StateUnknown
//	}
//
//	func TestGateSuite(t *testing.T) {
//	    suite.Run(t, new(GateSuite))
//	}
type FakeStackSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	// Stacks builds the adapter sessions of the test.
	Stacks *StackFactory

	// TestTimeout bounds waits for asynchronous effects.
	TestTimeout time.Duration
}

// SetupSuite creates the helper and logger. Called once before all tests.
func (s *FakeStackSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 2 * time.Second
}

// SetupTest resets the stack factory before each test.
func (s *FakeStackSuite) SetupTest() {
	s.Stacks = NewStackFactory()
}

// Tick is the polling interval used with Eventually.
func (s *FakeStackSuite) Tick() time.Duration {
	return 5 * time.Millisecond
}
