package leader

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/pokt-network/pocket-faucet/testutil"
)

type LaneElectorTestSuite struct {
	testutil.RedisTestSuite
}

func TestLaneElectorTestSuite(t *testing.T) {
	suite.Run(t, new(LaneElectorTestSuite))
}

func (s *LaneElectorTestSuite) newElector(id string) *LaneElector {
	return NewLaneElector(zerolog.Nop(), s.RedisClient, id, LaneElectorConfig{
		LeaseTTL:      10 * time.Second,
		HeartbeatRate: time.Hour,
	})
}

func (s *LaneElectorTestSuite) TestSingleOwner() {
	a := s.newElector("instance-a")
	b := s.newElector("instance-b")

	a.attemptLeadership(s.Ctx)
	b.attemptLeadership(s.Ctx)

	s.Require().True(a.IsLeader())
	s.Require().False(b.IsLeader())
	s.Require().Equal("instance-a", s.GetKey(s.RedisClient.KB().LaneLeaderKey()))

	// Renewal keeps ownership.
	a.attemptLeadership(s.Ctx)
	s.Require().True(a.IsLeader())
}

func (s *LaneElectorTestSuite) TestReleaseOnCloseHandsOver() {
	a := s.newElector("instance-a")
	b := s.newElector("instance-b")

	a.attemptLeadership(s.Ctx)
	s.Require().True(a.IsLeader())

	a.Close()
	s.Require().False(a.IsLeader())
	s.RequireKeyNotExists(s.RedisClient.KB().LaneLeaderKey())

	b.attemptLeadership(s.Ctx)
	s.Require().True(b.IsLeader())
}

func (s *LaneElectorTestSuite) TestExpiredLeaseIsLost() {
	a := s.newElector("instance-a")
	b := s.newElector("instance-b")

	lost := make(chan struct{}, 1)
	a.OnLost(func(context.Context) { lost <- struct{}{} })

	a.attemptLeadership(s.Ctx)
	s.MiniRedis.FastForward(11 * time.Second)

	b.attemptLeadership(s.Ctx)
	s.Require().True(b.IsLeader())

	a.attemptLeadership(s.Ctx)
	s.Require().False(a.IsLeader())

	select {
	case <-lost:
	case <-time.After(5 * time.Second):
		s.Fail("OnLost callback was not invoked")
	}
}

func (s *LaneElectorTestSuite) TestStartElectsAndCallsBack() {
	a := s.newElector("instance-a")
	elected := make(chan struct{}, 1)
	a.OnElected(func(context.Context) { elected <- struct{}{} })

	s.Require().NoError(a.Start(s.Ctx))
	defer a.Close()

	select {
	case <-elected:
	case <-time.After(5 * time.Second):
		s.Fail("OnElected callback was not invoked")
	}
	s.Require().True(a.IsLeader())
	s.Require().Equal("instance-a", a.InstanceID())
}
