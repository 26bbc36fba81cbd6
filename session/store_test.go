package session

import (
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/pokt-network/pocket-faucet/testutil"
)

type StoreTestSuite struct {
	testutil.RedisTestSuite

	store *RedisStore
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) SetupTest() {
	s.RedisTestSuite.SetupTest()
	s.store = NewRedisStore(zerolog.Nop(), s.RedisClient, StoreConfig{TTL: time.Hour})
}

func (s *StoreTestSuite) record(id string, status Status) *Record {
	return &Record{
		SessionID:  id,
		Status:     status,
		StartTime:  1_700_000_000,
		UpdatedAt:  1_700_000_010,
		RemoteAddr: "10.0.0.1",
		TargetAddr: testTarget,
		DropAmount: "1000",
		Tasks:      []BlockingTask{{Module: "captcha", Name: "solve", NotifyClient: true}},
		Data: Data{
			ClaimStatus:   ClaimQueued,
			ClaimQueueIdx: 7,
			Modules:       map[string]any{"captcha.ident": "abc"},
		},
	}
}

func (s *StoreTestSuite) TestSaveAndGet() {
	rec := s.record(testutil.GenerateDeterministicSessionID(1), StatusClaiming)
	s.Require().NoError(s.store.Save(s.Ctx, rec))

	got, err := s.store.Get(s.Ctx, rec.SessionID)
	s.Require().NoError(err)
	s.Require().Equal(rec, got)

	ttl := s.MiniRedis.TTL(s.RedisClient.KB().SessionKey(rec.SessionID))
	s.Require().Equal(time.Hour, ttl)
}

func (s *StoreTestSuite) TestGetMissing() {
	got, err := s.store.Get(s.Ctx, "missing")
	s.Require().NoError(err)
	s.Require().Nil(got)
}

func (s *StoreTestSuite) TestSaveRejectsMissingID() {
	s.Require().Error(s.store.Save(s.Ctx, nil))
	s.Require().Error(s.store.Save(s.Ctx, &Record{Status: StatusRunning}))
}

func (s *StoreTestSuite) TestSaveMovesStatusIndex() {
	rec := s.record("a", StatusRunning)
	s.Require().NoError(s.store.Save(s.Ctx, rec))

	kb := s.RedisClient.KB()
	s.Require().Equal([]string{"a"}, s.SMembers(kb.SessionStatusIndexKey("running")))

	rec.Status = StatusClaimable
	s.Require().NoError(s.store.Save(s.Ctx, rec))
	s.Require().Empty(s.SMembers(kb.SessionStatusIndexKey("running")))
	s.Require().Equal([]string{"a"}, s.SMembers(kb.SessionStatusIndexKey("claimable")))
}

func (s *StoreTestSuite) TestGetByStatus() {
	s.Require().NoError(s.store.Save(s.Ctx, s.record("a", StatusRunning)))
	s.Require().NoError(s.store.Save(s.Ctx, s.record("b", StatusClaimable)))
	s.Require().NoError(s.store.Save(s.Ctx, s.record("c", StatusClaimed)))

	recs, err := s.store.GetByStatus(s.Ctx, ActiveStatuses()...)
	s.Require().NoError(err)

	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.SessionID)
	}
	sort.Strings(ids)
	s.Require().Equal([]string{"a", "b"}, ids)

	recs, err = s.store.GetByStatus(s.Ctx)
	s.Require().NoError(err)
	s.Require().Empty(recs)
}

func (s *StoreTestSuite) TestGetByStatusPrunesExpired() {
	shortLived := NewRedisStore(zerolog.Nop(), s.RedisClient, StoreConfig{TTL: time.Minute})
	s.Require().NoError(shortLived.Save(s.Ctx, s.record("expiring", StatusRunning)))
	s.Require().NoError(s.store.Save(s.Ctx, s.record("kept", StatusRunning)))

	s.MiniRedis.FastForward(2 * time.Minute)

	recs, err := s.store.GetByStatus(s.Ctx, StatusRunning)
	s.Require().NoError(err)
	s.Require().Len(recs, 1)
	s.Require().Equal("kept", recs[0].SessionID)
	s.Require().Equal([]string{"kept"}, s.SMembers(s.RedisClient.KB().SessionStatusIndexKey("running")))
}

func (s *StoreTestSuite) TestDelete() {
	s.Require().NoError(s.store.Save(s.Ctx, s.record("a", StatusFailed)))
	s.Require().NoError(s.store.Delete(s.Ctx, "a"))

	s.RequireKeyNotExists(s.RedisClient.KB().SessionKey("a"))
	s.Require().Empty(s.SMembers(s.RedisClient.KB().SessionStatusIndexKey("failed")))

	got, err := s.store.Get(s.Ctx, "a")
	s.Require().NoError(err)
	s.Require().Nil(got)
}
