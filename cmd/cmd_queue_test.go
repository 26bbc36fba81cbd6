package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/pokt-network/pocket-faucet/claim"
	"github.com/pokt-network/pocket-faucet/testutil"
)

type QueueCmdTestSuite struct {
	testutil.RedisTestSuite
}

func TestQueueCmdTestSuite(t *testing.T) {
	suite.Run(t, new(QueueCmdTestSuite))
}

func (s *QueueCmdTestSuite) TestPrintQueueStatus_Empty() {
	var out bytes.Buffer
	s.Require().NoError(printQueueStatus(s.Ctx, &out, s.RedisClient))

	s.Require().Contains(out.String(), "Last Issued:    0")
	s.Require().Contains(out.String(), "Pending:        0")
	s.Require().Contains(out.String(), "Lane Owner:     none")
	s.Require().NotContains(out.String(), "IDX")
}

func (s *QueueCmdTestSuite) TestPrintQueueStatus_Pending() {
	store := claim.NewStore(zerolog.Nop(), s.RedisClient)
	_, err := store.Enqueue(s.Ctx, "session-1", testutil.TestAddress(1), "1000")
	s.Require().NoError(err)
	idx, err := store.Enqueue(s.Ctx, "session-2", testutil.TestAddress(2), "2000")
	s.Require().NoError(err)
	_, err = store.Fail(s.Ctx, 1, claim.CodeBroadcastFailed, "nonce too low")
	s.Require().NoError(err)

	s.Require().NoError(s.RedisClient.Set(s.Ctx, s.RedisClient.KB().LaneLeaderKey(), "faucet-a", 30*time.Second).Err())

	var out bytes.Buffer
	s.Require().NoError(printQueueStatus(s.Ctx, &out, s.RedisClient))

	text := out.String()
	s.Require().Contains(text, "Last Issued:    2")
	s.Require().Contains(text, "Last Processed: 1")
	s.Require().Contains(text, "Pending:        1")
	s.Require().Contains(text, "Lane Owner:     faucet-a (lease 30s)")
	s.Require().Contains(text, "session-2")
	s.Require().NotContains(text, "session-1")
	s.Require().Equal(int64(2), idx)
}

func (s *QueueCmdTestSuite) TestPrintClaim() {
	store := claim.NewStore(zerolog.Nop(), s.RedisClient)
	idx, err := store.Enqueue(s.Ctx, "session-1", testutil.TestAddress(1), "1000")
	s.Require().NoError(err)

	var out bytes.Buffer
	s.Require().NoError(printClaim(s.Ctx, &out, s.RedisClient, idx))
	s.Require().Contains(out.String(), `"session": "session-1"`)
	s.Require().Contains(out.String(), `"status": "queued"`)
	s.Require().NotContains(out.String(), "rawtx")

	err = printClaim(s.Ctx, &out, s.RedisClient, 99)
	s.Require().ErrorContains(err, "no claim at queue index 99")
}
