package stats

import (
	"context"

	"github.com/stretchr/testify/suite"

	"vcr/internal/hooks/models"
)

// RecorderSuite runs against every Recorder implementation.
type RecorderSuite struct {
	suite.Suite
	recorder Recorder
	reset    func()
	ctx      context.Context
}

func (s *RecorderSuite) SetupTest() {
	s.ctx = context.Background()
	s.reset()
}

func (s *RecorderSuite) TestIncrementsAccumulate() {
	s.Require().NoError(s.recorder.Incr(s.ctx, "worker-a", models.StatTotal, 1))
	s.Require().NoError(s.recorder.Incr(s.ctx, "worker-a", models.StatAttempt, 3))
	s.Require().NoError(s.recorder.Incr(s.ctx, "worker-a", models.StatRetry, 2))
	s.Require().NoError(s.recorder.Incr(s.ctx, "worker-a", models.StatSuccess, 1))
	s.Require().NoError(s.recorder.Incr(s.ctx, "worker-a", models.StatTotal, 1))

	got, err := s.recorder.Get(s.ctx, "worker-a")
	s.Require().NoError(err)
	s.Equal(models.CredentialHookStats{
		WorkerID: "worker-a",
		Total:    2,
		Attempt:  3,
		Success:  1,
		Retry:    2,
	}, *got)
}

func (s *RecorderSuite) TestUnknownWorkerIsZero() {
	got, err := s.recorder.Get(s.ctx, "nobody")
	s.Require().NoError(err)
	s.Equal(models.CredentialHookStats{WorkerID: "nobody"}, *got)
}

func (s *RecorderSuite) TestAllListsWorkersInOrder() {
	s.Require().NoError(s.recorder.Incr(s.ctx, "worker-b", models.StatFail, 1))
	s.Require().NoError(s.recorder.Incr(s.ctx, "worker-a", models.StatRetryFail, 1))

	all, err := s.recorder.All(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal("worker-a", all[0].WorkerID)
	s.EqualValues(1, all[0].RetryFail)
	s.Equal("worker-b", all[1].WorkerID)
	s.EqualValues(1, all[1].Fail)
}
