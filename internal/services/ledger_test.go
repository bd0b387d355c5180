package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wanchah/EcoEdu/internal/models"
)

func newTestLedger(t *testing.T) *LedgerService {
	s := NewLedgerService(newTestDB(t))
	s.now = newClock(testNow).Now
	return s
}

func TestRewardFor(t *testing.T) {
	assert.Equal(t, 10, RewardFor(models.ActionReportSubmitted, 0))
	assert.Equal(t, 25, RewardFor(models.ActionDailyTask, 25))
	assert.Equal(t, 40, RewardFor(models.ActionCommentPosted, 40))
	assert.Equal(t, 0, RewardFor(models.ActionKind("unknown"), 0))
}

func TestAwardAccumulatesPointsAndCounters(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()

	first := s.Award(ctx, "u1", models.ActionReportSubmitted, 0)
	require.NotNil(t, first)
	assert.Equal(t, 10, first.Points)
	assert.Equal(t, 1, first.Level)
	assert.Equal(t, 1, first.ReportsSubmitted)

	second := s.Award(ctx, "u1", models.ActionCommentPosted, 0)
	require.NotNil(t, second)
	assert.Equal(t, 15, second.Points)
	assert.Equal(t, 1, second.Level)
	assert.Equal(t, 1, second.ReportsSubmitted)
	assert.Equal(t, 1, second.CommentsPosted)
	assert.Equal(t, 0, second.LessonsCompleted)
	assert.True(t, testNow.Equal(second.CreatedAt))
}

func TestAwardUnknownKindLeavesPointsUnchanged(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()

	require.NotNil(t, s.Award(ctx, "u1", models.ActionReportSubmitted, 0))
	entry := s.Award(ctx, "u1", models.ActionKind("mystery"), 0)
	require.NotNil(t, entry)
	assert.Equal(t, 10, entry.Points)
	assert.Equal(t, 1, entry.ReportsSubmitted)
}

func TestAwardRejectsInvalidInput(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()

	assert.Nil(t, s.Award(ctx, "", models.ActionReportSubmitted, 0))
	assert.Nil(t, s.Award(ctx, "u1", models.ActionDailyTask, -5))

	_, err := s.award(ctx, "u1", models.ActionDailyTask, -5)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAwardLevelTracksPoints(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()

	var entry *models.LedgerEntry
	for i := 0; i < 7; i++ {
		entry = s.Award(ctx, "u1", models.ActionReportResolved, 0)
		require.NotNil(t, entry)
		assert.Equal(t, models.LevelFor(entry.Points), entry.Level)
	}
	assert.Equal(t, 140, entry.Points)
	assert.Equal(t, 2, entry.Level)

	entry = s.Award(ctx, "u1", models.ActionDailyTask, 160)
	require.NotNil(t, entry)
	assert.Equal(t, 300, entry.Points)
	assert.Equal(t, 4, entry.Level)
}

func TestAwardConcurrentFirstUse(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Award(ctx, "fresh", models.ActionCommentPosted, 0)
		}()
	}
	wg.Wait()

	entry, err := s.GetLedger(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, workers*5, entry.Points)
	assert.Equal(t, workers, entry.CommentsPosted)
}

func TestGetLedgerCreatesEmptyEntry(t *testing.T) {
	s := newTestLedger(t)

	entry, err := s.GetLedger(context.Background(), "newcomer")
	require.NoError(t, err)
	assert.Equal(t, "newcomer", entry.UserID)
	assert.Equal(t, 0, entry.Points)
	assert.Equal(t, 1, entry.Level)
	assert.Equal(t, 0, entry.Streak)

	_, err = s.GetLedger(context.Background(), "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLeaderboard(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()

	for i, pts := range []int{30, 90, 60, 90} {
		require.NotNil(t, s.Award(ctx, fmt.Sprintf("u%d", i), models.ActionDailyTask, pts))
	}

	board, err := s.Leaderboard(ctx, 3)
	require.NoError(t, err)
	require.Len(t, board, 3)
	assert.Equal(t, "u1", board[0].UserID)
	assert.Equal(t, "u3", board[1].UserID)
	assert.Equal(t, "u2", board[2].UserID)
	for i, e := range board {
		assert.Equal(t, i+1, e.Rank)
	}

	all, err := s.Leaderboard(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestRecordLoginMaintainsStreak(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()

	first, err := s.RecordLogin(ctx, "u1", "2026-03-14")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := s.RecordLogin(ctx, "u1", "2026-03-14")
	require.NoError(t, err)
	assert.False(t, again)

	next, err := s.RecordLogin(ctx, "u1", "2026-03-15")
	require.NoError(t, err)
	assert.True(t, next)

	entry, err := s.GetLedger(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, entry.Streak)
	assert.Equal(t, "2026-03-15", entry.LastActiveDate)

	_, err = s.RecordLogin(ctx, "u1", "2026-03-18")
	require.NoError(t, err)
	entry, err = s.GetLedger(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Streak)

	_, err = s.RecordLogin(ctx, "u1", "18/03/2026")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRecordImpactAndCommunityTotals(t *testing.T) {
	s := newTestLedger(t)
	ctx := context.Background()

	entry, err := s.RecordImpact(ctx, &models.RecordImpactRequest{
		UserID: "u1",
		Impact: models.Impact{WasteReduced: 2.5, TreesPlanted: 1},
	})
	require.NoError(t, err)
	assert.InDelta(t, 2.5, entry.WasteReduced, 1e-9)

	_, err = s.RecordImpact(ctx, &models.RecordImpactRequest{
		UserID: "u2",
		Impact: models.Impact{WasteReduced: 1.5, WaterSaved: 40},
	})
	require.NoError(t, err)
	require.NotNil(t, s.Award(ctx, "u2", models.ActionLessonCompleted, 0))

	_, err = s.RecordImpact(ctx, &models.RecordImpactRequest{UserID: "u1", Impact: models.Impact{CO2Reduced: -1}})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.RecordImpact(ctx, &models.RecordImpactRequest{})
	assert.ErrorIs(t, err, ErrValidation)

	community, err := s.CommunityImpact(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 2, community.TotalUsers)
	assert.Equal(t, 15, community.TotalPoints)
	assert.InDelta(t, 4.0, community.TotalImpact.WasteReduced, 1e-9)
	assert.InDelta(t, 40.0, community.TotalImpact.WaterSaved, 1e-9)
	assert.Equal(t, 0, community.ActiveChallenges)
}
