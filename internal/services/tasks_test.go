package services

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wanchah/EcoEdu/internal/models"
)

var testCatalog = []models.TaskTemplate{
	{Key: "two_reports", Title: "Two Reports", Type: models.TaskReport, Target: 2, RewardPoints: 20},
	{Key: "one_comment", Title: "One Comment", Type: models.TaskComment, Target: 1, RewardPoints: 5},
	{Key: "three_lessons", Title: "Three Lessons", Type: models.TaskLesson, Target: 3, RewardPoints: 30},
}

func newTestTasks(t *testing.T, awarder Awarder, clock *fixedClock) *DailyTaskService {
	return NewDailyTaskService(newTestDB(t), awarder,
		WithCatalog(testCatalog),
		WithRand(rand.New(rand.NewSource(1))),
		WithTaskClock(clock.Now, time.UTC),
	)
}

func taskOfType(t *testing.T, set *models.DailyTaskSet, taskType models.TaskType) models.TaskInstance {
	t.Helper()
	for _, task := range set.Tasks {
		if task.Type == taskType {
			return task
		}
	}
	t.Fatalf("no %s task in set", taskType)
	return models.TaskInstance{}
}

func TestGetOrCreateTodayIsIdempotent(t *testing.T) {
	s := newTestTasks(t, &recordingAwarder{}, newClock(testNow))
	ctx := context.Background()
	today := s.Today()
	assert.Equal(t, "2026-03-14", today)

	first, err := s.GetOrCreateToday(ctx, "u1", today)
	require.NoError(t, err)
	require.Len(t, first.Tasks, 3)
	assert.Equal(t, 3, first.TotalTasks)
	assert.Equal(t, 0, first.CompletedCount)

	keys := map[string]bool{}
	for i, task := range first.Tasks {
		assert.Equal(t, i, task.Position)
		assert.Equal(t, models.TaskNotStarted, task.Status())
		keys[task.Key] = true
	}
	assert.Len(t, keys, 3)

	second, err := s.GetOrCreateToday(ctx, "u1", today)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Tasks, second.Tasks)
}

func TestGetOrCreateTodayConcurrent(t *testing.T) {
	s := newTestTasks(t, &recordingAwarder{}, newClock(testNow))
	ctx := context.Background()

	const workers = 10
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			set, err := s.GetOrCreateToday(ctx, "u1", "2026-03-14")
			if assert.NoError(t, err) {
				ids[i] = set.ID
				assert.Len(t, set.Tasks, 3)
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	var count int
	require.NoError(t, s.db.Get(&count, `SELECT COUNT(*) FROM daily_task_instances`))
	assert.Equal(t, 3, count)
}

func TestGetOrCreateTodayRejectsBadInput(t *testing.T) {
	s := newTestTasks(t, &recordingAwarder{}, newClock(testNow))
	ctx := context.Background()

	_, err := s.GetOrCreateToday(ctx, "", "2026-03-14")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.GetOrCreateToday(ctx, "u1", "2026-3-14")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.GetOrCreateToday(ctx, "u1", "2026-03-13")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.GetOrCreateToday(ctx, "u1", "2026-03-15")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.GetTasks(ctx, "u1", "2026-03-15")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyProgressCompletesOnce(t *testing.T) {
	awarder := &recordingAwarder{}
	s := newTestTasks(t, awarder, newClock(testNow))
	ctx := context.Background()
	today := s.Today()
	_, err := s.GetOrCreateToday(ctx, "u1", today)
	require.NoError(t, err)

	res, err := s.ApplyProgress(ctx, "u1", today, models.TaskReport, 1)
	require.NoError(t, err)
	assert.Empty(t, res.Completed)
	task := taskOfType(t, res.Set, models.TaskReport)
	assert.Equal(t, 1, task.Current)
	assert.Equal(t, models.TaskInProgress, task.Status())

	res, err = s.ApplyProgress(ctx, "u1", today, models.TaskReport, 5)
	require.NoError(t, err)
	require.Len(t, res.Completed, 1)
	assert.Equal(t, "two_reports", res.Completed[0].Key)
	task = taskOfType(t, res.Set, models.TaskReport)
	assert.Equal(t, 2, task.Current)
	assert.True(t, task.Completed)
	assert.Equal(t, 1, res.Set.CompletedCount)

	res, err = s.ApplyProgress(ctx, "u1", today, models.TaskReport, 1)
	require.NoError(t, err)
	assert.Empty(t, res.Completed)
	assert.Equal(t, 2, taskOfType(t, res.Set, models.TaskReport).Current)

	assert.Equal(t, 20, awarder.total())
}

func TestApplyProgressConcurrentRewardsOnce(t *testing.T) {
	awarder := &recordingAwarder{}
	s := newTestTasks(t, awarder, newClock(testNow))
	ctx := context.Background()
	today := s.Today()
	_, err := s.GetOrCreateToday(ctx, "u1", today)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ApplyProgress(ctx, "u1", today, models.TaskLesson, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	set, err := s.GetTasks(ctx, "u1", today)
	require.NoError(t, err)
	task := taskOfType(t, set, models.TaskLesson)
	assert.Equal(t, 3, task.Current)
	assert.True(t, task.Completed)
	assert.Equal(t, 30, awarder.total())
}

func TestApplyProgressValidation(t *testing.T) {
	s := newTestTasks(t, &recordingAwarder{}, newClock(testNow))
	ctx := context.Background()

	_, err := s.ApplyProgress(ctx, "u1", s.Today(), models.TaskType("quiz"), 1)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.ApplyProgress(ctx, "u1", s.Today(), models.TaskReport, 0)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.ApplyProgress(ctx, "u1", "2026-03-15", models.TaskReport, 1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestApplyProgressWithoutSetIsNoop(t *testing.T) {
	awarder := &recordingAwarder{}
	s := newTestTasks(t, awarder, newClock(testNow))
	ctx := context.Background()
	today := s.Today()

	res, err := s.ApplyProgress(ctx, "u9", today, models.TaskReport, 1)
	require.NoError(t, err)
	assert.Nil(t, res.Set)
	assert.Empty(t, res.Completed)
	assert.Zero(t, awarder.total())

	_, err = s.GetTasks(ctx, "u9", today)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyProgressSameTypeTasksProgressIndependently(t *testing.T) {
	awarder := &recordingAwarder{}
	s := NewDailyTaskService(newTestDB(t), awarder,
		WithCatalog([]models.TaskTemplate{
			{Key: "one_report", Title: "One Report", Type: models.TaskReport, Target: 1, RewardPoints: 10},
			{Key: "three_reports", Title: "Three Reports", Type: models.TaskReport, Target: 3, RewardPoints: 30},
		}),
		WithTasksPerDay(2),
		WithTaskClock(newClock(testNow).Now, time.UTC),
	)
	ctx := context.Background()
	today := s.Today()
	_, err := s.GetOrCreateToday(ctx, "u1", today)
	require.NoError(t, err)

	res, err := s.ApplyProgress(ctx, "u1", today, models.TaskReport, 1)
	require.NoError(t, err)
	require.Len(t, res.Completed, 1)
	assert.Equal(t, "one_report", res.Completed[0].Key)

	byKey := map[string]models.TaskInstance{}
	for _, task := range res.Set.Tasks {
		byKey[task.Key] = task
	}
	assert.Equal(t, 1, byKey["one_report"].Current)
	assert.True(t, byKey["one_report"].Completed)
	assert.Equal(t, 1, byKey["three_reports"].Current)
	assert.False(t, byKey["three_reports"].Completed)
	assert.Equal(t, 1, res.Set.CompletedCount)
	assert.Equal(t, 10, awarder.total())
}

// failSetUpdates makes every write to daily_task_sets abort until the
// returned function is called.
func failSetUpdates(t *testing.T, s *DailyTaskService) func() {
	t.Helper()
	_, err := s.db.Exec(`CREATE TRIGGER fail_set_updates BEFORE UPDATE ON daily_task_sets
		BEGIN SELECT RAISE(ABORT, 'set updates unavailable'); END`)
	require.NoError(t, err)
	return func() {
		_, err := s.db.Exec(`DROP TRIGGER fail_set_updates`)
		require.NoError(t, err)
	}
}

func TestApplyProgressRecountFailureRollsBack(t *testing.T) {
	awarder := &recordingAwarder{}
	s := newTestTasks(t, awarder, newClock(testNow))
	ctx := context.Background()
	today := s.Today()
	_, err := s.GetOrCreateToday(ctx, "u1", today)
	require.NoError(t, err)

	restore := failSetUpdates(t, s)
	_, err = s.ApplyProgress(ctx, "u1", today, models.TaskComment, 1)
	assert.ErrorIs(t, err, ErrPersistence)

	set, err := s.GetTasks(ctx, "u1", today)
	require.NoError(t, err)
	comment := taskOfType(t, set, models.TaskComment)
	assert.False(t, comment.Completed)
	assert.Equal(t, 0, comment.Current)
	assert.Zero(t, awarder.total())

	restore()
	res, err := s.ApplyProgress(ctx, "u1", today, models.TaskComment, 1)
	require.NoError(t, err)
	require.Len(t, res.Completed, 1)
	assert.True(t, taskOfType(t, res.Set, models.TaskComment).Completed)
	assert.Equal(t, 1, res.Set.CompletedCount)
	assert.Equal(t, 5, awarder.total())
}

func TestCompleteManuallyRecountFailureRollsBack(t *testing.T) {
	awarder := &recordingAwarder{}
	s := newTestTasks(t, awarder, newClock(testNow))
	ctx := context.Background()
	today := s.Today()
	set, err := s.GetOrCreateToday(ctx, "u1", today)
	require.NoError(t, err)
	task := taskOfType(t, set, models.TaskLesson)

	restore := failSetUpdates(t, s)
	_, err = s.CompleteManually(ctx, "u1", today, task.ID)
	assert.ErrorIs(t, err, ErrPersistence)
	restore()

	res, err := s.CompleteManually(ctx, "u1", today, task.ID)
	require.NoError(t, err)
	require.Len(t, res.Completed, 1)
	assert.Equal(t, 1, res.Set.CompletedCount)
	assert.Equal(t, 30, awarder.total())
}

func TestApplyProgressIgnoresMissingType(t *testing.T) {
	awarder := &recordingAwarder{}
	s := newTestTasks(t, awarder, newClock(testNow))
	_, err := s.GetOrCreateToday(context.Background(), "u1", s.Today())
	require.NoError(t, err)

	res, err := s.ApplyProgress(context.Background(), "u1", s.Today(), models.TaskLogin, 1)
	require.NoError(t, err)
	assert.Empty(t, res.Completed)
	assert.Equal(t, 0, res.Set.CompletedCount)
	assert.Zero(t, awarder.total())
}

func TestNextDayGetsFreshSet(t *testing.T) {
	clock := newClock(testNow)
	s := newTestTasks(t, &recordingAwarder{}, clock)
	ctx := context.Background()

	day1 := s.Today()
	_, err := s.GetOrCreateToday(ctx, "u1", day1)
	require.NoError(t, err)
	_, err = s.ApplyProgress(ctx, "u1", day1, models.TaskComment, 1)
	require.NoError(t, err)
	before, err := s.GetTasks(ctx, "u1", day1)
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	day2 := s.Today()
	assert.Equal(t, "2026-03-15", day2)

	fresh, err := s.GetOrCreateToday(ctx, "u1", day2)
	require.NoError(t, err)
	assert.NotEqual(t, before.ID, fresh.ID)
	assert.Equal(t, 0, fresh.CompletedCount)
	for _, task := range fresh.Tasks {
		assert.Equal(t, 0, task.Current)
	}

	_, err = s.ApplyProgress(ctx, "u1", day1, models.TaskReport, 1)
	assert.ErrorIs(t, err, ErrValidation)

	after, err := s.GetTasks(ctx, "u1", day1)
	require.NoError(t, err)
	assert.Equal(t, before.Tasks, after.Tasks)
	assert.Equal(t, 1, after.CompletedCount)
}

func TestGetTasksNotFound(t *testing.T) {
	s := newTestTasks(t, &recordingAwarder{}, newClock(testNow))

	_, err := s.GetTasks(context.Background(), "u1", "2026-03-10")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteManually(t *testing.T) {
	awarder := &recordingAwarder{}
	s := newTestTasks(t, awarder, newClock(testNow))
	ctx := context.Background()
	today := s.Today()

	_, err := s.CompleteManually(ctx, "u1", today, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	set, err := s.GetOrCreateToday(ctx, "u1", today)
	require.NoError(t, err)

	_, err = s.CompleteManually(ctx, "u1", today, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	task := taskOfType(t, set, models.TaskLesson)
	res, err := s.CompleteManually(ctx, "u1", today, task.ID)
	require.NoError(t, err)
	require.Len(t, res.Completed, 1)
	assert.Equal(t, task.ID, res.Completed[0].ID)
	done := res.Set.Task(task.ID)
	require.NotNil(t, done)
	assert.True(t, done.Completed)
	assert.Equal(t, done.Target, done.Current)
	assert.Equal(t, 1, res.Set.CompletedCount)

	again, err := s.CompleteManually(ctx, "u1", today, task.ID)
	require.NoError(t, err)
	assert.Empty(t, again.Completed)
	assert.Equal(t, 1, again.Set.CompletedCount)

	assert.Equal(t, 30, awarder.total())
}

func TestCompleteManuallyWithFailingLedger(t *testing.T) {
	s := newTestTasks(t, &recordingAwarder{fail: true}, newClock(testNow))
	ctx := context.Background()
	today := s.Today()

	set, err := s.GetOrCreateToday(ctx, "u1", today)
	require.NoError(t, err)

	res, err := s.CompleteManually(ctx, "u1", today, set.Tasks[0].ID)
	require.NoError(t, err)
	assert.True(t, res.Set.Tasks[0].Completed)
}

func TestDailyTaskRewardsReachLedger(t *testing.T) {
	db := newTestDB(t)
	clock := newClock(testNow)
	ledger := NewLedgerService(db)
	ledger.now = clock.Now
	s := NewDailyTaskService(db, ledger,
		WithCatalog(testCatalog),
		WithTaskClock(clock.Now, time.UTC),
	)
	ctx := context.Background()
	_, err := s.GetOrCreateToday(ctx, "u1", s.Today())
	require.NoError(t, err)

	_, err = s.ApplyProgress(ctx, "u1", s.Today(), models.TaskComment, 1)
	require.NoError(t, err)

	entry, err := ledger.GetLedger(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, entry.Points)
	assert.Equal(t, 0, entry.CommentsPosted)
}
