package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Wanchah/EcoEdu/internal/database"
	"github.com/Wanchah/EcoEdu/internal/logger"
	"github.com/Wanchah/EcoEdu/internal/models"
)

const (
	DefaultTasksPerDay = 3

	taskSetColumns      = `id, user_id, date_key, completed_count, total_tasks, created_at, updated_at`
	taskInstanceColumns = `id, set_id, sort_order, template_key, title, description, type, target, current_count, completed, reward_points`

	// Bounds the retries when a concurrent writer moves a task between our two conditional updates.
	maxProgressAttempts = 3
)

// ProgressApplier advances daily tasks; implemented by DailyTaskService.
type ProgressApplier interface {
	ApplyProgress(ctx context.Context, userID, dateKey string, taskType models.TaskType, amount int) (*ProgressResult, error)
}

// ProgressResult is today's set after progress was applied, plus the tasks
// that this call moved into the completed state.
type ProgressResult struct {
	Set       *models.DailyTaskSet
	Completed []models.TaskInstance
}

type DailyTaskService struct {
	db      *database.DB
	ledger  Awarder
	sampler *Sampler
	perDay  int
	now     func() time.Time
	loc     *time.Location
}

type TaskOption func(*DailyTaskService)

func WithTasksPerDay(n int) TaskOption {
	return func(s *DailyTaskService) {
		if n > 0 {
			s.perDay = n
		}
	}
}

// WithRand makes daily task selection reproducible.
func WithRand(rng *rand.Rand) TaskOption {
	return func(s *DailyTaskService) { s.sampler = NewSampler(s.sampler.catalog, rng) }
}

func WithCatalog(catalog []models.TaskTemplate) TaskOption {
	return func(s *DailyTaskService) { s.sampler = NewSampler(catalog, s.sampler.rng) }
}

// WithTaskClock sets the clock and timezone used to decide which days are closed.
func WithTaskClock(now func() time.Time, loc *time.Location) TaskOption {
	return func(s *DailyTaskService) {
		s.now = now
		if loc != nil {
			s.loc = loc
		}
	}
}

func NewDailyTaskService(db *database.DB, ledger Awarder, opts ...TaskOption) *DailyTaskService {
	s := &DailyTaskService{
		db:      db,
		ledger:  ledger,
		sampler: NewSampler(DefaultCatalog, nil),
		perDay:  DefaultTasksPerDay,
		now:     time.Now,
		loc:     time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today is the date key for the current calendar day in the configured timezone.
func (s *DailyTaskService) Today() string {
	return models.DateKey(s.now(), s.loc)
}

// GetTasks returns the set stored for dateKey without creating one.
func (s *DailyTaskService) GetTasks(ctx context.Context, userID, dateKey string) (*models.DailyTaskSet, error) {
	if err := checkUserDay(userID, dateKey); err != nil {
		return nil, err
	}
	return s.load(ctx, userID, dateKey)
}

// GetOrCreateToday returns the user's set for dateKey, sampling and storing a
// new one on first request. Concurrent first requests converge on one set.
func (s *DailyTaskService) GetOrCreateToday(ctx context.Context, userID, dateKey string) (*models.DailyTaskSet, error) {
	if err := s.checkOpenDay(userID, dateKey); err != nil {
		return nil, err
	}

	set, err := s.load(ctx, userID, dateKey)
	if err == nil {
		return set, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if err := s.create(ctx, userID, dateKey); err != nil {
		return nil, err
	}
	return s.load(ctx, userID, dateKey)
}

func (s *DailyTaskService) create(ctx context.Context, userID, dateKey string) error {
	templates := s.sampler.Sample(s.perDay)
	now := s.now().UTC()
	setID := uuid.NewString()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return persistence("begin task set", err)
	}
	defer tx.Rollback()

	insertSet := `
		INSERT INTO daily_task_sets (id, user_id, date_key, completed_count, total_tasks, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT (user_id, date_key) DO NOTHING`
	res, err := tx.ExecContext(ctx, tx.Rebind(insertSet), setID, userID, dateKey, len(templates), now, now)
	if err != nil {
		return persistence("create task set", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return persistence("create task set", err)
	} else if n == 0 {
		// Lost the race to another request; the caller reloads the winner's set.
		logger.New().With("user_id", userID, "date", dateKey).Debug("Daily task set already created")
		return nil
	}

	insertTask := `
		INSERT INTO daily_task_instances (` + taskInstanceColumns + `)
		VALUES (:id, :set_id, :sort_order, :template_key, :title, :description, :type, :target, :current_count, :completed, :reward_points)`
	for i, tpl := range templates {
		task := models.TaskInstance{
			ID:           uuid.NewString(),
			SetID:        setID,
			Position:     i,
			Key:          tpl.Key,
			Title:        tpl.Title,
			Description:  tpl.Description,
			Type:         tpl.Type,
			Target:       tpl.Target,
			RewardPoints: tpl.RewardPoints,
		}
		if _, err := tx.NamedExecContext(ctx, insertTask, task); err != nil {
			return persistence("create task instance", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistence("commit task set", err)
	}
	logger.New().With("user_id", userID, "date", dateKey, "tasks", len(templates)).Info("Generated daily tasks")
	return nil
}

// ApplyProgress adds amount to every open task of taskType in the user's set
// for dateKey. A task that reaches its target is completed and its reward is
// awarded exactly once. Without a set for dateKey nothing changes.
func (s *DailyTaskService) ApplyProgress(ctx context.Context, userID, dateKey string, taskType models.TaskType, amount int) (*ProgressResult, error) {
	if !taskType.Valid() {
		return nil, invalid("unknown task type %q", taskType)
	}
	if amount <= 0 {
		return nil, invalid("progress amount must be positive, got %d", amount)
	}
	if err := s.checkOpenDay(userID, dateKey); err != nil {
		return nil, err
	}

	set, err := s.load(ctx, userID, dateKey)
	if errors.Is(err, ErrNotFound) {
		return &ProgressResult{}, nil
	} else if err != nil {
		return nil, err
	}

	var open []models.TaskInstance
	for _, task := range set.Tasks {
		if task.Type == taskType && !task.Completed {
			open = append(open, task)
		}
	}
	if len(open) == 0 {
		return &ProgressResult{Set: set}, nil
	}

	completed, err := s.progress(ctx, set.ID, open, amount)
	if err != nil {
		return nil, err
	}
	for _, task := range completed {
		s.reward(ctx, userID, task)
	}

	result := &ProgressResult{Completed: completed}
	if result.Set, err = s.load(ctx, userID, dateKey); err != nil {
		return nil, err
	}
	return result, nil
}

// progress advances the open tasks and recounts the set in one transaction,
// returning the tasks it completed.
func (s *DailyTaskService) progress(ctx context.Context, setID string, open []models.TaskInstance, amount int) ([]models.TaskInstance, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, persistence("begin task progress", err)
	}
	defer tx.Rollback()

	var completed []models.TaskInstance
	for _, task := range open {
		done, err := advance(ctx, tx, setID, task.ID, amount)
		if err != nil {
			return nil, err
		}
		if done {
			task.Current = task.Target
			task.Completed = true
			completed = append(completed, task)
		}
	}

	if err := s.recount(ctx, tx, setID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, persistence("commit task progress", err)
	}
	return completed, nil
}

// advance moves one task forward by amount and reports whether this call completed it.
func advance(ctx context.Context, tx *sqlx.Tx, setID, taskID string, amount int) (bool, error) {
	complete := `
		UPDATE daily_task_instances SET current_count = target, completed = TRUE
		WHERE id = ? AND set_id = ? AND completed = FALSE AND current_count + ? >= target`
	increment := `
		UPDATE daily_task_instances SET current_count = current_count + ?
		WHERE id = ? AND set_id = ? AND completed = FALSE AND current_count + ? < target`

	for attempt := 0; attempt < maxProgressAttempts; attempt++ {
		n, err := exec(ctx, tx, complete, taskID, setID, amount)
		if err != nil {
			return false, persistence("complete task", err)
		}
		if n == 1 {
			return true, nil
		}

		n, err = exec(ctx, tx, increment, amount, taskID, setID, amount)
		if err != nil {
			return false, persistence("advance task", err)
		}
		if n == 1 {
			return false, nil
		}

		var done bool
		err = tx.GetContext(ctx, &done, tx.Rebind(`SELECT completed FROM daily_task_instances WHERE id = ?`), taskID)
		if err != nil {
			return false, persistence("reload task", err)
		}
		if done {
			// Another request completed it first.
			return false, nil
		}
	}
	return false, persistence("advance task", fmt.Errorf("task %s kept changing under concurrent updates", taskID))
}

// CompleteManually force-completes one task in the user's set for dateKey.
// Completing an already completed task returns the set unchanged.
func (s *DailyTaskService) CompleteManually(ctx context.Context, userID, dateKey, taskID string) (*ProgressResult, error) {
	if err := s.checkOpenDay(userID, dateKey); err != nil {
		return nil, err
	}
	if taskID == "" {
		return nil, invalid("task id is required")
	}

	set, err := s.load(ctx, userID, dateKey)
	if err != nil {
		return nil, err
	}
	task := set.Task(taskID)
	if task == nil {
		return nil, notFound("task")
	}
	if task.Completed {
		return &ProgressResult{Set: set}, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, persistence("begin task completion", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE daily_task_instances SET current_count = target, completed = TRUE
		WHERE id = ? AND set_id = ? AND completed = FALSE`
	n, err := exec(ctx, tx, query, taskID, set.ID)
	if err != nil {
		return nil, persistence("complete task", err)
	}
	if n == 1 {
		if err := s.recount(ctx, tx, set.ID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, persistence("commit task completion", err)
	}

	result := &ProgressResult{}
	if n == 1 {
		done := *task
		done.Current = done.Target
		done.Completed = true
		result.Completed = append(result.Completed, done)
		s.reward(ctx, userID, done)
	}

	if result.Set, err = s.load(ctx, userID, dateKey); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *DailyTaskService) reward(ctx context.Context, userID string, task models.TaskInstance) {
	if task.RewardPoints <= 0 {
		return
	}
	if s.ledger.Award(ctx, userID, models.ActionDailyTask, task.RewardPoints) == nil {
		logger.New().With("user_id", userID, "task", task.Key).Warn("Daily task completed but its reward was not recorded")
	}
}

func (s *DailyTaskService) recount(ctx context.Context, tx *sqlx.Tx, setID string) error {
	query := `
		UPDATE daily_task_sets SET
			completed_count = (SELECT COUNT(*) FROM daily_task_instances WHERE set_id = ? AND completed = TRUE),
			updated_at = ?
		WHERE id = ?`
	if _, err := exec(ctx, tx, query, setID, s.now().UTC(), setID); err != nil {
		return persistence("recount completed tasks", err)
	}
	return nil
}

func exec(ctx context.Context, tx *sqlx.Tx, query string, args ...interface{}) (int64, error) {
	res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *DailyTaskService) load(ctx context.Context, userID, dateKey string) (*models.DailyTaskSet, error) {
	var set models.DailyTaskSet
	query := `SELECT ` + taskSetColumns + ` FROM daily_task_sets WHERE user_id = ? AND date_key = ?`
	err := s.db.GetContext(ctx, &set, s.db.Rebind(query), userID, dateKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("daily task set")
	} else if err != nil {
		return nil, persistence("get task set", err)
	}

	query = `SELECT ` + taskInstanceColumns + ` FROM daily_task_instances WHERE set_id = ? ORDER BY sort_order`
	if err := s.db.SelectContext(ctx, &set.Tasks, s.db.Rebind(query), set.ID); err != nil {
		return nil, persistence("get task instances", err)
	}
	return &set, nil
}

// checkOpenDay rejects mutations of any day other than today.
func (s *DailyTaskService) checkOpenDay(userID, dateKey string) error {
	if err := checkUserDay(userID, dateKey); err != nil {
		return err
	}
	switch today := s.Today(); {
	case dateKey < today:
		return invalid("daily tasks for %s are closed", dateKey)
	case dateKey > today:
		return invalid("daily tasks for %s are not open yet", dateKey)
	}
	return nil
}

func checkUserDay(userID, dateKey string) error {
	if userID == "" {
		return invalid("user id is required")
	}
	if !models.ValidDateKey(dateKey) {
		return invalid("malformed date %q", dateKey)
	}
	return nil
}
