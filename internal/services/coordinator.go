package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Wanchah/EcoEdu/internal/logger"
	"github.com/Wanchah/EcoEdu/internal/models"
)

const defaultStepTimeout = 5 * time.Second

var errAwardNotRecorded = errors.New("award not recorded")

// Publisher delivers events to connected observers.
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

type Ledger interface {
	Awarder
	RecordLogin(ctx context.Context, userID, dateKey string) (bool, error)
}

type TaskTracker interface {
	ProgressApplier
	CompleteManually(ctx context.Context, userID, dateKey, taskID string) (*ProgressResult, error)
}

type LessonStore interface {
	Save(ctx context.Context, userID string, lessonIDs []string) (*LessonDelta, error)
}

type ChallengeJoiner interface {
	Join(ctx context.Context, challengeID, userID string) (*models.Challenge, bool, error)
}

// ActionCoordinator turns a committed content action into ledger, daily task,
// challenge and broadcast side effects. Each effect is attempted independently;
// a failure in one never undoes another and never escapes as an error.
type ActionCoordinator struct {
	ledger      Ledger
	tasks       TaskTracker
	lessons     LessonStore
	challenges  ChallengeJoiner
	contributor ChallengeContributor
	publisher   Publisher
	now         func() time.Time
	loc         *time.Location
	stepTimeout time.Duration
}

type CoordinatorOption func(*ActionCoordinator)

// WithContributor makes qualifying actions count toward joined challenges.
// Without it the challenge step is always skipped.
func WithContributor(c ChallengeContributor) CoordinatorOption {
	return func(a *ActionCoordinator) { a.contributor = c }
}

func WithCoordinatorClock(now func() time.Time, loc *time.Location) CoordinatorOption {
	return func(a *ActionCoordinator) {
		a.now = now
		if loc != nil {
			a.loc = loc
		}
	}
}

func WithStepTimeout(d time.Duration) CoordinatorOption {
	return func(a *ActionCoordinator) {
		if d > 0 {
			a.stepTimeout = d
		}
	}
}

func NewActionCoordinator(ledger Ledger, tasks TaskTracker, lessons LessonStore, challenges ChallengeJoiner, publisher Publisher, opts ...CoordinatorOption) *ActionCoordinator {
	c := &ActionCoordinator{
		ledger:      ledger,
		tasks:       tasks,
		lessons:     lessons,
		challenges:  challenges,
		publisher:   publisher,
		now:         time.Now,
		loc:         time.UTC,
		stepTimeout: defaultStepTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TaskTypeFor maps an action to the daily task type it advances.
func TaskTypeFor(kind models.ActionKind) (models.TaskType, bool) {
	switch kind {
	case models.ActionReportSubmitted:
		return models.TaskReport, true
	case models.ActionLessonCompleted:
		return models.TaskLesson, true
	case models.ActionCommentPosted:
		return models.TaskComment, true
	}
	return "", false
}

func (c *ActionCoordinator) today() string {
	return models.DateKey(c.now(), c.loc)
}

// step bounds one side effect by the step timeout. Side effects ignore the
// caller's cancellation since the primary action has already committed.
func (c *ActionCoordinator) step(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.stepTimeout)
}

func (c *ActionCoordinator) OnReportSubmitted(ctx context.Context, userID string) models.Outcome {
	return c.OnAction(ctx, userID, models.ActionReportSubmitted)
}

func (c *ActionCoordinator) OnReportResolved(ctx context.Context, reporterID string) models.Outcome {
	return c.OnAction(ctx, reporterID, models.ActionReportResolved)
}

func (c *ActionCoordinator) OnCommentPosted(ctx context.Context, userID string) models.Outcome {
	return c.OnAction(ctx, userID, models.ActionCommentPosted)
}

// OnAction applies the reward, daily task progress, challenge contribution
// and broadcast for one committed action, in that order.
func (c *ActionCoordinator) OnAction(ctx context.Context, userID string, kind models.ActionKind) models.Outcome {
	o := skippedOutcome()
	if userID == "" {
		o.Reward = models.Failed(invalid("user id is required"))
		o.Settle()
		return o
	}
	log := logger.New().With("user_id", userID, "action", string(kind))
	dateKey := c.today()

	entry := c.award(ctx, userID, kind)
	if entry == nil {
		o.Reward = models.Failed(errAwardNotRecorded)
	} else {
		o.Reward = models.Done()
		o.Ledger = entry
	}

	if taskType, ok := TaskTypeFor(kind); ok {
		completed, err := c.applyProgress(ctx, userID, dateKey, taskType, 1)
		if err != nil {
			log.WithError(err).Warn("Daily task progress failed")
			o.TaskProgress = models.Failed(err)
		} else {
			o.TaskProgress = models.Done()
			o.CompletedTasks = completed
		}
	}

	delta := 0
	if entry != nil {
		delta = RewardFor(kind, 0)
	}
	o.ChallengeProgress = c.contribute(ctx, userID, kind, 1, delta)

	events := c.pointsEvents(userID, kind, delta, entry, o.CompletedTasks)
	events = append(events, c.taskEvents(userID, dateKey, o.CompletedTasks)...)
	o.Broadcast = c.publish(ctx, events)

	o.Settle()
	if o.Status != models.OutcomeSuccess {
		log.With("status", string(o.Status)).Warn("Action side effects incomplete")
	}
	return o
}

// OnLessonProgressSaved diffs the number of completed lessons against the
// stored count; each newly completed lesson is awarded separately and daily
// lesson tasks advance once by the whole delta.
func (c *ActionCoordinator) OnLessonProgressSaved(ctx context.Context, userID string, completedLessonIDs []string) models.Outcome {
	o := skippedOutcome()
	log := logger.New().With("user_id", userID, "action", string(models.ActionLessonCompleted))

	sctx, cancel := c.step(ctx)
	delta, err := c.lessons.Save(sctx, userID, completedLessonIDs)
	cancel()
	if err != nil {
		log.WithError(err).Error("Failed to store lesson progress")
		o.Reward = models.Failed(err)
		o.Settle()
		return o
	}
	if delta.NewlyCompleted == 0 {
		o.Settle()
		return o
	}
	dateKey := c.today()

	awarded, points := 0, 0
	for i := 0; i < delta.NewlyCompleted; i++ {
		if entry := c.award(ctx, userID, models.ActionLessonCompleted); entry != nil {
			awarded++
			points += RewardFor(models.ActionLessonCompleted, 0)
			o.Ledger = entry
		}
	}
	switch {
	case awarded == delta.NewlyCompleted:
		o.Reward = models.Done()
	case awarded == 0:
		o.Reward = models.Failed(errAwardNotRecorded)
	default:
		o.Reward = models.Failed(fmt.Errorf("%d of %d lesson awards not recorded", delta.NewlyCompleted-awarded, delta.NewlyCompleted))
	}

	completed, err := c.applyProgress(ctx, userID, dateKey, models.TaskLesson, delta.NewlyCompleted)
	if err != nil {
		log.WithError(err).Warn("Daily task progress failed")
		o.TaskProgress = models.Failed(err)
	} else {
		o.TaskProgress = models.Done()
		o.CompletedTasks = completed
	}

	o.ChallengeProgress = c.contribute(ctx, userID, models.ActionLessonCompleted, delta.NewlyCompleted, points)

	events := c.pointsEvents(userID, models.ActionLessonCompleted, points, o.Ledger, o.CompletedTasks)
	events = append(events, c.taskEvents(userID, dateKey, o.CompletedTasks)...)
	o.Broadcast = c.publish(ctx, events)

	o.Settle()
	return o
}

// OnDailyLogin records the user's first login of the day: it extends the
// streak, awards daily_login and advances login and streak tasks. Later logins
// the same day are skipped.
func (c *ActionCoordinator) OnDailyLogin(ctx context.Context, userID string) models.Outcome {
	o := skippedOutcome()
	log := logger.New().With("user_id", userID, "action", string(models.ActionDailyLogin))
	dateKey := c.today()

	sctx, cancel := c.step(ctx)
	first, err := c.ledger.RecordLogin(sctx, userID, dateKey)
	cancel()
	if err != nil {
		log.WithError(err).Error("Failed to record login")
		o.Reward = models.Failed(err)
		o.Settle()
		return o
	}
	if !first {
		o.Settle()
		return o
	}

	entry := c.award(ctx, userID, models.ActionDailyLogin)
	delta := 0
	if entry == nil {
		o.Reward = models.Failed(errAwardNotRecorded)
	} else {
		o.Reward = models.Done()
		o.Ledger = entry
		delta = RewardFor(models.ActionDailyLogin, 0)
	}

	var progressErr error
	for _, t := range []models.TaskType{models.TaskLogin, models.TaskStreak} {
		completed, err := c.applyProgress(ctx, userID, dateKey, t, 1)
		if err != nil {
			log.WithError(err).Warn("Daily task progress failed")
			progressErr = err
			continue
		}
		o.CompletedTasks = append(o.CompletedTasks, completed...)
	}
	if progressErr != nil {
		o.TaskProgress = models.Failed(progressErr)
	} else {
		o.TaskProgress = models.Done()
	}

	events := c.pointsEvents(userID, models.ActionDailyLogin, delta, entry, o.CompletedTasks)
	events = append(events, c.taskEvents(userID, dateKey, o.CompletedTasks)...)
	o.Broadcast = c.publish(ctx, events)

	o.Settle()
	return o
}

// CompleteTask force-completes one of today's tasks and announces it.
func (c *ActionCoordinator) CompleteTask(ctx context.Context, userID, taskID string) (*ProgressResult, error) {
	dateKey := c.today()
	res, err := c.tasks.CompleteManually(ctx, userID, dateKey, taskID)
	if err != nil {
		return nil, err
	}
	c.publish(ctx, c.taskEvents(userID, dateKey, res.Completed))
	return res, nil
}

// JoinChallenge adds the user to a challenge and announces first-time joins.
func (c *ActionCoordinator) JoinChallenge(ctx context.Context, challengeID, userID string) (*models.Challenge, error) {
	challenge, joined, err := c.challenges.Join(ctx, challengeID, userID)
	if err != nil {
		return nil, err
	}
	if joined {
		c.publish(ctx, []models.Event{{
			Type:   models.EventChallengeJoined,
			UserID: userID,
			Payload: models.ChallengeJoinedPayload{
				ChallengeID:  challenge.ID,
				Title:        challenge.Title,
				Participants: len(challenge.Participants),
			},
			At: c.now().UTC(),
		}})
	}
	return challenge, nil
}

func (c *ActionCoordinator) award(ctx context.Context, userID string, kind models.ActionKind) *models.LedgerEntry {
	sctx, cancel := c.step(ctx)
	defer cancel()
	return c.ledger.Award(sctx, userID, kind, 0)
}

func (c *ActionCoordinator) applyProgress(ctx context.Context, userID, dateKey string, taskType models.TaskType, amount int) ([]models.TaskInstance, error) {
	sctx, cancel := c.step(ctx)
	defer cancel()
	res, err := c.tasks.ApplyProgress(sctx, userID, dateKey, taskType, amount)
	if err != nil {
		return nil, err
	}
	return res.Completed, nil
}

func (c *ActionCoordinator) contribute(ctx context.Context, userID string, kind models.ActionKind, count, points int) models.Step {
	if c.contributor == nil {
		return models.Skipped()
	}
	metric, ok := models.MetricFor(kind)
	if !ok && points <= 0 {
		return models.Skipped()
	}

	sctx, cancel := c.step(ctx)
	defer cancel()
	now := c.now()
	if ok {
		if _, err := c.contributor.ContributeMetric(sctx, userID, metric, count, now); err != nil {
			logger.New().With("user_id", userID, "metric", string(metric)).WithError(err).Warn("Challenge contribution failed")
			return models.Failed(err)
		}
	}
	if points > 0 {
		if _, err := c.contributor.ContributeMetric(sctx, userID, models.MetricPoints, points, now); err != nil {
			logger.New().With("user_id", userID, "metric", string(models.MetricPoints)).WithError(err).Warn("Challenge contribution failed")
			return models.Failed(err)
		}
	}
	return models.Done()
}

// pointsEvents announces the action's award. Rewards for tasks the action
// completed were recorded after entry was read, so they are folded in here.
func (c *ActionCoordinator) pointsEvents(userID string, kind models.ActionKind, delta int, entry *models.LedgerEntry, completed []models.TaskInstance) []models.Event {
	if entry == nil {
		return nil
	}
	bonus := 0
	for _, task := range completed {
		if task.RewardPoints > 0 {
			bonus += task.RewardPoints
		}
	}
	points := entry.Points + bonus
	return []models.Event{{
		Type:   models.EventPointsAwarded,
		UserID: userID,
		Payload: models.PointsAwardedPayload{
			Action: kind,
			Delta:  delta + bonus,
			Points: points,
			Level:  models.LevelFor(points),
		},
		At: c.now().UTC(),
	}}
}

func (c *ActionCoordinator) taskEvents(userID, dateKey string, completed []models.TaskInstance) []models.Event {
	events := make([]models.Event, 0, len(completed))
	for _, task := range completed {
		events = append(events, models.Event{
			Type:    models.EventTaskCompleted,
			UserID:  userID,
			Payload: models.TaskCompletedPayload{DateKey: dateKey, Task: task},
			At:      c.now().UTC(),
		})
	}
	return events
}

func (c *ActionCoordinator) publish(ctx context.Context, events []models.Event) models.Step {
	if c.publisher == nil || len(events) == 0 {
		return models.Skipped()
	}

	sctx, cancel := c.step(ctx)
	defer cancel()
	var firstErr error
	for _, e := range events {
		if err := c.publisher.Publish(sctx, e); err != nil {
			logger.New().With("user_id", e.UserID, "event", string(e.Type)).WithError(err).Warn("Failed to broadcast event")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return models.Failed(firstErr)
	}
	return models.Done()
}

func skippedOutcome() models.Outcome {
	return models.Outcome{
		Reward:            models.Skipped(),
		TaskProgress:      models.Skipped(),
		ChallengeProgress: models.Skipped(),
		Broadcast:         models.Skipped(),
	}
}
