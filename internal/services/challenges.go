package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Wanchah/EcoEdu/internal/database"
	"github.com/Wanchah/EcoEdu/internal/logger"
	"github.com/Wanchah/EcoEdu/internal/models"
)

const challengeColumns = `id, title, description, type, start_date, end_date, target, current_progress,
	metric, reward_points, reward_badge, is_active, created_at`

// ChallengeContributor credits a qualifying action to the challenges a user joined.
type ChallengeContributor interface {
	ContributeMetric(ctx context.Context, userID string, metric models.Metric, amount int, now time.Time) (int, error)
}

type ChallengeService struct {
	db  *database.DB
	now func() time.Time
}

func NewChallengeService(db *database.DB) *ChallengeService {
	return &ChallengeService{db: db, now: time.Now}
}

// ListActive returns challenges that are active and not yet ended at now,
// soonest ending first.
func (s *ChallengeService) ListActive(ctx context.Context, now time.Time) ([]models.Challenge, error) {
	query := `
		SELECT ` + challengeColumns + `
		FROM challenges
		WHERE is_active = TRUE AND end_date >= ?
		ORDER BY end_date ASC, id ASC`

	var challenges []models.Challenge
	if err := s.db.SelectContext(ctx, &challenges, s.db.Rebind(query), storedTime(now)); err != nil {
		return nil, persistence("list active challenges", err)
	}
	if err := s.attachParticipants(ctx, challenges); err != nil {
		return nil, err
	}
	return challenges, nil
}

// Get returns a challenge with its roster regardless of its active state.
func (s *ChallengeService) Get(ctx context.Context, id string) (*models.Challenge, error) {
	if id == "" {
		return nil, invalid("challenge id is required")
	}

	var c models.Challenge
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE id = ?`
	err := s.db.GetContext(ctx, &c, s.db.Rebind(query), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("challenge")
	} else if err != nil {
		return nil, persistence("get challenge", err)
	}

	list := []models.Challenge{c}
	if err := s.attachParticipants(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

func (s *ChallengeService) attachParticipants(ctx context.Context, challenges []models.Challenge) error {
	if len(challenges) == 0 {
		return nil
	}
	ids := make([]string, len(challenges))
	byID := make(map[string]*models.Challenge, len(challenges))
	for i := range challenges {
		ids[i] = challenges[i].ID
		challenges[i].Participants = []models.Participant{}
		byID[challenges[i].ID] = &challenges[i]
	}

	query, args, err := sqlx.In(`
		SELECT challenge_id, user_id, contribution, joined_at
		FROM challenge_participants
		WHERE challenge_id IN (?)
		ORDER BY joined_at ASC, user_id ASC`, ids)
	if err != nil {
		return persistence("build participant query", err)
	}

	var participants []models.Participant
	if err := s.db.SelectContext(ctx, &participants, s.db.Rebind(query), args...); err != nil {
		return persistence("list participants", err)
	}
	for _, p := range participants {
		if c, ok := byID[p.ChallengeID]; ok {
			c.Participants = append(c.Participants, p)
		}
	}
	return nil
}

// Join adds the user to an open challenge. Joining twice is a successful
// no-op; joined reports whether this call added the participant.
func (s *ChallengeService) Join(ctx context.Context, challengeID, userID string) (challenge *models.Challenge, joined bool, err error) {
	if userID == "" {
		return nil, false, invalid("user id is required")
	}

	challenge, err = s.Get(ctx, challengeID)
	if err != nil {
		return nil, false, err
	}
	if !challenge.OpenAt(storedTime(s.now())) {
		return nil, false, notFound("challenge")
	}

	query := `
		INSERT INTO challenge_participants (challenge_id, user_id, contribution, joined_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT (challenge_id, user_id) DO NOTHING`
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), challengeID, userID, s.now().UTC())
	if err != nil {
		return nil, false, persistence("join challenge", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, persistence("join challenge", err)
	}

	if challenge, err = s.Get(ctx, challengeID); err != nil {
		return nil, false, err
	}
	return challenge, n == 1, nil
}

// Create provisions a new challenge.
func (s *ChallengeService) Create(ctx context.Context, req *models.CreateChallengeRequest) (*models.Challenge, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	c := models.Challenge{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Type:        req.Type,
		StartDate:   storedTime(req.StartDate),
		EndDate:     storedTime(req.EndDate),
		Target:      req.Target,
		Metric:      req.Metric,
		Reward:      models.Reward{Points: req.RewardPoints, Badge: req.RewardBadge},
		IsActive:    true,
		CreatedAt:   s.now().UTC(),
	}

	query := `
		INSERT INTO challenges (` + challengeColumns + `)
		VALUES (:id, :title, :description, :type, :start_date, :end_date, :target, :current_progress,
			:metric, :reward_points, :reward_badge, :is_active, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, query, c); err != nil {
		return nil, persistence("create challenge", err)
	}
	c.Participants = []models.Participant{}
	return &c, nil
}

// Deactivate retires a challenge before its end date.
func (s *ChallengeService) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE challenges SET is_active = FALSE WHERE id = ?`), id)
	if err != nil {
		return persistence("deactivate challenge", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return persistence("deactivate challenge", err)
	} else if n == 0 {
		return notFound("challenge")
	}
	return nil
}

// Contribute credits amount to one participant and to the challenge total.
func (s *ChallengeService) Contribute(ctx context.Context, challengeID, userID string, amount int) (*models.Challenge, error) {
	if amount <= 0 {
		return nil, invalid("contribution must be positive, got %d", amount)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, persistence("begin contribution", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE challenge_participants SET contribution = contribution + ?
		WHERE challenge_id = ? AND user_id = ?`), amount, challengeID, userID)
	if err != nil {
		return nil, persistence("credit participant", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, persistence("credit participant", err)
	} else if n == 0 {
		return nil, notFound("participant")
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE challenges SET current_progress = current_progress + ? WHERE id = ?`), amount, challengeID); err != nil {
		return nil, persistence("credit challenge", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, persistence("commit contribution", err)
	}
	return s.Get(ctx, challengeID)
}

// ContributeMetric credits amount to every challenge counting metric that is
// running at now and that the user has joined. It returns how many were credited.
func (s *ChallengeService) ContributeMetric(ctx context.Context, userID string, metric models.Metric, amount int, now time.Time) (int, error) {
	if userID == "" {
		return 0, invalid("user id is required")
	}
	if amount <= 0 {
		return 0, nil
	}
	at := storedTime(now)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, persistence("begin contribution", err)
	}
	defer tx.Rollback()

	running := `SELECT id FROM challenges WHERE metric = ? AND is_active = TRUE AND start_date <= ? AND end_date >= ?`

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE challenge_participants SET contribution = contribution + ?
		WHERE user_id = ? AND challenge_id IN (`+running+`)`),
		amount, userID, metric, at, at)
	if err != nil {
		return 0, persistence("credit participants", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistence("credit participants", err)
	}
	if n == 0 {
		return 0, nil
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE challenges SET current_progress = current_progress + ?
		WHERE id IN (`+running+`)
		AND id IN (SELECT challenge_id FROM challenge_participants WHERE user_id = ?)`),
		amount, metric, at, at, userID); err != nil {
		return 0, persistence("credit challenges", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, persistence("commit contribution", err)
	}
	return int(n), nil
}

type challengeSeed struct {
	title       string
	description string
	kind        models.ChallengeType
	days        int
	target      int
	metric      models.Metric
	points      int
	badge       string
}

var defaultChallenges = []challengeSeed{
	{"Weekly Report Rush", "Submit 25 environmental reports this week to help identify and fix community issues!", models.ChallengeWeekly, 7, 25, models.MetricReports, 100, "Weekly Warrior"},
	{"Learning Sprint", "Complete 10 lessons this week and become an eco-expert!", models.ChallengeWeekly, 7, 10, models.MetricLessons, 150, "Knowledge Master"},
	{"Community Voice", "Post 50 comments this week to engage with your community!", models.ChallengeWeekly, 7, 50, models.MetricComments, 75, "Social Butterfly"},
	{"Point Collector", "Earn 500 points this week through all your eco-activities!", models.ChallengeWeekly, 7, 500, models.MetricPoints, 200, "Point Champion"},
	{"Monthly Impact Maker", "Submit 100 reports this month and make a real difference in your community!", models.ChallengeMonthly, 30, 100, models.MetricReports, 500, "Impact Maker"},
	{"Eco Education Master", "Complete all 10 lessons this month and become a certified eco-warrior!", models.ChallengeMonthly, 30, 10, models.MetricLessons, 300, "Eco Master"},
	{"Earth Day Special", "Celebrate Earth Day by submitting 50 reports about environmental issues!", models.ChallengeSpecial, 14, 50, models.MetricReports, 300, "Earth Day Hero"},
	{"Green Learning Challenge", "Complete 5 lessons in 3 days and unlock special rewards!", models.ChallengeSpecial, 3, 5, models.MetricLessons, 200, "Quick Learner"},
}

// SeedDefaults inserts the default challenge set, starting at now, when no
// challenges exist yet. It returns how many were inserted.
func (s *ChallengeService) SeedDefaults(ctx context.Context, now time.Time) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM challenges`); err != nil {
		return 0, persistence("count challenges", err)
	}
	if count > 0 {
		return 0, nil
	}

	for _, seed := range defaultChallenges {
		_, err := s.Create(ctx, &models.CreateChallengeRequest{
			Title:        seed.title,
			Description:  seed.description,
			Type:         seed.kind,
			StartDate:    now,
			EndDate:      now.AddDate(0, 0, seed.days),
			Target:       seed.target,
			Metric:       seed.metric,
			RewardPoints: seed.points,
			RewardBadge:  seed.badge,
		})
		if err != nil {
			return 0, err
		}
	}
	logger.New().With("count", len(defaultChallenges)).Info("Seeded default challenges")
	return len(defaultChallenges), nil
}
