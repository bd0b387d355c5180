package services

import (
	"context"
	"time"

	"github.com/Wanchah/EcoEdu/internal/database"
	"github.com/Wanchah/EcoEdu/internal/logger"
	"github.com/Wanchah/EcoEdu/internal/models"
)

const ledgerColumns = `user_id, points, level, reports_submitted, lessons_completed, comments_posted, reports_resolved,
	waste_reduced, trees_planted, water_saved, co2_reduced, streak, last_active_date, created_at, updated_at`

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// Awarder grants points; implemented by LedgerService.
type Awarder interface {
	Award(ctx context.Context, userID string, kind models.ActionKind, explicitAmount int) *models.LedgerEntry
}

type LedgerService struct {
	db  *database.DB
	now func() time.Time
}

func NewLedgerService(db *database.DB) *LedgerService {
	return &LedgerService{db: db, now: time.Now}
}

// RewardFor is the point delta an award applies: the explicit amount when
// nonzero, the tabulated value otherwise.
func RewardFor(kind models.ActionKind, explicitAmount int) int {
	if explicitAmount != 0 {
		return explicitAmount
	}
	return kind.Points()
}

// Award adds the reward for kind to the user's ledger, creating the entry on
// first use. Failures are logged and reported as nil; they never propagate to
// the action that triggered the award.
func (s *LedgerService) Award(ctx context.Context, userID string, kind models.ActionKind, explicitAmount int) *models.LedgerEntry {
	entry, err := s.award(ctx, userID, kind, explicitAmount)
	if err != nil {
		logger.New().With("user_id", userID, "action", string(kind)).WithError(err).Error("Failed to award points")
		return nil
	}
	return entry
}

func (s *LedgerService) award(ctx context.Context, userID string, kind models.ActionKind, explicitAmount int) (*models.LedgerEntry, error) {
	if userID == "" {
		return nil, invalid("user id is required")
	}
	if explicitAmount < 0 {
		return nil, invalid("award amount must not be negative, got %d", explicitAmount)
	}

	delta := RewardFor(kind, explicitAmount)
	var reports, lessons, comments, resolved int
	switch kind {
	case models.ActionReportSubmitted:
		reports = 1
	case models.ActionLessonCompleted:
		lessons = 1
	case models.ActionCommentPosted:
		comments = 1
	case models.ActionReportResolved:
		resolved = 1
	}

	// Single upsert so concurrent first-time awards collapse onto one row and
	// increments never go through a read-modify-write.
	query := `
		INSERT INTO ledger_entries (user_id, points, level, reports_submitted, lessons_completed, comments_posted, reports_resolved, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			points = ledger_entries.points + excluded.points,
			level = (ledger_entries.points + excluded.points) / 100 + 1,
			reports_submitted = ledger_entries.reports_submitted + excluded.reports_submitted,
			lessons_completed = ledger_entries.lessons_completed + excluded.lessons_completed,
			comments_posted = ledger_entries.comments_posted + excluded.comments_posted,
			reports_resolved = ledger_entries.reports_resolved + excluded.reports_resolved,
			updated_at = excluded.updated_at`

	now := s.now().UTC()
	return s.upsert(ctx, "award points", userID, query,
		userID, delta, models.LevelFor(delta), reports, lessons, comments, resolved, now, now)
}

// upsert applies query and reads the resulting entry back in one transaction.
func (s *LedgerService) upsert(ctx context.Context, op, userID, query string, args ...interface{}) (*models.LedgerEntry, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, persistence(op, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return nil, persistence(op, err)
	}
	var entry models.LedgerEntry
	if err := tx.GetContext(ctx, &entry, tx.Rebind(`SELECT `+ledgerColumns+` FROM ledger_entries WHERE user_id = ?`), userID); err != nil {
		return nil, persistence(op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, persistence(op, err)
	}
	return &entry, nil
}

// GetLedger returns the user's entry, creating an empty one on first access.
func (s *LedgerService) GetLedger(ctx context.Context, userID string) (*models.LedgerEntry, error) {
	if userID == "" {
		return nil, invalid("user id is required")
	}
	if err := s.ensureEntry(ctx, userID); err != nil {
		return nil, err
	}

	var entry models.LedgerEntry
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE user_id = ?`
	if err := s.db.GetContext(ctx, &entry, s.db.Rebind(query), userID); err != nil {
		return nil, persistence("get ledger", err)
	}
	return &entry, nil
}

func (s *LedgerService) ensureEntry(ctx context.Context, userID string) error {
	now := s.now().UTC()
	query := `
		INSERT INTO ledger_entries (user_id, points, level, created_at, updated_at)
		VALUES (?, 0, 1, ?, ?)
		ON CONFLICT (user_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), userID, now, now); err != nil {
		return persistence("create ledger entry", err)
	}
	return nil
}

// Leaderboard returns up to limit entries ordered by points, highest first.
func (s *LedgerService) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}

	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries ORDER BY points DESC, user_id ASC LIMIT ?`
	var entries []models.LedgerEntry
	if err := s.db.SelectContext(ctx, &entries, s.db.Rebind(query), limit); err != nil {
		return nil, persistence("get leaderboard", err)
	}

	board := make([]models.LeaderboardEntry, len(entries))
	for i, e := range entries {
		board[i] = models.LeaderboardEntry{Rank: i + 1, LedgerEntry: e}
	}
	return board, nil
}

// RecordLogin marks dateKey as an active day for the user and maintains the
// login streak. It reports whether this was the first login of that day.
func (s *LedgerService) RecordLogin(ctx context.Context, userID, dateKey string) (bool, error) {
	if userID == "" {
		return false, invalid("user id is required")
	}
	if !models.ValidDateKey(dateKey) {
		return false, invalid("malformed date %q", dateKey)
	}
	if err := s.ensureEntry(ctx, userID); err != nil {
		return false, err
	}

	query := `
		UPDATE ledger_entries SET
			streak = CASE WHEN last_active_date = ? THEN streak + 1 ELSE 1 END,
			last_active_date = ?,
			updated_at = ?
		WHERE user_id = ? AND last_active_date < ?`
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query),
		models.PreviousDateKey(dateKey), dateKey, s.now().UTC(), userID, dateKey)
	if err != nil {
		return false, persistence("record login", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistence("record login", err)
	}
	return n == 1, nil
}

// RecordImpact adds measured environmental impact to the user's totals.
func (s *LedgerService) RecordImpact(ctx context.Context, req *models.RecordImpactRequest) (*models.LedgerEntry, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	in := req.Impact
	if in.WasteReduced < 0 || in.TreesPlanted < 0 || in.WaterSaved < 0 || in.CO2Reduced < 0 {
		return nil, invalid("impact values must not be negative")
	}

	query := `
		INSERT INTO ledger_entries (user_id, points, level, waste_reduced, trees_planted, water_saved, co2_reduced, created_at, updated_at)
		VALUES (?, 0, 1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			waste_reduced = ledger_entries.waste_reduced + excluded.waste_reduced,
			trees_planted = ledger_entries.trees_planted + excluded.trees_planted,
			water_saved = ledger_entries.water_saved + excluded.water_saved,
			co2_reduced = ledger_entries.co2_reduced + excluded.co2_reduced,
			updated_at = excluded.updated_at`

	now := s.now().UTC()
	return s.upsert(ctx, "record impact", req.UserID, query,
		req.UserID, in.WasteReduced, in.TreesPlanted, in.WaterSaved, in.CO2Reduced, now, now)
}

// CommunityImpact sums every ledger entry and counts the challenges open at now.
func (s *LedgerService) CommunityImpact(ctx context.Context, now time.Time) (*models.CommunityImpact, error) {
	var totals struct {
		TotalUsers  int `db:"total_users"`
		TotalPoints int `db:"total_points"`
		models.Impact
	}
	query := `
		SELECT
			COUNT(*) AS total_users,
			COALESCE(SUM(points), 0) AS total_points,
			COALESCE(SUM(waste_reduced), 0) AS waste_reduced,
			COALESCE(SUM(trees_planted), 0) AS trees_planted,
			COALESCE(SUM(water_saved), 0) AS water_saved,
			COALESCE(SUM(co2_reduced), 0) AS co2_reduced
		FROM ledger_entries`
	if err := s.db.GetContext(ctx, &totals, query); err != nil {
		return nil, persistence("sum community impact", err)
	}

	var active int
	countQuery := `SELECT COUNT(*) FROM challenges WHERE is_active = TRUE AND end_date >= ?`
	if err := s.db.GetContext(ctx, &active, s.db.Rebind(countQuery), storedTime(now)); err != nil {
		return nil, persistence("count active challenges", err)
	}

	return &models.CommunityImpact{
		TotalUsers:       totals.TotalUsers,
		TotalPoints:      totals.TotalPoints,
		TotalImpact:      totals.Impact,
		ActiveChallenges: active,
	}, nil
}

// storedTime normalizes timestamps so SQLite's textual comparison orders them correctly.
func storedTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
