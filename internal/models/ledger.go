package models

import (
	"time"
)

// ActionKind tags a user action that earns points and drives daily tasks.
type ActionKind string

const (
	ActionReportSubmitted    ActionKind = "report_submitted"
	ActionLessonCompleted    ActionKind = "lesson_completed"
	ActionCommentPosted      ActionKind = "comment_posted"
	ActionReportResolved     ActionKind = "report_resolved"
	ActionChallengeCompleted ActionKind = "challenge_completed"
	ActionDailyLogin         ActionKind = "daily_login"
	ActionDailyTask          ActionKind = "daily_task" // always awarded with an explicit amount
)

var pointValues = map[ActionKind]int{
	ActionReportSubmitted:    10,
	ActionLessonCompleted:    15,
	ActionCommentPosted:      5,
	ActionReportResolved:     20,
	ActionChallengeCompleted: 50,
	ActionDailyLogin:         5,
}

// Points returns the tabulated reward for the action, 0 for unknown kinds.
func (k ActionKind) Points() int {
	return pointValues[k]
}

// LevelFor derives the level from a point total: every 100 points is one level.
func LevelFor(points int) int {
	return points/100 + 1
}

type Impact struct {
	WasteReduced float64 `json:"wasteReduced" db:"waste_reduced"` // kg
	TreesPlanted float64 `json:"treesPlanted" db:"trees_planted"`
	WaterSaved   float64 `json:"waterSaved" db:"water_saved"` // liters
	CO2Reduced   float64 `json:"co2Reduced" db:"co2_reduced"` // kg
}

// LedgerEntry is the per-user aggregate of points, level and action counters.
type LedgerEntry struct {
	UserID           string `json:"userId" db:"user_id"`
	Points           int    `json:"points" db:"points"`
	Level            int    `json:"level" db:"level"`
	ReportsSubmitted int    `json:"reportsSubmitted" db:"reports_submitted"`
	LessonsCompleted int    `json:"lessonsCompleted" db:"lessons_completed"`
	CommentsPosted   int    `json:"commentsPosted" db:"comments_posted"`
	ReportsResolved  int    `json:"reportsResolved" db:"reports_resolved"`
	Impact           `json:"totalImpact"`
	Streak           int       `json:"streak" db:"streak"`
	LastActiveDate   string    `json:"lastActiveDate,omitempty" db:"last_active_date"`
	CreatedAt        time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time `json:"updatedAt" db:"updated_at"`
}

type LeaderboardEntry struct {
	Rank int `json:"rank"`
	LedgerEntry
}

// CommunityImpact aggregates every ledger entry plus the open challenge count.
type CommunityImpact struct {
	TotalUsers       int    `json:"totalUsers" db:"total_users"`
	TotalPoints      int    `json:"totalPoints" db:"total_points"`
	TotalImpact      Impact `json:"totalImpact"`
	ActiveChallenges int    `json:"activeChallenges"`
}

// RecordImpactRequest adds measured environmental impact to a user's totals.
type RecordImpactRequest struct {
	UserID string `json:"userId" validate:"required"`
	Impact Impact `json:"impact"`
}
