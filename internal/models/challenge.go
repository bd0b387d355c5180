package models

import (
	"time"
)

type ChallengeType string

const (
	ChallengeWeekly  ChallengeType = "weekly"
	ChallengeMonthly ChallengeType = "monthly"
	ChallengeSpecial ChallengeType = "special"
)

// Metric is what a challenge counts toward its target.
type Metric string

const (
	MetricReports  Metric = "reports"
	MetricLessons  Metric = "lessons"
	MetricComments Metric = "comments"
	MetricPoints   Metric = "points"
)

type Reward struct {
	Points int    `json:"points" db:"reward_points"`
	Badge  string `json:"badge,omitempty" db:"reward_badge"`
}

type Challenge struct {
	ID              string        `json:"id" db:"id"`
	Title           string        `json:"title" db:"title"`
	Description     string        `json:"description" db:"description"`
	Type            ChallengeType `json:"type" db:"type"`
	StartDate       time.Time     `json:"startDate" db:"start_date"`
	EndDate         time.Time     `json:"endDate" db:"end_date"`
	Target          int           `json:"target" db:"target"`
	CurrentProgress int           `json:"currentProgress" db:"current_progress"`
	Metric          Metric        `json:"metric" db:"metric"`
	Reward          `json:"reward"`
	Participants    []Participant `json:"participants" db:"-"`
	IsActive        bool          `json:"isActive" db:"is_active"`
	CreatedAt       time.Time     `json:"createdAt" db:"created_at"`
}

// OpenAt reports whether the challenge is still accepting participants at now.
func (c *Challenge) OpenAt(now time.Time) bool {
	return c.IsActive && !c.EndDate.Before(now)
}

func (c *Challenge) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

type Participant struct {
	ChallengeID  string    `json:"-" db:"challenge_id"`
	UserID       string    `json:"userId" db:"user_id"`
	Contribution int       `json:"contribution" db:"contribution"`
	JoinedAt     time.Time `json:"joinedAt" db:"joined_at"`
}

// CreateChallengeRequest provisions a challenge; content is administered outside this service.
type CreateChallengeRequest struct {
	Title        string        `json:"title" validate:"required,max=200"`
	Description  string        `json:"description" validate:"required"`
	Type         ChallengeType `json:"type" validate:"required,oneof=weekly monthly special"`
	StartDate    time.Time     `json:"startDate" validate:"required"`
	EndDate      time.Time     `json:"endDate" validate:"required,gtfield=StartDate"`
	Target       int           `json:"target" validate:"gt=0"`
	Metric       Metric        `json:"metric" validate:"required,oneof=reports lessons comments points"`
	RewardPoints int           `json:"rewardPoints" validate:"gte=0"`
	RewardBadge  string        `json:"rewardBadge" validate:"max=100"`
}

// MetricFor maps an action to the challenge metric it counts toward.
func MetricFor(kind ActionKind) (Metric, bool) {
	switch kind {
	case ActionReportSubmitted:
		return MetricReports, true
	case ActionLessonCompleted:
		return MetricLessons, true
	case ActionCommentPosted:
		return MetricComments, true
	}
	return "", false
}
