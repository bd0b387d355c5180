package services

import (
	"context"

	"github.com/Wanchah/EcoEdu/internal/models"
)

// DefaultBadges are the milestones shown on a user's stats page.
var DefaultBadges = []models.BadgeDefinition{
	{ID: "first-steps", Icon: "🌱", Title: "First Steps", Description: "Earn your first 10 points", Category: "points", Threshold: 10},
	{ID: "eco-warrior", Icon: "⚔️", Title: "Eco Warrior", Description: "Earn 50 points", Category: "points", Threshold: 50},
	{ID: "green-champion", Icon: "🏆", Title: "Green Champion", Description: "Earn 100 points", Category: "points", Threshold: 100},
	{ID: "report-master", Icon: "📝", Title: "Report Master", Description: "Submit 10 reports", Category: "reports", Threshold: 10},
	{ID: "knowledge-seeker", Icon: "📚", Title: "Knowledge Seeker", Description: "Complete 5 lessons", Category: "lessons", Threshold: 5},
	{ID: "community-voice", Icon: "💬", Title: "Community Voice", Description: "Post 20 comments", Category: "comments", Threshold: 20},
	{ID: "problem-solver", Icon: "✅", Title: "Problem Solver", Description: "Have 5 of your reports resolved", Category: "resolved", Threshold: 5},
	{ID: "fire-starter", Icon: "🔥", Title: "Fire Starter", Description: "Keep a 7 day login streak", Category: "streak", Threshold: 7},
}

type BadgeService struct {
	ledger      *LedgerService
	definitions []models.BadgeDefinition
}

func NewBadgeService(ledger *LedgerService, definitions []models.BadgeDefinition) *BadgeService {
	if definitions == nil {
		definitions = DefaultBadges
	}
	return &BadgeService{ledger: ledger, definitions: definitions}
}

// GetUserBadges returns every badge with the user's progress, earned ones first.
func (s *BadgeService) GetUserBadges(ctx context.Context, userID string) ([]models.Badge, error) {
	entry, err := s.ledger.GetLedger(ctx, userID)
	if err != nil {
		return nil, err
	}

	badges := EvaluateBadges(entry, s.definitions)
	earned := make([]models.Badge, 0, len(badges))
	var pending []models.Badge
	for _, b := range badges {
		if b.Earned {
			earned = append(earned, b)
		} else {
			pending = append(pending, b)
		}
	}
	return append(earned, pending...), nil
}

// EvaluateBadges derives badge progress from a ledger entry. Progress is
// capped at the threshold; unknown categories never earn.
func EvaluateBadges(entry *models.LedgerEntry, definitions []models.BadgeDefinition) []models.Badge {
	badges := make([]models.Badge, 0, len(definitions))
	for _, def := range definitions {
		b := models.Badge{BadgeDefinition: def}
		if value, ok := entry.Counter(def.Category); ok {
			b.Progress = value
			if def.Threshold > 0 && b.Progress > def.Threshold {
				b.Progress = def.Threshold
			}
			b.Earned = def.Threshold > 0 && value >= def.Threshold
		}
		badges = append(badges, b)
	}
	return badges
}
