package services

import (
	"math/rand"
	"sync"
	"time"

	"github.com/Wanchah/EcoEdu/internal/models"
)

// DefaultCatalog is the pool daily tasks are drawn from. Keys are stable
// because clients may key UI state on them.
var DefaultCatalog = []models.TaskTemplate{
	{Key: "daily_report", Title: "Submit a Report", Description: "Report an environmental issue in your community", Type: models.TaskReport, Target: 1, RewardPoints: 10},
	{Key: "report_trio", Title: "Community Watch", Description: "Submit three reports today", Type: models.TaskReport, Target: 3, RewardPoints: 25},
	{Key: "daily_lesson", Title: "Complete a Lesson", Description: "Learn something new about the environment", Type: models.TaskLesson, Target: 1, RewardPoints: 15},
	{Key: "lesson_pair", Title: "Study Session", Description: "Complete two lessons today", Type: models.TaskLesson, Target: 2, RewardPoints: 25},
	{Key: "daily_comment", Title: "Engage with Community", Description: "Post a comment on a report", Type: models.TaskComment, Target: 1, RewardPoints: 5},
	{Key: "comment_three", Title: "Join the Conversation", Description: "Post three comments on reports", Type: models.TaskComment, Target: 3, RewardPoints: 15},
	{Key: "daily_login", Title: "Check In", Description: "Open the app today", Type: models.TaskLogin, Target: 1, RewardPoints: 5},
	{Key: "keep_streak", Title: "Keep the Streak", Description: "Log in again to extend your daily streak", Type: models.TaskStreak, Target: 1, RewardPoints: 10},
}

// Sampler draws distinct templates from a catalog. It is safe for concurrent use.
type Sampler struct {
	mu      sync.Mutex
	rng     *rand.Rand
	catalog []models.TaskTemplate
}

// NewSampler uses rng for every draw; a nil rng is seeded from the clock.
func NewSampler(catalog []models.TaskTemplate, rng *rand.Rand) *Sampler {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Sampler{rng: rng, catalog: catalog}
}

// Sample returns n templates without replacement, or the whole catalog in
// random order when n exceeds its size.
func (s *Sampler) Sample(n int) []models.TaskTemplate {
	if n > len(s.catalog) {
		n = len(s.catalog)
	}
	if n <= 0 {
		return nil
	}

	s.mu.Lock()
	perm := s.rng.Perm(len(s.catalog))
	s.mu.Unlock()

	picked := make([]models.TaskTemplate, n)
	for i := 0; i < n; i++ {
		picked[i] = s.catalog[perm[i]]
	}
	return picked
}
