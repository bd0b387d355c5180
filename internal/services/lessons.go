package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/Wanchah/EcoEdu/internal/database"
)

// LessonDelta compares the size of a saved lesson-progress map with the
// previously stored size.
//
// Only counts are compared, so completing one lesson while another is
// removed from the map reads as no change.
type LessonDelta struct {
	Previous       int
	Current        int
	NewlyCompleted int
}

type LessonProgressService struct {
	db  *database.DB
	now func() time.Time
}

func NewLessonProgressService(db *database.DB) *LessonProgressService {
	return &LessonProgressService{db: db, now: time.Now}
}

// Save stores the user's completed lesson ids and returns the count delta
// against what was stored before.
func (s *LessonProgressService) Save(ctx context.Context, userID string, lessonIDs []string) (*LessonDelta, error) {
	if userID == "" {
		return nil, invalid("user id is required")
	}
	ids := uniqueIDs(lessonIDs)
	encoded, err := json.Marshal(ids)
	if err != nil {
		return nil, invalid("lesson ids: %v", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, persistence("begin lesson progress", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()

	// Create the row if needed, then lock it with a no-op update so concurrent
	// saves for the same user read the stored count one at a time.
	ensure := `
		INSERT INTO lesson_progress (user_id, lesson_ids, completed_count, updated_at)
		VALUES (?, '[]', 0, ?)
		ON CONFLICT (user_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, tx.Rebind(ensure), userID, now); err != nil {
		return nil, persistence("create lesson progress", err)
	}
	lock := `UPDATE lesson_progress SET completed_count = completed_count WHERE user_id = ?`
	if _, err := tx.ExecContext(ctx, tx.Rebind(lock), userID); err != nil {
		return nil, persistence("lock lesson progress", err)
	}

	var previous int
	err = tx.GetContext(ctx, &previous, tx.Rebind(`SELECT completed_count FROM lesson_progress WHERE user_id = ?`), userID)
	if err != nil {
		return nil, persistence("get lesson progress", err)
	}

	update := `UPDATE lesson_progress SET lesson_ids = ?, completed_count = ?, updated_at = ? WHERE user_id = ?`
	if _, err := tx.ExecContext(ctx, tx.Rebind(update), string(encoded), len(ids), now, userID); err != nil {
		return nil, persistence("save lesson progress", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, persistence("commit lesson progress", err)
	}

	delta := &LessonDelta{Previous: previous, Current: len(ids)}
	if delta.Current > delta.Previous {
		delta.NewlyCompleted = delta.Current - delta.Previous
	}
	return delta, nil
}

// Get returns the stored completed lesson ids, empty when nothing was saved.
func (s *LessonProgressService) Get(ctx context.Context, userID string) ([]string, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, s.db.Rebind(`SELECT lesson_ids FROM lesson_progress WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return []string{}, nil
	} else if err != nil {
		return nil, persistence("get lesson progress", err)
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, persistence("decode lesson progress", err)
	}
	return ids, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
