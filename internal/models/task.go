package models

import (
	"time"
)

type TaskType string

const (
	TaskReport  TaskType = "report"
	TaskLesson  TaskType = "lesson"
	TaskComment TaskType = "comment"
	TaskLogin   TaskType = "login"
	TaskStreak  TaskType = "streak"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskReport, TaskLesson, TaskComment, TaskLogin, TaskStreak:
		return true
	}
	return false
}

type TaskStatus string

const (
	TaskNotStarted TaskStatus = "not_started"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// TaskTemplate is a catalog entry that daily task instances are sampled from.
type TaskTemplate struct {
	Key          string
	Title        string
	Description  string
	Type         TaskType
	Target       int
	RewardPoints int
}

type TaskInstance struct {
	ID           string   `json:"id" db:"id"`
	SetID        string   `json:"-" db:"set_id"`
	Position     int      `json:"-" db:"sort_order"`
	Key          string   `json:"key" db:"template_key"`
	Title        string   `json:"title" db:"title"`
	Description  string   `json:"description" db:"description"`
	Type         TaskType `json:"type" db:"type"`
	Target       int      `json:"target" db:"target"`
	Current      int      `json:"current" db:"current_count"`
	Completed    bool     `json:"completed" db:"completed"`
	RewardPoints int      `json:"rewardPoints" db:"reward_points"`
}

func (t TaskInstance) Status() TaskStatus {
	switch {
	case t.Completed || t.Current >= t.Target:
		return TaskCompleted
	case t.Current > 0:
		return TaskInProgress
	default:
		return TaskNotStarted
	}
}

// DailyTaskSet is one user's quests for one calendar day.
type DailyTaskSet struct {
	ID             string         `json:"id" db:"id"`
	UserID         string         `json:"userId" db:"user_id"`
	DateKey        string         `json:"date" db:"date_key"`
	Tasks          []TaskInstance `json:"tasks" db:"-"`
	CompletedCount int            `json:"completedCount" db:"completed_count"`
	TotalTasks     int            `json:"totalTasks" db:"total_tasks"`
	CreatedAt      time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time      `json:"updatedAt" db:"updated_at"`
}

func (s *DailyTaskSet) Task(id string) *TaskInstance {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return &s.Tasks[i]
		}
	}
	return nil
}

const DateKeyLayout = "2006-01-02"

// DateKey names the calendar day t falls on in loc.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateKeyLayout)
}

// ValidDateKey reports whether s is a YYYY-MM-DD calendar date.
func ValidDateKey(s string) bool {
	_, err := time.Parse(DateKeyLayout, s)
	return err == nil
}

// PreviousDateKey returns the day before key, or "" if key is malformed.
func PreviousDateKey(key string) string {
	d, err := time.Parse(DateKeyLayout, key)
	if err != nil {
		return ""
	}
	return d.AddDate(0, 0, -1).Format(DateKeyLayout)
}
