package models

import (
	"time"
)

type EventType string

const (
	EventTaskCompleted   EventType = "task_completed"
	EventChallengeJoined EventType = "challenge_joined"
	EventPointsAwarded   EventType = "points_awarded"
)

// Event is a state change pushed to connected observers.
type Event struct {
	Type    EventType   `json:"type"`
	UserID  string      `json:"userId"`
	Payload interface{} `json:"payload,omitempty"`
	At      time.Time   `json:"at"`
}

type PointsAwardedPayload struct {
	Action ActionKind `json:"action"`
	Delta  int        `json:"delta"`
	Points int        `json:"points"`
	Level  int        `json:"level"`
}

type TaskCompletedPayload struct {
	DateKey string       `json:"date"`
	Task    TaskInstance `json:"task"`
}

type ChallengeJoinedPayload struct {
	ChallengeID  string `json:"challengeId"`
	Title        string `json:"title"`
	Participants int    `json:"participants"`
}
