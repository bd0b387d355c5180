package models

// ActionHookRequest is sent by a content service after it committed a report or comment.
type ActionHookRequest struct {
	UserID string `json:"userId" validate:"required"`
}

// LessonProgressHookRequest carries the full saved lesson-progress map keys for a user.
type LessonProgressHookRequest struct {
	UserID             string   `json:"userId" validate:"required"`
	CompletedLessonIDs []string `json:"completedLessonIds" validate:"dive,required"`
}
