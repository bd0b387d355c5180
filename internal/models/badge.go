package models

// BadgeDefinition is a milestone earned once a ledger counter reaches Threshold.
type BadgeDefinition struct {
	ID          string `json:"id"`
	Icon        string `json:"icon"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"` // points, reports, lessons, comments, resolved, streak
	Threshold   int    `json:"threshold"`
}

// Badge is a definition together with one user's progress toward it.
type Badge struct {
	BadgeDefinition
	Progress int  `json:"progress"`
	Earned   bool `json:"earned"`
}

// Counter returns the ledger value a badge category tracks.
func (e *LedgerEntry) Counter(category string) (int, bool) {
	switch category {
	case "points":
		return e.Points, true
	case "reports":
		return e.ReportsSubmitted, true
	case "lessons":
		return e.LessonsCompleted, true
	case "comments":
		return e.CommentsPosted, true
	case "resolved":
		return e.ReportsResolved, true
	case "streak":
		return e.Streak, true
	}
	return 0, false
}
