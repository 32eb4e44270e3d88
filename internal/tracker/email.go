package tracker

import "time"

// EmailJob is an admin message to a race's runners, drained by the mail
// worker one job at a time.
type EmailJob struct {
	ID     int64
	RaceID int64
	// UnpaidReminder restricts the job to runners who have not paid and
	// adds a payment link to each message.
	UnpaidReminder bool
	Subject        string
	Body           string
	Status         EmailJobStatus
	Error          string
	Sent           int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ShirtCount is one line of a race's shirt pickup summary.
type ShirtCount struct {
	Size  ShirtSize
	Count int
}
