// internal/model/broadcast_job.go
package model

import "time"

type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// BroadcastJob tracks a broadcast queued for asynchronous dispatch.
type BroadcastJob struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	HTMLContent string    `json:"html_content,omitempty"`
	State       JobState  `json:"state"`
	Processed   int       `json:"processed"`
	Total       int       `json:"total"`
	Sent        int       `json:"sent"`
	Failed      int       `json:"failed"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (j BroadcastJob) Message() Message {
	return Message{Subject: j.Subject, HTMLContent: j.HTMLContent}
}
