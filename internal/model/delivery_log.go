// internal/model/delivery_log.go
package model

import "time"

type DeliveryStatus string

const (
	StatusSent    DeliveryStatus = "sent"
	StatusFailed  DeliveryStatus = "failed"
	StatusPending DeliveryStatus = "pending"
)

func (s DeliveryStatus) Valid() bool {
	switch s {
	case StatusSent, StatusFailed, StatusPending:
		return true
	}
	return false
}

type DeliveryLogEntry struct {
	ID                string         `db:"id" json:"id"`
	RecipientID       string         `db:"recipient_id" json:"recipient_id"`
	RecipientEmail    string         `db:"recipient_email" json:"recipient_email"`
	RecipientName     string         `db:"recipient_name" json:"recipient_name"`
	Subject           string         `db:"subject" json:"subject"`
	HTMLContent       string         `db:"html_content" json:"html_content"`
	Status            DeliveryStatus `db:"status" json:"status"`
	SentAt            time.Time      `db:"sent_at" json:"sent_at"`
	ErrorMessage      *string        `db:"error_message" json:"error_message,omitempty"`
	ProviderMessageID *string        `db:"provider_message_id" json:"provider_message_id,omitempty"`
}

// DeliveryLogInput is a log entry before the store assigns ID and SentAt.
type DeliveryLogInput struct {
	RecipientID       string
	RecipientEmail    string
	RecipientName     string
	Subject           string
	HTMLContent       string
	Status            DeliveryStatus
	ErrorMessage      *string
	ProviderMessageID *string
}

type DeliveryCounts struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// SuccessRate is sent/total as a percentage, 100 when nothing was attempted.
func (c DeliveryCounts) SuccessRate() float64 {
	if c.Total == 0 {
		return 100
	}
	return float64(c.Sent) / float64(c.Total) * 100
}

type DailyStats struct {
	DeliveryCounts
	Since       time.Time `json:"since"`
	SuccessRate float64   `json:"success_rate"`
}

type DashboardStats struct {
	TotalRecipients int     `json:"total_recipients"`
	EmailsSentToday int     `json:"emails_sent_today"`
	SuccessRate     float64 `json:"success_rate"`
}
