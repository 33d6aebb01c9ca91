// internal/model/message.go
package model

// Message is the content broadcast to every recipient of one dispatch run.
type Message struct {
	Subject     string `json:"subject" validate:"required"`
	HTMLContent string `json:"html_content" validate:"required"`
}

// DeliveryAttempt is the outcome of sending a Message to one recipient.
type DeliveryAttempt struct {
	RecipientID       string
	RecipientEmail    string
	RecipientName     string
	Status            DeliveryStatus
	ProviderMessageID string
	ErrorReason       string
}

// LogInput maps the attempt to the log entry written for it.
func (a DeliveryAttempt) LogInput(msg Message) DeliveryLogInput {
	in := DeliveryLogInput{
		RecipientID:    a.RecipientID,
		RecipientEmail: a.RecipientEmail,
		RecipientName:  a.RecipientName,
		Subject:        msg.Subject,
		HTMLContent:    msg.HTMLContent,
		Status:         a.Status,
	}
	switch a.Status {
	case StatusSent:
		id := a.ProviderMessageID
		in.ProviderMessageID = &id
	case StatusFailed:
		reason := a.ErrorReason
		in.ErrorMessage = &reason
	}
	return in
}

// DispatchResult is the tally of one dispatch run.
type DispatchResult struct {
	Sent      int  `json:"sent"`
	Failed    int  `json:"failed"`
	Total     int  `json:"total"`
	Unlogged  int  `json:"unlogged,omitempty"`
	Cancelled bool `json:"cancelled,omitempty"`
}
