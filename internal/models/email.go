package models

import (
	"errors"
	"time"
)

type EmailStatus string

const (
	StatusPending    EmailStatus = "pending"
	StatusProcessing EmailStatus = "processing"
	StatusSent       EmailStatus = "sent"
	StatusFailed     EmailStatus = "failed"
)

// MaxAttempts is the delivery attempt cap. A job that fails while holding
// its third claim is terminal.
const MaxAttempts = 3

// ErrTemplateNotFound is returned when a job references a template type
// that has no active row. Delivery can never succeed for such a job.
var ErrTemplateNotFound = errors.New("email template not found")

// EmailJob is one queued request to send a single email. Rows are never
// deleted; terminal rows remain for audit.
type EmailJob struct {
	ID           int64             `json:"id"`
	ToEmail      string            `json:"to_email"`
	TemplateType string            `json:"template_type"`
	Variables    map[string]string `json:"variables"`
	Status       EmailStatus       `json:"status"`
	ScheduledFor time.Time         `json:"scheduled_for"`
	Attempts     int               `json:"attempts"`
	LastError    string            `json:"last_error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// EmailTemplate is the rendering source for one template type. Subject and
// HTML may contain {{token}} placeholders. Templates are edited elsewhere;
// this pipeline only reads them.
type EmailTemplate struct {
	Type    string `json:"type"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// EmailLog is one append-only audit row, written once per delivery attempt
// that reached a result. A job retried twice leaves three rows.
type EmailLog struct {
	ID           int64             `json:"id"`
	UserEmail    string            `json:"user_email"`
	TemplateType string            `json:"template_type"`
	Status       EmailStatus       `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Metadata     map[string]string `json:"metadata"`
	CreatedAt    time.Time         `json:"created_at"`
}
