package models

import "time"

// Submission is a validated contact form payload, as persisted in backups.
type Submission struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Message  string `json:"message"`
	Token    string `json:"token"`
	Consent  bool   `json:"consent"`
	Language string `json:"language"`
}

// BackupRecord is the on-disk envelope for one submission.
type BackupRecord struct {
	ID        string     `json:"id"`
	Timestamp int64      `json:"timestamp"` // unix seconds
	Date      string     `json:"date"`      // ISO-8601 with offset
	IP        string     `json:"ip"`
	Data      Submission `json:"data"`
}

// BackupEntry is one row of the backup index.
type BackupEntry struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	IP        string    `json:"ip"`
	Email     string    `json:"email"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
}

// FormEvent describes the outcome of one submission attempt for analytics.
type FormEvent struct {
	Type         string    `json:"type"`
	Reason       string    `json:"reason,omitempty"`
	SubmissionID string    `json:"submission_id,omitempty"`
	Language     string    `json:"language,omitempty"`
	IPHash       uint64    `json:"ip_hash"`
	OccurredAt   time.Time `json:"occurred_at"`
}

const (
	EventFormSubmit   = "form_submit"
	EventFormRejected = "form_rejected"
)
