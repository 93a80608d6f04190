package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job statuses as persisted by the database backends.
const (
	StatusPending  = "pending"
	StatusReserved = "reserved"
	StatusFailed   = "failed"
)

// Job is one queued mail send.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Mailer      string          `json:"mailer,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Tries       int             `json:"attempts"`
	AvailableAt time.Time       `json:"available_at"`
	CreatedAt   time.Time       `json:"created_at"`
	LastError   string          `json:"last_error,omitempty"`

	// ReservedAt is set by Reserve. Release, Delete and Bury only act on
	// the reservation it identifies, so a reclaimed job cannot be touched
	// by the worker that lost it.
	ReservedAt time.Time `json:"reserved_at"`

	released bool
}

// NewJob creates a job for mailer carrying payload encoded as JSON.
func NewJob(mailer string, payload any) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job payload: %w", err)
	}
	return &Job{
		ID:      uuid.New().String(),
		Mailer:  mailer,
		Payload: data,
	}, nil
}

// Attempts returns how many times the job has been reserved.
func (j *Job) Attempts() int {
	return j.Tries
}

// MailerName returns the mailer the job sends through.
func (j *Job) MailerName() string {
	return j.Mailer
}

// Released reports whether the job was handed back to the queue during the
// current attempt.
func (j *Job) Released() bool {
	return j.released
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to decode payload of job %s: %w", j.ID, err)
	}
	return nil
}

func (j *Job) prepare(queue string, now time.Time) {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	j.Queue = queue
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.AvailableAt.IsZero() {
		j.AvailableAt = now
	}
	if j.Payload == nil {
		j.Payload = json.RawMessage("null")
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
