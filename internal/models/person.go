package models

import (
	"time"

	"github.com/google/uuid"
)

// Person is one recurring identity in a user's gallery.
type Person struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	UserID     string     `json:"user_id" db:"user_id"`
	Name       string     `json:"name" db:"name"`
	Context    string     `json:"context" db:"conversation_context"`
	FaceID     *uuid.UUID `json:"face_id,omitempty" db:"face_id"` // face the person was first enrolled from
	FirstMetAt time.Time  `json:"first_met_at" db:"first_met_at"`
	LastSeenAt time.Time  `json:"last_seen_at" db:"last_seen_at"`
	TimesMet   int        `json:"times_met" db:"times_met"`
}

type EncodingStatus string

const (
	EncodingPending EncodingStatus = "pending"
	EncodingLinked  EncodingStatus = "linked"
)

// Encoding is one stored embedding vector. Only linked encodings take part in matching.
type Encoding struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	FaceID    uuid.UUID      `json:"face_id" db:"face_id"`
	Vector    []float32      `json:"-" db:"encoding"`
	Model     string         `json:"model" db:"model_name"`
	PersonID  *uuid.UUID     `json:"person_id,omitempty" db:"person_id"`
	Status    EncodingStatus `json:"status" db:"status"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// Linked reports whether the encoding is attached to a person.
func (e *Encoding) Linked() bool {
	return e.Status == EncodingLinked && e.PersonID != nil
}

// PersonDistance is one row of the per-person nearest-neighbour aggregate.
type PersonDistance struct {
	PersonID uuid.UUID `json:"person_id"`
	Distance float64   `json:"distance"`
}
