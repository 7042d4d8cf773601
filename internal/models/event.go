package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventPersonEnrolled   EventType = "person_enrolled"
	EventPersonRecognized EventType = "person_recognized"
	EventNoMatch          EventType = "no_match"
	EventNoUsableFace     EventType = "no_usable_face"
	EventAngleAdded       EventType = "angle_added"
)

// CaptureTask is the message published to NATS for asynchronous recognition.
type CaptureTask struct {
	CaptureID  uuid.UUID `json:"capture_id"`
	UserID     string    `json:"user_id"`
	ObjectKey  string    `json:"object_key"` // MinIO key of the uploaded image
	Filename   string    `json:"filename"`
	Threshold  *float64  `json:"threshold,omitempty"`
	AddAngle   bool      `json:"add_angle,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// RecognitionEvent is published on the EVENTS stream after a capture is processed.
type RecognitionEvent struct {
	Type       EventType  `json:"type"`
	UserID     string     `json:"user_id"`
	CaptureID  *uuid.UUID `json:"capture_id,omitempty"`
	PhotoID    *uuid.UUID `json:"photo_id,omitempty"`
	PersonID   *uuid.UUID `json:"person_id,omitempty"`
	PersonName string     `json:"person_name,omitempty"`
	Distance   *float64   `json:"distance,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}
