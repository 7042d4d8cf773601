package dto

import (
	"github.com/google/uuid"

	"github.com/your-org/visage/internal/models"
)

// WSEvent is a WebSocket message for real-time event delivery.
type WSEvent struct {
	Type       string     `json:"type"` // person_enrolled, person_recognized, no_match, no_usable_face, angle_added
	CaptureID  *uuid.UUID `json:"capture_id,omitempty"`
	PhotoID    *uuid.UUID `json:"photo_id,omitempty"`
	PersonID   *uuid.UUID `json:"person_id,omitempty"`
	PersonName string     `json:"person_name,omitempty"`
	Distance   *float64   `json:"distance,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Timestamp  string     `json:"timestamp"`
}

func NewWSEvent(ev models.RecognitionEvent) WSEvent {
	return WSEvent{
		Type:       string(ev.Type),
		CaptureID:  ev.CaptureID,
		PhotoID:    ev.PhotoID,
		PersonID:   ev.PersonID,
		PersonName: ev.PersonName,
		Distance:   ev.Distance,
		Reason:     ev.Reason,
		Timestamp:  ev.Timestamp.Format(timeLayout),
	}
}
