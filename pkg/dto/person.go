package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/visage/internal/models"
)

const timeLayout = time.RFC3339

type PersonResponse struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Context    string    `json:"context,omitempty"`
	FirstMetAt string    `json:"first_met_at"`
	LastSeenAt string    `json:"last_seen_at"`
	TimesMet   int       `json:"times_met"`
}

func NewPersonResponse(p *models.Person) *PersonResponse {
	if p == nil {
		return nil
	}
	return &PersonResponse{
		ID:         p.ID,
		Name:       p.Name,
		Context:    p.Context,
		FirstMetAt: p.FirstMetAt.Format(timeLayout),
		LastSeenAt: p.LastSeenAt.Format(timeLayout),
		TimesMet:   p.TimesMet,
	}
}

type PersonListResponse struct {
	People []PersonResponse `json:"people"`
	Total  int              `json:"total"`
}

func NewPersonList(people []models.Person) PersonListResponse {
	out := make([]PersonResponse, 0, len(people))
	for i := range people {
		out = append(out, *NewPersonResponse(&people[i]))
	}
	return PersonListResponse{People: out, Total: len(out)}
}

// FaceResponse describes a stored face. Box coordinates are in analysis-frame
// pixels; divide by the photo scale for original-image pixels.
type FaceResponse struct {
	ID         uuid.UUID  `json:"id"`
	Box        models.Box `json:"box"`
	Confidence float32    `json:"confidence"`
}

func NewFaceResponse(f models.Face) FaceResponse {
	return FaceResponse{ID: f.ID, Box: f.Box, Confidence: f.Confidence}
}

type FirstMeetingResponse struct {
	Person       *PersonResponse `json:"person"`
	PhotoID      uuid.UUID       `json:"photo_id"`
	Face         FaceResponse    `json:"face"`
	Deduplicated bool            `json:"deduplicated"`
	Distance     *float64        `json:"distance,omitempty"`
}

type RecognizeResponse struct {
	Recognized bool            `json:"recognized"`
	Outcome    string          `json:"outcome"`
	Person     *PersonResponse `json:"person,omitempty"`
	Distance   *float64        `json:"distance,omitempty"`
	Threshold  float64         `json:"threshold"`
	PhotoID    uuid.UUID       `json:"photo_id"`
	Face       FaceResponse    `json:"face"`
	AngleAdded bool            `json:"angle_added"`
}

type GroupFaceResponse struct {
	Face       FaceResponse    `json:"face"`
	Recognized bool            `json:"recognized"`
	Outcome    string          `json:"outcome"`
	Person     *PersonResponse `json:"person,omitempty"`
	Distance   *float64        `json:"distance,omitempty"`
}

type GroupResponse struct {
	PhotoID   uuid.UUID           `json:"photo_id"`
	Threshold float64             `json:"threshold"`
	Faces     []GroupFaceResponse `json:"faces"`
}

type EncodingResponse struct {
	ID        uuid.UUID `json:"id"`
	FaceID    uuid.UUID `json:"face_id"`
	PersonID  uuid.UUID `json:"person_id"`
	Model     string    `json:"model"`
	CreatedAt string    `json:"created_at"`
}

func NewEncodingResponse(e *models.Encoding) EncodingResponse {
	r := EncodingResponse{ID: e.ID, FaceID: e.FaceID, Model: e.Model, CreatedAt: e.CreatedAt.Format(timeLayout)}
	if e.PersonID != nil {
		r.PersonID = *e.PersonID
	}
	return r
}

type CaptureAcceptedResponse struct {
	CaptureID uuid.UUID `json:"capture_id"`
	Status    string    `json:"status"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error    string `json:"error"`
	Reason   string `json:"reason,omitempty"`
	Detected int    `json:"detected,omitempty"`
}
