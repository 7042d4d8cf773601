package models

import (
	"time"

	"github.com/google/uuid"
)

// Photo is one captured image. Data holds the bytes as received; FrameWidth,
// FrameHeight and Scale describe the analysis frame the face boxes refer to.
type Photo struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	UserID      string     `json:"user_id" db:"user_id"`
	Filename    string     `json:"filename" db:"filename"`
	Data        []byte     `json:"-" db:"image_data"`
	FrameWidth  int        `json:"frame_width" db:"frame_width"`
	FrameHeight int        `json:"frame_height" db:"frame_height"`
	Scale       float64    `json:"scale" db:"scale"`
	CaptureID   *uuid.UUID `json:"capture_id,omitempty" db:"capture_id"` // set for queued captures
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// Box is a face rectangle in analysis-frame pixels.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

func (b Box) Area() int {
	return b.W * b.H
}

// Face is one accepted detection within a photo.
type Face struct {
	ID         uuid.UUID `json:"id" db:"id"`
	PhotoID    uuid.UUID `json:"photo_id" db:"photo_id"`
	Box        Box       `json:"box"`
	Crop       []byte    `json:"-" db:"face_image_data"`
	Confidence float32   `json:"confidence" db:"confidence"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Transcript is the conversation snippet captured together with a photo.
type Transcript struct {
	ID            uuid.UUID `json:"id" db:"id"`
	PhotoID       uuid.UUID `json:"photo_id" db:"photo_id"`
	RawText       string    `json:"raw_text" db:"raw_text"`
	ExtractedName string    `json:"extracted_name" db:"extracted_name"`
	Context       string    `json:"context" db:"context"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// RawDetection is what an embedding source reports for one face.
type RawDetection struct {
	Box        Box
	Confidence float32
	Vector     []float32
}
