// Package identity defines the storage capability the matching and enrollment
// engine runs against. Implementations live in internal/storage.
package identity

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/visage/internal/models"
)

// NewCapture groups the rows written when an image is accepted.
type NewCapture struct {
	UserID      string
	Filename    string
	Data        []byte
	FrameWidth  int
	FrameHeight int
	Scale       float64
	// CaptureID is unique per user. A second photo with the same id fails.
	CaptureID *uuid.UUID
}

// NewFace is an accepted detection to persist under a photo.
type NewFace struct {
	Box        models.Box
	Crop       []byte
	Confidence float32
}

// NewPerson carries the fields set when a person is first enrolled.
type NewPerson struct {
	UserID  string
	Name    string
	Context string
	FaceID  *uuid.UUID
	MetAt   time.Time
}

// Reader is the read side of the store. All lookups are scoped by user.
type Reader interface {
	GetPerson(ctx context.Context, userID string, id uuid.UUID) (*models.Person, error)
	// FindPersonsByName returns persons whose name contains name, ignoring case,
	// most recently seen first.
	FindPersonsByName(ctx context.Context, userID, name string) ([]models.Person, error)
	ListPersons(ctx context.Context, userID string, limit, offset int) ([]models.Person, error)
	// NearestPersons returns, for each person with at least one linked encoding of
	// the given model on a photo owned by userID, the minimum L2 distance to
	// query. Ordered by distance ascending, ties by person id.
	NearestPersons(ctx context.Context, userID string, query []float32, model string, limit int) ([]models.PersonDistance, error)
	// ListLinkedEncodings returns the linked encodings of the model whose face
	// belongs to a photo owned by userID.
	ListLinkedEncodings(ctx context.Context, userID, model string) ([]models.Encoding, error)
	CountEncodings(ctx context.Context, personID uuid.UUID) (int, error)
	// HasCapture reports whether a photo was already stored for the capture.
	HasCapture(ctx context.Context, userID string, captureID uuid.UUID) (bool, error)
}

// Writer is the mutating side of the store.
type Writer interface {
	CreatePhoto(ctx context.Context, c NewCapture) (*models.Photo, error)
	CreateFace(ctx context.Context, photoID uuid.UUID, f NewFace) (*models.Face, error)
	// CreateEncoding stores a pending encoding for a face on one of userID's
	// photos. A face of another user's photo gives ErrNotFound.
	CreateEncoding(ctx context.Context, userID string, faceID uuid.UUID, vector []float32, model string) (*models.Encoding, error)
	CreatePerson(ctx context.Context, p NewPerson) (*models.Person, error)
	LinkEncoding(ctx context.Context, encodingID, personID uuid.UUID) error
	CreateTranscript(ctx context.Context, t models.Transcript) (*models.Transcript, error)
	// RecordSighting sets last_seen_at and increments times_met, returning the updated row.
	RecordSighting(ctx context.Context, userID string, personID uuid.UUID, at time.Time) (*models.Person, error)
	DeletePerson(ctx context.Context, userID string, id uuid.UUID) error
	// LockUser serializes enrollment for one user until the transaction ends.
	LockUser(ctx context.Context, userID string) error
}

// Tx is the view of the store inside a transaction.
type Tx interface {
	Reader
	Writer
}

// Store is a transactional identity store.
type Store interface {
	Tx
	// InTx runs fn in one transaction. fn returning an error rolls back everything.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close()
}
