// Package enroll links embeddings to persons: it creates a person on first
// sighting, attaches further angles to an existing person and records sightings.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/visage/internal/embedding"
	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/models"
)

var (
	ErrPersonNotFound = errors.New("person not found")
	// ErrFaceNotFound is returned when the face does not belong to a photo of
	// the enrolling user.
	ErrFaceNotFound = errors.New("face not found")
)

// TransactionError reports an enrollment whose transaction was rolled back.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("enrollment %s failed: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// TxError classifies the error of a rolled back transaction that enrolled.
// Missing persons or faces and invalid vectors pass through unchanged.
func TxError(op string, err error) error {
	var de *embedding.DimensionError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPersonNotFound), errors.Is(err, ErrFaceNotFound),
		errors.Is(err, embedding.ErrEmptyVector), errors.Is(err, embedding.ErrZeroVector),
		errors.As(err, &de):
		return err
	}
	var te *TransactionError
	if errors.As(err, &te) {
		return err
	}
	return &TransactionError{Op: op, Err: err}
}

// NewPerson describes a first-sighting enrollment. FaceID must reference a
// face already persisted on a photo of UserID.
type NewPerson struct {
	UserID  string
	Name    string
	Context string
	FaceID  uuid.UUID
	Vector  []float32
	// DedupeThreshold > 0 re-checks the gallery inside the transaction and links
	// to the nearest person instead when it is closer than the threshold.
	DedupeThreshold float64
}

// Result is the outcome of EnrollNew.
type Result struct {
	Person       *models.Person
	Encoding     *models.Encoding
	Deduplicated bool
	Distance     *float64 // set when Deduplicated
}

// Coordinator enrolls against a store. The *Tx methods run inside a
// transaction owned by the caller, so enrollment can commit together with the
// photo it came from; the others open their own.
type Coordinator struct {
	store identity.Store
	model string
	dim   int
	now   func() time.Time
}

func NewCoordinator(store identity.Store, model string, dim int) *Coordinator {
	return &Coordinator{store: store, model: model, dim: dim, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// EnrollNew creates a person and its first linked encoding in one transaction.
func (c *Coordinator) EnrollNew(ctx context.Context, req NewPerson) (*Result, error) {
	var res *Result
	err := c.store.InTx(ctx, func(tx identity.Tx) error {
		var err error
		res, err = c.EnrollNewTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, TxError("new person", err)
	}

	slog.Info("person enrolled",
		"user", req.UserID,
		"person_id", res.Person.ID,
		"encoding_id", res.Encoding.ID,
		"deduplicated", res.Deduplicated,
	)
	return res, nil
}

// EnrollNewTx is EnrollNew inside tx.
func (c *Coordinator) EnrollNewTx(ctx context.Context, tx identity.Tx, req NewPerson) (*Result, error) {
	vec, err := embedding.Prepare(req.Vector, c.dim)
	if err != nil {
		return nil, err
	}

	if req.DedupeThreshold > 0 {
		if err := tx.LockUser(ctx, req.UserID); err != nil {
			return nil, err
		}
		nearest, err := tx.NearestPersons(ctx, req.UserID, vec, c.model, 1)
		if err != nil {
			return nil, err
		}
		if len(nearest) > 0 && nearest[0].Distance < req.DedupeThreshold {
			person, err := tx.GetPerson(ctx, req.UserID, nearest[0].PersonID)
			if err != nil {
				return nil, err
			}
			if person != nil {
				enc, err := c.link(ctx, tx, req.UserID, req.FaceID, vec, person.ID)
				if err != nil {
					return nil, err
				}
				d := nearest[0].Distance
				return &Result{Person: person, Encoding: enc, Deduplicated: true, Distance: &d}, nil
			}
		}
	}

	faceID := req.FaceID
	person, err := tx.CreatePerson(ctx, identity.NewPerson{
		UserID:  req.UserID,
		Name:    req.Name,
		Context: req.Context,
		FaceID:  &faceID,
		MetAt:   c.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	enc, err := c.link(ctx, tx, req.UserID, req.FaceID, vec, person.ID)
	if err != nil {
		return nil, err
	}
	return &Result{Person: person, Encoding: enc}, nil
}

// EnrollAdditional attaches a further encoding to an existing person of the same
// user. It never creates a person.
func (c *Coordinator) EnrollAdditional(ctx context.Context, userID string, personID, faceID uuid.UUID, vector []float32) (*models.Encoding, error) {
	var enc *models.Encoding
	err := c.store.InTx(ctx, func(tx identity.Tx) error {
		var err error
		enc, err = c.EnrollAdditionalTx(ctx, tx, userID, personID, faceID, vector)
		return err
	})
	if err != nil {
		return nil, TxError("additional encoding", err)
	}

	slog.Info("encoding linked", "user", userID, "person_id", personID, "encoding_id", enc.ID)
	return enc, nil
}

// EnrollAdditionalTx is EnrollAdditional inside tx.
func (c *Coordinator) EnrollAdditionalTx(ctx context.Context, tx identity.Tx, userID string, personID, faceID uuid.UUID, vector []float32) (*models.Encoding, error) {
	vec, err := embedding.Prepare(vector, c.dim)
	if err != nil {
		return nil, err
	}
	person, err := tx.GetPerson(ctx, userID, personID)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, ErrPersonNotFound
	}
	return c.link(ctx, tx, userID, faceID, vec, person.ID)
}

// RecordSighting bumps last_seen_at to now and increments times_met. Calling it
// twice counts two sightings.
func (c *Coordinator) RecordSighting(ctx context.Context, userID string, personID uuid.UUID) (*models.Person, error) {
	return c.RecordSightingTx(ctx, c.store, userID, personID)
}

// RecordSightingTx is RecordSighting through w, usually a transaction.
func (c *Coordinator) RecordSightingTx(ctx context.Context, w identity.Writer, userID string, personID uuid.UUID) (*models.Person, error) {
	p, err := w.RecordSighting(ctx, userID, personID, c.now().UTC())
	if errors.Is(err, identity.ErrNotFound) {
		return nil, ErrPersonNotFound
	}
	if err != nil {
		return nil, identity.Wrap("record sighting", err)
	}
	return p, nil
}

func (c *Coordinator) link(ctx context.Context, tx identity.Tx, userID string, faceID uuid.UUID, vec []float32, personID uuid.UUID) (*models.Encoding, error) {
	enc, err := tx.CreateEncoding(ctx, userID, faceID, vec, c.model)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, ErrFaceNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := tx.LinkEncoding(ctx, enc.ID, personID); err != nil {
		return nil, err
	}
	enc.PersonID = &personID
	enc.Status = models.EncodingLinked
	return enc, nil
}
