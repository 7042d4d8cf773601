// Package recognition runs the three capture workflows on top of the gate,
// the matching engine and the enrollment coordinator: first meeting,
// recognition of a returning person, and lookup by name.
package recognition

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/visage/internal/config"
	"github.com/your-org/visage/internal/enroll"
	"github.com/your-org/visage/internal/gate"
	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/matching"
	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/internal/observability"
)

var (
	ErrPersonNotFound = enroll.ErrPersonNotFound
	ErrNameRequired   = errors.New("name is required")
)

// Retryable reports whether err is a store failure that a later attempt may
// not hit. A rolled back enrollment is retryable only when the store caused
// it. Rejections, no match and missing persons never are.
func Retryable(err error) bool {
	var te *enroll.TransactionError
	if errors.As(err, &te) {
		return identity.IsInfrastructure(te.Err)
	}
	return identity.IsInfrastructure(err)
}

// Publisher receives the events produced by each workflow. Delivery is best
// effort: a failed publish is logged and never fails the workflow.
type Publisher interface {
	Publish(ctx context.Context, ev models.RecognitionEvent) error
}

type Config struct {
	Model        string
	Dim          int
	Threshold    float64
	EmbedTimeout time.Duration
	// EnrollOnMatch stores every recognized face as an additional angle.
	EnrollOnMatch bool
	// DedupeThreshold > 0 makes a first meeting join an existing person closer
	// than this distance instead of creating a duplicate.
	DedupeThreshold float64
}

// ConfigFrom maps the recognition section of the service config.
func ConfigFrom(rc config.RecognitionConfig) Config {
	c := Config{
		Model:         rc.Model,
		Dim:           rc.EmbeddingDim,
		Threshold:     rc.MatchThreshold,
		EmbedTimeout:  rc.EmbedTimeout,
		EnrollOnMatch: rc.EnrollOnMatch,
	}
	if rc.DedupeFirstSighting {
		c.DedupeThreshold = rc.MatchThreshold
	}
	return c
}

// GateConfigFrom maps the quality thresholds of the service config.
func GateConfigFrom(rc config.RecognitionConfig) gate.Config {
	return gate.Config{
		MinConfidence:     float32(rc.MinConfidence),
		MinFaceSize:       rc.MinFaceSize,
		FullFrameMargin:   rc.FullFrameMargin,
		FullFrameCoverage: rc.FullFrameCoverage,
		UpscaleMinDim:     rc.UpscaleMinDim,
	}
}

type Service struct {
	cfg       Config
	store     identity.Store
	source    gate.Source
	gate      *gate.Gate
	engine    *matching.Engine
	enroller  *enroll.Coordinator
	publisher Publisher
	now       func() time.Time
}

func NewService(store identity.Store, source gate.Source, g *gate.Gate, cfg Config) *Service {
	return &Service{
		cfg:      cfg,
		store:    store,
		source:   source,
		gate:     g,
		engine:   matching.NewEngine(store, cfg.Model, cfg.Dim, cfg.Threshold),
		enroller: enroll.NewCoordinator(store, cfg.Model, cfg.Dim),
		now:      time.Now,
	}
}

func (s *Service) WithPublisher(p Publisher) *Service {
	s.publisher = p
	return s
}

// WithClock replaces the time source of the service and its coordinator.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.enroller.WithClock(now)
	return s
}

func (s *Service) Threshold() float64 { return s.engine.Threshold() }

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

type FirstMeetingRequest struct {
	UserID     string
	Filename   string
	Image      []byte
	Name       string
	Context    string
	Transcript string
	CaptureID  *uuid.UUID
}

type FirstMeetingResult struct {
	Person       *models.Person
	PhotoID      uuid.UUID
	Face         models.Face
	Deduplicated bool
	Distance     *float64
}

// FirstMeeting enrolls the most prominent face of the image as a new person.
// The photo, the person and the transcript commit together.
func (s *Service) FirstMeeting(ctx context.Context, req FirstMeetingRequest) (*FirstMeetingResult, error) {
	if req.Name == "" {
		return nil, ErrNameRequired
	}

	frame, face, err := s.gate.Single(ctx, s.source, req.Image, s.cfg.EmbedTimeout)
	if err != nil {
		return nil, s.rejected(ctx, req.UserID, req.CaptureID, err)
	}

	var (
		photo *models.Photo
		faces []models.Face
		res   *enroll.Result
	)
	err = s.store.InTx(ctx, func(tx identity.Tx) error {
		var err error
		photo, faces, err = s.persist(ctx, tx, capture{
			userID: req.UserID, filename: req.Filename, data: req.Image, captureID: req.CaptureID,
		}, frame, []gate.Face{face})
		if err != nil {
			return err
		}

		res, err = s.enroller.EnrollNewTx(ctx, tx, enroll.NewPerson{
			UserID:          req.UserID,
			Name:            req.Name,
			Context:         req.Context,
			FaceID:          faces[0].ID,
			Vector:          face.Vector,
			DedupeThreshold: s.cfg.DedupeThreshold,
		})
		if err != nil {
			return err
		}

		if req.Transcript == "" {
			return nil
		}
		_, err = tx.CreateTranscript(ctx, models.Transcript{
			PhotoID:       photo.ID,
			RawText:       req.Transcript,
			ExtractedName: req.Name,
			Context:       req.Context,
		})
		return err
	})
	if err != nil {
		return nil, enroll.TxError("new person", err)
	}

	if res.Deduplicated {
		observability.Enrollments.WithLabelValues("deduplicated").Inc()
	} else {
		observability.Enrollments.WithLabelValues("new").Inc()
	}
	slog.Info("person enrolled",
		"user", req.UserID,
		"person_id", res.Person.ID,
		"photo_id", photo.ID,
		"deduplicated", res.Deduplicated,
	)

	s.publish(ctx, models.RecognitionEvent{
		Type:       models.EventPersonEnrolled,
		UserID:     req.UserID,
		CaptureID:  req.CaptureID,
		PhotoID:    &photo.ID,
		PersonID:   &res.Person.ID,
		PersonName: res.Person.Name,
		Distance:   res.Distance,
	})

	return &FirstMeetingResult{
		Person:       res.Person,
		PhotoID:      photo.ID,
		Face:         faces[0],
		Deduplicated: res.Deduplicated,
		Distance:     res.Distance,
	}, nil
}

type RecognizeRequest struct {
	UserID    string
	Filename  string
	Image     []byte
	Threshold float64 // 0 uses the service threshold
	AddAngle  bool
	CaptureID *uuid.UUID
}

type RecognizeResult struct {
	Outcome    matching.Outcome
	Person     *models.Person // set when recognized, after the sighting was recorded
	Distance   *float64
	Threshold  float64
	PhotoID    uuid.UUID
	Face       models.Face
	AngleAdded bool
}

func (r *RecognizeResult) Recognized() bool {
	return r.Outcome == matching.OutcomeRecognized
}

// Recognize matches the most prominent face of the image against the user's
// gallery. A match records exactly one sighting. The photo, the sighting and an
// added angle commit together, so a failed attempt leaves nothing behind. No
// match and an empty gallery are results, not errors.
func (s *Service) Recognize(ctx context.Context, req RecognizeRequest) (*RecognizeResult, error) {
	frame, face, err := s.gate.Single(ctx, s.source, req.Image, s.cfg.EmbedTimeout)
	if err != nil {
		return nil, s.rejected(ctx, req.UserID, req.CaptureID, err)
	}

	m, err := s.match(ctx, req.UserID, face.Vector, req.Threshold)
	if err != nil {
		return nil, err
	}
	addAngle := m.Recognized() && (req.AddAngle || s.cfg.EnrollOnMatch)

	var (
		photo  *models.Photo
		faces  []models.Face
		person *models.Person
	)
	err = s.store.InTx(ctx, func(tx identity.Tx) error {
		var err error
		photo, faces, err = s.persist(ctx, tx, capture{
			userID: req.UserID, filename: req.Filename, data: req.Image, captureID: req.CaptureID,
		}, frame, []gate.Face{face})
		if err != nil || !m.Recognized() {
			return err
		}
		if addAngle {
			if _, err := s.enroller.EnrollAdditionalTx(ctx, tx, req.UserID, m.PersonID, faces[0].ID, face.Vector); err != nil {
				return err
			}
		}
		person, err = s.enroller.RecordSightingTx(ctx, tx, req.UserID, m.PersonID)
		return err
	})
	switch {
	case err == nil:
	case addAngle:
		return nil, enroll.TxError("additional encoding", err)
	case errors.Is(err, enroll.ErrPersonNotFound):
		return nil, err
	default:
		return nil, identity.Wrap("record recognition", err)
	}

	res := &RecognizeResult{
		Outcome:   m.Outcome,
		Distance:  m.Distance,
		Threshold: m.Threshold,
		PhotoID:   photo.ID,
		Face:      faces[0],
	}
	ev := models.RecognitionEvent{
		Type:      models.EventNoMatch,
		UserID:    req.UserID,
		CaptureID: req.CaptureID,
		PhotoID:   &photo.ID,
		Distance:  m.Distance,
	}
	if m.Recognized() {
		observability.Sightings.Inc()
		if addAngle {
			observability.Enrollments.WithLabelValues("additional").Inc()
			res.AngleAdded = true
		}
		res.Person = person
		ev.Type = models.EventPersonRecognized
		ev.PersonID = &person.ID
		ev.PersonName = person.Name
	}

	s.publish(ctx, ev)
	return res, nil
}

type AddAngleRequest struct {
	UserID   string
	PersonID uuid.UUID
	Filename string
	Image    []byte
}

// AddAngle stores the most prominent face of the image as a further encoding
// of an existing person.
func (s *Service) AddAngle(ctx context.Context, req AddAngleRequest) (*models.Encoding, error) {
	if _, err := s.GetPerson(ctx, req.UserID, req.PersonID); err != nil {
		return nil, err
	}

	frame, face, err := s.gate.Single(ctx, s.source, req.Image, s.cfg.EmbedTimeout)
	if err != nil {
		return nil, s.rejected(ctx, req.UserID, nil, err)
	}

	var (
		photo *models.Photo
		enc   *models.Encoding
	)
	err = s.store.InTx(ctx, func(tx identity.Tx) error {
		var (
			faces []models.Face
			err   error
		)
		photo, faces, err = s.persist(ctx, tx, capture{
			userID: req.UserID, filename: req.Filename, data: req.Image,
		}, frame, []gate.Face{face})
		if err != nil {
			return err
		}
		enc, err = s.enroller.EnrollAdditionalTx(ctx, tx, req.UserID, req.PersonID, faces[0].ID, face.Vector)
		return err
	})
	if err != nil {
		return nil, enroll.TxError("additional encoding", err)
	}
	observability.Enrollments.WithLabelValues("additional").Inc()
	slog.Info("encoding linked", "user", req.UserID, "person_id", req.PersonID, "encoding_id", enc.ID)

	s.publish(ctx, models.RecognitionEvent{
		Type:     models.EventAngleAdded,
		UserID:   req.UserID,
		PhotoID:  &photo.ID,
		PersonID: &req.PersonID,
	})
	return enc, nil
}

type GroupRequest struct {
	UserID    string
	Filename  string
	Image     []byte
	Threshold float64
}

type GroupFace struct {
	Face     models.Face
	Outcome  matching.Outcome
	Person   *models.Person
	Distance *float64
}

type GroupResult struct {
	PhotoID   uuid.UUID
	Threshold float64
	Faces     []GroupFace
}

// RecognizeGroup matches every usable face of the image. A person that appears
// more than once is still counted as one sighting. The photo and all sightings
// commit together; events are published only after the commit.
func (s *Service) RecognizeGroup(ctx context.Context, req GroupRequest) (*GroupResult, error) {
	frame, faces, err := s.gate.Group(ctx, s.source, req.Image, s.cfg.EmbedTimeout)
	if err != nil {
		return nil, s.rejected(ctx, req.UserID, nil, err)
	}

	out := &GroupResult{Faces: make([]GroupFace, len(faces))}
	matched := make([]uuid.UUID, len(faces))
	var order []uuid.UUID
	seen := make(map[uuid.UUID]*models.Person)
	for i, f := range faces {
		m, err := s.match(ctx, req.UserID, f.Vector, req.Threshold)
		if err != nil {
			return nil, err
		}
		out.Threshold = m.Threshold
		out.Faces[i] = GroupFace{Outcome: m.Outcome, Distance: m.Distance}
		if m.Recognized() {
			matched[i] = m.PersonID
			if _, ok := seen[m.PersonID]; !ok {
				seen[m.PersonID] = nil
				order = append(order, m.PersonID)
			}
		}
	}

	var (
		photo  *models.Photo
		stored []models.Face
	)
	err = s.store.InTx(ctx, func(tx identity.Tx) error {
		var err error
		photo, stored, err = s.persist(ctx, tx, capture{
			userID: req.UserID, filename: req.Filename, data: req.Image,
		}, frame, faces)
		if err != nil {
			return err
		}
		for _, id := range order {
			p, err := s.enroller.RecordSightingTx(ctx, tx, req.UserID, id)
			if err != nil {
				return err
			}
			seen[id] = p
		}
		return nil
	})
	if errors.Is(err, enroll.ErrPersonNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, identity.Wrap("record group", err)
	}

	out.PhotoID = photo.ID
	for i := range out.Faces {
		out.Faces[i].Face = stored[i]
		if out.Faces[i].Outcome == matching.OutcomeRecognized {
			out.Faces[i].Person = seen[matched[i]]
		}
	}
	for _, id := range order {
		p := seen[id]
		observability.Sightings.Inc()
		s.publish(ctx, models.RecognitionEvent{
			Type:       models.EventPersonRecognized,
			UserID:     req.UserID,
			PhotoID:    &photo.ID,
			PersonID:   &p.ID,
			PersonName: p.Name,
		})
	}
	return out, nil
}

// CaptureProcessed reports whether a queued capture already committed its photo.
func (s *Service) CaptureProcessed(ctx context.Context, userID string, captureID uuid.UUID) (bool, error) {
	done, err := s.store.HasCapture(ctx, userID, captureID)
	if err != nil {
		return false, identity.Wrap("has capture", err)
	}
	return done, nil
}

// GetPerson returns a person of the user or ErrPersonNotFound.
func (s *Service) GetPerson(ctx context.Context, userID string, id uuid.UUID) (*models.Person, error) {
	p, err := s.store.GetPerson(ctx, userID, id)
	if err != nil {
		return nil, identity.Wrap("get person", err)
	}
	if p == nil {
		return nil, ErrPersonNotFound
	}
	return p, nil
}

// FindByName returns the most recently seen person whose name contains name.
func (s *Service) FindByName(ctx context.Context, userID, name string) (*models.Person, error) {
	found, err := s.SearchPeople(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ErrPersonNotFound
	}
	return &found[0], nil
}

// SearchPeople returns every person whose name contains name, ignoring case
// and accents, most recently seen first.
func (s *Service) SearchPeople(ctx context.Context, userID, name string) ([]models.Person, error) {
	if identity.NameKey(name) == "" {
		return nil, ErrNameRequired
	}
	found, err := s.store.FindPersonsByName(ctx, userID, name)
	if err != nil {
		return nil, identity.Wrap("find persons by name", err)
	}
	return found, nil
}

func (s *Service) ListPeople(ctx context.Context, userID string, limit, offset int) ([]models.Person, error) {
	people, err := s.store.ListPersons(ctx, userID, limit, offset)
	if err != nil {
		return nil, identity.Wrap("list persons", err)
	}
	return people, nil
}

// DeletePerson removes the person. Its encodings stay behind unlinked.
func (s *Service) DeletePerson(ctx context.Context, userID string, id uuid.UUID) error {
	err := s.store.DeletePerson(ctx, userID, id)
	if errors.Is(err, identity.ErrNotFound) {
		return ErrPersonNotFound
	}
	if err != nil {
		return identity.Wrap("delete person", err)
	}
	slog.Info("person deleted", "user", userID, "person_id", id)
	return nil
}

// DeleteByName deletes the person FindByName would return and reports it.
func (s *Service) DeleteByName(ctx context.Context, userID, name string) (*models.Person, error) {
	p, err := s.FindByName(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	if err := s.DeletePerson(ctx, userID, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) match(ctx context.Context, userID string, vec []float32, threshold float64) (*matching.Result, error) {
	m, err := s.engine.Match(ctx, matching.Query{UserID: userID, Embedding: vec, Threshold: threshold})
	if err != nil {
		return nil, err
	}
	observability.MatchOutcomes.WithLabelValues(string(m.Outcome)).Inc()
	if m.Distance != nil {
		observability.MatchDistance.Observe(*m.Distance)
	}
	return m, nil
}

type capture struct {
	userID    string
	filename  string
	data      []byte
	captureID *uuid.UUID
}

// persist writes the photo and its accepted faces through w.
func (s *Service) persist(ctx context.Context, w identity.Writer, c capture, frame *gate.Frame, faces []gate.Face) (*models.Photo, []models.Face, error) {
	photo, err := w.CreatePhoto(ctx, identity.NewCapture{
		UserID:      c.userID,
		Filename:    c.filename,
		Data:        c.data,
		FrameWidth:  frame.Width,
		FrameHeight: frame.Height,
		Scale:       frame.Scale,
		CaptureID:   c.captureID,
	})
	if err != nil {
		return nil, nil, err
	}
	stored := make([]models.Face, 0, len(faces))
	for _, f := range faces {
		row, err := w.CreateFace(ctx, photo.ID, identity.NewFace{Box: f.Box, Crop: f.Crop, Confidence: f.Confidence})
		if err != nil {
			return nil, nil, err
		}
		stored = append(stored, *row)
	}
	return photo, stored, nil
}

// rejected records a gate rejection and passes err through.
func (s *Service) rejected(ctx context.Context, userID string, captureID *uuid.UUID, err error) error {
	reason := gate.ReasonOf(err)
	if reason == "" {
		return err
	}
	observability.GateRejections.WithLabelValues(string(reason)).Inc()
	slog.Info("no usable face", "user", userID, "reason", reason)
	s.publish(ctx, models.RecognitionEvent{
		Type:      models.EventNoUsableFace,
		UserID:    userID,
		CaptureID: captureID,
		Reason:    string(reason),
	})
	return err
}

func (s *Service) publish(ctx context.Context, ev models.RecognitionEvent) {
	if s.publisher == nil {
		return
	}
	ev.Timestamp = s.now().UTC()
	if err := s.publisher.Publish(ctx, ev); err != nil {
		slog.Warn("publish event", "type", ev.Type, "user", ev.UserID, "error", err)
	}
}
