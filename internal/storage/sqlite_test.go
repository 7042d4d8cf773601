package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/visage/internal/config"
	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/models"
)

const testModel = "test-2d"

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// seedFace stores a photo with one face and returns the face id.
func seedFace(t *testing.T, s identity.Writer, userID string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	photo, err := s.CreatePhoto(ctx, identity.NewCapture{
		UserID: userID, Filename: "a.jpg", Data: []byte{1, 2, 3},
		FrameWidth: 640, FrameHeight: 640, Scale: 1,
	})
	require.NoError(t, err)
	face, err := s.CreateFace(ctx, photo.ID, identity.NewFace{
		Box: models.Box{X: 10, Y: 20, W: 100, H: 120}, Crop: []byte{9}, Confidence: 0.9,
	})
	require.NoError(t, err)
	return face.ID
}

// seedPerson enrolls a person with one linked encoding per vector.
func seedPerson(t *testing.T, s *SQLiteStore, userID, name string, vecs ...[]float32) *models.Person {
	t.Helper()
	ctx := context.Background()
	var person *models.Person
	require.NoError(t, s.InTx(ctx, func(tx identity.Tx) error {
		first := seedFace(t, tx, userID)
		var err error
		person, err = tx.CreatePerson(ctx, identity.NewPerson{UserID: userID, Name: name, FaceID: &first, MetAt: time.Now()})
		require.NoError(t, err)
		for i, v := range vecs {
			faceID := first
			if i > 0 {
				faceID = seedFace(t, tx, userID)
			}
			enc, err := tx.CreateEncoding(ctx, userID, faceID, v, testModel)
			require.NoError(t, err)
			require.NoError(t, tx.LinkEncoding(ctx, enc.ID, person.ID))
		}
		return nil
	}))
	return person
}

func TestSQLiteMigrationsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.migrate(context.Background()))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestSQLiteNearestPersons(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	alice := seedPerson(t, s, "u1", "Alice", []float32{0, 1}, []float32{1, 0})
	bob := seedPerson(t, s, "u1", "Bob", []float32{0.6, 0.8})
	seedPerson(t, s, "u2", "Mallory", []float32{1, 0})

	got, err := s.NearestPersons(ctx, "u1", []float32{1, 0}, testModel, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, alice.ID, got[0].PersonID)
	assert.InDelta(t, 0, got[0].Distance, 1e-6)
	assert.Equal(t, bob.ID, got[1].PersonID)
	assert.InDelta(t, 0.8944, got[1].Distance, 1e-4)

	top, err := s.NearestPersons(ctx, "u1", []float32{1, 0}, testModel, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)

	none, err := s.NearestPersons(ctx, "u3", []float32{1, 0}, testModel, 1)
	require.NoError(t, err)
	assert.Empty(t, none)

	otherModel, err := s.NearestPersons(ctx, "u1", []float32{1, 0}, "other", 1)
	require.NoError(t, err)
	assert.Empty(t, otherModel)
}

func TestSQLitePendingEncodingsNotMatched(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	faceID := seedFace(t, s, "u1")
	enc, err := s.CreateEncoding(ctx, "u1", faceID, []float32{1, 0}, testModel)
	require.NoError(t, err)
	assert.Equal(t, models.EncodingPending, enc.Status)

	got, err := s.NearestPersons(ctx, "u1", []float32{1, 0}, testModel, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteEncodingRequiresOwnFace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateEncoding(ctx, "u1", seedFace(t, s, "u2"), []float32{1, 0}, testModel)
	assert.ErrorIs(t, err, identity.ErrNotFound)
	_, err = s.CreateEncoding(ctx, "u1", uuid.New(), []float32{1, 0}, testModel)
	assert.ErrorIs(t, err, identity.ErrNotFound)

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM face_encodings`).Scan(&n))
	assert.Zero(t, n)
}

func TestSQLiteGalleryScopedByPhotoOwner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alice := seedPerson(t, s, "u1", "Alice", []float32{1, 0})

	// an encoding on u2's photo linked to u1's person stays out of both galleries
	enc, err := s.CreateEncoding(ctx, "u2", seedFace(t, s, "u2"), []float32{0, 1}, testModel)
	require.NoError(t, err)
	require.NoError(t, s.LinkEncoding(ctx, enc.ID, alice.ID))

	near, err := s.NearestPersons(ctx, "u1", []float32{0, 1}, testModel, 0)
	require.NoError(t, err)
	require.Len(t, near, 1)
	assert.InDelta(t, 1.4142, near[0].Distance, 1e-4, "only the face on u1's photo counts")

	near, err = s.NearestPersons(ctx, "u2", []float32{0, 1}, testModel, 0)
	require.NoError(t, err)
	assert.Empty(t, near)

	encs, err := s.ListLinkedEncodings(ctx, "u1", testModel)
	require.NoError(t, err)
	assert.Len(t, encs, 1)
}

func TestSQLiteCaptureID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	done, err := s.HasCapture(ctx, "u1", id)
	require.NoError(t, err)
	assert.False(t, done)

	capture := identity.NewCapture{UserID: "u1", Data: []byte{1}, FrameWidth: 1, FrameHeight: 1, Scale: 1, CaptureID: &id}
	photo, err := s.CreatePhoto(ctx, capture)
	require.NoError(t, err)
	assert.Equal(t, id, *photo.CaptureID)

	done, err = s.HasCapture(ctx, "u1", id)
	require.NoError(t, err)
	assert.True(t, done)
	done, err = s.HasCapture(ctx, "u2", id)
	require.NoError(t, err)
	assert.False(t, done)

	_, err = s.CreatePhoto(ctx, capture)
	require.Error(t, err, "a capture is stored once per user")
	assert.True(t, identity.IsInfrastructure(err))

	// photos without a capture id never collide
	for i := 0; i < 2; i++ {
		_, err := s.CreatePhoto(ctx, identity.NewCapture{UserID: "u1", Data: []byte{1}, FrameWidth: 1, FrameHeight: 1, Scale: 1})
		require.NoError(t, err)
	}
}

func TestSQLiteLinkUnknownEncoding(t *testing.T) {
	s := openTestStore(t)
	err := s.LinkEncoding(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestSQLiteEncodingUniquePerFace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	faceID := seedFace(t, s, "u1")
	_, err := s.CreateEncoding(ctx, "u1", faceID, []float32{1, 0}, testModel)
	require.NoError(t, err)
	_, err = s.CreateEncoding(ctx, "u1", faceID, []float32{0, 1}, testModel)
	require.Error(t, err)
	assert.True(t, identity.IsInfrastructure(err))
}

func TestSQLiteListLinkedEncodings(t *testing.T) {
	s := openTestStore(t)
	p := seedPerson(t, s, "u1", "Alice", []float32{0, 1}, []float32{1, 0})

	encs, err := s.ListLinkedEncodings(context.Background(), "u1", testModel)
	require.NoError(t, err)
	require.Len(t, encs, 2)
	for _, e := range encs {
		require.NotNil(t, e.PersonID)
		assert.Equal(t, p.ID, *e.PersonID)
		assert.Equal(t, models.EncodingLinked, e.Status)
		assert.Len(t, e.Vector, 2)
	}

	n, err := s.CountEncodings(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLitePersons(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	alice := seedPerson(t, s, "u1", "Alice Martin", []float32{1, 0})
	seedPerson(t, s, "u1", "Zoë", []float32{0, 1})
	seedPerson(t, s, "u2", "Alice Other", []float32{0, 1})

	got, err := s.GetPerson(ctx, "u1", alice.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Alice Martin", got.Name)
	assert.Equal(t, 1, got.TimesMet)
	require.NotNil(t, got.FaceID)

	other, err := s.GetPerson(ctx, "u2", alice.ID)
	require.NoError(t, err)
	assert.Nil(t, other, "persons are scoped by user")

	found, err := s.FindPersonsByName(ctx, "u1", "aLiCe")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, alice.ID, found[0].ID)

	found, err = s.FindPersonsByName(ctx, "u1", "zoe")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	found, err = s.FindPersonsByName(ctx, "u1", "%")
	require.NoError(t, err)
	assert.Empty(t, found)

	all, err := s.ListPersons(ctx, "u1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteRecordSighting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p := seedPerson(t, s, "u1", "Alice", []float32{1, 0})

	at := time.Date(2030, 1, 2, 3, 4, 5, 6, time.UTC)
	var updated *models.Person
	var err error
	for i := 0; i < 3; i++ {
		updated, err = s.RecordSighting(ctx, "u1", p.ID, at)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, updated.TimesMet)
	assert.True(t, at.Equal(updated.LastSeenAt))
	assert.True(t, p.FirstMetAt.Equal(updated.FirstMetAt))

	_, err = s.RecordSighting(ctx, "u1", uuid.New(), at)
	assert.ErrorIs(t, err, identity.ErrNotFound)
	_, err = s.RecordSighting(ctx, "u2", p.ID, at)
	assert.ErrorIs(t, err, identity.ErrNotFound, "sightings are scoped by user")
}

func TestSQLiteDeletePerson(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p := seedPerson(t, s, "u1", "Alice", []float32{1, 0}, []float32{0, 1})

	assert.ErrorIs(t, s.DeletePerson(ctx, "u2", p.ID), identity.ErrNotFound)
	require.NoError(t, s.DeletePerson(ctx, "u1", p.ID))

	got, err := s.GetPerson(ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	near, err := s.NearestPersons(ctx, "u1", []float32{1, 0}, testModel, 0)
	require.NoError(t, err)
	assert.Empty(t, near)

	// the legacy face and its encoding are gone; the other encoding is left pending
	var total, pending int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM face_encodings`).Scan(&total))
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM face_encodings WHERE status = 'pending' AND person_id IS NULL`).Scan(&pending))
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, pending)
}

func TestSQLiteTxRollback(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx identity.Tx) error {
		faceID := seedFace(t, tx, "u1")
		_, err := tx.CreatePerson(ctx, identity.NewPerson{UserID: "u1", Name: "Ghost", FaceID: &faceID, MetAt: time.Now()})
		require.NoError(t, err)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	all, err := s.ListPersons(ctx, "u1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, all)
	var photos int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM photos`).Scan(&photos))
	assert.Zero(t, photos)
}

func TestSQLiteTranscript(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	photo, err := s.CreatePhoto(ctx, identity.NewCapture{UserID: "u1", Data: []byte{1}, FrameWidth: 1, FrameHeight: 1, Scale: 1})
	require.NoError(t, err)

	tr, err := s.CreateTranscript(ctx, models.Transcript{PhotoID: photo.ID, RawText: "hi I'm Sam", ExtractedName: "Sam"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, tr.ID)

	_, err = s.CreateTranscript(ctx, models.Transcript{PhotoID: photo.ID, RawText: "again"})
	assert.Error(t, err, "one transcript per photo")
}

func TestOpenSQLiteDriver(t *testing.T) {
	s, err := Open(context.Background(), config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.Ping(context.Background()))

	_, err = Open(context.Background(), config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}
