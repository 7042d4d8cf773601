//go:build integration

package storage

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/visage/internal/config"
	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/models"
)

func setupPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "visage",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port.Port())
	require.NoError(t, err)

	store, err := NewPostgresStore(ctx, config.DatabaseConfig{
		Host: host, Port: portNum, Name: "visage", User: "test", Password: "test", MaxConns: 5,
	})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrations are idempotent")
	return store
}

func pgSeedPerson(t *testing.T, s *PostgresStore, userID, name string, vecs ...[]float32) *models.Person {
	t.Helper()
	ctx := context.Background()
	var person *models.Person
	require.NoError(t, s.InTx(ctx, func(tx identity.Tx) error {
		for i, v := range vecs {
			faceID := seedFace(t, tx, userID)
			if i == 0 {
				var err error
				person, err = tx.CreatePerson(ctx, identity.NewPerson{UserID: userID, Name: name, FaceID: &faceID, MetAt: time.Now()})
				require.NoError(t, err)
			}
			enc, err := tx.CreateEncoding(ctx, userID, faceID, v, testModel)
			require.NoError(t, err)
			require.NoError(t, tx.LinkEncoding(ctx, enc.ID, person.ID))
		}
		return nil
	}))
	return person
}

func TestPostgresStore(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	alice := pgSeedPerson(t, s, "u1", "Alice", []float32{0, 1}, []float32{1, 0})
	bob := pgSeedPerson(t, s, "u1", "Bob", []float32{0.6, 0.8})
	pgSeedPerson(t, s, "u2", "Alice Elsewhere", []float32{1, 0})

	t.Run("nearest persons uses minimum per person", func(t *testing.T) {
		got, err := s.NearestPersons(ctx, "u1", []float32{1, 0}, testModel, 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, alice.ID, got[0].PersonID)
		assert.InDelta(t, 0, got[0].Distance, 1e-6)
		assert.Equal(t, bob.ID, got[1].PersonID)
	})

	t.Run("find by name is case insensitive and scoped", func(t *testing.T) {
		found, err := s.FindPersonsByName(ctx, "u1", "ALI")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, alice.ID, found[0].ID)
	})

	t.Run("record sighting", func(t *testing.T) {
		p, err := s.RecordSighting(ctx, "u1", bob.ID, time.Now())
		require.NoError(t, err)
		assert.Equal(t, 2, p.TimesMet)

		_, err = s.RecordSighting(ctx, "u1", uuid.New(), time.Now())
		assert.ErrorIs(t, err, identity.ErrNotFound)
		_, err = s.RecordSighting(ctx, "u2", bob.ID, time.Now())
		assert.ErrorIs(t, err, identity.ErrNotFound)
	})

	t.Run("encodings only on own faces", func(t *testing.T) {
		_, err := s.CreateEncoding(ctx, "u1", seedFace(t, s, "u2"), []float32{1, 0}, testModel)
		assert.ErrorIs(t, err, identity.ErrNotFound)
	})

	t.Run("capture ids", func(t *testing.T) {
		id := uuid.New()
		capture := identity.NewCapture{UserID: "u1", Data: []byte{1}, FrameWidth: 1, FrameHeight: 1, Scale: 1, CaptureID: &id}
		_, err := s.CreatePhoto(ctx, capture)
		require.NoError(t, err)
		done, err := s.HasCapture(ctx, "u1", id)
		require.NoError(t, err)
		assert.True(t, done)
		_, err = s.CreatePhoto(ctx, capture)
		assert.True(t, identity.IsInfrastructure(err))
	})

	t.Run("list linked encodings", func(t *testing.T) {
		encs, err := s.ListLinkedEncodings(ctx, "u1", testModel)
		require.NoError(t, err)
		assert.Len(t, encs, 3)
	})

	t.Run("lock user inside tx", func(t *testing.T) {
		require.NoError(t, s.InTx(ctx, func(tx identity.Tx) error {
			return tx.LockUser(ctx, "u1")
		}))
	})

	t.Run("delete person", func(t *testing.T) {
		require.NoError(t, s.DeletePerson(ctx, "u1", alice.ID))
		got, err := s.GetPerson(ctx, "u1", alice.ID)
		require.NoError(t, err)
		assert.Nil(t, got)

		near, err := s.NearestPersons(ctx, "u1", []float32{1, 0}, testModel, 0)
		require.NoError(t, err)
		require.Len(t, near, 1)
		assert.Equal(t, bob.ID, near[0].PersonID)
	})
}
