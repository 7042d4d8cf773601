package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/visage/internal/config"
	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/models"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	pgQueries
	pool *pgxpool.Pool
}

var _ identity.Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pgQueries: pgQueries{q: pool}, pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx identity.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return identity.Wrap("begin", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(pgQueries{q: tx}); err != nil {
		return err
	}
	return identity.Wrap("commit", tx.Commit(ctx))
}

// Migrate applies pending embedded migrations, one transaction per file.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("query applied migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("scan applied migrations: %w", err)
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}

	pending, err := pendingMigrations("migrations/postgres", applied)
	if err != nil {
		return err
	}
	for _, m := range pending {
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return fmt.Errorf("execute migration %s: %w", m.version, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.version); err != nil {
				return fmt.Errorf("record migration %s: %w", m.version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		slog.Info("applied migration", "version", m.version)
	}
	return nil
}

type pgQueries struct {
	q querier
}

// --- Captures ---

func (s pgQueries) CreatePhoto(ctx context.Context, c identity.NewCapture) (*models.Photo, error) {
	p := &models.Photo{
		ID:          uuid.New(),
		UserID:      c.UserID,
		Filename:    c.Filename,
		Data:        c.Data,
		FrameWidth:  c.FrameWidth,
		FrameHeight: c.FrameHeight,
		Scale:       c.Scale,
		CaptureID:   c.CaptureID,
	}
	err := s.q.QueryRow(ctx,
		`INSERT INTO photos (id, user_id, filename, image_data, frame_width, frame_height, scale, capture_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`,
		p.ID, p.UserID, p.Filename, p.Data, p.FrameWidth, p.FrameHeight, p.Scale, p.CaptureID,
	).Scan(&p.CreatedAt)
	if err != nil {
		return nil, identity.Wrap("create photo", err)
	}
	return p, nil
}

func (s pgQueries) CreateFace(ctx context.Context, photoID uuid.UUID, f identity.NewFace) (*models.Face, error) {
	face := &models.Face{
		ID:         uuid.New(),
		PhotoID:    photoID,
		Box:        f.Box,
		Crop:       f.Crop,
		Confidence: f.Confidence,
	}
	err := s.q.QueryRow(ctx,
		`INSERT INTO detected_faces (id, photo_id, x, y, w, h, face_image_data, confidence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`,
		face.ID, photoID, f.Box.X, f.Box.Y, f.Box.W, f.Box.H, f.Crop, f.Confidence,
	).Scan(&face.CreatedAt)
	if err != nil {
		return nil, identity.Wrap("create face", err)
	}
	return face, nil
}

func (s pgQueries) HasCapture(ctx context.Context, userID string, captureID uuid.UUID) (bool, error) {
	var found bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM photos WHERE user_id = $1 AND capture_id = $2)`,
		userID, captureID).Scan(&found)
	if err != nil {
		return false, identity.Wrap("has capture", err)
	}
	return found, nil
}

func (s pgQueries) CreateTranscript(ctx context.Context, t models.Transcript) (*models.Transcript, error) {
	t.ID = uuid.New()
	err := s.q.QueryRow(ctx,
		`INSERT INTO transcripts (id, photo_id, raw_text, extracted_name, context)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		t.ID, t.PhotoID, t.RawText, t.ExtractedName, t.Context,
	).Scan(&t.CreatedAt)
	if err != nil {
		return nil, identity.Wrap("create transcript", err)
	}
	return &t, nil
}

// --- Encodings ---

func (s pgQueries) CreateEncoding(ctx context.Context, userID string, faceID uuid.UUID, vector []float32, model string) (*models.Encoding, error) {
	e := &models.Encoding{
		ID:     uuid.New(),
		FaceID: faceID,
		Vector: vector,
		Model:  model,
		Status: models.EncodingPending,
	}
	err := s.q.QueryRow(ctx,
		`INSERT INTO face_encodings (id, face_id, encoding, model_name, status)
		 SELECT $1::uuid, f.id, $3::vector, $4::text, $5::text
		 FROM detected_faces f
		 JOIN photos ph ON ph.id = f.photo_id
		 WHERE f.id = $2 AND ph.user_id = $6
		 RETURNING created_at`,
		e.ID, faceID, pgvector.NewVector(vector), model, e.Status, userID,
	).Scan(&e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("face %s: %w", faceID, identity.ErrNotFound)
	}
	if err != nil {
		return nil, identity.Wrap("create encoding", err)
	}
	return e, nil
}

func (s pgQueries) LinkEncoding(ctx context.Context, encodingID, personID uuid.UUID) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE face_encodings SET person_id = $2, status = 'linked' WHERE id = $1`,
		encodingID, personID)
	if err != nil {
		return identity.Wrap("link encoding", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("link encoding %s: %w", encodingID, identity.ErrNotFound)
	}
	return nil
}

func (s pgQueries) NearestPersons(ctx context.Context, userID string, query []float32, model string, limit int) ([]models.PersonDistance, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.q.Query(ctx,
		`SELECT e.person_id, MIN(e.encoding <-> $1) AS distance
		 FROM face_encodings e
		 JOIN detected_faces f ON f.id = e.face_id
		 JOIN photos ph ON ph.id = f.photo_id
		 JOIN persons p ON p.id = e.person_id AND p.user_id = ph.user_id
		 WHERE ph.user_id = $2 AND e.status = 'linked' AND e.model_name = $3
		 GROUP BY e.person_id
		 ORDER BY distance ASC, e.person_id ASC
		 LIMIT $4`,
		pgvector.NewVector(query), userID, model, lim)
	if err != nil {
		return nil, identity.Wrap("nearest persons", err)
	}
	defer rows.Close()

	var out []models.PersonDistance
	for rows.Next() {
		var pd models.PersonDistance
		if err := rows.Scan(&pd.PersonID, &pd.Distance); err != nil {
			return nil, identity.Wrap("scan nearest person", err)
		}
		out = append(out, pd)
	}
	return out, identity.Wrap("nearest persons", rows.Err())
}

func (s pgQueries) ListLinkedEncodings(ctx context.Context, userID, model string) ([]models.Encoding, error) {
	rows, err := s.q.Query(ctx,
		`SELECT e.id, e.face_id, e.encoding, e.model_name, e.person_id, e.status, e.created_at
		 FROM face_encodings e
		 JOIN detected_faces f ON f.id = e.face_id
		 JOIN photos ph ON ph.id = f.photo_id
		 JOIN persons p ON p.id = e.person_id AND p.user_id = ph.user_id
		 WHERE ph.user_id = $1 AND e.status = 'linked' AND e.model_name = $2
		 ORDER BY e.person_id, e.created_at`,
		userID, model)
	if err != nil {
		return nil, identity.Wrap("list encodings", err)
	}
	defer rows.Close()

	var out []models.Encoding
	for rows.Next() {
		var (
			e   models.Encoding
			vec pgvector.Vector
		)
		if err := rows.Scan(&e.ID, &e.FaceID, &vec, &e.Model, &e.PersonID, &e.Status, &e.CreatedAt); err != nil {
			return nil, identity.Wrap("scan encoding", err)
		}
		e.Vector = vec.Slice()
		out = append(out, e)
	}
	return out, identity.Wrap("list encodings", rows.Err())
}

func (s pgQueries) CountEncodings(ctx context.Context, personID uuid.UUID) (int, error) {
	var n int
	err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM face_encodings WHERE person_id = $1 AND status = 'linked'`,
		personID).Scan(&n)
	if err != nil {
		return 0, identity.Wrap("count encodings", err)
	}
	return n, nil
}

// --- Persons ---

const personColumns = `id, user_id, face_id, name, conversation_context, first_met_at, last_seen_at, times_met`

func scanPerson(row pgx.Row) (*models.Person, error) {
	var p models.Person
	err := row.Scan(&p.ID, &p.UserID, &p.FaceID, &p.Name, &p.Context, &p.FirstMetAt, &p.LastSeenAt, &p.TimesMet)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPersons(rows pgx.Rows) ([]models.Person, error) {
	defer rows.Close()
	var out []models.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s pgQueries) CreatePerson(ctx context.Context, np identity.NewPerson) (*models.Person, error) {
	p := &models.Person{
		ID:         uuid.New(),
		UserID:     np.UserID,
		Name:       np.Name,
		Context:    np.Context,
		FaceID:     np.FaceID,
		FirstMetAt: np.MetAt,
		LastSeenAt: np.MetAt,
		TimesMet:   1,
	}
	_, err := s.q.Exec(ctx,
		`INSERT INTO persons (id, user_id, face_id, name, name_key, conversation_context, first_met_at, last_seen_at, times_met)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7, 1)`,
		p.ID, p.UserID, p.FaceID, p.Name, identity.NameKey(p.Name), p.Context, np.MetAt)
	if err != nil {
		return nil, identity.Wrap("create person", err)
	}
	return p, nil
}

func (s pgQueries) GetPerson(ctx context.Context, userID string, id uuid.UUID) (*models.Person, error) {
	p, err := scanPerson(s.q.QueryRow(ctx,
		`SELECT `+personColumns+` FROM persons WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, identity.Wrap("get person", err)
	}
	return p, nil
}

func (s pgQueries) FindPersonsByName(ctx context.Context, userID, name string) ([]models.Person, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+personColumns+` FROM persons
		 WHERE user_id = $1 AND name_key LIKE $2 ESCAPE '\'
		 ORDER BY last_seen_at DESC, id`,
		userID, identity.LikePattern(name))
	if err != nil {
		return nil, identity.Wrap("find persons", err)
	}
	persons, err := collectPersons(rows)
	return persons, identity.Wrap("find persons", err)
}

func (s pgQueries) ListPersons(ctx context.Context, userID string, limit, offset int) ([]models.Person, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx,
		`SELECT `+personColumns+` FROM persons WHERE user_id = $1
		 ORDER BY last_seen_at DESC, id LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, identity.Wrap("list persons", err)
	}
	persons, err := collectPersons(rows)
	return persons, identity.Wrap("list persons", err)
}

func (s pgQueries) RecordSighting(ctx context.Context, userID string, personID uuid.UUID, at time.Time) (*models.Person, error) {
	p, err := scanPerson(s.q.QueryRow(ctx,
		`UPDATE persons SET last_seen_at = $2, times_met = times_met + 1
		 WHERE id = $1 AND user_id = $3 RETURNING `+personColumns,
		personID, at, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, identity.Wrap("record sighting", err)
	}
	return p, nil
}

// DeletePerson unlinks the person's encodings, removes the person and the face
// it was first enrolled from.
func (s pgQueries) DeletePerson(ctx context.Context, userID string, id uuid.UUID) error {
	var faceID *uuid.UUID
	err := s.q.QueryRow(ctx,
		`SELECT face_id FROM persons WHERE id = $1 AND user_id = $2`, id, userID).Scan(&faceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.ErrNotFound
	}
	if err != nil {
		return identity.Wrap("delete person", err)
	}

	if _, err := s.q.Exec(ctx,
		`UPDATE face_encodings SET person_id = NULL, status = 'pending' WHERE person_id = $1`, id); err != nil {
		return identity.Wrap("unlink encodings", err)
	}
	if _, err := s.q.Exec(ctx, `DELETE FROM persons WHERE id = $1`, id); err != nil {
		return identity.Wrap("delete person", err)
	}
	if faceID != nil {
		if _, err := s.q.Exec(ctx, `DELETE FROM detected_faces WHERE id = $1`, *faceID); err != nil {
			return identity.Wrap("delete person face", err)
		}
	}
	return nil
}

func (s pgQueries) LockUser(ctx context.Context, userID string) error {
	_, err := s.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, userID)
	return identity.Wrap("lock user", err)
}
