package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/models"
)

// sqliteTime is fixed width so TEXT ordering matches time ordering.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore is a single-file identity store with sqlite-vec distance functions.
// All access goes through one connection, which also serializes enrollment.
type SQLiteStore struct {
	sqliteQueries
	db *sql.DB
}

var _ identity.Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) the database at path and applies migrations.
// ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	var version string
	if err := db.QueryRowContext(ctx, `SELECT vec_version()`).Scan(&version); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec not available: %w", err)
	}

	s := &SQLiteStore{sqliteQueries: sqliteQueries{q: db}, db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	slog.Debug("sqlite store ready", "path", path, "vec_version", version)
	return s, nil
}

func (s *SQLiteStore) Close() {
	s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx identity.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return identity.Wrap("begin", err)
	}
	if err := fn(sqliteQueries{q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return identity.Wrap("commit", tx.Commit())
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("query applied migrations: %w", err)
	}
	applied := map[string]bool{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()

	pending, err := pendingMigrations("migrations/sqlite", applied)
	if err != nil {
		return err
	}
	for _, m := range pending {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction for %s: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			m.version, formatTime(time.Now())); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.version, err)
		}
		slog.Info("applied migration", "version", m.version)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(sqliteTime, s)
}

type sqliteQueries struct {
	q dbtx
}

// --- Captures ---

func (s sqliteQueries) CreatePhoto(ctx context.Context, c identity.NewCapture) (*models.Photo, error) {
	p := &models.Photo{
		ID:          uuid.New(),
		UserID:      c.UserID,
		Filename:    c.Filename,
		Data:        c.Data,
		FrameWidth:  c.FrameWidth,
		FrameHeight: c.FrameHeight,
		Scale:       c.Scale,
		CaptureID:   c.CaptureID,
		CreatedAt:   time.Now().UTC(),
	}
	var captureID any
	if c.CaptureID != nil {
		captureID = c.CaptureID.String()
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO photos (id, user_id, filename, image_data, frame_width, frame_height, scale, capture_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.UserID, p.Filename, p.Data, p.FrameWidth, p.FrameHeight, p.Scale, captureID, formatTime(p.CreatedAt))
	if err != nil {
		return nil, identity.Wrap("create photo", err)
	}
	return p, nil
}

func (s sqliteQueries) CreateFace(ctx context.Context, photoID uuid.UUID, f identity.NewFace) (*models.Face, error) {
	face := &models.Face{
		ID:         uuid.New(),
		PhotoID:    photoID,
		Box:        f.Box,
		Crop:       f.Crop,
		Confidence: f.Confidence,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO detected_faces (id, photo_id, x, y, w, h, face_image_data, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		face.ID.String(), photoID.String(), f.Box.X, f.Box.Y, f.Box.W, f.Box.H, f.Crop, float64(f.Confidence), formatTime(face.CreatedAt))
	if err != nil {
		return nil, identity.Wrap("create face", err)
	}
	return face, nil
}

func (s sqliteQueries) HasCapture(ctx context.Context, userID string, captureID uuid.UUID) (bool, error) {
	var found bool
	err := s.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM photos WHERE user_id = ? AND capture_id = ?)`,
		userID, captureID.String()).Scan(&found)
	if err != nil {
		return false, identity.Wrap("has capture", err)
	}
	return found, nil
}

func (s sqliteQueries) CreateTranscript(ctx context.Context, t models.Transcript) (*models.Transcript, error) {
	t.ID = uuid.New()
	t.CreatedAt = time.Now().UTC()
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO transcripts (id, photo_id, raw_text, extracted_name, context, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.PhotoID.String(), t.RawText, t.ExtractedName, t.Context, formatTime(t.CreatedAt))
	if err != nil {
		return nil, identity.Wrap("create transcript", err)
	}
	return &t, nil
}

// --- Encodings ---

func (s sqliteQueries) CreateEncoding(ctx context.Context, userID string, faceID uuid.UUID, vector []float32, model string) (*models.Encoding, error) {
	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return nil, fmt.Errorf("serialize encoding: %w", err)
	}
	e := &models.Encoding{
		ID:        uuid.New(),
		FaceID:    faceID,
		Vector:    vector,
		Model:     model,
		Status:    models.EncodingPending,
		CreatedAt: time.Now().UTC(),
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO face_encodings (id, face_id, encoding, model_name, status, created_at)
		 SELECT ?, f.id, ?, ?, ?, ?
		 FROM detected_faces f
		 JOIN photos ph ON ph.id = f.photo_id
		 WHERE f.id = ? AND ph.user_id = ?`,
		e.ID.String(), blob, model, string(e.Status), formatTime(e.CreatedAt), faceID.String(), userID)
	if err != nil {
		return nil, identity.Wrap("create encoding", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("face %s: %w", faceID, identity.ErrNotFound)
	}
	return e, nil
}

func (s sqliteQueries) LinkEncoding(ctx context.Context, encodingID, personID uuid.UUID) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE face_encodings SET person_id = ?, status = 'linked' WHERE id = ?`,
		personID.String(), encodingID.String())
	if err != nil {
		return identity.Wrap("link encoding", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("link encoding %s: %w", encodingID, identity.ErrNotFound)
	}
	return nil
}

func (s sqliteQueries) NearestPersons(ctx context.Context, userID string, query []float32, model string, limit int) ([]models.PersonDistance, error) {
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("serialize query: %w", err)
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT e.person_id, MIN(vec_distance_l2(e.encoding, ?)) AS distance
		 FROM face_encodings e
		 JOIN detected_faces f ON f.id = e.face_id
		 JOIN photos ph ON ph.id = f.photo_id
		 JOIN persons p ON p.id = e.person_id AND p.user_id = ph.user_id
		 WHERE ph.user_id = ? AND e.status = 'linked' AND e.model_name = ?
		 GROUP BY e.person_id
		 ORDER BY distance ASC, e.person_id ASC
		 LIMIT ?`,
		blob, userID, model, limit)
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

func (s sqliteQueries) ListLinkedEncodings(ctx context.Context, userID, model string) ([]models.Encoding, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT e.id, e.face_id, vec_to_json(e.encoding), e.model_name, e.person_id, e.status, e.created_at
		 FROM face_encodings e
		 JOIN detected_faces f ON f.id = e.face_id
		 JOIN photos ph ON ph.id = f.photo_id
		 JOIN persons p ON p.id = e.person_id AND p.user_id = ph.user_id
		 WHERE ph.user_id = ? AND e.status = 'linked' AND e.model_name = ?
		 ORDER BY e.person_id, e.created_at`,
		userID, model)
	if err != nil {
		return nil, identity.Wrap("list encodings", err)
	}
	defer rows.Close()

	var out []models.Encoding
	for rows.Next() {
		var (
			e         models.Encoding
			vecJSON   string
			personID  uuid.NullUUID
			status    string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.FaceID, &vecJSON, &e.Model, &personID, &status, &createdAt); err != nil {
			return nil, identity.Wrap("scan encoding", err)
		}
		if err := json.Unmarshal([]byte(vecJSON), &e.Vector); err != nil {
			return nil, fmt.Errorf("decode encoding %s: %w", e.ID, err)
		}
		if personID.Valid {
			id := personID.UUID
			e.PersonID = &id
		}
		e.Status = models.EncodingStatus(status)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("encoding %s created_at: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, identity.Wrap("list encodings", rows.Err())
}

func (s sqliteQueries) CountEncodings(ctx context.Context, personID uuid.UUID) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM face_encodings WHERE person_id = ? AND status = 'linked'`,
		personID.String()).Scan(&n)
	if err != nil {
		return 0, identity.Wrap("count encodings", err)
	}
	return n, nil
}

// --- Persons ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLitePerson(row rowScanner) (*models.Person, error) {
	var (
		p           models.Person
		faceID      uuid.NullUUID
		first, last string
	)
	if err := row.Scan(&p.ID, &p.UserID, &faceID, &p.Name, &p.Context, &first, &last, &p.TimesMet); err != nil {
		return nil, err
	}
	if faceID.Valid {
		id := faceID.UUID
		p.FaceID = &id
	}
	var err error
	if p.FirstMetAt, err = parseTime(first); err != nil {
		return nil, fmt.Errorf("person %s first_met_at: %w", p.ID, err)
	}
	if p.LastSeenAt, err = parseTime(last); err != nil {
		return nil, fmt.Errorf("person %s last_seen_at: %w", p.ID, err)
	}
	return &p, nil
}

func (s sqliteQueries) queryPersons(ctx context.Context, op, query string, args ...any) ([]models.Person, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, identity.Wrap(op, err)
	}
	defer rows.Close()

	var out []models.Person
	for rows.Next() {
		p, err := scanSQLitePerson(rows)
		if err != nil {
			return nil, identity.Wrap(op, err)
		}
		out = append(out, *p)
	}
	return out, identity.Wrap(op, rows.Err())
}

func (s sqliteQueries) CreatePerson(ctx context.Context, np identity.NewPerson) (*models.Person, error) {
	p := &models.Person{
		ID:         uuid.New(),
		UserID:     np.UserID,
		Name:       np.Name,
		Context:    np.Context,
		FaceID:     np.FaceID,
		FirstMetAt: np.MetAt.UTC(),
		LastSeenAt: np.MetAt.UTC(),
		TimesMet:   1,
	}
	var faceID any
	if np.FaceID != nil {
		faceID = np.FaceID.String()
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO persons (id, user_id, face_id, name, name_key, conversation_context, first_met_at, last_seen_at, times_met)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		p.ID.String(), p.UserID, faceID, p.Name, identity.NameKey(p.Name), p.Context,
		formatTime(p.FirstMetAt), formatTime(p.LastSeenAt))
	if err != nil {
		return nil, identity.Wrap("create person", err)
	}
	return p, nil
}

func (s sqliteQueries) GetPerson(ctx context.Context, userID string, id uuid.UUID) (*models.Person, error) {
	p, err := scanSQLitePerson(s.q.QueryRowContext(ctx,
		`SELECT `+personColumns+` FROM persons WHERE id = ? AND user_id = ?`, id.String(), userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, identity.Wrap("get person", err)
	}
	return p, nil
}

func (s sqliteQueries) FindPersonsByName(ctx context.Context, userID, name string) ([]models.Person, error) {
	return s.queryPersons(ctx, "find persons",
		`SELECT `+personColumns+` FROM persons
		 WHERE user_id = ? AND name_key LIKE ? ESCAPE '\'
		 ORDER BY last_seen_at DESC, id`,
		userID, identity.LikePattern(name))
}

func (s sqliteQueries) ListPersons(ctx context.Context, userID string, limit, offset int) ([]models.Person, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryPersons(ctx, "list persons",
		`SELECT `+personColumns+` FROM persons WHERE user_id = ?
		 ORDER BY last_seen_at DESC, id LIMIT ? OFFSET ?`,
		userID, limit, offset)
}

func (s sqliteQueries) RecordSighting(ctx context.Context, userID string, personID uuid.UUID, at time.Time) (*models.Person, error) {
	p, err := scanSQLitePerson(s.q.QueryRowContext(ctx,
		`UPDATE persons SET last_seen_at = ?, times_met = times_met + 1
		 WHERE id = ? AND user_id = ? RETURNING `+personColumns,
		formatTime(at), personID.String(), userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, identity.Wrap("record sighting", err)
	}
	return p, nil
}

// DeletePerson unlinks the person's encodings, removes the person and the face
// it was first enrolled from.
func (s sqliteQueries) DeletePerson(ctx context.Context, userID string, id uuid.UUID) error {
	var faceID uuid.NullUUID
	err := s.q.QueryRowContext(ctx,
		`SELECT face_id FROM persons WHERE id = ? AND user_id = ?`, id.String(), userID).Scan(&faceID)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.ErrNotFound
	}
	if err != nil {
		return identity.Wrap("delete person", err)
	}

	if _, err := s.q.ExecContext(ctx,
		`UPDATE face_encodings SET person_id = NULL, status = 'pending' WHERE person_id = ?`, id.String()); err != nil {
		return identity.Wrap("unlink encodings", err)
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM persons WHERE id = ?`, id.String()); err != nil {
		return identity.Wrap("delete person", err)
	}
	if faceID.Valid {
		if _, err := s.q.ExecContext(ctx, `DELETE FROM detected_faces WHERE id = ?`, faceID.UUID.String()); err != nil {
			return identity.Wrap("delete person face", err)
		}
	}
	return nil
}

// LockUser is a no-op: the store has a single connection, so transactions
// already run one at a time.
func (s sqliteQueries) LockUser(context.Context, string) error {
	return nil
}
