package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/visage/internal/api/handlers"
	"github.com/your-org/visage/internal/gate"
	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/internal/recognition"
	"github.com/your-org/visage/internal/storage"
	"github.com/your-org/visage/pkg/dto"
)

const apiKey = "test-key"

type stubSource struct {
	dets []models.RawDetection
}

func (s *stubSource) Detect(ctx context.Context, _ image.Image) ([]models.RawDetection, error) {
	return s.dets, nil
}

func (s *stubSource) face(vec ...float32) {
	s.dets = []models.RawDetection{{Box: models.Box{X: 150, Y: 150, W: 200, H: 220}, Confidence: 0.97, Vector: vec}}
}

type memUploader struct {
	objects map[string][]byte
}

func (m *memUploader) PutCapture(_ context.Context, key string, data []byte, _ string) error {
	m.objects[key] = data
	return nil
}

func (m *memUploader) DeleteCapture(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

type memQueue struct {
	tasks []models.CaptureTask
	err   error
}

func (q *memQueue) PublishCapture(_ context.Context, task models.CaptureTask) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

type testAPI struct {
	handler http.Handler
	src     *stubSource
	up      *memUploader
	queue   *memQueue
	img     []byte
}

// failingTx refuses every transaction with err.
type failingTx struct {
	identity.Store
	err error
}

func (f failingTx) InTx(context.Context, func(identity.Tx) error) error {
	return f.err
}

func newTestAPI(t *testing.T) *testAPI {
	return newTestAPIWith(t, nil)
}

// newTestAPIWith serves a store wrapped by wrap, when given.
func newTestAPIWith(t *testing.T, wrap func(identity.Store) identity.Store) *testAPI {
	t.Helper()
	sqlite, err := storage.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(sqlite.Close)

	var store identity.Store = sqlite
	if wrap != nil {
		store = wrap(store)
	}

	src := &stubSource{}
	svc := recognition.NewService(store, src, gate.New(gate.DefaultConfig()), recognition.Config{
		Model: "test-2d", Dim: 2, Threshold: 0.4, EmbedTimeout: time.Second,
	})

	up := &memUploader{objects: map[string][]byte{}}
	q := &memQueue{}
	r := NewRouter(RouterConfig{
		APIKey:   apiKey,
		Service:  svc,
		Uploader: up,
		Queue:    q,
		Checks: map[string]handlers.Check{
			"store": store.Ping,
		},
	})

	img := image.NewRGBA(image.Rect(0, 0, 480, 640))
	for y := 0; y < 640; y += 4 {
		for x := 0; x < 480; x++ {
			img.Set(x, y, color.RGBA{200, uint8(x), 40, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	return &testAPI{handler: r, src: src, up: up, queue: q, img: buf.Bytes()}
}

func (a *testAPI) do(t *testing.T, method, path string, fields map[string]string, withImage bool) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	contentType := ""
	if fields != nil || withImage {
		mw := multipart.NewWriter(&body)
		for k, v := range fields {
			require.NoError(t, mw.WriteField(k, v))
		}
		if withImage {
			fw, err := mw.CreateFormFile("image", "capture.jpg")
			require.NoError(t, err)
			_, err = fw.Write(a.img)
			require.NoError(t, err)
		}
		require.NoError(t, mw.Close())
		contentType = mw.FormDataContentType()
	}

	req := httptest.NewRequest(method, path, &body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-API-Key", apiKey)
	req.Header.Set("X-User-ID", "u1")

	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestSystemEndpoints(t *testing.T) {
	a := newTestAPI(t)

	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"store":"ok"`)

	w = httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/people", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReadyzFailingCheck(t *testing.T) {
	r := NewRouter(RouterConfig{Checks: map[string]handlers.Check{
		"nats": func(context.Context) error { return errors.New("nats not connected") },
	}})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "nats not connected")
}

func TestPeopleWorkflow(t *testing.T) {
	a := newTestAPI(t)

	a.src.face(1, 0)
	w := a.do(t, http.MethodPost, "/v1/people/first-meeting", map[string]string{
		"name": "Alice", "context": "conference", "transcript": "hello, I'm Alice",
	}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[dto.FirstMeetingResponse](t, w)
	assert.Equal(t, "Alice", created.Person.Name)
	assert.Equal(t, 1, created.Person.TimesMet)
	// 480x640 upscales to 640x854, boxes are reported in that frame
	assert.Equal(t, 150, created.Face.Box.X)

	a.src.face(1, 0.05)
	w = a.do(t, http.MethodPost, "/v1/recognize", map[string]string{}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rec := decode[dto.RecognizeResponse](t, w)
	assert.True(t, rec.Recognized)
	assert.Equal(t, created.Person.ID, rec.Person.ID)
	assert.Equal(t, 2, rec.Person.TimesMet)

	a.src.face(0, 1)
	w = a.do(t, http.MethodPost, "/v1/recognize", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	rec = decode[dto.RecognizeResponse](t, w)
	assert.False(t, rec.Recognized)
	assert.Equal(t, "no_match", rec.Outcome)
	require.NotNil(t, rec.Distance)

	w = a.do(t, http.MethodPost, "/v1/people/"+created.Person.ID.String()+"/faces", nil, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = a.do(t, http.MethodGet, "/v1/people/"+created.Person.ID.String(), nil, false)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodGet, "/v1/people/search?name=ali", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[dto.PersonListResponse](t, w).Total)

	w = a.do(t, http.MethodGet, "/v1/people", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[dto.PersonListResponse](t, w).Total)

	w = a.do(t, http.MethodDelete, "/v1/people?name=alice", nil, false)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodGet, "/v1/people/"+created.Person.ID.String(), nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestErrorMapping(t *testing.T) {
	a := newTestAPI(t)

	t.Run("no usable face", func(t *testing.T) {
		a.src.dets = nil
		w := a.do(t, http.MethodPost, "/v1/recognize", nil, true)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		body := decode[dto.ErrorResponse](t, w)
		assert.Equal(t, "no_face_detected", body.Reason)
	})

	t.Run("missing image", func(t *testing.T) {
		w := a.do(t, http.MethodPost, "/v1/recognize", map[string]string{"threshold": "0.5"}, false)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad threshold", func(t *testing.T) {
		a.src.face(1, 0)
		w := a.do(t, http.MethodPost, "/v1/recognize", map[string]string{"threshold": "3"}, true)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing name", func(t *testing.T) {
		a.src.face(1, 0)
		w := a.do(t, http.MethodPost, "/v1/people/first-meeting", map[string]string{}, true)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown person", func(t *testing.T) {
		w := a.do(t, http.MethodGet, "/v1/people/00000000-0000-0000-0000-000000000001", nil, false)
		assert.Equal(t, http.StatusNotFound, w.Code)
		w = a.do(t, http.MethodGet, "/v1/people/not-a-uuid", nil, false)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("empty gallery is not an error", func(t *testing.T) {
		a.src.face(1, 0)
		w := a.do(t, http.MethodPost, "/v1/recognize", nil, true)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "empty_gallery", decode[dto.RecognizeResponse](t, w).Outcome)
	})
}

func TestStoreFailureMapping(t *testing.T) {
	tests := []struct {
		name   string
		txErr  error
		path   string
		fields map[string]string
		want   int
		msg    string
	}{
		{"enrollment rolled back", errors.New("constraint violated"), "/v1/people/first-meeting", map[string]string{"name": "Alice"}, http.StatusInternalServerError, "enrollment failed"},
		{"enrollment lost its connection", identity.Wrap("commit", errors.New("connection reset")), "/v1/people/first-meeting", map[string]string{"name": "Alice"}, http.StatusInternalServerError, "enrollment failed"},
		{"recognition store down", identity.Wrap("commit", errors.New("connection reset")), "/v1/recognize", nil, http.StatusServiceUnavailable, "store unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAPIWith(t, func(s identity.Store) identity.Store {
				return failingTx{Store: s, err: tt.txErr}
			})
			a.src.face(1, 0)
			w := a.do(t, http.MethodPost, tt.path, tt.fields, true)
			require.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Equal(t, tt.msg, decode[dto.ErrorResponse](t, w).Error)
		})
	}
}

func TestCaptures(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/v1/captures", map[string]string{"threshold": "0.5", "add_angle": "true"}, true)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	accepted := decode[dto.CaptureAcceptedResponse](t, w)

	require.Len(t, a.queue.tasks, 1)
	task := a.queue.tasks[0]
	assert.Equal(t, accepted.CaptureID, task.CaptureID)
	assert.Equal(t, "u1", task.UserID)
	assert.True(t, task.AddAngle)
	require.NotNil(t, task.Threshold)
	assert.Equal(t, 0.5, *task.Threshold)
	assert.Equal(t, a.img, a.up.objects[task.ObjectKey])

	a.queue.err = errors.New("nats down")
	w = a.do(t, http.MethodPost, "/v1/captures", nil, true)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Len(t, a.up.objects, 1, "the orphaned upload is removed")
}
