package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/visage/internal/gate"
	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/internal/recognition"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(filepath.Base(path)), 0o644))
}

func TestScanPeopleDirs(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "bob", "2.jpg"))
	touch(t, filepath.Join(root, "bob", "1.PNG"))
	touch(t, filepath.Join(root, "bob", "notes.txt"))
	touch(t, filepath.Join(root, "alice", "a.jpeg"))
	touch(t, filepath.Join(root, "empty", "readme.md"))
	touch(t, filepath.Join(root, ".cache", "x.jpg"))
	touch(t, filepath.Join(root, "loose.jpg"))

	dirs, err := scanPeopleDirs(root)
	require.NoError(t, err)
	require.Len(t, dirs, 2)
	assert.Equal(t, "alice", dirs[0].Name)
	assert.Equal(t, "bob", dirs[1].Name)
	assert.Equal(t, []string{
		filepath.Join(root, "bob", "1.PNG"),
		filepath.Join(root, "bob", "2.jpg"),
	}, dirs[1].Images)
}

// scriptedEnroller rejects images whose content is listed in reject.
type scriptedEnroller struct {
	reject map[string]bool
	person *models.Person
	angles int
}

func (s *scriptedEnroller) FirstMeeting(_ context.Context, req recognition.FirstMeetingRequest) (*recognition.FirstMeetingResult, error) {
	if s.reject[string(req.Image)] {
		return nil, &gate.RejectionError{Reason: gate.ReasonNoFace}
	}
	s.person = &models.Person{ID: uuid.New(), Name: req.Name}
	return &recognition.FirstMeetingResult{Person: s.person}, nil
}

func (s *scriptedEnroller) AddAngle(_ context.Context, req recognition.AddAngleRequest) (*models.Encoding, error) {
	if s.reject[string(req.Image)] {
		return nil, &gate.RejectionError{Reason: gate.ReasonTooSmall}
	}
	s.angles++
	return &models.Encoding{PersonID: &req.PersonID}, nil
}

func TestEnrollPerson(t *testing.T) {
	root := t.TempDir()
	for _, n := range []string{"1.jpg", "2.jpg", "3.jpg", "4.jpg"} {
		touch(t, filepath.Join(root, "carol", n))
	}
	dirs, err := scanPeopleDirs(root)
	require.NoError(t, err)

	svc := &scriptedEnroller{reject: map[string]bool{"1.jpg": true, "3.jpg": true}}
	steps := 0
	angles, skipped, err := enrollPerson(context.Background(), svc, "u1", dirs[0], func() { steps++ })
	require.NoError(t, err)

	assert.Equal(t, "carol", svc.person.Name, "the first usable image creates the person")
	assert.Equal(t, 1, angles)
	assert.Len(t, skipped, 2)
	assert.Equal(t, 4, steps)
}

func TestEnrollPersonNothingUsable(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "dave", "1.jpg"))
	dirs, err := scanPeopleDirs(root)
	require.NoError(t, err)

	svc := &scriptedEnroller{reject: map[string]bool{"1.jpg": true}}
	_, _, err = enrollPerson(context.Background(), svc, "u1", dirs[0], func() {})
	assert.ErrorIs(t, err, errNoUsableImage)
}
