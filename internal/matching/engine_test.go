package matching

import (
	"context"
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/visage/internal/embedding"
	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/models"
)

type entry struct {
	user   string
	person uuid.UUID
	vec    []float32
	linked bool
}

type memGallery struct {
	entries []entry
	err     error
	calls   int
}

func (g *memGallery) NearestPersons(_ context.Context, userID string, q []float32, _ string, limit int) ([]models.PersonDistance, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	best := map[uuid.UUID]float64{}
	for _, e := range g.entries {
		if e.user != userID || !e.linked {
			continue
		}
		d := embedding.L2Distance(q, e.vec)
		if cur, ok := best[e.person]; !ok || d < cur {
			best[e.person] = d
		}
	}
	out := make([]models.PersonDistance, 0, len(best))
	for id, d := range best {
		out = append(out, models.PersonDistance{PersonID: id, Distance: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].PersonID.String() < out[j].PersonID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// unit returns a 2-d unit vector at angle a whose distance to (1,0) is 2·sin(a/2).
func unit(a float64) []float32 {
	return []float32{float32(math.Cos(a)), float32(math.Sin(a))}
}

// atDistance returns a unit vector at L2 distance d from (1,0).
func atDistance(d float64) []float32 {
	return unit(2 * math.Asin(d/2))
}

func TestMatchEmptyGallery(t *testing.T) {
	e := NewEngine(&memGallery{}, "test", 2, 0)
	res, err := e.Match(context.Background(), Query{UserID: "u1", Embedding: unit(0)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmptyGallery, res.Outcome)
	assert.Nil(t, res.Distance)
	assert.ErrorIs(t, res.Err(), ErrEmptyGallery)
}

func TestMatchThresholdBoundary(t *testing.T) {
	p := uuid.New()
	tests := []struct {
		name     string
		distance float64
		outcome  Outcome
	}{
		{"recognized", 0.30, OutcomeRecognized},
		{"no match", 0.55, OutcomeNoMatch},
		{"far", 1.2, OutcomeNoMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &memGallery{entries: []entry{{user: "u1", person: p, vec: atDistance(tt.distance), linked: true}}}
			res, err := NewEngine(g, "test", 2, 0).Match(context.Background(), Query{UserID: "u1", Embedding: unit(0)})
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, res.Outcome)
			require.NotNil(t, res.Distance)
			assert.InDelta(t, tt.distance, *res.Distance, 1e-5)
			if tt.outcome == OutcomeRecognized {
				assert.Equal(t, p, res.PersonID)
				assert.NoError(t, res.Err())
			} else {
				assert.Equal(t, uuid.Nil, res.PersonID)
				var nm *NoMatchError
				require.ErrorAs(t, res.Err(), &nm)
				assert.InDelta(t, tt.distance, nm.Distance, 1e-5)
			}
		})
	}
}

func TestMatchDistanceEqualToThresholdIsNoMatch(t *testing.T) {
	g := &memGallery{entries: []entry{{user: "u1", person: uuid.New(), vec: []float32{1, 0}, linked: true}}}
	e := NewEngine(g, "test", 2, 0)
	d := embedding.L2Distance([]float32{0, 1}, []float32{1, 0})
	res, err := e.Match(context.Background(), Query{UserID: "u1", Embedding: []float32{0, 1}, Threshold: d})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, res.Outcome)
}

func TestMatchMinimumPerPerson(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	g := &memGallery{entries: []entry{
		// alice has one far encoding and one close encoding
		{user: "u1", person: alice, vec: atDistance(0.9), linked: true},
		{user: "u1", person: alice, vec: atDistance(0.1), linked: true},
		{user: "u1", person: bob, vec: atDistance(0.2), linked: true},
	}}
	res, err := NewEngine(g, "test", 2, 0).Match(context.Background(), Query{UserID: "u1", Embedding: unit(0)})
	require.NoError(t, err)
	assert.Equal(t, alice, res.PersonID)
	assert.InDelta(t, 0.1, *res.Distance, 1e-5)
}

func TestMatchScopedByUser(t *testing.T) {
	other := uuid.New()
	g := &memGallery{entries: []entry{{user: "u2", person: other, vec: unit(0), linked: true}}}
	res, err := NewEngine(g, "test", 2, 0).Match(context.Background(), Query{UserID: "u1", Embedding: unit(0)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmptyGallery, res.Outcome)
}

func TestMatchIgnoresPendingEncodings(t *testing.T) {
	g := &memGallery{entries: []entry{{user: "u1", person: uuid.New(), vec: unit(0), linked: false}}}
	res, err := NewEngine(g, "test", 2, 0).Match(context.Background(), Query{UserID: "u1", Embedding: unit(0)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmptyGallery, res.Outcome)
}

func TestMatchPerQueryThreshold(t *testing.T) {
	p := uuid.New()
	g := &memGallery{entries: []entry{{user: "u1", person: p, vec: atDistance(0.5), linked: true}}}
	e := NewEngine(g, "test", 2, 0)

	res, err := e.Match(context.Background(), Query{UserID: "u1", Embedding: unit(0)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, res.Outcome)

	res, err = e.Match(context.Background(), Query{UserID: "u1", Embedding: unit(0), Threshold: 0.6})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecognized, res.Outcome)
	assert.Equal(t, 0.6, res.Threshold)
}

func TestMatchDeterministic(t *testing.T) {
	g := &memGallery{}
	for i := 0; i < 20; i++ {
		g.entries = append(g.entries, entry{user: "u1", person: uuid.New(), vec: unit(float64(i) * 0.05), linked: true})
	}
	e := NewEngine(g, "test", 2, 0)
	q := Query{UserID: "u1", Embedding: unit(0.33)}

	first, err := e.Match(context.Background(), q)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := e.Match(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, first.PersonID, again.PersonID)
		assert.Equal(t, *first.Distance, *again.Distance)
	}
}

func TestMatchNormalizesQuery(t *testing.T) {
	p := uuid.New()
	g := &memGallery{entries: []entry{{user: "u1", person: p, vec: unit(0), linked: true}}}
	res, err := NewEngine(g, "test", 2, 0).Match(context.Background(), Query{UserID: "u1", Embedding: []float32{7, 0}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecognized, res.Outcome)
	assert.InDelta(t, 0, *res.Distance, 1e-6)
}

func TestMatchRejectsBadVectors(t *testing.T) {
	g := &memGallery{}
	e := NewEngine(g, "test", 2, 0)

	_, err := e.Match(context.Background(), Query{UserID: "u1", Embedding: []float32{1, 0, 0}})
	var de *embedding.DimensionError
	assert.ErrorAs(t, err, &de)

	_, err = e.Match(context.Background(), Query{UserID: "u1", Embedding: []float32{0, 0}})
	assert.ErrorIs(t, err, embedding.ErrZeroVector)
	assert.Zero(t, g.calls)
}

func TestMatchStoreFailureIsInfrastructure(t *testing.T) {
	g := &memGallery{err: errors.New("connection reset")}
	_, err := NewEngine(g, "test", 2, 0).Match(context.Background(), Query{UserID: "u1", Embedding: unit(0)})
	require.Error(t, err)
	assert.True(t, identity.IsInfrastructure(err))
	assert.NotErrorIs(t, err, ErrEmptyGallery)
}
