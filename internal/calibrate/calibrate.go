// Package calibrate measures how a match threshold trades false accepts
// against false rejects on an enrolled gallery.
package calibrate

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/your-org/visage/internal/embedding"
	"github.com/your-org/visage/internal/models"
)

// ErrInsufficientData means the gallery has no genuine or no impostor pair.
// Calibration needs at least one person with two encodings and two persons.
var ErrInsufficientData = errors.New("calibrate: need at least one genuine and one impostor pair")

type Sample struct {
	PersonID uuid.UUID
	Vector   []float32
}

// SamplesFrom keeps the linked encodings of encs.
func SamplesFrom(encs []models.Encoding) []Sample {
	out := make([]Sample, 0, len(encs))
	for _, e := range encs {
		if !e.Linked() {
			continue
		}
		out = append(out, Sample{PersonID: *e.PersonID, Vector: e.Vector})
	}
	return out
}

// Point is the error rates at one threshold. A pair is accepted when its
// distance is strictly below the threshold.
type Point struct {
	Threshold float64 `json:"threshold"`
	FAR       float64 `json:"far"` // impostor pairs accepted
	FRR       float64 `json:"frr"` // genuine pairs rejected
}

type Distribution struct {
	Pairs  int     `json:"pairs"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P95    float64 `json:"p95"`
}

type Report struct {
	Persons  int          `json:"persons"`
	Samples  int          `json:"samples"`
	Genuine  Distribution `json:"genuine"`
	Impostor Distribution `json:"impostor"`
	Points   []Point      `json:"points"`
	// EER is the mean of FAR and FRR at EERThreshold, the scanned threshold
	// where the two are closest.
	EER          float64 `json:"eer"`
	EERThreshold float64 `json:"eer_threshold"`
}

// Thresholds returns from, from+step, ... up to and including to.
func Thresholds(from, to, step float64) []float64 {
	if step <= 0 || to < from {
		return nil
	}
	n := int(math.Floor((to-from)/step+1e-9)) + 1
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Round((from+float64(i)*step)*1e6) / 1e6
	}
	return out
}

// Run compares every pair of samples. Pairs of the same person are genuine,
// pairs of different persons are impostors.
func Run(samples []Sample, thresholds []float64) (*Report, error) {
	if len(thresholds) == 0 {
		return nil, fmt.Errorf("calibrate: no thresholds")
	}

	var genuine, impostor []float64
	persons := make(map[uuid.UUID]struct{})
	for i := range samples {
		persons[samples[i].PersonID] = struct{}{}
		for j := i + 1; j < len(samples); j++ {
			if len(samples[i].Vector) != len(samples[j].Vector) {
				return nil, &embedding.DimensionError{Got: len(samples[j].Vector), Want: len(samples[i].Vector)}
			}
			d := embedding.L2Distance(samples[i].Vector, samples[j].Vector)
			if samples[i].PersonID == samples[j].PersonID {
				genuine = append(genuine, d)
			} else {
				impostor = append(impostor, d)
			}
		}
	}
	if len(genuine) == 0 || len(impostor) == 0 {
		return nil, ErrInsufficientData
	}

	sort.Float64s(genuine)
	sort.Float64s(impostor)

	r := &Report{
		Persons:  len(persons),
		Samples:  len(samples),
		Genuine:  describe(genuine),
		Impostor: describe(impostor),
		Points:   make([]Point, 0, len(thresholds)),
	}

	best := math.Inf(1)
	for _, t := range thresholds {
		p := Point{
			Threshold: t,
			FAR:       float64(countBelow(impostor, t)) / float64(len(impostor)),
			FRR:       float64(len(genuine)-countBelow(genuine, t)) / float64(len(genuine)),
		}
		r.Points = append(r.Points, p)
		if gap := math.Abs(p.FAR - p.FRR); gap < best {
			best = gap
			r.EER = (p.FAR + p.FRR) / 2
			r.EERThreshold = t
		}
	}
	return r, nil
}

// countBelow counts values of sorted strictly less than t.
func countBelow(sorted []float64, t float64) int {
	return sort.SearchFloat64s(sorted, t)
}

func describe(sorted []float64) Distribution {
	mean, std := stat.MeanStdDev(sorted, nil)
	if len(sorted) < 2 {
		std = 0
	}
	return Distribution{
		Pairs:  len(sorted),
		Mean:   mean,
		StdDev: std,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		P95:    stat.Quantile(0.95, stat.Empirical, sorted, nil),
	}
}
