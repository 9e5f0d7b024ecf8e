package predict

import (
	"math"
	"sort"

	"github.com/Skufu/healthlens/internal/features"
	"github.com/Skufu/healthlens/internal/schema"
)

const (
	labWeight    = 0.7
	modelWeight  = 0.3
	penaltyScale = 5.0
	maxZ         = 3.0
	topPenalties = 3
)

// Contribution is the score penalty one lab value incurred.
type Contribution struct {
	Key     string  `json:"key"`
	Penalty float64 `json:"penalty"`
}

// HealthScore blends lab deviations from the reference ranges with the
// model's risk into a 0-100 score. Each out-of-range value is penalized by
// its distance to the nearest bound in half-range units, clipped at 3.
// Without any ranged value the score is driven by the model alone.
func HealthScore(s *schema.Schema, vector features.Vector, probability float64) (float64, []Contribution) {
	probability = clamp(probability, 0, 1)
	model := 100 * (1 - probability)

	var (
		penalty float64
		seen    bool
		parts   []Contribution
	)
	for _, f := range s.Fields() {
		if f.Range == nil {
			continue
		}
		x, ok := features.ParseNumber(vector[f.Name])
		if !ok {
			continue
		}
		seen = true
		if x >= f.Range.Min && x <= f.Range.Max {
			continue
		}
		sd := math.Max(f.Range.Max-f.Range.Min, 1e-6) / 2
		nearest := f.Range.Max
		if x < f.Range.Min {
			nearest = f.Range.Min
		}
		pen := clamp(math.Abs(x-nearest)/sd, 0, maxZ)
		penalty += pen
		parts = append(parts, Contribution{Key: f.Name, Penalty: round(pen, 2)})
	}

	if !seen {
		return round(model, 1), nil
	}

	labs := clamp(100-penalty*penaltyScale, 0, 100)
	score := clamp(labWeight*labs+modelWeight*model, 0, 100)

	sort.SliceStable(parts, func(i, j int) bool { return parts[i].Penalty > parts[j].Penalty })
	if len(parts) > topPenalties {
		parts = parts[:topPenalties]
	}
	return round(score, 1), parts
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
