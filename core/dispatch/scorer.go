package dispatch

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/repairdispatch/core/model"
)

const (
	earthRadiusKm = 6371.0088
	maxRating     = 5.0
)

// ScoredWorker is a ranked candidate along with its factor breakdown.
type ScoredWorker struct {
	Worker     model.Worker
	Score      float64
	Proximity  float64
	Reputation float64
	Experience float64
}

// Scorer ranks masters for an order using a weighted sum of proximity,
// reputation and experience. It is pure: the same input always yields the
// same ranking.
type Scorer struct {
	ProximityWeight  float64
	ReputationWeight float64
	ExperienceWeight float64
	// DecayKm is the distance at which the proximity factor drops to 0.5.
	DecayKm float64
	// ExperienceSaturation is the completed-job count at which the
	// experience factor reaches 1.
	ExperienceSaturation int
}

// NewScorer returns a scorer with default weights.
func NewScorer() Scorer {
	return Scorer{
		ProximityWeight:      0.5,
		ReputationWeight:     0.3,
		ExperienceWeight:     0.2,
		DecayKm:              5,
		ExperienceSaturation: 200,
	}
}

// NewScorerFromConfig builds a scorer from configuration.
func NewScorerFromConfig(c ScoringConfig) Scorer {
	return Scorer{
		ProximityWeight:      c.ProximityWeight,
		ReputationWeight:     c.ReputationWeight,
		ExperienceWeight:     c.ExperienceWeight,
		DecayKm:              c.DecayKm,
		ExperienceSaturation: c.ExperienceSaturation,
	}
}

// Rank returns the eligible candidates, best first.
func (s Scorer) Rank(req model.OrderRequirements, candidates []model.Worker) []model.Worker {
	scored := s.Score(req, candidates)
	out := make([]model.Worker, len(scored))
	for i, c := range scored {
		out[i] = c.Worker
	}
	return out
}

// Score filters out off-shift and unqualified workers and returns the rest
// sorted by descending score, ties broken by ascending worker ID.
func (s Scorer) Score(req model.OrderRequirements, candidates []model.Worker) []ScoredWorker {
	weights := []float64{s.ProximityWeight, s.ReputationWeight, s.ExperienceWeight}
	list := make([]ScoredWorker, 0, len(candidates))
	for _, w := range candidates {
		if !w.OnShift || !w.Specializes(req.Category) {
			continue
		}
		c := ScoredWorker{
			Worker:     w,
			Proximity:  s.proximity(req.Location, w.Location),
			Reputation: reputation(w.Rating),
			Experience: s.experience(w.CompletedJobs),
		}
		c.Score = floats.Dot(weights, []float64{c.Proximity, c.Reputation, c.Experience})
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Score != list[j].Score {
			return list[i].Score > list[j].Score
		}
		return list[i].Worker.ID < list[j].Worker.ID
	})
	return list
}

// proximity maps distance to (0,1]; an unknown location scores 0.
func (s Scorer) proximity(order, worker *model.GeoPoint) float64 {
	if order == nil || worker == nil || s.DecayKm <= 0 {
		return 0
	}
	d := Haversine(*order, *worker)
	if math.IsNaN(d) {
		return 0
	}
	return s.DecayKm / (s.DecayKm + d)
}

func reputation(rating *float64) float64 {
	if rating == nil || math.IsNaN(*rating) {
		return 0
	}
	return clamp01(*rating / maxRating)
}

// experience grows logarithmically and saturates at ExperienceSaturation jobs.
func (s Scorer) experience(jobs *int) float64 {
	if jobs == nil || *jobs <= 0 || s.ExperienceSaturation <= 0 {
		return 0
	}
	return clamp01(math.Log1p(float64(*jobs)) / math.Log1p(float64(s.ExperienceSaturation)))
}

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b model.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(math.Min(1, h)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
