package prediction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/orsched/orsched/internal/domain/cases"
)

// ErrUnavailable is returned when no prediction can be made and no
// fallback estimate was supplied.
var ErrUnavailable = errors.New("prediction unavailable")

const (
	// shrinkageK is the smoothing constant: a surgeon's own mean earns
	// full weight only as their sample count grows well past it.
	shrinkageK = 10.0

	// z80 is the z-score for an 80% two-sided interval.
	z80 = 1.282

	minSamplesForFullConfidence = 30
)

// Predictor estimates case durations from observed history, blending a
// surgeon's own record with the procedure-wide mean and adjusting for
// patient factors.
type Predictor struct {
	history HistoryRepository

	mu    sync.RWMutex
	cache map[cacheKey]*Prediction
}

type cacheKey struct {
	procedure string
	surgeon   uuid.UUID
	asa       int
	comorbs   int
	age       int
	bmi       float64
	priors    int
}

// NewPredictor creates a duration predictor.
func NewPredictor(history HistoryRepository) *Predictor {
	return &Predictor{
		history: history,
		cache:   make(map[cacheKey]*Prediction),
	}
}

// Predict returns a duration estimate for a procedure by a surgeon with
// the given patient factors. fallbackMinutes (usually the booking
// estimate) is used when no history exists; when it too is zero the
// call fails with ErrUnavailable.
func (p *Predictor) Predict(ctx context.Context, procedureCode string, surgeonID uuid.UUID,
	factors PatientFactors, fallbackMinutes int) (*Prediction, error) {

	if procedureCode == "" {
		return nil, fmt.Errorf("procedure code is required")
	}

	key := cacheKey{procedure: procedureCode, surgeon: surgeonID,
		asa: factors.ASAClass, comorbs: len(factors.Comorbidities),
		age: factors.AgeYears, bmi: factors.BMI, priors: factors.PriorSurgeries}
	p.mu.RLock()
	if cached, ok := p.cache[key]; ok {
		p.mu.RUnlock()
		return cached, nil
	}
	p.mu.RUnlock()

	pred, err := p.compute(ctx, procedureCode, surgeonID, factors, fallbackMinutes)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[key] = pred
	p.mu.Unlock()
	return pred, nil
}

func (p *Predictor) compute(ctx context.Context, procedureCode string, surgeonID uuid.UUID,
	factors PatientFactors, fallbackMinutes int) (*Prediction, error) {

	procStats, err := p.history.StatsForProcedure(ctx, procedureCode)
	if err != nil {
		if !errors.Is(err, ErrNoHistory) {
			return nil, err
		}
		// Nothing observed for this procedure at all.
		if fallbackMinutes <= 0 {
			return nil, fmt.Errorf("no history for procedure %s: %w", procedureCode, ErrUnavailable)
		}
		log.Debug().
			Str("procedure", procedureCode).
			Msg("no duration history, using booking estimate")
		expected := adjustForFactors(float64(fallbackMinutes), factors)
		return &Prediction{
			ProcedureCode:   procedureCode,
			SurgeonID:       surgeonID,
			ExpectedMinutes: expected,
			LowerMinutes:    expected,
			UpperMinutes:    expected,
			Confidence:      0,
			SampleSize:      0,
			Basis:           "booking_estimate",
		}, nil
	}

	mean := procStats.MeanMinutes
	stdDev := procStats.StdDev
	sampleSize := procStats.Count
	basis := "procedure_mean"

	if surgeonID != uuid.Nil {
		surgeonStats, err := p.history.StatsForSurgeon(ctx, procedureCode, surgeonID)
		if err != nil && !errors.Is(err, ErrNoHistory) {
			return nil, err
		}
		if surgeonStats != nil {
			// Shrink the surgeon's mean toward the procedure mean in
			// proportion to how much of their own history exists.
			n := float64(surgeonStats.Count)
			w := n / (n + shrinkageK)
			mean = w*surgeonStats.MeanMinutes + (1-w)*procStats.MeanMinutes
			if surgeonStats.StdDev > 0 {
				stdDev = w*surgeonStats.StdDev + (1-w)*procStats.StdDev
			}
			sampleSize = surgeonStats.Count
			basis = "surgeon_blend"
		}
	}

	expected := adjustForFactors(mean, factors)
	margin := z80 * stdDev
	confidence := math.Min(1, float64(sampleSize)/minSamplesForFullConfidence)

	return &Prediction{
		ProcedureCode:   procedureCode,
		SurgeonID:       surgeonID,
		ExpectedMinutes: round1(expected),
		LowerMinutes:    round1(math.Max(0, expected-margin)),
		UpperMinutes:    round1(expected + margin),
		Confidence:      round1(confidence),
		SampleSize:      sampleSize,
		Basis:           basis,
	}, nil
}

// adjustForFactors inflates a baseline for patient complexity: ASA
// class, comorbidity load, advanced age, obesity and surgical history
// all stretch expected duration.
func adjustForFactors(baseline float64, factors PatientFactors) float64 {
	multiplier := 1.0
	switch {
	case factors.ASAClass >= 4:
		multiplier += 0.20
	case factors.ASAClass == 3:
		multiplier += 0.10
	}
	comorbBump := 0.05 * float64(len(factors.Comorbidities))
	if comorbBump > 0.25 {
		comorbBump = 0.25
	}
	multiplier += comorbBump
	switch {
	case factors.AgeYears >= 75:
		multiplier += 0.10
	case factors.AgeYears >= 65:
		multiplier += 0.05
	}
	switch {
	case factors.BMI >= 40:
		multiplier += 0.15
	case factors.BMI >= 30:
		multiplier += 0.05
	}
	// Redo surgery means adhesions and longer dissection.
	priorBump := 0.03 * float64(factors.PriorSurgeries)
	if priorBump > 0.15 {
		priorBump = 0.15
	}
	multiplier += priorBump
	return baseline * multiplier
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Invalidate drops cached predictions, called after new observations
// land so subsequent predictions see fresh stats.
func (p *Predictor) Invalidate() {
	p.mu.Lock()
	p.cache = make(map[cacheKey]*Prediction)
	p.mu.Unlock()
}

// Recorder observes case transitions and writes an observation when a
// procedure finishes. It needs both the start and end timestamps, which
// arrive as separate transitions, so it remembers starts in memory.
type Recorder struct {
	history   HistoryRepository
	predictor *Predictor

	mu     sync.Mutex
	starts map[uuid.UUID]int64 // case ID -> procedure start, unix seconds
}

// NewRecorder creates a transition observer that feeds the history.
func NewRecorder(history HistoryRepository, predictor *Predictor) *Recorder {
	return &Recorder{
		history:   history,
		predictor: predictor,
		starts:    make(map[uuid.UUID]int64),
	}
}

// ObserveTransition implements cases.TransitionObserver.
func (r *Recorder) ObserveTransition(ctx context.Context, c *cases.SurgicalCase, event cases.StatusEvent) {
	switch event.To {
	case cases.StatusProcedureStart:
		r.mu.Lock()
		r.starts[c.ID] = event.OccurredAt.Unix()
		r.mu.Unlock()
	case cases.StatusProcedureEnd:
		r.mu.Lock()
		startUnix, ok := r.starts[c.ID]
		delete(r.starts, c.ID)
		r.mu.Unlock()
		if !ok {
			return
		}
		minutes := float64(event.OccurredAt.Unix()-startUnix) / 60
		if minutes <= 0 {
			return
		}
		obs := &Observation{
			CaseID:        c.ID,
			ProcedureCode: c.ProcedureCode,
			SurgeonID:     c.SurgeonID,
			ActualMinutes: minutes,
			OccurredAt:    event.OccurredAt,
		}
		if err := r.history.Record(ctx, obs); err != nil {
			log.Error().Err(err).Str("case_id", c.ID.String()).Msg("failed to record duration observation")
			return
		}
		r.predictor.Invalidate()
	}
}
