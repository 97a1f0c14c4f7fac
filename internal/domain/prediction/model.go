package prediction

import (
	"time"

	"github.com/google/uuid"
)

// PatientFactors are the patient-level inputs that shift a duration
// estimate away from the historical mean.
type PatientFactors struct {
	AgeYears       int      `json:"age_years,omitempty"`
	BMI            float64  `json:"bmi,omitempty"`
	ASAClass       int      `json:"asa_class"`
	Comorbidities  []string `json:"comorbidities"`
	PriorSurgeries int      `json:"prior_surgeries,omitempty"`
}

// Observation is one completed case's actual procedure duration.
type Observation struct {
	ID            uuid.UUID `json:"id"`
	CaseID        uuid.UUID `json:"case_id"`
	ProcedureCode string    `json:"procedure_code"`
	SurgeonID     uuid.UUID `json:"surgeon_id"`
	ActualMinutes float64   `json:"actual_minutes"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Stats summarizes observed durations for a procedure, either across all
// surgeons or for one.
type Stats struct {
	Count       int     `json:"count"`
	MeanMinutes float64 `json:"mean_minutes"`
	StdDev      float64 `json:"std_dev"`
}

// Prediction is a duration estimate with an 80% interval and a
// confidence score in [0,1] reflecting how much history backs it.
type Prediction struct {
	ProcedureCode   string    `json:"procedure_code"`
	SurgeonID       uuid.UUID `json:"surgeon_id"`
	ExpectedMinutes float64   `json:"expected_minutes"`
	LowerMinutes    float64   `json:"lower_minutes"`
	UpperMinutes    float64   `json:"upper_minutes"`
	Confidence      float64   `json:"confidence"`
	SampleSize      int       `json:"sample_size"`
	Basis           string    `json:"basis"`
}
