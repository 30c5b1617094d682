package metrics

import "time"

// VerifyMetrics are the series recorded by the verifier. A nil
// *VerifyMetrics records nothing.
type VerifyMetrics struct {
	passed       *Counter
	failed       *Counter
	errors       *Counter
	geometryFail *Counter
	coils        *Counter
	failingCoils *Counter
	lastSeed     *Gauge
	duration     *Histogram
}

// NewVerifyMetrics registers the verification series on r.
func NewVerifyMetrics(r *Registry) *VerifyMetrics {
	return &VerifyMetrics{
		passed: r.Counter("verifications_total", "Completed verifications by result.",
			Labels{"result": "pass"}),
		failed: r.Counter("verifications_total", "Completed verifications by result.",
			Labels{"result": "fail"}),
		errors: r.Counter("verification_errors_total",
			"Verifications aborted by malformed input, invalid parameters or cancellation.", nil),
		geometryFail: r.Counter("geometry_failures_total",
			"Runs whose geometry stage failed.", nil),
		coils: r.Counter("coils_checked_total",
			"Coil fingerprints recomputed.", nil),
		failingCoils: r.Counter("coils_failed_total",
			"Coil fingerprints that did not match.", nil),
		lastSeed: r.Gauge("last_seed",
			"Seed used by the most recent geometry stage.", nil),
		duration: r.Histogram("verification_duration_seconds",
			"Wall time of a verification run.", nil, DurationBuckets),
	}
}

// Run describes a finished verification.
type Run struct {
	Passed         bool
	CoilsChecked   int
	CoilsFailed    int
	GeometryFailed bool
	Seed           *float64
	Duration       time.Duration
}

// ObserveRun records a completed verification.
func (m *VerifyMetrics) ObserveRun(r Run) {
	if m == nil {
		return
	}
	if r.Passed {
		m.passed.Inc()
	} else {
		m.failed.Inc()
	}
	if r.GeometryFailed {
		m.geometryFail.Inc()
	}
	m.coils.Add(uint64(r.CoilsChecked))
	m.failingCoils.Add(uint64(r.CoilsFailed))
	if r.Seed != nil {
		m.lastSeed.Set(*r.Seed)
	}
	m.duration.ObserveDuration(r.Duration)
}

// ObserveError records an aborted verification.
func (m *VerifyMetrics) ObserveError() {
	if m == nil {
		return
	}
	m.errors.Inc()
}
