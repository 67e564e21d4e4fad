package instance

import "time"

// Stats are execution statistics for one instance.
type Stats struct {
	EventsProcessed   uint64
	Faults            uint64
	StateWrites       uint64
	ExecutionTime     time.Duration // cumulative since MeasurementStart
	LastExecutionTime time.Duration
	MeasurementStart  time.Time
}

func (s *Stats) resetPeriod(now time.Time) {
	s.ExecutionTime = 0
	s.MeasurementStart = now
}

func (s *Stats) recordExecution(d time.Duration) {
	s.ExecutionTime += d
	s.LastExecutionTime = d
}
