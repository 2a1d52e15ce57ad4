package logger

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ProgressTracker counts items of a batch run by outcome and logs at intervals.
// It is safe for concurrent use by the workers of one batch.
type ProgressTracker struct {
	logger      Logger
	operation   string
	total       int64
	current     int64
	outcomes    map[string]int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	now         func() time.Time
	mutex       sync.Mutex
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Operation   string
	Total       int64
	LogInterval time.Duration
	Logger      Logger
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 5 * time.Second
	}

	start := time.Now()
	tracker := &ProgressTracker{
		logger:      config.Logger.WithComponent("progress"),
		operation:   config.Operation,
		total:       config.Total,
		outcomes:    make(map[string]int64),
		startTime:   start,
		lastLogTime: start,
		logInterval: config.LogInterval,
		now:         time.Now,
	}

	tracker.logger.WithFields(Fields{
		"operation": config.Operation,
		"total":     config.Total,
	}).Info("Starting batch")

	return tracker
}

// Record counts one processed item under the given outcome label
func (p *ProgressTracker) Record(outcome string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current++
	p.outcomes[outcome]++

	now := p.now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.logger.WithFields(p.fieldsLocked(now)).Info("Batch progress")
		p.lastLogTime = now
	}
}

// Complete logs the final statistics and returns them
func (p *ProgressTracker) Complete(err error) ProgressStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := p.now()
	fields := p.fieldsLocked(now)
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("Batch finished with errors")
	} else {
		p.logger.WithFields(fields).Info("Batch finished")
	}
	return p.statsLocked(now)
}

func (p *ProgressTracker) statsLocked(now time.Time) ProgressStats {
	duration := now.Sub(p.startTime)
	var rate float64
	if duration.Seconds() > 0 {
		rate = float64(p.current) / duration.Seconds()
	}

	outcomes := make(map[string]int64, len(p.outcomes))
	for k, v := range p.outcomes {
		outcomes[k] = v
	}

	return ProgressStats{
		Operation: p.operation,
		Total:     p.total,
		Current:   p.current,
		Outcomes:  outcomes,
		Duration:  duration,
		Rate:      rate,
	}
}

func (p *ProgressTracker) fieldsLocked(now time.Time) Fields {
	stats := p.statsLocked(now)
	fields := Fields{
		"operation": p.operation,
		"processed": p.current,
		"total":     p.total,
		"duration":  stats.Duration.String(),
		"rate":      fmt.Sprintf("%.2f/sec", stats.Rate),
	}
	for outcome, count := range p.outcomes {
		fields["outcome_"+outcome] = count
	}
	return fields
}

// ProgressStats contains progress statistics
type ProgressStats struct {
	Operation string           `json:"operation"`
	Total     int64            `json:"total"`
	Current   int64            `json:"current"`
	Outcomes  map[string]int64 `json:"outcomes"`
	Duration  time.Duration    `json:"duration"`
	Rate      float64          `json:"rate"`
}

// String returns a human-readable representation of the progress
func (ps ProgressStats) String() string {
	keys := make([]string, 0, len(ps.Outcomes))
	for k := range ps.Outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	breakdown := ""
	for _, k := range keys {
		breakdown += fmt.Sprintf(" %s=%d", k, ps.Outcomes[k])
	}
	return fmt.Sprintf("%s: %d/%d processed in %v%s", ps.Operation, ps.Current, ps.Total, ps.Duration.Round(time.Millisecond), breakdown)
}

// TimedOperation executes a function and logs timing information
func TimedOperation(operation string, logger Logger, fn func() error) error {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	start := time.Now()

	err := fn()

	log := logger.WithFields(Fields{
		"operation": operation,
		"duration":  time.Since(start).String(),
	})
	if err != nil {
		log.WithError(err).Error("Operation failed")
	} else {
		log.Debug("Operation completed")
	}
	return err
}
