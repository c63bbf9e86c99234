package recovery

import (
	"sync"
	"time"

	"github.com/freeeve/avalon-recovery/internal/model"
)

// MetricEvent classifies a coordinator event fed into the metrics collector.
type MetricEvent string

const (
	EventSave            MetricEvent = "save"
	EventSaveFailed      MetricEvent = "save_failed"
	EventRestore         MetricEvent = "restore"
	EventRestoreFailed   MetricEvent = "restore_failed"
	EventReconnect       MetricEvent = "reconnect"
	EventReconnectFailed MetricEvent = "reconnect_failed"
	EventCorruption      MetricEvent = "corruption"
	EventPlayerTimeout   MetricEvent = "player_timeout"
)

// MetricsCollector folds coordinator events into counters, running averages,
// and rates. Averages are cumulative moving averages, so a fixed event
// sequence always yields the same numbers.
type MetricsCollector struct {
	mu sync.Mutex
	m  model.RecoveryMetrics
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// Record folds one event into the aggregate. Duration is ignored for events
// that carry none (failures, corruptions, timeouts may pass zero).
func (c *MetricsCollector) Record(event MetricEvent, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch event {
	case EventSave:
		c.m.TotalSaves++
		c.m.AverageSaveTime = foldAverage(c.m.AverageSaveTime, duration, c.m.TotalSaves)
	case EventSaveFailed:
		c.m.FailedSaves++
	case EventRestore:
		c.m.TotalRestores++
		c.m.AverageRestoreTime = foldAverage(c.m.AverageRestoreTime, duration, c.m.TotalRestores)
	case EventRestoreFailed:
		c.m.FailedRestores++
	case EventReconnect:
		c.m.TotalReconnections++
		c.m.AverageReconnectionTime = foldAverage(c.m.AverageReconnectionTime, duration, c.m.TotalReconnections)
	case EventReconnectFailed:
		c.m.FailedReconnections++
	case EventCorruption:
		c.m.CorruptionsDetected++
	case EventPlayerTimeout:
		c.m.PlayerTimeouts++
	}

	c.recalcRatesLocked()
	c.m.LastUpdated = time.Now()
}

// Snapshot returns a read-only copy of the current metrics.
func (c *MetricsCollector) Snapshot() model.RecoveryMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m
}

func (c *MetricsCollector) recalcRatesLocked() {
	attempts := c.m.TotalSaves + c.m.FailedSaves +
		c.m.TotalRestores + c.m.FailedRestores +
		c.m.TotalReconnections + c.m.FailedReconnections
	if attempts > 0 {
		failed := c.m.FailedSaves + c.m.FailedRestores + c.m.FailedReconnections
		c.m.FailureRate = float64(failed) / float64(attempts)
		c.m.CorruptionRate = float64(c.m.CorruptionsDetected) / float64(attempts)
	}
	reconnects := c.m.TotalReconnections + c.m.FailedReconnections + c.m.PlayerTimeouts
	if reconnects > 0 {
		c.m.TimeoutRate = float64(c.m.PlayerTimeouts) / float64(reconnects)
	}
}

// foldAverage updates a cumulative moving average with the nth sample.
func foldAverage(avg, sample time.Duration, n int64) time.Duration {
	return avg + (sample-avg)/time.Duration(n)
}
