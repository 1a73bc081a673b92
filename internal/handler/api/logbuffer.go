package api

import (
	"context"
	"sync"

	xlogger "PolyBot/pkg/logger"
)

// LogBuffer is an in-memory logger.Publisher holding the most recent
// aggregated log entries for the dashboard's /api/logs endpoint.
type LogBuffer struct {
	mu      sync.Mutex
	entries []xlogger.AggregatedLogEntry
	max     int
}

// NewLogBuffer creates a buffer keeping up to max entries.
func NewLogBuffer(max int) *LogBuffer {
	if max <= 0 {
		max = 500
	}
	return &LogBuffer{max: max}
}

// PublishMessage receives flushed batches from the log collector.
func (b *LogBuffer) PublishMessage(_ context.Context, _ string, payload interface{}) error {
	logs, ok := payload.([]xlogger.AggregatedLogEntry)
	if !ok {
		return nil
	}
	b.mu.Lock()
	b.entries = append(b.entries, logs...)
	if len(b.entries) > b.max {
		b.entries = b.entries[len(b.entries)-b.max:]
	}
	b.mu.Unlock()
	return nil
}

// Recent copies the buffered entries, newest last.
func (b *LogBuffer) Recent() []xlogger.AggregatedLogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]xlogger.AggregatedLogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}
