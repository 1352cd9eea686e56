package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/bms-acquisition/db"
	"github.com/thatsimonsguy/bms-acquisition/internal/datadog"
	"github.com/thatsimonsguy/bms-acquisition/internal/model"
)

// Sink consumes published cycles. It matches acquisition.Publisher.
type Sink interface {
	Publish(ctx context.Context, cycle model.Cycle) error
}

// Fanout hands every cycle to each sink in order. Each sink gets its own copy,
// and a failing sink does not stop the rest.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, cycle model.Cycle) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, cycle.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Latest keeps the most recent cycle for readers on other goroutines.
type Latest struct {
	mu    sync.RWMutex
	cycle model.Cycle
	ok    bool
}

func NewLatest() *Latest {
	return &Latest{}
}

func (l *Latest) Publish(ctx context.Context, cycle model.Cycle) error {
	l.mu.Lock()
	l.cycle = cycle
	l.ok = true
	l.mu.Unlock()
	return nil
}

// Get returns a copy of the latest cycle; ok is false until the first publish.
func (l *Latest) Get() (model.Cycle, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.ok {
		return model.Cycle{}, false
	}
	return l.cycle.Clone(), true
}

// LogSink writes a summary line per cycle and the full matrices at debug level.
type LogSink struct{}

func (LogSink) Publish(ctx context.Context, c model.Cycle) error {
	ev := log.Info()
	if c.Fault || c.Errors > 0 {
		ev = log.Warn()
	}
	ev.Uint64("seq", c.Seq).
		Dur("duration", c.Duration).
		Bool("fault", c.Fault).
		Int("errors", c.Errors).
		Msg("Cycle complete")

	if log.Logger.GetLevel() <= zerolog.DebugLevel {
		for d := range c.Voltages {
			ev := log.Debug().Uint64("seq", c.Seq).Int("device", d).Interface("cells", c.Voltages[d])
			if d < len(c.Temperatures) {
				ev = ev.Interface("temperatures", c.Temperatures[d])
			}
			ev.Msg("Device readings")
		}
	}
	return nil
}

// MetricsSink emits one gauge per cell and aux channel, tagged by position.
type MetricsSink struct{}

func (MetricsSink) Publish(ctx context.Context, c model.Cycle) error {
	if !datadog.Enabled() {
		return nil
	}

	for d, row := range c.Voltages {
		dev := "device:" + strconv.Itoa(d)
		for cell, code := range row {
			datadog.Gauge("cell.voltage_code", float64(code), dev, "cell:"+strconv.Itoa(cell))
		}
	}
	for d, row := range c.Temperatures {
		dev := "device:" + strconv.Itoa(d)
		for ch, tenths := range row {
			datadog.Gauge("aux.temperature", float64(tenths)/10, dev, "channel:"+strconv.Itoa(ch))
		}
	}

	datadog.Gauge("cycle.duration_ms", float64(c.Duration.Microseconds())/1000)
	fault := 0.0
	if c.Fault {
		fault = 1
	}
	datadog.Gauge("cycle.fault", fault)
	if c.Errors > 0 {
		datadog.Count("cycle.errors", int64(c.Errors))
	}
	return nil
}

// StoreSink persists cycles to SQLite, keeping at most Retain of them (0 keeps all).
type StoreSink struct {
	DB     *sql.DB
	Retain int
	// PruneEvery spaces out prune passes; 0 prunes after every insert.
	PruneEvery int

	inserts int
}

func (s *StoreSink) Publish(ctx context.Context, c model.Cycle) error {
	if _, err := db.InsertCycle(s.DB, c); err != nil {
		return fmt.Errorf("store cycle %d: %w", c.Seq, err)
	}

	s.inserts++
	if s.Retain <= 0 || (s.PruneEvery > 0 && s.inserts%s.PruneEvery != 0) {
		return nil
	}

	n, err := db.PruneCycles(s.DB, s.Retain)
	if err != nil {
		return fmt.Errorf("prune cycles: %w", err)
	}
	if n > 0 {
		log.Debug().Int64("removed", n).Int("retain", s.Retain).Msg("Pruned stored cycles")
	}
	return nil
}
