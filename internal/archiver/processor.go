package archiver

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/alerts"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/config"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/storage"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/transformer"
)

// AlertStore persists alert rows
type AlertStore interface {
	InsertAlerts(ctx context.Context, rows []storage.AlertRow) error
}

// SessionFlusher moves a finished session out of the live aggregate
type SessionFlusher interface {
	FlushSession(ctx context.Context, sessionID string) error
}

// AlertProcessor buffers alerts from Kafka and writes them to ClickHouse in
// batches.
type AlertProcessor struct {
	store    AlertStore
	sessions SessionFlusher
	batchCfg config.BatchConfig

	mu     sync.Mutex
	buffer []storage.AlertRow
	ticker *time.Ticker
	done   chan struct{}
}

// NewAlertProcessor creates a processor and starts its flush ticker.
// sessions may be nil.
func NewAlertProcessor(store AlertStore, sessions SessionFlusher, batchCfg config.BatchConfig) *AlertProcessor {
	p := &AlertProcessor{
		store:    store,
		sessions: sessions,
		batchCfg: batchCfg,
		buffer:   make([]storage.AlertRow, 0, batchCfg.Size),
		done:     make(chan struct{}),
	}

	p.ticker = time.NewTicker(batchCfg.FlushInterval)
	go p.flushLoop()

	return p
}

// Process buffers one alert message
func (p *AlertProcessor) Process(ctx context.Context, msg map[string]interface{}) error {
	row, err := transformer.TransformAlert(msg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.buffer = append(p.buffer, *row)
	shouldFlush := len(p.buffer) >= p.batchCfg.Size
	p.mu.Unlock()

	// The session's alerts go out before its summary row
	if row.Type == string(alerts.TypeTrackingStopped) {
		p.Flush()
		if p.sessions != nil && row.SessionID != "" {
			if err := p.sessions.FlushSession(ctx, row.SessionID); err != nil {
				log.Error().Err(err).Str("session_id", row.SessionID).Msg("Failed to flush session")
			}
		}
		return nil
	}

	if shouldFlush {
		p.Flush()
	}

	return nil
}

func (p *AlertProcessor) flushLoop() {
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.C:
			p.Flush()
		}
	}
}

// Flush writes buffered alerts to the store
func (p *AlertProcessor) Flush() {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	rows := p.buffer
	p.buffer = make([]storage.AlertRow, 0, p.batchCfg.Size)
	p.mu.Unlock()

	start := time.Now()
	if err := p.store.InsertAlerts(context.Background(), rows); err != nil {
		log.Error().Err(err).Int("count", len(rows)).Msg("Failed to insert alerts")
		return
	}

	log.Info().
		Int("count", len(rows)).
		Dur("duration", time.Since(start)).
		Msg("Flushed alerts to ClickHouse")
}

// Stop stops the ticker and does a final flush
func (p *AlertProcessor) Stop() {
	p.ticker.Stop()
	close(p.done)
	p.Flush()
}
