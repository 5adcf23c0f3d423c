// Package monitoring - telemetry.go records events to JSONL files.
//
// DESIGN: Tracker writes structured events as JSONL (one JSON object per line):
//   - ScanEvent:       every analysis request through the gateway
//   - SettlementEvent: every reservation settlement (commit or refund)
//
// Events are appended immediately after each event for real-time logging.
package monitoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// TelemetryConfig controls where events are written.
type TelemetryConfig struct {
	Enabled     bool
	LogPath     string
	LogToStdout bool
}

// ScanEvent records one analysis request end to end.
type ScanEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	SessionKey    string    `json:"session_key"`
	AccountID     string    `json:"account_id"`
	Language      string    `json:"language"`
	SizeBytes     int       `json:"size_bytes"`
	Cost          int64     `json:"cost"`
	Outcome       string    `json:"outcome"`
	FailureReason string    `json:"failure_reason,omitempty"`
	ChunksRelayed int       `json:"chunks_relayed"`
	BytesRelayed  int64     `json:"bytes_relayed"`
	DurationMS    int64     `json:"duration_ms"`
}

// SettlementEvent records one reservation settlement.
type SettlementEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	AccountID     string    `json:"account_id"`
	ReservationID string    `json:"reservation_id"`
	Amount        int64     `json:"amount"`
	Op            string    `json:"op"` // commit or refund
	Inconsistent  bool      `json:"inconsistent,omitempty"`
}

// Tracker handles telemetry event recording to file and stdout.
type Tracker struct {
	config  TelemetryConfig
	logPath string
	mu      sync.Mutex
}

// NewTracker creates a telemetry tracker.
func NewTracker(cfg TelemetryConfig) (*Tracker, error) {
	t := &Tracker{config: cfg}
	if !cfg.Enabled || cfg.LogPath == "" {
		return t, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0750); err != nil {
		return nil, err
	}
	t.logPath = cfg.LogPath
	if _, err := os.Stat(cfg.LogPath); os.IsNotExist(err) {
		if f, err := os.Create(cfg.LogPath); err == nil {
			_ = f.Close()
		}
	}
	return t, nil
}

// RecordScan records a completed or failed analysis request.
func (t *Tracker) RecordScan(event ScanEvent) {
	if !t.config.Enabled {
		return
	}
	event.Timestamp = time.Now()
	t.record(event)
}

// RecordSettlement records a commit or refund.
func (t *Tracker) RecordSettlement(event SettlementEvent) {
	if !t.config.Enabled {
		return
	}
	event.Timestamp = time.Now()
	t.record(event)
}

func (t *Tracker) record(event any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.config.LogToStdout {
		if data, err := json.Marshal(event); err == nil {
			os.Stdout.Write(append(data, '\n'))
		}
	}
	if t.logPath == "" {
		return
	}
	if err := appendJSONL(t.logPath, event); err != nil {
		log.Warn().Err(err).Str("path", t.logPath).Msg("telemetry write failed")
	}
}

// appendJSONL appends a single JSON object as a line to the file.
func appendJSONL(path string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}
