package ingest

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/quantumvision/quantum-image-search/pkg/natsutil"
)

// NATS subjects for ingestion events.
const (
	SubjectItemFailed = "images.ingest.failed"
	SubjectRunDone    = "images.ingest.done"
)

// Events publishes ingestion progress to NATS so downstream consumers
// (dashboards, alerting) can follow bulk runs. A nil *Events disables
// publishing entirely.
type Events struct {
	nc  *nats.Conn
	log *slog.Logger
}

// NewEvents wraps a NATS connection for event publishing.
func NewEvents(nc *nats.Conn, log *slog.Logger) *Events {
	if log == nil {
		log = slog.Default()
	}
	return &Events{nc: nc, log: log}
}

// itemFailedEvent is the wire form of a per-item failure.
type itemFailedEvent struct {
	Category string `json:"category"`
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// runDoneEvent is the wire form of a completed run summary.
type runDoneEvent struct {
	Category  string  `json:"category"`
	Total     int     `json:"total"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	Flushed   int     `json:"flushed"`
	Seconds   float64 `json:"elapsed_seconds"`
}

// ItemFailed publishes one failure. Publish errors are logged, never fatal:
// eventing must not interfere with ingestion.
func (e *Events) ItemFailed(ctx context.Context, category string, f Failure) {
	if e == nil || e.nc == nil {
		return
	}
	ev := itemFailedEvent{Category: category, Filename: f.Filename, Error: f.Error}
	if err := natsutil.Publish(ctx, e.nc, SubjectItemFailed, ev); err != nil {
		e.log.Warn("ingest: publish item failure event", "err", err)
	}
}

// RunDone publishes the run summary.
func (e *Events) RunDone(ctx context.Context, category string, r Report) {
	if e == nil || e.nc == nil {
		return
	}
	ev := runDoneEvent{
		Category:  category,
		Total:     r.Total,
		Succeeded: r.Succeeded,
		Failed:    len(r.Failed),
		Flushed:   r.Flushed,
		Seconds:   r.ElapsedSeconds(),
	}
	if err := natsutil.Publish(ctx, e.nc, SubjectRunDone, ev); err != nil {
		e.log.Warn("ingest: publish run summary event", "err", err)
	}
}
