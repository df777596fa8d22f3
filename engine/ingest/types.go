package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status tracks an item through the pipeline.
type Status int

const (
	StatusPending Status = iota
	StatusUploaded
	StatusIndexed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusUploaded:
		return "uploaded"
	case StatusIndexed:
		return "indexed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SourceFile is one discovered image on disk. Subfolder is the single
// directory level between the scan root and the file, if any; it feeds the
// vector ID so ingestion stays idempotent across layouts.
type SourceFile struct {
	Path      string
	Subfolder string
}

// Item is the unit of work flowing through the pipeline.
type Item struct {
	Source   SourceFile
	Category string
	Filename string
	VectorID string
	Vector   []float32
	Payload  map[string]any
	Status   Status
	Err      error
}

// Failure records one failed item for the run report.
type Failure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// Report summarises a pipeline run.
type Report struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    []Failure     `json:"failed"`
	Flushed   int           `json:"flushed_count"`
	Flushes   int           `json:"flush_calls"`
	Elapsed   time.Duration `json:"-"`
}

// ElapsedSeconds is the run duration for operator-facing output.
func (r Report) ElapsedSeconds() float64 { return r.Elapsed.Seconds() }

// Sentinel errors.
var (
	// ErrIndexUnavailable means a batch flush against the vector index
	// failed. It is fatal to the run that observed it.
	ErrIndexUnavailable = errors.New("ingest: vector index unavailable")
	// ErrConfirmationDenied is returned by destructive entry points when
	// the operator declines the confirmation gate.
	ErrConfirmationDenied = errors.New("ingest: confirmation denied")
	// ErrResetUnverified means the post-delete count never reached zero.
	ErrResetUnverified = errors.New("ingest: post-delete count not zero")
)

// FlushError is the fatal flush failure. It carries the counts an operator
// needs to resume without silent data loss: how many vectors made it into
// the index before the failure, and how many were buffered and lost.
type FlushError struct {
	Flushed int // vectors already acknowledged by the index
	Lost    int // vectors buffered in the failed batch
	Err     error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("ingest: flush failed after %d flushed vectors (%d buffered lost): %v",
		e.Flushed, e.Lost, e.Err)
}

func (e *FlushError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrIndexUnavailable) hold for flush failures.
func (e *FlushError) Is(target error) bool { return target == ErrIndexUnavailable }

// idNamespace pins vector IDs to this system so re-running ingestion on
// unchanged inputs overwrites instead of duplicating.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("quantum-image-search"))

// VectorID derives the deterministic point ID for an image from its stable
// coordinates: category, optional subfolder, and filename stem.
func VectorID(category, subfolder, stem string) string {
	key := category + "/" + stem
	if subfolder != "" {
		key = category + "/" + subfolder + "/" + stem
	}
	return uuid.NewSHA1(idNamespace, []byte(key)).String()
}

// SourceID is the human-readable counterpart of VectorID, kept in the
// payload for debugging and cross-referencing with blob storage.
func SourceID(category, subfolder, stem string) string {
	if subfolder != "" {
		return fmt.Sprintf("quantum-images_%s_%s_%s", category, subfolder, stem)
	}
	return fmt.Sprintf("quantum-images_%s_%s", category, stem)
}
