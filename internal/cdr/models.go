package cdr

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("cdr: not found")
	ErrUnauthorized = errors.New("cdr: webhook secret mismatch")
	ErrInvalidInput = errors.New("cdr: invalid webhook payload")
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionInternal Direction = "internal"
)

// Disposition values follow the PBX's CDR vocabulary verbatim.
const (
	DispositionAnswered   = "ANSWERED"
	DispositionNoAnswer   = "NO ANSWER"
	DispositionBusy       = "BUSY"
	DispositionFailed     = "FAILED"
	DispositionCongestion = "CONGESTION"
)

type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Record is one call detail record.
//
// Invariant: (tenant_id, uniqueid) is unique. Duplicate webhook deliveries
// resolve to the existing row. The webhook creates rows; only the pipeline
// mutates them afterwards (storage paths, processing status).
type Record struct {
	ID           string `json:"id" db:"id"`
	TenantID     string `json:"tenant_id" db:"tenant_id"`
	ConnectionID string `json:"connection_id" db:"connection_id"`

	// UniqueID is the PBX-assigned call id, the natural dedup key.
	UniqueID string `json:"uniqueid" db:"uniqueid"`

	Src         string    `json:"src" db:"src"`
	Dst         string    `json:"dst" db:"dst"`
	Direction   Direction `json:"direction" db:"direction"`
	Disposition string    `json:"disposition" db:"disposition"`

	StartTime  time.Time  `json:"start_time" db:"start_time"`
	AnswerTime *time.Time `json:"answer_time,omitempty" db:"answer_time"`
	EndTime    time.Time  `json:"end_time" db:"end_time"`

	DurationSeconds int `json:"duration" db:"duration"`

	RecordingFilename string `json:"recording_filename,omitempty" db:"recording_filename"`
	RecordingPath     string `json:"recording_path,omitempty" db:"recording_path"`
	TranscriptPath    string `json:"transcript_path,omitempty" db:"transcript_path"`

	ProcessingStatus ProcessingStatus `json:"processing_status" db:"processing_status"`
	ProcessingError  string           `json:"processing_error,omitempty" db:"processing_error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Analysis is the persisted AI analysis, at most one per record, written
// once by the pipeline and never updated afterward.
type Analysis struct {
	ID           string `json:"id" db:"id"`
	TenantID     string `json:"tenant_id" db:"tenant_id"`
	CallRecordID string `json:"call_record_id" db:"call_record_id"`

	Summary                string  `json:"summary" db:"summary"`
	Sentiment              string  `json:"sentiment" db:"sentiment"`
	SentimentScore         float64 `json:"sentiment_score" db:"sentiment_score"`
	EscalationRisk         string  `json:"escalation_risk" db:"escalation_risk"`
	SatisfactionPrediction string  `json:"satisfaction_prediction" db:"satisfaction_prediction"`

	// Payload holds the full validated analysis JSON (keywords, topics,
	// action items, compliance flags, talk ratio, ...).
	Payload string `json:"payload" db:"payload"`

	StoragePath string `json:"storage_path" db:"storage_path"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
