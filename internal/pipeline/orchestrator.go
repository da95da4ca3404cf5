// Package pipeline runs claimed jobs through the fixed stage sequence:
// download the recording from the PBX, archive it, transcribe, analyze,
// persist the results.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"callrecording-platform/internal/analysis"
	"callrecording-platform/internal/cdr"
	"callrecording-platform/internal/connections"
	"callrecording-platform/internal/credentials"
	"callrecording-platform/internal/jobs"
	"callrecording-platform/internal/pbx"
	"callrecording-platform/internal/storage"
	"callrecording-platform/internal/transcription"
	"callrecording-platform/internal/usage"
)

// ErrEmptyTranscript fails a job whose recording produced no words. Silence
// and dead air are not analyzable; the attempt counts against the budget.
var ErrEmptyTranscript = errors.New("pipeline: transcription produced an empty transcript")

// Downloader fetches a recording from a PBX.
type Downloader interface {
	DownloadRecording(ctx context.Context, filename string) ([]byte, error)
}

// Transcriber converts audio to a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (transcription.Result, error)
}

// Analyzer produces a validated call analysis from a transcript.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string, meta analysis.CallMetadata, speakerStats []transcription.SpeakerStats) (analysis.Result, error)
}

// DownloaderFactory builds a PBX downloader for one connection's endpoint
// and decrypted credentials. Tests substitute fakes here.
type DownloaderFactory func(cfg pbx.Config) Downloader

// Orchestrator executes one job end to end.
type Orchestrator struct {
	records  cdr.Repo
	analyses cdr.AnalysisRepo
	conns    connections.Repo
	jobStore jobs.Store
	cipher   *credentials.Cipher
	objects  storage.ObjectStore
	transcr  Transcriber
	analyzer Analyzer
	usage    usage.Recorder
	newPBX   DownloaderFactory
	logger   *slog.Logger
}

type Deps struct {
	Records  cdr.Repo
	Analyses cdr.AnalysisRepo
	Conns    connections.Repo
	JobStore jobs.Store
	Cipher   *credentials.Cipher
	Objects  storage.ObjectStore
	Transcr  Transcriber
	Analyzer Analyzer
	Usage    usage.Recorder
	NewPBX   DownloaderFactory
	Logger   *slog.Logger
}

func NewOrchestrator(d Deps) *Orchestrator {
	newPBX := d.NewPBX
	if newPBX == nil {
		newPBX = func(cfg pbx.Config) Downloader { return pbx.NewClient(cfg) }
	}
	return &Orchestrator{
		records:  d.Records,
		analyses: d.Analyses,
		conns:    d.Conns,
		jobStore: d.JobStore,
		cipher:   d.Cipher,
		objects:  d.Objects,
		transcr:  d.Transcr,
		analyzer: d.Analyzer,
		usage:    d.Usage,
		newPBX:   newPBX,
		logger:   d.Logger,
	}
}

// jobResult is the summary written onto a completed job.
type jobResult struct {
	RecordingPath   string  `json:"recording_path"`
	TranscriptPath  string  `json:"transcript_path"`
	AnalysisPath    string  `json:"analysis_path"`
	RecordingBytes  int     `json:"recording_bytes"`
	DurationSeconds float64 `json:"duration_seconds"`
	Sentiment       string  `json:"sentiment"`
}

// Run executes a claimed job and settles it as completed or failed. The
// returned error describes the failure for logging; the job and call record
// have already been updated by the time Run returns.
func (o *Orchestrator) Run(ctx context.Context, job jobs.Job) error {
	log := o.logger.With("job_id", job.ID, "tenant_id", job.TenantID, "call_record_id", job.CallRecordID)

	record, err := o.records.GetByID(ctx, job.CallRecordID)
	if err != nil {
		return o.settleFailure(ctx, job, record, fmt.Errorf("load call record: %w", err))
	}

	now := time.Now().UTC()
	if err := o.records.SetProcessingStatus(ctx, record.ID, cdr.StatusProcessing, "", now); err != nil {
		return o.settleFailure(ctx, job, record, fmt.Errorf("mark record processing: %w", err))
	}

	res, err := o.process(ctx, record)
	if err != nil {
		return o.settleFailure(ctx, job, record, err)
	}

	now = time.Now().UTC()
	if err := o.records.SetProcessingStatus(ctx, record.ID, cdr.StatusCompleted, "", now); err != nil {
		return o.settleFailure(ctx, job, record, fmt.Errorf("mark record completed: %w", err))
	}

	o.meter(ctx, log, record, res)

	summary, _ := json.Marshal(res)
	if err := o.jobStore.MarkCompleted(ctx, job.ID, string(summary), now); err != nil {
		log.Error("job completion mark failed", "err", err)
		return err
	}

	log.Info("pipeline completed",
		"recording_bytes", res.RecordingBytes,
		"duration_seconds", res.DurationSeconds,
		"sentiment", res.Sentiment,
	)
	return nil
}

func (o *Orchestrator) process(ctx context.Context, record cdr.Record) (jobResult, error) {
	conn, err := o.conns.GetByID(ctx, record.ConnectionID)
	if err != nil {
		return jobResult{}, fmt.Errorf("load connection: %w", err)
	}

	password, err := o.cipher.Decrypt(conn.EncryptedPassword)
	if err != nil {
		return jobResult{}, fmt.Errorf("decrypt connection credentials: %w", err)
	}

	client := o.newPBX(pbx.Config{
		Host:      conn.Host,
		Port:      conn.Port,
		Username:  conn.Username,
		Password:  password,
		VerifySSL: conn.VerifySSL,
	})

	audio, err := client.DownloadRecording(ctx, record.RecordingFilename)
	if err != nil {
		o.noteConnectionError(ctx, conn, err)
		return jobResult{}, fmt.Errorf("download recording: %w", err)
	}
	o.noteConnectionOK(ctx, conn)

	var res jobResult
	res.RecordingBytes = len(audio)

	recordingKey := storage.ObjectKey(record.TenantID, record.StartTime, record.UniqueID, record.RecordingFilename)
	if res.RecordingPath, err = o.objects.Put(ctx, recordingKey, audio, "audio/wav"); err != nil {
		return jobResult{}, fmt.Errorf("archive recording: %w", err)
	}
	if err := o.records.SetRecordingPath(ctx, record.ID, res.RecordingPath, time.Now().UTC()); err != nil {
		return jobResult{}, fmt.Errorf("save recording path: %w", err)
	}

	transcript, err := o.transcr.Transcribe(ctx, audio)
	if err != nil {
		return jobResult{}, fmt.Errorf("transcribe: %w", err)
	}
	if strings.TrimSpace(transcript.Text) == "" {
		return jobResult{}, ErrEmptyTranscript
	}
	res.DurationSeconds = transcript.DurationSeconds

	transcriptJSON, err := json.Marshal(transcript)
	if err != nil {
		return jobResult{}, fmt.Errorf("encode transcript: %w", err)
	}
	transcriptKey := storage.ObjectKey(record.TenantID, record.StartTime, record.UniqueID, "transcript.json")
	if res.TranscriptPath, err = o.objects.Put(ctx, transcriptKey, transcriptJSON, "application/json"); err != nil {
		return jobResult{}, fmt.Errorf("archive transcript: %w", err)
	}
	if err := o.records.SetTranscriptPath(ctx, record.ID, res.TranscriptPath, time.Now().UTC()); err != nil {
		return jobResult{}, fmt.Errorf("save transcript path: %w", err)
	}

	meta := analysis.CallMetadata{
		CallerNumber:    record.Src,
		CalleeNumber:    record.Dst,
		Direction:       string(record.Direction),
		DurationSeconds: record.DurationSeconds,
		Disposition:     record.Disposition,
	}
	result, err := o.analyzer.Analyze(ctx, transcript.Text, meta, transcript.Speakers)
	if err != nil {
		return jobResult{}, fmt.Errorf("analyze: %w", err)
	}
	res.Sentiment = result.Sentiment

	payload, err := json.Marshal(result)
	if err != nil {
		return jobResult{}, fmt.Errorf("encode analysis: %w", err)
	}
	analysisKey := storage.ObjectKey(record.TenantID, record.StartTime, record.UniqueID, "analysis.json")
	if res.AnalysisPath, err = o.objects.Put(ctx, analysisKey, payload, "application/json"); err != nil {
		return jobResult{}, fmt.Errorf("archive analysis: %w", err)
	}

	now := time.Now().UTC()
	err = o.analyses.Insert(ctx, cdr.Analysis{
		ID:                     uuid.NewString(),
		TenantID:               record.TenantID,
		CallRecordID:           record.ID,
		Summary:                result.Summary,
		Sentiment:              result.Sentiment,
		SentimentScore:         result.SentimentScore,
		EscalationRisk:         result.EscalationRisk,
		SatisfactionPrediction: result.SatisfactionPrediction,
		Payload:                string(payload),
		StoragePath:            res.AnalysisPath,
		CreatedAt:              now,
	})
	if err != nil {
		return jobResult{}, fmt.Errorf("persist analysis: %w", err)
	}

	return res, nil
}

// settleFailure records the failure on both the call record and the job.
// The job store decides between re-arm and terminal failed.
func (o *Orchestrator) settleFailure(ctx context.Context, job jobs.Job, record cdr.Record, cause error) error {
	now := time.Now().UTC()
	if record.ID != "" {
		if err := o.records.SetProcessingStatus(ctx, record.ID, cdr.StatusFailed, cause.Error(), now); err != nil {
			o.logger.Error("record failure mark failed", "job_id", job.ID, "err", err)
		}
	}
	if err := o.jobStore.MarkFailed(ctx, job.ID, cause.Error(), now); err != nil {
		o.logger.Error("job failure mark failed", "job_id", job.ID, "err", err)
	}
	o.logger.Warn("pipeline failed",
		"job_id", job.ID,
		"call_record_id", job.CallRecordID,
		"attempt", job.Attempts,
		"err", cause,
	)
	return cause
}

// meter is best effort; a metering outage must not fail a finished job.
func (o *Orchestrator) meter(ctx context.Context, log *slog.Logger, record cdr.Record, res jobResult) {
	if o.usage == nil {
		return
	}
	delta := usage.Delta{
		Calls:        1,
		AudioSeconds: int64(res.DurationSeconds),
		StorageBytes: int64(res.RecordingBytes),
	}
	if err := o.usage.Add(ctx, record.TenantID, record.StartTime, delta); err != nil {
		log.Warn("usage metering failed", "err", err)
	}
}

// noteConnectionError pushes transport failures onto the connection row so
// operators see a broken PBX without reading job errors.
func (o *Orchestrator) noteConnectionError(ctx context.Context, conn connections.Connection, cause error) {
	var connErr *pbx.ConnectivityError
	if !errors.As(cause, &connErr) && !errors.Is(cause, pbx.ErrAuthFailed) {
		return
	}
	if err := o.conns.SetStatus(ctx, conn.ID, connections.StatusError, cause.Error(), time.Now().UTC()); err != nil {
		o.logger.Error("connection status update failed", "connection_id", conn.ID, "err", err)
	}
}

func (o *Orchestrator) noteConnectionOK(ctx context.Context, conn connections.Connection) {
	if conn.Status == connections.StatusActive && conn.LastError == "" {
		return
	}
	if err := o.conns.SetStatus(ctx, conn.ID, connections.StatusActive, "", time.Now().UTC()); err != nil {
		o.logger.Error("connection status update failed", "connection_id", conn.ID, "err", err)
	}
}
