package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"boardhealth/internal/classify"
	"boardhealth/internal/config"
	"boardhealth/internal/events"
	"boardhealth/internal/metrics"
	"boardhealth/internal/store"
)

// Report summarizes one ingestion run.
type Report struct {
	RunID     string `json:"run_id"`
	Source    string `json:"source"`
	Read      int    `json:"read"`
	Inserted  int    `json:"inserted"`
	Skipped   int    `json:"skipped"`
	Truncated int    `json:"truncated"`
}

// Service turns uploaded CSV dumps into the current set of detail rows.
type Service struct {
	store   *store.Store
	cls     classify.Classifier
	opts    Options
	metrics *metrics.Metrics
	events  *events.Bus
	log     *zap.Logger
	now     func() time.Time
}

func NewService(st *store.Store, cls classify.Classifier, opts Options, m *metrics.Metrics, log *zap.Logger) *Service {
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, cls: cls, opts: opts, metrics: m, log: log, now: config.Now}
}

func (s *Service) Classifier() classify.Classifier { return s.cls }

// SetEvents makes the service publish a RunEvent after every run.
func (s *Service) SetEvents(b *events.Bus) { s.events = b }

// Ingest parses r, classifies every row and replaces the stored detail rows
// with the result. Any parse or storage error aborts the run and leaves the
// previous rows in place.
func (s *Service) Ingest(ctx context.Context, r io.Reader, source string) (Report, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Report{Source: source}, fmt.Errorf("read upload: %w", err)
	}
	sum := sha256.Sum256(data)
	report := Report{RunID: newRunID(), Source: source}
	log := s.log.With(zap.String("run_id", report.RunID), zap.String("source", source))

	err = s.store.StartRun(ctx, store.Run{
		ID:         report.RunID,
		Source:     source,
		SHA256:     hex.EncodeToString(sum[:]),
		Classifier: s.cls.Name(),
		StartedAt:  s.now(),
	})
	if err != nil {
		s.metrics.RecordIngest(0, 0, 0, err)
		return report, err
	}
	log.Info("ingest started", zap.Int("bytes", len(data)), zap.String("classifier", s.cls.Name()))

	parsed, err := Parse(bytes.NewReader(data), s.opts, s.cls, log)
	if err == nil {
		err = s.store.ReplaceDetails(ctx, parsed.Rows)
	}
	report.Read = parsed.Read
	report.Skipped = parsed.Skipped
	report.Truncated = parsed.Truncated
	if err == nil {
		report.Inserted = len(parsed.Rows)
	}
	s.finish(ctx, log, report, err)
	return report, err
}

func (s *Service) finish(ctx context.Context, log *zap.Logger, report Report, runErr error) {
	s.metrics.RecordIngest(report.Inserted, report.Skipped, report.Truncated, runErr)

	state := store.RunSucceeded
	var errMsg *string
	if runErr != nil {
		state = store.RunFailed
		msg := runErr.Error()
		errMsg = &msg
	}
	counts := store.RunCounts{Read: report.Read, Inserted: report.Inserted, Skipped: report.Skipped, Truncated: report.Truncated}
	finished := s.now()
	if err := s.store.FinishRun(context.WithoutCancel(ctx), report.RunID, state, counts, errMsg, finished); err != nil {
		log.Warn("record run outcome", zap.Error(err))
	}
	ev := events.RunEvent{
		RunID:     report.RunID,
		Source:    report.Source,
		State:     state,
		Inserted:  report.Inserted,
		Skipped:   report.Skipped,
		Truncated: report.Truncated,
		At:        finished,
	}
	if errMsg != nil {
		ev.Error = *errMsg
	}
	s.events.Publish(ev)

	if runErr != nil {
		log.Error("ingest failed", zap.Error(runErr), zap.Int("read", report.Read))
		return
	}
	log.Info("ingest finished",
		zap.Int("read", report.Read),
		zap.Int("inserted", report.Inserted),
		zap.Int("skipped", report.Skipped),
		zap.Int("truncated", report.Truncated))
}

// newRunID generates a UUID v7, falling back to v4.
func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
