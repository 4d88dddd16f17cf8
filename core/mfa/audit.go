package mfa

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/mfa/core/logger"
)

// AuditAction names an audited operation.
type AuditAction string

const (
	AuditEnroll           AuditAction = "mfa.enroll"
	AuditVerifyTOTP       AuditAction = "mfa.verify.totp"
	AuditVerifyBackupCode AuditAction = "mfa.verify.backup_code"
	AuditRegenerateCodes  AuditAction = "mfa.backup_codes.regenerate"
	AuditDisable          AuditAction = "mfa.disable"
	AuditLogout           AuditAction = "mfa.logout"
)

// AuditEvent is an append-only audit record. Metadata never carries secrets,
// codes or full session tokens.
type AuditEvent struct {
	Action   AuditAction       `json:"action"`
	UserID   string            `json:"user_id"`
	Success  bool              `json:"success"`
	Metadata map[string]string `json:"metadata,omitempty"`
	At       time.Time         `json:"at"`
}

// AuditSink receives audit records. It is best effort from the service's point of view.
type AuditSink interface {
	Record(ctx context.Context, e AuditEvent) error
}

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc func(ctx context.Context, e AuditEvent) error

func (f AuditSinkFunc) Record(ctx context.Context, e AuditEvent) error {
	return f(ctx, e)
}

// LogAuditSink writes audit records as structured log lines.
type LogAuditSink struct {
	logger *slog.Logger
}

// NewLogAuditSink returns a sink writing to logger at info level.
func NewLogAuditSink(log *slog.Logger) *LogAuditSink {
	if log == nil {
		log = logger.Discard()
	}
	return &LogAuditSink{logger: log}
}

func (s *LogAuditSink) Record(ctx context.Context, e AuditEvent) error {
	attrs := []slog.Attr{
		logger.Component("mfa_audit"),
		logger.Action(string(e.Action)),
		logger.UserID(e.UserID),
		slog.Bool("success", e.Success),
		slog.Time("at", e.At),
	}
	if len(e.Metadata) > 0 {
		meta := make([]slog.Attr, 0, len(e.Metadata))
		for k, v := range e.Metadata {
			meta = append(meta, slog.String(k, v))
		}
		attrs = append(attrs, logger.Group("metadata", meta...))
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}

// EventAuditSink publishes audit records as events, so any subscriber can
// persist them.
type EventAuditSink struct {
	publisher Publisher
}

// NewEventAuditSink returns a sink publishing AuditEvent payloads.
func NewEventAuditSink(p Publisher) *EventAuditSink {
	return &EventAuditSink{publisher: p}
}

func (s *EventAuditSink) Record(ctx context.Context, e AuditEvent) error {
	return s.publisher.Publish(ctx, e)
}

// MultiAuditSink fans a record out to every sink and joins their errors.
type MultiAuditSink []AuditSink

func (m MultiAuditSink) Record(ctx context.Context, e AuditEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
