package logger

import (
	"context"
	"log/slog"
	"time"
)

// Account lifecycle event types
const (
	EventRegistered         = "account_registered"
	EventConfirmationIssued = "confirmation_issued"
	EventConfirmed          = "account_confirmed"
	EventResetRequested     = "reset_requested"
	EventResetCompleted     = "reset_completed"
	EventResetCancelled     = "reset_cancelled"
	EventResetExpired       = "reset_expired"
	EventPasswordChanged    = "password_changed"
	EventLogin              = "login"
	EventAccountUpdated     = "account_updated"
	EventGroupCreated       = "group_created"
	EventGroupUpdated       = "group_updated"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	AccountID     string
	IPAddress     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes security events on a dedicated audit channel of the logger
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// Log records one event; failures are logged at warn level
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", auditType(event.EventType)),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.AccountID != "" {
		attrs = append(attrs, slog.String("account_id", event.AccountID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogSuccess is shorthand for a successful lifecycle event
func (al *AuditLogger) LogSuccess(ctx context.Context, eventType, accountID string) {
	al.Log(ctx, AuditEvent{EventType: eventType, AccountID: accountID, Success: true})
}

// LogFailure is shorthand for a refused lifecycle event
func (al *AuditLogger) LogFailure(ctx context.Context, eventType, accountID, reason string) {
	al.Log(ctx, AuditEvent{EventType: eventType, AccountID: accountID, FailureReason: reason})
}

func auditType(eventType string) string {
	switch eventType {
	case EventLogin:
		return "auth"
	case EventPasswordChanged, EventResetRequested, EventResetCompleted, EventResetCancelled, EventResetExpired:
		return "password"
	case EventGroupCreated, EventGroupUpdated:
		return "group"
	default:
		return "account"
	}
}
