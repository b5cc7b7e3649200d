package operauth

import (
	"context"
	"log/slog"

	"code.kerpass.org/operchal/internal/observability"
)

// AuditEvent names the step an AuditRecord was produced at.
type AuditEvent string

const (
	AuditChallengeIssued     = AuditEvent("challenge-issued")
	AuditChallengeDenied     = AuditEvent("challenge-denied")
	AuditChallengeFailed     = AuditEvent("challenge-failed")
	AuditChallengeSuperseded = AuditEvent("challenge-superseded")
	AuditChallengeAborted    = AuditEvent("challenge-aborted")
	AuditResponse            = AuditEvent("response")
)

// AuditRecord describes an authentication step.
// It carries reason codes only, never challenge or response material.
type AuditRecord struct {
	Event    AuditEvent
	Identity string
	Username string
	Host     string

	// Code is a DenyReason or VerifyKind string.
	Code string

	// Err holds server side details, it is not meant for the principal.
	Err error
}

// AuditSink receives AuditRecord produced by an Authenticator.
type AuditSink interface {
	Audit(ctx context.Context, rec AuditRecord)
}

// LogAudit is an AuditSink that writes AuditRecord to the ctx Observability Logger.
type LogAudit struct{}

// Audit implements AuditSink.
func (self LogAudit) Audit(ctx context.Context, rec AuditRecord) {
	log := observability.Logger(ctx)
	attrs := []any{
		slog.String("event", string(rec.Event)),
		slog.String("identity", rec.Identity),
		slog.String("user", rec.Username),
		slog.String("host", rec.Host),
	}
	if "" != rec.Code {
		attrs = append(attrs, slog.String("code", rec.Code))
	}

	switch {
	case nil != rec.Err && AuditChallengeFailed == rec.Event:
		log.ErrorContext(ctx, "oper challenge", append(attrs, slog.Any("error", rec.Err))...)
	case nil != rec.Err:
		log.WarnContext(ctx, "oper challenge", append(attrs, slog.String("error", rec.Err.Error()))...)
	default:
		log.InfoContext(ctx, "oper challenge", attrs...)
	}
}

var _ AuditSink = LogAudit{}
