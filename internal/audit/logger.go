package audit

import (
	"context"
	"strconv"
	"time"

	otellog "go.opentelemetry.io/otel/log"

	"tenant-auth-service/internal/logging"
)

// Actions recorded by the session coordinator.
const (
	ActionRegister       = "register"
	ActionLogin          = "login"
	ActionLoginFailure   = "login_failure"
	ActionRefresh        = "refresh"
	ActionRefreshFailure = "refresh_failure"
	ActionLogout         = "logout"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// Event is one security-relevant outcome. PrincipalID is 0 when the caller is unknown
// (e.g. a login for an unregistered email). Reason is a short machine-readable cause
// and never contains credentials.
type Event struct {
	Action      string
	PrincipalID int64
	TenantID    *int64
	Reason      string
}

// AuditLogger records audit events. LogEvent is best-effort and never fails the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, e Event)
}

// Logger emits each event as an OTel log record and mirrors it to the structured log.
type Logger struct {
	emitter     otellog.Logger
	log         logging.Logger
	ipExtractor IPExtractor
	now         func() time.Time
}

// NewLogger returns an AuditLogger. emitter and log may be nil; ipExtractor may be nil,
// in which case the IP is recorded as "unknown".
func NewLogger(emitter otellog.Logger, log logging.Logger, ipExtractor IPExtractor) *Logger {
	if log == nil {
		log = logging.Nop()
	}
	return &Logger{emitter: emitter, log: log, ipExtractor: ipExtractor, now: time.Now}
}

// LogEvent writes one audit entry.
func (l *Logger) LogEvent(ctx context.Context, e Event) {
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}
	if l.emitter != nil {
		var rec otellog.Record
		rec.SetTimestamp(l.now().UTC())
		rec.SetSeverity(otellog.SeverityInfo)
		rec.SetBody(otellog.StringValue(e.Action))
		rec.AddAttributes(
			otellog.String("event.name", "audit."+e.Action),
			otellog.String("action", e.Action),
			otellog.String("ip", ip),
		)
		if e.PrincipalID != 0 {
			rec.AddAttributes(otellog.String("principal_id", strconv.FormatInt(e.PrincipalID, 10)))
		}
		if e.TenantID != nil {
			rec.AddAttributes(otellog.Int64("tenant_id", *e.TenantID))
		}
		if e.Reason != "" {
			rec.AddAttributes(otellog.String("reason", e.Reason))
		}
		l.emitter.Emit(ctx, rec)
	}
	args := []any{"action", e.Action, "ip", ip}
	if e.PrincipalID != 0 {
		args = append(args, "principal_id", e.PrincipalID)
	}
	if e.Reason != "" {
		args = append(args, "reason", e.Reason)
	}
	l.log.Info(ctx, "audit", args...)
}
