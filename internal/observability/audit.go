package observability

import (
	"context"
	"log/slog"
	"net/http"
)

// Audit emits a structured audit record for an HTTP-shaped operation.
func Audit(r *http.Request, event string, attrs ...any) {
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", r.Header.Get("X-Request-Id"),
	}
	base = append(base, attrs...)
	slog.InfoContext(r.Context(), "audit", base...)
}

// AuditSignal emits a structured audit record for a signaling-channel event,
// which has no enclosing HTTP request once the connection is established.
func AuditSignal(ctx context.Context, event, sessionID, participantID string, attrs ...any) {
	base := []any{
		"event", event,
		"session_id", sessionID,
		"participant_id", participantID,
	}
	base = append(base, attrs...)
	slog.InfoContext(ctx, "audit", base...)
}
