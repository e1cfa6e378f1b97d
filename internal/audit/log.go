package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gatepass.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for the log
// mirror of audit events.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// requestIDFromContext extracts the audit request id from context if present.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Mirror emits a JSON log line for a recorded event. The durable trail lives
// in the store; the mirror only makes events visible in the log stream.
func Mirror(ctx context.Context, evt Event) {
	entry := map[string]any{
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"type":    "audit",
		"event":   evt.Action,
		"target":  evt.TargetType + "/" + evt.TargetID,
		"outcome": evt.Outcome,
	}
	if evt.ID > 0 {
		entry["event_id"] = evt.ID
	}
	if evt.ActorAccountID != "" {
		entry["actor"] = evt.ActorAccountID
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if len(evt.Metadata) > 0 {
		fields := make(map[string]any, len(evt.Metadata))
		for k, v := range evt.Metadata {
			fields[k] = v
		}
		entry["fields"] = fields
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	obs.Logger().Println(string(data))
}
