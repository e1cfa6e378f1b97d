package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"gatepass.org/internal/obs"
)

func TestMirrorEmitsStructuredEntry(t *testing.T) {
	logger := obs.Logger()
	origWriter := logger.Writer()
	logger.SetFlags(0)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(origWriter)

	ctx := WithRequestID(context.Background(), "req-123")
	evt := NewEvent("admin-1", ActionAccountApproved, TargetAccount, "acc-1", map[string]string{
		"decision": "approve",
	})
	evt.ID = 42
	Mirror(ctx, evt)

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected a log line")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != ActionAccountApproved {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["target"] != "account/acc-1" {
		t.Fatalf("unexpected target: %v", entry["target"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["event_id"] != float64(42) {
		t.Fatalf("unexpected event id: %v", entry["event_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["decision"] != "approve" {
		t.Fatalf("unexpected fields: %v", entry["fields"])
	}
}

func TestWithRequestIDIgnoresBlank(t *testing.T) {
	ctx := WithRequestID(context.Background(), "   ")
	if got := requestIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
