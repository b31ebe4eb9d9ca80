package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewRemapsSchemaKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "lending", "test")
	logger.Warn("reserve frozen", "asset", "USDX")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if line["message"] != "reserve frozen" {
		t.Fatalf("message key not remapped: %v", line)
	}
	if line["severity"] != "WARN" {
		t.Fatalf("severity key not remapped: %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp key missing: %v", line)
	}
	if line["service"] != "lending" || line["env"] != "test" {
		t.Fatalf("service attributes missing: %v", line)
	}
	if line["asset"] != "USDX" {
		t.Fatalf("call-site attribute lost: %v", line)
	}
}

func TestNewOmitsBlankEnv(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "vault", "  ").Info("up")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if _, ok := line["env"]; ok {
		t.Fatalf("blank env should be dropped: %v", line)
	}
}
