package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json"}, &buf)

	log.Info("request completed", "status", 200)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}

	if line["msg"] != "request completed" {
		t.Errorf("msg = %v", line["msg"])
	}
	if line["level"] != "INFO" {
		t.Errorf("level = %v", line["level"])
	}
	if _, ok := line["ts"]; !ok {
		t.Errorf("ts field missing: %v", line)
	}
	if line["status"] != float64(200) {
		t.Errorf("status = %v", line["status"])
	}
}

func TestNew_LevelThreshold(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "json"}, &buf)

	log.Info("should be dropped")
	log.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should be dropped") {
		t.Error("info line leaked through warn threshold")
	}
	if !strings.Contains(out, "should appear") {
		t.Error("warn line missing")
	}
}

func TestNew_RedactsStringAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json"}, &buf)

	log.Info("client connected",
		"email", "ops@example.com",
		"peer", "10.0.0.1",
		"count", 3,
	)

	out := buf.String()
	if strings.Contains(out, "ops@example.com") {
		t.Errorf("email leaked: %s", out)
	}
	if !strings.Contains(out, "<EMAIL>") {
		t.Errorf("email placeholder missing: %s", out)
	}
	if strings.Contains(out, "10.0.0.1") {
		t.Errorf("ip leaked: %s", out)
	}
	if !strings.Contains(out, `"count":3`) {
		t.Errorf("non-string attr mangled: %s", out)
	}
}

func TestNew_RedactsMessage(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json"}, &buf)

	log.Warn("token sk-verysecrettoken123 rejected")

	out := buf.String()
	if strings.Contains(out, "sk-verysecrettoken123") {
		t.Errorf("api key leaked into message: %s", out)
	}
}

func TestWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	Log = New(Config{Level: "info", Format: "json"}, &buf)

	WithRequestID("req-123").Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if line["request_id"] != "req-123" {
		t.Errorf("request_id = %v", line["request_id"])
	}
}

func TestInit_SetsGlobal(t *testing.T) {
	Init("debug")
	if Log == nil {
		t.Fatal("Init did not set global logger")
	}
}
