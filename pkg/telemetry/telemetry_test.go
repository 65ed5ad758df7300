package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantLevel string
		wantMsg   string
	}{
		{name: "empty", input: "", wantLevel: "INFO", wantMsg: ""},
		{name: "plain", input: "host 10.0.0.5 responding", wantLevel: "INFO", wantMsg: "host 10.0.0.5 responding"},
		{name: "leading word", input: "WARN wake failed", wantLevel: "WARN", wantMsg: "wake failed"},
		{name: "brackets", input: "[error] ssh failed", wantLevel: "ERROR", wantMsg: "ssh failed"},
		{name: "colon", input: "debug: attempt 3/60", wantLevel: "DEBUG", wantMsg: "attempt 3/60"},
		{name: "warning alias", input: "WARNING still mounted", wantLevel: "WARN", wantMsg: "still mounted"},
		{name: "not a level", input: "[10.0.0.5] attempt 1", wantLevel: "INFO", wantMsg: "[10.0.0.5] attempt 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, msg := parseLevel(tt.input)
			if level != tt.wantLevel || msg != tt.wantMsg {
				t.Fatalf("parseLevel(%q) = (%q, %q), want (%q, %q)", tt.input, level, msg, tt.wantLevel, tt.wantMsg)
			}
		})
	}
}

func TestJSONLogWriter(t *testing.T) {
	var buf bytes.Buffer
	w := newJSONLogWriter("fleetctl", &buf)
	w.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	logger := log.New(w, "", 0)
	logger.Printf("ERROR ssh failed for %s", "10.0.0.5")

	var entry map[string]string
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}

	want := map[string]string{
		"ts":      "2024-05-01T12:00:00Z",
		"level":   "ERROR",
		"service": "fleetctl",
		"msg":     "ssh failed for 10.0.0.5",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Fatalf("entry[%q] = %q, want %q", k, entry[k], v)
		}
	}
}

func TestInitWithoutCollector(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	var buf bytes.Buffer
	shutdown, logger, err := Init(context.Background(), "fleetctl", &buf)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	logger.Printf("INFO ready")
	if buf.Len() == 0 {
		t.Fatal("expected a log line")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}

	if _, _, err := Init(context.Background(), "", nil); err == nil {
		t.Fatal("expected error for empty service name")
	}
}
