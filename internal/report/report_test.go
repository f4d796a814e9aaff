package report

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type recordingSink struct {
	events []Event
}

func (r *recordingSink) Report(e Event) { r.events = append(r.events, e) }

func TestNew(t *testing.T) {
	now := time.Unix(1700000000, 0)

	ok := New(now, KindSetPowerMode, "on", nil)
	if !ok.OK || ok.Error != "" {
		t.Fatalf("New(nil err) = %#v, want OK without error", ok)
	}
	if ok.Timestamp != 1700000000 {
		t.Fatalf("Timestamp = %d, want 1700000000", ok.Timestamp)
	}
	if ok.ID == "" {
		t.Fatal("ID is empty")
	}

	failed := New(now, KindKillProcess, "42", errors.New("no such process"))
	if failed.OK || failed.Error != "no such process" {
		t.Fatalf("New(err) = %#v", failed)
	}
	if failed.ID == ok.ID {
		t.Fatal("event ids are not unique")
	}
}

func TestIsCommand(t *testing.T) {
	if !(Event{Kind: KindKillProcess}).IsCommand() {
		t.Fatal("kill_process is not a command")
	}
	if (Event{Kind: KindTelemetryQuery}).IsCommand() {
		t.Fatal("telemetry_query is a command")
	}
}

func TestMulti(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	Multi{a, b}.Report(Event{Kind: KindSetPowerMode})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("events = %d/%d, want 1/1", len(a.events), len(b.events))
	}
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := Logger{Log: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))}

	l.Report(New(time.Now(), KindKillProcess, "42", errors.New("operation not permitted")))
	l.Report(New(time.Now(), KindTelemetryQuery, "", errors.New("gpu lost")))

	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "target=42") {
		t.Fatalf("log output missing failed command: %s", out)
	}
	if strings.Contains(out, "gpu lost") {
		t.Fatalf("telemetry failure logged above debug: %s", out)
	}
}
