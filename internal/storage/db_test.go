package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cptspacemanspiff/gpu-power-monitor/internal/report"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	})

	return db
}

func TestEventRoundTrip(t *testing.T) {
	db := openTestDB(t)

	e1 := report.New(time.Unix(10, 0), report.KindSetPowerMode, "on", nil)
	e2 := report.New(time.Unix(20, 0), report.KindKillProcess, "4242", errors.New("no such process"))
	if err := db.InsertEvent(e1); err != nil {
		t.Fatalf("InsertEvent(e1) error = %v", err)
	}
	if err := db.InsertEvent(e2); err != nil {
		t.Fatalf("InsertEvent(e2) error = %v", err)
	}

	all, err := db.EventsInRange(0, 100)
	if err != nil {
		t.Fatalf("EventsInRange() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("EventsInRange() = %#v, want 2 rows", all)
	}
	if all[0] != e1 {
		t.Fatalf("first event = %#v, want %#v", all[0], e1)
	}
	if all[1] != e2 {
		t.Fatalf("second event = %#v, want %#v", all[1], e2)
	}

	ranged, err := db.EventsInRange(15, 25)
	if err != nil {
		t.Fatalf("EventsInRange() error = %v", err)
	}
	if len(ranged) != 1 || ranged[0].ID != e2.ID {
		t.Fatalf("EventsInRange(15, 25) = %#v, want only e2", ranged)
	}
}

func TestInsertEvent_DuplicateIDIgnored(t *testing.T) {
	db := openTestDB(t)

	e := report.New(time.Unix(10, 0), report.KindSetPowerMode, "auto", nil)
	for range 2 {
		if err := db.InsertEvent(e); err != nil {
			t.Fatalf("InsertEvent() error = %v", err)
		}
	}

	events, err := db.EventsInRange(0, 100)
	if err != nil {
		t.Fatalf("EventsInRange() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
}

func TestRecorder_StoresOnlyCommands(t *testing.T) {
	db := openTestDB(t)
	rec := Recorder{DB: db}

	rec.Report(report.New(time.Unix(10, 0), report.KindTelemetryQuery, "", errors.New("gpu lost")))
	rec.Report(report.New(time.Unix(11, 0), report.KindKillProcess, "1", nil))

	events, err := db.EventsInRange(0, 100)
	if err != nil {
		t.Fatalf("EventsInRange() error = %v", err)
	}
	if len(events) != 1 || events[0].Kind != report.KindKillProcess {
		t.Fatalf("events = %#v, want one kill_process", events)
	}
}
