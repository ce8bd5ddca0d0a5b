package rules

import (
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnExternalWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")

	s := NewStore(path)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(s)
	if err != nil {
		t.Fatalf("starting watcher: %v", err)
	}
	defer w.Stop()

	// External edit: a second store handle writes a rule to the same file,
	// using the same atomic rename the CLI would.
	writer := NewStore(path)
	if err := writer.Load(); err != nil {
		t.Fatal(err)
	}
	if err := writer.Add(testRule("hx-external", 10)); err != nil {
		t.Fatal(err)
	}
	if err := writer.Save(); err != nil {
		t.Fatal(err)
	}

	// The debounce window is 500ms; give the reload a generous budget.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.Len() == 1 {
			if _, ok := s.Get("hx-external"); ok {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("store never picked up the external write (len=%d)", s.Len())
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "rules.json"))
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(s)
	if err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}
