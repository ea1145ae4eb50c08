package lock

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maruel/claude-sync/internal/syncerr"
)

// deadPID is above the default Linux pid_max.
const deadPID = 99999999

func writeMarker(t *testing.T, path string, info Info) {
	t.Helper()
	data, err := json.Marshal(info)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".claude-sync", FileName)
	l, err := Acquire(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	info, found, err := Read(path)
	if err != nil || !found {
		t.Fatalf("Read = %v, %v", found, err)
	}
	if info.PID != os.Getpid() || l.Info().PID != os.Getpid() {
		t.Errorf("info = %+v", info)
	}

	if _, err := Acquire(path, Options{ReclaimStale: true}); !errors.Is(err, syncerr.ErrConcurrentSync) {
		t.Fatalf("second Acquire: %v", err)
	}

	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := Read(path); found {
		t.Error("marker must be removed on release")
	}
	l2, err := Acquire(path, Options{})
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if err := l2.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestLiveHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	host, _ := os.Hostname()
	writeMarker(t, path, Info{PID: os.Getppid(), Hostname: host, AcquiredAt: time.Now()})
	for _, reclaim := range []bool{false, true} {
		_, err := Acquire(path, Options{ReclaimStale: reclaim})
		if !errors.Is(err, syncerr.ErrConcurrentSync) {
			t.Fatalf("reclaim=%v: expected concurrent sync, got %v", reclaim, err)
		}
	}
	if _, found, _ := Read(path); !found {
		t.Error("a live holder's marker must not be touched")
	}
}

func TestStaleHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	writeMarker(t, path, Info{PID: deadPID, AcquiredAt: time.Now().Add(-time.Hour)})

	_, err := Acquire(path, Options{})
	if !errors.Is(err, syncerr.ErrStaleLock) {
		t.Fatalf("expected stale lock, got %v", err)
	}
	var se *syncerr.Error
	if !errors.As(err, &se) || se.Details()["pid"] != deadPID {
		t.Errorf("details = %v", err)
	}

	l, err := Acquire(path, Options{ReclaimStale: true})
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	defer func() { _ = l.Release() }()
	info, _, _ := Read(path)
	if info.PID != os.Getpid() {
		t.Errorf("marker not rewritten: %+v", info)
	}
}

func TestGarbageMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Acquire(path, Options{}); !errors.Is(err, syncerr.ErrStaleLock) {
		t.Fatalf("expected stale lock, got %v", err)
	}
	l, err := Acquire(path, Options{ReclaimStale: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestAlive(t *testing.T) {
	if !Alive(Info{PID: os.Getpid()}) {
		t.Error("current process must be alive")
	}
	if Alive(Info{PID: deadPID}) {
		t.Error("dead pid reported alive")
	}
	if !Alive(Info{PID: deadPID, Hostname: "some-other-host.invalid"}) {
		t.Error("holders on other hosts are assumed alive")
	}
}
