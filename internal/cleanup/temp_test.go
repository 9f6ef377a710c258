package cleanup

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/GK-Developers/GK-Healter/internal/errors"
	"github.com/GK-Developers/GK-Healter/internal/safety"
)

// age backdates paths, in order, by d
func age(t *testing.T, d time.Duration, paths ...string) {
	t.Helper()
	past := time.Now().Add(-d)
	for _, p := range paths {
		if err := os.Chtimes(p, past, past); err != nil {
			t.Fatalf("Chtimes(%s) failed: %v", p, err)
		}
	}
}

// dropOwnership hands the fixture tree to an unprivileged uid when tests
// run as root, since root-owned shared temp entries are never targets.
func dropOwnership(t *testing.T, f *fixture) {
	t.Helper()
	if os.Getuid() != 0 {
		return
	}
	const nobody = 65534
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Lchown(p, nobody, nobody)
	})
	if err != nil {
		t.Fatalf("Lchown failed: %v", err)
	}
	f.engine.layout.UID = nobody
}

func mkfifo(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := unix.Mkfifo(path, 0600); err != nil {
		t.Fatalf("Mkfifo(%s) failed: %v", path, err)
	}
}

func TestRun_TempKeepsServiceAndLiveEntries(t *testing.T) {
	f := newFixture(t, testAptProfile)
	tmp := filepath.Join(f.root, "tmp")

	x11 := filepath.Join(tmp, ".X11-unix")
	private := filepath.Join(tmp, "systemd-private-0a1b-nginx.service-Xy12")
	pipes := filepath.Join(tmp, "pipes")
	active := filepath.Join(tmp, "active-build")
	stale := filepath.Join(tmp, "stale-build")

	writeFile(t, filepath.Join(x11, "X0-lock"), 4)
	writeFile(t, filepath.Join(private, "tmp", "cache"), 8)
	mkfifo(t, filepath.Join(pipes, "ctl"))
	writeFile(t, filepath.Join(active, "out.log"), 16)
	writeFile(t, filepath.Join(stale, "obj.o"), 32)

	month := 30 * 24 * time.Hour
	age(t, month,
		filepath.Join(x11, "X0-lock"), x11,
		filepath.Join(private, "tmp", "cache"), filepath.Join(private, "tmp"), private,
		filepath.Join(pipes, "ctl"), pipes,
		active,
		filepath.Join(stale, "obj.o"), stale)
	dropOwnership(t, f)

	report, err := f.engine.Run(context.Background(), []safety.Category{safety.TempFiles}, Scheduled)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(report.Operations) != 1 || report.Operations[0].Target.Path != stale {
		t.Fatalf("operations = %+v, want only %s", report.Operations, stale)
	}
	if exists(stale) {
		t.Error("stale temp tree should be removed")
	}
	for _, p := range []string{filepath.Join(x11, "X0-lock"), filepath.Join(private, "tmp", "cache"), filepath.Join(pipes, "ctl"), filepath.Join(active, "out.log")} {
		if !exists(p) {
			t.Errorf("%s must survive", p)
		}
	}
	if report.TotalBytesFreed != 32 {
		t.Errorf("bytes freed = %d, want 32", report.TotalBytesFreed)
	}
}

func TestProcess_RefusesSpecialFiles(t *testing.T) {
	f := newFixture(t, testAptProfile)
	dir := filepath.Join(f.root, "tmp", "session")
	fifo := filepath.Join(dir, "events")
	plain := filepath.Join(dir, "notes.txt")
	mkfifo(t, fifo)
	writeFile(t, plain, 3)

	op := f.engine.process(context.Background(), Target{Category: safety.TempFiles, Path: dir, EstimatedBytes: 3}, false)

	if op.Outcome != Failed || op.Error != errors.KindPathUnsafe {
		t.Errorf("operation = %s/%s, want failed/path-unsafe", op.Outcome, op.Error)
	}
	if !exists(fifo) {
		t.Error("fifo must not be removed")
	}
	if exists(plain) {
		t.Error("regular file next to the fifo should still be removed")
	}
}

func TestRun_TempSkipsRootOwnedEntries(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("needs root to create root-owned entries")
	}
	f := newFixture(t, testAptProfile)
	f.engine.layout.UID = -1
	owned := filepath.Join(f.root, "tmp", "root-stale")
	writeFile(t, filepath.Join(owned, "data"), 10)
	age(t, 30*24*time.Hour, filepath.Join(owned, "data"), owned)

	report, err := f.engine.Run(context.Background(), []safety.Category{safety.TempFiles}, Scheduled)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Operations) != 0 || !exists(owned) {
		t.Errorf("root-owned temp entry must not be a target: %+v", report.Operations)
	}
}

func TestIsProtectedTemp(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{".X11-unix", true},
		{".ICE-unix", true},
		{".font-unix", true},
		{"systemd-private-6f1c-chronyd.service-AbCd", true},
		{"build-1234", false},
		{".X11-unix2", false},
	}
	for _, tt := range tests {
		if got := isProtectedTemp(tt.name); got != tt.want {
			t.Errorf("isProtectedTemp(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
