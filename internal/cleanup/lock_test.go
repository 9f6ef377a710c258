package cleanup

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/GK-Developers/GK-Healter/internal/errors"
	"github.com/GK-Developers/GK-Healter/internal/privexec"
	"github.com/GK-Developers/GK-Healter/internal/safety"
)

func TestRun_LockIsSharedAcrossEngines(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "run", "cleanup.lock")
	daemon := newFixture(t, testAptProfile)
	daemon.engine.lock.path = lockPath
	user := newFixture(t, testAptProfile)
	user.engine.lock.path = lockPath
	writeFile(t, filepath.Join(daemon.root, "var/lib/systemd/coredump/core.1"), 10)
	writeFile(t, filepath.Join(user.root, "var/lib/systemd/coredump/core.2"), 10)

	started := make(chan struct{})
	release := make(chan struct{})
	daemon.runner.onRun = func(privexec.Action) {
		close(started)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := daemon.engine.Run(context.Background(), []safety.Category{safety.Coredumps}, Scheduled)
		done <- err
	}()

	<-started
	if !user.engine.Active() {
		t.Error("a run holding the shared lock should be visible to the other engine")
	}
	if _, err := user.engine.Run(context.Background(), []safety.Category{safety.Coredumps}, Manual); !errors.Is(err, errors.KindRunActive) {
		t.Errorf("Run while another engine runs = %v, want run-active", err)
	}
	if _, err := user.engine.Repair(context.Background()); !errors.Is(err, errors.KindRunActive) {
		t.Errorf("Repair while another engine runs = %v, want run-active", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if user.engine.Active() || daemon.engine.Active() {
		t.Error("lock should be free after the run")
	}
	if _, err := user.engine.Run(context.Background(), []safety.Category{safety.Coredumps}, Manual); err != nil {
		t.Errorf("Run after release failed: %v", err)
	}
}

func TestRunLock_ProcessLocalWithoutPath(t *testing.T) {
	var l runLock
	if err := l.acquire("cleanup"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !l.held() {
		t.Error("held should report the local run")
	}
	if err := l.acquire("cleanup"); !errors.Is(err, errors.KindRunActive) {
		t.Errorf("second acquire = %v, want run-active", err)
	}
	l.release()
	if l.held() {
		t.Error("lock should be free after release")
	}
}
