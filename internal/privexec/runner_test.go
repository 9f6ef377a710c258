package privexec

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/GK-Developers/GK-Healter/internal/distro"
	"github.com/GK-Developers/GK-Healter/internal/errors"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls [][]string
	run   func(ctx context.Context, argv []string) ([]byte, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	argv := append([]string{name}, args...)
	f.mu.Lock()
	f.calls = append(f.calls, argv)
	f.mu.Unlock()
	if f.run != nil {
		return f.run(ctx, argv)
	}
	return []byte("ok"), nil
}

func aptProfile() distro.Profile {
	return distro.Profile{
		Family:     distro.Apt,
		Binary:     "apt-get",
		CacheClean: []string{"apt-get", "clean"},
		Autoremove: []string{"apt-get", "autoremove", "-y"},
		FixBroken:  []string{"apt-get", "install", "-f", "-y"},
	}
}

func euid(v int) *int { return &v }

func exitError(t *testing.T, code int) error {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	err := exec.Command("sh", "-c", "exit "+strconv.Itoa(code)).Run()
	if err == nil {
		t.Fatalf("expected exit error for code %d", code)
	}
	return err
}

func TestRun_AsRootExecutesTemplate(t *testing.T) {
	fake := &fakeExecutor{}
	r := NewRunner(Options{Catalog: NewCatalog(aptProfile()), Executor: fake, Euid: euid(0), Logger: zaptest.NewLogger(t)})

	if _, err := r.Run(context.Background(), CacheClean); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := [][]string{{"apt-get", "clean"}}
	if !reflect.DeepEqual(fake.calls, want) {
		t.Errorf("calls = %v, want %v", fake.calls, want)
	}
}

func TestRun_EscalatesOnlyDeclaredActions(t *testing.T) {
	policy := &Policy{Actions: []PolicyAction{
		{ID: DefaultPolicyPrefix + "cache-clean"},
		{ID: DefaultPolicyPrefix + "log-vacuum"},
	}}
	fake := &fakeExecutor{}
	r := NewRunner(Options{Catalog: NewCatalog(aptProfile()), Executor: fake, Euid: euid(1000), Policy: policy})

	if _, err := r.Run(context.Background(), LogVacuum); err != nil {
		t.Fatalf("Run(log-vacuum) failed: %v", err)
	}
	if got := fake.calls[0]; got[0] != "pkexec" || got[1] != "journalctl" {
		t.Errorf("expected pkexec journalctl, got %v", got)
	}

	_, err := r.Run(context.Background(), FixBroken)
	if !errors.Is(err, errors.KindPermissionDenied) {
		t.Errorf("Run(fix-broken) without policy entry = %v, want permission-denied", err)
	}
	if len(fake.calls) != 1 {
		t.Errorf("refused action must not execute, calls = %v", fake.calls)
	}
	if r.Available(FixBroken) {
		t.Error("Available(fix-broken) should be false without a policy entry")
	}
}

func TestRun_UnknownProfileIsToolUnavailable(t *testing.T) {
	fake := &fakeExecutor{}
	r := NewRunner(Options{Catalog: NewCatalog(distro.Profile{Family: distro.Unknown}), Executor: fake, Euid: euid(0)})

	for _, a := range []Action{CacheClean, Autoremove, FixBroken} {
		if _, err := r.Run(context.Background(), a); !errors.Is(err, errors.KindToolUnavailable) {
			t.Errorf("Run(%s) = %v, want tool-unavailable", a, err)
		}
	}
	if len(fake.calls) != 0 {
		t.Errorf("nothing should execute for an unknown profile, calls = %v", fake.calls)
	}
}

func TestRun_Timeout(t *testing.T) {
	fake := &fakeExecutor{run: func(ctx context.Context, argv []string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	r := NewRunner(Options{Catalog: NewCatalog(aptProfile()), Executor: fake, Euid: euid(0), Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := r.Run(context.Background(), Autoremove)
	if !errors.Is(err, errors.KindTimeout) {
		t.Fatalf("Run = %v, want timeout", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout took too long: %s", time.Since(start))
	}
}

func TestRun_IgnoresCallerCancellation(t *testing.T) {
	fake := &fakeExecutor{run: func(ctx context.Context, argv []string) ([]byte, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
			return []byte("done"), nil
		}
	}}
	r := NewRunner(Options{Catalog: NewCatalog(aptProfile()), Executor: fake, Euid: euid(0)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Run(ctx, CacheClean); err != nil {
		t.Errorf("an in-progress command should complete despite cancellation, got %v", err)
	}
}

func TestRun_ExitCodes(t *testing.T) {
	tests := []struct {
		name string
		code int
		euid int
		want errors.Kind
	}{
		{"auth dismissed", 126, 1000, errors.KindPermissionDenied},
		{"not authorized", 127, 1000, errors.KindPermissionDenied},
		{"127 as root is a failure", 127, 0, errors.KindExecutionFailed},
		{"generic failure", 100, 0, errors.KindExecutionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exitErr := exitError(t, tt.code)
			fake := &fakeExecutor{run: func(ctx context.Context, argv []string) ([]byte, error) {
				return []byte("E: Could not get lock"), exitErr
			}}
			policy := &Policy{Actions: []PolicyAction{{ID: DefaultPolicyPrefix + "cache-clean"}}}
			r := NewRunner(Options{Catalog: NewCatalog(aptProfile()), Executor: fake, Euid: euid(tt.euid), Policy: policy})

			_, err := r.Run(context.Background(), CacheClean)
			if got := errors.KindOf(err); got != tt.want {
				t.Errorf("KindOf(%v) = %s, want %s", err, got, tt.want)
			}
		})
	}
}

func TestRun_PackageArguments(t *testing.T) {
	profile := distro.Profile{
		Family:                  distro.Pacman,
		Binary:                  "pacman",
		CacheClean:              []string{"pacman", "-Sc", "--noconfirm"},
		Autoremove:              []string{"pacman", "-Rns", "--noconfirm"},
		AutoremoveTakesPackages: true,
	}
	fake := &fakeExecutor{}
	r := NewRunner(Options{Catalog: NewCatalog(profile), Executor: fake, Euid: euid(0)})

	if _, err := r.Run(context.Background(), Autoremove, "python-wheel", "libfoo"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := []string{"pacman", "-Rns", "--noconfirm", "python-wheel", "libfoo"}
	if !reflect.DeepEqual(fake.calls[0], want) {
		t.Errorf("argv = %v, want %v", fake.calls[0], want)
	}

	if _, err := r.Run(context.Background(), Autoremove, "--dbonly"); err == nil {
		t.Error("expected option-like package name to be rejected")
	}
	if _, err := r.Run(context.Background(), CacheClean, "vim"); err == nil {
		t.Error("expected package arguments to be rejected for cache-clean")
	}
}

func TestQuery(t *testing.T) {
	fake := &fakeExecutor{run: func(ctx context.Context, argv []string) ([]byte, error) {
		return []byte("Remv libfoo [1.0]\n"), nil
	}}
	r := NewRunner(Options{Executor: fake, Euid: euid(1000)})

	out, err := r.Query(context.Background(), "apt-get", "--dry-run", "autoremove")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if string(out) != "Remv libfoo [1.0]\n" {
		t.Errorf("unexpected output %q", out)
	}
	if fake.calls[0][0] != "apt-get" {
		t.Errorf("queries must never be escalated, got %v", fake.calls[0])
	}
}

func TestPolicyRoundTrip(t *testing.T) {
	data, err := RenderPolicy(DefaultPolicyPrefix, NewCatalog(aptProfile()))
	if err != nil {
		t.Fatalf("RenderPolicy failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "io.github.gkhealter.policy")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}

	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}
	if missing := p.Missing(DefaultPolicyPrefix); len(missing) != 0 {
		t.Errorf("rendered policy is missing %v", missing)
	}
	if len(p.Actions) != len(Actions()) {
		t.Errorf("policy declares %d actions, want exactly %d", len(p.Actions), len(Actions()))
	}

	want := map[Action]string{
		CacheClean:    "/usr/bin/apt-get",
		LogVacuum:     "/usr/bin/journalctl",
		CoredumpClean: "/usr/bin/systemd-tmpfiles",
	}
	if got := p.ExecPaths(DefaultPolicyPrefix); !reflect.DeepEqual(got, want) {
		t.Errorf("exec paths = %v, want %v", got, want)
	}
}

func TestRenderPolicy_UnknownProfileBindsOnlyCommonPrograms(t *testing.T) {
	data, err := RenderPolicy(DefaultPolicyPrefix, NewCatalog(distro.Profile{Family: distro.Unknown}))
	if err != nil {
		t.Fatalf("RenderPolicy failed: %v", err)
	}
	if strings.Count(string(data), ExecPathAnnotation) != 2 {
		t.Errorf("expected journalctl and systemd-tmpfiles only:\n%s", data)
	}
}

func TestPolicyMissing(t *testing.T) {
	p := &Policy{Actions: []PolicyAction{
		{ID: DefaultPolicyPrefix + "cache-clean"},
		{ID: DefaultPolicyPrefix + "autoremove"},
		{ID: "org.other.log-vacuum"},
	}}

	want := []Action{FixBroken, LogVacuum, CoredumpClean}
	if got := p.Missing(DefaultPolicyPrefix); !reflect.DeepEqual(got, want) {
		t.Errorf("Missing() = %v, want %v", got, want)
	}

	var none *Policy
	if got := none.Missing(DefaultPolicyPrefix); len(got) != len(Actions()) {
		t.Errorf("nil policy should miss every action, got %v", got)
	}
}
