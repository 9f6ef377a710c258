package sysinfo

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/GK-Developers/GK-Healter/internal/errors"
)

type fakeQuerier map[string]string

func (f fakeQuerier) Query(ctx context.Context, argv ...string) ([]byte, error) {
	key := strings.Join(argv, " ")
	for prefix, out := range f {
		if strings.HasPrefix(key, prefix) {
			return []byte(out), nil
		}
	}
	return nil, errors.New(errors.KindToolUnavailable, argv[0], nil)
}

func writeSupply(t *testing.T, root, name, kind, online string) {
	t.Helper()
	dir := filepath.Join(root, "sys/class/power_supply", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "type"), []byte(kind+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if online != "" {
		if err := os.WriteFile(filepath.Join(dir, "online"), []byte(online+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPower(t *testing.T) {
	tests := []struct {
		name  string
		setup func(root string)
		want  bool
	}{
		{"no power_supply directory", func(string) {}, true},
		{"battery only", func(root string) { writeSupply(t, root, "BAT0", "Battery", "") }, true},
		{"mains online", func(root string) {
			writeSupply(t, root, "AC", "Mains", "1")
			writeSupply(t, root, "BAT0", "Battery", "")
		}, true},
		{"mains offline", func(root string) {
			writeSupply(t, root, "AC", "Mains", "0")
			writeSupply(t, root, "BAT0", "Battery", "")
		}, false},
		{"one of two mains online", func(root string) {
			writeSupply(t, root, "ACAD", "Mains", "0")
			writeSupply(t, root, "USBC", "Mains", "1")
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			tt.setup(root)
			got, err := (&Power{Root: root}).OnACPower(context.Background())
			if err != nil {
				t.Fatalf("OnACPower: %v", err)
			}
			if got != tt.want {
				t.Errorf("OnACPower = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDiskFreePercent(t *testing.T) {
	d := &Disk{Path: "/", usage: func(ctx context.Context, path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Path: path, Total: 1000, Used: 600, Free: 400, UsedPercent: 60}, nil
	}}
	got, err := d.FreePercent(context.Background())
	if err != nil || got != 40 {
		t.Fatalf("FreePercent = %v, %v; want 40", got, err)
	}

	d.usage = func(ctx context.Context, path string) (*disk.UsageStat, error) {
		return nil, stderrors.New("statfs failed")
	}
	if _, err := d.FreePercent(context.Background()); !errors.Is(err, errors.KindExecutionFailed) {
		t.Fatalf("got %v, want execution-failed", err)
	}
}

func TestIdle_Xprintidle(t *testing.T) {
	i := NewIdle(fakeQuerier{"xprintidle": "90500\n"})
	got, err := i.IdleTime(context.Background())
	if err != nil || got != 90500*time.Millisecond {
		t.Fatalf("IdleTime = %v, %v", got, err)
	}
}

func TestIdle_Logind(t *testing.T) {
	now := time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC)
	idleSince := now.Add(-20 * time.Minute).UnixMicro()

	q := fakeQuerier{
		"loginctl list-sessions":   "2 1000 alice seat0 tty2\nc1 120 gdm seat0 tty1\n",
		"loginctl show-session 2 ": "IdleHint=yes\nIdleSinceHint=" + strconv.FormatInt(idleSince, 10) + "\nClass=user\n",
		"loginctl show-session c1": "IdleHint=no\nIdleSinceHint=0\nClass=greeter\n",
	}
	i := NewIdle(q)
	i.Now = func() time.Time { return now }

	got, err := i.IdleTime(context.Background())
	if err != nil || got != 20*time.Minute {
		t.Fatalf("IdleTime = %v, %v; want 20m", got, err)
	}
}

func TestIdle_ActiveSessionIsNotIdle(t *testing.T) {
	q := fakeQuerier{
		"loginctl list-sessions":  "3 1000 alice seat0 tty2\n",
		"loginctl show-session 3": "IdleHint=no\nIdleSinceHint=0\nClass=user\n",
	}
	got, err := NewIdle(q).IdleTime(context.Background())
	if err != nil || got != 0 {
		t.Fatalf("IdleTime = %v, %v; want 0", got, err)
	}
}

func TestIdle_NoSessionsUsesUptime(t *testing.T) {
	i := NewIdle(fakeQuerier{"loginctl list-sessions": ""})
	i.uptime = func(ctx context.Context) (uint64, error) { return 7200, nil }

	got, err := i.IdleTime(context.Background())
	if err != nil || got != 2*time.Hour {
		t.Fatalf("IdleTime = %v, %v; want 2h", got, err)
	}
}

func TestIdle_NoSource(t *testing.T) {
	if _, err := NewIdle(fakeQuerier{}).IdleTime(context.Background()); !errors.Is(err, errors.KindToolUnavailable) {
		t.Fatalf("got %v, want tool-unavailable", err)
	}
}
