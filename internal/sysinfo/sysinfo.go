// Package sysinfo reads the host signals the maintenance scheduler decides on.
package sysinfo

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"

	"github.com/GK-Developers/GK-Healter/internal/errors"
)

// Querier runs a read-only external command
type Querier interface {
	Query(ctx context.Context, argv ...string) ([]byte, error)
}

// Disk reports the free space of the filesystem holding Path
type Disk struct {
	Path  string
	usage func(ctx context.Context, path string) (*disk.UsageStat, error)
}

// NewDisk watches the filesystem mounted at path
func NewDisk(path string) *Disk {
	return &Disk{Path: path, usage: disk.UsageWithContext}
}

// FreePercent returns the share of the filesystem still free, 0 to 100
func (d *Disk) FreePercent(ctx context.Context) (float64, error) {
	usage, err := d.usage(ctx, d.Path)
	if err != nil {
		return 0, errors.New(errors.KindExecutionFailed, "disk usage "+d.Path, err)
	}
	if usage.Total == 0 {
		return 0, errors.Newf(errors.KindExecutionFailed, "disk usage "+d.Path, "filesystem reports zero size")
	}
	return 100 - usage.UsedPercent, nil
}

// Power reads /sys/class/power_supply below Root
type Power struct {
	Root string
}

// OnACPower reports whether the machine runs on mains power. Machines
// without a Mains supply entry are treated as desktops on AC.
func (p *Power) OnACPower(ctx context.Context) (bool, error) {
	dir := filepath.Join(p.Root, "/sys/class/power_supply")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, errors.New(errors.KindExecutionFailed, "power supply", err)
	}

	mains := false
	for _, e := range entries {
		supply := filepath.Join(dir, e.Name())
		kind, err := readTrimmed(filepath.Join(supply, "type"))
		if err != nil || kind != "Mains" {
			continue
		}
		mains = true
		if online, err := readTrimmed(filepath.Join(supply, "online")); err == nil && online == "1" {
			return true, nil
		}
	}
	return !mains, nil
}

func readTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Idle estimates how long the user has been inactive. It asks xprintidle
// first, then logind. With no session at all the host uptime is used.
type Idle struct {
	Querier Querier
	Now     func() time.Time
	uptime  func(ctx context.Context) (uint64, error)
}

// NewIdle creates an idle source backed by q
func NewIdle(q Querier) *Idle {
	return &Idle{Querier: q, Now: time.Now, uptime: host.UptimeWithContext}
}

// IdleTime returns the current idle duration
func (i *Idle) IdleTime(ctx context.Context) (time.Duration, error) {
	if out, err := i.Querier.Query(ctx, "xprintidle"); err == nil {
		ms, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
		if err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond, nil
		}
	}

	idle, sessions, err := i.logind(ctx)
	if err != nil {
		return 0, err
	}
	if sessions > 0 {
		return idle, nil
	}

	secs, err := i.uptime(ctx)
	if err != nil {
		return 0, errors.New(errors.KindExecutionFailed, "host uptime", err)
	}
	return time.Duration(secs) * time.Second, nil
}

// logind returns the shortest idle time across user sessions. An active
// session counts as zero idle.
func (i *Idle) logind(ctx context.Context) (time.Duration, int, error) {
	out, err := i.Querier.Query(ctx, "loginctl", "list-sessions", "--no-legend")
	if err != nil {
		return 0, 0, err
	}

	var (
		shortest time.Duration
		sessions int
	)
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		props, err := i.Querier.Query(ctx, "loginctl", "show-session", fields[0],
			"-p", "IdleHint", "-p", "IdleSinceHint", "-p", "Class")
		if err != nil {
			continue
		}
		idle, user := sessionIdle(string(props), i.Now())
		if !user {
			continue
		}
		if sessions == 0 || idle < shortest {
			shortest = idle
		}
		sessions++
	}
	return shortest, sessions, nil
}

// sessionIdle parses loginctl show-session properties. IdleSinceHint is
// in microseconds since the epoch.
func sessionIdle(props string, now time.Time) (time.Duration, bool) {
	values := map[string]string{}
	for _, line := range strings.Split(props, "\n") {
		if k, v, ok := strings.Cut(strings.TrimSpace(line), "="); ok {
			values[k] = v
		}
	}
	if class, ok := values["Class"]; ok && class != "user" {
		return 0, false
	}
	if values["IdleHint"] != "yes" {
		return 0, true
	}
	since, err := strconv.ParseInt(values["IdleSinceHint"], 10, 64)
	if err != nil || since <= 0 {
		return 0, true
	}
	idle := now.Sub(time.UnixMicro(since))
	if idle < 0 {
		idle = 0
	}
	return idle, true
}
