package health

import (
	"context"
	"strconv"
	"strings"

	"github.com/GK-Developers/GK-Healter/internal/errors"
)

// systemState is what systemctl is-system-running prints. It exits
// non-zero for anything but "running", so the output is kept regardless.
func (a *Analyzer) systemState(ctx context.Context) string {
	out, _ := a.opts.Querier.Query(ctx, "systemctl", "is-system-running")
	if state := strings.TrimSpace(string(out)); state != "" {
		return state
	}
	return "unknown"
}

func (a *Analyzer) failedUnits(ctx context.Context) ([]string, error) {
	out, err := a.opts.Querier.Query(ctx, "systemctl", "list-units", "--state=failed", "--plain", "--no-legend", "--no-pager")
	if err != nil {
		return nil, err
	}
	units := []string{}
	for _, line := range lines(out) {
		units = append(units, strings.Fields(line)[0])
	}
	return units, nil
}

// slowUnits parses systemd-analyze blame, slowest first. The time column
// may span several fields ("1min 2.345s").
func (a *Analyzer) slowUnits(ctx context.Context) ([]UnitTime, error) {
	out, err := a.opts.Querier.Query(ctx, "systemd-analyze", "blame", "--no-pager")
	if err != nil {
		return nil, err
	}
	units := []UnitTime{}
	for _, line := range lines(out) {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		units = append(units, UnitTime{
			Unit: fields[len(fields)-1],
			Time: strings.Join(fields[:len(fields)-1], " "),
		})
		if len(units) == a.opts.SlowUnits {
			break
		}
	}
	return units, nil
}

// journalErrors counts entries of priority err or worse over the last day
func (a *Analyzer) journalErrors(ctx context.Context) (int, error) {
	out, err := a.opts.Querier.Query(ctx, "journalctl", "-p", "3", "-S", "-24h", "--no-pager", "-q", "-o", "short")
	if err != nil {
		if errors.Is(err, errors.KindExecutionFailed) && len(strings.TrimSpace(string(out))) == 0 {
			return 0, nil
		}
		return 0, err
	}
	return len(lines(out)), nil
}

// criticalEntries returns the newest entries of priority crit or worse
func (a *Analyzer) criticalEntries(ctx context.Context) ([]string, error) {
	out, err := a.opts.Querier.Query(ctx, "journalctl", "-p", "2", "-n", strconv.Itoa(a.opts.CriticalLimit), "-r", "--no-pager", "-q", "-o", "short")
	if err != nil {
		return nil, err
	}
	entries := lines(out)
	if entries == nil {
		entries = []string{}
	}
	return entries, nil
}

func lines(out []byte) []string {
	var result []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			result = append(result, line)
		}
	}
	return result
}
