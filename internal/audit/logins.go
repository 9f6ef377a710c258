package audit

import (
	"bufio"
	"context"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/GK-Developers/GK-Healter/internal/errors"
)

const (
	failedLoginCritical = 50
	failedLoginWarning  = 10
	maxSamples          = 3
	// logTailLines bounds the fallback scan of auth log files
	logTailLines = 5000
)

// authFailure matches one line per failed attempt. sshd also logs
// "Invalid user" and pam_unix "authentication failure" for the same attempt.
var authFailure = regexp.MustCompile(`Failed password|FAILED LOGIN`)

type loginsCheck struct {
	cfg Config
}

func (c *loginsCheck) ID() CheckID { return FailedLogins }

// Run counts authentication failures within the login window, from the
// journal when available, otherwise from the tail of the auth log.
func (c *loginsCheck) Run(ctx context.Context) ([]Finding, error) {
	matches, source, err := c.fromJournal(ctx)
	if err != nil {
		matches, source, err = c.fromFiles()
		if err != nil {
			return nil, err
		}
	}

	n := len(matches)
	if n == 0 {
		return nil, nil
	}

	severity := Info
	switch {
	case n > failedLoginCritical:
		severity = Critical
	case n > failedLoginWarning:
		severity = Warning
	}

	samples := matches
	if len(samples) > maxSamples {
		samples = samples[len(samples)-maxSamples:]
	}
	return []Finding{{
		CheckID:  FailedLogins,
		Severity: severity,
		Subject:  source,
		Detail: strconv.Itoa(n) + " authentication failures in the last " + c.cfg.LoginWindow.String() +
			"; latest: " + strings.Join(samples, " | "),
	}}, nil
}

func (c *loginsCheck) fromJournal(ctx context.Context) ([]string, string, error) {
	if c.cfg.Querier == nil || c.cfg.Root != "/" {
		return nil, "", errors.Newf(errors.KindToolUnavailable, "journalctl", "journal not queried")
	}

	since := c.cfg.Now().Add(-c.cfg.LoginWindow).Format("2006-01-02 15:04:05")
	out, err := c.cfg.Querier.Query(ctx, "journalctl", "--no-pager", "-q", "-o", "short",
		"-S", since, "-g", authFailure.String())
	if err != nil {
		// journalctl exits non-zero when the grep matches nothing
		if errors.Is(err, errors.KindExecutionFailed) && len(strings.TrimSpace(string(out))) == 0 {
			return nil, "journal", nil
		}
		return nil, "", err
	}

	var matches []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" && authFailure.MatchString(line) {
			matches = append(matches, line)
		}
	}
	return matches, "journal", nil
}

func (c *loginsCheck) fromFiles() ([]string, string, error) {
	var lastErr error
	for _, candidate := range []string{"/var/log/auth.log", "/var/log/secure"} {
		path := c.cfg.path(candidate)
		lines, err := tail(path, logTailLines)
		if err != nil {
			if !os.IsNotExist(err) {
				lastErr = err
			}
			continue
		}

		now := c.cfg.Now()
		cutoff := now.Add(-c.cfg.LoginWindow)
		var matches []string
		for _, line := range lines {
			if !authFailure.MatchString(line) {
				continue
			}
			if ts, ok := syslogTime(line, now); ok && !ts.Before(cutoff) {
				matches = append(matches, strings.TrimSpace(line))
			}
		}
		return matches, candidate, nil
	}

	if lastErr != nil {
		return nil, "", lastErr
	}
	return nil, "", errors.Newf(errors.KindToolUnavailable, "failed-logins", "no journal and no auth log found")
}

// tail returns at most n trailing lines of path
func tail(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	return ring, scanner.Err()
}

// syslogTime parses RFC 3339 or classic "Jan  2 15:04:05" prefixes. The
// classic form has no year, a date in the future belongs to last year.
func syslogTime(line string, now time.Time) (time.Time, bool) {
	if fields := strings.Fields(line); len(fields) > 0 {
		if ts, err := time.Parse(time.RFC3339Nano, fields[0]); err == nil {
			return ts, true
		}
	}
	if len(line) < 15 {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(time.Stamp, line[:15], now.Location())
	if err != nil {
		return time.Time{}, false
	}
	ts = ts.AddDate(now.Year(), 0, 0)
	if ts.After(now.Add(24 * time.Hour)) {
		ts = ts.AddDate(-1, 0, 0)
	}
	return ts, true
}
