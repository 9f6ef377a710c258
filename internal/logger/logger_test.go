package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_WritesServiceAndErrorLogs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	log, err := New(Config{Level: "info", Dir: dir, MaxSize: 1}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	log.Debug("hidden")
	log.Info("cleanup started")
	log.Error("cleanup failed")
	_ = log.Sync()

	service, err := os.ReadFile(filepath.Join(dir, "service.log"))
	if err != nil {
		t.Fatal(err)
	}
	errorsLog, err := os.ReadFile(filepath.Join(dir, "error.log"))
	if err != nil {
		t.Fatal(err)
	}

	if strings.Contains(string(service), "hidden") {
		t.Error("debug entry written at info level")
	}
	if !strings.Contains(string(service), "cleanup started") || !strings.Contains(string(service), "cleanup failed") {
		t.Errorf("service.log = %s", service)
	}
	if strings.Contains(string(errorsLog), "cleanup started") || !strings.Contains(string(errorsLog), "cleanup failed") {
		t.Errorf("error.log = %s", errorsLog)
	}
	if !strings.Contains(string(service), `"timestamp"`) {
		t.Error("entries must carry a timestamp key")
	}
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "warn"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("quiet")
	log.Warn("running on battery")
	_ = log.Sync()

	if strings.Contains(buf.String(), "quiet") || !strings.Contains(buf.String(), "running on battery") {
		t.Errorf("console = %q", buf.String())
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud"}, nil); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
}
