package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GK-Developers/GK-Healter/internal/safety"
)

func TestParseCategoriesDefaultExcludesOrphans(t *testing.T) {
	got, err := parseCategories(nil)
	if err != nil {
		t.Fatalf("parseCategories: %v", err)
	}
	if len(got) != len(safety.Categories())-1 {
		t.Fatalf("expected every category but one, got %v", got)
	}
	for _, c := range got {
		if c == safety.OrphanPackages {
			t.Fatal("orphan-packages must be opt-in")
		}
	}
}

func TestParseCategoriesRejectsUnknown(t *testing.T) {
	if _, err := parseCategories([]string{"thumbnails", "everything"}); err == nil {
		t.Fatal("expected an error for an unknown category")
	}
	got, err := parseCategories([]string{"orphan-packages"})
	if err != nil || len(got) != 1 || got[0] != safety.OrphanPackages {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	want := []string{"audit", "clean", "config", "daemon", "health", "policy", "profile", "repair"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestConfigInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")

	root := newRootCmd()
	root.SetArgs([]string{"config", "init", "--config", path})
	root.SetOut(&bytes.Buffer{})
	if err := root.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "schedule:") {
		t.Errorf("unexpected config:\n%s", data)
	}

	root = newRootCmd()
	root.SetArgs([]string{"config", "init", "--config", path})
	if err := root.Execute(); err == nil {
		t.Fatal("expected an existing file to be kept without --force")
	}

	root = newRootCmd()
	root.SetArgs([]string{"config", "init", "--config", path, "--force"})
	if err := root.Execute(); err != nil {
		t.Fatalf("config init --force: %v", err)
	}
}

func TestPolicyPrintDeclaresActions(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	stdout := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = stdout }()

	root := newRootCmd()
	root.SetArgs([]string{"policy", "print", "--prefix", "org.example."})
	runErr := root.Execute()
	w.Close()
	os.Stdout = stdout

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		t.Fatal(err)
	}
	if runErr != nil {
		t.Fatalf("policy print: %v", runErr)
	}
	if !strings.Contains(buf.String(), `id="org.example.`) {
		t.Errorf("rendered policy lacks the prefix:\n%s", buf.String())
	}
}
