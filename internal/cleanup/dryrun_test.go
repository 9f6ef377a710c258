package cleanup

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/GK-Developers/GK-Healter/internal/safety"
)

// stripVolatile drops the fields that legitimately differ between runs
func stripVolatile(r *Report) []Operation {
	ops := make([]Operation, len(r.Operations))
	for i, op := range r.Operations {
		op.StartedAt = time.Time{}
		op.FinishedAt = time.Time{}
		ops[i] = op
	}
	return ops
}

func TestDryRun_ChangesNothingAndIsRepeatable(t *testing.T) {
	f := newFixture(t, testAptProfile)
	writeFile(t, filepath.Join(f.root, "var/cache/apt/archives/vim_9.0_amd64.deb"), 500)
	writeFile(t, filepath.Join(f.root, "var/log/kern.log.3.gz"), 40)
	writeFile(t, filepath.Join(f.home, ".cache/thumbnails/large/b.png"), 12)
	f.runner.queries["apt-get"] = []byte("Remv libfoo1 [1.0]\n")

	all := safety.Categories()
	first, err := f.engine.DryRun(context.Background(), all)
	if err != nil {
		t.Fatalf("DryRun failed: %v", err)
	}
	second, err := f.engine.DryRun(context.Background(), all)
	if err != nil {
		t.Fatalf("DryRun failed: %v", err)
	}

	if len(f.runner.ran()) != 0 {
		t.Errorf("dry run executed commands: %v", f.runner.ran())
	}
	if !exists(filepath.Join(f.root, "var/log/kern.log.3.gz")) {
		t.Error("dry run removed a file")
	}
	if first.RunID == second.RunID {
		t.Error("each dry run needs its own run id")
	}
	if !reflect.DeepEqual(stripVolatile(first), stripVolatile(second)) {
		t.Errorf("dry runs differ:\n%+v\n%+v", first.Operations, second.Operations)
	}

	if first.TotalBytesFreed != 0 {
		t.Errorf("dry run freed %d bytes", first.TotalBytesFreed)
	}
	if first.EstimatedBytes != 552 {
		t.Errorf("estimated bytes = %d, want 552", first.EstimatedBytes)
	}
	for _, op := range first.Operations {
		if op.Outcome != Simulated {
			t.Errorf("operation %s/%s = %s, want simulated", op.Target.Category, op.Target.Path, op.Outcome)
		}
	}
}
