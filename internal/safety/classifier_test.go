package safety

import (
	"strings"
	"testing"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := NewClassifier(Options{Root: "/", Home: "/home/alice"})
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}
	return c
}

func TestClassify(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		name     string
		path     string
		category Category
		want     Decision
	}{
		{"apt cache root", "/var/cache/apt/archives", PackageCache, Allowed},
		{"apt cache entry", "/var/cache/apt/archives/vim_9.0_amd64.deb", PackageCache, Allowed},
		{"pacman cache under wrong category", "/var/cache/pacman/pkg", AppCache, Denied},
		{"rotated log", "/var/log/syslog.2.gz", SystemLogs, Allowed},
		{"log directory itself", "/var/log", SystemLogs, Denied},
		{"journal dir", "/var/log/journal", JournalVacuum, Allowed},
		{"coredump dir", "/var/lib/systemd/coredump", Coredumps, Allowed},
		{"browser cache", "/home/alice/.cache/mozilla", AppCache, Allowed},
		{"cache root itself", "/home/alice/.cache", AppCache, Denied},
		{"thumbnail subtree", "/home/alice/.cache/thumbnails/large", Thumbnails, Allowed},
		{"trash files", "/home/alice/.local/share/Trash/files", TempFiles, Allowed},
		{"tmp entry", "/tmp/build-1234", TempFiles, Allowed},
		{"tmp root", "/tmp", TempFiles, Denied},
		{"home root", "/home/alice", AppCache, Denied},
		{"documents", "/home/alice/Documents/report.odt", AppCache, Denied},
		{"filesystem root", "/", TempFiles, Denied},
		{"etc", "/etc/passwd", SystemLogs, Denied},
		{"boot", "/boot/vmlinuz", TempFiles, Denied},
		{"lib64 wildcard", "/lib64/ld-linux-x86-64.so.2", TempFiles, Denied},
		{"usr binary", "/usr/bin/ls", OrphanPackages, Denied},
		{"apt marker", "/usr/bin/apt-get", OrphanPackages, MarkerAllowed},
		{"pacman marker", "/usr/bin/pacman", OrphanPackages, MarkerAllowed},
		{"marker wrong category", "/usr/bin/dnf", PackageCache, Denied},
		{"dot dot escape into etc", "/var/log/../../etc/shadow", SystemLogs, Denied},
		{"dot dot staying in logs", "/var/log/nginx/../auth.log.1", SystemLogs, Allowed},
		{"relative path", "var/log/syslog.1", SystemLogs, Denied},
		{"empty path", "", SystemLogs, Denied},
		{"unknown category", "/tmp/x", Category("everything"), Denied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.Classify(tt.path, tt.category)
			if v.Decision != tt.want {
				t.Errorf("Classify(%q, %s) = %s (%s), want %s", tt.path, tt.category, v.Decision, v.Reason, tt.want)
			}
			if v.Reason == "" {
				t.Errorf("verdict for %q has no reason", tt.path)
			}
		})
	}
}

func TestClassify_OperatingRoot(t *testing.T) {
	c, err := NewClassifier(Options{Root: "/srv/chroot", Home: "/srv/chroot/home/bob"})
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}

	if v := c.Classify("/var/log/syslog.1", SystemLogs); v.Decision != Denied {
		t.Errorf("path outside operating root should be denied, got %s", v.Decision)
	}
	if v := c.Classify("/srv/chroot/var/log/syslog.1", SystemLogs); v.Decision != Allowed {
		t.Errorf("rotated log inside root should be allowed, got %s (%s)", v.Decision, v.Reason)
	}
	if v := c.Classify("/srv/chroot/usr/bin/zypper", OrphanPackages); v.Decision != MarkerAllowed {
		t.Errorf("marker inside root should be marker-allowed, got %s", v.Decision)
	}
	if v := c.Classify("/srv/chroot", TempFiles); v.Decision != Denied {
		t.Errorf("operating root itself should be denied, got %s", v.Decision)
	}
}

func TestNewClassifier_RejectsOverlap(t *testing.T) {
	rules := append(DefaultRules(), Rule{Pattern: "/etc/cron.d", Category: TempFiles, Effect: Allow, Match: Subtree})

	_, err := NewClassifier(Options{Root: "/", Home: "/home/alice", Rules: rules})
	if err == nil {
		t.Fatal("expected overlap between allow and deny rules to be rejected")
	}
	if !strings.Contains(err.Error(), "/etc") {
		t.Errorf("error should name the deny rule, got %v", err)
	}
}

func TestNewClassifier_RequiresAbsoluteHome(t *testing.T) {
	if _, err := NewClassifier(Options{Root: "/", Home: "alice"}); err == nil {
		t.Error("expected relative home to be rejected")
	}
	if _, err := NewClassifier(Options{Root: "/"}); err == nil {
		t.Error("expected empty home to be rejected")
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize([]Category{TempFiles, PackageCache, TempFiles, Category("bogus"), SystemLogs})
	want := []Category{PackageCache, SystemLogs, TempFiles}

	if len(got) != len(want) {
		t.Fatalf("Normalize() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Normalize()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
