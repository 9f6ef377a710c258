package distro

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeOSRelease(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write os-release: %v", err)
	}
}

func lookPathFor(present ...string) func(string) (string, error) {
	return func(file string) (string, error) {
		for _, p := range present {
			if p == file {
				return "/usr/bin/" + file, nil
			}
		}
		return "", errors.New("executable file not found in $PATH")
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name      string
		osRelease string
		binaries  []string
		want      Family
	}{
		{"ubuntu with apt", "NAME=\"Ubuntu\"\nID=ubuntu\nID_LIKE=debian\n", []string{"apt-get"}, Apt},
		{"mint through ID_LIKE", "ID=linuxmint\nID_LIKE=\"ubuntu debian\"\n", []string{"apt-get"}, Apt},
		{"arch", "ID=arch\n", []string{"pacman"}, Pacman},
		{"fedora", "ID=fedora\n", []string{"dnf", "rpm"}, Dnf},
		{"rocky through ID_LIKE", "ID=\"rocky\"\nID_LIKE=\"rhel centos fedora\"\n", []string{"dnf"}, Dnf},
		{"tumbleweed", "ID=\"opensuse-tumbleweed\"\nID_LIKE=\"opensuse suse\"\n", []string{"zypper"}, Zypper},
		{"identity without binary", "ID=debian\n", nil, Unknown},
		{"binary without identity", "ID=gentoo\n", []string{"apt-get"}, Unknown},
		{"commented id ignored", "#ID=debian\nID=void\n", []string{"apt-get"}, Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeOSRelease(t, root, "etc/os-release", tt.osRelease)

			d := &Detector{Root: root, LookPath: lookPathFor(tt.binaries...)}
			got := d.Detect()
			if got.Family != tt.want {
				t.Errorf("Detect() family = %s, want %s", got.Family, tt.want)
			}
		})
	}
}

func TestDetect_FallbackOSRelease(t *testing.T) {
	root := t.TempDir()
	writeOSRelease(t, root, "usr/lib/os-release", "ID=arch\n")

	d := &Detector{Root: root, LookPath: lookPathFor("pacman")}
	if got := d.Detect(); got.Family != Pacman {
		t.Errorf("Detect() = %s, want pacman from usr/lib/os-release", got.Family)
	}
}

func TestDetect_UnknownHasNoCommands(t *testing.T) {
	d := &Detector{Root: t.TempDir(), LookPath: lookPathFor()}
	p := d.Detect()

	if p.Known() {
		t.Fatalf("expected unknown profile, got %s", p.Family)
	}
	if p.Autoremove != nil || p.FixBroken != nil || p.CacheClean != nil || p.DependencyQuery != nil {
		t.Errorf("unknown profile must not carry commands: %+v", p)
	}
}

func TestDetect_ReturnsIndependentCopies(t *testing.T) {
	root := t.TempDir()
	writeOSRelease(t, root, "etc/os-release", "ID=debian\n")
	d := &Detector{Root: root, LookPath: lookPathFor("apt-get")}

	first := d.Detect()
	first.Autoremove[0] = "rm"

	if second := d.Detect(); second.Autoremove[0] != "apt-get" {
		t.Errorf("mutating one profile leaked into the table: %v", second.Autoremove)
	}
}

func TestFamiliesAreComplete(t *testing.T) {
	for _, f := range families {
		p := f.profile
		if p.Binary == "" || p.CacheDir == "" || p.CacheClean == nil || p.DependencyQuery == nil {
			t.Errorf("family %s is missing a required field", p.Family)
		}
		if _, ok := orphanParsers[p.Family]; !ok {
			t.Errorf("family %s has no orphan parser", p.Family)
		}
		if p.SizeQuery != nil && p.SizeUnit == 0 {
			t.Errorf("family %s has a size query without a unit", p.Family)
		}
	}
}
