package distro

import (
	"reflect"
	"testing"
)

func TestOrphans(t *testing.T) {
	tests := []struct {
		name   string
		family Family
		output string
		want   []string
	}{
		{
			name:   "apt dry run",
			family: Apt,
			output: "Reading package lists...\nThe following packages will be REMOVED:\n  libfoo1 linux-headers-6.1\nRemv libfoo1 [1.2-3]\nRemv linux-headers-6.1 [6.1.0-1]\n",
			want:   []string{"libfoo1", "linux-headers-6.1"},
		},
		{
			name:   "pacman list",
			family: Pacman,
			output: "python-wheel\nlib32-gcc-libs\n",
			want:   []string{"python-wheel", "lib32-gcc-libs"},
		},
		{
			name:   "zypper table",
			family: Zypper,
			output: "S | Repository | Name        | Version | Arch\n--+------------+-------------+---------+-------\ni | repo-oss   | libold2     | 2.0-1   | x86_64\n",
			want:   []string{"libold2"},
		},
		{
			name:   "injection attempt dropped",
			family: Pacman,
			output: "good-pkg\n;rm -rf /\n--force\n",
			want:   []string{"good-pkg"},
		},
		{
			name:   "unknown family",
			family: Unknown,
			output: "anything\n",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Profile{Family: tt.family}.Orphans([]byte(tt.output))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Orphans() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseSizes(t *testing.T) {
	if got := ParseSizes([]byte("100\n20\nnot-a-number\n"), KiB); got != 120*1024 {
		t.Errorf("ParseSizes(KiB) = %d, want %d", got, 120*1024)
	}
	if got := ParseSizes([]byte("512\n"), 0); got != 512 {
		t.Errorf("ParseSizes(default unit) = %d, want 512", got)
	}
}
