package distro

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"
)

var packageName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9+._@:-]*$`)

// ValidPackageName reports whether s can be passed to a package manager as
// a single package argument.
func ValidPackageName(s string) bool {
	return len(s) <= 255 && packageName.MatchString(s)
}

var orphanParsers = map[Family]func([]byte) []string{
	Apt:    parseAptDryRun,
	Pacman: parsePlainList,
	Dnf:    parsePlainList,
	Zypper: parseZypperTable,
}

// parseAptDryRun picks package names from "Remv <name> [<version>]" lines
func parseAptDryRun(output []byte) []string {
	var pkgs []string
	eachLine(output, func(line string) {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "Remv" {
			pkgs = appendValid(pkgs, fields[1])
		}
	})
	return pkgs
}

func parsePlainList(output []byte) []string {
	var pkgs []string
	eachLine(output, func(line string) {
		if fields := strings.Fields(line); len(fields) == 1 {
			pkgs = appendValid(pkgs, fields[0])
		}
	})
	return pkgs
}

// parseZypperTable reads the Name column of "S | Repository | Name | ..." rows
func parseZypperTable(output []byte) []string {
	var pkgs []string
	eachLine(output, func(line string) {
		cols := strings.Split(line, "|")
		if len(cols) < 3 {
			return
		}
		name := strings.TrimSpace(cols[2])
		if name == "Name" {
			return
		}
		pkgs = appendValid(pkgs, name)
	})
	return pkgs
}

func appendValid(pkgs []string, name string) []string {
	if !ValidPackageName(name) {
		return pkgs
	}
	for _, p := range pkgs {
		if p == name {
			return pkgs
		}
	}
	return append(pkgs, name)
}

// ParseSizes sums one integer per line and converts it with unit
func ParseSizes(output []byte, unit SizeUnit) int64 {
	if unit == 0 {
		unit = Bytes
	}
	var total int64
	eachLine(output, func(line string) {
		n, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
		if err == nil && n > 0 {
			total += n * int64(unit)
		}
	})
	return total
}

func eachLine(output []byte, fn func(string)) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			fn(line)
		}
	}
}
