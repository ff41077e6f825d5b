package agent

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ceems-dev/pcapbench/internal/osexec"
	"github.com/ceems-dev/pcapbench/pkg/store"
)

const dmiPath = "/sys/devices/virtual/dmi/id"

var dmiFiles = []string{
	"bios_date", "bios_vendor", "bios_version",
	"board_name", "board_vendor", "board_version",
	"sys_vendor",
}

// systemInfo performs the single-shot aggregate read described in spec
// §4.2.3: DMI firmware/board attributes, selected lscpu fields, short
// hostname, and the OS pretty name. Every source is best-effort — a
// missing file or unparsable numeric field never fails the whole read, it
// only omits or zeroes that one field.
func systemInfo(ctx context.Context, bmcType string) store.SystemInfo {
	info := store.SystemInfo{BMCType: bmcType}

	readDMI(&info)
	readCPUInfo(ctx, &info)
	readHostname(ctx, &info)
	readOSRelease(&info)

	return info
}

func readDMI(info *store.SystemInfo) {
	read := func(name string) string {
		b, err := os.ReadFile(filepath.Join(dmiPath, name))
		if err != nil {
			return ""
		}

		return strings.TrimSpace(string(b))
	}

	info.BIOSDate = read("bios_date")
	info.BIOSVendor = read("bios_vendor")
	info.BIOSVersion = read("bios_version")
	info.BoardName = read("board_name")
	info.BoardVendor = read("board_vendor")
	info.BoardVersion = read("board_version")
	info.SysVendor = read("sys_vendor")
}

func readHostname(ctx context.Context, info *store.SystemInfo) {
	stdout, _, err := osexec.Run(ctx, "hostname", []string{"-s"}, []string{"LANG=en_US.UTF-8"})
	if err != nil {
		return
	}

	info.Hostname = strings.TrimSpace(string(stdout))
}

func readOSRelease(info *store.SystemInfo) {
	b, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return
	}

	fields := make(map[string]string)

	for _, line := range strings.Split(string(b), "\n") {
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}

		key := strings.TrimSpace(line[:idx])
		value := strings.Trim(strings.TrimSpace(line[idx+1:]), `"`)
		fields[key] = value
	}

	if pretty := fields["PRETTY_NAME"]; pretty != "" {
		info.OSName = pretty

		return
	}

	info.OSName = strings.TrimSpace(fields["NAME"] + " " + fields["VERSION"])
}

// readCPUInfo shells out to lscpu and picks out the fields the store schema
// carries (spec §4.2.3, §6.3). Uses the same first-colon keyed-output parser
// as the IPMI BMC driver.
func readCPUInfo(ctx context.Context, info *store.SystemInfo) {
	stdout, _, err := osexec.Run(ctx, "lscpu", nil, []string{"LANG=en_US.UTF-8"})
	if err != nil {
		return
	}

	fields := parseColonFields(stdout)

	info.Architecture = fields["Architecture"]
	info.VendorID = fields["Vendor ID"]
	info.ModelName = fields["Model name"]

	info.CPUs = atoiOrZero(fields["CPU(s)"])
	info.ThreadsPerCore = atoiOrZero(fields["Thread(s) per core"])
	info.CoresPerSocket = atoiOrZero(fields["Core(s) per socket"])
	info.Sockets = atoiOrZero(fields["Socket(s)"])
	info.CPUMHz = atofOrZero(fields["CPU MHz"])
	info.CPUMaxMHz = atofOrZero(fields["CPU max MHz"])
	info.CPUMinMHz = atofOrZero(fields["CPU min MHz"])
}

// parseColonFields splits each line on the first ":" and trims both sides,
// dropping lines that don't split cleanly. Mirrors pkg/bmc's
// parseKeyedOutput; kept as a separate copy here since the two packages have
// no shared dependency and the parsing rule is a two-line function.
func parseColonFields(raw []byte) map[string]string {
	fields := make(map[string]string)

	for _, line := range strings.Split(string(raw), "\n") {
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}

		key := strings.TrimSpace(line[:idx])
		if key == "" {
			continue
		}

		fields[key] = strings.TrimSpace(line[idx+1:])
	}

	return fields
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}

	return n
}

func atofOrZero(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}

	return f
}
