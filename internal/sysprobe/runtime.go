package sysprobe

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/osinstall/osinstall/internal/environment"
)

const (
	efiDir         = "/sys/firmware/efi"
	secureBootVar  = "/sys/firmware/efi/efivars/SecureBoot-8be4df61-93ca-11d2-aa0d-00e098032b8c"
	cpuinfoPath    = "/proc/cpuinfo"
	cmdlinePath    = "/proc/cmdline"
	countryCmdline = "osinstall.country"
)

func (p *Prober) probeRuntime(ctx context.Context) (environment.RuntimeInfo, error) {
	var info environment.RuntimeInfo

	disks, err := p.probeDisks(ctx)
	if err != nil {
		return info, err
	}
	if len(disks) == 0 {
		return info, fmt.Errorf("no installable disk found")
	}
	info.Disks = disks

	network, err := p.probeNetwork(ctx)
	if err != nil {
		return info, err
	}
	info.Network = network

	memory, err := totalMemoryMiB()
	if err != nil {
		return info, err
	}
	info.TotalMemoryMiB = memory

	info.BootType = environment.BootTypeBios
	if _, err := os.Stat(efiDir); err == nil {
		info.BootType = environment.BootTypeEfi
		info.SecureBoot = secureBootEnabled(readSmallFile(secureBootVar))
	}

	info.HVMSupported = hasVirtFlags(readSmallFile(cpuinfoPath))
	info.DefaultCountry = cmdlineValue(readSmallFile(cmdlinePath), countryCmdline)

	if hostname, err := os.Hostname(); err == nil {
		host, _, _ := strings.Cut(hostname, ".")
		info.Hostname = host
	}
	return info, nil
}

func totalMemoryMiB() (uint64, error) {
	var sysinfo unix.Sysinfo_t
	if err := unix.Sysinfo(&sysinfo); err != nil {
		return 0, fmt.Errorf("reading memory size: %w", err)
	}
	return uint64(sysinfo.Totalram) * uint64(sysinfo.Unit) / (1024 * 1024), nil
}

// readSmallFile is for best-effort facts: a missing or unreadable source
// reads as empty and the fact takes its zero value.
func readSmallFile(path string) []byte {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return data
}

// secureBootEnabled reads the EFI variable payload: four bytes of
// attributes followed by the value byte.
func secureBootEnabled(data []byte) bool {
	return len(data) >= 5 && data[4] == 1
}

// hasVirtFlags tells whether the CPU advertises hardware virtualization,
// vmx on Intel, svm on AMD.
func hasVirtFlags(cpuinfo []byte) bool {
	for _, line := range strings.Split(string(cpuinfo), "\n") {
		name, value, found := strings.Cut(line, ":")
		if !found || strings.TrimSpace(name) != "flags" {
			continue
		}
		for _, flag := range strings.Fields(value) {
			if flag == "vmx" || flag == "svm" {
				return true
			}
		}
	}
	return false
}

// cmdlineValue extracts a key=value kernel parameter.
func cmdlineValue(cmdline []byte, key string) string {
	for _, field := range strings.Fields(string(cmdline)) {
		if value, found := strings.CutPrefix(field, key+"="); found {
			return strings.Trim(value, `"`)
		}
	}
	return ""
}
