package sysprobe

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/osinstall/osinstall/internal/environment"
)

// lsblkBool tolerates both spellings lsblk has used over the years: real
// JSON booleans and the older "0"/"1" strings.
type lsblkBool bool

func (b *lsblkBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "true", "1":
		*b = true
	case "false", "0", "null":
		*b = false
	default:
		return fmt.Errorf("%s is not a boolean", string(data))
	}
	return nil
}

// lsblkNumber, same story: numbers or quoted numbers.
type lsblkNumber uint64

func (n *lsblkNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		*n = 0
		return nil
	}
	value, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("%s is not a size", string(data))
	}
	*n = lsblkNumber(value)
	return nil
}

type lsblkDevice struct {
	Name         string      `json:"name"`
	Path         string      `json:"path"`
	Model        *string     `json:"model"`
	SizeBytes    lsblkNumber `json:"size"`
	LogicalBsize lsblkNumber `json:"log-sec"`
	Type         string      `json:"type"`
	ReadOnly     lsblkBool   `json:"ro"`
}

type lsblkReport struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

func (p *Prober) probeDisks(ctx context.Context) ([]environment.Disk, error) {
	out, err := p.Runner.Run(ctx, nil, "lsblk",
		"--json", "--bytes", "--nodeps",
		"--output", "NAME,PATH,MODEL,SIZE,LOG-SEC,TYPE,RO")
	if err != nil {
		return nil, fmt.Errorf("listing block devices: %w", err)
	}
	return parseLsblk(out)
}

// parseLsblk keeps the installable devices: writable whole disks with a
// non-zero size. zram devices report as disks but are memory, not storage.
func parseLsblk(data []byte) ([]environment.Disk, error) {
	var report lsblkReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parsing lsblk output: %w", err)
	}

	var disks []environment.Disk
	for _, dev := range report.BlockDevices {
		if dev.Type != "disk" || bool(dev.ReadOnly) || dev.SizeBytes == 0 {
			continue
		}
		if strings.HasPrefix(dev.Name, "zram") {
			continue
		}

		bsize := uint64(dev.LogicalBsize)
		if bsize == 0 {
			bsize = 512
		}

		path := dev.Path
		if path == "" {
			path = "/dev/" + dev.Name
		}
		model := ""
		if dev.Model != nil {
			model = strings.TrimSpace(*dev.Model)
		}

		disks = append(disks, environment.Disk{
			Path:         path,
			Model:        model,
			SizeBytes:    uint64(dev.SizeBytes),
			LogicalBsize: bsize,
			SysPath:      "/sys/block/" + dev.Name,
		})
	}

	sort.Slice(disks, func(i, j int) bool { return disks[i].Path < disks[j].Path })
	for i := range disks {
		disks[i].Index = i
	}
	return disks, nil
}
