package install

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// formatStep creates the planned volumes and filesystems and mounts the
// root filesystem at the executor's target dir.
type formatStep struct{}

func (s *formatStep) Name() string      { return StepFormat }
func (s *formatStep) Destructive() bool { return true }
func (s *formatStep) Idempotent() bool  { return true }

func (s *formatStep) Run(ctx context.Context, e *Executor) (string, error) {
	if e.layout == nil {
		return "", Preconditionf("no layout planned, select-disk did not run")
	}

	e.BeginDestructive()

	e.emitProgress(StepFormat, 0.1, "formatting efi system partitions")
	for _, esp := range e.layout.ESPDevices() {
		serial := espSerial(e.layout, esp)
		if _, err := e.run(ctx, "mkfs.vfat", "-F", "32", "-i", serial, esp); err != nil {
			return "", err
		}
	}

	var summary string
	var err error
	switch e.layout.Filesystem {
	case FsExt4, FsXfs:
		summary, err = s.formatLVM(ctx, e)
	case FsZfs:
		summary, err = s.formatZfs(ctx, e)
	case FsBtrfs:
		summary, err = s.formatBtrfs(ctx, e)
	}
	if err != nil {
		return "", err
	}

	e.emitProgress(StepFormat, 1, "filesystems ready")
	return summary, nil
}

func (s *formatStep) formatLVM(ctx context.Context, e *Executor) (string, error) {
	vg := e.layout.VG

	if e.Config.ExistingStorageAutoRename {
		if err := renameExistingVG(ctx, e, vg.Name); err != nil {
			return "", err
		}
	}

	for _, pv := range vg.PVs {
		if _, err := e.run(ctx, "pvcreate", "--force", "--yes", pv); err != nil {
			return "", err
		}
	}
	if _, err := e.run(ctx, "vgcreate", append([]string{vg.Name}, vg.PVs...)...); err != nil {
		return "", err
	}

	e.emitProgress(StepFormat, 0.4, "creating logical volumes")
	for _, lv := range vg.Volumes {
		size := strconv.FormatUint(lv.Size, 10) + "b"
		if lv.ThinPool {
			if _, err := e.run(ctx, "lvcreate", "--type", "thin-pool", "-L", size, "-n", lv.Name, vg.Name); err != nil {
				return "", err
			}
			continue
		}
		if _, err := e.run(ctx, "lvcreate", "-L", size, "-n", lv.Name, vg.Name); err != nil {
			return "", err
		}

		device := vg.Device(lv.Name)
		switch lv.Payload.Type {
		case "swap":
			if _, err := e.run(ctx, "mkswap", "-U", lv.Payload.UUID, device); err != nil {
				return "", err
			}
		case "ext4":
			if _, err := e.run(ctx, "mkfs.ext4", "-q", "-F", "-U", lv.Payload.UUID, device); err != nil {
				return "", err
			}
		case "xfs":
			if _, err := e.run(ctx, "mkfs.xfs", "-f", "-m", "uuid="+lv.Payload.UUID, device); err != nil {
				return "", err
			}
		}
	}

	e.emitProgress(StepFormat, 0.8, "mounting root filesystem")
	if err := mountRoot(ctx, e, vg.Device("root")); err != nil {
		return "", err
	}
	return fmt.Sprintf("created volume group %s on %s", vg.Name, strings.Join(vg.PVs, ", ")), nil
}

func (s *formatStep) formatZfs(ctx context.Context, e *Executor) (string, error) {
	pool := e.layout.Pool
	zfs := e.Config.Zfs

	if err := os.MkdirAll(e.TargetDir, 0755); err != nil {
		return "", err
	}

	args := []string{
		"create", "-f",
		"-o", "ashift=" + strconv.FormatUint(zfs.Ashift, 10),
		"-O", "compression=" + zfs.Compress,
		"-O", "checksum=" + zfs.Checksum,
		"-O", "copies=" + strconv.FormatUint(zfs.Copies, 10),
		"-O", "mountpoint=none",
		"-R", e.TargetDir,
		pool.Name,
	}
	args = append(args, zpoolVdevArgs(pool.Raid, pool.Members)...)
	if _, err := e.run(ctx, "zpool", args...); err != nil {
		return "", err
	}

	e.emitProgress(StepFormat, 0.7, "creating root dataset")
	if _, err := e.run(ctx, "zfs", "create", "-o", "mountpoint=/", pool.Name+"/ROOT"); err != nil {
		return "", err
	}
	return fmt.Sprintf("created pool %s (%s) on %d member(s)", pool.Name, pool.Raid, len(pool.Members)), nil
}

func (s *formatStep) formatBtrfs(ctx context.Context, e *Executor) (string, error) {
	pool := e.layout.Pool
	data, meta := btrfsProfiles(pool.Raid, len(pool.Members))

	args := []string{
		"-f",
		"-L", pool.Root.Label,
		"-U", pool.Root.UUID,
		"-d", data,
		"-m", meta,
	}
	args = append(args, pool.Members...)
	if _, err := e.run(ctx, "mkfs.btrfs", args...); err != nil {
		return "", err
	}

	e.emitProgress(StepFormat, 0.7, "mounting root filesystem")
	var options []string
	if compress := e.Config.Btrfs.Compress; compress != "" && compress != "off" {
		options = append(options, "-o", "compress="+compress)
	}
	if err := mountRoot(ctx, e, pool.Members[0], options...); err != nil {
		return "", err
	}
	return fmt.Sprintf("created btrfs (%s) on %d member(s)", pool.Raid, len(pool.Members)), nil
}

func mountRoot(ctx context.Context, e *Executor, device string, options ...string) error {
	if err := os.MkdirAll(e.TargetDir, 0755); err != nil {
		return err
	}
	args := append(options, device, e.TargetDir)
	_, err := e.run(ctx, "mount", args...)
	return err
}

// renameExistingVG moves a clashing volume group out of the way so
// vgcreate cannot trip over leftovers of a previous installation.
func renameExistingVG(ctx context.Context, e *Executor, name string) error {
	output, err := e.run(ctx, "vgs", "--noheadings", "--options", "vg_name")
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(output), "\n") {
		if strings.TrimSpace(line) != name {
			continue
		}
		renamed := fmt.Sprintf("%s-old-%08x", name, e.rng.Uint32())
		if _, err := e.run(ctx, "vgrename", name, renamed); err != nil {
			return err
		}
		if e.Log != nil {
			e.Log.Infof("renamed existing volume group %s to %s", name, renamed)
		}
	}
	return nil
}

// zpoolVdevArgs renders the vdev part of the zpool create command line for
// the given raid level.
func zpoolVdevArgs(raid RaidLevel, members []string) []string {
	switch raid {
	case Raid1:
		return append([]string{"mirror"}, members...)
	case Raid10:
		var args []string
		for i := 0; i+1 < len(members); i += 2 {
			args = append(args, "mirror", members[i], members[i+1])
		}
		return args
	case RaidZ1:
		return append([]string{"raidz"}, members...)
	case RaidZ2:
		return append([]string{"raidz2"}, members...)
	case RaidZ3:
		return append([]string{"raidz3"}, members...)
	default:
		return members
	}
}

// btrfsProfiles picks the data and metadata profiles. A single member
// falls back to single/dup.
func btrfsProfiles(raid RaidLevel, members int) (string, string) {
	if members == 1 {
		return "single", "dup"
	}
	switch raid {
	case Raid1:
		return "raid1", "raid1"
	case Raid10:
		return "raid10", "raid10"
	default:
		return "raid0", "raid0"
	}
}

// espSerial digs out the vfat serial planned for the given ESP device.
func espSerial(l *Layout, device string) string {
	for _, table := range l.Tables {
		for i, part := range table.Partitions {
			if PartitionDevice(table.Device, i+1) != device {
				continue
			}
			if part.Payload != nil {
				return strings.ReplaceAll(part.Payload.UUID, "-", "")
			}
		}
	}
	return ""
}
