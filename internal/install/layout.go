package install

import (
	"fmt"
	"io"
	"math/rand"
	"strings"

	"github.com/google/uuid"

	"github.com/osinstall/osinstall/internal/common"
	"github.com/osinstall/osinstall/internal/environment"
)

const (
	BIOSBootPartitionGUID  = "21686148-6449-6E6F-744E-656564454649"
	EFISystemPartitionGUID = "C12A7328-F81F-11D2-BA4B-00A0C93EC93B"
	FilesystemDataGUID     = "0FC63DAF-8483-4772-8E79-3D69D8477DE4"
	LVMPartitionGUID       = "E6D6D379-F507-44C2-A23C-238F2A3DF928"
	SolarisRootGUID        = "6A85CF4D-1DD2-11B2-99A6-080020736631"
)

const (
	DefaultSectorSize = 512
	DefaultGrainBytes = 1 * common.MiB

	biosBootSize = 1 * common.MiB
	espSize      = 512 * common.MiB

	// secondary GPT header and entry array at the end of the disk
	gptFooterSize = 1 * common.MiB
)

// VGName is the volume group every ext4/xfs installation lives in.
const VGName = "system"

// PoolName is the root pool of a zfs installation.
const PoolName = "rpool"

// PartitionTable is the planned GPT layout of one target disk.
type PartitionTable struct {
	Device     string // whole-disk device node, e.g. /dev/sda
	Size       uint64 // usable size of the disk in bytes
	UUID       string
	SectorSize uint64
	Partitions []Partition
}

// Partition is one planned GPT entry. Start and Size are in bytes.
type Partition struct {
	Start    uint64
	Size     uint64
	Type     string // GPT type GUID
	Bootable bool
	UUID     string
	Name     string
	Payload  *Filesystem
}

// Filesystem describes the payload a partition or logical volume gets
// formatted with, plus its fstab fields.
type Filesystem struct {
	Type       string // mkfs type, e.g. vfat, ext4, swap
	UUID       string
	Label      string
	Mountpoint string
	// fields four to six of fstab(5)
	FSTabOptions string
	FSTabFreq    uint64
	FSTabPassNo  uint64
}

// VolumeGroup is the planned LVM setup of an ext4/xfs installation.
type VolumeGroup struct {
	Name    string
	PVs     []string // payload partition device nodes
	Volumes []LogicalVolume
}

// Device returns the mapped device node of a logical volume.
func (vg *VolumeGroup) Device(lv string) string {
	return "/dev/" + vg.Name + "/" + lv
}

// LogicalVolume is one planned LV. Size is in bytes.
type LogicalVolume struct {
	Name     string
	Size     uint64
	ThinPool bool
	Payload  *Filesystem
}

// Pool is the planned zfs pool or btrfs filesystem spanning the payload
// partitions of all target disks.
type Pool struct {
	Name    string
	Raid    RaidLevel
	Members []string // payload partition device nodes
	Root    *Filesystem
}

// Layout is the complete partitioning and filesystem plan of an
// installation. It is produced once by PlanLayout and then only read.
type Layout struct {
	BootType   environment.BootType
	Filesystem FsType
	Tables     []PartitionTable
	VG         *VolumeGroup // ext4 and xfs only
	Pool       *Pool        // zfs and btrfs only
}

// AlignUp aligns size to the next layout grain if it is not aligned already.
func AlignUp(size uint64) uint64 {
	if size%DefaultGrainBytes == 0 {
		return size
	}
	return ((size + DefaultGrainBytes) / DefaultGrainBytes) * DefaultGrainBytes
}

// PartitionDevice returns the device node of the nth partition on disk,
// inserting the "p" separator kernels use for devices ending in a digit.
func PartitionDevice(disk string, n int) string {
	if len(disk) > 0 && disk[len(disk)-1] >= '0' && disk[len(disk)-1] <= '9' {
		return fmt.Sprintf("%sp%d", disk, n)
	}
	return fmt.Sprintf("%s%d", disk, n)
}

// PlanLayout turns a committed configuration into the partition tables,
// volumes and pools the installation steps execute. The configuration must
// already be validated and complete. The rng seeds every generated
// identifier, so equal seeds give equal plans.
func PlanLayout(cfg *Config, env *environment.Snapshot, rng *rand.Rand) (*Layout, error) {
	if cfg.Filesystem == nil {
		return nil, fmt.Errorf("no filesystem configured")
	}
	if len(cfg.TargetDisks) == 0 {
		return nil, fmt.Errorf("no target disk configured")
	}

	layout := &Layout{
		BootType:   env.Runtime.BootType,
		Filesystem: *cfg.Filesystem,
	}

	// pooled filesystems get identical tables on every member, sized to
	// the smallest target disk
	capBytes := uint64(0)
	if hdsize := cfg.hdsize(); hdsize != nil {
		capBytes = common.GiBToBytes(*hdsize)
	}
	smallest := uint64(0)
	for _, path := range cfg.TargetDisks {
		disk, ok := env.FindDisk(path)
		if !ok {
			return nil, fmt.Errorf("disk %s is not present in the environment", path)
		}
		if smallest == 0 || disk.SizeBytes < smallest {
			smallest = disk.SizeBytes
		}
	}

	var payloads []string
	for _, path := range cfg.TargetDisks {
		disk, _ := env.FindDisk(path)

		usable := disk.SizeBytes
		if layout.Filesystem.Pooled() {
			usable = smallest
		}
		if capBytes > 0 && capBytes < usable {
			usable = capBytes
		}

		table, err := planTable(disk, usable, layout.Filesystem)
		if err != nil {
			return nil, err
		}
		layout.Tables = append(layout.Tables, *table)
		payloads = append(payloads, PartitionDevice(disk.Path, len(table.Partitions)))
	}

	switch layout.Filesystem {
	case FsExt4, FsXfs:
		vg, err := planVolumeGroup(cfg, env, payloads[0], layout.Tables[0].Partitions)
		if err != nil {
			return nil, err
		}
		layout.VG = vg
	case FsZfs:
		layout.Pool = &Pool{
			Name:    PoolName,
			Raid:    cfg.Zfs.Raid,
			Members: payloads,
			Root: &Filesystem{
				Type:       "zfs",
				Mountpoint: "/",
			},
		}
	case FsBtrfs:
		layout.Pool = &Pool{
			Name:    "root",
			Raid:    cfg.Btrfs.Raid,
			Members: payloads,
			Root: &Filesystem{
				Type:         "btrfs",
				Label:        "root",
				Mountpoint:   "/",
				FSTabOptions: "defaults",
			},
		}
	}

	layout.GenerateUUIDs(rng)
	return layout, nil
}

// planTable lays out the fixed three-partition scheme on one disk: a
// BIOS boot stub, the ESP and the payload partition filling the rest.
func planTable(disk *environment.Disk, usable uint64, fs FsType) (*PartitionTable, error) {
	sectorSize := disk.LogicalBsize
	if sectorSize == 0 {
		sectorSize = DefaultSectorSize
	}

	header := AlignUp(sectorSize + 128*128) // protective MBR, GPT header, entries
	payloadStart := header + biosBootSize + espSize
	if usable < payloadStart+gptFooterSize+8*common.GiB {
		return nil, fmt.Errorf("disk %s is too small (%s)", disk.Path, common.FormatGiB(usable))
	}

	payloadType := LVMPartitionGUID
	switch fs {
	case FsZfs:
		payloadType = SolarisRootGUID
	case FsBtrfs:
		payloadType = FilesystemDataGUID
	}

	return &PartitionTable{
		Device:     disk.Path,
		Size:       usable,
		SectorSize: sectorSize,
		Partitions: []Partition{
			{
				Start:    header,
				Size:     biosBootSize,
				Type:     BIOSBootPartitionGUID,
				Bootable: true,
				Name:     "bios-boot",
			},
			{
				Start: header + biosBootSize,
				Size:  espSize,
				Type:  EFISystemPartitionGUID,
				Name:  "esp",
				Payload: &Filesystem{
					Type:         "vfat",
					Mountpoint:   "/boot/efi",
					FSTabOptions: "defaults",
					FSTabPassNo:  2,
				},
			},
			{
				Start: payloadStart,
				Size:  usable - payloadStart - gptFooterSize,
				Type:  payloadType,
				Name:  "payload",
			},
		},
	}, nil
}

// planVolumeGroup sizes the swap, root and data volumes inside the payload
// partition. Explicit sizes win, the rest is derived: swap from installed
// memory, root capped at a quarter of the space, a thin data pool from
// whatever remains minus the free reserve.
func planVolumeGroup(cfg *Config, env *environment.Snapshot, pv string, parts []Partition) (*VolumeGroup, error) {
	availGiB := common.BytesToGiB(parts[len(parts)-1].Size)

	lvm := cfg.Lvm
	if lvm == nil {
		lvm = &LvmOptions{}
	}

	swapGiB := clampGiB(float64(env.Runtime.TotalMemoryMiB)/1024, 1, 8)
	if swapGiB > availGiB/8 {
		swapGiB = availGiB / 8
	}
	if lvm.SwapsizeGiB != nil {
		swapGiB = *lvm.SwapsizeGiB
	}

	rootGiB := availGiB / 4
	if lvm.MaxrootGiB != nil && *lvm.MaxrootGiB < rootGiB {
		rootGiB = *lvm.MaxrootGiB
	}

	minfreeGiB := availGiB / 8
	if availGiB > 128 {
		minfreeGiB = 16
	}
	if lvm.MinfreeGiB != nil {
		minfreeGiB = *lvm.MinfreeGiB
	}

	dataGiB := availGiB - swapGiB - rootGiB - minfreeGiB
	if lvm.MaxvzGiB != nil && *lvm.MaxvzGiB < dataGiB {
		dataGiB = *lvm.MaxvzGiB
	}

	if swapGiB+rootGiB > availGiB {
		return nil, fmt.Errorf("volumes exceed the payload partition (%.2f GiB)", availGiB)
	}

	rootType := "ext4"
	rootOptions := "errors=remount-ro"
	if *cfg.Filesystem == FsXfs {
		rootType = "xfs"
		rootOptions = "defaults"
	}

	vg := &VolumeGroup{
		Name: VGName,
		PVs:  []string{pv},
		Volumes: []LogicalVolume{
			{
				Name: "swap",
				Size: common.GiBToBytes(swapGiB),
				Payload: &Filesystem{
					Type:         "swap",
					FSTabOptions: "sw",
				},
			},
			{
				Name: "root",
				Size: common.GiBToBytes(rootGiB),
				Payload: &Filesystem{
					Type:         rootType,
					Mountpoint:   "/",
					FSTabOptions: rootOptions,
					FSTabPassNo:  1,
				},
			},
		},
	}

	// a data pool below 4 GiB is not worth carving out
	if dataGiB >= 4 {
		vg.Volumes = append(vg.Volumes, LogicalVolume{
			Name:     "data",
			Size:     common.GiBToBytes(dataGiB),
			ThinPool: true,
		})
	}

	return vg, nil
}

func clampGiB(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// GenerateUUIDs fills in every identifier the plan still misses: table and
// partition UUIDs, filesystem UUIDs and the vfat serial of the ESP.
// Existing values are kept.
func (l *Layout) GenerateUUIDs(rng *rand.Rand) {
	for i := range l.Tables {
		table := &l.Tables[i]
		if table.UUID == "" {
			table.UUID = uuid.Must(newRandomUUIDFromReader(rng)).String()
		}
		for j := range table.Partitions {
			part := &table.Partitions[j]
			if part.UUID == "" {
				part.UUID = uuid.Must(newRandomUUIDFromReader(rng)).String()
			}
			if part.Payload == nil || part.Payload.UUID != "" {
				continue
			}
			if part.Payload.Type == "vfat" {
				part.Payload.UUID = newVfatSerial(rng)
			} else {
				part.Payload.UUID = uuid.Must(newRandomUUIDFromReader(rng)).String()
			}
		}
	}
	if l.VG != nil {
		for i := range l.VG.Volumes {
			fs := l.VG.Volumes[i].Payload
			if fs != nil && fs.UUID == "" {
				fs.UUID = uuid.Must(newRandomUUIDFromReader(rng)).String()
			}
		}
	}
	if l.Pool != nil && l.Pool.Root.UUID == "" {
		l.Pool.Root.UUID = uuid.Must(newRandomUUIDFromReader(rng)).String()
	}
}

func newRandomUUIDFromReader(r io.Reader) (uuid.UUID, error) {
	var id uuid.UUID
	_, err := io.ReadFull(r, id[:])
	if err != nil {
		return uuid.Nil, err
	}
	id[6] = (id[6] & 0x0f) | 0x40 // Version 4
	id[8] = (id[8] & 0x3f) | 0x80 // Variant is 10
	return id, nil
}

func newVfatSerial(rng *rand.Rand) string {
	serial := rng.Uint32()
	return fmt.Sprintf("%04X-%04X", serial>>16, serial&0xffff)
}

// SfdiskScript renders the table in sfdisk(8) input format, sectors
// throughout.
func (pt *PartitionTable) SfdiskScript() string {
	sectorSize := pt.SectorSize
	if sectorSize == 0 {
		sectorSize = DefaultSectorSize
	}

	var b strings.Builder
	b.WriteString("label: gpt\n")
	fmt.Fprintf(&b, "label-id: %s\n", pt.UUID)
	b.WriteString("unit: sectors\n\n")

	for _, part := range pt.Partitions {
		fmt.Fprintf(&b, "start=%d, size=%d, type=%s, uuid=%s, name=\"%s\"",
			part.Start/sectorSize, part.Size/sectorSize, part.Type, part.UUID, part.Name)
		if part.Bootable {
			b.WriteString(", attrs=\"LegacyBIOSBootable\"")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// RootDevice returns the device node or dataset the root filesystem lives
// on once the format step ran.
func (l *Layout) RootDevice() string {
	switch l.Filesystem {
	case FsExt4, FsXfs:
		return l.VG.Device("root")
	case FsZfs:
		return l.Pool.Name + "/ROOT"
	default:
		return l.Pool.Members[0]
	}
}

// ESPDevices lists the EFI system partition of every target disk.
func (l *Layout) ESPDevices() []string {
	var devices []string
	for _, table := range l.Tables {
		for i, part := range table.Partitions {
			if part.Type == EFISystemPartitionGUID {
				devices = append(devices, PartitionDevice(table.Device, i+1))
			}
		}
	}
	return devices
}

// FSTab renders the fstab of the installed system. Entries are ordered
// root first, then swap, then the ESP on EFI systems. A zfs root mounts
// itself through the initrd and gets no root line.
func (l *Layout) FSTab() string {
	var b strings.Builder
	b.WriteString("# <file system> <mount point> <type> <options> <dump> <pass>\n")

	switch l.Filesystem {
	case FsExt4, FsXfs:
		root := l.rootVolume()
		fmt.Fprintf(&b, "%s / %s %s %d %d\n",
			l.VG.Device("root"), root.Type, root.FSTabOptions, root.FSTabFreq, root.FSTabPassNo)
		swap := l.swapVolume()
		fmt.Fprintf(&b, "%s none swap %s 0 0\n", l.VG.Device("swap"), swap.FSTabOptions)
	case FsBtrfs:
		fmt.Fprintf(&b, "UUID=%s / btrfs %s 0 0\n", l.Pool.Root.UUID, l.Pool.Root.FSTabOptions)
	}

	if l.BootType == environment.BootTypeEfi {
		for _, table := range l.Tables {
			for _, part := range table.Partitions {
				if part.Payload != nil && part.Payload.Type == "vfat" {
					fmt.Fprintf(&b, "UUID=%s %s vfat %s %d %d\n",
						part.Payload.UUID, part.Payload.Mountpoint,
						part.Payload.FSTabOptions, part.Payload.FSTabFreq, part.Payload.FSTabPassNo)
					break
				}
			}
			break
		}
	}

	b.WriteString("proc /proc proc defaults 0 0\n")
	return b.String()
}

func (l *Layout) rootVolume() *Filesystem {
	for i := range l.VG.Volumes {
		if l.VG.Volumes[i].Name == "root" {
			return l.VG.Volumes[i].Payload
		}
	}
	return nil
}

func (l *Layout) swapVolume() *Filesystem {
	for i := range l.VG.Volumes {
		if l.VG.Volumes[i].Name == "swap" {
			return l.VG.Volumes[i].Payload
		}
	}
	return nil
}
