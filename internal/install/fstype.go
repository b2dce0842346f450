package install

import (
	"fmt"

	"github.com/osinstall/osinstall/internal/common"
)

// FsType is the root filesystem an installation creates.
type FsType int

const (
	FsExt4 FsType = iota
	FsXfs
	FsZfs
	FsBtrfs
)

func getFsTypeMapping() map[string]int {
	return map[string]int{
		"ext4":  int(FsExt4),
		"xfs":   int(FsXfs),
		"zfs":   int(FsZfs),
		"btrfs": int(FsBtrfs),
	}
}

func (f FsType) String() string {
	s, ok := common.EnumToString(getFsTypeMapping(), int(f))
	if !ok {
		panic("invalid filesystem type value")
	}
	return s
}

func (f FsType) MarshalJSON() ([]byte, error) {
	return common.MarshalEnum(int(f), getFsTypeMapping(), "is not a valid filesystem type value")
}

func (f *FsType) UnmarshalJSON(data []byte) error {
	value, err := common.UnmarshalEnum(data, " is not a valid filesystem type string", " is not a valid filesystem type", getFsTypeMapping())
	if err != nil {
		return err
	}
	*f = FsType(value)
	return nil
}

func (f FsType) MarshalText() ([]byte, error) {
	s, ok := common.EnumToString(getFsTypeMapping(), int(f))
	if !ok {
		return nil, fmt.Errorf("%d is not a valid filesystem type", int(f))
	}
	return []byte(s), nil
}

func (f *FsType) UnmarshalText(data []byte) error {
	value, ok := common.EnumFromString(getFsTypeMapping(), string(data))
	if !ok {
		return fmt.Errorf("%q is not a valid filesystem type", string(data))
	}
	*f = FsType(value)
	return nil
}

// Pooled tells whether the filesystem manages the member disks itself
// instead of sitting on a single logical volume.
func (f FsType) Pooled() bool {
	return f == FsZfs || f == FsBtrfs
}

// RaidLevel is the redundancy profile of a pooled filesystem.
type RaidLevel int

const (
	Raid0 RaidLevel = iota
	Raid1
	Raid10
	RaidZ1
	RaidZ2
	RaidZ3
)

func getRaidLevelMapping() map[string]int {
	return map[string]int{
		"raid0":   int(Raid0),
		"raid1":   int(Raid1),
		"raid10":  int(Raid10),
		"raidz-1": int(RaidZ1),
		"raidz-2": int(RaidZ2),
		"raidz-3": int(RaidZ3),
	}
}

func (r RaidLevel) String() string {
	s, ok := common.EnumToString(getRaidLevelMapping(), int(r))
	if !ok {
		panic("invalid raid level value")
	}
	return s
}

func (r RaidLevel) MarshalJSON() ([]byte, error) {
	return common.MarshalEnum(int(r), getRaidLevelMapping(), "is not a valid raid level value")
}

func (r *RaidLevel) UnmarshalJSON(data []byte) error {
	value, err := common.UnmarshalEnum(data, " is not a valid raid level string", " is not a valid raid level", getRaidLevelMapping())
	if err != nil {
		return err
	}
	*r = RaidLevel(value)
	return nil
}

func (r RaidLevel) MarshalText() ([]byte, error) {
	s, ok := common.EnumToString(getRaidLevelMapping(), int(r))
	if !ok {
		return nil, fmt.Errorf("%d is not a valid raid level", int(r))
	}
	return []byte(s), nil
}

func (r *RaidLevel) UnmarshalText(data []byte) error {
	value, ok := common.EnumFromString(getRaidLevelMapping(), string(data))
	if !ok {
		return fmt.Errorf("%q is not a valid raid level", string(data))
	}
	*r = RaidLevel(value)
	return nil
}

// MinDisks is the smallest member count the level works with.
func (r RaidLevel) MinDisks() int {
	switch r {
	case Raid0:
		return 1
	case Raid1:
		return 2
	case Raid10:
		return 4
	case RaidZ1:
		return 3
	case RaidZ2:
		return 4
	case RaidZ3:
		return 5
	default:
		return 1
	}
}

// zfsOnly levels cannot be used with btrfs.
func (r RaidLevel) zfsOnly() bool {
	return r == RaidZ1 || r == RaidZ2 || r == RaidZ3
}
