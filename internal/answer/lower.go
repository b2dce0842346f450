package answer

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/osinstall/osinstall/internal/common"
	"github.com/osinstall/osinstall/internal/environment"
	"github.com/osinstall/osinstall/internal/install"
)

// ConfigArgs lowers the answer into the argument payload of one configure
// command, resolving disk and interface filters against the snapshot. The
// session applies and validates the result like any interactive command.
func (a *Answer) ConfigArgs(env *environment.Snapshot) (*install.ConfigArgs, error) {
	args := &install.ConfigArgs{}

	if a.Global.Locale != "" {
		args.Locale = common.ToPtr(a.Global.Locale)
	}
	if a.Global.Country != "" {
		args.Country = common.ToPtr(a.Global.Country)
	}
	if a.Global.Timezone != "" {
		args.Timezone = common.ToPtr(a.Global.Timezone)
	}
	if a.Global.Keymap != "" {
		args.Keymap = common.ToPtr(a.Global.Keymap)
	}

	host, domain := splitFQDN(a.Global.FQDN)
	args.Hostname = common.ToPtr(host)
	args.Domain = common.ToPtr(domain)

	if a.Global.Mailto != "" {
		args.Mailto = common.ToPtr(a.Global.Mailto)
	}
	if a.Global.RootPassword != "" {
		args.RootPassword = common.ToPtr(a.Global.RootPassword)
	}
	if a.Global.RootPasswordHashed != "" {
		args.RootPasswordHashed = common.ToPtr(a.Global.RootPasswordHashed)
	}
	args.RootSSHKeys = append([]string(nil), a.Global.RootSSHKeys...)
	args.Autoreboot = common.ToPtr(a.Global.Autoreboot)

	disks, err := a.DiskSetup.resolveDisks(env)
	if err != nil {
		return nil, err
	}
	args.Disks = disks
	args.Filesystem = common.ToPtr(a.DiskSetup.Filesystem)
	args.Zfs = a.DiskSetup.Zfs
	args.Lvm = a.DiskSetup.Lvm
	args.Btrfs = a.DiskSetup.Btrfs
	if a.DiskSetup.ExistingStorageAutoRename {
		args.ExistingStorageAutoRename = common.ToPtr(true)
	}

	network, err := a.Network.resolve(env)
	if err != nil {
		return nil, err
	}
	args.Network = network

	if a.FirstBoot != nil && a.FirstBoot.Enabled {
		args.FirstBoot = &install.FirstBootConfig{
			Enabled:  true,
			Ordering: a.FirstBoot.Ordering,
			Source:   a.FirstBoot.Source,
		}
	}
	return args, nil
}

// diskProperties are the filterable facts of a block device.
func diskProperties(d *environment.Disk) map[string]string {
	return map[string]string{
		"path":     d.Path,
		"devname":  filepath.Base(d.Path),
		"model":    d.Model,
		"sys_path": d.SysPath,
	}
}

func interfaceProperties(i *environment.Interface) map[string]string {
	return map[string]string{
		"name":  i.Name,
		"mac":   i.MAC,
		"state": i.State,
	}
}

type compiledFilter struct {
	property string
	pattern  glob.Glob
}

// compileFilters builds the glob matchers, in stable property order.
// Property names are checked against the known set so a typo fails the
// whole answer instead of silently matching nothing.
func compileFilters(filter map[string]string, known map[string]string) ([]compiledFilter, error) {
	properties := make([]string, 0, len(filter))
	for property := range filter {
		if _, ok := known[property]; !ok {
			options := make([]string, 0, len(known))
			for name := range known {
				options = append(options, name)
			}
			sort.Strings(options)
			return nil, fmt.Errorf("unknown filter property %q, expected one of %s", property, strings.Join(options, ", "))
		}
		properties = append(properties, property)
	}
	sort.Strings(properties)

	compiled := make([]compiledFilter, 0, len(properties))
	for _, property := range properties {
		pattern, err := glob.Compile(filter[property])
		if err != nil {
			return nil, fmt.Errorf("bad filter pattern %q for %s: %w", filter[property], property, err)
		}
		compiled = append(compiled, compiledFilter{property: property, pattern: pattern})
	}
	return compiled, nil
}

func filtersMatch(filters []compiledFilter, properties map[string]string, match FilterMatch) bool {
	for _, f := range filters {
		hit := f.pattern.Match(properties[f.property])
		if hit && match == FilterAny {
			return true
		}
		if !hit && match == FilterAll {
			return false
		}
	}
	return match == FilterAll
}

// resolveDisks turns the disk selection into device paths. List entries may
// name a disk by path or by bare device name. Filters select from the
// snapshot; for single-disk filesystems the first match wins.
func (d *DiskSetup) resolveDisks(env *environment.Snapshot) ([]string, error) {
	if len(d.DiskList) > 0 {
		paths := make([]string, 0, len(d.DiskList))
		for _, name := range d.DiskList {
			disk, ok := findDiskByName(env, name)
			if !ok {
				return nil, fmt.Errorf("disk %q is not present in the environment", name)
			}
			paths = append(paths, disk.Path)
		}
		return paths, nil
	}

	filters, err := compileFilters(d.Filter, diskProperties(&environment.Disk{}))
	if err != nil {
		return nil, err
	}

	var matched []string
	for i := range env.Runtime.Disks {
		disk := &env.Runtime.Disks[i]
		if filtersMatch(filters, diskProperties(disk), d.FilterMatch) {
			matched = append(matched, disk.Path)
		}
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("no disk matches the configured filter")
	}
	if !d.Filesystem.Pooled() {
		matched = matched[:1]
	}
	return matched, nil
}

func findDiskByName(env *environment.Snapshot, name string) (*environment.Disk, bool) {
	if disk, ok := env.FindDisk(name); ok {
		return disk, true
	}
	for i := range env.Runtime.Disks {
		if filepath.Base(env.Runtime.Disks[i].Path) == name {
			return &env.Runtime.Disks[i], true
		}
	}
	return nil, false
}

// resolve picks the target interface and builds the network configuration.
func (n *Network) resolve(env *environment.Snapshot) (*install.NetworkConfig, error) {
	if n.Source == NetworkFromDhcp {
		return &install.NetworkConfig{Mode: install.NetworkDhcp}, nil
	}

	filters, err := compileFilters(n.Filter, interfaceProperties(&environment.Interface{}))
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(env.Runtime.Network.Interfaces))
	for name := range env.Runtime.Network.Interfaces {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		iface := env.Runtime.Network.Interfaces[name]
		if filtersMatch(filters, interfaceProperties(&iface), FilterAll) {
			return &install.NetworkConfig{
				Mode:      install.NetworkStatic,
				Interface: iface.Name,
				CIDR:      n.CIDR,
				Gateway:   n.Gateway,
				DNS:       n.DNS,
			}, nil
		}
	}
	return nil, fmt.Errorf("no interface matches the configured filter")
}
