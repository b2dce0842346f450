package install

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/osinstall/osinstall/internal/common"
)

// finalizeStep writes the system configuration into the mounted target and
// unmounts it. Everything here lands on the already formatted root
// filesystem, the disks themselves stay as they are.
type finalizeStep struct{}

func (s *finalizeStep) Name() string      { return StepFinalize }
func (s *finalizeStep) Destructive() bool { return false }
func (s *finalizeStep) Idempotent() bool  { return true }

func (s *finalizeStep) Run(ctx context.Context, e *Executor) (string, error) {
	if e.layout == nil {
		return "", Preconditionf("no layout planned, select-disk did not run")
	}
	cfg := e.Config

	e.emitProgress(StepFinalize, 0.1, "writing system configuration")
	if err := writeTargetFile(e.TargetDir, "etc/fstab", []byte(e.layout.FSTab()), 0644); err != nil {
		return "", err
	}
	if err := writeTargetFile(e.TargetDir, "etc/hostname", []byte(cfg.Hostname+"\n"), 0644); err != nil {
		return "", err
	}
	if err := writeTargetFile(e.TargetDir, "etc/hosts", []byte(renderHosts(cfg)), 0644); err != nil {
		return "", err
	}
	if err := writeTargetFile(e.TargetDir, "etc/resolv.conf", []byte(renderResolvConf(e)), 0644); err != nil {
		return "", err
	}
	if cfg.Network != nil {
		network := renderNetworkUnit(cfg.Network)
		if err := writeTargetFile(e.TargetDir, "etc/systemd/network/10-installer.network", []byte(network), 0644); err != nil {
			return "", err
		}
	}

	if err := writeTargetFile(e.TargetDir, "etc/vconsole.conf", []byte("KEYMAP="+cfg.Keymap+"\n"), 0644); err != nil {
		return "", err
	}
	if err := writeTargetFile(e.TargetDir, "etc/timezone", []byte(cfg.Timezone+"\n"), 0644); err != nil {
		return "", err
	}
	if err := forceSymlink("/usr/share/zoneinfo/"+cfg.Timezone, filepath.Join(e.TargetDir, "etc/localtime")); err != nil {
		return "", err
	}

	if cfg.Filesystem != nil && *cfg.Filesystem == FsZfs && cfg.Zfs.ArcMaxMiB > 0 {
		arc := fmt.Sprintf("options zfs zfs_arc_max=%d\n", cfg.Zfs.ArcMaxMiB*common.MiB)
		if err := writeTargetFile(e.TargetDir, "etc/modprobe.d/zfs.conf", []byte(arc), 0644); err != nil {
			return "", err
		}
	}

	e.emitProgress(StepFinalize, 0.4, "setting up root account")
	if err := s.configureRootAccount(ctx, e); err != nil {
		return "", err
	}

	if cfg.FirstBoot != nil && cfg.FirstBoot.Enabled {
		e.emitProgress(StepFinalize, 0.6, "installing first-boot hook")
		if err := s.installFirstBootHook(e); err != nil {
			return "", err
		}
	}

	e.emitProgress(StepFinalize, 0.8, "unmounting target")
	if _, err := e.run(ctx, "sync"); err != nil {
		return "", err
	}
	if _, err := e.run(ctx, "umount", "--recursive", e.TargetDir); err != nil {
		return "", err
	}
	if e.layout.Filesystem == FsZfs {
		if _, err := e.run(ctx, "zpool", "export", e.layout.Pool.Name); err != nil {
			return "", err
		}
	}

	return "target configured and unmounted", nil
}

func (s *finalizeStep) configureRootAccount(ctx context.Context, e *Executor) error {
	cfg := e.Config

	var line string
	args := []string{e.TargetDir, "chpasswd"}
	if cfg.RootPasswordHashed != "" {
		line = "root:" + cfg.RootPasswordHashed + "\n"
		args = append(args, "-e")
	} else {
		line = "root:" + cfg.RootPassword + "\n"
	}
	if _, err := e.Runner.Run(ctx, strings.NewReader(line), "chroot", args...); err != nil {
		return err
	}

	if len(cfg.RootSSHKeys) == 0 {
		return nil
	}
	sshDir := filepath.Join(e.TargetDir, "root", ".ssh")
	if err := os.MkdirAll(sshDir, 0700); err != nil {
		return err
	}
	keys := strings.Join(cfg.RootSSHKeys, "\n") + "\n"
	return os.WriteFile(filepath.Join(sshDir, "authorized_keys"), []byte(keys), 0600)
}

func (s *finalizeStep) installFirstBootHook(e *Executor) error {
	cfg := e.Config.FirstBoot

	script, err := os.ReadFile(cfg.Source)
	if err != nil {
		return err
	}
	if err := writeTargetFile(e.TargetDir, "usr/local/sbin/firstboot", script, 0755); err != nil {
		return err
	}

	unit := renderFirstBootUnit(cfg.Ordering)
	if err := writeTargetFile(e.TargetDir, "etc/systemd/system/firstboot.service", []byte(unit), 0644); err != nil {
		return err
	}

	// enable without a running systemd inside the chroot
	wants := filepath.Join(e.TargetDir, "etc/systemd/system/multi-user.target.wants/firstboot.service")
	return forceSymlink("/etc/systemd/system/firstboot.service", wants)
}

func renderHosts(cfg *Config) string {
	fqdn := cfg.Hostname + "." + cfg.Domain

	addr := "127.0.1.1"
	if cfg.Network != nil && cfg.Network.Mode == NetworkStatic {
		if prefix, err := netip.ParsePrefix(cfg.Network.CIDR); err == nil {
			addr = prefix.Addr().String()
		}
	}

	var b strings.Builder
	b.WriteString("127.0.0.1 localhost\n")
	fmt.Fprintf(&b, "%s %s %s\n", addr, fqdn, cfg.Hostname)
	b.WriteString("\n::1 localhost ip6-localhost ip6-loopback\n")
	b.WriteString("ff02::1 ip6-allnodes\n")
	b.WriteString("ff02::2 ip6-allrouters\n")
	return b.String()
}

func renderResolvConf(e *Executor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "search %s\n", e.Config.Domain)

	if e.Config.Network != nil && e.Config.Network.DNS != "" {
		fmt.Fprintf(&b, "nameserver %s\n", e.Config.Network.DNS)
		return b.String()
	}
	for _, server := range e.Env.Runtime.Network.DNS.Servers {
		fmt.Fprintf(&b, "nameserver %s\n", server)
	}
	return b.String()
}

func renderNetworkUnit(network *NetworkConfig) string {
	var b strings.Builder
	b.WriteString("[Match]\n")
	if network.Interface != "" {
		fmt.Fprintf(&b, "Name=%s\n", network.Interface)
	} else {
		b.WriteString("Name=*\n")
	}
	b.WriteString("\n[Network]\n")

	if network.Mode == NetworkDhcp {
		b.WriteString("DHCP=yes\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Address=%s\n", network.CIDR)
	if network.Gateway != "" {
		fmt.Fprintf(&b, "Gateway=%s\n", network.Gateway)
	}
	if network.DNS != "" {
		fmt.Fprintf(&b, "DNS=%s\n", network.DNS)
	}
	return b.String()
}

func renderFirstBootUnit(ordering FirstBootOrdering) string {
	var b strings.Builder
	b.WriteString("[Unit]\n")
	b.WriteString("Description=First boot hook\n")
	b.WriteString("ConditionPathExists=/usr/local/sbin/firstboot\n")
	switch ordering {
	case FirstBootBeforeNetwork:
		fmt.Fprintf(&b, "Before=%s\n", ordering.SystemdTarget())
	case FirstBootNetworkOnline:
		fmt.Fprintf(&b, "After=%s\nWants=%s\n", ordering.SystemdTarget(), ordering.SystemdTarget())
	default:
		fmt.Fprintf(&b, "After=%s\n", ordering.SystemdTarget())
	}
	b.WriteString("\n[Service]\n")
	b.WriteString("Type=oneshot\n")
	b.WriteString("ExecStart=/usr/local/sbin/firstboot\n")
	b.WriteString("ExecStartPost=/bin/systemctl disable firstboot.service\n")
	b.WriteString("\n[Install]\n")
	b.WriteString("WantedBy=multi-user.target\n")
	return b.String()
}

func writeTargetFile(targetDir, rel string, content []byte, perm os.FileMode) error {
	path := filepath.Join(targetDir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, content, perm)
}

func forceSymlink(oldname, newname string) error {
	if err := os.MkdirAll(filepath.Dir(newname), 0755); err != nil {
		return err
	}
	if err := os.Remove(newname); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Symlink(oldname, newname)
}
