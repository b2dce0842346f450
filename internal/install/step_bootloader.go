package install

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/osinstall/osinstall/internal/environment"
)

// bootloaderStep installs grub for the boot type the machine came up with.
// Not idempotent: on EFI every run adds another NVRAM boot entry, so a
// failed run must not be retried blindly.
type bootloaderStep struct{}

func (s *bootloaderStep) Name() string      { return StepBootloader }
func (s *bootloaderStep) Destructive() bool { return true }
func (s *bootloaderStep) Idempotent() bool  { return false }

func (s *bootloaderStep) Run(ctx context.Context, e *Executor) (string, error) {
	if e.layout == nil {
		return "", Preconditionf("no layout planned, select-disk did not run")
	}

	e.BeginDestructive()

	for _, dir := range []string{"dev", "proc", "sys"} {
		if _, err := e.run(ctx, "mount", "--bind", "/"+dir, filepath.Join(e.TargetDir, dir)); err != nil {
			return "", err
		}
	}

	switch e.layout.BootType {
	case environment.BootTypeEfi:
		esp := e.layout.ESPDevices()[0]
		if _, err := e.run(ctx, "mount", esp, filepath.Join(e.TargetDir, "boot", "efi")); err != nil {
			return "", err
		}
		e.emitProgress(StepBootloader, 0.3, "installing grub (efi)")
		if _, err := e.run(ctx, "chroot", e.TargetDir,
			"grub-install", "--target=x86_64-efi",
			"--efi-directory=/boot/efi",
			"--bootloader-id="+e.Env.Product.Product); err != nil {
			return "", err
		}
	default:
		e.emitProgress(StepBootloader, 0.3, "installing grub (bios)")
		for _, table := range e.layout.Tables {
			if _, err := e.run(ctx, "chroot", e.TargetDir,
				"grub-install", "--target=i386-pc", table.Device); err != nil {
				return "", err
			}
		}
	}

	e.emitProgress(StepBootloader, 0.8, "generating grub config")
	if _, err := e.run(ctx, "chroot", e.TargetDir, "grub-mkconfig", "-o", "/boot/grub/grub.cfg"); err != nil {
		return "", err
	}

	return fmt.Sprintf("installed bootloader for %s boot", e.layout.BootType), nil
}
