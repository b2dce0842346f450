package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PartitionLabel marks the block device partition mode looks for.
const PartitionLabel = "OSINSTALL-AIS"

const byLabelDir = "/dev/disk/by-label"

// fetchFromPartition mounts the labeled partition read-only below the run
// directory, reads the answer file and unmounts again.
func (f *Fetcher) fetchFromPartition(ctx context.Context) ([]byte, error) {
	device, err := findLabeledPartition(byLabelDir)
	if err != nil {
		return nil, err
	}
	f.Log.Infof("found answer partition %s", device)

	mountPoint := filepath.Join(f.Locations.Run, "answer-partition")
	if err := os.MkdirAll(mountPoint, 0700); err != nil {
		return nil, fmt.Errorf("cannot create mount point %s: %w", mountPoint, err)
	}

	if _, err := f.Runner.Run(ctx, nil, "mount", "-o", "ro", device, mountPoint); err != nil {
		return nil, fmt.Errorf("mounting answer partition: %w", err)
	}
	defer func() {
		if _, err := f.Runner.Run(ctx, nil, "umount", mountPoint); err != nil {
			f.Log.Warnf("cannot unmount answer partition: %v", err)
		}
	}()

	data, err := os.ReadFile(filepath.Join(mountPoint, AnswerFile))
	if err != nil {
		return nil, fmt.Errorf("reading answer file from partition: %w", err)
	}
	return data, nil
}

// findLabeledPartition scans the by-label directory for the answer label.
// Filesystems differ in how they store label case, so the match ignores it.
func findLabeledPartition(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("scanning %s: %w", dir, err)
	}

	for _, entry := range entries {
		if !strings.EqualFold(entry.Name(), PartitionLabel) {
			continue
		}
		link := filepath.Join(dir, entry.Name())
		device, err := filepath.EvalSymlinks(link)
		if err != nil {
			return "", fmt.Errorf("resolving %s: %w", link, err)
		}
		return device, nil
	}
	return "", fmt.Errorf("no partition labeled %s found", PartitionLabel)
}
