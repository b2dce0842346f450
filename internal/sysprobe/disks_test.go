package sysprobe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osinstall/osinstall/internal/environment"
)

func TestParseLsblk(t *testing.T) {
	cases := map[string]struct {
		input   string
		want    []environment.Disk
		wantErr bool
	}{
		"modern output": {
			input: `{
				"blockdevices": [
					{"name":"sda", "path":"/dev/sda", "model":"QEMU HARDDISK", "size":85899345920, "log-sec":512, "type":"disk", "ro":false},
					{"name":"sr0", "path":"/dev/sr0", "model":"QEMU DVD-ROM", "size":1073741824, "log-sec":2048, "type":"rom", "ro":true},
					{"name":"zram0", "path":"/dev/zram0", "model":null, "size":4294967296, "log-sec":4096, "type":"disk", "ro":false},
					{"name":"nvme0n1", "path":"/dev/nvme0n1", "model":"Samsung SSD 980 ", "size":500107862016, "log-sec":512, "type":"disk", "ro":false}
				]
			}`,
			want: []environment.Disk{
				{
					Index:        0,
					Path:         "/dev/nvme0n1",
					Model:        "Samsung SSD 980",
					SizeBytes:    500107862016,
					LogicalBsize: 512,
					SysPath:      "/sys/block/nvme0n1",
				},
				{
					Index:        1,
					Path:         "/dev/sda",
					Model:        "QEMU HARDDISK",
					SizeBytes:    85899345920,
					LogicalBsize: 512,
					SysPath:      "/sys/block/sda",
				},
			},
		},
		"legacy output quotes everything": {
			input: `{
				"blockdevices": [
					{"name":"vda", "model":null, "size":"34359738368", "log-sec":"512", "type":"disk", "ro":"0"}
				]
			}`,
			want: []environment.Disk{
				{
					Index:        0,
					Path:         "/dev/vda",
					Model:        "",
					SizeBytes:    34359738368,
					LogicalBsize: 512,
					SysPath:      "/sys/block/vda",
				},
			},
		},
		"read-only disk is skipped": {
			input: `{
				"blockdevices": [
					{"name":"sda", "path":"/dev/sda", "model":"X", "size":1000, "log-sec":512, "type":"disk", "ro":true}
				]
			}`,
			want: nil,
		},
		"zero size is skipped": {
			input: `{
				"blockdevices": [
					{"name":"sdb", "path":"/dev/sdb", "model":"Card Reader", "size":0, "log-sec":512, "type":"disk", "ro":false}
				]
			}`,
			want: nil,
		},
		"missing block size defaults": {
			input: `{
				"blockdevices": [
					{"name":"sdc", "path":"/dev/sdc", "model":"Y", "size":2048, "log-sec":null, "type":"disk", "ro":false}
				]
			}`,
			want: []environment.Disk{
				{
					Index:        0,
					Path:         "/dev/sdc",
					Model:        "Y",
					SizeBytes:    2048,
					LogicalBsize: 512,
					SysPath:      "/sys/block/sdc",
				},
			},
		},
		"garbage": {
			input:   `lsblk: unknown option`,
			wantErr: true,
		},
	}

	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := parseLsblk([]byte(c.input))
			if c.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}
