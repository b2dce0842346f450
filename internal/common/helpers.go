package common

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Binary size units.
const (
	KiB = uint64(1) << 10
	MiB = uint64(1) << 20
	GiB = uint64(1) << 30
	TiB = uint64(1) << 40
)

// IsStringInSortedSlice returns true if the string is present, false if not
// slice must be sorted
func IsStringInSortedSlice(slice []string, s string) bool {
	i := sort.SearchStrings(slice, s)
	if i < len(slice) && slice[i] == s {
		return true
	}
	return false
}

// DataSizeToUint64 converts a size string like "1 GiB" into bytes. Accepted
// units are the decimal kB/MB/GB/TB and the binary KiB/MiB/GiB/TiB; a bare
// number is taken as bytes. This is the format /proc/meminfo and friends use.
func DataSizeToUint64(size string) (uint64, error) {
	size = strings.TrimSpace(size)

	digits := "0123456789"
	numberEnd := 0
	for numberEnd < len(size) && strings.ContainsRune(digits, rune(size[numberEnd])) {
		numberEnd++
	}
	if numberEnd == 0 {
		return 0, fmt.Errorf("the size string doesn't start with a number: %q", size)
	}

	number, err := strconv.ParseUint(size[:numberEnd], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse size %q: %v", size, err)
	}

	switch strings.TrimSpace(size[numberEnd:]) {
	case "":
		return number, nil
	case "kB":
		return number * 1000, nil
	case "MB":
		return number * 1000 * 1000, nil
	case "GB":
		return number * 1000 * 1000 * 1000, nil
	case "TB":
		return number * 1000 * 1000 * 1000 * 1000, nil
	case "KiB":
		return number * KiB, nil
	case "MiB":
		return number * MiB, nil
	case "GiB":
		return number * GiB, nil
	case "TiB":
		return number * TiB, nil
	default:
		return 0, fmt.Errorf("unknown data size units in string: %q", size)
	}
}

// BytesToGiB converts bytes to GiB rounded to two decimal places, the unit
// the configuration and the UI use for disk sizes.
func BytesToGiB(bytes uint64) float64 {
	return math.Round(float64(bytes)/float64(GiB)*100) / 100
}

// GiBToBytes converts a GiB quantity from the configuration into bytes.
func GiBToBytes(gib float64) uint64 {
	return uint64(gib * float64(GiB))
}

// FormatGiB renders a byte count for humans, e.g. "80.00 GiB".
func FormatGiB(bytes uint64) string {
	return fmt.Sprintf("%.2f GiB", BytesToGiB(bytes))
}
