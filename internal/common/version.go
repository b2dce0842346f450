package common

import "runtime/debug"

// Version of the installer backend. The UI reads this from query-state
// responses; bump it together with the protocol or document formats.
const Version = "1.2.0"

var (
	// Git SHA commit (only first few characters)
	BuildCommit string

	// Build date and time
	BuildTime string

	// BuildGoVersion carries Go version the binary was built with
	BuildGoVersion string
)

func init() {
	BuildTime = "N/A"
	BuildCommit = "HEAD"

	if bi, ok := debug.ReadBuildInfo(); ok {
		BuildGoVersion = bi.GoVersion

		for _, bs := range bi.Settings {
			switch bs.Key {
			case "vcs.revision":
				if len(bs.Value) > 6 {
					BuildCommit = bs.Value[0:6]
				}
			case "vcs.time":
				BuildTime = bs.Value
			}
		}
	}
}

// VersionString returns the version together with build metadata, e.g.
// "1.2.0 (HEAD, N/A)".
func VersionString() string {
	return Version + " (" + BuildCommit + ", " + BuildTime + ")"
}
