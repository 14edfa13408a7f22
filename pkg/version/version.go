package version

// Set at build time with -ldflags "-X github.com/Honjitsu-Seiten/SeitenBot2/pkg/version.Version=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String returns the one-line version banner printed by the CLI.
func String() string {
	return Version + " (" + GitCommit + ", built " + BuildTime + ")"
}
