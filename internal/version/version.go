package version

// Version is set at build time using ldflags:
// -ldflags "-X github.com/tradeforge-lab/tradeforge/internal/version.Version=1.2.3"
// The default value indicates a development build.
var Version = "dev"

// GetVersion returns the current build version.
func GetVersion() string {
	return Version
}
