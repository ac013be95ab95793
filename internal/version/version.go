// Package version exposes the wpsgate build identity, injected with
//
//	-ldflags "-X github.com/avaropoint/wpsgate/internal/version.Version=..."
package version

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// String formats the version for banners and user agents.
func String() string {
	return "wpsgate/" + Version + " (built " + BuildTime + ")"
}
