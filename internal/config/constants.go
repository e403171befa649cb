package config

// Application constants
const (
	AppName = "Pmax Tools"

	// APIPrefix is where the Pmax routes are mounted
	APIPrefix = "/api/pmax"
)

// AppVersion is overridden at build time with -ldflags "-X pmaxtools/internal/config.AppVersion=..."
var AppVersion = "dev"
