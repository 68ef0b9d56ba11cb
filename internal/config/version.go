package config

// Version is the reqtrail binary version.
// Set at build time via: -ldflags "-X github.com/reqtrail/reqtrail/internal/config.Version=<tag>"
// Defaults to "dev" when built without ldflags.
var Version = "dev"
