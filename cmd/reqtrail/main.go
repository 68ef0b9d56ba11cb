// Command reqtrail is the operational binary for the audit-trail
// engine: `serve` runs the read API over recorded requests and changes,
// `flush` runs the retention sweep (the scheduled cleanup job).
package main

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/reqtrail/reqtrail/internal/config"
	"github.com/reqtrail/reqtrail/internal/registry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "reqtrail",
		Short:        "Request-scoped audit trail for persisted domain objects",
		Version:      config.Version,
		SilenceUsage: true,
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newFlushCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger from the configured level.
func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	return log
}

// registryFromConfig builds the minimal registry the operational binary
// needs: type descriptors carrying the permanently retained field
// declarations for the exclusion-aware sweep. Applications embedding
// the engine register their full descriptors in code instead.
func registryFromConfig(cfg *config.Config) *registry.Registry {
	reg := registry.New()

	for key, fields := range cfg.PermanentLogFields {
		app, name, ok := strings.Cut(key, ".")
		if !ok {
			app, name = "app", key
		}
		reg.MustRegister(&registry.Descriptor{
			App:             app,
			Name:            name,
			PermanentFields: fields,
		})
	}

	return reg.WithoutDisabled(cfg.DisabledModels)
}
