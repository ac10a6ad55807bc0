// Command arcgis-extract downloads features from ArcGIS REST services.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/arcgis-rest-client/pkg/config"
	"github.com/Sternrassler/arcgis-rest-client/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// errIncomplete marks runs where at least one layer failed or was partial.
var errIncomplete = errors.New("extraction incomplete")

// globals holds state shared by all subcommands.
type globals struct {
	configPath string
	logLevel   string
	pretty     bool

	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "arcgis-extract",
		Short: "Extract features from ArcGIS REST layers",
		Long: `arcgis-extract downloads every feature of ArcGIS MapServer and
FeatureServer layers, using object id batching where the server supports it
and offset paging otherwise.

Configuration is read from a YAML file (--config) and ARCGIS_* environment
variables, e.g. ARCGIS_HTTP_REQUESTS_PER_SECOND=5.

Examples:
  arcgis-extract run --config sources.yaml           # extract all enabled sources
  arcgis-extract run --config sources.yaml nr        # extract source "nr" only
  arcgis-extract fetch https://host/arcgis/rest/services/X/FeatureServer/0 --sweep on
  arcgis-extract probe https://host/arcgis/rest/services/X/FeatureServer/0
  arcgis-extract layers https://host/arcgis/rest/services/X/MapServer`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.load(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", os.Getenv("ARCGIS_CONFIG"), "Config file (YAML)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&g.pretty, "pretty", false, "Human-readable log output")

	root.AddCommand(newRunCmd(g))
	root.AddCommand(newFetchCmd(g))
	root.AddCommand(newProbeCmd(g))
	root.AddCommand(newCountCmd(g))
	root.AddCommand(newLayersCmd(g))

	return root
}

// load reads the configuration and sets up logging.
func (g *globals) load(cmd *cobra.Command) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logging.LogLevel(g.logLevel)
	}
	if cmd.Flags().Changed("pretty") {
		cfg.Logging.Pretty = g.pretty
	}
	cfg.Logging.Output = cmd.ErrOrStderr()

	g.cfg = cfg
	g.logger = logging.Setup(cfg.Logging)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	switch {
	case err == nil:
	case errors.Is(err, errIncomplete):
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(2)
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
