package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Sternrassler/arcgis-rest-client/pkg/config"
	"github.com/Sternrassler/arcgis-rest-client/pkg/sink"
	"github.com/spf13/cobra"
)

func newRunCmd(g *globals) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run [source...]",
		Short: "Extract the enabled REST sources of the config file",
		Long: `Extract every enabled source of type "rest" from the config file, or only
the named sources. Each layer is written to the configured sink and reported
as one JSON line on stdout. A failing layer does not stop the others; the
exit status is 2 when any layer failed or is incomplete.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, err := selectSources(g.cfg, args)
			if err != nil {
				return err
			}
			if len(sources) == 0 {
				g.logger.Warn().Msg("No enabled REST sources configured")
				return nil
			}
			return extractAll(cmd, g, sources, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Extract but do not write collections")
	return cmd
}

func newFetchCmd(g *globals) *cobra.Command {
	var (
		src    = config.SourceConfig{Type: "rest", Name: "adhoc", Authority: "adhoc"}
		dryRun bool
	)

	// Flags map onto the raw source keys of the config file.
	raw := map[string]*string{}
	rawFlags := []struct{ key, flag, usage string }{
		{"use_oid_sweep", "sweep", "Object id batching: on, off or auto"},
		{"page_size", "page-size", "Object ids per batch"},
		{"max_workers", "workers", "Concurrent batch requests"},
		{"where", "where", "SQL where clause"},
		{"out_fields", "out-fields", "Comma separated fields"},
		{"out_sr", "out-sr", "Output spatial reference (EPSG code)"},
		{"format", "format", "Response format: geojson or json"},
		{"bbox", "bbox", "Envelope filter xmin,ymin,xmax,ymax"},
		{"bbox_sr", "bbox-sr", "Spatial reference of --bbox"},
		{"fail_fast", "fail-fast", "Stop at the first failed batch (true/false)"},
		{"max_record_count", "max-record-count", "Override the server page limit"},
		{"include", "include", "Comma separated layer name patterns"},
		{"layer_ids", "layer-ids", "Comma separated layer ids"},
	}

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Extract one layer or service without a config entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src.URL = args[0]
			src.Raw = map[string]any{}
			for _, f := range rawFlags {
				if cmd.Flags().Changed(f.flag) {
					src.Raw[f.key] = listOrValue(f.key, *raw[f.key])
				}
			}
			return extractAll(cmd, g, []config.SourceConfig{src}, dryRun)
		},
	}

	for _, f := range rawFlags {
		raw[f.key] = cmd.Flags().String(f.flag, "", f.usage)
	}
	cmd.Flags().StringVar(&src.Name, "name", src.Name, "Source name used in output paths")
	cmd.Flags().StringVar(&src.Authority, "authority", src.Authority, "Authority used in output paths")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Extract but do not write collections")
	return cmd
}

// listOrValue splits list-valued keys given as comma separated flags.
func listOrValue(key, value string) any {
	switch key {
	case "include", "layer_ids":
		parts := strings.Split(value, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return value
}

func selectSources(cfg *config.Config, names []string) ([]config.SourceConfig, error) {
	if len(names) == 0 {
		return cfg.RESTSources(), nil
	}
	out := make([]config.SourceConfig, 0, len(names))
	for _, name := range names {
		src, ok := cfg.Source(name)
		if !ok {
			return nil, fmt.Errorf("unknown source %q", name)
		}
		if !src.IsREST() {
			return nil, fmt.Errorf("source %q is not a REST source (type %q)", name, src.Type)
		}
		out = append(out, src)
	}
	return out, nil
}

func extractAll(cmd *cobra.Command, g *globals, sources []config.SourceConfig, dryRun bool) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, g.cfg, g.logger)
	if err != nil {
		return err
	}
	defer a.Close()
	a.serveMetrics()

	var out sink.Sink
	if !dryRun {
		if out, err = a.openSink(ctx); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	failed := 0
	for _, src := range sources {
		reports, err := a.extractSource(ctx, src, out)
		for _, rep := range reports {
			if !rep.ok() {
				failed++
			}
			if err := enc.Encode(rep); err != nil {
				return err
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			failed++
			g.logger.Error().Err(err).Str("source", src.Name).Msg("Source failed")
			if err := enc.Encode(layerReport{Source: src.Name, URL: src.URL, Error: err.Error()}); err != nil {
				return err
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d failed", errIncomplete, failed)
	}
	return nil
}

// printJSON writes v indented.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
