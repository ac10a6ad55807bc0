package main

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/arcgis-rest-client/pkg/arcgis"
	"github.com/Sternrassler/arcgis-rest-client/pkg/config"
	"github.com/spf13/cobra"
)

func newProbeCmd(g *globals) *cobra.Command {
	var skipIDs bool

	cmd := &cobra.Command{
		Use:   "probe <layer-url>",
		Short: "Show the query capabilities of a layer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			desc, _, err := arcgis.NewProber(a.client).Probe(cmd.Context(), args[0], !skipIDs)
			out := struct {
				arcgis.LayerDescriptor
				SweepEligible bool   `json:"sweep_eligible"`
				PageLimit     int    `json:"page_limit"`
				Reason        string `json:"reason,omitempty"`
			}{
				LayerDescriptor: desc,
				SweepEligible:   err == nil && desc.OIDSweepEligible(),
				PageLimit:       desc.EffectivePageLimit(),
			}
			if err != nil {
				out.Reason = err.Error()
			}
			if perr := printJSON(cmd.OutOrStdout(), out); perr != nil {
				return perr
			}

			// Ineligibility is a finding, not a failure.
			var capErr *arcgis.CapabilityError
			if errors.As(err, &capErr) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&skipIDs, "skip-ids", false, "Do not send the id-only probe query")
	return cmd
}

func newCountCmd(g *globals) *cobra.Command {
	var where string
	var bbox []float64
	var bboxSR string

	cmd := &cobra.Command{
		Use:   "count <layer-url>",
		Short: "Count the features of a layer matching a filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := arcgis.QueryOptions{Where: where}
			if len(bbox) > 0 {
				b, err := arcgis.ParseBBox(bbox)
				if err != nil {
					return fmt.Errorf("--bbox: %w", err)
				}
				opts.BBox = &b
				if opts.BBoxSR, err = config.ParseCRS(bboxSR); err != nil {
					return fmt.Errorf("--bbox-sr: %w", err)
				}
			}

			a, err := newApp(cmd.Context(), g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := arcgis.Count(cmd.Context(), a.client, args[0], arcgis.NewQueryParams(opts))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	cmd.Flags().StringVar(&where, "where", "1=1", "SQL where clause")
	cmd.Flags().Float64SliceVar(&bbox, "bbox", nil, "Envelope filter xmin,ymin,xmax,ymax")
	cmd.Flags().StringVar(&bboxSR, "bbox-sr", "", "Spatial reference of --bbox")
	return cmd
}

func newLayersCmd(g *globals) *cobra.Command {
	var include []string

	cmd := &cobra.Command{
		Use:   "layers <service-url>",
		Short: "List the layers of a MapServer or FeatureServer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			layers, err := arcgis.ListLayers(cmd.Context(), a.client, args[0], include)
			if err != nil {
				return err
			}
			for _, l := range layers {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", l.ID, l.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&include, "include", nil, "Layer name patterns (shell syntax)")
	return cmd
}
