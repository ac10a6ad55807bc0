package extract

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Sternrassler/arcgis-rest-client/pkg/arcgis"
)

// Selection picks layers of a service. LayerIDs wins over Include.
type Selection struct {
	LayerIDs []int
	Include  []string
}

// LayerResult is the outcome for one layer of a service run.
type LayerResult struct {
	Ref    arcgis.LayerRef
	URL    string
	Result *Result
	Err    error
}

// RunService extracts every selected layer of serviceURL in turn. A failing
// layer is recorded in its LayerResult and the next layer still runs. The
// returned error is set only when the layer list cannot be obtained or ctx
// ends.
func (e *Engine) RunService(ctx context.Context, serviceURL string, sel Selection, opts Options) ([]LayerResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	include := sel.Include
	if len(sel.LayerIDs) > 0 {
		include = nil
	}
	layers, err := arcgis.ListLayers(ctx, e.q, serviceURL, include)
	if err != nil {
		return nil, err
	}
	if len(sel.LayerIDs) > 0 {
		layers = arcgis.SelectLayers(layers, sel.LayerIDs)
	}

	e.logger.Info().
		Str("service", serviceURL).
		Int("layers", len(layers)).
		Msg("Running service")

	results := make([]LayerResult, 0, len(layers))
	for _, ref := range layers {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		layerURL := layerURLFor(serviceURL, ref)
		res, err := e.Run(ctx, layerURL, opts)
		if res != nil && res.Layer.Name == "" {
			res.Layer.Name = ref.Name
		}
		results = append(results, LayerResult{Ref: ref, URL: layerURL, Result: res, Err: err})

		if err != nil {
			e.logger.Warn().
				Err(err).
				Int("layer_id", ref.ID).
				Str("layer_name", ref.Name).
				Msg("Layer failed, continuing")
		}
	}
	return results, ctx.Err()
}

// layerURLFor resolves ref against serviceURL. A service URL that already
// names a single feature layer is used as is.
func layerURLFor(serviceURL string, ref arcgis.LayerRef) string {
	if isLayerURL(serviceURL, ref.ID) {
		return serviceURL
	}
	return ref.URL(serviceURL)
}

func isLayerURL(rawURL string, id int) bool {
	return strings.HasSuffix(strings.TrimRight(rawURL, "/"), "/"+strconv.Itoa(id))
}
