package pagination

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Sternrassler/arcgis-rest-client/pkg/arcgis"
	"github.com/Sternrassler/arcgis-rest-client/pkg/client"
)

// OIDFetcher fetches the features of one identifier batch.
type OIDFetcher struct {
	q        arcgis.Querier
	layerURL string
	field    string
	params   arcgis.QueryParams
}

// NewOIDFetcher creates a fetcher for layerURL keyed on field.
// params is the base template; its where clause is combined with each batch.
func NewOIDFetcher(q arcgis.Querier, layerURL, field string, params arcgis.QueryParams) *OIDFetcher {
	return &OIDFetcher{q: q, layerURL: layerURL, field: field, params: params}
}

// Fetch queries the batch's identifiers. It returns the features and the
// number of HTTP requests consumed, including retries.
func (f *OIDFetcher) Fetch(ctx context.Context, b Batch) ([]arcgis.Feature, int, error) {
	where := CombineWhere(f.params.Where(), InClause(f.field, b.IDs))

	var page arcgis.FeaturePage
	resp, err := f.q.Query(ctx, f.layerURL, f.params.WithWhere(where).Values(), &page)
	if err != nil {
		return nil, client.AttemptsOf(err), err
	}
	return page.Features, resp.Attempts, nil
}

// InClause renders `field IN (1,2,3)`.
func InClause(field string, ids []int64) string {
	var b strings.Builder
	b.Grow(len(field) + 6 + len(ids)*8)
	b.WriteString(field)
	b.WriteString(" IN (")
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(id, 10))
	}
	b.WriteByte(')')
	return b.String()
}

// CombineWhere ANDs clause onto base. A trivial base is replaced.
func CombineWhere(base, clause string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "1=1" {
		return clause
	}
	return fmt.Sprintf("(%s) AND %s", base, clause)
}
