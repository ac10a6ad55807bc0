package pagination

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Sternrassler/arcgis-rest-client/pkg/arcgis"
	"github.com/Sternrassler/arcgis-rest-client/pkg/client"
	"github.com/Sternrassler/arcgis-rest-client/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultMaxPages bounds offset pagination.
const DefaultMaxPages = 100_000

var pagesTotal = promauto.With(metrics.Registry).NewCounterVec(
	prometheus.CounterOpts{
		Name: "arcgis_pages_total",
		Help: "Offset pages by resulting state",
	},
	[]string{"state"},
)

// PageState is the outcome of one offset page.
type PageState int

const (
	StateContinue PageState = iota
	StateDone
	StateTransferLimitExceeded
)

func (s PageState) String() string {
	switch s {
	case StateContinue:
		return "continue"
	case StateDone:
		return "done"
	case StateTransferLimitExceeded:
		return "transfer_limit_exceeded"
	default:
		return "unknown"
	}
}

// NextState decides what follows a page of received features.
//
//	empty page                 -> done
//	full page                  -> continue
//	short page, not exceeded   -> done
//	short page, exceeded       -> transfer limit exceeded
func NextState(received, limit int, exceeded bool) PageState {
	switch {
	case received == 0:
		return StateDone
	case received >= limit:
		return StateContinue
	case exceeded:
		return StateTransferLimitExceeded
	default:
		return StateDone
	}
}

// OffsetResult is the output of an offset walk.
type OffsetResult struct {
	Features []arcgis.Feature
	Pages    int
	Requests int
}

// OffsetFetcher walks a layer with resultOffset/resultRecordCount.
// Pages are fetched strictly one at a time.
type OffsetFetcher struct {
	q        arcgis.Querier
	logger   zerolog.Logger
	maxPages int
	orderBy  string
}

// NewOffsetFetcher creates a fetcher.
func NewOffsetFetcher(q arcgis.Querier, logger zerolog.Logger) *OffsetFetcher {
	return &OffsetFetcher{q: q, logger: logger, maxPages: DefaultMaxPages}
}

// SetMaxPages overrides DefaultMaxPages.
func (f *OffsetFetcher) SetMaxPages(n int) {
	f.maxPages = n
}

// SetOrderBy requests a stable sort on field, usually the object id field.
func (f *OffsetFetcher) SetOrderBy(field string) {
	f.orderBy = field
}

// FetchAll pages through layerURL. The partial result is returned along
// with any error so callers can report the requests spent.
func (f *OffsetFetcher) FetchAll(ctx context.Context, layerURL string, params arcgis.QueryParams, pageLimit int) (OffsetResult, error) {
	if pageLimit <= 0 {
		pageLimit = arcgis.DefaultPageLimit
	}
	if f.orderBy != "" && params.Get("orderByFields") == "" {
		params = params.With("orderByFields", f.orderBy)
	}
	params = params.With("resultRecordCount", strconv.Itoa(pageLimit))

	start := time.Now()
	var result OffsetResult
	offset := 0

	for {
		if result.Pages >= f.maxPages {
			return result, fmt.Errorf("%w: %d pages at offset %d", ErrPageCapReached, result.Pages, offset)
		}

		var page arcgis.FeaturePage
		resp, err := f.q.Query(ctx, layerURL, params.With("resultOffset", strconv.Itoa(offset)).Values(), &page)
		if err != nil {
			result.Requests += client.AttemptsOf(err)
			return result, fmt.Errorf("fetch page at offset %d: %w", offset, err)
		}
		result.Requests += resp.Attempts
		result.Pages++

		received := len(page.Features)
		state := NextState(received, pageLimit, page.Exceeded())
		pagesTotal.WithLabelValues(state.String()).Inc()

		f.logger.Debug().
			Int("offset", offset).
			Int("received", received).
			Bool("exceeded", page.Exceeded()).
			Str("state", state.String()).
			Msg("Offset page")

		switch state {
		case StateTransferLimitExceeded:
			return result, &TransferLimitExceededError{Offset: offset, Received: received, PageLimit: pageLimit}
		case StateDone:
			result.Features = append(result.Features, page.Features...)
			f.logger.Info().
				Int("pages", result.Pages).
				Int("features", len(result.Features)).
				Dur("duration", time.Since(start)).
				Msg("Offset pagination complete")
			return result, nil
		default:
			result.Features = append(result.Features, page.Features...)
			offset += received
		}
	}
}
