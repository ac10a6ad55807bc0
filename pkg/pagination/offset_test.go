package pagination

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/Sternrassler/arcgis-rest-client/internal/testutil"
	"github.com/Sternrassler/arcgis-rest-client/pkg/arcgis"
	"github.com/rs/zerolog"
)

func TestNextState(t *testing.T) {
	tests := []struct {
		name     string
		received int
		exceeded bool
		want     PageState
	}{
		{name: "empty", received: 0, want: StateDone},
		{name: "empty but exceeded", received: 0, exceeded: true, want: StateDone},
		{name: "full", received: 1000, want: StateContinue},
		{name: "full and exceeded", received: 1000, exceeded: true, want: StateContinue},
		{name: "oversized", received: 1200, want: StateContinue},
		{name: "short", received: 500, want: StateDone},
		{name: "short and exceeded", received: 500, exceeded: true, want: StateTransferLimitExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextState(tt.received, 1000, tt.exceeded); got != tt.want {
				t.Errorf("NextState() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOffsetFetcher_Scripts(t *testing.T) {
	tests := []struct {
		name         string
		pages        []testutil.PageScript
		format       string
		wantFeatures int
		wantRequests int
		wantErr      bool
	}{
		{
			name:         "three pages no flag",
			pages:        []testutil.PageScript{{Count: 1000}, {Count: 1000}, {Count: 500}},
			wantFeatures: 2500,
			wantRequests: 3,
		},
		{
			name:         "exceeded on full pages",
			pages:        []testutil.PageScript{{Count: 1000, Exceeded: true}, {Count: 1000, Exceeded: true}, {Count: 500}},
			wantFeatures: 2500,
			wantRequests: 3,
		},
		{
			name:         "exceeded on full pages esri json",
			pages:        []testutil.PageScript{{Count: 1000, Exceeded: true}, {Count: 1000, Exceeded: true}, {Count: 500}},
			format:       arcgis.FormatJSON,
			wantFeatures: 2500,
			wantRequests: 3,
		},
		{
			name:         "short page exceeded",
			pages:        []testutil.PageScript{{Count: 500, Exceeded: true}, {Count: 1000}},
			wantRequests: 1,
			wantErr:      true,
		},
		{
			name:         "empty layer",
			pages:        []testutil.PageScript{{Count: 0}},
			wantRequests: 1,
		},
		{
			name:         "exact multiple ends on empty page",
			pages:        []testutil.PageScript{{Count: 1000}, {Count: 1000}, {Count: 0}},
			wantFeatures: 2000,
			wantRequests: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockArcGIS()
			defer mock.Close()
			mock.AddLayer(0, testutil.LayerConfig{MaxRecordCount: 1000, Pages: tt.pages})

			c, _ := testutil.NewClient(t, nil)
			f := NewOffsetFetcher(c, zerolog.Nop())
			params := arcgis.NewQueryParams(arcgis.QueryOptions{ReturnGeometry: true, Format: tt.format})

			result, err := f.FetchAll(context.Background(), mock.LayerURL(0), params, 1000)

			if tt.wantErr {
				var tle *TransferLimitExceededError
				if !errors.As(err, &tle) {
					t.Fatalf("FetchAll() error = %v, want *TransferLimitExceededError", err)
				}
				if tle.Offset != 0 || tle.Received != 500 || tle.PageLimit != 1000 {
					t.Errorf("error = %+v", tle)
				}
			} else if err != nil {
				t.Fatalf("FetchAll() error = %v", err)
			}

			if len(result.Features) != tt.wantFeatures {
				t.Errorf("features = %d, want %d", len(result.Features), tt.wantFeatures)
			}
			if result.Requests != tt.wantRequests {
				t.Errorf("requests = %d, want %d", result.Requests, tt.wantRequests)
			}
			if got := mock.Count(testutil.KindPage); got != tt.wantRequests {
				t.Errorf("server saw %d page requests, want %d", got, tt.wantRequests)
			}
		})
	}
}

func TestOffsetFetcher_RequestParams(t *testing.T) {
	mock := testutil.NewMockArcGIS()
	defer mock.Close()
	mock.AddLayer(0, testutil.LayerConfig{MaxRecordCount: 2, ObjectIDs: testutil.SequentialIDs(5)})

	var offsets, orders []string
	mock.SetInterceptor(func(r *http.Request, kind testutil.RequestKind) *testutil.MockResponse {
		if kind == testutil.KindPage {
			offsets = append(offsets, r.Form.Get("resultOffset"))
			orders = append(orders, r.Form.Get("orderByFields"))
			if r.Form.Get("resultRecordCount") != "2" {
				t.Errorf("resultRecordCount = %q", r.Form.Get("resultRecordCount"))
			}
		}
		return nil
	})

	c, _ := testutil.NewClient(t, nil)
	f := NewOffsetFetcher(c, zerolog.Nop())
	f.SetOrderBy("OBJECTID")

	result, err := f.FetchAll(context.Background(), mock.LayerURL(0), arcgis.NewQueryParams(arcgis.QueryOptions{}), 2)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(result.Features) != 5 || result.Pages != 3 {
		t.Errorf("features = %d, pages = %d", len(result.Features), result.Pages)
	}

	want := []string{"0", "2", "4"}
	if len(offsets) != len(want) {
		t.Fatalf("offsets = %v, want %v", offsets, want)
	}
	for i := range want {
		if offsets[i] != want[i] {
			t.Errorf("offset[%d] = %s, want %s", i, offsets[i], want[i])
		}
		if orders[i] != "OBJECTID" {
			t.Errorf("orderByFields[%d] = %q", i, orders[i])
		}
	}
}

func TestOffsetFetcher_PageCap(t *testing.T) {
	mock := testutil.NewMockArcGIS()
	defer mock.Close()
	mock.AddLayer(0, testutil.LayerConfig{
		MaxRecordCount: 10,
		Pages:          []testutil.PageScript{{Count: 10}, {Count: 10}, {Count: 10}},
	})

	c, _ := testutil.NewClient(t, nil)
	f := NewOffsetFetcher(c, zerolog.Nop())
	f.SetMaxPages(2)

	result, err := f.FetchAll(context.Background(), mock.LayerURL(0), arcgis.NewQueryParams(arcgis.QueryOptions{}), 10)
	if !errors.Is(err, ErrPageCapReached) {
		t.Fatalf("FetchAll() error = %v, want ErrPageCapReached", err)
	}
	if result.Pages != 2 || len(result.Features) != 20 {
		t.Errorf("pages = %d, features = %d", result.Pages, len(result.Features))
	}
}

func TestOffsetFetcher_FailureCountsAttempts(t *testing.T) {
	mock := testutil.NewMockArcGIS()
	defer mock.Close()
	mock.AddLayer(0, testutil.LayerConfig{ObjectIDs: testutil.SequentialIDs(10)})
	mock.SetInterceptor(func(r *http.Request, kind testutil.RequestKind) *testutil.MockResponse {
		if kind == testutil.KindPage {
			return testutil.NewServerErrorResponse()
		}
		return nil
	})

	c, _ := testutil.NewClient(t, nil)
	result, err := NewOffsetFetcher(c, zerolog.Nop()).FetchAll(context.Background(), mock.LayerURL(0), arcgis.NewQueryParams(arcgis.QueryOptions{}), 0)
	if err == nil {
		t.Fatal("FetchAll() should fail")
	}
	if result.Requests != 3 {
		t.Errorf("requests = %d, want 3", result.Requests)
	}
}
