package arcgis

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"testing"

	"github.com/Sternrassler/arcgis-rest-client/internal/testutil"
)

func TestNewIdentifierSet(t *testing.T) {
	in := []int64{5, 3, 5, 1, 3}
	got := NewIdentifierSet(in)

	if !slices.Equal(got, IdentifierSet{1, 3, 5}) {
		t.Errorf("NewIdentifierSet() = %v, want [1 3 5]", got)
	}
	if !slices.Equal(in, []int64{5, 3, 5, 1, 3}) {
		t.Error("input was modified")
	}
	if NewIdentifierSet(nil).Len() != 0 {
		t.Error("nil input should give an empty set")
	}
}

func TestDiscoverIDs(t *testing.T) {
	mock := testutil.NewMockArcGIS()
	defer mock.Close()

	mock.AddLayer(0, testutil.LayerConfig{SupportsAdvancedQueries: true, ObjectIDs: []int64{30, 10, 20}})
	mock.AddLayer(1, testutil.LayerConfig{SupportsAdvancedQueries: true, NullObjectIDs: true})
	mock.AddLayer(2, testutil.LayerConfig{SupportsAdvancedQueries: true})

	c, _ := testutil.NewClient(t, nil)
	ctx := context.Background()
	params := NewQueryParams(QueryOptions{ReturnGeometry: true, OutSR: 4326})

	t.Run("sorted ids", func(t *testing.T) {
		ids, field, requests, err := DiscoverIDs(ctx, c, LayerDescriptor{URL: mock.LayerURL(0)}, params)
		if err != nil {
			t.Fatalf("DiscoverIDs() error = %v", err)
		}
		if !slices.Equal(ids, IdentifierSet{10, 20, 30}) {
			t.Errorf("ids = %v", ids)
		}
		if field != "OBJECTID" || requests != 1 {
			t.Errorf("field = %q, requests = %d", field, requests)
		}
	})

	t.Run("null objectIds", func(t *testing.T) {
		_, _, _, err := DiscoverIDs(ctx, c, LayerDescriptor{URL: mock.LayerURL(1)}, params)
		var discErr *DiscoveryError
		if !errors.As(err, &discErr) {
			t.Fatalf("DiscoverIDs() error = %v, want *DiscoveryError", err)
		}
	})

	t.Run("empty layer is valid", func(t *testing.T) {
		ids, _, _, err := DiscoverIDs(ctx, c, LayerDescriptor{URL: mock.LayerURL(2)}, params)
		if err != nil || ids.Len() != 0 {
			t.Errorf("DiscoverIDs() = %v, %v", ids, err)
		}
	})
}

func TestDiscoverIDs_RequestShape(t *testing.T) {
	mock := testutil.NewMockArcGIS()
	defer mock.Close()
	mock.AddLayer(0, testutil.LayerConfig{SupportsAdvancedQueries: true, ObjectIDs: testutil.SequentialIDs(3)})

	var seen http.Header
	var form map[string][]string
	mock.SetInterceptor(func(r *http.Request, kind testutil.RequestKind) *testutil.MockResponse {
		if kind == testutil.KindIDs {
			seen = r.Header.Clone()
			form = r.Form
		}
		return nil
	})

	c, _ := testutil.NewClient(t, nil)
	params := NewQueryParams(QueryOptions{Where: "TYPE = 1", ReturnGeometry: true, OutSR: 4326})
	if _, _, _, err := DiscoverIDs(context.Background(), c, LayerDescriptor{URL: mock.LayerURL(0)}, params); err != nil {
		t.Fatalf("DiscoverIDs() error = %v", err)
	}

	if seen == nil {
		t.Fatal("no id request observed")
	}
	if got := form["where"]; len(got) != 1 || got[0] != "TYPE = 1" {
		t.Errorf("where = %v, want base where clause", got)
	}
	if got := form["f"]; len(got) != 1 || got[0] != "json" {
		t.Errorf("f = %v, want json", got)
	}
	if _, ok := form["outFields"]; ok {
		t.Error("outFields should not be sent with returnIdsOnly")
	}
}

func TestDiscoverIDs_ServerFailure(t *testing.T) {
	mock := testutil.NewMockArcGIS()
	defer mock.Close()
	mock.AddLayer(0, testutil.LayerConfig{SupportsAdvancedQueries: true})
	mock.SetInterceptor(func(r *http.Request, kind testutil.RequestKind) *testutil.MockResponse {
		if kind == testutil.KindIDs {
			return testutil.NewServerErrorResponse()
		}
		return nil
	})

	c, _ := testutil.NewClient(t, nil)
	_, _, requests, err := DiscoverIDs(context.Background(), c, LayerDescriptor{URL: mock.LayerURL(0)}, NewQueryParams(QueryOptions{}))
	var discErr *DiscoveryError
	if !errors.As(err, &discErr) {
		t.Fatalf("DiscoverIDs() error = %v, want *DiscoveryError", err)
	}
	if requests != 3 {
		t.Errorf("requests = %d, want 3 attempts counted", requests)
	}
}
