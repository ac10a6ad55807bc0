//go:build integration

package sink

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/Sternrassler/arcgis-rest-client/pkg/arcgis"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	minioUser     = "minioadmin"
	minioPassword = "minioadmin"
)

func setupMinio(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start MinIO container: %v", err)
	}
	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get MinIO endpoint: %v", err)
	}
	return endpoint
}

func TestMinioSink_Integration_Write(t *testing.T) {
	endpoint := setupMinio(t)
	ctx := context.Background()

	cfg := MinioConfig{
		Endpoint:  endpoint,
		AccessKey: minioUser,
		SecretKey: minioPassword,
		Bucket:    "features",
		Prefix:    "/extracts/",
	}
	sink, err := NewMinioSink(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewMinioSink() error = %v", err)
	}

	// A second sink finds the existing bucket.
	if _, err := NewMinioSink(ctx, cfg, zerolog.Nop()); err != nil {
		t.Fatalf("NewMinioSink() on existing bucket error = %v", err)
	}

	fc := arcgis.NewFeatureCollection([]arcgis.Feature{
		arcgis.Feature(`{"type":"Feature","id":7,"properties":{},"geometry":null}`),
	}, 0)
	target := Target{Authority: "lst", Source: "naturreservat", Layer: "Naturreservat"}

	location, err := sink.Write(ctx, target, fc)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if want := "minio://features/extracts/lst/naturreservat/Naturreservat.geojson"; location != want {
		t.Errorf("location = %q, want %q", location, want)
	}

	obj, err := sink.client.GetObject(ctx, "features", sink.Key(target), minio.GetObjectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.ContentType != ContentType {
		t.Errorf("ContentType = %q", info.ContentType)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		t.Fatal(err)
	}
	var got arcgis.FeatureCollection
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("object is not JSON: %v", err)
	}
	if len(got.Features) != 1 {
		t.Errorf("got %d features, want 1", len(got.Features))
	}
}
