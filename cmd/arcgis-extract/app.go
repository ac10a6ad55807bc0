package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/arcgis-rest-client/pkg/client"
	"github.com/Sternrassler/arcgis-rest-client/pkg/config"
	"github.com/Sternrassler/arcgis-rest-client/pkg/extract"
	"github.com/Sternrassler/arcgis-rest-client/pkg/metrics"
	"github.com/Sternrassler/arcgis-rest-client/pkg/pagination"
	"github.com/Sternrassler/arcgis-rest-client/pkg/sink"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app wires the client, engine and sink from a loaded configuration.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	redis  *redis.Client
	client *client.Client
	engine *extract.Engine
	server *http.Server
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	httpCfg := cfg.HTTP
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.redis.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
		httpCfg.Redis = a.redis
	}

	c, err := client.New(httpCfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	a.client = c
	a.engine = extract.NewEngine(c, logger)
	return a, nil
}

// openSink returns the configured sink.
func (a *app) openSink(ctx context.Context) (sink.Sink, error) {
	switch a.cfg.Sink.Type {
	case config.SinkMinio:
		return sink.NewMinioSink(ctx, a.cfg.Sink.Minio, a.logger)
	default:
		return sink.NewFileSink(a.cfg.Workspaces.Downloads, a.logger), nil
	}
}

// serveMetrics starts the /metrics and /health endpoint when configured.
func (a *app) serveMetrics() {
	if a.cfg.Metrics.Addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Gatherer, promhttp.HandlerOpts{}))

	a.server = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info().Str("addr", a.cfg.Metrics.Addr).Msg("Serving metrics")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

func (a *app) Close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.server.Shutdown(ctx)
		cancel()
	}
	if a.client != nil {
		a.client.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// layerReport is one line of the run output.
type layerReport struct {
	Source   string `json:"source"`
	Layer    string `json:"layer"`
	URL      string `json:"url"`
	RunID    string `json:"run_id,omitempty"`
	Strategy string `json:"strategy,omitempty"`
	Fallback string `json:"fallback,omitempty"`
	metrics.Summary
	Complete   bool   `json:"complete"`
	Location   string `json:"location,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func (r layerReport) ok() bool {
	return r.Error == "" && r.Complete
}

// extractSource runs every selected layer of src and writes each collection
// to out. Collections of partially failed sweeps are written too; their
// report carries the error. out may be nil to skip writing.
func (a *app) extractSource(ctx context.Context, src config.SourceConfig, out sink.Sink) ([]layerReport, error) {
	opts, sel, err := src.Options(a.cfg)
	if err != nil {
		return nil, err
	}

	logger := a.logger.With().Str("source", src.Name).Logger()
	logger.Info().
		Str("url", src.URL).
		Str("sweep", string(opts.Sweep)).
		Int("page_size", opts.PageSize).
		Int("workers", opts.MaxWorkers).
		Msg("Extracting source")

	results, err := a.engine.RunService(ctx, src.URL, sel, opts)

	reports := make([]layerReport, 0, len(results))
	for _, lr := range results {
		rep := layerReport{Source: src.Name, Layer: lr.Ref.Name, URL: lr.URL}
		if res := lr.Result; res != nil {
			if rep.Layer == "" {
				rep.Layer = res.Layer.Name
			}
			rep.RunID = res.RunID
			rep.Strategy = string(res.Strategy)
			rep.Fallback = res.Fallback
			rep.Summary = res.Summary
			rep.Complete = res.Complete()
			rep.DurationMS = res.Duration.Milliseconds()
		}
		if lr.Err != nil {
			rep.Error = lr.Err.Error()
		}

		writable := lr.Result != nil && (lr.Err == nil || pagination.IsBatchFailure(lr.Err))
		if out != nil && writable {
			target := sink.Target{Authority: src.AuthorityOrDefault(), Source: src.Name, Layer: rep.Layer}
			loc, werr := out.Write(ctx, target, lr.Result.Collection)
			if werr != nil {
				rep.Error = errors.Join(lr.Err, werr).Error()
			}
			rep.Location = loc
		}
		reports = append(reports, rep)
	}
	return reports, err
}
