// Package pagination retrieves every feature of a layer, either by
// identifier batches fetched in parallel or by sequential offset pages.
//
// Identifier sweep:
//
//	batches, err := pagination.PlanBatches(ids, 1000)
//	fetcher := pagination.NewOIDFetcher(client, layerURL, "OBJECTID", params)
//	exec := pagination.NewExecutor(pagination.DefaultConfig(), logger)
//	result, err := exec.Execute(ctx, batches, fetcher.Fetch, run)
//
// The executor:
//   - Runs at most MaxWorkers batches at a time
//   - Records every batch as ok, failed or discarded
//   - Keeps going after a failed batch unless FailFast is set
//   - Returns features in completion order, not identifier order
//
// Offset pagination walks resultOffset one page at a time and stops on an
// empty or short page. A short page that still reports
// exceededTransferLimit is a *TransferLimitExceededError.
package pagination
