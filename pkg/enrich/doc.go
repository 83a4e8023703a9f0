// Package enrich fetches the detail payload of every listed candidate in
// parallel and normalizes each one into a flat record.
//
// Every candidate gets its own task; by default all tasks are launched at
// once and share the client's connection pool. A failed fetch is captured
// in that task's Result and never affects sibling tasks.
//
// Example usage:
//
//	orch := enrich.New(apiClient, enrich.DefaultConfig())
//	outcome := orch.EnrichAll(ctx, candidates)
//	fmt.Println(len(outcome.Records), "enriched,", len(outcome.Failures), "failed")
//
// The orchestrator:
//   - Starts one Profile fetch per candidate (optionally capped)
//   - Waits for every fetch, with no early cancellation
//   - Logs each failure with the candidate's display name
//   - Returns surviving records in submission order
package enrich
