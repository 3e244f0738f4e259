package envoy

import "context"

// Fetcher produces one snapshot per call. When degraded is true the
// per-inverter sub-request is skipped; the polling coordinator sets it
// permanently after a first-time authorization rejection.
//
// Returned errors are classified with Classify.
type Fetcher interface {
	Fetch(ctx context.Context, degraded bool) (*Snapshot, error)
}
