package metrics

import (
	"context"
	"time"

	"codeberg.org/mutker/envoymon/internal/envoy"
)

// Collector defines the core domain interface
type Collector interface {
	Record(ctx context.Context, sample *Sample) error
	Close() error
}

// Repository defines the interface for metrics data storage
type Repository interface {
	Record(sample *Sample) error
	Close() error
}

// Sample is one recorded metric value. Since any metric may be absent on
// any cycle, rows are stored per key rather than as a fixed-width record.
type Sample struct {
	Timestamp time.Time
	Key       envoy.Key
	Value     envoy.Value
}
