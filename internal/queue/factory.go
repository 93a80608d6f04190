package queue

import (
	"context"
	"fmt"

	"mailthrottle/internal/models"
)

// Factory creates queue backends from configuration.
type Factory struct{}

// NewFactory creates a new queue factory
func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates the queue backend named by config.Type.
// Supported backends:
//   - memory: in-process queue (development, tests, single worker process)
//   - sqlite: single-file database queue
//   - postgres: PostgreSQL queue shared by many worker processes
func (f *Factory) Create(ctx context.Context, config models.QueueConfig) (Queue, error) {
	if err := f.ValidateConfig(config); err != nil {
		return nil, err
	}

	reclaim := WithReservationTimeout(config.ReservationTimeout)

	switch config.Type {
	case models.QueueTypeMemory:
		return NewMemoryQueue(config.Name, reclaim), nil
	case models.QueueTypeSQLite:
		return NewSQLiteQueue(config.DSN, config.Name, reclaim)
	case models.QueueTypePostgres:
		return NewPostgresQueue(ctx, config.DSN, config.Name, reclaim)
	default:
		return nil, fmt.Errorf("unsupported queue type: %s", config.Type)
	}
}

// GetSupportedProviders returns all supported queue backend types
func (f *Factory) GetSupportedProviders() []string {
	return []string{models.QueueTypeMemory, models.QueueTypePostgres, models.QueueTypeSQLite}
}

// ValidateConfig checks that config carries what its backend needs.
func (f *Factory) ValidateConfig(config models.QueueConfig) error {
	switch config.Type {
	case models.QueueTypeMemory:
		// Memory queue requires no additional configuration
	case models.QueueTypePostgres, models.QueueTypeSQLite:
		if config.DSN == "" {
			return fmt.Errorf("database DSN is required for %s queue", config.Type)
		}
	default:
		return fmt.Errorf("unsupported queue type: %s", config.Type)
	}
	return nil
}
