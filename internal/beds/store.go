package beds

import "context"

// Store is the durable side of the bed pool. The registry is
// write-through: a bed mutation must land here before the in-memory
// pool changes.
type Store interface {
	LoadAllBeds(ctx context.Context) ([]Bed, error)
	UpsertBed(ctx context.Context, b Bed) error
}
