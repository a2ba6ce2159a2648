package triage

import "context"

// Store is the durable side of the patient cache. The queue is
// write-through: every mutation must land here before the in-memory
// view changes, and the cache is rebuilt from LoadAllPatients on
// startup.
type Store interface {
	LoadAllPatients(ctx context.Context) ([]Patient, error)
	UpsertPatient(ctx context.Context, p Patient) error
}
