package beds

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medflow/er-flow/internal/events"
	"github.com/medflow/er-flow/internal/triage"
)

var (
	ErrBedNotFound    = errors.New("bed not found")
	ErrNoBedAvailable = errors.New("no available bed matches the request")
	ErrBedOccupied    = errors.New("bed is occupied by another patient")
)

// PatientAssigner is the slice of the patient queue the registry needs
// to complete an assignment. The registry calls it while holding its
// own lock; the lock order is always registry before queue.
type PatientAssigner interface {
	AssignBed(ctx context.Context, patientID, bedID string) (triage.Patient, error)
}

// AssignRequest constrains which beds qualify for a patient.
// Empty BedType or Section match any bed.
type AssignRequest struct {
	BedType          string
	Section          string
	RequiredFeatures []string
}

// ListFilter narrows List output. Zero values match everything.
type ListFilter struct {
	Status  BedStatus
	BedType string
	Section string
}

// Registry owns all bed state. It keeps the pool in memory, persists
// write-through to a Store, and serializes every check-then-act
// sequence behind one mutex so two callers can never win the same bed.
type Registry struct {
	mu       sync.Mutex
	store    Store
	assigner PatientAssigner
	pub      events.Publisher
	log      *zap.Logger

	beds map[string]Bed
}

func NewRegistry(store Store, assigner PatientAssigner, pub events.Publisher, log *zap.Logger) *Registry {
	return &Registry{
		store:    store,
		assigner: assigner,
		pub:      pub,
		log:      log,
		beds:     make(map[string]Bed),
	}
}

// Load rebuilds the pool from the store.
func (r *Registry) Load(ctx context.Context) error {
	loaded, err := r.store.LoadAllBeds(ctx)
	if err != nil {
		return fmt.Errorf("load beds: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.beds = make(map[string]Bed, len(loaded))
	for _, b := range loaded {
		r.beds[b.ID] = b
	}

	r.log.Info("bed pool rebuilt", zap.Int("beds", len(loaded)))
	return nil
}

// CreateBed adds a bed to the pool. Administrative; new beds start
// AVAILABLE.
func (r *Registry) CreateBed(ctx context.Context, bedType, section string, features []string) (Bed, error) {
	feats := append([]string(nil), features...)
	sort.Strings(feats)

	b := Bed{
		ID:       uuid.NewString(),
		Type:     bedType,
		Section:  section,
		Features: feats,
		Status:   StatusAvailable,
	}

	r.mu.Lock()
	if err := r.store.UpsertBed(ctx, b); err != nil {
		r.mu.Unlock()
		return Bed{}, fmt.Errorf("persist bed: %w", err)
	}
	r.beds[b.ID] = b
	out := b.Clone()
	r.mu.Unlock()

	r.publish(ctx, events.TypeBedCreated, out)
	return out, nil
}

// Get returns a copy of a bed.
func (r *Registry) Get(id string) (Bed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.beds[id]
	if !ok {
		return Bed{}, ErrBedNotFound
	}
	return b.Clone(), nil
}

// List returns bed snapshots matching the filter, ordered by id.
func (r *Registry) List(filter ListFilter) []Bed {
	r.mu.Lock()
	out := make([]Bed, 0, len(r.beds))
	for _, b := range r.beds {
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		if filter.BedType != "" && b.Type != filter.BedType {
			continue
		}
		if filter.Section != "" && b.Section != filter.Section {
			continue
		}
		out = append(out, b.Clone())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AssignBest places the patient in the best available bed satisfying
// the request: required type and section must match, required features
// must all be present, and among qualifying beds the one with the
// fewest unused features wins, ties broken by lowest id.
//
// The whole check-then-commit runs under the registry lock and is
// atomic across both records: the bed write and the patient write
// either both stick or the bed (and any bed the patient held before)
// is rolled back.
func (r *Registry) AssignBest(ctx context.Context, patientID string, req AssignRequest) (Bed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cand, ok := r.bestFitLocked(req)
	if !ok {
		return Bed{}, ErrNoBedAvailable
	}
	return r.assignLocked(ctx, patientID, cand)
}

// Assign places the patient in a caller-chosen bed. Same atomicity and
// rollback as AssignBest; the bed must exist and not be held by
// another patient.
func (r *Registry) Assign(ctx context.Context, patientID, bedID string) (Bed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cand, ok := r.beds[bedID]
	if !ok {
		return Bed{}, ErrBedNotFound
	}
	if cand.Status == StatusOccupied {
		if cand.PatientID == patientID {
			return cand.Clone(), nil
		}
		return Bed{}, ErrBedOccupied
	}
	return r.assignLocked(ctx, patientID, cand)
}

func (r *Registry) assignLocked(ctx context.Context, patientID string, cand Bed) (Bed, error) {
	// Single occupancy: moving a patient frees the bed they held.
	prev, hadPrev := r.bedForPatientLocked(patientID)
	if hadPrev {
		freed := prev.Clone()
		freed.Status = StatusAvailable
		freed.PatientID = ""
		if err := r.store.UpsertBed(ctx, freed); err != nil {
			return Bed{}, fmt.Errorf("persist previous bed: %w", err)
		}
		prev = freed
	}

	occupied := cand.Clone()
	occupied.Status = StatusOccupied
	occupied.PatientID = patientID
	if err := r.store.UpsertBed(ctx, occupied); err != nil {
		if hadPrev {
			r.restoreLocked(ctx, prev.ID, StatusOccupied, patientID)
		}
		return Bed{}, fmt.Errorf("persist bed: %w", err)
	}

	if _, err := r.assigner.AssignBed(ctx, patientID, occupied.ID); err != nil {
		r.restoreLocked(ctx, occupied.ID, StatusAvailable, "")
		if hadPrev {
			r.restoreLocked(ctx, prev.ID, StatusOccupied, patientID)
		}
		return Bed{}, fmt.Errorf("assign bed %s to patient %s: %w", occupied.ID, patientID, err)
	}

	if hadPrev {
		r.beds[prev.ID] = prev
		r.publish(ctx, events.TypeBedUpdated, prev.Clone())
	}
	r.beds[occupied.ID] = occupied
	out := occupied.Clone()

	r.publish(ctx, events.TypeBedUpdated, out)
	return out, nil
}

// FreeBed marks a bed AVAILABLE and clears its patient.
func (r *Registry) FreeBed(ctx context.Context, bedID string) (Bed, error) {
	r.mu.Lock()
	b, ok := r.beds[bedID]
	if !ok {
		r.mu.Unlock()
		return Bed{}, ErrBedNotFound
	}

	freed := b.Clone()
	freed.Status = StatusAvailable
	freed.PatientID = ""
	if err := r.store.UpsertBed(ctx, freed); err != nil {
		r.mu.Unlock()
		return Bed{}, fmt.Errorf("persist bed: %w", err)
	}
	r.beds[bedID] = freed
	out := freed.Clone()
	r.mu.Unlock()

	r.publish(ctx, events.TypeBedUpdated, out)
	return out, nil
}

// ReleaseForPatient frees whatever bed the patient occupies, then runs
// commit while still holding the registry lock, so the release and the
// caller's paired write form one unit no assignment can interleave
// with. commit receives the freed bed id, or "" when the patient holds
// none. A commit error rolls the bed write back.
func (r *Registry) ReleaseForPatient(ctx context.Context, patientID string, commit func(bedID string) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bedForPatientLocked(patientID)
	if !ok {
		return commit("")
	}

	freed := b.Clone()
	freed.Status = StatusAvailable
	freed.PatientID = ""
	if err := r.store.UpsertBed(ctx, freed); err != nil {
		return fmt.Errorf("persist bed: %w", err)
	}
	if err := commit(freed.ID); err != nil {
		r.restoreLocked(ctx, freed.ID, StatusOccupied, patientID)
		return err
	}
	r.beds[freed.ID] = freed

	r.publish(ctx, events.TypeBedUpdated, freed.Clone())
	return nil
}

// bestFitLocked scans the pool for the best qualifying AVAILABLE bed.
func (r *Registry) bestFitLocked(req AssignRequest) (Bed, bool) {
	var best Bed
	bestUnused := -1

	for _, b := range r.beds {
		if b.Status != StatusAvailable {
			continue
		}
		if req.BedType != "" && b.Type != req.BedType {
			continue
		}
		if req.Section != "" && b.Section != req.Section {
			continue
		}
		if !b.hasFeatures(req.RequiredFeatures) {
			continue
		}

		unused := b.unusedFeatures(req.RequiredFeatures)
		if bestUnused == -1 || unused < bestUnused || (unused == bestUnused && b.ID < best.ID) {
			best = b
			bestUnused = unused
		}
	}

	return best, bestUnused >= 0
}

func (r *Registry) bedForPatientLocked(patientID string) (Bed, bool) {
	for _, b := range r.beds {
		if b.Status == StatusOccupied && b.PatientID == patientID {
			return b, true
		}
	}
	return Bed{}, false
}

// restoreLocked undoes a persisted bed write during rollback. Failures
// here are logged, not returned: the original error already describes
// why the assignment failed.
func (r *Registry) restoreLocked(ctx context.Context, bedID string, status BedStatus, patientID string) {
	b, ok := r.beds[bedID]
	if !ok {
		return
	}
	restored := b.Clone()
	restored.Status = status
	restored.PatientID = patientID
	if err := r.store.UpsertBed(ctx, restored); err != nil {
		r.log.Error("bed rollback write failed",
			zap.String("bed_id", bedID),
			zap.Error(err),
		)
	}
}

func (r *Registry) publish(ctx context.Context, eventType string, b Bed) {
	if r.pub == nil {
		return
	}
	ev := events.Event{Type: eventType, OccurredAt: time.Now(), Payload: b}
	if err := r.pub.Publish(ctx, ev); err != nil {
		r.log.Warn("bed event not delivered", zap.String("event_type", eventType), zap.Error(err))
	}
}
