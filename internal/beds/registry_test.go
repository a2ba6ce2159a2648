package beds_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medflow/er-flow/internal/beds"
	"github.com/medflow/er-flow/internal/events"
	"github.com/medflow/er-flow/internal/triage"
)

type fakeBedStore struct {
	mu          sync.Mutex
	beds        map[string]beds.Bed
	failUpserts bool
}

func newFakeBedStore(seed ...beds.Bed) *fakeBedStore {
	s := &fakeBedStore{beds: make(map[string]beds.Bed)}
	for _, b := range seed {
		s.beds[b.ID] = b.Clone()
	}
	return s
}

func (s *fakeBedStore) LoadAllBeds(context.Context) ([]beds.Bed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]beds.Bed, 0, len(s.beds))
	for _, b := range s.beds {
		out = append(out, b.Clone())
	}
	return out, nil
}

func (s *fakeBedStore) UpsertBed(_ context.Context, b beds.Bed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpserts {
		return errors.New("disk full")
	}
	s.beds[b.ID] = b.Clone()
	return nil
}

type fakeAssigner struct {
	mu     sync.Mutex
	calls  []string
	failOn string
}

func (a *fakeAssigner) AssignBed(_ context.Context, patientID, bedID string) (triage.Patient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, bedID)
	if a.failOn != "" && (a.failOn == "*" || a.failOn == patientID) {
		return triage.Patient{}, errors.New("patient gone")
	}
	return triage.Patient{ID: patientID, Status: triage.StatusInBed, BedID: bedID}, nil
}

func newTestRegistry(t *testing.T, store beds.Store, assigner beds.PatientAssigner) *beds.Registry {
	t.Helper()
	r := beds.NewRegistry(store, assigner, events.Nop{}, zap.NewNop())
	require.NoError(t, r.Load(context.Background()))
	return r
}

func availableBed(id, bedType, section string, features ...string) beds.Bed {
	return beds.Bed{ID: id, Type: bedType, Section: section, Features: features, Status: beds.StatusAvailable}
}

func TestCreateBed(t *testing.T) {
	store := newFakeBedStore()
	r := newTestRegistry(t, store, &fakeAssigner{})

	b, err := r.CreateBed(context.Background(), "ED", "A", []string{"isolation", "cardiac_monitor"})
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, beds.StatusAvailable, b.Status)
	assert.Equal(t, []string{"cardiac_monitor", "isolation"}, b.Features, "features are stored sorted")

	got, err := r.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = r.Get("nope")
	require.ErrorIs(t, err, beds.ErrBedNotFound)
}

func TestList_Filters(t *testing.T) {
	store := newFakeBedStore(
		availableBed("bed-1", "ED", "A"),
		availableBed("bed-2", "ED", "B"),
		availableBed("bed-3", "ICU", "A"),
	)
	r := newTestRegistry(t, store, &fakeAssigner{})

	all := r.List(beds.ListFilter{})
	require.Len(t, all, 3)
	assert.Equal(t, "bed-1", all[0].ID, "listing is ordered by id")

	ed := r.List(beds.ListFilter{BedType: "ED"})
	require.Len(t, ed, 2)

	sectionA := r.List(beds.ListFilter{Section: "A"})
	require.Len(t, sectionA, 2)

	_, err := r.FreeBed(context.Background(), "bed-1")
	require.NoError(t, err)
	_, err = r.Assign(context.Background(), "p1", "bed-2")
	require.NoError(t, err)

	avail := r.List(beds.ListFilter{Status: beds.StatusAvailable, BedType: "ED"})
	require.Len(t, avail, 1)
	assert.Equal(t, "bed-1", avail[0].ID)
}

func TestAssignBest_PrefersFewestUnusedFeatures(t *testing.T) {
	store := newFakeBedStore(
		availableBed("bed-1", "ED", "A", "cardiac_monitor", "isolation"),
		availableBed("bed-2", "ED", "A", "cardiac_monitor"),
	)
	r := newTestRegistry(t, store, &fakeAssigner{})

	got, err := r.AssignBest(context.Background(), "p1", beds.AssignRequest{
		BedType:          "ED",
		RequiredFeatures: []string{"cardiac_monitor"},
	})
	require.NoError(t, err)
	assert.Equal(t, "bed-2", got.ID, "exact feature match beats a superset")
	assert.Equal(t, beds.StatusOccupied, got.Status)
	assert.Equal(t, "p1", got.PatientID)
}

func TestAssignBest_TiesBreakOnLowestID(t *testing.T) {
	store := newFakeBedStore(
		availableBed("bed-9", "ED", "A"),
		availableBed("bed-2", "ED", "A"),
		availableBed("bed-5", "ED", "A"),
	)
	r := newTestRegistry(t, store, &fakeAssigner{})

	got, err := r.AssignBest(context.Background(), "p1", beds.AssignRequest{BedType: "ED"})
	require.NoError(t, err)
	assert.Equal(t, "bed-2", got.ID)
}

func TestAssignBest_NoMatch(t *testing.T) {
	store := newFakeBedStore(
		availableBed("bed-1", "ED", "A", "cardiac_monitor"),
	)
	r := newTestRegistry(t, store, &fakeAssigner{})
	ctx := context.Background()

	_, err := r.AssignBest(ctx, "p1", beds.AssignRequest{RequiredFeatures: []string{"ventilator"}})
	require.ErrorIs(t, err, beds.ErrNoBedAvailable)

	_, err = r.AssignBest(ctx, "p1", beds.AssignRequest{BedType: "ICU"})
	require.ErrorIs(t, err, beds.ErrNoBedAvailable)

	// Occupied beds never qualify.
	_, err = r.Assign(ctx, "other", "bed-1")
	require.NoError(t, err)
	_, err = r.AssignBest(ctx, "p1", beds.AssignRequest{})
	require.ErrorIs(t, err, beds.ErrNoBedAvailable)
}

func TestAssignBest_PatientAssignFailureRollsBackBed(t *testing.T) {
	store := newFakeBedStore(availableBed("bed-1", "ED", "A"))
	assigner := &fakeAssigner{failOn: "*"}
	r := newTestRegistry(t, store, assigner)

	_, err := r.AssignBest(context.Background(), "p1", beds.AssignRequest{})
	require.Error(t, err)
	require.NotErrorIs(t, err, beds.ErrNoBedAvailable)

	got, err := r.Get("bed-1")
	require.NoError(t, err)
	assert.Equal(t, beds.StatusAvailable, got.Status, "bed must be released when the patient write fails")
	assert.Empty(t, got.PatientID)

	stored := store.beds["bed-1"]
	assert.Equal(t, beds.StatusAvailable, stored.Status, "rollback must reach the store too")
}

func TestAssignBest_MovingPatientFreesPreviousBed(t *testing.T) {
	store := newFakeBedStore(
		availableBed("bed-1", "ED", "A"),
		availableBed("bed-2", "ICU", "B", "ventilator"),
	)
	r := newTestRegistry(t, store, &fakeAssigner{})
	ctx := context.Background()

	first, err := r.AssignBest(ctx, "p1", beds.AssignRequest{BedType: "ED"})
	require.NoError(t, err)
	require.Equal(t, "bed-1", first.ID)

	second, err := r.AssignBest(ctx, "p1", beds.AssignRequest{BedType: "ICU"})
	require.NoError(t, err)
	assert.Equal(t, "bed-2", second.ID)

	prev, err := r.Get("bed-1")
	require.NoError(t, err)
	assert.Equal(t, beds.StatusAvailable, prev.Status, "a patient occupies at most one bed")
	assert.Empty(t, prev.PatientID)
}

func TestAssignBest_ConcurrentLastBed(t *testing.T) {
	store := newFakeBedStore(availableBed("bed-1", "ED", "A"))
	r := newTestRegistry(t, store, &fakeAssigner{})

	const contenders = 8
	errs := make([]error, contenders)
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.AssignBest(context.Background(), "p"+string(rune('a'+i)), beds.AssignRequest{})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, beds.ErrNoBedAvailable)
		}
	}
	assert.Equal(t, 1, wins, "exactly one contender may win the last bed")
}

func TestFreeBed(t *testing.T) {
	store := newFakeBedStore(availableBed("bed-1", "ED", "A"))
	r := newTestRegistry(t, store, &fakeAssigner{})
	ctx := context.Background()

	_, err := r.Assign(ctx, "p1", "bed-1")
	require.NoError(t, err)

	freed, err := r.FreeBed(ctx, "bed-1")
	require.NoError(t, err)
	assert.Equal(t, beds.StatusAvailable, freed.Status)
	assert.Empty(t, freed.PatientID)

	_, err = r.FreeBed(ctx, "nope")
	require.ErrorIs(t, err, beds.ErrBedNotFound)
}

func TestReleaseForPatient(t *testing.T) {
	store := newFakeBedStore(
		availableBed("bed-1", "ED", "A"),
		availableBed("bed-2", "ED", "A"),
	)
	r := newTestRegistry(t, store, &fakeAssigner{})
	ctx := context.Background()

	_, err := r.Assign(ctx, "p1", "bed-2")
	require.NoError(t, err)

	var freedID string
	err = r.ReleaseForPatient(ctx, "p1", func(bedID string) error {
		freedID = bedID
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "bed-2", freedID)

	got, err := r.Get("bed-2")
	require.NoError(t, err)
	assert.Equal(t, beds.StatusAvailable, got.Status)

	// A patient without a bed still gets their commit run.
	err = r.ReleaseForPatient(ctx, "p1", func(bedID string) error {
		freedID = bedID
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, freedID)
}

func TestReleaseForPatient_CommitFailureRestoresBed(t *testing.T) {
	store := newFakeBedStore(availableBed("bed-1", "ED", "A"))
	r := newTestRegistry(t, store, &fakeAssigner{})
	ctx := context.Background()

	_, err := r.Assign(ctx, "p1", "bed-1")
	require.NoError(t, err)

	commitErr := errors.New("patient write failed")
	err = r.ReleaseForPatient(ctx, "p1", func(string) error { return commitErr })
	require.ErrorIs(t, err, commitErr)

	got, err := r.Get("bed-1")
	require.NoError(t, err)
	assert.Equal(t, beds.StatusOccupied, got.Status, "aborted release must leave the bed occupied")
	assert.Equal(t, "p1", got.PatientID)

	stored := store.beds["bed-1"]
	assert.Equal(t, beds.StatusOccupied, stored.Status, "rollback must reach the store too")
}

func TestAssign(t *testing.T) {
	store := newFakeBedStore(
		availableBed("bed-1", "ED", "A"),
		availableBed("bed-2", "ICU", "B"),
	)
	r := newTestRegistry(t, store, &fakeAssigner{})
	ctx := context.Background()

	got, err := r.Assign(ctx, "p1", "bed-1")
	require.NoError(t, err)
	assert.Equal(t, beds.StatusOccupied, got.Status)
	assert.Equal(t, "p1", got.PatientID)

	// Re-assigning the same bed to the same patient is idempotent.
	again, err := r.Assign(ctx, "p1", "bed-1")
	require.NoError(t, err)
	assert.Equal(t, got.ID, again.ID)

	_, err = r.Assign(ctx, "p2", "bed-1")
	require.ErrorIs(t, err, beds.ErrBedOccupied)
	_, err = r.Assign(ctx, "p1", "nope")
	require.ErrorIs(t, err, beds.ErrBedNotFound)

	// Moving a patient to a chosen bed frees the one they held.
	moved, err := r.Assign(ctx, "p1", "bed-2")
	require.NoError(t, err)
	assert.Equal(t, "bed-2", moved.ID)

	prev, err := r.Get("bed-1")
	require.NoError(t, err)
	assert.Equal(t, beds.StatusAvailable, prev.Status)
	assert.Empty(t, prev.PatientID)
}

// Integration across both engines: the registry assigning into a real
// queue, and a terminal transition releasing the bed back.
func TestRegistryWithSmartQueue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	patientStore := newFakePatientStore()
	q := triage.NewSmartQueue(patientStore, events.Nop{}, zap.NewNop(),
		triage.WithNowFunc(func() time.Time { return now }))
	require.NoError(t, q.Load(ctx))

	bedStore := newFakeBedStore(availableBed("bed-1", "ED", "A", "cardiac_monitor"))
	r := newTestRegistry(t, bedStore, q)
	q.SetBedReleaser(r)

	p, err := q.AddPatient(ctx, triage.AddPatientInput{Name: "P", ESI: 2})
	require.NoError(t, err)

	bed, err := r.AssignBest(ctx, p.ID, beds.AssignRequest{RequiredFeatures: []string{"cardiac_monitor"}})
	require.NoError(t, err)
	assert.Equal(t, p.ID, bed.PatientID)

	placed, err := q.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, triage.StatusInBed, placed.Status)
	assert.Equal(t, bed.ID, placed.BedID)

	done, err := q.Discharge(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, done.BedID)

	released, err := r.Get(bed.ID)
	require.NoError(t, err)
	assert.Equal(t, beds.StatusAvailable, released.Status)
	assert.Empty(t, released.PatientID)
}

// Discharge and assignment racing over the same patient must serialize:
// the terminal transition commits bed release and patient write as one
// unit, so the assignment sees either the pre-discharge or the
// post-discharge world, never the gap between them.
func TestDischargeExcludesConcurrentAssign(t *testing.T) {
	ctx := context.Background()

	patientStore := newFakePatientStore()
	q := triage.NewSmartQueue(patientStore, events.Nop{}, zap.NewNop())
	require.NoError(t, q.Load(ctx))

	bedStore := newFakeBedStore(
		availableBed("bed-ed", "ED", "A"),
		availableBed("bed-icu", "ICU", "B"),
	)
	r := newTestRegistry(t, bedStore, q)
	q.SetBedReleaser(r)

	p, err := q.AddPatient(ctx, triage.AddPatientInput{Name: "P", ESI: 2})
	require.NoError(t, err)
	_, err = r.Assign(ctx, p.ID, "bed-ed")
	require.NoError(t, err)

	// Gate the terminal patient write so the discharge parks mid-commit.
	entered := make(chan struct{})
	release := make(chan struct{})
	patientStore.setHook(func(up triage.Patient) {
		if up.Status.Terminal() {
			close(entered)
			<-release
		}
	})

	dischargeDone := make(chan error, 1)
	go func() {
		_, err := q.Discharge(ctx, p.ID)
		dischargeDone <- err
	}()
	<-entered
	patientStore.setHook(nil)

	assignDone := make(chan error, 1)
	go func() {
		_, err := r.AssignBest(ctx, p.ID, beds.AssignRequest{BedType: "ICU"})
		assignDone <- err
	}()

	select {
	case <-assignDone:
		t.Fatal("assignment ran inside a terminal transition")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-dischargeDone)
	require.NoError(t, <-assignDone)

	// Both finished; the bidirectional invariant must hold.
	got, err := q.Get(p.ID)
	require.NoError(t, err)
	for _, b := range r.List(beds.ListFilter{}) {
		if b.PatientID == p.ID {
			assert.Equal(t, b.ID, got.BedID, "bed %s points at the patient, so the patient must point back", b.ID)
		}
	}
	if got.BedID != "" {
		held, err := r.Get(got.BedID)
		require.NoError(t, err)
		assert.Equal(t, beds.StatusOccupied, held.Status)
		assert.Equal(t, p.ID, held.PatientID)
	}
}

type fakePatientStore struct {
	mu       sync.Mutex
	patients map[string]triage.Patient
	onUpsert func(triage.Patient)
}

func newFakePatientStore() *fakePatientStore {
	return &fakePatientStore{patients: make(map[string]triage.Patient)}
}

func (s *fakePatientStore) setHook(fn func(triage.Patient)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpsert = fn
}

func (s *fakePatientStore) LoadAllPatients(context.Context) ([]triage.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]triage.Patient, 0, len(s.patients))
	for _, p := range s.patients {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (s *fakePatientStore) UpsertPatient(_ context.Context, p triage.Patient) error {
	s.mu.Lock()
	hook := s.onUpsert
	s.mu.Unlock()
	if hook != nil {
		hook(p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = p.Clone()
	return nil
}
