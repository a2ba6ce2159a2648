package triage

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
)

var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrPatientInactive = errors.New("patient has left the ER")
	ErrInvalidESI      = errors.New("esi must be between 1 and 5")
	ErrInvalidStatus   = errors.New("unknown patient status")
)

// BedReleaser is the slice of the bed registry the queue needs when a
// patient leaves the ER. ReleaseForPatient frees whatever bed the
// patient holds and then runs commit while still holding the registry
// lock, so no assignment can interleave between the release and the
// caller's paired write; a commit error rolls the release back. The
// queue must never call it while holding its own mutex (registry locks
// before queue everywhere).
type BedReleaser interface {
	ReleaseForPatient(ctx context.Context, patientID string, commit func(freedBedID string) error) error
}

// AddPatientInput carries the registration fields for a new patient.
type AddPatientInput struct {
	Name           string
	ESI            int
	ChiefComplaint string
	Age            int
	Gender         string
	Department     string
	Notes          string
}

// QueueEntry is a patient snapshot plus derived wait metrics, in queue
// order.
type QueueEntry struct {
	Patient
	Wait WaitInfo `json:"wait"`
}

// SmartQueue owns all patient state. It keeps an in-memory cache of
// every patient, persists write-through to a Store, and computes the
// queue ordering, wait times and delay flags.
//
// A single mutex guards the cache and its paired store writes, so any
// read that starts after a mutation completes observes it.
type SmartQueue struct {
	mu       sync.Mutex
	store    Store
	pub      events.Publisher
	log      *zap.Logger
	releaser BedReleaser

	patients map[string]Patient
	seq      int64

	now func() time.Time
}

// Option adjusts queue construction.
type Option func(*SmartQueue)

// WithNowFunc overrides the queue's time source. Tests use this to pin
// wait-time and timestamp computations.
func WithNowFunc(now func() time.Time) Option {
	return func(q *SmartQueue) { q.now = now }
}

func NewSmartQueue(store Store, pub events.Publisher, log *zap.Logger, opts ...Option) *SmartQueue {
	q := &SmartQueue{
		store:    store,
		pub:      pub,
		log:      log,
		patients: make(map[string]Patient),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SetBedReleaser wires the bed registry in after both components exist.
func (q *SmartQueue) SetBedReleaser(r BedReleaser) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.releaser = r
}

// Load rebuilds the cache from the store. Historical terminal records
// are loaded too; they stay queryable by id but never surface in the
// queue view. Arrival sequence numbers are reassigned in arrival order
// so FIFO-within-ESI survives a restart.
func (q *SmartQueue) Load(ctx context.Context) error {
	loaded, err := q.store.LoadAllPatients(ctx)
	if err != nil {
		return fmt.Errorf("load patients: %w", err)
	}

	sort.Slice(loaded, func(i, j int) bool {
		if !loaded[i].ArrivalTS.Equal(loaded[j].ArrivalTS) {
			return loaded[i].ArrivalTS.Before(loaded[j].ArrivalTS)
		}
		return loaded[i].ID < loaded[j].ID
	})

	q.mu.Lock()
	defer q.mu.Unlock()

	q.patients = make(map[string]Patient, len(loaded))
	q.seq = 0
	for _, p := range loaded {
		q.seq++
		p.arrivalSeq = q.seq
		q.patients[p.ID] = p
	}

	q.log.Info("patient cache rebuilt", zap.Int("patients", len(loaded)))
	return nil
}

// AddPatient registers a new patient with status REGISTERED and returns
// the stored record.
func (q *SmartQueue) AddPatient(ctx context.Context, in AddPatientInput) (Patient, error) {
	if in.ESI < 1 || in.ESI > 5 {
		return Patient{}, ErrInvalidESI
	}
	dept := in.Department
	if dept == "" {
		dept = "ED"
	}

	now := q.now()
	p := Patient{
		ID:             uuid.NewString(),
		Name:           in.Name,
		ESI:            in.ESI,
		ChiefComplaint: in.ChiefComplaint,
		Age:            in.Age,
		Gender:         in.Gender,
		Department:     dept,
		Status:         StatusRegistered,
		Notes:          in.Notes,
		ArrivalTS:      now,
		Timestamps:     map[Status]time.Time{StatusRegistered: now},
	}

	q.mu.Lock()
	if err := q.store.UpsertPatient(ctx, p); err != nil {
		q.mu.Unlock()
		return Patient{}, fmt.Errorf("persist patient: %w", err)
	}
	q.seq++
	p.arrivalSeq = q.seq
	q.patients[p.ID] = p
	out := p.Clone()
	q.mu.Unlock()

	q.publish(ctx, events.TypePatientCreated, out)
	return out, nil
}

// Get returns a copy of the patient, terminal or not.
func (q *SmartQueue) Get(id string) (Patient, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, ok := q.patients[id]
	if !ok {
		return Patient{}, ErrPatientNotFound
	}
	return p.Clone(), nil
}

// UpdateStatus moves a patient to a new workflow status. Terminal
// transitions run inside the registry's ReleaseForPatient so the bed
// release and the patient persist commit as one unit: no assignment
// can slip in between, and a failed patient write rolls the release
// back on the registry side.
func (q *SmartQueue) UpdateStatus(ctx context.Context, id string, next Status) (Patient, error) {
	if !next.Valid() {
		return Patient{}, ErrInvalidStatus
	}

	q.mu.Lock()
	releaser := q.releaser
	q.mu.Unlock()

	var out Patient
	if next.Terminal() && releaser != nil {
		err := releaser.ReleaseForPatient(ctx, id, func(string) error {
			var err error
			out, err = q.transition(ctx, id, next)
			return err
		})
		if err != nil {
			return Patient{}, err
		}
	} else {
		var err error
		out, err = q.transition(ctx, id, next)
		if err != nil {
			return Patient{}, err
		}
	}

	q.publish(ctx, events.TypePatientUpdated, out)
	return out, nil
}

// transition applies and persists a status change under the queue lock.
func (q *SmartQueue) transition(ctx context.Context, id string, next Status) (Patient, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, ok := q.patients[id]
	if !ok {
		return Patient{}, ErrPatientNotFound
	}

	updated := p.Clone()
	if err := applyStatus(&updated, next, q.now()); err != nil {
		return Patient{}, err
	}
	if next.Terminal() {
		updated.BedID = ""
	}

	if err := q.store.UpsertPatient(ctx, updated); err != nil {
		return Patient{}, fmt.Errorf("persist patient: %w", err)
	}
	q.patients[id] = updated
	return updated.Clone(), nil
}

// UpdateESI re-triages a patient. Queue position changes immediately;
// arrival order and timestamps are untouched.
func (q *SmartQueue) UpdateESI(ctx context.Context, id string, esi int) (Patient, error) {
	if esi < 1 || esi > 5 {
		return Patient{}, ErrInvalidESI
	}

	q.mu.Lock()
	p, ok := q.patients[id]
	if !ok {
		q.mu.Unlock()
		return Patient{}, ErrPatientNotFound
	}

	updated := p.Clone()
	updated.ESI = esi
	if err := q.store.UpsertPatient(ctx, updated); err != nil {
		q.mu.Unlock()
		return Patient{}, fmt.Errorf("persist patient: %w", err)
	}
	q.patients[id] = updated
	out := updated.Clone()
	q.mu.Unlock()

	q.publish(ctx, events.TypePatientUpdated, out)
	return out, nil
}

// AssignBed records that the registry placed the patient in bedID and
// moves them to IN_BED. It is the patient half of the registry's atomic
// assignment; the registry calls it while holding its own lock.
func (q *SmartQueue) AssignBed(ctx context.Context, id, bedID string) (Patient, error) {
	q.mu.Lock()
	p, ok := q.patients[id]
	if !ok {
		q.mu.Unlock()
		return Patient{}, ErrPatientNotFound
	}

	updated := p.Clone()
	updated.BedID = bedID
	if err := applyStatus(&updated, StatusInBed, q.now()); err != nil {
		q.mu.Unlock()
		return Patient{}, err
	}

	if err := q.store.UpsertPatient(ctx, updated); err != nil {
		q.mu.Unlock()
		return Patient{}, fmt.Errorf("persist patient: %w", err)
	}
	q.patients[id] = updated
	out := updated.Clone()
	q.mu.Unlock()

	q.publish(ctx, events.TypePatientUpdated, out)
	return out, nil
}

// Discharge is shorthand for the DISCHARGED terminal transition.
func (q *SmartQueue) Discharge(ctx context.Context, id string) (Patient, error) {
	return q.UpdateStatus(ctx, id, StatusDischarged)
}

// Queue returns the active patients of a department in treatment order:
// ascending ESI, then earlier arrival, then arrival sequence. The sort
// is stable by construction, so equal-priority patients keep FIFO order
// no matter how often the queue is read.
func (q *SmartQueue) Queue(department string) []QueueEntry {
	now := q.now()

	q.mu.Lock()
	active := make([]Patient, 0, len(q.patients))
	for _, p := range q.patients {
		if p.Active() && (department == "" || p.Department == department) {
			active = append(active, p)
		}
	}
	q.mu.Unlock()

	sort.Slice(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if a.ESI != b.ESI {
			return a.ESI < b.ESI
		}
		if !a.ArrivalTS.Equal(b.ArrivalTS) {
			return a.ArrivalTS.Before(b.ArrivalTS)
		}
		return a.arrivalSeq < b.arrivalSeq
	})

	out := make([]QueueEntry, len(active))
	for i, p := range active {
		out[i] = QueueEntry{Patient: p.Clone(), Wait: ComputeWait(p, now)}
	}
	return out
}

// Delayed returns the active patients of a department whose time in the
// current status exceeds their ESI threshold.
func (q *SmartQueue) Delayed(department string) []QueueEntry {
	all := q.Queue(department)
	out := make([]QueueEntry, 0, len(all))
	for _, e := range all {
		if e.Wait.Delayed {
			out = append(out, e)
		}
	}
	return out
}

// ByStatus returns copies of all patients currently in the given status.
func (q *SmartQueue) ByStatus(status Status) []Patient {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Patient
	for _, p := range q.patients {
		if p.Status == status {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ETA estimates minutes until the patient is seen, given currently open
// rooms and the average service time per patient. Patients ahead are
// those ordered before the patient in the same department's queue.
func (q *SmartQueue) ETA(id string, roomsAvailable, avgServiceMin int) (int, error) {
	q.mu.Lock()
	p, ok := q.patients[id]
	q.mu.Unlock()
	if !ok {
		return 0, ErrPatientNotFound
	}
	if !p.Active() {
		return 0, ErrPatientInactive
	}

	ahead := 0
	for _, e := range q.Queue(p.Department) {
		if e.ID == id {
			break
		}
		ahead++
	}

	rooms := roomsAvailable
	if rooms < 1 {
		rooms = 1
	}
	rounds := (ahead + rooms - 1) / rooms
	return rounds * avgServiceMin, nil
}

func (q *SmartQueue) publish(ctx context.Context, eventType string, p Patient) {
	if q.pub == nil {
		return
	}
	ev := events.Event{Type: eventType, OccurredAt: q.now(), Payload: p}
	if err := q.pub.Publish(ctx, ev); err != nil {
		q.log.Warn("patient event not delivered", zap.String("event_type", eventType), zap.Error(err))
	}
}
