package triage

import (
	"time"
)

// Status is a patient's position in the ER workflow.
type Status string

const (
	StatusRegistered          Status = "REGISTERED"
	StatusAwaitingTriage      Status = "AWAITING_TRIAGE"
	StatusTriaged             Status = "TRIAGED"
	StatusAwaitingBed         Status = "AWAITING_BED"
	StatusInBed               Status = "IN_BED"
	StatusAwaitingDisposition Status = "AWAITING_DISPOSITION"
	StatusAdmitted            Status = "ADMITTED"
	StatusDischarged          Status = "DISCHARGED"
	StatusLWBS                Status = "LWBS"
)

var allStatuses = map[Status]struct{}{
	StatusRegistered:          {},
	StatusAwaitingTriage:      {},
	StatusTriaged:             {},
	StatusAwaitingBed:         {},
	StatusInBed:               {},
	StatusAwaitingDisposition: {},
	StatusAdmitted:            {},
	StatusDischarged:          {},
	StatusLWBS:                {},
}

// Valid reports whether s is a recognized workflow status.
func (s Status) Valid() bool {
	_, ok := allStatuses[s]
	return ok
}

// Terminal reports whether s ends the ER stay. Entering a terminal
// status releases any held bed; the record stays in the store for audit.
func (s Status) Terminal() bool {
	return s == StatusAdmitted || s == StatusDischarged || s == StatusLWBS
}

// esiWaitThreshold maps Emergency Severity Index to the maximum
// acceptable time in the current status before a patient counts as
// delayed. ESI 1 tolerates no wait at all.
var esiWaitThreshold = map[int]time.Duration{
	1: 0,
	2: 10 * time.Minute,
	3: 30 * time.Minute,
	4: 60 * time.Minute,
	5: 120 * time.Minute,
}

// Patient is an ER patient tracked through the workflow.
//
// ArrivalTS is set once at registration. Timestamps records the first
// instant each status was entered and never shrinks; re-entering a
// status keeps the original instant.
type Patient struct {
	ID                  string               `json:"id"`
	Name                string               `json:"name"`
	ESI                 int                  `json:"esi"`
	ChiefComplaint      string               `json:"chief_complaint"`
	Age                 int                  `json:"age"`
	Gender              string               `json:"gender"`
	Department          string               `json:"department"`
	Status              Status               `json:"status"`
	BedID               string               `json:"bed_id,omitempty"`
	AssignedNurseID     string               `json:"assigned_nurse_id,omitempty"`
	AssignedPhysicianID string               `json:"assigned_physician_id,omitempty"`
	Notes               string               `json:"notes"`
	TriageNotes         string               `json:"triage_notes"`
	ArrivalTS           time.Time            `json:"arrival_ts"`
	Timestamps          map[Status]time.Time `json:"timestamps"`

	// arrivalSeq breaks ordering ties between patients with equal ESI and
	// arrival instant. Assigned by the queue, not persisted.
	arrivalSeq int64
}

// Active reports whether the patient still occupies a place in the queue.
func (p Patient) Active() bool {
	return !p.Status.Terminal()
}

// Clone returns a deep copy safe to hand to callers.
func (p Patient) Clone() Patient {
	out := p
	out.Timestamps = make(map[Status]time.Time, len(p.Timestamps))
	for s, ts := range p.Timestamps {
		out.Timestamps[s] = ts
	}
	return out
}

// WaitInfo is the derived wait state of a patient at a point in time.
type WaitInfo struct {
	TimeInStatusMin int  `json:"time_in_status_min"`
	TotalERTimeMin  int  `json:"total_er_time_min"`
	Delayed         bool `json:"is_delayed"`
}

// ComputeWait derives wait metrics for p as of now. The delay flag
// compares time in the current status against the per-ESI threshold.
func ComputeWait(p Patient, now time.Time) WaitInfo {
	entered, ok := p.Timestamps[p.Status]
	if !ok {
		entered = p.ArrivalTS
	}

	inStatus := now.Sub(entered)
	total := now.Sub(p.ArrivalTS)

	threshold, ok := esiWaitThreshold[p.ESI]
	delayed := ok && inStatus > threshold

	return WaitInfo{
		TimeInStatusMin: int(inStatus.Minutes()),
		TotalERTimeMin:  int(total.Minutes()),
		Delayed:         delayed,
	}
}
