package triage

import "time"

// applyStatus moves p to next and stamps the first entry into that
// status. Re-entering a status keeps its original timestamp, so the
// Timestamps map only ever grows.
//
// The workflow deliberately allows any recognized status to follow any
// non-terminal one; only unknown values are rejected. Bed release on
// terminal entry is orchestrated by the queue, which owns the
// cross-component ordering.
func applyStatus(p *Patient, next Status, now time.Time) error {
	if !next.Valid() {
		return ErrInvalidStatus
	}

	p.Status = next
	if p.Timestamps == nil {
		p.Timestamps = make(map[Status]time.Time, 4)
	}
	if _, seen := p.Timestamps[next]; !seen {
		p.Timestamps[next] = now
	}

	return nil
}
