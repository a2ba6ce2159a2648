package beds

// BedStatus is a bed's occupancy state.
type BedStatus string

const (
	StatusAvailable BedStatus = "AVAILABLE"
	StatusOccupied  BedStatus = "OCCUPIED"
)

// Bed is a physical care location.
//
// Type is a logical capability like "ED" or "ICU", Section the physical
// wing ("ED-A1", "ICU-2"), Features optional equipment tags such as
// "cardiac_monitor" or "isolation". PatientID is set exactly when the
// bed is OCCUPIED.
type Bed struct {
	ID        string    `json:"id"`
	Type      string    `json:"bed_type"`
	Section   string    `json:"section"`
	Features  []string  `json:"features"`
	Status    BedStatus `json:"status"`
	PatientID string    `json:"patient_id,omitempty"`
}

// Clone returns a copy safe to hand to callers.
func (b Bed) Clone() Bed {
	out := b
	out.Features = append([]string(nil), b.Features...)
	return out
}

// hasFeatures reports whether the bed offers every required feature.
func (b Bed) hasFeatures(required []string) bool {
	for _, want := range required {
		found := false
		for _, have := range b.Features {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// unusedFeatures counts bed features the request did not ask for. The
// matcher minimizes this so beds with scarce extras stay free for
// patients who need them.
func (b Bed) unusedFeatures(required []string) int {
	unused := 0
	for _, have := range b.Features {
		wanted := false
		for _, want := range required {
			if have == want {
				wanted = true
				break
			}
		}
		if !wanted {
			unused++
		}
	}
	return unused
}
