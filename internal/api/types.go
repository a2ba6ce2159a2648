package api

type CreatePatientRequest struct {
	Name           string `json:"name"`
	ESI            int    `json:"esi"`
	ChiefComplaint string `json:"chief_complaint"`
	Age            int    `json:"age"`
	Gender         string `json:"gender"`
	Department     string `json:"department"`
	Notes          string `json:"notes"`
}

type UpdateStatusRequest struct {
	NewStatus string `json:"new_status"`
}

type UpdateESIRequest struct {
	ESI int `json:"esi"`
}

type AssignBedRequest struct {
	BedID string `json:"bed_id"`
}

type AssignBestRequest struct {
	BedType          string   `json:"bed_type"`
	Section          string   `json:"section"`
	RequiredFeatures []string `json:"required_features"`
}

type CreateBedRequest struct {
	BedType  string   `json:"bed_type"`
	Section  string   `json:"section"`
	Features []string `json:"features"`
}

type ETAResponse struct {
	PatientID  string `json:"patient_id"`
	ETAMinutes int    `json:"eta_minutes"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
