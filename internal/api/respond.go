package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/medflow/er-flow/internal/beds"
	"github.com/medflow/er-flow/internal/triage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeDomainError maps core sentinel errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, triage.ErrInvalidESI):
		writeError(w, http.StatusBadRequest, "invalid_esi", err.Error())
	case errors.Is(err, triage.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
	case errors.Is(err, triage.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, triage.ErrPatientInactive):
		writeError(w, http.StatusConflict, "patient_inactive", err.Error())
	case errors.Is(err, beds.ErrBedNotFound):
		writeError(w, http.StatusNotFound, "bed_not_found", err.Error())
	case errors.Is(err, beds.ErrNoBedAvailable):
		writeError(w, http.StatusConflict, "no_bed_available", err.Error())
	case errors.Is(err, beds.ErrBedOccupied):
		writeError(w, http.StatusConflict, "bed_occupied", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
