package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/medflow/er-flow/internal/beds"
	"github.com/medflow/er-flow/internal/triage"
)

func createPatientHandler(q *triage.SmartQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreatePatientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		p, err := q.AddPatient(r.Context(), triage.AddPatientInput{
			Name:           req.Name,
			ESI:            req.ESI,
			ChiefComplaint: req.ChiefComplaint,
			Age:            req.Age,
			Gender:         req.Gender,
			Department:     req.Department,
			Notes:          req.Notes,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, p)
	}
}

func getPatientHandler(q *triage.SmartQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := q.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func getQueueHandler(q *triage.SmartQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dept := r.URL.Query().Get("department")
		writeJSON(w, http.StatusOK, q.Queue(dept))
	}
}

func getDelayedHandler(q *triage.SmartQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dept := r.URL.Query().Get("department")
		writeJSON(w, http.StatusOK, q.Delayed(dept))
	}
}

func getPatientsByStatusHandler(q *triage.SmartQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := triage.Status(chi.URLParam(r, "status"))
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_status", "unknown patient status")
			return
		}
		writeJSON(w, http.StatusOK, q.ByStatus(status))
	}
}

func updateStatusHandler(q *triage.SmartQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		p, err := q.UpdateStatus(r.Context(), chi.URLParam(r, "id"), triage.Status(req.NewStatus))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func updateESIHandler(q *triage.SmartQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateESIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		p, err := q.UpdateESI(r.Context(), chi.URLParam(r, "id"), req.ESI)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func assignBedHandler(reg *beds.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AssignBedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.BedID == "" {
			writeError(w, http.StatusBadRequest, "invalid_bed", "bed_id is required")
			return
		}

		bed, err := reg.Assign(r.Context(), chi.URLParam(r, "id"), req.BedID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bed)
	}
}

func dischargePatientHandler(q *triage.SmartQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := q.Discharge(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func getETAHandler(q *triage.SmartQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rooms := queryInt(r, "rooms_available", 1)
		avg := queryInt(r, "avg_service_min", 20)

		eta, err := q.ETA(id, rooms, avg)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ETAResponse{PatientID: id, ETAMinutes: eta})
	}
}

func assignBestHandler(reg *beds.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AssignBestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		bed, err := reg.AssignBest(r.Context(), chi.URLParam(r, "id"), beds.AssignRequest{
			BedType:          req.BedType,
			Section:          req.Section,
			RequiredFeatures: req.RequiredFeatures,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bed)
	}
}

func listBedsHandler(reg *beds.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qv := r.URL.Query()
		filter := beds.ListFilter{
			Status:  beds.BedStatus(qv.Get("status")),
			BedType: qv.Get("bed_type"),
			Section: qv.Get("section"),
		}
		writeJSON(w, http.StatusOK, reg.List(filter))
	}
}

func createBedHandler(reg *beds.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.BedType == "" || req.Section == "" {
			writeError(w, http.StatusBadRequest, "invalid_bed", "bed_type and section are required")
			return
		}

		bed, err := reg.CreateBed(r.Context(), req.BedType, req.Section, req.Features)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, bed)
	}
}

func getBedHandler(reg *beds.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bed, err := reg.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bed)
	}
}

func freeBedHandler(reg *beds.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bed, err := reg.FreeBed(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bed)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
