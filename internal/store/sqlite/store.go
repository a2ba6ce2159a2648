package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/medflow/er-flow/internal/beds"
	"github.com/medflow/er-flow/internal/triage"
)

const schema = `
CREATE TABLE IF NOT EXISTS patients (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	esi INTEGER NOT NULL CHECK(esi BETWEEN 1 AND 5),
	chief_complaint TEXT NOT NULL,
	age INTEGER NOT NULL,
	gender TEXT NOT NULL,
	department TEXT NOT NULL,
	status TEXT NOT NULL,
	bed_id TEXT,
	assigned_nurse_id TEXT,
	assigned_physician_id TEXT,
	notes TEXT,
	triage_notes TEXT,
	arrival_ts TEXT NOT NULL,
	timestamps TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS beds (
	id TEXT PRIMARY KEY,
	bed_type TEXT NOT NULL,
	section TEXT NOT NULL,
	features TEXT NOT NULL,
	status TEXT NOT NULL CHECK(status IN ('AVAILABLE','OCCUPIED')),
	patient_id TEXT
);
`

// Store persists patients and beds in one SQLite file. It backs both
// the patient queue and the bed registry; each component sees only its
// own narrow interface.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database file and ensures the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database file is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- patients ---

func (s *Store) LoadAllPatients(ctx context.Context) ([]triage.Patient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, esi, chief_complaint, age, gender, department, status,
		       COALESCE(bed_id, ''), COALESCE(assigned_nurse_id, ''),
		       COALESCE(assigned_physician_id, ''), COALESCE(notes, ''),
		       COALESCE(triage_notes, ''), arrival_ts, timestamps
		FROM patients
	`)
	if err != nil {
		return nil, fmt.Errorf("query patients: %w", err)
	}
	defer rows.Close()

	var out []triage.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpsertPatient(ctx context.Context, p triage.Patient) error {
	arrival := p.ArrivalTS.UTC().Format(time.RFC3339Nano)
	stamps, err := marshalTimestamps(p.Timestamps)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patients (
			id, name, esi, chief_complaint, age, gender, department, status,
			bed_id, assigned_nurse_id, assigned_physician_id, notes, triage_notes,
			arrival_ts, timestamps
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			esi = excluded.esi,
			chief_complaint = excluded.chief_complaint,
			age = excluded.age,
			gender = excluded.gender,
			department = excluded.department,
			status = excluded.status,
			bed_id = excluded.bed_id,
			assigned_nurse_id = excluded.assigned_nurse_id,
			assigned_physician_id = excluded.assigned_physician_id,
			notes = excluded.notes,
			triage_notes = excluded.triage_notes,
			arrival_ts = excluded.arrival_ts,
			timestamps = excluded.timestamps
	`, p.ID, p.Name, p.ESI, p.ChiefComplaint, p.Age, p.Gender, p.Department, string(p.Status),
		p.BedID, p.AssignedNurseID, p.AssignedPhysicianID, p.Notes, p.TriageNotes,
		arrival, stamps)
	if err != nil {
		return fmt.Errorf("upsert patient %s: %w", p.ID, err)
	}
	return nil
}

func scanPatient(rows *sql.Rows) (triage.Patient, error) {
	var p triage.Patient
	var status, arrival, stamps string

	err := rows.Scan(
		&p.ID, &p.Name, &p.ESI, &p.ChiefComplaint, &p.Age, &p.Gender,
		&p.Department, &status, &p.BedID, &p.AssignedNurseID,
		&p.AssignedPhysicianID, &p.Notes, &p.TriageNotes, &arrival, &stamps,
	)
	if err != nil {
		return triage.Patient{}, fmt.Errorf("scan patient: %w", err)
	}

	p.Status = triage.Status(status)
	p.ArrivalTS, err = time.Parse(time.RFC3339Nano, arrival)
	if err != nil {
		return triage.Patient{}, fmt.Errorf("parse arrival_ts for %s: %w", p.ID, err)
	}

	p.Timestamps, err = unmarshalTimestamps(stamps)
	if err != nil {
		return triage.Patient{}, fmt.Errorf("parse timestamps for %s: %w", p.ID, err)
	}

	return p, nil
}

// --- beds ---

func (s *Store) LoadAllBeds(ctx context.Context) ([]beds.Bed, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bed_type, section, features, status, COALESCE(patient_id, '')
		FROM beds
	`)
	if err != nil {
		return nil, fmt.Errorf("query beds: %w", err)
	}
	defer rows.Close()

	var out []beds.Bed
	for rows.Next() {
		var b beds.Bed
		var status, features string
		if err := rows.Scan(&b.ID, &b.Type, &b.Section, &features, &status, &b.PatientID); err != nil {
			return nil, fmt.Errorf("scan bed: %w", err)
		}
		b.Status = beds.BedStatus(status)
		if err := json.Unmarshal([]byte(features), &b.Features); err != nil {
			return nil, fmt.Errorf("parse features for %s: %w", b.ID, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) UpsertBed(ctx context.Context, b beds.Bed) error {
	features, err := json.Marshal(b.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO beds (id, bed_type, section, features, status, patient_id)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''))
		ON CONFLICT(id) DO UPDATE SET
			bed_type = excluded.bed_type,
			section = excluded.section,
			features = excluded.features,
			status = excluded.status,
			patient_id = excluded.patient_id
	`, b.ID, b.Type, b.Section, string(features), string(b.Status), b.PatientID)
	if err != nil {
		return fmt.Errorf("upsert bed %s: %w", b.ID, err)
	}
	return nil
}

// --- helpers ---

func marshalTimestamps(ts map[triage.Status]time.Time) (string, error) {
	flat := make(map[string]string, len(ts))
	for status, t := range ts {
		flat[string(status)] = t.UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(flat)
	if err != nil {
		return "", fmt.Errorf("marshal timestamps: %w", err)
	}
	return string(data), nil
}

func unmarshalTimestamps(raw string) (map[triage.Status]time.Time, error) {
	flat := make(map[string]string)
	if err := json.Unmarshal([]byte(raw), &flat); err != nil {
		return nil, err
	}
	out := make(map[triage.Status]time.Time, len(flat))
	for status, v := range flat {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("timestamp for status %s: %w", status, err)
		}
		out[triage.Status(status)] = t
	}
	return out, nil
}
