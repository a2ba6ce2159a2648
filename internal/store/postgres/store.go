package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medflow/er-flow/internal/beds"
	"github.com/medflow/er-flow/internal/triage"
)

// Connect opens a pgx pool sized for a single-hospital deployment and
// verifies connectivity before returning.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// Store persists patients and beds in Postgres. One pool serves both
// tables; the queue and the registry each see only their own interface.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the two tables if they do not exist. The ESI
// check mirrors the in-memory validation as defense in depth.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
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
			arrival_ts TIMESTAMPTZ NOT NULL,
			timestamps JSONB NOT NULL
		);

		CREATE TABLE IF NOT EXISTS beds (
			id TEXT PRIMARY KEY,
			bed_type TEXT NOT NULL,
			section TEXT NOT NULL,
			features JSONB NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('AVAILABLE','OCCUPIED')),
			patient_id TEXT
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) LoadAllPatients(ctx context.Context) ([]triage.Patient, error) {
	rows, err := s.pool.Query(ctx, `
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
	stamps, err := marshalTimestamps(p.Timestamps)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO patients (
			id, name, esi, chief_complaint, age, gender, department, status,
			bed_id, assigned_nurse_id, assigned_physician_id, notes, triage_notes,
			arrival_ts, timestamps
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
		        NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			esi = EXCLUDED.esi,
			chief_complaint = EXCLUDED.chief_complaint,
			age = EXCLUDED.age,
			gender = EXCLUDED.gender,
			department = EXCLUDED.department,
			status = EXCLUDED.status,
			bed_id = EXCLUDED.bed_id,
			assigned_nurse_id = EXCLUDED.assigned_nurse_id,
			assigned_physician_id = EXCLUDED.assigned_physician_id,
			notes = EXCLUDED.notes,
			triage_notes = EXCLUDED.triage_notes,
			arrival_ts = EXCLUDED.arrival_ts,
			timestamps = EXCLUDED.timestamps
	`, p.ID, p.Name, p.ESI, p.ChiefComplaint, p.Age, p.Gender, p.Department, string(p.Status),
		p.BedID, p.AssignedNurseID, p.AssignedPhysicianID, p.Notes, p.TriageNotes,
		p.ArrivalTS.UTC(), stamps)
	if err != nil {
		return fmt.Errorf("upsert patient %s: %w", p.ID, err)
	}
	return nil
}

func scanPatient(row pgx.Row) (triage.Patient, error) {
	var p triage.Patient
	var status string
	var stamps []byte

	err := row.Scan(
		&p.ID, &p.Name, &p.ESI, &p.ChiefComplaint, &p.Age, &p.Gender,
		&p.Department, &status, &p.BedID, &p.AssignedNurseID,
		&p.AssignedPhysicianID, &p.Notes, &p.TriageNotes, &p.ArrivalTS, &stamps,
	)
	if err != nil {
		return triage.Patient{}, fmt.Errorf("scan patient: %w", err)
	}

	p.Status = triage.Status(status)
	p.Timestamps, err = unmarshalTimestamps(stamps)
	if err != nil {
		return triage.Patient{}, fmt.Errorf("parse timestamps for %s: %w", p.ID, err)
	}

	return p, nil
}

func (s *Store) LoadAllBeds(ctx context.Context) ([]beds.Bed, error) {
	rows, err := s.pool.Query(ctx, `
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
		var status string
		var features []byte
		if err := rows.Scan(&b.ID, &b.Type, &b.Section, &features, &status, &b.PatientID); err != nil {
			return nil, fmt.Errorf("scan bed: %w", err)
		}
		b.Status = beds.BedStatus(status)
		if err := json.Unmarshal(features, &b.Features); err != nil {
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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO beds (id, bed_type, section, features, status, patient_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		ON CONFLICT (id) DO UPDATE SET
			bed_type = EXCLUDED.bed_type,
			section = EXCLUDED.section,
			features = EXCLUDED.features,
			status = EXCLUDED.status,
			patient_id = EXCLUDED.patient_id
	`, b.ID, b.Type, b.Section, features, string(b.Status), b.PatientID)
	if err != nil {
		return fmt.Errorf("upsert bed %s: %w", b.ID, err)
	}
	return nil
}

func marshalTimestamps(ts map[triage.Status]time.Time) ([]byte, error) {
	flat := make(map[string]string, len(ts))
	for status, t := range ts {
		flat[string(status)] = t.UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(flat)
	if err != nil {
		return nil, fmt.Errorf("marshal timestamps: %w", err)
	}
	return data, nil
}

func unmarshalTimestamps(raw []byte) (map[triage.Status]time.Time, error) {
	flat := make(map[string]string)
	if err := json.Unmarshal(raw, &flat); err != nil {
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
