package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/medflow/er-flow/internal/beds"
	"github.com/medflow/er-flow/internal/store/sqlite"
	"github.com/medflow/er-flow/internal/triage"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "er.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := sqlite.Open("  ")
	require.Error(t, err)
}

func TestOpen_EnablesWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "er.db")

	s, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// journal_mode=WAL is persisted in the database header, so a raw
	// connection to the same file reports what Open actually set.
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestPatientRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	arrived := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	p := triage.Patient{
		ID:             "p1",
		Name:           "Ana Soares",
		ESI:            2,
		ChiefComplaint: "chest pain",
		Age:            58,
		Gender:         "female",
		Department:     "ED",
		Status:         triage.StatusTriaged,
		Notes:          "hx of angina",
		TriageNotes:    "hypertensive on arrival",
		ArrivalTS:      arrived,
		Timestamps: map[triage.Status]time.Time{
			triage.StatusRegistered: arrived,
			triage.StatusTriaged:    arrived.Add(5 * time.Minute),
		},
	}
	require.NoError(t, s.UpsertPatient(ctx, p))

	loaded, err := s.LoadAllPatients(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, p.ESI, got.ESI)
	assert.Equal(t, p.Status, got.Status)
	assert.Empty(t, got.BedID)
	assert.True(t, got.ArrivalTS.Equal(arrived))
	require.Len(t, got.Timestamps, 2)
	assert.True(t, got.Timestamps[triage.StatusTriaged].Equal(arrived.Add(5*time.Minute)))
}

func TestUpsertPatient_UpdatesInPlace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	arrived := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	p := triage.Patient{
		ID: "p1", Name: "P", ESI: 3, Department: "ED",
		Status:     triage.StatusRegistered,
		ArrivalTS:  arrived,
		Timestamps: map[triage.Status]time.Time{triage.StatusRegistered: arrived},
	}
	require.NoError(t, s.UpsertPatient(ctx, p))

	p.Status = triage.StatusInBed
	p.BedID = "bed-1"
	p.Timestamps[triage.StatusInBed] = arrived.Add(20 * time.Minute)
	require.NoError(t, s.UpsertPatient(ctx, p))

	loaded, err := s.LoadAllPatients(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, triage.StatusInBed, loaded[0].Status)
	assert.Equal(t, "bed-1", loaded[0].BedID)
	assert.Len(t, loaded[0].Timestamps, 2)
}

func TestUpsertPatient_RejectsOutOfRangeESI(t *testing.T) {
	s := openTestStore(t)

	p := triage.Patient{
		ID: "p1", Name: "P", ESI: 9, Department: "ED",
		Status:     triage.StatusRegistered,
		ArrivalTS:  time.Now().UTC(),
		Timestamps: map[triage.Status]time.Time{},
	}
	err := s.UpsertPatient(context.Background(), p)
	require.Error(t, err, "the esi check constraint backstops engine validation")
}

func TestBedRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := beds.Bed{
		ID:       "bed-1",
		Type:     "ICU",
		Section:  "ICU-2",
		Features: []string{"cardiac_monitor", "ventilator"},
		Status:   beds.StatusAvailable,
	}
	require.NoError(t, s.UpsertBed(ctx, b))

	b.Status = beds.StatusOccupied
	b.PatientID = "p1"
	require.NoError(t, s.UpsertBed(ctx, b))

	loaded, err := s.LoadAllBeds(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, beds.StatusOccupied, loaded[0].Status)
	assert.Equal(t, "p1", loaded[0].PatientID)
	assert.Equal(t, []string{"cardiac_monitor", "ventilator"}, loaded[0].Features)
}

func TestReopen_KeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "er.db")
	ctx := context.Background()

	s, err := sqlite.Open(path)
	require.NoError(t, err)
	arrived := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertPatient(ctx, triage.Patient{
		ID: "p1", Name: "P", ESI: 3, Department: "ED",
		Status:     triage.StatusAwaitingBed,
		ArrivalTS:  arrived,
		Timestamps: map[triage.Status]time.Time{triage.StatusRegistered: arrived},
	}))
	require.NoError(t, s.UpsertBed(ctx, beds.Bed{
		ID: "bed-1", Type: "ED", Section: "ED-A1", Status: beds.StatusAvailable,
	}))
	require.NoError(t, s.Close())

	s2, err := sqlite.Open(path)
	require.NoError(t, err)
	defer s2.Close()

	patients, err := s2.LoadAllPatients(ctx)
	require.NoError(t, err)
	require.Len(t, patients, 1)
	assert.Equal(t, triage.StatusAwaitingBed, patients[0].Status)

	bedList, err := s2.LoadAllBeds(ctx)
	require.NoError(t, err)
	require.Len(t, bedList, 1)

	require.NoError(t, s2.Ping(ctx))
}
