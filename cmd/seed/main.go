package main

import (
	"context"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"go.uber.org/zap"

	"github.com/medflow/er-flow/internal/beds"
	"github.com/medflow/er-flow/internal/config"
	"github.com/medflow/er-flow/internal/events"
	"github.com/medflow/er-flow/internal/logger"
	"github.com/medflow/er-flow/internal/store/postgres"
	"github.com/medflow/er-flow/internal/store/sqlite"
	"github.com/medflow/er-flow/internal/triage"
)

type bedSpec struct {
	bedType  string
	section  string
	features []string
}

var bedPool = []bedSpec{
	{"ED", "ED-A1", []string{"cardiac_monitor"}},
	{"ED", "ED-A2", nil},
	{"ED", "ED-A3", []string{"isolation"}},
	{"ED", "ED-A4", []string{"cardiac_monitor"}},
	{"ED", "ED-B1", []string{"cardiac_monitor"}},
	{"ED", "ED-B2", nil},
	{"ED", "ED-B3", nil},
	{"ED", "ED-B4", []string{"isolation"}},
	{"ED", "ED-C1", []string{"trauma_bay"}},
	{"ED", "ED-C2", []string{"trauma_bay"}},
	{"ED", "ED-D1", nil},
	{"ED", "ED-D2", []string{"cardiac_monitor"}},
	{"ED", "ED-E1", []string{"pediatric"}},
	{"ICU", "ICU-1", []string{"ventilator", "cardiac_monitor"}},
	{"ICU", "ICU-2", []string{"ventilator", "cardiac_monitor"}},
	{"ICU", "ICU-3", []string{"ventilator"}},
	{"ICU", "ICU-4", []string{"ventilator", "cardiac_monitor"}},
	{"MEDSURG", "MS-1", nil},
	{"MEDSURG", "MS-2", nil},
	{"MEDSURG", "MS-3", []string{"isolation"}},
	{"MEDSURG", "MS-4", nil},
}

var chiefComplaints = []string{
	"chest pain",
	"shortness of breath",
	"abdominal pain",
	"laceration to left hand",
	"fever and cough",
	"ankle injury",
	"headache",
	"dizziness",
	"back pain",
	"allergic reaction",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel, "console", "seed")
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx := context.Background()

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		zlog.Fatal("store init error", zap.Error(err))
	}
	defer cleanup()

	queue := triage.NewSmartQueue(store, events.Nop{}, zlog)
	registry := beds.NewRegistry(store, queue, events.Nop{}, zlog)
	queue.SetBedReleaser(registry)

	if err := queue.Load(ctx); err != nil {
		zlog.Fatal("patient load error", zap.Error(err))
	}
	if err := registry.Load(ctx); err != nil {
		zlog.Fatal("bed load error", zap.Error(err))
	}

	gofakeit.Seed(time.Now().UnixNano())

	zlog.Info("seeding beds", zap.Int("count", len(bedPool)))
	for _, spec := range bedPool {
		if _, err := registry.CreateBed(ctx, spec.bedType, spec.section, spec.features); err != nil {
			zlog.Fatal("seed bed", zap.String("section", spec.section), zap.Error(err))
		}
	}

	const patientCount = 25
	zlog.Info("seeding patients", zap.Int("count", patientCount))
	for i := 0; i < patientCount; i++ {
		p, err := queue.AddPatient(ctx, triage.AddPatientInput{
			Name:           gofakeit.Name(),
			ESI:            gofakeit.Number(1, 5),
			ChiefComplaint: chiefComplaints[gofakeit.Number(0, len(chiefComplaints)-1)],
			Age:            gofakeit.Number(1, 95),
			Gender:         gofakeit.Gender(),
			Department:     "ED",
		})
		if err != nil {
			zlog.Fatal("seed patient", zap.Error(err))
		}

		// Walk some patients further into the workflow so the dashboard
		// shows a realistic spread.
		switch gofakeit.Number(0, 3) {
		case 1:
			_, _ = queue.UpdateStatus(ctx, p.ID, triage.StatusAwaitingTriage)
		case 2:
			_, _ = queue.UpdateStatus(ctx, p.ID, triage.StatusTriaged)
			_, _ = queue.UpdateStatus(ctx, p.ID, triage.StatusAwaitingBed)
		case 3:
			_, _ = queue.UpdateStatus(ctx, p.ID, triage.StatusAwaitingBed)
			_, _ = registry.AssignBest(ctx, p.ID, beds.AssignRequest{BedType: "ED"})
		}
	}

	zlog.Info("seed complete")
}

func openStore(ctx context.Context, cfg config.Config) (store interface {
	triage.Store
	beds.Store
}, cleanup func(), err error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pool, err := postgres.Connect(connCtx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		pg := postgres.NewStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pg, pool.Close, nil
	default:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
}
