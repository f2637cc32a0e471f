package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logger"
)

var specialties = []string{
	"General Dentistry",
	"Orthodontics",
	"Endodontics",
	"Periodontics",
	"Prosthodontics",
	"Oral Surgery",
	"Pediatric Dentistry",
}

var treatments = []struct {
	name     string
	price    int64 // minor units
	duration int
}{
	{"Consultation", 6000000, 30},
	{"Cleaning", 8000000, 45},
	{"Filling", 15000000, 60},
	{"Root canal", 60000000, 90},
	{"Extraction", 20000000, 45},
	{"Whitening", 45000000, 60},
	{"Crown", 120000000, 90},
	{"Orthodontic check", 9000000, 30},
}

func main() {
	doctorCount := flag.Int("doctors", 12, "doctors to create")
	patientCount := flag.Int("patients", 2000, "patients to create")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	steps := []struct {
		name string
		run  func() error
	}{
		{"doctors", func() error { return seedDoctors(ctx, pool, faker, *doctorCount) }},
		{"treatments", func() error { return seedTreatments(ctx, pool) }},
		{"patients", func() error { return seedPatients(ctx, pool, faker, *patientCount) }},
	}
	for _, step := range steps {
		start := time.Now()
		if err := step.run(); err != nil {
			log.Fatal("seed failed", zap.String("step", step.name), zap.Error(err))
		}
		log.Info("seeded", zap.String("step", step.name), zap.Duration("took", time.Since(start)))
	}

	log.Info("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) error {
	return db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			specialty := specialties[faker.Number(0, len(specialties)-1)]
			_, err := tx.Exec(ctx, `
				INSERT INTO doctors (id, name, specialty, active)
				VALUES ($1, $2, $3, TRUE)
			`, uuid.New(), "Dr. "+faker.Name(), specialty)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func seedTreatments(ctx context.Context, pool *pgxpool.Pool) error {
	return db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		for _, t := range treatments {
			_, err := tx.Exec(ctx, `
				INSERT INTO treatments (id, name, price, duration_minutes)
				SELECT $1, $2, $3, $4
				WHERE NOT EXISTS (SELECT 1 FROM treatments WHERE name = $2)
			`, uuid.New(), t.name, t.price, t.duration)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// seedPatients bulk loads with COPY; document numbers are random 10-digit
// strings, so a rerun may collide and should use a fresh database.
func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) error {
	seen := make(map[string]bool, count)
	rows := make([][]any, 0, count)

	for len(rows) < count {
		doc := faker.Numerify("##########")
		if seen[doc] {
			continue
		}
		seen[doc] = true

		now := time.Now()
		rows = append(rows, []any{
			uuid.New(),
			doc,
			faker.Name(),
			faker.Email(),
			faker.Numerify("3#########"),
			now,
			now,
		})
	}

	_, err := pool.CopyFrom(ctx,
		pgx.Identifier{"patients"},
		[]string{"id", "document_number", "name", "email", "phone", "created_at", "updated_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}
