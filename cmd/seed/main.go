package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

const (
	doctorCount       = 100
	nurseCount        = 30
	receptionistCount = 10
	patientCount      = 9000
	patientBatchSize  = 500
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	if _, err := logging.Setup(cfg.Env, cfg.LogLevel, "seed"); err != nil {
		log.Fatal().Err(err).Msg("logging setup error")
	}
	log.Info().Msg("seed starting")

	ctx := context.Background()
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN, db.PoolOptions{})
	if err == nil {
		err = db.Migrate(connectCtx, pool)
	}
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres setup error")
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	adminID, err := seedStaff(ctx, pool, faker)
	if err != nil {
		log.Fatal().Err(err).Msg("seed staff")
	}
	if err := seedPatients(ctx, pool, faker, patientCount); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}

	tokens := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	token, expiresAt, err := tokens.Issue(auth.Principal{UserID: adminID, Role: appointment.RoleAdmin})
	if err != nil {
		log.Fatal().Err(err).Msg("issue dev token")
	}

	log.Info().Msg("seed complete")
	fmt.Printf("admin token (expires %s):\n%s\n", expiresAt.Format(time.RFC3339), token)
}

type staffMember struct {
	role           appointment.Role
	specialization *string
	license        *string
}

// seedStaff inserts one admin plus doctors, nurses and receptionists in a
// single transaction and returns the admin's id.
func seedStaff(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker) (uuid.UUID, error) {
	log.Info().
		Int("doctors", doctorCount).
		Int("nurses", nurseCount).
		Int("receptionists", receptionistCount).
		Msg("seeding staff")

	var members []staffMember
	members = append(members, staffMember{role: appointment.RoleAdmin})
	for i := 0; i < doctorCount; i++ {
		specialty := specialties[faker.Number(0, len(specialties)-1)]
		license := fmt.Sprintf("MD-%06d", faker.Number(0, 999999))
		members = append(members, staffMember{role: appointment.RoleDoctor, specialization: &specialty, license: &license})
	}
	for i := 0; i < nurseCount; i++ {
		members = append(members, staffMember{role: appointment.RoleNurse})
	}
	for i := 0; i < receptionistCount; i++ {
		members = append(members, staffMember{role: appointment.RoleReceptionist})
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var adminID uuid.UUID
	for i, m := range members {
		id := uuid.New()
		if i == 0 {
			adminID = id
		}
		status := appointment.StaffActive
		// A few inactive doctors exercise the booking checks.
		if m.role == appointment.RoleDoctor && faker.Number(1, 20) == 1 {
			status = appointment.StaffInactive
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO users (id, email, first_name, last_name, phone, role, status,
			                   license_number, specialization, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
			ON CONFLICT (email) DO NOTHING
		`, id, uniqueEmail(faker, i), faker.FirstName(), faker.LastName(), faker.Phone(),
			string(m.role), string(status), m.license, m.specialization)
		if err != nil {
			return uuid.Nil, fmt.Errorf("insert %s: %w", m.role, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}
	log.Info().Int("count", len(members)).Msg("staff seeded")
	return adminID, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) error {
	log.Info().Int("count", count).Msg("seeding patients")

	year := time.Now().Year()
	// Continue numbering after earlier seed runs.
	var existing int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM patients`).Scan(&existing); err != nil {
		return fmt.Errorf("count patients: %w", err)
	}

	for offset := 0; offset < count; offset += patientBatchSize {
		end := min(offset+patientBatchSize, count)

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			dob := faker.DateRange(time.Now().AddDate(-90, 0, 0), time.Now().AddDate(-1, 0, 0))
			batch.Queue(`
				INSERT INTO patients (id, patient_number, first_name, last_name, email, phone,
				                      date_of_birth, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
				ON CONFLICT (patient_number) DO NOTHING
			`, uuid.New(), fmt.Sprintf("P%d%06d", year, existing+i+1),
				faker.FirstName(), faker.LastName(), faker.Email(), faker.Phone(), dob)
		}

		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert patients %d-%d: %w", offset, end, err)
		}
		log.Info().Int("seeded", end).Int("total", count).Msg("patients seeded")
	}
	return nil
}

func uniqueEmail(faker *gofakeit.Faker, i int) string {
	return fmt.Sprintf("%s.%d@clinic.example", faker.Username(), i)
}
