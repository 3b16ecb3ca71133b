package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Token        string
	StormSize    int // concurrent creates aimed at one doctor and window
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	StatusRatio  float64
	ReadRatio    float64
	PatientLimit int
	DoctorLimit  int
	Location     *time.Location
}

type DataPool struct {
	Patients     []uuid.UUID
	Doctors      []uuid.UUID
	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, pct int) int {
	idx := n * pct / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Storm         OperationMetrics
	Booking       OperationMetrics
	Confirm       OperationMetrics
	ReadByID      OperationMetrics
	ListByPatient OperationMetrics
	Schedule      OperationMetrics
	Availability  OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	if _, err := logging.Setup(baseCfg.Env, baseCfg.LogLevel, "simulate"); err != nil {
		log.Fatal().Err(err).Msg("logging setup error")
	}

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Int("storm", cfg.StormSize).
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("status", cfg.StatusRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	log.Info().Int("patients", len(dataPool.Patients)).Int("doctors", len(dataPool.Doctors)).Msg("data pool loaded")

	if cfg.Token == "" {
		cfg.Token, err = issueToken(ctx, pgPool, baseCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("issue token")
		}
	}

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	created := sim.RunStorm()
	sim.Run()
	sim.PrintReport()

	if created > 1 {
		log.Error().Int64("created", created).Msg("double booking detected in storm")
		os.Exit(1)
	}
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:"+base.HTTPPort),
		Token:        os.Getenv("SIM_TOKEN"),
		StormSize:    getInt("SIM_STORM_SIZE", 50),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.4),
		StatusRatio:  getFloat("SIM_STATUS_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.4),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 4000),
		DoctorLimit:  getInt("SIM_DOCTOR_LIMIT", 50),
		Location:     base.ClinicLocation,
	}

	total := cfg.BookingRatio + cfg.StatusRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.StatusRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.StormSize < 0 {
		return fmt.Errorf("SIM_STORM_SIZE must be >= 0")
	}
	if cfg.Duration < 0 {
		return fmt.Errorf("SIM_DURATION must be >= 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	var err error
	dataPool.Patients, err = loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	dataPool.Doctors, err = loadIDs(ctx, pool, `
		SELECT id FROM users
		WHERE role = 'doctor' AND status = 'active'
		LIMIT $1
	`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run cmd/seed first")
	}
	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no active doctors loaded, run cmd/seed first")
	}
	return dataPool, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// issueToken signs a receptionist token for an existing staff member so
// created_by references a real user.
func issueToken(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) (string, error) {
	var id uuid.UUID
	err := pool.QueryRow(ctx, `
		SELECT id FROM users
		WHERE role IN ('receptionist', 'admin') AND status = 'active'
		LIMIT 1
	`).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("find staff user: %w", err)
	}
	token, _, err := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL).
		Issue(auth.Principal{UserID: id, Role: appointment.RoleReceptionist})
	return token, err
}

// RunStorm fires StormSize simultaneous creates for the same doctor and
// window and returns how many were accepted. Anything above one is a
// double booking.
func (s *Simulator) RunStorm() int64 {
	if s.config.StormSize == 0 {
		return 0
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	startAt := s.randomStart(rng)

	log.Info().
		Str("doctor_id", doctorID.String()).
		Time("start", startAt).
		Int("requests", s.config.StormSize).
		Msg("starting booking storm")

	ctx := context.Background()
	gate := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < s.config.StormSize; i++ {
		patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			s.book(ctx, &s.metrics.Storm, doctorID, patientID, startAt)
		}()
	}
	close(gate)
	wg.Wait()

	created := atomic.LoadInt64(&s.metrics.Storm.Success)
	log.Info().
		Int64("created", created).
		Int64("conflicts", atomic.LoadInt64(&s.metrics.Storm.Conflict)).
		Int64("errors", atomic.LoadInt64(&s.metrics.Storm.Error)).
		Msg("booking storm complete")
	return created
}

func (s *Simulator) Run() {
	if s.config.Duration == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting mixed workload")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Info().Msg("mixed workload complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
				patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
				s.book(ctx, &s.metrics.Booking, doctorID, patientID, s.randomStart(rng))
			case r < s.config.BookingRatio+s.config.StatusRatio:
				s.doConfirm(ctx, rng)
			default:
				switch rng.Intn(4) {
				case 0:
					s.doReadByID(ctx, rng)
				case 1:
					s.doListByPatient(ctx, rng)
				case 2:
					s.doSchedule(ctx, rng)
				case 3:
					s.doAvailability(ctx, rng)
				}
			}
		}
	}
}

// randomStart picks a 30 minute grid point during clinic hours in the next
// two weeks.
func (s *Simulator) randomStart(rng *rand.Rand) time.Time {
	day := time.Now().In(s.config.Location).AddDate(0, 0, 1+rng.Intn(14))
	slot := rng.Intn(16) // 09:00 to 16:30
	return time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, s.config.Location).
		Add(time.Duration(slot) * 30 * time.Minute)
}

func (s *Simulator) book(ctx context.Context, om *OperationMetrics, doctorID, patientID uuid.UUID, startAt time.Time) {
	body, _ := json.Marshal(map[string]any{
		"patient_id":       patientID.String(),
		"doctor_id":        doctorID.String(),
		"appointment_date": startAt.Format(time.RFC3339),
		"duration_minutes": 30,
		"appointment_type": "consultation",
	})

	start := time.Now()
	resp, err := s.do(ctx, http.MethodPost, "/api/v1/appointments", body)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var created struct {
				ID uuid.UUID `json:"id"`
			}
			if json.NewDecoder(resp.Body).Decode(&created) == nil && created.ID != uuid.Nil {
				s.pool.AddAppointment(created.ID)
			}
		case http.StatusConflict:
			conflict = true
		}
	}
	om.Record(latency, success, conflict)
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	body, _ := json.Marshal(map[string]string{"status": string(appointment.StatusConfirmed)})
	s.timed(ctx, &s.metrics.Confirm, http.MethodPost,
		fmt.Sprintf("/api/v1/appointments/%s/status", apptID), body, true)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	s.timed(ctx, &s.metrics.ReadByID, http.MethodGet,
		fmt.Sprintf("/api/v1/appointments/%s", apptID), nil, false)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	s.timed(ctx, &s.metrics.ListByPatient, http.MethodGet,
		fmt.Sprintf("/api/v1/appointments?patient_id=%s&limit=20&offset=0", patientID), nil, false)
}

func (s *Simulator) doSchedule(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	day := s.randomStart(rng).Format(time.DateOnly)
	s.timed(ctx, &s.metrics.Schedule, http.MethodGet,
		fmt.Sprintf("/api/v1/doctors/%s/schedule?date=%s", doctorID, day), nil, false)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	body, _ := json.Marshal(map[string]any{
		"doctor_id":        s.pool.Doctors[rng.Intn(len(s.pool.Doctors))].String(),
		"appointment_date": s.randomStart(rng).Format(time.RFC3339),
		"duration_minutes": 30,
	})
	s.timed(ctx, &s.metrics.Availability, http.MethodPost, "/api/v1/appointments/availability", body, false)
}

// timed issues a request and counts any 2xx as success. When countConflict
// is set a 409 is recorded separately from errors.
func (s *Simulator) timed(ctx context.Context, om *OperationMetrics, method, path string, body []byte, countConflict bool) {
	start := time.Now()
	resp, err := s.do(ctx, method, path, body)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		resp.Body.Close()
		success = resp.StatusCode >= 200 && resp.StatusCode < 300
		conflict = countConflict && resp.StatusCode == http.StatusConflict
	}
	om.Record(latency, success, conflict)
}

func (s *Simulator) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+s.config.Token)
	return s.client.Do(req)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Storm size: %d\n", s.config.StormSize)
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking storm (one doctor, one window)", &s.metrics.Storm)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)
	printOperationReport("Doctor schedule", &s.metrics.Schedule)
	printOperationReport("Availability", &s.metrics.Availability)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
