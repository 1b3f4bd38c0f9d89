package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reservation/internal/config"
	"github.com/hackgods/slot-reservation/internal/db"
	"github.com/hackgods/slot-reservation/internal/logger"
)

var symptoms = []string{
	"persistent headache for three days",
	"skin rash on both arms",
	"shortness of breath when climbing stairs",
	"lower back pain after lifting",
	"routine checkup",
	"follow-up on blood test results",
}

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	RequestRatio  float64
	DecisionRatio float64
	ReadRatio     float64
	RejectShare   float64 // share of decisions that reject instead of approve
	SlotLimit     int
	PostgresDSN   string
}

type slotRef struct {
	ID        uuid.UUID
	ProfileID uuid.UUID
	ServiceID uuid.UUID
}

type DataPool struct {
	Slots    []slotRef
	mu       sync.Mutex
	pending  []uuid.UUID
	patients []string
}

func (dp *DataPool) AddPending(id uuid.UUID, phone string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.pending = append(dp.pending, id)
	dp.patients = append(dp.patients, phone)
}

// TakePending removes and returns a random pending request so two workers
// rarely decide the same one.
func (dp *DataPool) TakePending(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.pending) == 0 {
		return uuid.Nil, false
	}
	idx := rng.Intn(len(dp.pending))
	id := dp.pending[idx]
	dp.pending[idx] = dp.pending[len(dp.pending)-1]
	dp.pending = dp.pending[:len(dp.pending)-1]
	return id, true
}

func (dp *DataPool) RandomPatient(rng *rand.Rand) (string, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.patients) == 0 {
		return "", false
	}
	return dp.patients[rng.Intn(len(dp.patients))], true
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

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Request   OperationMetrics
	Approve   OperationMetrics
	Reject    OperationMetrics
	Available OperationMetrics
	History   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     *zap.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "simulate: config load: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(baseCfg.Env, baseCfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "simulate: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	log.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("request", cfg.RequestRatio),
		zap.Float64("decision", cfg.DecisionRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal("load data pool", zap.Error(err))
	}
	log.Info("data pool loaded", zap.Int("slots", len(dataPool.Slots)))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.Run()
	sim.PrintReport()

	violations, err := checkCapacity(context.Background(), pgPool)
	if err != nil {
		log.Fatal("capacity check", zap.Error(err))
	}
	if len(violations) > 0 {
		for _, v := range violations {
			log.Error("capacity invariant violated", zap.String("slot", v))
		}
		os.Exit(2)
	}
	fmt.Println("Capacity invariant holds for every slot")
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		RequestRatio:  getFloat("SIM_REQUEST_RATIO", 0.5),
		DecisionRatio: getFloat("SIM_DECISION_RATIO", 0.3),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.2),
		RejectShare:   getFloat("SIM_REJECT_SHARE", 0.2),
		SlotLimit:     getInt("SIM_SLOT_LIMIT", 200),
		PostgresDSN:   base.PostgresDSN,
	}

	total := cfg.RequestRatio + cfg.DecisionRatio + cfg.ReadRatio
	if total > 0 {
		cfg.RequestRatio /= total
		cfg.DecisionRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

// loadDataPool picks a small set of future slots so workers contend on them.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, profile_id, service_id FROM time_slots
		WHERE status = 'available' AND start_time > now()
		ORDER BY start_time
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	dataPool := &DataPool{}
	for rows.Next() {
		var s slotRef
		if err := rows.Scan(&s.ID, &s.ProfileID, &s.ServiceID); err != nil {
			return nil, err
		}
		dataPool.Slots = append(dataPool.Slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no available slots, run cmd/seed first")
	}
	return dataPool, nil
}

// checkCapacity lists slots whose occupancy disagrees with their confirmed
// reservations or exceeds their capacity.
func checkCapacity(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx, `
		SELECT s.id::text, s.current_reservations, s.max_reservations, count(r.id)
		FROM time_slots s
		LEFT JOIN reservations r ON r.slot_id = s.id AND r.status = 'confirmed'
		GROUP BY s.id
		HAVING s.current_reservations > s.max_reservations
		    OR s.current_reservations <> count(r.id)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var (
			id             string
			current, limit int
			confirmed      int64
		)
		if err := rows.Scan(&id, &current, &limit, &confirmed); err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("%s current=%d max=%d confirmed=%d", id, current, limit, confirmed))
	}
	return out, rows.Err()
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	faker := gofakeit.New(uint64(time.Now().UnixNano()) + uint64(workerID))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.RequestRatio:
			s.doRequest(ctx, rng, faker)
		case r < s.config.RequestRatio+s.config.DecisionRatio:
			s.doDecision(ctx, rng)
		case rng.Intn(2) == 0:
			s.doAvailable(ctx, rng)
		default:
			s.doHistory(ctx, rng)
		}
	}
}

func (s *Simulator) doRequest(ctx context.Context, rng *rand.Rand, faker *gofakeit.Faker) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	phone := "+1555" + faker.Numerify("#######")

	body, _ := json.Marshal(map[string]any{
		"slot_id":    slot.ID,
		"service_id": slot.ServiceID,
		"urgency":    []string{"low", "normal", "high", "urgent"}[rng.Intn(4)],
		"patient": map[string]any{
			"name":     faker.Name(),
			"phone":    phone,
			"email":    faker.Email(),
			"symptoms": symptoms[rng.Intn(len(symptoms))],
		},
	})

	status, respBody, latency, err := s.call(ctx, http.MethodPost, "/requests", body)
	success := err == nil && status == http.StatusCreated
	if success {
		var resp struct {
			Request struct {
				ID uuid.UUID `json:"id"`
			} `json:"request"`
		}
		if json.Unmarshal(respBody, &resp) == nil && resp.Request.ID != uuid.Nil {
			s.pool.AddPending(resp.Request.ID, phone)
		}
	}
	s.metrics.Request.Record(latency, success, status == http.StatusConflict)
}

func (s *Simulator) doDecision(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.TakePending(rng)
	if !ok {
		return
	}

	if rng.Float64() < s.config.RejectShare {
		body, _ := json.Marshal(map[string]string{"rejected_by": "simulator", "reason": "schedule changed"})
		status, _, latency, err := s.call(ctx, http.MethodPost, "/requests/"+id.String()+"/reject", body)
		s.metrics.Reject.Record(latency, err == nil && status == http.StatusOK, status == http.StatusConflict)
		return
	}

	body, _ := json.Marshal(map[string]string{"approved_by": "simulator"})
	status, _, latency, err := s.call(ctx, http.MethodPost, "/requests/"+id.String()+"/approve", body)
	s.metrics.Approve.Record(latency, err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doAvailable(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	date := time.Now().AddDate(0, 0, 1+rng.Intn(7)).Format("2006-01-02")
	path := fmt.Sprintf("/profiles/%s/services/%s/available-slots?date=%s", slot.ProfileID, slot.ServiceID, date)

	status, _, latency, err := s.call(ctx, http.MethodGet, path, nil)
	s.metrics.Available.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doHistory(ctx context.Context, rng *rand.Rand) {
	phone, ok := s.pool.RandomPatient(rng)
	if !ok {
		return
	}
	status, _, latency, err := s.call(ctx, http.MethodGet, "/patients/"+strings.ReplaceAll(phone, "+", "%2B")+"/requests", nil)
	s.metrics.History.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) call(ctx context.Context, method, path string, body []byte) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, nil, latency, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody, latency, err
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Create request", &s.metrics.Request)
	printOperationReport("Approve", &s.metrics.Approve)
	printOperationReport("Reject", &s.metrics.Reject)
	printOperationReport("Available slots", &s.metrics.Available)
	printOperationReport("Patient history", &s.metrics.History)
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
