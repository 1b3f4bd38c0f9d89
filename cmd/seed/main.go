package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reservation/internal/config"
	"github.com/hackgods/slot-reservation/internal/db"
	"github.com/hackgods/slot-reservation/internal/logger"
)

var serviceCatalog = []struct {
	name     string
	minutes  int
	minPrice float64
	maxPrice float64
}{
	{"General Consultation", 30, 40, 90},
	{"Follow-up Visit", 15, 20, 45},
	{"Dermatology Assessment", 45, 80, 160},
	{"Cardiology Checkup", 60, 120, 250},
	{"Pediatric Consultation", 30, 50, 100},
	{"Physiotherapy Session", 45, 35, 80},
	{"Nutrition Counselling", 30, 30, 70},
}

type seededService struct {
	id        uuid.UUID
	profileID uuid.UUID
	minutes   int
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed: config load: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("seed failed", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	profiles := envInt("SEED_PROFILES", 20)
	days := envInt("SEED_DAYS", 14)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}

	services, err := seedProfiles(ctx, pool, profiles)
	if err != nil {
		return fmt.Errorf("seed profiles: %w", err)
	}
	log.Info("profiles and services seeded", zap.Int("profiles", profiles), zap.Int("services", len(services)))

	n, err := seedSlots(ctx, pool, services, days, time.Now())
	if err != nil {
		return fmt.Errorf("seed slots: %w", err)
	}
	log.Info("slots seeded", zap.Int64("slots", n), zap.Int("days", days))
	return nil
}

func seedProfiles(ctx context.Context, pool *pgxpool.Pool, count int) ([]seededService, error) {
	var services []seededService

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			profileID := uuid.New()
			phone := "+1" + gofakeit.Numerify("##########")
			name := "Dr. " + gofakeit.Name()

			if _, err := tx.Exec(ctx, `
				INSERT INTO profiles (id, name, phone) VALUES ($1, $2, $3)
			`, profileID, name, phone); err != nil {
				return err
			}

			// two or three distinct services per profile
			offered := gofakeit.Number(2, 3)
			start := gofakeit.Number(0, len(serviceCatalog)-1)
			for j := 0; j < offered; j++ {
				item := serviceCatalog[(start+j)%len(serviceCatalog)]
				price := decimal.NewFromFloat(gofakeit.Price(item.minPrice, item.maxPrice)).Round(2)
				svc := seededService{id: uuid.New(), profileID: profileID, minutes: item.minutes}

				if _, err := tx.Exec(ctx, `
					INSERT INTO services (id, profile_id, name, duration_minutes, price)
					VALUES ($1, $2, $3, $4, $5)
				`, svc.id, profileID, item.name, item.minutes, price); err != nil {
					return err
				}
				services = append(services, svc)
			}
		}
		return nil
	})
	return services, err
}

// seedSlots gives each profile a working day of 09:00 to 17:00 per day,
// rotating through its services so slots never overlap.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, services []seededService, days int, now time.Time) (int64, error) {
	byProfile := make(map[uuid.UUID][]seededService)
	for _, s := range services {
		byProfile[s.profileID] = append(byProfile[s.profileID], s)
	}

	var rows [][]any
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	for profileID, offered := range byProfile {
		for d := 1; d <= days; d++ {
			day := today.AddDate(0, 0, d)
			if day.Weekday() == time.Sunday {
				continue
			}
			cursor := day.Add(9 * time.Hour)
			closing := day.Add(17 * time.Hour)

			for i := 0; ; i++ {
				svc := offered[i%len(offered)]
				end := cursor.Add(time.Duration(svc.minutes) * time.Minute)
				if end.After(closing) {
					break
				}
				capacity := 1
				if gofakeit.Number(1, 10) == 1 {
					capacity = gofakeit.Number(2, 4)
				}
				rows = append(rows, []any{uuid.New(), profileID, svc.id, cursor, end, capacity, 0, "available"})
				cursor = end
			}
		}
	}

	return pool.CopyFrom(ctx,
		pgx.Identifier{"time_slots"},
		[]string{"id", "profile_id", "service_id", "start_time", "end_time", "max_reservations", "current_reservations", "status"},
		pgx.CopyFromRows(rows),
	)
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
