package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusmind/scheduling/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	counselorIDs, err := seedCounselors(context.Background(), pool, 30)
	if err != nil {
		log.Fatalf("seed counselors: %v", err)
	}
	if err := seedStudents(context.Background(), pool, 2000); err != nil {
		log.Fatalf("seed students: %v", err)
	}
	if err := seedAvailability(context.Background(), pool, counselorIDs); err != nil {
		log.Fatalf("seed availability windows: %v", err)
	}

	log.Println("seed complete")
}

func seedCounselors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d counselors", count)

	specialties := []string{
		"Anxiety & Stress",
		"Depression",
		"Academic Pressure",
		"Relationships",
		"Grief & Loss",
		"Substance Use",
		"Eating Disorders",
		"Crisis Support",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO counselors (id, name, specialty, accepting_appointments, created_at, updated_at)
			VALUES ($1, $2, $3, TRUE, now(), now())
		`, id, name, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func seedStudents(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d students", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		email := gofakeit.Email()

		_, err := tx.Exec(ctx, `
			INSERT INTO students (id, name, email, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, email)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// seedAvailability gives every counselor a morning and an afternoon window on
// each weekday. Windows are stored as minutes since midnight.
func seedAvailability(ctx context.Context, pool *pgxpool.Pool, counselorIDs []uuid.UUID) error {
	log.Printf("seeding availability windows for %d counselors", len(counselorIDs))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	type window struct{ start, end int }
	blocks := []window{
		{9 * 60, 12 * 60},  // 09:00-12:00
		{13 * 60, 17 * 60}, // 13:00-17:00
	}

	for _, cid := range counselorIDs {
		for day := 1; day <= 5; day++ { // Monday..Friday
			for _, b := range blocks {
				_, err := tx.Exec(ctx, `
					INSERT INTO availability_windows (id, counselor_id, day_of_week, start_minute, end_minute, is_available, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, TRUE, now(), now())
				`, uuid.New(), cid, day, b.start, b.end)
				if err != nil {
					return err
				}
			}
		}
	}

	return tx.Commit(ctx)
}
