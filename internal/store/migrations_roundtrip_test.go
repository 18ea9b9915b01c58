package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("NAVALINGO_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("NAVALINGO_TEST_DATABASE_URL is not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	migrationsDir := filepath.Join("..", "..", "db", "migrations")

	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}

	if err := applyDownMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}

	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
}

func TestDocumentLifecyclePostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("NAVALINGO_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("NAVALINGO_TEST_DATABASE_URL is not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	s := NewPostgresStore(db)

	if err := s.CreateUser(ctx, User{
		ID:           "user_test1",
		DisplayName:  "Test User",
		Email:        "Roundtrip@Example.com",
		PasswordHash: "x",
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	user, err := s.GetUserByEmail(ctx, "roundtrip@example.com")
	if err != nil {
		t.Fatalf("get user by lowered email: %v", err)
	}
	if user.Tier != "free" {
		t.Fatalf("expected default tier free, got %q", user.Tier)
	}

	doc := Document{
		ID:          "doc_test1",
		OwnerID:     user.ID,
		Title:       "Draft",
		ContentText: "hello world",
		LiveWordCap: 200,
	}
	if err := s.InsertDocument(ctx, doc); err != nil {
		t.Fatalf("insert document: %v", err)
	}
	if err := s.TrashDocument(ctx, doc.ID); err != nil {
		t.Fatalf("trash document: %v", err)
	}

	active, err := s.ListDocuments(ctx, user.ID, 10)
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("trashed document still listed as active")
	}

	trashed, err := s.ListTrashedDocuments(ctx, user.ID)
	if err != nil {
		t.Fatalf("list trashed: %v", err)
	}
	if len(trashed) != 1 || trashed[0].ID != doc.ID {
		t.Fatalf("expected one trashed document, got %d", len(trashed))
	}

	if err := s.RestoreDocument(ctx, doc.ID); err != nil {
		t.Fatalf("restore document: %v", err)
	}
	restored, err := s.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get restored document: %v", err)
	}
	if restored.TrashedAt != nil {
		t.Fatal("restored document still carries trashed_at")
	}
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}

func applyDownMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return err
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.down\.sql$`)
	type migration struct {
		version string
		path    string
	}
	downs := make([]migration, 0)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		downs = append(downs, migration{
			version: match[1],
			path:    filepath.Join(migrationsDir, name),
		})
	}

	sort.Slice(downs, func(i, j int) bool {
		return downs[i].version > downs[j].version
	})

	for _, down := range downs {
		sqlBytes, err := os.ReadFile(down.path)
		if err != nil {
			return err
		}
		sqlText := strings.TrimSpace(string(sqlBytes))
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			return err
		}
	}

	return nil
}
