package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/hongminglow/savedu/internal/models"
	"github.com/hongminglow/savedu/internal/storage"
)

// TestStoreIntegration exercises the stores against a live Postgres database.
func TestStoreIntegration(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION") != "true" {
		t.Skip("set RUN_DB_INTEGRATION=true to run this integration test")
	}
	_ = godotenv.Load("../../../.env")
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Fatal("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := Open(ctx, dbURL, true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	studentID := uuid.NewString()
	email := fmt.Sprintf("it_%d@example.com", time.Now().UnixNano())

	t.Run("accounts", func(t *testing.T) {
		acc, err := store.CreateAccount(ctx, models.Account{
			ID: studentID, Email: email, PasswordHash: "hash", Metadata: map[string]any{"full_name": "Test"},
		})
		if err != nil {
			t.Fatalf("create account: %v", err)
		}
		if _, err := store.CreateAccount(ctx, models.Account{ID: uuid.NewString(), Email: email, PasswordHash: "x"}); !errors.Is(err, storage.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
		found, err := store.FindAccountByEmail(ctx, email)
		if err != nil || found.ID != acc.ID || found.Metadata["full_name"] != "Test" {
			t.Fatalf("find by email = %+v, %v", found, err)
		}
	})

	t.Run("profiles", func(t *testing.T) {
		if _, err := store.RoleOf(ctx, studentID); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound before profile, got %v", err)
		}
		if err := store.EnsureProfile(ctx, models.Profile{ID: studentID, FullName: "Test"}); err != nil {
			t.Fatalf("ensure profile: %v", err)
		}
		if err := store.EnsureProfile(ctx, models.Profile{ID: studentID, FullName: "Other", Role: models.RoleAdmin}); err != nil {
			t.Fatalf("ensure profile twice: %v", err)
		}
		role, err := store.RoleOf(ctx, studentID)
		if err != nil || role != models.RoleStudent {
			t.Fatalf("role = %q, %v", role, err)
		}
	})

	t.Run("applications", func(t *testing.T) {
		app, err := store.CreateApplication(ctx, models.Application{
			StudentID: studentID, Title: "Master Data", Country: "France", Program: "MSc", Intake: "Sept 2027",
		})
		if err != nil {
			t.Fatalf("create application: %v", err)
		}
		if app.Status != models.StatusPending || app.StudentName != "Test" {
			t.Fatalf("unexpected application %+v", app)
		}
		n, err := store.CountStudentApplications(ctx, studentID)
		if err != nil || n != 1 {
			t.Fatalf("count = %d, %v", n, err)
		}
		list, err := store.ListApplications(ctx, storage.ApplicationFilter{Status: models.StatusPending, Search: "master"})
		if err != nil || len(list) == 0 {
			t.Fatalf("list = %v, %v", list, err)
		}
		updated, err := store.UpdateApplication(ctx, app.ID, models.StatusApproved, "ok")
		if err != nil || updated.Status != models.StatusApproved || updated.Notes != "ok" {
			t.Fatalf("update = %+v, %v", updated, err)
		}
		if err := store.DeleteApplication(ctx, app.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := store.DeleteApplication(ctx, app.ID); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound on second delete, got %v", err)
		}
	})

	t.Run("nullable columns", func(t *testing.T) {
		bareID := uuid.NewString()
		if _, err := store.pool.Exec(ctx,
			`INSERT INTO user_profiles (id, full_name, role) VALUES ($1, NULL, 'student')`, bareID); err != nil {
			t.Fatalf("insert profile: %v", err)
		}
		var appID int64
		if err := store.pool.QueryRow(ctx,
			`INSERT INTO applications (student_id, title, country, program, intake, status, notes)
			VALUES ($1, 'Licence', NULL, NULL, NULL, 'pending', NULL) RETURNING id`, bareID,
		).Scan(&appID); err != nil {
			t.Fatalf("insert application: %v", err)
		}
		defer store.DeleteApplication(ctx, appID)

		profile, err := store.Profile(ctx, bareID)
		if err != nil || profile.FullName != "" {
			t.Fatalf("profile = %+v, %v", profile, err)
		}
		mine, err := store.ListStudentApplications(ctx, bareID, 10)
		if err != nil || len(mine) != 1 || mine[0].Country != "" || mine[0].Notes != "" {
			t.Fatalf("student list = %+v, %v", mine, err)
		}
		all, err := store.ListApplications(ctx, storage.ApplicationFilter{Search: bareID[:8]})
		if err != nil || len(all) != 1 || all[0].ID != appID {
			t.Fatalf("search by student id = %+v, %v", all, err)
		}
	})

	t.Run("contact", func(t *testing.T) {
		msg, err := store.CreateContactMessage(ctx, models.ContactMessage{FullName: "A", Email: email, Message: "Bonjour"})
		if err != nil || msg.ID == 0 {
			t.Fatalf("create contact = %+v, %v", msg, err)
		}
	})
}
