package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/hongminglow/savedu/internal/models"
	"github.com/hongminglow/savedu/internal/storage"
)

func TestApplicationListingFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutProfile(models.Profile{ID: "s1", FullName: "Awa Diallo", Role: models.RoleStudent})

	first, _ := s.CreateApplication(ctx, models.Application{StudentID: "s1", Title: "Licence Gestion", Program: "BBA"})
	second, _ := s.CreateApplication(ctx, models.Application{StudentID: "s1", Title: "Master Data", Intake: "Sept"})
	if _, err := s.UpdateApplication(ctx, second.ID, models.StatusApproved, "dossier complet"); err != nil {
		t.Fatalf("update: %v", err)
	}

	newest, _ := s.ListApplications(ctx, storage.ApplicationFilter{})
	if len(newest) != 2 || newest[0].ID != second.ID {
		t.Fatalf("expected newest first, got %+v", newest)
	}
	oldest, _ := s.ListApplications(ctx, storage.ApplicationFilter{Sort: storage.SortOldest})
	if oldest[0].ID != first.ID {
		t.Fatalf("expected oldest first, got %+v", oldest)
	}
	approved, _ := s.ListApplications(ctx, storage.ApplicationFilter{Status: models.StatusApproved})
	if len(approved) != 1 || approved[0].Notes != "dossier complet" {
		t.Fatalf("status filter failed: %+v", approved)
	}
	byName, _ := s.ListApplications(ctx, storage.ApplicationFilter{Search: "diallo"})
	if len(byName) != 2 {
		t.Fatalf("student name search failed: %+v", byName)
	}
	byID, _ := s.ListApplications(ctx, storage.ApplicationFilter{Search: "S1"})
	if len(byID) != 2 {
		t.Fatalf("student id search failed: %+v", byID)
	}

	counts, _ := s.CountApplicationsByStatus(ctx)
	if counts[models.StatusPending] != 1 || counts[models.StatusApproved] != 1 || counts[models.StatusRejected] != 0 {
		t.Fatalf("unexpected counts %v", counts)
	}
	if err := s.DeleteApplication(ctx, first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteApplication(ctx, first.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountsAreUniqueByEmail(t *testing.T) {
	s := New()
	if _, err := s.CreateAccount(context.Background(), models.Account{ID: "1", Email: "A@example.com"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateAccount(context.Background(), models.Account{ID: "2", Email: "a@example.com"}); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}
