package provider_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hongminglow/savedu/internal/models"
	"github.com/hongminglow/savedu/internal/tokens"
)

func seedSession(t *testing.T, store tokens.Storage, session *models.Session) {
	t.Helper()
	raw, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := tokens.LocalArea(store, "v1").Set(context.Background(), storageKey, string(raw), 0); err != nil {
		t.Fatalf("seed: %v", err)
	}
}
