package rfid

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	summaries []ClassSummary
	items     []Item
}

func (f *fakeRepo) ListClassSummaries(ctx context.Context) ([]ClassSummary, error) {
	return f.summaries, nil
}

func (f *fakeRepo) ListItemsByClass(ctx context.Context, rentalClass string) ([]Item, error) {
	return f.items, nil
}

func newTestHandler(repo *fakeRepo) *chi.Mux {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	handler := NewHandler(logger, NewService(repo))
	router := chi.NewRouter()
	handler.MountRoutes(router)
	return router
}

func TestListItemsNeverScannedTag(t *testing.T) {
	// The ingestion feed registers tags before the first read, so
	// last_scanned_at can legitimately be absent.
	scanned := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	repo := &fakeRepo{items: []Item{
		{TagID: "E28011700000020ABC", RentalClass: "SL19", CommonName: "SCISSOR LIFT 19FT", LastScannedAt: &scanned},
		{TagID: "E28011700000020DEF", RentalClass: "SL19", CommonName: "SCISSOR LIFT 19FT"},
	}}
	router := newTestHandler(repo)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/rfid/classes/SL19/items", nil))
	require.Equal(t, 200, rec.Code)

	var body struct {
		RentalClass string `json:"rental_class"`
		Items       []Item `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "SL19", body.RentalClass)
	require.Len(t, body.Items, 2)
	require.NotNil(t, body.Items[0].LastScannedAt)
	require.True(t, scanned.Equal(*body.Items[0].LastScannedAt))
	require.Nil(t, body.Items[1].LastScannedAt)
}

func TestListClasses(t *testing.T) {
	repo := &fakeRepo{summaries: []ClassSummary{{RentalClass: "SL19", CommonName: "SCISSOR LIFT 19FT", TagCount: 12}}}
	router := newTestHandler(repo)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/rfid/classes", nil))
	require.Equal(t, 200, rec.Code)

	var body struct {
		Classes []ClassSummary `json:"classes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Classes, 1)
	require.Equal(t, 12, body.Classes[0].TagCount)
}
