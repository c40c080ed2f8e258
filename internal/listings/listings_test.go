package listings

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func seedListings(t *testing.T, s *Service) {
	t.Helper()
	ctx := context.Background()
	fixtures := []*Listing{
		{DealerID: "dlr_1", Title: "Royal Enfield Classic 350", Brand: "Royal Enfield", Model: "Classic 350", Year: 2021, Price: 145000, City: "Pune"},
		{DealerID: "dlr_1", Title: "Honda Activa 6G", Brand: "Honda", Model: "Activa 6G", Year: 2022, Price: 72000, City: "Mumbai"},
		{DealerID: "dlr_2", Title: "Yamaha R15 V4", Brand: "Yamaha", Model: "R15", Year: 2023, Price: 182000, City: "Pune"},
	}
	for _, f := range fixtures {
		if _, err := s.Create(ctx, f); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
}

func TestService_Create(t *testing.T) {
	s := NewService(NewMemoryStore())

	listing, err := s.Create(context.Background(), &Listing{
		DealerID: "dlr_1",
		Title:    "Honda Activa 6G",
		Brand:    "Honda",
		Price:    72000,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if listing.ID == "" {
		t.Error("Expected listing ID to be assigned")
	}
	if listing.Status != StatusPublished {
		t.Errorf("Expected default status published, got %q", listing.Status)
	}
}

func TestService_CreateInvalid(t *testing.T) {
	s := NewService(NewMemoryStore())

	_, err := s.Create(context.Background(), &Listing{DealerID: "dlr_1", Brand: "Honda", Price: 100})
	if err != ErrInvalidListing {
		t.Errorf("Expected ErrInvalidListing for missing title, got %v", err)
	}
	_, err = s.Create(context.Background(), &Listing{DealerID: "dlr_1", Title: "Bike", Brand: "Honda", Price: 0})
	if err != ErrInvalidListing {
		t.Errorf("Expected ErrInvalidListing for zero price, got %v", err)
	}
}

func TestService_SearchByText(t *testing.T) {
	s := NewService(NewMemoryStore())
	seedListings(t, s)

	results, total, err := s.Search(context.Background(), Query{Q: "activa"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if total != 1 || len(results) != 1 {
		t.Fatalf("Expected 1 match, got total=%d len=%d", total, len(results))
	}
	if results[0].Brand != "Honda" {
		t.Errorf("Expected Honda match, got %q", results[0].Brand)
	}
}

func TestService_SearchFilters(t *testing.T) {
	s := NewService(NewMemoryStore())
	seedListings(t, s)
	ctx := context.Background()

	// City filter, case-insensitive
	results, _, err := s.Search(ctx, Query{City: "pune"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Expected 2 Pune listings, got %d", len(results))
	}

	// Price ceiling
	results, _, _ = s.Search(ctx, Query{PriceMax: 150000})
	if len(results) != 2 {
		t.Errorf("Expected 2 listings under 150000, got %d", len(results))
	}

	// Combined filters narrow further
	results, _, _ = s.Search(ctx, Query{City: "Pune", PriceMax: 150000})
	if len(results) != 1 {
		t.Fatalf("Expected 1 listing, got %d", len(results))
	}
	if results[0].Brand != "Royal Enfield" {
		t.Errorf("Expected Royal Enfield, got %q", results[0].Brand)
	}
}

func TestService_SearchExcludesUnpublished(t *testing.T) {
	s := NewService(NewMemoryStore())
	seedListings(t, s)
	ctx := context.Background()

	all, _, _ := s.Search(ctx, Query{})
	sold := all[0]
	if err := s.UpdateStatus(ctx, sold.ID, sold.DealerID, StatusSold); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	results, total, _ := s.Search(ctx, Query{})
	if total != 2 || len(results) != 2 {
		t.Errorf("Expected sold listing to drop out of search, got total=%d", total)
	}
}

func TestService_SearchPagination(t *testing.T) {
	s := NewService(NewMemoryStore())
	seedListings(t, s)

	page1, total, _ := s.Search(context.Background(), Query{Limit: 2})
	if total != 3 || len(page1) != 2 {
		t.Fatalf("Expected total 3 with 2 on page, got total=%d len=%d", total, len(page1))
	}
	page2, _, _ := s.Search(context.Background(), Query{Limit: 2, Offset: 2})
	if len(page2) != 1 {
		t.Fatalf("Expected 1 on second page, got %d", len(page2))
	}
	if page1[0].ID == page2[0].ID {
		t.Error("Expected pages to not overlap")
	}
}

func TestService_UpdateStatusOwnership(t *testing.T) {
	s := NewService(NewMemoryStore())
	seedListings(t, s)
	ctx := context.Background()

	all, _, _ := s.Search(ctx, Query{Brand: "Yamaha"})
	target := all[0]

	// Wrong dealer cannot touch it.
	if err := s.UpdateStatus(ctx, target.ID, "dlr_1", StatusSold); err != ErrListingNotFound {
		t.Errorf("Expected ErrListingNotFound for wrong dealer, got %v", err)
	}
	// Bad status rejected.
	if err := s.UpdateStatus(ctx, target.ID, target.DealerID, "gone"); err != ErrInvalidStatus {
		t.Errorf("Expected ErrInvalidStatus, got %v", err)
	}
}

func TestHandler_SearchInvalidPriceMax(t *testing.T) {
	gin.SetMode(gin.TestMode)

	s := NewService(NewMemoryStore())
	seedListings(t, s)
	h := NewHandler(s)

	router := gin.New()
	h.RegisterPublicRoutes(router.Group("/api"))

	req := httptest.NewRequest(http.MethodGet, "/api/listings?price_max=cheap", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for non-numeric price_max, got %d", w.Code)
	}
}

func TestHandler_SearchValidPriceMax(t *testing.T) {
	gin.SetMode(gin.TestMode)

	s := NewService(NewMemoryStore())
	seedListings(t, s)
	h := NewHandler(s)

	router := gin.New()
	h.RegisterPublicRoutes(router.Group("/api"))

	req := httptest.NewRequest(http.MethodGet, "/api/listings?price_max=100000", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}
