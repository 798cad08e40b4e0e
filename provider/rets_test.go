package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mls_syncd/config"
	"mls_syncd/models"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func retsFieldMap() map[string]string {
	return map[string]string{
		"ListingKey":            "external_id",
		"StandardStatus":        "status",
		"ListPrice":             "price",
		"StreetAddress":         "street",
		"CityName":              "city",
		"StateOrProvince":       "state",
		"BedroomsTotal":         "beds",
		"BathroomsTotalDecimal": "baths",
		"LivingArea":            "sqft",
		"ModificationTimestamp": "modified_at",
		"Photos":                "media_urls",
	}
}

func newRETSServer(t *testing.T, searchHits *int) *httptest.Server {
	t.Helper()
	login := loadFixture(t, "rets_login.xml")
	search := loadFixture(t, "rets_search.xml")

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "testuser" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		switch r.URL.Path {
		case "/login":
			http.SetCookie(w, &http.Cookie{Name: "RETS-Session-ID", Value: "sess42"})
			w.Write(login)
		case "/search":
			if searchHits != nil {
				*searchHits++
			}
			w.Write(search)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newRETSAdapterForServer(srv *httptest.Server) *RETSAdapter {
	cfg := &config.ProviderConfig{
		ID:        "crea",
		Kind:      "rets",
		LoginURL:  srv.URL + "/login",
		SearchURL: srv.URL + "/search",
		FieldMap:  retsFieldMap(),
	}
	creds := config.Credentials{Username: "testuser", Password: "secret", UserAgent: "mls_syncd/test"}
	return NewRETSAdapter(cfg, creds, srv.Client())
}

func TestRETSConnectAndFetch(t *testing.T) {
	srv := newRETSServer(t, nil)
	defer srv.Close()

	a := newRETSAdapterForServer(srv)
	ctx := context.Background()

	if err := a.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if a.sessionID != "sess42" {
		t.Fatalf("session not captured: %q", a.sessionID)
	}

	recs, err := a.FetchProperties(ctx, FetchOptions{Kind: models.SyncKindFull, IncludeMedia: true})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}

	first := recs[0]
	if first.ExternalID != "W1000001" {
		t.Fatalf("external id: %s", first.ExternalID)
	}
	if first.Status != models.StatusActive {
		t.Fatalf("status: %s", first.Status)
	}
	if first.Price == nil || *first.Price != 649900 {
		t.Fatalf("price: %v", first.Price)
	}
	if first.Address.City != "Windsor" {
		t.Fatalf("city: %s", first.Address.City)
	}
	if first.SqFt == nil || *first.SqFt != 1540 {
		t.Fatalf("sqft: %v", first.SqFt)
	}
	if len(first.Media) != 2 || first.Media[0].Order != 0 || first.Media[1].Order != 1 {
		t.Fatalf("media: %+v", first.Media)
	}
	if len(first.Raw) == 0 {
		t.Fatalf("raw payload not retained")
	}

	if recs[1].Status != models.StatusSold {
		t.Fatalf("second status: %s", recs[1].Status)
	}
	if len(recs[1].Media) != 0 {
		t.Fatalf("second record should have no media")
	}
}

func TestRETSIncrementalStrictlyGreater(t *testing.T) {
	srv := newRETSServer(t, nil)
	defer srv.Close()

	a := newRETSAdapterForServer(srv)
	ctx := context.Background()
	if err := a.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	// Watermark equal to the second record's timestamp: only the first
	// (strictly newer) record may come back.
	watermark, _ := time.Parse(time.RFC3339, "2024-05-28T17:40:00Z")
	recs, err := a.FetchProperties(ctx, FetchOptions{
		Kind:          models.SyncKindIncremental,
		ModifiedSince: &watermark,
	})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(recs) != 1 || recs[0].ExternalID != "W1000001" {
		t.Fatalf("expected only W1000001, got %+v", recs)
	}
}

func TestRETSAuthFailure(t *testing.T) {
	srv := newRETSServer(t, nil)
	defer srv.Close()

	a := newRETSAdapterForServer(srv)
	a.creds.Password = "wrong"

	err := a.Connect(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
	if a.connected {
		t.Fatalf("adapter must not be connected after auth failure")
	}
}

func TestRETSServerLoginErrorIsNotAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(`<RETS ReplyCode="20036" ReplyText="Miscellaneous server login error"></RETS>`))
	}))
	defer srv.Close()

	a := newRETSAdapterForServer(srv)
	err := a.Connect(context.Background())
	if err == nil {
		t.Fatalf("expected login failure")
	}
	if errors.Is(err, ErrAuthFailed) {
		t.Fatalf("server-side login error misclassified as auth failure: %v", err)
	}
	if a.connected {
		t.Fatalf("adapter must not be connected after login failure")
	}
}

func TestRETSFetchRequiresConnect(t *testing.T) {
	srv := newRETSServer(t, nil)
	defer srv.Close()

	a := newRETSAdapterForServer(srv)
	if _, err := a.FetchProperties(context.Background(), FetchOptions{Kind: models.SyncKindFull}); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestRETSHealthCheck(t *testing.T) {
	srv := newRETSServer(t, nil)
	defer srv.Close()

	a := newRETSAdapterForServer(srv)
	h, err := a.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("healthcheck: %v", err)
	}
	if !h.Healthy {
		t.Fatalf("expected healthy, got %+v", h)
	}

	a.creds.Password = "wrong"
	h, err = a.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("healthcheck: %v", err)
	}
	if h.Healthy {
		t.Fatalf("expected unhealthy with bad credentials")
	}
}
