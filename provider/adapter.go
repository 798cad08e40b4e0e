package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"mls_syncd/config"
	"mls_syncd/models"
)

var (
	// ErrNotConnected is returned by fetch operations before Connect succeeds.
	ErrNotConnected = errors.New("provider: not connected")
	// ErrAuthFailed is returned when the provider rejects our credentials.
	// Runs hitting this fail immediately with no partial processing.
	ErrAuthFailed = errors.New("provider: authentication failed")
)

// Health is the result of a provider health check.
type Health struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message"`
}

// Metadata describes what a provider can serve.
type Metadata struct {
	ResourceClasses []string `json:"resource_classes"`
	AvailableFields []string `json:"available_fields"`
	ProtocolVersion string   `json:"protocol_version"`
}

// FetchOptions parameterizes one FetchProperties call.
type FetchOptions struct {
	Kind models.SyncKind
	// ModifiedSince bounds an incremental fetch: only records whose
	// provider-side last-modified is strictly after it are returned. Ignored
	// for full syncs.
	ModifiedSince *time.Time
	BatchSize     int
	MaxRecords    int
	IncludeMedia  bool
}

// Adapter is the uniform contract every provider implementation satisfies.
// One adapter instance serves one run; the orchestrator connects it at run
// start and disconnects it in its finalize path.
type Adapter interface {
	ProviderID() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	HealthCheck(ctx context.Context) (Health, error)
	FetchProperties(ctx context.Context, opts FetchOptions) ([]models.ListingRecord, error)
	// FetchPropertyByID returns (nil, nil) when the provider has no record
	// with the given external id.
	FetchPropertyByID(ctx context.Context, externalID string) (*models.ListingRecord, error)
	Metadata(ctx context.Context) (*Metadata, error)
}

// New builds the adapter for a provider config, keyed on its kind.
func New(cfg *config.ProviderConfig, creds config.Credentials, client *http.Client) (Adapter, error) {
	switch cfg.Kind {
	case "mock":
		return NewMockAdapter(cfg), nil
	case "rets":
		return NewRETSAdapter(cfg, creds, client), nil
	case "portal":
		return NewPortalAdapter(cfg, client), nil
	default:
		return nil, fmt.Errorf("unknown provider kind: %s", cfg.Kind)
	}
}
