package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/go-faker/faker/v4"

	"mls_syncd/config"
	"mls_syncd/models"
)

const defaultMockListings = 50

var mockCities = []struct {
	city  string
	state string
}{
	{"Windsor", "ON"},
	{"Toronto", "ON"},
	{"Ottawa", "ON"},
	{"Calgary", "AB"},
	{"Vancouver", "BC"},
	{"Halifax", "NS"},
}

var mockPropertyTypes = []string{"Single Family", "Condo", "Townhouse", "Duplex", "Vacant Land"}

var mockStatuses = []string{"ACT", "ACT", "ACT", "PND", "SLD", "EXP"}

// MockAdapter generates a deterministic-shape working set of synthetic
// listings without touching the network. The record set is seeded from the
// provider id, so repeated fetches within one process see the same listings
// with the same external ids: full syncs against it are idempotent.
type MockAdapter struct {
	cfg       *config.ProviderConfig
	budget    *requestBudget
	connected bool
	seed      int64
	generated time.Time
}

func NewMockAdapter(cfg *config.ProviderConfig) *MockAdapter {
	h := fnv.New64a()
	h.Write([]byte(cfg.ID))
	return &MockAdapter{
		cfg:       cfg,
		budget:    newRequestBudget(cfg.RequestsPerMinute),
		seed:      int64(h.Sum64()),
		generated: time.Now(),
	}
}

func (a *MockAdapter) ProviderID() string { return a.cfg.ID }

func (a *MockAdapter) Connect(ctx context.Context) error {
	a.connected = true
	return nil
}

func (a *MockAdapter) Disconnect(ctx context.Context) error {
	a.connected = false
	return nil
}

func (a *MockAdapter) HealthCheck(ctx context.Context) (Health, error) {
	return Health{Healthy: true, Message: "mock provider always healthy"}, nil
}

func (a *MockAdapter) Metadata(ctx context.Context) (*Metadata, error) {
	return &Metadata{
		ResourceClasses: []string{"Property:RES"},
		AvailableFields: []string{
			FieldExternalID, FieldStatus, FieldPrice, FieldStreet, FieldCity,
			FieldState, FieldPostalCode, FieldBeds, FieldBaths, FieldSqFt,
		},
		ProtocolVersion: "mock/1.0",
	}, nil
}

func (a *MockAdapter) FetchProperties(ctx context.Context, opts FetchOptions) ([]models.ListingRecord, error) {
	if !a.connected {
		return nil, ErrNotConnected
	}
	if err := a.budget.wait(ctx); err != nil {
		return nil, err
	}

	total := a.cfg.MockListings
	if total <= 0 {
		total = defaultMockListings
	}
	if opts.MaxRecords > 0 && total > opts.MaxRecords {
		total = opts.MaxRecords
	}
	if opts.BatchSize > 0 && total > opts.BatchSize {
		total = opts.BatchSize
	}

	var out []models.ListingRecord
	for i := 0; i < total; i++ {
		rec := a.generate(i, opts.IncludeMedia)
		if opts.Kind == models.SyncKindIncremental && opts.ModifiedSince != nil {
			if rec.ModifiedAt == nil || !rec.ModifiedAt.After(*opts.ModifiedSince) {
				continue
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (a *MockAdapter) FetchPropertyByID(ctx context.Context, externalID string) (*models.ListingRecord, error) {
	if !a.connected {
		return nil, ErrNotConnected
	}
	if err := a.budget.wait(ctx); err != nil {
		return nil, err
	}

	total := a.cfg.MockListings
	if total <= 0 {
		total = defaultMockListings
	}
	for i := 0; i < total; i++ {
		if a.externalID(i) == externalID {
			rec := a.generate(i, true)
			return &rec, nil
		}
	}
	return nil, nil
}

func (a *MockAdapter) externalID(i int) string {
	return fmt.Sprintf("MOCK-%s-%05d", a.cfg.ID, i+1)
}

// faker draws from a package-global random source, so reseeding and the
// calls that consume the seed must not interleave across adapters.
var fakerMu sync.Mutex

// mockText holds the faker-derived strings for one listing.
type mockText struct {
	streetName  string
	description string
	agentName   string
	agentPhone  string
	agentEmail  string
	brokerage   string
}

// fakeText pins faker to the per-listing seed and draws every string the
// listing needs in one locked section, so regenerating listing i always
// yields identical text and concurrent adapters never interleave a reseed
// with a draw.
func fakeText(seed int64) mockText {
	fakerMu.Lock()
	defer fakerMu.Unlock()
	faker.SetRandomSource(rand.NewSource(seed))
	return mockText{
		streetName:  faker.LastName(),
		description: faker.Paragraph(),
		agentName:   faker.Name(),
		agentPhone:  faker.Phonenumber(),
		agentEmail:  faker.Email(),
		brokerage:   faker.LastName() + " Realty",
	}
}

// generate builds listing i. The per-listing RNG is re-seeded from the
// adapter seed and index so the same index always yields the same record.
func (a *MockAdapter) generate(i int, includeMedia bool) models.ListingRecord {
	rng := rand.New(rand.NewSource(a.seed + int64(i)))
	text := fakeText(a.seed + int64(i))

	loc := mockCities[rng.Intn(len(mockCities))]
	price := float64(250000 + rng.Intn(1750)*1000)
	origPrice := price * (1 + float64(rng.Intn(10))/100)
	beds := 1 + rng.Intn(5)
	baths := float64(1+rng.Intn(3)) + float64(rng.Intn(2))*0.5
	sqft := 600 + rng.Intn(3400)
	lot := sqft * (2 + rng.Intn(4))
	year := 1950 + rng.Intn(74)
	dom := rng.Intn(120)
	lat := 42.0 + rng.Float64()*12
	lng := -123.0 + rng.Float64()*60

	// Spread modification times over the last 72h so incremental fetches
	// against a recent watermark return a plausible subset.
	modified := a.generated.Add(-time.Duration(rng.Intn(72*3600)) * time.Second)
	listed := modified.AddDate(0, 0, -dom)

	status := NormalizeStatus(mockStatuses[rng.Intn(len(mockStatuses))])

	street := fmt.Sprintf("%d %s %s", 1+rng.Intn(9999), text.streetName, streetSuffixes[rng.Intn(len(streetSuffixes))])

	rec := models.ListingRecord{
		ExternalID: a.externalID(i),
		ProviderID: a.cfg.ID,
		Address: models.Address{
			Street:     street,
			City:       loc.city,
			State:      loc.state,
			PostalCode: mockPostalCode(rng),
			Country:    "CA",
		},
		PropertyType:  mockPropertyTypes[rng.Intn(len(mockPropertyTypes))],
		Status:        status,
		Price:         &price,
		OriginalPrice: &origPrice,
		Beds:          &beds,
		Baths:         &baths,
		SqFt:          &sqft,
		LotSqFt:       &lot,
		YearBuilt:     &year,
		Description:   text.description,
		Lat:           &lat,
		Lng:           &lng,
		ListedAt:      &listed,
		DaysOnMarket:  &dom,
		Agent: models.AgentContact{
			Name:      text.agentName,
			Phone:     text.agentPhone,
			Email:     text.agentEmail,
			Brokerage: text.brokerage,
		},
		Features: models.Features{
			Interior:   pick(rng, interiorFeatures),
			Exterior:   pick(rng, exteriorFeatures),
			Appliances: pick(rng, applianceFeatures),
			Parking:    pick(rng, parkingFeatures),
		},
		ModifiedAt: &modified,
	}

	if includeMedia {
		n := 3 + rng.Intn(8)
		for p := 0; p < n; p++ {
			rec.Media = append(rec.Media, models.MediaRef{
				URL:   fmt.Sprintf("https://photos.example.com/%s/%d.jpg", rec.ExternalID, p+1),
				Kind:  models.MediaKindImage,
				Order: p,
			})
		}
	}

	raw, _ := json.Marshal(map[string]any{
		"ListingKey":            rec.ExternalID,
		"StandardStatus":        string(status),
		"ListPrice":             price,
		"UnparsedAddress":       street + ", " + loc.city + ", " + loc.state,
		"ModificationTimestamp": modified.Format(time.RFC3339),
	})
	rec.Raw = raw

	return rec
}

var streetSuffixes = []string{"St", "Ave", "Blvd", "Dr", "Cres", "Rd"}

var (
	interiorFeatures  = []string{"Hardwood Floors", "Granite Counters", "Finished Basement", "Walk-in Closet", "Fireplace"}
	exteriorFeatures  = []string{"Deck", "Fenced Yard", "Pool", "Patio", "Garden Shed"}
	applianceFeatures = []string{"Dishwasher", "Refrigerator", "Washer", "Dryer", "Range"}
	parkingFeatures   = []string{"Attached Garage", "Detached Garage", "Driveway", "Street Parking"}
)

func pick(rng *rand.Rand, pool []string) []string {
	n := 1 + rng.Intn(len(pool))
	out := make([]string, 0, n)
	for _, idx := range rng.Perm(len(pool))[:n] {
		out = append(out, pool[idx])
	}
	return out
}

func mockPostalCode(rng *rand.Rand) string {
	letters := "ABCEGHJKLMNPRSTVXY"
	return fmt.Sprintf("%c%d%c %d%c%d",
		letters[rng.Intn(len(letters))], rng.Intn(10), letters[rng.Intn(len(letters))],
		rng.Intn(10), letters[rng.Intn(len(letters))], rng.Intn(10))
}
