package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ListingStatus is the internal status vocabulary. Every adapter maps its
// provider's codes into this set before a record leaves the adapter.
type ListingStatus string

const (
	StatusActive    ListingStatus = "active"
	StatusPending   ListingStatus = "pending"
	StatusSold      ListingStatus = "sold"
	StatusWithdrawn ListingStatus = "withdrawn"
	StatusExpired   ListingStatus = "expired"
	StatusUnknown   ListingStatus = "unknown"
)

// Address is the normalized location tuple for a listing.
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// AgentContact holds the listing agent fields a provider exposes.
type AgentContact struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	Brokerage string `json:"brokerage"`
}

// Features is the free-form feature bag carried through from the provider.
type Features struct {
	Interior   []string `json:"interior,omitempty"`
	Exterior   []string `json:"exterior,omitempty"`
	Appliances []string `json:"appliances,omitempty"`
	Parking    []string `json:"parking,omitempty"`
}

// MediaKind classifies a media reference coming out of an adapter.
type MediaKind string

const (
	MediaKindImage     MediaKind = "image"
	MediaKindVideo     MediaKind = "video"
	MediaKindTour3D    MediaKind = "3d_tour"
	MediaKindFloorPlan MediaKind = "floor_plan"
)

// MediaRef is a provider-side media pointer. Display order is assigned by
// the adapter and preserved all the way into listing_media rows.
type MediaRef struct {
	URL     string    `json:"url"`
	Kind    MediaKind `json:"kind"`
	Order   int       `json:"order"`
	Caption string    `json:"caption,omitempty"`
}

// ListingRecord is a provider record after field transformation. The pair
// (ExternalID, ProviderID) is the natural key for all upserts; the internal
// row id never participates in identity.
type ListingRecord struct {
	ExternalID   string        `json:"external_id"`
	ProviderID   string        `json:"provider_id"`
	Address      Address       `json:"address"`
	PropertyType string        `json:"property_type"`
	PropertySub  string        `json:"property_subtype"`
	Status       ListingStatus `json:"status"`

	Price         *float64 `json:"price"`
	OriginalPrice *float64 `json:"original_price"`

	Beds      *int     `json:"beds"`
	Baths     *float64 `json:"baths"`
	SqFt      *int     `json:"sqft"`
	LotSqFt   *int     `json:"lot_sqft"`
	YearBuilt *int     `json:"year_built"`

	Description string   `json:"description"`
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`

	ListedAt     *time.Time `json:"listed_at"`
	SoldAt       *time.Time `json:"sold_at"`
	DaysOnMarket *int       `json:"days_on_market"`

	Agent    AgentContact `json:"agent"`
	Features Features     `json:"features"`
	Media    []MediaRef   `json:"media"`

	// Provider-side last-modified timestamp, the incremental watermark field.
	ModifiedAt *time.Time `json:"modified_at"`

	// Original provider payload, kept opaque for audit and replay.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Listing is a persisted listing row.
type Listing struct {
	ID         uuid.UUID `json:"id" db:"id"`
	ExternalID string    `json:"external_id" db:"external_id"`
	ProviderID string    `json:"provider_id" db:"provider_id"`

	Street     string `json:"street" db:"street"`
	City       string `json:"city" db:"city"`
	State      string `json:"state" db:"state"`
	PostalCode string `json:"postal_code" db:"postal_code"`
	Country    string `json:"country" db:"country"`

	PropertyType string        `json:"property_type" db:"property_type"`
	PropertySub  string        `json:"property_subtype" db:"property_subtype"`
	Status       ListingStatus `json:"status" db:"status"`

	Price         *float64 `json:"price" db:"price"`
	OriginalPrice *float64 `json:"original_price" db:"original_price"`

	Beds      *int     `json:"beds" db:"beds"`
	Baths     *float64 `json:"baths" db:"baths"`
	SqFt      *int     `json:"sqft" db:"sqft"`
	LotSqFt   *int     `json:"lot_sqft" db:"lot_sqft"`
	YearBuilt *int     `json:"year_built" db:"year_built"`

	Description  string   `json:"description" db:"description"`
	Lat          *float64 `json:"lat" db:"lat"`
	Lng          *float64 `json:"lng" db:"lng"`
	DaysOnMarket *int     `json:"days_on_market" db:"days_on_market"`

	ListedAt *time.Time `json:"listed_at" db:"listed_at"`
	SoldAt   *time.Time `json:"sold_at" db:"sold_at"`

	AgentName      string `json:"agent_name" db:"agent_name"`
	AgentPhone     string `json:"agent_phone" db:"agent_phone"`
	AgentEmail     string `json:"agent_email" db:"agent_email"`
	AgentBrokerage string `json:"agent_brokerage" db:"agent_brokerage"`

	Features json.RawMessage `json:"features" db:"features"`
	RawData  json.RawMessage `json:"raw_data" db:"raw_data"`

	ModifiedAt   *time.Time `json:"modified_at" db:"modified_at"`
	LastSyncedAt time.Time  `json:"last_synced_at" db:"last_synced_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// ListingUpdate is the mutable field set written on a full-sync upsert of an
// existing row. Incremental syncs write the narrower subset (see
// IncrementalUpdate).
type ListingUpdate struct {
	Price         *float64
	OriginalPrice *float64
	Status        ListingStatus
	Beds          *int
	Baths         *float64
	SqFt          *int
	LotSqFt       *int
	YearBuilt     *int
	Description   string
	Features      json.RawMessage
	RawData       json.RawMessage
	ModifiedAt    *time.Time
	LastSyncedAt  time.Time
}

// IncrementalUpdate is the narrow update applied by incremental sync:
// price, status and sync metadata only. Media and the feature bag are not
// refreshed on this path.
type IncrementalUpdate struct {
	Price        *float64
	Status       ListingStatus
	RawData      json.RawMessage
	ModifiedAt   *time.Time
	LastSyncedAt time.Time
}
