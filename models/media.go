package models

import (
	"time"

	"github.com/google/uuid"
)

// Variant names produced by the media pipeline.
const (
	VariantOriginal  = "original"
	VariantThumbnail = "thumbnail"
	VariantMedium    = "medium"
	VariantLarge     = "large"
)

// ListingMedia is one persisted media asset variant for a listing. A single
// source photo yields four rows (original + three derived sizes), all sharing
// SourceURL and Position.
type ListingMedia struct {
	ID        uuid.UUID `json:"id" db:"id"`
	ListingID uuid.UUID `json:"listing_id" db:"listing_id"`
	SourceURL string    `json:"source_url" db:"source_url"`
	Kind      MediaKind `json:"kind" db:"kind"`
	Variant   string    `json:"variant" db:"variant"`
	Position  int       `json:"position" db:"position"`
	Caption   string    `json:"caption" db:"caption"`

	StorageKey string `json:"storage_key" db:"storage_key"`
	URL        string `json:"url" db:"url"`
	CDNUrl     string `json:"cdn_url" db:"cdn_url"`
	Width      int    `json:"width" db:"width"`
	Height     int    `json:"height" db:"height"`
	SizeBytes  int64  `json:"size_bytes" db:"size_bytes"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
