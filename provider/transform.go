package provider

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"mls_syncd/models"
)

// Internal field names a field map may target. Anything a provider maps to a
// name outside this set is silently ignored rather than rejected, so a field
// map can stay ahead of the code.
const (
	FieldExternalID   = "external_id"
	FieldStatus       = "status"
	FieldPrice        = "price"
	FieldOrigPrice    = "original_price"
	FieldStreet       = "street"
	FieldCity         = "city"
	FieldState        = "state"
	FieldPostalCode   = "postal_code"
	FieldCountry      = "country"
	FieldPropertyType = "property_type"
	FieldPropertySub  = "property_subtype"
	FieldBeds         = "beds"
	FieldBaths        = "baths"
	FieldSqFt         = "sqft"
	FieldLotSqFt      = "lot_sqft"
	FieldYearBuilt    = "year_built"
	FieldDescription  = "description"
	FieldLat          = "lat"
	FieldLng          = "lng"
	FieldListedAt     = "listed_at"
	FieldSoldAt       = "sold_at"
	FieldDaysOnMarket = "days_on_market"
	FieldModifiedAt   = "modified_at"
	FieldAgentName    = "agent_name"
	FieldAgentPhone   = "agent_phone"
	FieldAgentEmail   = "agent_email"
	FieldAgentBroker  = "agent_brokerage"
	FieldMediaURLs    = "media_urls"
	FieldInterior     = "interior_features"
	FieldExterior     = "exterior_features"
	FieldAppliances   = "appliances"
	FieldParking      = "parking"
)

// Transformer maps a provider's raw row shape into the internal listing
// shape. It is shared by the concrete adapters; each constructs one from its
// provider's field map at adapter-construction time.
type Transformer struct {
	// internal field -> external field, inverted from the config's
	// external -> internal table for row lookups.
	lookup map[string]string
}

func NewTransformer(fieldMap map[string]string) *Transformer {
	lookup := make(map[string]string, len(fieldMap))
	for external, internal := range fieldMap {
		lookup[internal] = external
	}
	return &Transformer{lookup: lookup}
}

// Record builds a ListingRecord from one raw row. Unparsable values come out
// as nil fields, never as zero guesses and never as an error; the caller is
// responsible for deciding whether the result is complete enough to keep.
func (t *Transformer) Record(providerID string, row map[string]string, raw json.RawMessage) models.ListingRecord {
	rec := models.ListingRecord{
		ExternalID: t.get(row, FieldExternalID),
		ProviderID: providerID,
		Address: models.Address{
			Street:     t.get(row, FieldStreet),
			City:       t.get(row, FieldCity),
			State:      t.get(row, FieldState),
			PostalCode: t.get(row, FieldPostalCode),
			Country:    t.get(row, FieldCountry),
		},
		PropertyType: t.get(row, FieldPropertyType),
		PropertySub:  t.get(row, FieldPropertySub),
		Status:       NormalizeStatus(t.get(row, FieldStatus)),

		Price:         ParseMoney(t.get(row, FieldPrice)),
		OriginalPrice: ParseMoney(t.get(row, FieldOrigPrice)),

		Beds:      ParseIntField(t.get(row, FieldBeds)),
		Baths:     ParseFloatField(t.get(row, FieldBaths)),
		SqFt:      ParseIntField(t.get(row, FieldSqFt)),
		LotSqFt:   ParseIntField(t.get(row, FieldLotSqFt)),
		YearBuilt: ParseIntField(t.get(row, FieldYearBuilt)),

		Description:  t.get(row, FieldDescription),
		Lat:          ParseFloatField(t.get(row, FieldLat)),
		Lng:          ParseFloatField(t.get(row, FieldLng)),
		ListedAt:     ParseDate(t.get(row, FieldListedAt)),
		SoldAt:       ParseDate(t.get(row, FieldSoldAt)),
		DaysOnMarket: ParseIntField(t.get(row, FieldDaysOnMarket)),
		ModifiedAt:   ParseDate(t.get(row, FieldModifiedAt)),

		Agent: models.AgentContact{
			Name:      t.get(row, FieldAgentName),
			Phone:     t.get(row, FieldAgentPhone),
			Email:     t.get(row, FieldAgentEmail),
			Brokerage: t.get(row, FieldAgentBroker),
		},
		Features: models.Features{
			Interior:   splitList(t.get(row, FieldInterior)),
			Exterior:   splitList(t.get(row, FieldExterior)),
			Appliances: splitList(t.get(row, FieldAppliances)),
			Parking:    splitList(t.get(row, FieldParking)),
		},
		Raw: raw,
	}

	for i, u := range splitList(t.get(row, FieldMediaURLs)) {
		rec.Media = append(rec.Media, models.MediaRef{
			URL:   u,
			Kind:  models.MediaKindImage,
			Order: i,
		})
	}

	return rec
}

func (t *Transformer) get(row map[string]string, internal string) string {
	external, ok := t.lookup[internal]
	if !ok {
		// No mapping configured: fall through to the internal name itself so
		// providers that already use our vocabulary need no table entries.
		external = internal
	}
	return strings.TrimSpace(row[external])
}

// statusTable covers the provider vocabularies seen in the wild. Lookup is
// on the upper-cased, trimmed code.
var statusTable = map[string]models.ListingStatus{
	"A": models.StatusActive, "ACT": models.StatusActive, "ACTIVE": models.StatusActive,
	"FOR SALE": models.StatusActive, "NEW": models.StatusActive,

	"P": models.StatusPending, "PND": models.StatusPending, "PENDING": models.StatusPending,
	"CONDITIONAL": models.StatusPending, "CS": models.StatusPending, "UNDER CONTRACT": models.StatusPending,

	"S": models.StatusSold, "SLD": models.StatusSold, "SOLD": models.StatusSold,
	"C": models.StatusSold, "CLOSED": models.StatusSold,

	"W": models.StatusWithdrawn, "WTH": models.StatusWithdrawn, "WITHDRAWN": models.StatusWithdrawn,
	"CAN": models.StatusWithdrawn, "CANCELLED": models.StatusWithdrawn, "CANCELED": models.StatusWithdrawn,
	"TER": models.StatusWithdrawn, "TERMINATED": models.StatusWithdrawn, "DELISTED": models.StatusWithdrawn,

	"E": models.StatusExpired, "EXP": models.StatusExpired, "EXPIRED": models.StatusExpired,
}

// NormalizeStatus maps a provider status code into the internal enum.
// Anything unrecognized becomes StatusUnknown.
func NormalizeStatus(code string) models.ListingStatus {
	if s, ok := statusTable[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return s
	}
	return models.StatusUnknown
}

// ParseMoney coerces currency-formatted strings ("$1,234,500", "CAD 500000")
// into a float. Unparsable input yields nil.
func ParseMoney(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || (r == '-' && b.Len() == 0) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return nil
	}

	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil || v < 0 {
		return nil
	}
	return &v
}

// ParseIntField coerces a loosely-typed integer field ("3", "1,200", "2360 sqft").
func ParseIntField(s string) *int {
	f := ParseFloatField(s)
	if f == nil {
		return nil
	}
	v := int(*f)
	return &v
}

// ParseFloatField coerces a loosely-typed numeric field. Unparsable input
// yields nil, never a zero guess.
func ParseFloatField(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || (r == '-' && b.Len() == 0) {
			b.WriteRune(r)
		} else if b.Len() > 0 && r != ',' {
			break
		}
	}
	if b.Len() == 0 {
		return nil
	}

	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return nil
	}
	return &v
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
	"Jan 2, 2006",
}

// ParseDate tries the layouts providers actually send. Unparsable input
// yields nil.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	sep := ","
	if strings.Contains(s, ";") {
		sep = ";"
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
