package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"mls_syncd/config"
	"mls_syncd/models"
)

// PortalAdapter scrapes an HTML listing portal: paged search results where
// each listing is one card carrying data-* attributes plus child elements
// for the address and agent block. It serves the brokerages that expose no
// feed beyond their public site.
type PortalAdapter struct {
	cfg       *config.ProviderConfig
	client    *http.Client
	budget    *requestBudget
	connected bool
}

func NewPortalAdapter(cfg *config.ProviderConfig, client *http.Client) *PortalAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &PortalAdapter{
		cfg:    cfg,
		client: client,
		budget: newRequestBudget(cfg.RequestsPerMinute),
	}
}

func (a *PortalAdapter) ProviderID() string { return a.cfg.ID }

func (a *PortalAdapter) Connect(ctx context.Context) error {
	// Public portals have no login; Connect just verifies reachability.
	health, err := a.HealthCheck(ctx)
	if err != nil {
		return err
	}
	if !health.Healthy {
		return fmt.Errorf("portal unreachable: %s", health.Message)
	}
	a.connected = true
	return nil
}

func (a *PortalAdapter) Disconnect(ctx context.Context) error {
	a.connected = false
	return nil
}

func (a *PortalAdapter) HealthCheck(ctx context.Context) (Health, error) {
	if err := a.budget.wait(ctx); err != nil {
		return Health{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.cfg.SearchURL, nil)
	if err != nil {
		return Health{}, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return Health{Healthy: false, Message: err.Error()}, nil
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Health{Healthy: false, Message: fmt.Sprintf("status %d", resp.StatusCode)}, nil
	}
	return Health{Healthy: true, Message: "portal reachable"}, nil
}

func (a *PortalAdapter) Metadata(ctx context.Context) (*Metadata, error) {
	return &Metadata{
		ResourceClasses: []string{"Listing"},
		AvailableFields: []string{
			FieldExternalID, FieldStatus, FieldPrice, FieldStreet, FieldCity,
			FieldState, FieldBeds, FieldBaths, FieldSqFt, FieldModifiedAt,
		},
		ProtocolVersion: "html/portal",
	}, nil
}

func (a *PortalAdapter) FetchProperties(ctx context.Context, opts FetchOptions) ([]models.ListingRecord, error) {
	if !a.connected {
		return nil, ErrNotConnected
	}

	var out []models.ListingRecord
	for page := 1; ; page++ {
		records, err := a.fetchPage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		if len(records) == 0 {
			break
		}

		for _, rec := range records {
			// The portal has no server-side modified filter; apply the
			// watermark here.
			if opts.Kind == models.SyncKindIncremental && opts.ModifiedSince != nil {
				if rec.ModifiedAt == nil || !rec.ModifiedAt.After(*opts.ModifiedSince) {
					continue
				}
			}
			if !opts.IncludeMedia {
				rec.Media = nil
			}

			out = append(out, rec)
			if opts.MaxRecords > 0 && len(out) >= opts.MaxRecords {
				return out, nil
			}
		}

		if opts.BatchSize > 0 && len(out) >= opts.BatchSize {
			break
		}
	}

	return out, nil
}

func (a *PortalAdapter) FetchPropertyByID(ctx context.Context, externalID string) (*models.ListingRecord, error) {
	if !a.connected {
		return nil, ErrNotConnected
	}

	// No per-record endpoint; walk pages until the id shows up.
	for page := 1; ; page++ {
		records, err := a.fetchPage(ctx, page)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, nil
		}
		for i := range records {
			if records[i].ExternalID == externalID {
				return &records[i], nil
			}
		}
	}
}

func (a *PortalAdapter) fetchPage(ctx context.Context, page int) ([]models.ListingRecord, error) {
	if err := a.budget.wait(ctx); err != nil {
		return nil, err
	}

	sep := "?"
	if strings.Contains(a.cfg.SearchURL, "?") {
		sep = "&"
	}
	u := fmt.Sprintf("%s%spage=%d", a.cfg.SearchURL, sep, page)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	return a.parseListings(doc), nil
}

func (a *PortalAdapter) parseListings(doc *goquery.Document) []models.ListingRecord {
	var out []models.ListingRecord

	doc.Find(".listing-card").Each(func(_ int, card *goquery.Selection) {
		externalID, _ := card.Attr("data-listing-id")
		if externalID == "" {
			return
		}

		statusCode, _ := card.Attr("data-status")
		modifiedRaw, _ := card.Attr("data-modified")

		rec := models.ListingRecord{
			ExternalID: externalID,
			ProviderID: a.cfg.ID,
			Status:     NormalizeStatus(statusCode),
			Address: models.Address{
				Street:     text(card, ".address .street"),
				City:       text(card, ".address .city"),
				State:      text(card, ".address .state"),
				PostalCode: text(card, ".address .postal"),
				Country:    "CA",
			},
			PropertyType: text(card, ".property-type"),
			Price:        ParseMoney(text(card, ".price")),
			Beds:         ParseIntField(text(card, ".beds")),
			Baths:        ParseFloatField(text(card, ".baths")),
			SqFt:         ParseIntField(text(card, ".sqft")),
			Description:  text(card, ".description"),
			ModifiedAt:   ParseDate(modifiedRaw),
			Agent: models.AgentContact{
				Name:      text(card, ".agent .name"),
				Phone:     text(card, ".agent .phone"),
				Brokerage: text(card, ".agent .brokerage"),
			},
		}

		card.Find(".photos img").Each(func(i int, img *goquery.Selection) {
			if src, ok := img.Attr("src"); ok && src != "" {
				rec.Media = append(rec.Media, models.MediaRef{
					URL:     src,
					Kind:    models.MediaKindImage,
					Order:   i,
					Caption: img.AttrOr("alt", ""),
				})
			}
		})

		if html, err := goquery.OuterHtml(card); err == nil {
			raw, _ := json.Marshal(map[string]string{"html": html})
			rec.Raw = raw
		}

		out = append(out, rec)
	})

	return out
}

func text(s *goquery.Selection, selector string) string {
	return strings.TrimSpace(s.Find(selector).First().Text())
}
