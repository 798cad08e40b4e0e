package provider

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"mls_syncd/config"
	"mls_syncd/models"
)

const (
	retsVersion          = "RETS/1.7.2"
	defaultSearchLimit   = 100
	retsTimestampLayout  = "2006-01-02T15:04:05"
	retsReplySuccess     = 0
	retsReplyAuthFailed  = 20037
	retsReplyNoRecords   = 20201
)

// RETSAdapter speaks the RETS-style login/search/metadata protocol over
// plain HTTP. Responses are COMPACT-DECODED: tab-delimited COLUMNS and DATA
// lines inside an XML envelope.
type RETSAdapter struct {
	cfg         *config.ProviderConfig
	creds       config.Credentials
	client      *http.Client
	budget      *requestBudget
	transformer *Transformer
	connected   bool
	sessionID   string
}

func NewRETSAdapter(cfg *config.ProviderConfig, creds config.Credentials, client *http.Client) *RETSAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &RETSAdapter{
		cfg:         cfg,
		creds:       creds,
		client:      client,
		budget:      newRequestBudget(cfg.RequestsPerMinute),
		transformer: NewTransformer(cfg.FieldMap),
	}
}

func (a *RETSAdapter) ProviderID() string { return a.cfg.ID }

func (a *RETSAdapter) Connect(ctx context.Context) error {
	reply, resp, err := a.request(ctx, a.cfg.LoginURL, nil)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	// Only credential rejections count as auth failures. Other non-zero
	// reply codes (server-side login errors) are transient and retried on
	// the next due cycle.
	if resp.StatusCode == http.StatusUnauthorized || reply.ReplyCode == retsReplyAuthFailed {
		return fmt.Errorf("%w: reply code %d (%s)", ErrAuthFailed, reply.ReplyCode, reply.ReplyText)
	}
	if reply.ReplyCode != retsReplySuccess {
		return fmt.Errorf("login: reply code %d (%s)", reply.ReplyCode, reply.ReplyText)
	}

	for _, c := range resp.Cookies() {
		if strings.EqualFold(c.Name, "RETS-Session-ID") {
			a.sessionID = c.Value
		}
	}

	a.connected = true
	return nil
}

func (a *RETSAdapter) Disconnect(ctx context.Context) error {
	a.connected = false
	a.sessionID = ""
	return nil
}

func (a *RETSAdapter) HealthCheck(ctx context.Context) (Health, error) {
	reply, resp, err := a.request(ctx, a.cfg.LoginURL, nil)
	if err != nil {
		return Health{Healthy: false, Message: err.Error()}, nil
	}
	if resp.StatusCode != http.StatusOK || reply.ReplyCode != retsReplySuccess {
		return Health{
			Healthy: false,
			Message: fmt.Sprintf("login status %d, reply code %d", resp.StatusCode, reply.ReplyCode),
		}, nil
	}
	return Health{Healthy: true, Message: "login ok"}, nil
}

func (a *RETSAdapter) FetchProperties(ctx context.Context, opts FetchOptions) ([]models.ListingRecord, error) {
	if !a.connected {
		return nil, ErrNotConnected
	}

	limit := opts.BatchSize
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	query := "(Status=|A,P,S)"
	if opts.Kind == models.SyncKindIncremental && opts.ModifiedSince != nil {
		query = fmt.Sprintf("(ModificationTimestamp=%s+)", opts.ModifiedSince.Format(retsTimestampLayout))
	}

	var out []models.ListingRecord
	for offset := 0; ; offset += limit {
		rows, err := a.search(ctx, query, limit, offset)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			raw, _ := json.Marshal(row)
			rec := a.transformer.Record(a.cfg.ID, row, raw)

			// The DMQL bound is inclusive on some servers; enforce the
			// strictly-greater contract here.
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

		if len(rows) < limit {
			break
		}
	}

	return out, nil
}

func (a *RETSAdapter) FetchPropertyByID(ctx context.Context, externalID string) (*models.ListingRecord, error) {
	if !a.connected {
		return nil, ErrNotConnected
	}

	keyField := a.externalKeyField()
	rows, err := a.search(ctx, fmt.Sprintf("(%s=%s)", keyField, externalID), 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	raw, _ := json.Marshal(rows[0])
	rec := a.transformer.Record(a.cfg.ID, rows[0], raw)
	return &rec, nil
}

func (a *RETSAdapter) Metadata(ctx context.Context) (*Metadata, error) {
	meta := &Metadata{
		ResourceClasses: []string{"Property:RES"},
		ProtocolVersion: retsVersion,
	}
	for external := range a.cfg.FieldMap {
		meta.AvailableFields = append(meta.AvailableFields, external)
	}

	if a.cfg.MetadataURL == "" {
		return meta, nil
	}

	reply, _, err := a.request(ctx, a.cfg.MetadataURL, url.Values{
		"Type":   {"METADATA-CLASS"},
		"ID":     {"Property"},
		"Format": {"COMPACT"},
	})
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}

	if classes := reply.rows(); len(classes) > 0 {
		meta.ResourceClasses = meta.ResourceClasses[:0]
		for _, row := range classes {
			if name := row["ClassName"]; name != "" {
				meta.ResourceClasses = append(meta.ResourceClasses, "Property:"+name)
			}
		}
	}

	return meta, nil
}

// externalKeyField returns the provider's column name for the external id.
func (a *RETSAdapter) externalKeyField() string {
	for external, internal := range a.cfg.FieldMap {
		if internal == FieldExternalID {
			return external
		}
	}
	return "ListingKey"
}

func (a *RETSAdapter) search(ctx context.Context, query string, limit, offset int) ([]map[string]string, error) {
	params := url.Values{
		"SearchType": {"Property"},
		"Class":      {"RES"},
		"QueryType":  {"DMQL2"},
		"Query":      {query},
		"Format":     {"COMPACT-DECODED"},
		"Limit":      {strconv.Itoa(limit)},
		"Offset":     {strconv.Itoa(offset)},
	}

	reply, _, err := a.request(ctx, a.cfg.SearchURL, params)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if reply.ReplyCode == retsReplyNoRecords {
		return nil, nil
	}
	if reply.ReplyCode != retsReplySuccess {
		return nil, fmt.Errorf("search: reply code %d (%s)", reply.ReplyCode, reply.ReplyText)
	}

	return reply.rows(), nil
}

// request performs one rate-limited GET and decodes the RETS envelope.
func (a *RETSAdapter) request(ctx context.Context, endpoint string, params url.Values) (*retsReply, *http.Response, error) {
	if err := a.budget.wait(ctx); err != nil {
		return nil, nil, err
	}

	u := endpoint
	if len(params) > 0 {
		u = endpoint + "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, err
	}
	req.SetBasicAuth(a.creds.Username, a.creds.Password)
	req.Header.Set("User-Agent", a.creds.UserAgent)
	req.Header.Set("RETS-Version", retsVersion)
	if a.sessionID != "" {
		req.AddCookie(&http.Cookie{Name: "RETS-Session-ID", Value: a.sessionID})
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return &retsReply{ReplyCode: -1, ReplyText: "unauthorized"}, resp, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, resp, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var reply retsReply
	if err := xml.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, resp, fmt.Errorf("decode envelope: %w", err)
	}

	return &reply, resp, nil
}

type retsReply struct {
	XMLName   xml.Name `xml:"RETS"`
	ReplyCode int      `xml:"ReplyCode,attr"`
	ReplyText string   `xml:"ReplyText,attr"`
	Delimiter struct {
		Value string `xml:"value,attr"`
	} `xml:"DELIMITER"`
	Columns string   `xml:"COLUMNS"`
	Data    []string `xml:"DATA"`
}

// rows splits the COMPACT columns/data lines into per-record field maps.
func (r *retsReply) rows() []map[string]string {
	delim := "\t"
	if r.Delimiter.Value != "" {
		if code, err := strconv.ParseInt(r.Delimiter.Value, 16, 32); err == nil && code > 0 {
			delim = string(rune(code))
		}
	}

	cols := splitCompact(r.Columns, delim)
	if len(cols) == 0 {
		return nil
	}

	out := make([]map[string]string, 0, len(r.Data))
	for _, line := range r.Data {
		vals := splitCompact(line, delim)
		row := make(map[string]string, len(cols))
		for i, col := range cols {
			if i < len(vals) {
				row[col] = vals[i]
			}
		}
		out = append(out, row)
	}
	return out
}

// splitCompact splits a COMPACT line, dropping the leading and trailing
// delimiter the format wraps every line in.
func splitCompact(line, delim string) []string {
	line = strings.Trim(line, delim+"\r\n ")
	if line == "" {
		return nil
	}
	return strings.Split(line, delim)
}
