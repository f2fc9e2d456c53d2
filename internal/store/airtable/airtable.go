// Package airtable implements the record store on top of the Airtable REST API.
package airtable

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/shortlister/internal/store"
)

const (
	DefaultBaseURL           = "https://api.airtable.com/v0"
	defaultRequestsPerSecond = 5
	defaultTimeout           = 30 * time.Second
	defaultMaxRetries        = 3
	pageSize                 = "100"
)

// DefaultTables maps collections to the table names used by the hosted base.
var DefaultTables = map[store.Collection]string{
	store.Applicants:        "Applicants",
	store.PersonalDetails:   "Personal Details",
	store.WorkExperience:    "Work Experience",
	store.SalaryPreferences: "Salary Preferences",
	store.ShortlistedLeads:  "Shortlisted Leads",
}

type Config struct {
	BaseURL           string
	BaseID            string
	Token             string
	Tables            map[store.Collection]string
	RequestsPerSecond float64
	Timeout           time.Duration
	MaxRetries        int
	RetryWait         time.Duration
}

// APIError is a non-2xx answer from Airtable.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("airtable api error %d %s", e.StatusCode, e.Type)
	}
	return fmt.Sprintf("airtable api error %d %s: %s", e.StatusCode, e.Type, e.Message)
}

type Client struct {
	http   *resty.Client
	tables map[store.Collection]string
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseID) == "" {
		return nil, errors.New("airtable base id is required")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("airtable token is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = defaultMaxRetries
	}

	tables := make(map[store.Collection]string, len(DefaultTables))
	for c, name := range DefaultTables {
		tables[c] = name
	}
	for c, name := range cfg.Tables {
		if name = strings.TrimSpace(name); name != "" {
			tables[c] = name
		}
	}

	limiter := rate.NewLimiter(rate.Limit(rps), 1)

	client := resty.New().
		SetBaseURL(baseURL+"/"+strings.TrimSpace(cfg.BaseID)).
		SetAuthToken(strings.TrimSpace(cfg.Token)).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout).
		SetRetryCount(retries).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		}).
		OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			return limiter.Wait(r.Context())
		})

	if cfg.RetryWait > 0 {
		client.SetRetryWaitTime(cfg.RetryWait).SetRetryMaxWaitTime(cfg.RetryWait * 8)
	}

	return &Client{http: client, tables: tables, logger: logger}, nil
}

func (c *Client) Get(ctx context.Context, col store.Collection, id string) (*store.Record, error) {
	table, err := c.table(col)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"table": table, "id": id}).
		Get("/{table}/{id}")
	if err := check(resp, err, col, id); err != nil {
		return nil, err
	}

	return recordFrom(gjson.ParseBytes(resp.Body())), nil
}

// Query pages through the table. Link filters are pushed down as a formula
// and re-checked on the decoded record.
func (c *Client) Query(ctx context.Context, col store.Collection, f store.Filter) ([]*store.Record, error) {
	table, err := c.table(col)
	if err != nil {
		return nil, err
	}

	var (
		out    []*store.Record
		offset string
		page   int
	)
	for {
		req := c.http.R().
			SetContext(ctx).
			SetPathParam("table", table).
			SetQueryParam("pageSize", pageSize)
		if formula := LinkFormula(f); formula != "" {
			req.SetQueryParam("filterByFormula", formula)
		}
		if offset != "" {
			req.SetQueryParam("offset", offset)
		}

		resp, err := req.Get("/{table}")
		if err := check(resp, err, col, ""); err != nil {
			return nil, err
		}

		body := gjson.ParseBytes(resp.Body())
		body.Get("records").ForEach(func(_, value gjson.Result) bool {
			rec := recordFrom(value)
			if f.Match(rec.Fields) {
				out = append(out, rec)
			}
			return true
		})

		page++
		offset = body.Get("offset").String()
		c.logger.Debug("airtable page fetched",
			zap.String("table", table),
			zap.Int("page", page),
			zap.Int("records", len(out)),
			zap.Bool("more", offset != ""),
		)
		if offset == "" {
			return out, nil
		}
	}
}

func (c *Client) Create(ctx context.Context, col store.Collection, fields map[string]any) (*store.Record, error) {
	table, err := c.table(col)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("table", table).
		SetBody(map[string]any{"fields": fields, "typecast": true}).
		Post("/{table}")
	if err := check(resp, err, col, ""); err != nil {
		return nil, err
	}

	return recordFrom(gjson.ParseBytes(resp.Body())), nil
}

func (c *Client) Update(ctx context.Context, col store.Collection, id string, fields map[string]any) (*store.Record, error) {
	table, err := c.table(col)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"table": table, "id": id}).
		SetBody(map[string]any{"fields": fields, "typecast": true}).
		Patch("/{table}/{id}")
	if err := check(resp, err, col, id); err != nil {
		return nil, err
	}

	return recordFrom(gjson.ParseBytes(resp.Body())), nil
}

func (c *Client) Delete(ctx context.Context, col store.Collection, id string) error {
	table, err := c.table(col)
	if err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"table": table, "id": id}).
		Delete("/{table}/{id}")
	return check(resp, err, col, id)
}

func (c *Client) table(col store.Collection) (string, error) {
	table, ok := c.tables[col]
	if !ok {
		return "", fmt.Errorf("no airtable table configured for %s", col)
	}
	return table, nil
}

// LinkFormula renders a link filter as an Airtable formula.
func LinkFormula(f store.Filter) string {
	if f.IsZero() {
		return ""
	}
	id := strings.ReplaceAll(f.LinkedTo, "'", "\\'")
	return fmt.Sprintf("FIND('%s', ARRAYJOIN({%s})) > 0", id, f.LinkField)
}

func check(resp *resty.Response, err error, col store.Collection, id string) error {
	target := string(col)
	if id != "" {
		target += "/" + id
	}

	if err != nil {
		return fmt.Errorf("airtable %s: %w", target, err)
	}
	if resp.IsSuccess() {
		return nil
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("%s: %w", target, store.ErrNotFound)
	}

	body := gjson.ParseBytes(resp.Body())
	apiErr := &APIError{StatusCode: resp.StatusCode()}
	if e := body.Get("error"); e.IsObject() {
		apiErr.Type = e.Get("type").String()
		apiErr.Message = e.Get("message").String()
	} else {
		apiErr.Type = e.String()
	}
	return fmt.Errorf("airtable %s: %w", target, apiErr)
}

func recordFrom(v gjson.Result) *store.Record {
	rec := &store.Record{ID: v.Get("id").String()}
	if created := v.Get("createdTime").String(); created != "" {
		if ts, err := time.Parse(time.RFC3339, created); err == nil {
			rec.CreatedAt = ts
		}
	}
	if fields, ok := v.Get("fields").Value().(map[string]any); ok {
		rec.Fields = fields
	} else {
		rec.Fields = map[string]any{}
	}
	return rec
}
