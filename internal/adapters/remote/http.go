// Package remote provides RemoteStore implementations: a PostgREST-compatible
// HTTP client, an in-memory store for demo mode and tests, and a websocket
// change feed.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	domainerrors "github.com/jbctechsolutions/leadline/internal/domain/errors"
	"github.com/jbctechsolutions/leadline/internal/domain/record"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/tracing"
)

// restPath is the PostgREST mount point.
const restPath = "/rest/v1/"

// HTTPStore is a RemoteStore speaking the PostgREST dialect.
//
// Inserts are sent with resolution=merge-duplicates, so replaying an insert
// with the same client-generated id updates the existing row.
type HTTPStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	tracer     *tracing.Tracer
}

// HTTPOption configures an HTTPStore.
type HTTPOption func(*HTTPStore)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPStore) {
		s.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout. Zero leaves the platform default.
func WithTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPStore) {
		s.httpClient.Timeout = d
	}
}

// WithTracer wraps each request in a client span.
func WithTracer(t *tracing.Tracer) HTTPOption {
	return func(s *HTTPStore) {
		s.tracer = t
	}
}

// NewHTTPStore creates a client for the project at baseURL authenticated with apiKey.
func NewHTTPStore(baseURL, apiKey string, opts ...HTTPOption) *HTTPStore {
	s := &HTTPStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
		tracer:     tracing.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert upserts r by id and returns the stored row.
func (s *HTTPStore) Insert(ctx context.Context, table string, r record.Record) (record.Record, error) {
	if r.ID() == "" {
		r = r.Merge(record.Record{record.FieldID: newID()})
	}
	rows, err := s.do(ctx, "insert", table, http.MethodPost, nil, r,
		"return=representation,resolution=merge-duplicates")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return r, nil
	}
	return rows[0], nil
}

// Update patches the row with id.
func (s *HTTPStore) Update(ctx context.Context, table, id string, fields record.Record) (record.Record, error) {
	q := url.Values{record.FieldID: {"eq." + id}}
	rows, err := s.do(ctx, "update", table, http.MethodPatch, q, fields.Without(record.FieldID), "return=representation")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domainerrors.WithContext(
			domainerrors.NewError(domainerrors.CodeNotFound, "update "+table, domainerrors.ErrRecordNotFound), "id", id)
	}
	return rows[0], nil
}

// Delete removes the row with id.
func (s *HTTPStore) Delete(ctx context.Context, table, id string) error {
	q := url.Values{record.FieldID: {"eq." + id}}
	_, err := s.do(ctx, "delete", table, http.MethodDelete, q, nil, "return=minimal")
	return err
}

// Query returns rows matching filter, newest first.
func (s *HTTPStore) Query(ctx context.Context, table string, filter record.Filter) ([]record.Record, error) {
	q := url.Values{"select": {"*"}, "order": {"created_at.desc"}}
	for _, k := range filter.Keys() {
		q.Set(k, "eq."+fmt.Sprint(filter[k]))
	}
	return s.do(ctx, "query", table, http.MethodGet, q, nil, "")
}

// Ping reports whether the REST endpoint answers.
func (s *HTTPStore) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.baseURL+restPath, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	s.authorize(req)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return domainerrors.NewError(domainerrors.CodeRemote, "ping", fmt.Errorf("%w: %v", domainerrors.ErrRemoteUnavailable, err))
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return domainerrors.NewError(domainerrors.CodeRemote, fmt.Sprintf("ping: status %d", resp.StatusCode), domainerrors.ErrRemoteUnavailable)
	}
	return nil
}

func (s *HTTPStore) authorize(req *http.Request) {
	if s.apiKey == "" {
		return
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
}

func (s *HTTPStore) do(ctx context.Context, op, table, method string, query url.Values, body record.Record, prefer string) (rows []record.Record, err error) {
	ctx, span := s.tracer.StartRemoteSpan(ctx, op, table)
	defer func() { span.Finish(err) }()

	u := s.baseURL + restPath + url.PathEscape(table)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
	s.authorize(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, domainerrors.WithContext(
			domainerrors.NewError(domainerrors.CodeRemote, op+" "+table, fmt.Errorf("%w: %v", domainerrors.ErrRemoteUnavailable, err)),
			"table", table)
	}
	defer resp.Body.Close()
	span.SetStatusCode(resp.StatusCode)

	if resp.StatusCode >= 300 {
		return nil, parseError(op, table, resp)
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return rows, nil
}

// apiError is the PostgREST error body.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func parseError(op, table string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	msg := strings.TrimSpace(string(body))
	var ae apiError
	if json.Unmarshal(body, &ae) == nil && ae.Message != "" {
		msg = ae.Message
	}

	var cause error
	if resp.StatusCode >= http.StatusInternalServerError {
		cause = domainerrors.ErrRemoteUnavailable
	}
	err := domainerrors.NewError(domainerrors.CodeRemote,
		fmt.Sprintf("%s %s: status %d: %s", op, table, resp.StatusCode, msg), cause)
	domainerrors.WithContext(err, "status", resp.StatusCode)
	if ae.Code != "" {
		domainerrors.WithContext(err, "pg_code", ae.Code)
	}
	return err
}

func newID() string {
	return uuid.NewString()
}
