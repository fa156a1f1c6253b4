package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/corkboard-app/corkboard/internal/board"
	"github.com/corkboard-app/corkboard/internal/obs"
)

// HTTPError is a non-2xx response from the data API.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether err is worth retrying: network-level failures,
// timeouts, rate limiting, and server errors. Well-formed client errors are
// not.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusRequestTimeout ||
			httpErr.StatusCode == http.StatusTooManyRequests ||
			httpErr.StatusCode >= 500
	}
	return true
}

// isSchemaMismatch detects a write that referenced a column the backend does
// not recognize yet, as happens mid rolling migration.
func isSchemaMismatch(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	if httpErr.Code == "PGRST204" {
		return true
	}
	msg := strings.ToLower(httpErr.Message)
	return strings.Contains(msg, "column") &&
		(strings.Contains(msg, "does not exist") || strings.Contains(msg, "could not find"))
}

// RESTStore issues single-shot JSON calls against the hosted data API.
// Retries and caching belong to Gateway.
type RESTStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
}

// NewRESTStore creates a client for the data API at baseURL. A nil
// httpClient gets a conservative default; per-call deadlines come from the
// caller's context, so no client-level timeout is set.
func NewRESTStore(baseURL, apiKey string, httpClient *http.Client) *RESTStore {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &RESTStore{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: httpClient,
		log:        obs.Pkg("store"),
	}
}

func (s *RESTStore) FetchPage(ctx context.Context, page, size int) ([]board.Note, error) {
	q := url.Values{}
	q.Set("offset", fmt.Sprintf("%d", page*size))
	q.Set("limit", fmt.Sprintf("%d", size))
	q.Set("order", "created_at.asc")

	var rows []Row
	if err := s.doJSON(ctx, http.MethodGet, "/notes?"+q.Encode(), nil, &rows); err != nil {
		return nil, err
	}
	notes := make([]board.Note, 0, len(rows))
	for _, row := range rows {
		notes = append(notes, row.Note())
	}
	return notes, nil
}

func (s *RESTStore) Count(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := s.doJSON(ctx, http.MethodGet, "/notes/count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (s *RESTStore) Insert(ctx context.Context, draft board.NoteDraft) (board.Note, error) {
	body := map[string]any{
		"content": draft.Content,
		"author":  draft.Author,
		"color":   draft.Color,
		"kind":    string(draft.Kind),
	}
	if draft.MediaURL != "" {
		body["media_url"] = draft.MediaURL
	}
	if draft.X != nil {
		body["x"] = *draft.X
	}
	if draft.Y != nil {
		body["y"] = *draft.Y
	}

	var row Row
	if err := s.doJSON(ctx, http.MethodPost, "/notes", body, &row); err != nil {
		return board.Note{}, err
	}
	return row.Note(), nil
}

func (s *RESTStore) Update(ctx context.Context, id string, patch board.NotePatch) error {
	fields := patchFields(patch, false)
	if len(fields) == 0 {
		return nil
	}
	err := s.doJSON(ctx, http.MethodPatch, "/notes/"+url.PathEscape(id), fields, nil)
	if err == nil || !isSchemaMismatch(err) {
		return err
	}

	// Forward-compat shim: the backend predates the newer columns, so write
	// only the known-safe field set.
	safe := patchFields(patch, true)
	if len(safe) == 0 || len(safe) == len(fields) {
		return err
	}
	s.log.Warn("schema mismatch on update, falling back to reduced field set",
		"note_id", id, "error", err)
	return s.doJSON(ctx, http.MethodPatch, "/notes/"+url.PathEscape(id), safe, nil)
}

func (s *RESTStore) Delete(ctx context.Context, id string) error {
	return s.doJSON(ctx, http.MethodDelete, "/notes/"+url.PathEscape(id), nil, nil)
}

func (s *RESTStore) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+requestPath, bodyReader)
	if err != nil {
		return err
	}
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	s.log.Debug("data api call",
		"method", method, "path", requestPath,
		"status", resp.StatusCode, "elapsed", time.Since(start).String())

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil || len(payload) == 0 {
			return nil
		}
		return json.Unmarshal(payload, out)
	}

	var errPayload struct {
		Code    string `json:"code"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(payload, &errPayload)
	message := errPayload.Message
	if message == "" {
		message = errPayload.Error
	}
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Code:       errPayload.Code,
		Message:    message,
	}
}
