// Package transport talks to the bookmarks collection server over HTTP. It
// fetches raw records newer than a watermark and uploads staged records,
// mapping HTTP failures onto the sentinel errors the engine retries or
// aborts on.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MKhiriev/go-mark-sync/models"
	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTransient marks failures worth retrying on the next cycle: network
	// errors, timeouts, 5xx and 429 responses.
	ErrTransient = errors.New("transient server error")
	// ErrUnauthorized means the bearer token was rejected and re-auth failed.
	ErrUnauthorized = errors.New("client unauthorized")
	// ErrSyncIDChanged means the server-side sync generation moved; the
	// local mirror is no longer meaningful.
	ErrSyncIDChanged = errors.New("sync id changed")
)

// FetchResult is one incoming batch together with the server watermark and
// the sync generation it belongs to.
type FetchResult struct {
	Records        []models.RawRecord
	ServerModified int64
	Association    models.SyncAssociation
}

// UploadResult lists the records the server confirmed and the watermark the
// upload landed at.
type UploadResult struct {
	Succeeded      []models.Guid
	ServerModified int64
}

// Client is the engine's view of the collection server.
type Client interface {
	Fetch(ctx context.Context, sinceMillis int64) (*FetchResult, error)
	Upload(ctx context.Context, records []models.OutgoingRecord) (*UploadResult, error)
}

// Config configures the HTTP client.
type Config struct {
	BaseURL  string
	DeviceID string
	Timeout  time.Duration
}

type httpClient struct {
	client   *resty.Client
	deviceID string

	mu          sync.RWMutex
	token       string
	tokenExpiry time.Time
}

// NewHTTPClient constructs a Client over resty.
func NewHTTPClient(cfg Config) Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	cli := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout)

	return &httpClient{client: cli, deviceID: cfg.DeviceID}
}

type recordEnvelope struct {
	ID       string          `json:"id"`
	Payload  json.RawMessage `json:"payload"`
	Modified int64           `json:"modified"`
}

type fetchResponse struct {
	Records          []recordEnvelope `json:"records"`
	ServerModified   int64            `json:"serverModified"`
	GlobalSyncID     string           `json:"globalSyncID"`
	CollectionSyncID string           `json:"collectionSyncID"`
}

type uploadRequest struct {
	Records []recordEnvelope `json:"records"`
}

type uploadResponse struct {
	Success        []string `json:"success"`
	ServerModified int64    `json:"serverModified"`
}

func (h *httpClient) Fetch(ctx context.Context, sinceMillis int64) (*FetchResult, error) {
	req, err := h.authedRequest(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := req.
		SetQueryParam("newer", strconv.FormatInt(sinceMillis, 10)).
		Get("/api/collection/bookmarks")
	if err != nil {
		return nil, fmt.Errorf("%w: fetch request: %w", ErrTransient, err)
	}
	if err = mapHTTPError(resp); err != nil {
		return nil, err
	}

	var fr fetchResponse
	if err = json.Unmarshal(resp.Body(), &fr); err != nil {
		return nil, fmt.Errorf("decode fetch response: %w", err)
	}

	result := &FetchResult{
		Records:        make([]models.RawRecord, len(fr.Records)),
		ServerModified: fr.ServerModified,
		Association: models.SyncAssociation{
			GlobalSyncID:     fr.GlobalSyncID,
			CollectionSyncID: fr.CollectionSyncID,
		},
	}
	for i, env := range fr.Records {
		result.Records[i] = models.RawRecord{
			Payload:        env.Payload,
			ServerModified: env.Modified,
		}
	}

	return result, nil
}

func (h *httpClient) Upload(ctx context.Context, records []models.OutgoingRecord) (*UploadResult, error) {
	if len(records) == 0 {
		return &UploadResult{}, nil
	}

	body := uploadRequest{Records: make([]recordEnvelope, len(records))}
	for i, rec := range records {
		body.Records[i] = recordEnvelope{ID: string(rec.Guid), Payload: rec.Payload}
	}

	req, err := h.authedRequest(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := req.
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/api/collection/bookmarks")
	if err != nil {
		return nil, fmt.Errorf("%w: upload request: %w", ErrTransient, err)
	}
	if err = mapHTTPError(resp); err != nil {
		return nil, err
	}

	var ur uploadResponse
	if err = json.Unmarshal(resp.Body(), &ur); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}

	result := &UploadResult{
		Succeeded:      make([]models.Guid, len(ur.Success)),
		ServerModified: ur.ServerModified,
	}
	for i, id := range ur.Success {
		result.Succeeded[i] = models.Guid(id)
	}

	return result, nil
}

// authedRequest returns a request carrying a valid bearer token, fetching a
// fresh one when the cached token is missing or expires within a minute.
func (h *httpClient) authedRequest(ctx context.Context) (*resty.Request, error) {
	h.mu.RLock()
	token := h.token
	expiry := h.tokenExpiry
	h.mu.RUnlock()

	if token == "" || time.Until(expiry) < time.Minute {
		var err error
		if token, err = h.authenticate(ctx); err != nil {
			return nil, err
		}
	}

	return h.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token), nil
}

func (h *httpClient) authenticate(ctx context.Context) (string, error) {
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"deviceID": h.deviceID}).
		Post("/api/auth/token")
	if err != nil {
		return "", fmt.Errorf("%w: auth request: %w", ErrTransient, err)
	}
	if err = mapHTTPError(resp); err != nil {
		return "", err
	}

	token, err := parseBearerToken(resp.Header().Get("Authorization"))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	h.mu.Lock()
	h.token = token
	h.tokenExpiry = tokenExpiry(token)
	h.mu.Unlock()

	return token, nil
}

func mapHTTPError(resp *resty.Response) error {
	code := resp.StatusCode()
	if code >= http.StatusOK && code < http.StatusMultipleChoices {
		return nil
	}

	switch {
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusPreconditionFailed:
		return ErrSyncIDChanged
	case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: http %d", ErrTransient, code)
	}

	body := strings.TrimSpace(string(resp.Body()))
	if body == "" {
		body = http.StatusText(code)
	}
	return fmt.Errorf("http %d: %s", code, body)
}

func parseBearerToken(value string) (string, error) {
	parts := strings.Split(strings.TrimSpace(value), " ")
	if len(parts) != 2 || parts[1] == "" {
		return "", errors.New("invalid authorization header")
	}
	return parts[1], nil
}

// tokenExpiry reads the unverified exp claim so the client can re-auth
// before the server starts rejecting requests. A token without an exp claim
// is treated as valid for an hour.
func tokenExpiry(tokenString string) time.Time {
	fallback := time.Now().Add(time.Hour)

	token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return fallback
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return fallback
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fallback
	}

	return exp.Time
}
