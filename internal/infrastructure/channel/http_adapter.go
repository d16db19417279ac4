package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/erp/syncengine/internal/domain/integration"
)

// ProviderHTTP is the provider name of the generic JSON-over-HTTP adapter
const ProviderHTTP = "http"

// maxResponseSize is the maximum allowed response size from a channel (10MB)
const maxResponseSize = 10 * 1024 * 1024

// maxPages bounds the pagination of a single FetchEntitiesSince call
const maxPages = 1000

const defaultTimeout = 30 * time.Second

// HTTPAdapter talks to channels exposing the generic sync REST API:
//
//	POST /entities                 create, returns {"external_id"}
//	PUT  /entities/{id}            update
//	GET  /entities?updated_since=  paginated with next_cursor
//	GET  /inventory/{id}           stock level
//	PUT  /inventory/{id}           stock level
//
// Requests carry the channel API key as bearer token and an HMAC signature of
// the body keyed with the channel API secret. Calls are rate limited per channel.
type HTTPAdapter struct {
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	rateLimit rate.Limit
	rateBurst int
	limiters  map[uuid.UUID]*rate.Limiter
	mu        sync.Mutex // Protects limiters map
}

var _ integration.ChannelAdapter = (*HTTPAdapter)(nil)

// HTTPAdapterOption configures an HTTPAdapter
type HTTPAdapterOption func(*HTTPAdapter)

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) HTTPAdapterOption {
	return func(a *HTTPAdapter) {
		if timeout > 0 {
			a.httpClient.Timeout = timeout
		}
	}
}

// WithRateLimit limits calls per channel to rps requests per second.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) HTTPAdapterOption {
	return func(a *HTTPAdapter) {
		if rps <= 0 {
			a.rateLimit = rate.Inf
			return
		}
		if burst < 1 {
			burst = 1
		}
		a.rateLimit = rate.Limit(rps)
		a.rateBurst = burst
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(client *http.Client) HTTPAdapterOption {
	return func(a *HTTPAdapter) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// WithLogger sets the adapter logger
func WithLogger(logger *zap.Logger) HTTPAdapterOption {
	return func(a *HTTPAdapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock overrides the time source used for request timestamps
func WithClock(now func() time.Time) HTTPAdapterOption {
	return func(a *HTTPAdapter) {
		if now != nil {
			a.now = now
		}
	}
}

// NewHTTPAdapter creates a new generic HTTP channel adapter
func NewHTTPAdapter(opts ...HTTPAdapterOption) *HTTPAdapter {
	a := &HTTPAdapter{
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     zap.NewNop(),
		now:        time.Now,
		rateLimit:  rate.Inf,
		rateBurst:  1,
		limiters:   make(map[uuid.UUID]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// UpsertEntity creates the entity when the payload has no external ID, else updates it
func (a *HTTPAdapter) UpsertEntity(ctx context.Context, channel *integration.Channel, payload integration.EntityPayload) (string, error) {
	body, err := json.Marshal(entityRequest{
		EntityID: payload.EntityID.String(),
		Kind:     string(payload.Kind),
		SKU:      payload.SKU,
		Fields:   payload.Fields,
		Checksum: payload.Checksum,
	})
	if err != nil {
		return "", fmt.Errorf("channel: failed to encode entity: %w", err)
	}

	method, path := http.MethodPost, "/entities"
	if !payload.IsCreate() {
		method, path = http.MethodPut, "/entities/"+url.PathEscape(payload.ExternalID)
	}

	status, respBody, err := a.doRequest(ctx, channel, method, path, nil, body)
	if err != nil {
		return "", err
	}

	var resp entityResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return "", fmt.Errorf("%w: %v", integration.ErrChannelInvalidResponse, err)
		}
	}

	if status == http.StatusConflict {
		if resp.ExternalID == "" {
			return "", fmt.Errorf("%w: duplicate reported without external id", integration.ErrChannelRequestRejected)
		}
		return "", integration.NewDuplicateEntityError(channel.ID, resp.ExternalID, resp.Message)
	}

	externalID := resp.ExternalID
	if externalID == "" {
		externalID = payload.ExternalID
	}
	if externalID == "" {
		return "", fmt.Errorf("%w: create returned no external id", integration.ErrChannelInvalidResponse)
	}
	return externalID, nil
}

// FetchEntitiesSince returns entities changed at or after since, following cursors
func (a *HTTPAdapter) FetchEntitiesSince(ctx context.Context, channel *integration.Channel, since time.Time) ([]integration.RemoteEntity, error) {
	var (
		entities []integration.RemoteEntity
		cursor   string
	)
	seen := make(map[string]bool)

	for page := 0; page < maxPages; page++ {
		query := url.Values{}
		query.Set("updated_since", since.UTC().Format(time.RFC3339))
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		_, respBody, err := a.doRequest(ctx, channel, http.MethodGet, "/entities", query, nil)
		if err != nil {
			return nil, err
		}

		var resp entityPage
		if err := decodeNumbers(respBody, &resp); err != nil {
			return nil, err
		}
		for _, dto := range resp.Entities {
			entities = append(entities, dto.toDomain())
		}

		if resp.NextCursor == "" {
			return entities, nil
		}
		if seen[resp.NextCursor] {
			return nil, fmt.Errorf("%w: cursor %q repeated", integration.ErrChannelInvalidResponse, resp.NextCursor)
		}
		seen[resp.NextCursor] = true
		cursor = resp.NextCursor
	}

	return nil, fmt.Errorf("%w: more than %d pages", integration.ErrChannelInvalidResponse, maxPages)
}

// SetInventoryLevel writes the stock level of a remote entity
func (a *HTTPAdapter) SetInventoryLevel(ctx context.Context, channel *integration.Channel, externalID string, level integration.StockLevel) error {
	if externalID == "" {
		return integration.ErrInvalidExternalID
	}
	body, err := json.Marshal(stockDTO{Available: level.Available, Reserved: level.Reserved})
	if err != nil {
		return fmt.Errorf("channel: failed to encode stock level: %w", err)
	}
	_, _, err = a.doRequest(ctx, channel, http.MethodPut, "/inventory/"+url.PathEscape(externalID), nil, body)
	return err
}

// GetInventoryLevel reads the stock level of a remote entity
func (a *HTTPAdapter) GetInventoryLevel(ctx context.Context, channel *integration.Channel, externalID string) (integration.StockLevel, error) {
	if externalID == "" {
		return integration.StockLevel{}, integration.ErrInvalidExternalID
	}
	_, respBody, err := a.doRequest(ctx, channel, http.MethodGet, "/inventory/"+url.PathEscape(externalID), nil, nil)
	if err != nil {
		return integration.StockLevel{}, err
	}
	var resp stockDTO
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return integration.StockLevel{}, fmt.Errorf("%w: %v", integration.ErrChannelInvalidResponse, err)
	}
	return integration.StockLevel{Available: resp.Available, Reserved: resp.Reserved}, nil
}

// limiterFor returns the rate limiter of a channel, creating it on first use
func (a *HTTPAdapter) limiterFor(channelID uuid.UUID) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	limiter, ok := a.limiters[channelID]
	if !ok {
		limiter = rate.NewLimiter(a.rateLimit, a.rateBurst)
		a.limiters[channelID] = limiter
	}
	return limiter
}

// doRequest signs and sends a request. It returns the status and body of
// 2xx and 409 responses and maps every other outcome to a channel error.
func (a *HTTPAdapter) doRequest(ctx context.Context, channel *integration.Channel, method, path string, query url.Values, body []byte) (int, []byte, error) {
	if channel.BaseURL == "" {
		return 0, nil, fmt.Errorf("%w: channel %s has no base URL", integration.ErrChannelRequestRejected, channel.Code)
	}

	if err := a.limiterFor(channel.ID).Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return 0, nil, mapTransportError(ctx.Err())
		}
		// the wait would outlive the deadline
		return 0, nil, fmt.Errorf("%w: %v", integration.ErrChannelRateLimited, err)
	}

	endpoint := strings.TrimRight(channel.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("channel: failed to create request: %w", err)
	}

	timestamp := strconv.FormatInt(a.now().Unix(), 10)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if channel.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+channel.APIKey)
	}
	req.Header.Set(HeaderTimestamp, timestamp)
	if channel.APISecret != "" {
		req.Header.Set(HeaderSignature, Sign(channel.APISecret, timestamp, body))
	}

	start := a.now()
	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.Warn("Channel request failed",
			zap.String("channel", channel.Code),
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return 0, nil, mapTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: failed to read response: %v", integration.ErrChannelUnavailable, err)
	}

	a.logger.Debug("Channel request completed",
		zap.String("channel", channel.Code),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", a.now().Sub(start)),
	)

	if resp.StatusCode == http.StatusConflict || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return resp.StatusCode, respBody, nil
	}
	return resp.StatusCode, nil, mapStatusError(resp.StatusCode, respBody)
}

// mapStatusError converts an HTTP failure status into a channel error
func mapStatusError(status int, body []byte) error {
	detail := fmt.Sprintf("HTTP %d", status)
	var resp errorResponse
	if json.Unmarshal(body, &resp) == nil && resp.Message != "" {
		detail += ": " + resp.Message
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", integration.ErrChannelAuthFailed, detail)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", integration.ErrChannelRateLimited, detail)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", integration.ErrChannelTimeout, detail)
	case status >= 500:
		return fmt.Errorf("%w: %s", integration.ErrChannelUnavailable, detail)
	case status >= 400:
		return fmt.Errorf("%w: %s", integration.ErrChannelRequestRejected, detail)
	default:
		return fmt.Errorf("%w: unexpected %s", integration.ErrChannelInvalidResponse, detail)
	}
}

// mapTransportError converts a client-side failure into a channel error
func mapTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", integration.ErrChannelTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", integration.ErrChannelTimeout, err)
	}
	return fmt.Errorf("%w: %v", integration.ErrChannelUnavailable, err)
}

// decodeNumbers unmarshals body keeping JSON numbers as json.Number
func decodeNumbers(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", integration.ErrChannelInvalidResponse, err)
	}
	return nil
}
