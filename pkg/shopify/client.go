package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/angelmondragon/catalogsync/pkg/config"
	pkgerrors "github.com/angelmondragon/catalogsync/pkg/errors"
	"github.com/angelmondragon/catalogsync/pkg/logger"
)

const (
	accessTokenHeader  = "X-Shopify-Access-Token"
	inventoryBatchSize = 50
	maxPageSize        = 250
)

// RemoteError carries the status and body of a failed Admin API call.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("shopify responded %d", e.Status)
	}
	return fmt.Sprintf("shopify responded %d: %s", e.Status, e.Body)
}

// Client wraps the Admin REST endpoints used by the reset and sync jobs.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logg       *logger.Logger
}

type clientOptions struct {
	baseURL   string
	transport http.RoundTripper
	logg      *logger.Logger
	observer  Observer
}

// Option configures optional client behavior.
type Option func(*clientOptions)

// WithBaseURL overrides the admin API root, e.g. to point at a test server.
func WithBaseURL(baseURL string) Option {
	return func(o *clientOptions) {
		trimmed := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
		if trimmed != "" {
			o.baseURL = trimmed
		}
	}
}

// WithTransport replaces the innermost round tripper below retry and throttle.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) {
		if rt != nil {
			o.transport = rt
		}
	}
}

func WithLogger(logg *logger.Logger) Option {
	return func(o *clientOptions) {
		if logg != nil {
			o.logg = logg
		}
	}
}

// WithObserver reports retries and responses, usually to Prometheus.
func WithObserver(observer Observer) Option {
	return func(o *clientOptions) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// NewClient builds the Admin API client from the shop configuration.
func NewClient(cfg config.ShopifyConfig, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "shopify configuration")
	}

	options := clientOptions{baseURL: cfg.BaseURL()}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.logg == nil {
		options.logg = logger.Nop()
	}

	retrying := newRetryTransport(options.transport, RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		Base:           cfg.BackoffBase,
		Cap:            cfg.BackoffCap,
		AttemptTimeout: cfg.Timeout,
	}, options.logg, options.observer)

	// No Client.Timeout: it would span every retry and backoff.
	return &Client{
		httpClient: &http.Client{
			Transport: newThrottleTransport(retrying, cfg.MutationDelay),
		},
		baseURL: options.baseURL,
		token:   strings.TrimSpace(cfg.AccessToken),
		logg:    options.logg,
	}, nil
}

// ListVariants returns the current variants of a product in platform order.
func (c *Client) ListVariants(ctx context.Context, productID int64) ([]Variant, error) {
	var out variantsEnvelope
	path := fmt.Sprintf("products/%d/variants.json", productID)
	if _, err := c.do(ctx, http.MethodGet, path, url.Values{"limit": {strconv.Itoa(maxPageSize)}}, nil, &out); err != nil {
		return nil, err
	}
	return out.Variants, nil
}

// CreateVariant submits attrs as a new variant. The platform assigns a fresh
// variant ID and inventory item ID.
func (c *Client) CreateVariant(ctx context.Context, productID int64, attrs VariantInput) (Variant, error) {
	var out variantEnvelope
	path := fmt.Sprintf("products/%d/variants.json", productID)
	if _, err := c.do(ctx, http.MethodPost, path, nil, variantInputEnvelope{Variant: attrs}, &out); err != nil {
		return Variant{}, err
	}
	if out.Variant.ID == 0 {
		return Variant{}, pkgerrors.New(pkgerrors.CodeDependency, "create variant returned no variant id")
	}
	return out.Variant, nil
}

// UpdateVariant overwrites the writable attributes of an existing variant.
func (c *Client) UpdateVariant(ctx context.Context, variantID int64, attrs VariantInput) (Variant, error) {
	var out variantEnvelope
	path := fmt.Sprintf("variants/%d.json", variantID)
	if _, err := c.do(ctx, http.MethodPut, path, nil, variantInputEnvelope{Variant: attrs}, &out); err != nil {
		return Variant{}, err
	}
	return out.Variant, nil
}

// DeleteVariant removes a variant. An already deleted variant yields a
// NOT_FOUND error and the last variant of a product yields CONFLICT or
// VALIDATION_ERROR depending on how the platform phrases the refusal.
func (c *Client) DeleteVariant(ctx context.Context, productID, variantID int64) error {
	path := fmt.Sprintf("products/%d/variants/%d.json", productID, variantID)
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil, nil)
	return err
}

func (c *Client) GetInventoryLevels(ctx context.Context, inventoryItemID int64) ([]InventoryLevel, error) {
	var out inventoryLevelsEnvelope
	query := url.Values{
		"inventory_item_ids": {strconv.FormatInt(inventoryItemID, 10)},
		"limit":              {strconv.Itoa(maxPageSize)},
	}
	if _, err := c.do(ctx, http.MethodGet, "inventory_levels.json", query, nil, &out); err != nil {
		return nil, err
	}
	return out.InventoryLevels, nil
}

func (c *Client) SetInventoryLevel(ctx context.Context, inventoryItemID, locationID int64, available int) error {
	body := setInventoryLevelRequest{
		LocationID:      locationID,
		InventoryItemID: inventoryItemID,
		Available:       available,
	}
	_, err := c.do(ctx, http.MethodPost, "inventory_levels/set.json", nil, body, nil)
	return err
}

// RemoveInventoryLevel disconnects an inventory item from a location.
func (c *Client) RemoveInventoryLevel(ctx context.Context, inventoryItemID, locationID int64) error {
	query := url.Values{
		"inventory_item_id": {strconv.FormatInt(inventoryItemID, 10)},
		"location_id":       {strconv.FormatInt(locationID, 10)},
	}
	_, err := c.do(ctx, http.MethodDelete, "inventory_levels.json", query, nil, nil)
	return err
}

func (c *Client) GetLocations(ctx context.Context) ([]Location, error) {
	var out locationsEnvelope
	if _, err := c.do(ctx, http.MethodGet, "locations.json", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Locations, nil
}

// LocationIDByName matches location names case-insensitively. The boolean is
// false when no location carries that name.
func (c *Client) LocationIDByName(ctx context.Context, name string) (int64, bool, error) {
	locations, err := c.GetLocations(ctx)
	if err != nil {
		return 0, false, err
	}
	want := strings.TrimSpace(name)
	for _, loc := range locations {
		if strings.EqualFold(strings.TrimSpace(loc.Name), want) {
			return loc.ID, true, nil
		}
	}
	return 0, false, nil
}

// ListProducts walks every product page, following the Link header, and hands
// each page to fn. Returning an error from fn stops the walk.
func (c *Client) ListProducts(ctx context.Context, q ProductQuery, fn func([]Product) error) error {
	limit := q.Limit
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if status := strings.TrimSpace(q.Status); status != "" && status != "any" {
		query.Set("status", status)
	}

	next := "products.json"
	for next != "" {
		var out productsEnvelope
		header, err := c.do(ctx, http.MethodGet, next, query, nil, &out)
		if err != nil {
			return err
		}
		if err := fn(out.Products); err != nil {
			return err
		}
		next = nextLink(header.Get("Link"))
		query = nil
	}
	return nil
}

// InventoryLevelsAtLocation returns the available quantity of every item at
// one location. Items without a level at that location map to nil.
func (c *Client) InventoryLevelsAtLocation(ctx context.Context, inventoryItemIDs []int64, locationID int64) (map[int64]*int, error) {
	result := make(map[int64]*int, len(inventoryItemIDs))
	for start := 0; start < len(inventoryItemIDs); start += inventoryBatchSize {
		end := start + inventoryBatchSize
		if end > len(inventoryItemIDs) {
			end = len(inventoryItemIDs)
		}
		batch := inventoryItemIDs[start:end]

		ids := make([]string, 0, len(batch))
		for _, id := range batch {
			ids = append(ids, strconv.FormatInt(id, 10))
			result[id] = nil
		}
		query := url.Values{
			"inventory_item_ids": {strings.Join(ids, ",")},
			"location_ids":       {strconv.FormatInt(locationID, 10)},
			"limit":              {strconv.Itoa(maxPageSize)},
		}

		var out inventoryLevelsEnvelope
		if _, err := c.do(ctx, http.MethodGet, "inventory_levels.json", query, nil, &out); err != nil {
			return nil, err
		}
		for _, level := range out.InventoryLevels {
			if level.LocationID == locationID {
				result[level.InventoryItemID] = level.Available
			}
		}
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body any, out any) (http.Header, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "shopify client not configured")
	}

	target, err := c.buildURL(endpoint, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "build shopify url")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeSerialization, err, "marshal shopify request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build shopify request")
	}
	req.Header.Set(accessTokenHeader, c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s %s", method, endpoint))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return resp.Header, statusError(method, endpoint, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.Header, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return resp.Header, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode %s %s response", method, endpoint))
	}
	return resp.Header, nil
}

func (c *Client) buildURL(endpoint string, query url.Values) (string, error) {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return "", err
		}
		if len(query) > 0 {
			merged := parsed.Query()
			for key, values := range query {
				merged[key] = values
			}
			parsed.RawQuery = merged.Encode()
		}
		return parsed.String(), nil
	}

	target := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target, nil
}

func statusError(method, endpoint string, resp *http.Response) error {
	remote := &RemoteError{Status: resp.StatusCode, Body: readErrorBody(resp)}
	message := fmt.Sprintf("%s %s", method, endpoint)

	var code pkgerrors.Code
	switch {
	case resp.StatusCode == http.StatusNotFound:
		code = pkgerrors.CodeNotFound
	case resp.StatusCode == http.StatusConflict:
		code = pkgerrors.CodeConflict
	case resp.StatusCode == http.StatusTooManyRequests:
		code = pkgerrors.CodeRateLimit
	case resp.StatusCode < http.StatusInternalServerError:
		code = pkgerrors.CodeValidation
	default:
		code = pkgerrors.CodeDependency
	}
	return pkgerrors.Wrap(code, remote, message).WithDetails(map[string]any{
		"status": remote.Status,
		"body":   remote.Body,
	})
}

// nextLink extracts the rel="next" URL from a Link header.
func nextLink(header string) string {
	if header == "" {
		return ""
	}
	for _, part := range strings.Split(header, ",") {
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		target := strings.SplitN(part, ";", 2)[0]
		return strings.Trim(strings.TrimSpace(target), "<>")
	}
	return ""
}
