package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"dashboard-sync/src/helpers"
	"dashboard-sync/src/interfaces"
	"dashboard-sync/src/logger"
	"dashboard-sync/src/models"
	"dashboard-sync/src/normalizer"

	"github.com/goccy/go-json"
)

// ProviderParam is the query parameter naming the active data provider.
const ProviderParam = "provider"

type commandBody struct {
	Symbols []string `json:"symbols"`
}

// -----------------------------------------------------------------------------
// BackendClient talks to the exchange/strategy backend REST API.
// -----------------------------------------------------------------------------

type BackendClient struct {
	net     interfaces.INetworkManager
	baseURL string
	paths   models.MBackendPaths

	mu       sync.RWMutex
	provider string

	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewBackendClient(cfg *models.MBackendConfig, nm interfaces.INetworkManager, log *logger.Logger) *BackendClient {
	if log == nil {
		log = logger.NewLogger(nil, "BackendClient")
	}
	return &BackendClient{
		net:      nm,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		paths:    cfg.Paths,
		provider: strings.TrimSpace(cfg.Provider),
		Logger:   log,
	}
}

func (c *BackendClient) Name() string { return "backend" }

func (c *BackendClient) SetProvider(provider string) {
	c.mu.Lock()
	c.provider = strings.TrimSpace(provider)
	c.mu.Unlock()
}

func (c *BackendClient) Provider() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.provider
}

func (c *BackendClient) url(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func (c *BackendClient) params() map[string]string {
	if p := c.Provider(); p != "" {
		return map[string]string{ProviderParam: p}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Snapshots
// -----------------------------------------------------------------------------

func (c *BackendClient) FetchOrders(ctx context.Context) ([]models.MOrder, int, error) {
	raws, err := c.fetchList(ctx, c.paths.Orders, "orders", false)
	if err != nil {
		return nil, 0, err
	}
	orders, dropped := normalizer.ToOrders(raws)
	return orders, dropped, nil
}

func (c *BackendClient) FetchFills(ctx context.Context) ([]models.MFill, int, error) {
	raws, err := c.fetchList(ctx, c.paths.Fills, "fills", false)
	if err != nil {
		return nil, 0, err
	}
	fills, dropped := normalizer.ToFills(raws)
	return fills, dropped, nil
}

func (c *BackendClient) FetchPositions(ctx context.Context) ([]models.MPosition, int, error) {
	raws, err := c.fetchList(ctx, c.paths.Positions, "positions", true)
	if err != nil {
		return nil, 0, err
	}
	positions, dropped := normalizer.ToPositions(raws)
	return positions, dropped, nil
}

func (c *BackendClient) FetchQuotes(ctx context.Context) ([]models.MQuote, int, error) {
	raws, err := c.fetchList(ctx, c.paths.Quotes, "quotes", true)
	if err != nil {
		return nil, 0, err
	}
	quotes, dropped := normalizer.ToQuotes(raws)
	return quotes, dropped, nil
}

// -----------------------------------------------------------------------------

func (c *BackendClient) FetchMetrics(ctx context.Context) (models.MStrategyMetrics, error) {
	body, err := c.net.Get(ctx, c.url(c.paths.Metrics), c.params())
	if err != nil {
		return models.MStrategyMetrics{}, err
	}

	var obj map[string]interface{}
	if err := decodePayload(body, &obj); err != nil {
		return models.MStrategyMetrics{}, helpers.NewDecodeError("metrics", err)
	}
	for _, key := range []string{"metrics", "data"} {
		if inner, ok := obj[key].(map[string]interface{}); ok {
			obj = inner
			break
		}
	}
	return normalizer.ToMetrics(obj), nil
}

// -----------------------------------------------------------------------------

// fetchList accepts a bare array, an object wrapping the array under
// entityKey or "data", or (when keyed) an object keyed by symbol.
func (c *BackendClient) fetchList(ctx context.Context, path, entityKey string, keyed bool) ([]map[string]interface{}, error) {
	body, err := c.net.Get(ctx, c.url(path), c.params())
	if err != nil {
		return nil, err
	}

	var payload interface{}
	if err := decodePayload(body, &payload); err != nil {
		return nil, helpers.NewDecodeError(entityKey, err)
	}

	switch v := payload.(type) {
	case []interface{}:
		return normalizer.AsRecords(v), nil
	case map[string]interface{}:
		for _, key := range []string{entityKey, "data"} {
			inner, ok := v[key]
			if !ok {
				continue
			}
			switch inner.(type) {
			case []interface{}, map[string]interface{}:
				return normalizer.AsRecords(inner), nil
			}
			return nil, helpers.NewDecodeError(entityKey, fmt.Errorf("%q holds %T, want a list or an object", key, inner))
		}
		if keyed {
			records := normalizer.AsRecords(v)
			if len(v) > 0 && len(records) == 0 {
				// an object with no record-shaped values is not a snapshot
				return nil, helpers.NewDecodeError(entityKey, errors.New("no records in keyed payload"))
			}
			return records, nil
		}
	case nil:
		return nil, nil
	}
	return nil, helpers.NewDecodeError(entityKey, fmt.Errorf("unexpected payload shape %T", payload))
}

// -----------------------------------------------------------------------------

// decodePayload decodes exactly one JSON value, keeping numbers as
// json.Number so large integer ids survive intact.
func decodePayload(body []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	var extra interface{}
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Commands
// -----------------------------------------------------------------------------

func (c *BackendClient) StartStrategy(ctx context.Context, symbols []string) error {
	return c.command(ctx, c.paths.Start, commandBody{Symbols: symbols})
}

func (c *BackendClient) StopStrategy(ctx context.Context, symbols []string) error {
	return c.command(ctx, c.paths.Stop, commandBody{Symbols: symbols})
}

func (c *BackendClient) StopAll(ctx context.Context) error {
	return c.command(ctx, c.paths.StopAll, nil)
}

func (c *BackendClient) Flatten(ctx context.Context, symbols []string) error {
	return c.command(ctx, c.paths.Flatten, commandBody{Symbols: symbols})
}

// command posts to path; the response body is an acknowledgement only.
func (c *BackendClient) command(ctx context.Context, path string, body interface{}) error {
	_, err := c.net.PostJSON(ctx, c.url(path), c.params(), body)
	return err
}
