// Package spotprice polls and caches day-ahead Nordic spot prices for
// live-trace mode, used to build the simulator's 24-hour spot forecast
// instead of reading ahead in a historical trace.
//
// Grounded on modo.Client's poll-cache-serve shape: a mutex-guarded last
// value plus the settlement time it applies to, refreshed on a ticker via
// Run(ctx, period), read via a getter. modo polls Elexon imbalance data;
// this package polls a configurable day-ahead spot price endpoint instead,
// keeping the same reconnect-free simple-HTTP-GET style (no persistent
// connection to manage, unlike the Modbus-backed adapters).
package spotprice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// pricePoint is one hour's published spot price.
type pricePoint struct {
	Hour  time.Time `json:"hour"`
	Price float64   `json:"price"` // currency per kWh
}

// HTTPClient polls a day-ahead spot price feed and caches the most recent
// 24-hour curve. The default build never dials out unless a URL is
// configured (spec.md's Non-goals carry forward: no real exchange is
// called as part of this repository's own tests).
type HTTPClient struct {
	url        string
	httpClient http.Client

	lock   sync.RWMutex
	curve  map[time.Time]float64
	logger *slog.Logger
}

// NewHTTPClient builds a client targeting url, which must return a JSON
// array of pricePoint objects for the upcoming day.
func NewHTTPClient(url string) *HTTPClient {
	return &HTTPClient{
		url:        url,
		httpClient: http.Client{Timeout: 10 * time.Second},
		curve:      make(map[time.Time]float64),
		logger:     slog.Default().With("component", "spotprice", "url", url),
	}
}

// Run polls the feed every period, replacing the cached curve on success.
// Exits when ctx is cancelled.
func (c *HTTPClient) Run(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	if err := c.refresh(); err != nil {
		c.logger.Error("Failed initial spot price refresh", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.refresh(); err != nil {
				c.logger.Error("Failed to refresh spot prices", "error", err)
				continue
			}
			c.logger.Info("Refreshed spot price curve", "num_points", c.numPoints())
		}
	}
}

// ForecastFrom returns a 24-entry forecast of hourly prices starting the
// hour after t. An hour not yet published repeats the price of the nearest
// earlier published hour in the forecast, or is 0 if no earlier hour in the
// forecast is published (mirrors modo.Client.ImbalancePrice's "return the
// last known value" behaviour rather than erroring on a gap).
func (c *HTTPClient) ForecastFrom(t time.Time) [24]float64 {
	c.lock.RLock()
	defer c.lock.RUnlock()

	var forecast [24]float64
	last := 0.0
	base := t.Truncate(time.Hour)
	for i := 0; i < 24; i++ {
		hour := base.Add(time.Duration(i+1) * time.Hour)
		if p, ok := c.curve[hour]; ok {
			last = p
		}
		forecast[i] = last
	}
	return forecast
}

// Price returns the cached price for the hour containing t, and whether a
// published value was found.
func (c *HTTPClient) Price(t time.Time) (float64, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	p, ok := c.curve[t.Truncate(time.Hour)]
	return p, ok
}

func (c *HTTPClient) numPoints() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return len(c.curve)
}

// refresh fetches and replaces the cached curve.
func (c *HTTPClient) refresh() error {
	resp, err := c.httpClient.Get(c.url)
	if err != nil {
		return fmt.Errorf("get spot prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var points []pricePoint
	if err := json.NewDecoder(resp.Body).Decode(&points); err != nil {
		return fmt.Errorf("parse body: %w", err)
	}

	curve := make(map[time.Time]float64, len(points))
	for _, p := range points {
		curve[p.Hour.Truncate(time.Hour)] = p.Price
	}

	c.lock.Lock()
	c.curve = curve
	c.lock.Unlock()

	return nil
}

// FixedPrice is a test double returning a constant price for every hour,
// mirroring controller's MockImbalancePricer.
type FixedPrice struct {
	Value float64
}

// ForecastFrom returns Value repeated 24 times.
func (f FixedPrice) ForecastFrom(t time.Time) [24]float64 {
	var forecast [24]float64
	for i := range forecast {
		forecast[i] = f.Value
	}
	return forecast
}

// Price always returns Value, true.
func (f FixedPrice) Price(t time.Time) (float64, bool) {
	return f.Value, true
}
