package rating

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Trip is one delivered shipment as the rating service expects it.
type Trip struct {
	Vehicle  string  `json:"vehicule"`
	Product  string  `json:"produit"`
	City     string  `json:"ville"`
	Weight   float64 `json:"poids"`
	Duration float64 `json:"duree"` // hours
	Price    float64 `json:"prix"`
}

type Result struct {
	DriverID      string  `json:"driverId"`
	OverallRating float64 `json:"overall_rating"`
	Category      string  `json:"category"`
	TotalTrips    int     `json:"total_trips"`
	BestScore     float64 `json:"best_score"`
	WorstScore    float64 `json:"worst_score"`
	Consistency   float64 `json:"consistency"`
}

// PriceQuery describes a prospective trip to price.
type PriceQuery struct {
	Vehicle  string  `json:"vehicule"`
	Product  string  `json:"produit"`
	City     string  `json:"ville"`
	Weight   float64 `json:"poids"`
	Duration float64 `json:"duree"` // hours
}

// PriceEstimate is the service's suggested fare, in Currency.
type PriceEstimate struct {
	SuggestedPrice   float64 `json:"suggested_price"`
	MinPrice         float64 `json:"min_price"`
	MaxPrice         float64 `json:"max_price"`
	ReliabilityScore float64 `json:"reliability_score"`
	Note             string  `json:"note,omitempty"`
	Currency         string  `json:"currency"`
}

// ErrUnavailable wraps every failure to get an answer from the rating service.
var ErrUnavailable = errors.New("rating service unavailable")

// Rater scores a transporter from their delivered trips and prices prospective ones.
type Rater interface {
	RateDriver(ctx context.Context, driverID string, trips []Trip) (Result, error)
	EstimatePrice(ctx context.Context, q PriceQuery) (PriceEstimate, error)
}

// Client talks to the external AI rating service over HTTP.
type Client struct {
	Endpoint string
	Client   *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{Endpoint: strings.TrimRight(endpoint, "/"), Client: &http.Client{Timeout: timeout}}
}

func (c *Client) RateDriver(ctx context.Context, driverID string, trips []Trip) (Result, error) {
	var out Result
	err := c.post(ctx, "/rate-driver", map[string]any{"driverId": driverID, "trips": trips}, &out)
	return out, err
}

func (c *Client) EstimatePrice(ctx context.Context, q PriceQuery) (PriceEstimate, error) {
	var out PriceEstimate
	err := c.post(ctx, "/estimate-price", q, &out)
	return out, err
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: status %d", ErrUnavailable, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode: %v", ErrUnavailable, path, err)
	}
	return nil
}
