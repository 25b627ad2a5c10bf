package keepa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"dealsignal/internal/pricing"
)

// MaxBatch is the largest number of ASINs Keepa accepts per product request.
const MaxBatch = 100

// Keepa csv indices used by the refresh job.
const (
	SeriesAmazon      = 0
	SeriesNew         = 1
	SeriesRating      = 16
	SeriesReviewCount = 17
)

const imageBaseURL = "https://m.media-amazon.com/images/I/"

// ErrAPI wraps errors reported by the Keepa API.
var ErrAPI = errors.New("keepa api error")

// ProductFetcher retrieves Keepa products by ASIN.
type ProductFetcher interface {
	Products(ctx context.Context, asins []string) ([]Product, error)
}

// Options parameterise the Keepa client.
type Options struct {
	BaseURL           string
	APIKey            string
	Domain            int
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
}

// Client talks to the Keepa product endpoint.
type Client struct {
	opts    Options
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewClient constructs a rate-limited Keepa client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.keepa.com"
	}
	if opts.Domain <= 0 {
		opts.Domain = 1
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		opts:    opts,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger.With().Str("component", "keepa").Logger(),
	}
}

// Products fetches up to MaxBatch products with their price histories.
func (c *Client) Products(ctx context.Context, asins []string) ([]Product, error) {
	if len(asins) == 0 {
		return nil, nil
	}
	if len(asins) > MaxBatch {
		return nil, fmt.Errorf("keepa batch of %d exceeds %d asins", len(asins), MaxBatch)
	}
	if c.opts.APIKey == "" {
		return nil, errors.New("keepa api key not configured")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("keepa rate limiter: %w", err)
	}

	query := url.Values{}
	query.Set("key", c.opts.APIKey)
	query.Set("domain", strconv.Itoa(c.opts.Domain))
	query.Set("asin", strings.Join(asins, ","))
	query.Set("stats", "90")
	query.Set("rating", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/product?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("keepa request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read keepa response: %w", err)
	}

	var body productResponse
	decodeErr := json.Unmarshal(payload, &body)

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, body, payload)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode keepa response: %w", decodeErr)
	}
	if len(body.Error) > 0 && string(body.Error) != "null" {
		return nil, fmt.Errorf("%w: %s", ErrAPI, strings.TrimSpace(string(body.Error)))
	}

	c.logger.Debug().Int("requested", len(asins)).Int("received", len(body.Products)).
		Int("tokens_left", body.TokensLeft).Msg("keepa products fetched")
	return body.Products, nil
}

// Batches splits asins into chunks of at most size entries.
func Batches(asins []string, size int) [][]string {
	if size <= 0 || size > MaxBatch {
		size = MaxBatch
	}
	out := make([][]string, 0, (len(asins)+size-1)/size)
	for start := 0; start < len(asins); start += size {
		end := start + size
		if end > len(asins) {
			end = len(asins)
		}
		out = append(out, asins[start:end])
	}
	return out
}

// Product is the subset of a Keepa product the importer and refresh job use.
type Product struct {
	ASIN      string            `json:"asin"`
	Title     string            `json:"title"`
	ImagesCSV string            `json:"imagesCSV"`
	Features  []string          `json:"features"`
	CSV       []json.RawMessage `json:"csv"`
}

// Series returns csv series idx, or nil when it is missing, null or malformed.
func (p Product) Series(idx int) pricing.RawSeries {
	if idx < 0 || idx >= len(p.CSV) {
		return nil
	}
	raw := p.CSV[idx]
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var values []json.Number
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	series := make(pricing.RawSeries, 0, len(values))
	for _, v := range values {
		n, err := v.Int64()
		if err != nil {
			return nil
		}
		series = append(series, n)
	}
	return series
}

// LatestValue returns the newest non-negative value of csv series idx.
func (p Product) LatestValue(idx int) (int64, bool) {
	series := p.Series(idx)
	if len(series) < 2 || len(series)%2 != 0 {
		return 0, false
	}
	for i := len(series) - 1; i >= 1; i -= 2 {
		if series[i] >= 0 {
			return series[i], true
		}
	}
	return 0, false
}

// Rating returns the latest star rating (Keepa stores 45 for 4.5).
func (p Product) Rating() (float64, bool) {
	v, ok := p.LatestValue(SeriesRating)
	if !ok || v == 0 {
		return 0, false
	}
	return float64(v) / 10, true
}

// ReviewCount returns the latest review count.
func (p Product) ReviewCount() (int64, bool) {
	return p.LatestValue(SeriesReviewCount)
}

// ImageURL builds the product image URL from the first image code.
func (p Product) ImageURL() string {
	if p.ImagesCSV == "" {
		return ""
	}
	code := strings.TrimSpace(strings.Split(p.ImagesCSV, ",")[0])
	if code == "" {
		return ""
	}
	return imageBaseURL + code
}

type productResponse struct {
	Products   []Product       `json:"products"`
	TokensLeft int             `json:"tokensLeft"`
	Error      json.RawMessage `json:"error"`
}

func parseHTTPError(status int, body productResponse, payload []byte) error {
	if len(body.Error) > 0 && string(body.Error) != "null" {
		return fmt.Errorf("%w (%d): %s", ErrAPI, status, strings.TrimSpace(string(body.Error)))
	}
	if len(payload) > 0 {
		return fmt.Errorf("%w (%d): %s", ErrAPI, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%w (%d)", ErrAPI, status)
}

var _ ProductFetcher = (*Client)(nil)
