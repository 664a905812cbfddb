package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	config "github.com/turing-trading/tt-flashbots-worktest/configs"
	"github.com/turing-trading/tt-flashbots-worktest/internal/common"
	"github.com/turing-trading/tt-flashbots-worktest/internal/metrics"
	"github.com/turing-trading/tt-flashbots-worktest/internal/rpc"
	"golang.org/x/time/rate"
)

// Client talks to the relay data APIs. One shared HTTP client, one token
// bucket per relay so a slow relay cannot starve the others.
type Client struct {
	httpClient     *http.Client
	pageLimit      int
	retry          rpc.RetryPolicy
	beaconEndpoint string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
}

func NewClient() *Client {
	cfg := config.Cfg.Relays
	retry := rpc.DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		retry.MaxRetries = uint64(cfg.MaxRetries) - 1
	}
	if cfg.TimeoutSeconds > 0 {
		retry.AttemptTimeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = 200
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2.0
	}
	return &Client{
		httpClient:     &http.Client{Timeout: retry.AttemptTimeout},
		pageLimit:      pageLimit,
		retry:          retry,
		beaconEndpoint: cfg.BeaconEndpoint,
		limiters:       make(map[string]*rate.Limiter),
		rps:            rps,
	}
}

// PageLimit returns the page size used for a relay, honoring per-relay
// overrides.
func (c *Client) PageLimit(relay string) int {
	if limit, ok := relayPageLimits[relay]; ok && limit < c.pageLimit {
		return limit
	}
	return c.pageLimit
}

func (c *Client) limiter(relay string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	limiter, ok := c.limiters[relay]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(c.rps), 1)
		c.limiters[relay] = limiter
	}
	return limiter
}

// get fetches a URL respecting the relay's token bucket. 429 responses
// wait out the bucket and do not count toward the retry budget.
func (c *Client) get(ctx context.Context, relay, requestURL string) ([]byte, error) {
	var body []byte
	err := c.retry.Do(ctx, func(attemptCtx context.Context) error {
		for {
			if err := c.limiter(relay).Wait(attemptCtx); err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, requestURL, nil)
			if err != nil {
				return &rpc.ProtocolError{Err: err}
			}
			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			data, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				log.Debug().Str("relay", relay).Msg("Rate limited, backing off before next attempt")
				select {
				case <-time.After(time.Second):
				case <-attemptCtx.Done():
					return attemptCtx.Err()
				}
				continue
			case resp.StatusCode == http.StatusNotFound:
				return &rpc.NotFoundError{What: requestURL}
			case resp.StatusCode >= 400:
				return fmt.Errorf("relay %s returned status %d", relay, resp.StatusCode)
			case readErr != nil:
				return readErr
			}

			body = data
			return nil
		}
	})
	return body, err
}

// Page fetches one page of delivered payloads, newest first, starting at
// cursor (0 means the relay's head). Returns the payloads and the cursor
// for the next older page, 0 when the walk is done.
func (c *Client) Page(ctx context.Context, relay string, cursor uint64) ([]common.RelayPayload, uint64, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(c.PageLimit(relay)))
	if cursor > 0 {
		params.Set("cursor", strconv.FormatUint(cursor, 10))
	}
	requestURL := fmt.Sprintf("https://%s%s?%s", relay, DeliveredPayloadsEndpoint, params.Encode())

	metrics.RelayPageFetches.WithLabelValues(CanonicalName(relay)).Inc()
	body, err := c.get(ctx, relay, requestURL)
	if err != nil {
		metrics.RelayFetchFailures.WithLabelValues(CanonicalName(relay)).Inc()
		return nil, 0, err
	}

	payloads, err := decodePayloads(relay, body)
	if err != nil {
		return nil, 0, err
	}
	if len(payloads) == 0 {
		return nil, 0, nil
	}

	minSlot := payloads[0].Slot
	for _, pl := range payloads {
		if pl.Slot < minSlot {
			minSlot = pl.Slot
		}
	}
	next := uint64(0)
	if minSlot > 0 {
		next = minSlot - 1
	}
	return payloads, next, nil
}

// PayloadsForBlock queries a relay's data API scoped to one block
// number. A 404 means the relay has nothing for this block.
func (c *Client) PayloadsForBlock(ctx context.Context, relay string, blockNumber uint64) ([]common.RelayPayload, error) {
	params := url.Values{}
	params.Set("block_number", strconv.FormatUint(blockNumber, 10))
	requestURL := fmt.Sprintf("https://%s%s?%s", relay, DeliveredPayloadsEndpoint, params.Encode())

	body, err := c.get(ctx, relay, requestURL)
	if err != nil {
		var notFound *rpc.NotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		metrics.RelayFetchFailures.WithLabelValues(CanonicalName(relay)).Inc()
		return nil, err
	}
	return decodePayloads(relay, body)
}

func decodePayloads(relay string, body []byte) ([]common.RelayPayload, error) {
	var traces []rawBidTrace
	if err := json.Unmarshal(body, &traces); err != nil {
		return nil, &rpc.ProtocolError{Err: fmt.Errorf("relay %s: %w", relay, err)}
	}

	// Some relays repeat a slot inside one page; keep the first occurrence.
	seen := make(map[uint64]bool, len(traces))
	payloads := make([]common.RelayPayload, 0, len(traces))
	for _, trace := range traces {
		payload, err := trace.toPayload(relay)
		if err != nil {
			return nil, &rpc.ProtocolError{Err: fmt.Errorf("relay %s: %w", relay, err)}
		}
		if seen[payload.Slot] {
			continue
		}
		seen[payload.Slot] = true
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

// LatestSlot returns the finalized head slot from the beacon API.
func (c *Client) LatestSlot(ctx context.Context) (uint64, error) {
	requestURL := fmt.Sprintf("%s/eth/v1/beacon/headers/finalized", c.beaconEndpoint)
	body, err := c.get(ctx, "beacon", requestURL)
	if err != nil {
		return 0, err
	}

	var response struct {
		Data struct {
			Header struct {
				Message struct {
					Slot string `json:"slot"`
				} `json:"message"`
			} `json:"header"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return 0, &rpc.ProtocolError{Err: err}
	}
	slot, err := strconv.ParseUint(response.Data.Header.Message.Slot, 10, 64)
	if err != nil {
		return 0, &rpc.ProtocolError{Err: err}
	}
	return slot, nil
}
