package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/turing-trading/tt-flashbots-worktest/internal/common"
	"github.com/turing-trading/tt-flashbots-worktest/internal/rpc"
)

// Adjustment fetches the post-hoc bid adjustment one relay published for
// a slot. A successful fetch with no rows yields HasAdjustment=false so
// the slot is recorded as checked.
func (c *Client) Adjustment(ctx context.Context, relay string, slot uint64) (common.Adjustment, error) {
	params := url.Values{}
	params.Set("slot", strconv.FormatUint(slot, 10))
	requestURL := fmt.Sprintf("https://%s%s?%s", relay, adjustmentsEndpoint, params.Encode())

	adjustment := common.Adjustment{
		Slot:      slot,
		Relay:     CanonicalName(relay),
		FetchedAt: time.Now().UTC(),
	}

	body, err := c.get(ctx, relay, requestURL)
	if err != nil {
		var notFound *rpc.NotFoundError
		if errors.As(err, &notFound) {
			return adjustment, nil
		}
		return common.Adjustment{}, err
	}

	var response struct {
		Data []rawAdjustment `json:"data"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return common.Adjustment{}, &rpc.ProtocolError{Err: fmt.Errorf("relay %s adjustments: %w", relay, err)}
	}
	if len(response.Data) == 0 {
		return adjustment, nil
	}

	raw := response.Data[0]
	adjustment.HasAdjustment = true
	adjustment.BuilderPubkey = raw.BuilderPubkey
	adjustment.SubmittedBlockHash = raw.SubmittedBlockHash
	adjustment.AdjustedBlockHash = raw.AdjustedBlockHash
	if raw.BlockNumber > 0 {
		adjustment.BlockNumber = new(big.Int).SetUint64(raw.BlockNumber)
	}
	adjustment.SubmittedValue = parseDecimal(raw.SubmittedValue)
	adjustment.AdjustedValue = parseDecimal(raw.AdjustedValue)
	adjustment.Delta = parseDecimal(raw.Delta)
	return adjustment, nil
}

func parseDecimal(value string) *big.Int {
	if value == "" {
		return nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil
	}
	return parsed
}

// CollectAdjustments fetches adjustments for one slot from every relay
// that publishes them and stores the results.
func (c *Collector) CollectAdjustments(ctx context.Context, slot uint64) error {
	var adjustments []common.Adjustment
	for _, relay := range AdjustmentRelays {
		adjustment, err := c.client.Adjustment(ctx, relay, slot)
		if err != nil {
			log.Warn().Err(err).Str("relay", CanonicalName(relay)).Uint64("slot", slot).Msg("Failed to fetch adjustment")
			continue
		}
		adjustments = append(adjustments, adjustment)
	}
	if len(adjustments) == 0 && len(AdjustmentRelays) > 0 {
		return fmt.Errorf("no adjustment fetch succeeded for slot %d", slot)
	}
	return c.storage.Relays.InsertAdjustments(adjustments)
}
