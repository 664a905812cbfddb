package relay

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/turing-trading/tt-flashbots-worktest/internal/common"
	"github.com/turing-trading/tt-flashbots-worktest/internal/metrics"
)

// outlierThresholdPct marks a day as an outlier when its count falls
// below this fraction of the relay's mean.
const outlierThresholdPct = 0.5

// maxGapDistanceSlots merges gaps within one day of each other into a
// single repair range.
const maxGapDistanceSlots = common.SlotsPerDay

// dailyStats returns the mean and population standard deviation of the
// observed daily counts.
func dailyStats(counts []common.DailyPayloadCount) (mean, stddev float64) {
	if len(counts) == 0 {
		return 0, 0
	}
	var sum float64
	for _, c := range counts {
		sum += float64(c.Count)
	}
	mean = sum / float64(len(counts))

	var variance float64
	for _, c := range counts {
		diff := float64(c.Count) - mean
		variance += diff * diff
	}
	stddev = math.Sqrt(variance / float64(len(counts)))
	return mean, stddev
}

// isOutlier reports whether a day's count is anomalously low for the
// relay: under half the mean, or more than two standard deviations below.
func isOutlier(value, mean, stddev float64) bool {
	if value < mean*outlierThresholdPct {
		return true
	}
	if stddev > 0 && value < mean-2*stddev {
		return true
	}
	return false
}

// FindGaps computes per-relay outlier days from the daily payload counts
// and consolidates adjacent days into repairable slot ranges.
func FindGaps(counts []common.DailyPayloadCount) []common.GapRange {
	byRelay := make(map[string][]common.DailyPayloadCount)
	for _, c := range counts {
		byRelay[c.Relay] = append(byRelay[c.Relay], c)
	}

	var gaps []common.GapRange
	for relay, relayCounts := range byRelay {
		mean, stddev := dailyStats(relayCounts)
		for _, c := range relayCounts {
			if !isOutlier(float64(c.Count), mean, stddev) {
				continue
			}
			date, err := time.Parse("2006-01-02", c.Date)
			if err != nil {
				continue
			}
			fromSlot, toSlot := common.DateToSlotRange(date)
			gaps = append(gaps, common.GapRange{
				Relay:    relay,
				FromSlot: fromSlot,
				ToSlot:   toSlot,
				Dates:    []string{c.Date},
			})
			metrics.RelayGapsDetected.WithLabelValues(relay).Inc()
		}
	}
	return ConsolidateGaps(gaps)
}

// ConsolidateGaps merges adjacent or nearby ranges per relay so repair
// needs fewer API walks.
func ConsolidateGaps(gaps []common.GapRange) []common.GapRange {
	if len(gaps) == 0 {
		return nil
	}

	byRelay := make(map[string][]common.GapRange)
	for _, gap := range gaps {
		byRelay[gap.Relay] = append(byRelay[gap.Relay], gap)
	}

	relays := make([]string, 0, len(byRelay))
	for relay := range byRelay {
		relays = append(relays, relay)
	}
	sort.Strings(relays)

	var consolidated []common.GapRange
	for _, relay := range relays {
		relayGaps := byRelay[relay]
		sort.Slice(relayGaps, func(i, j int) bool { return relayGaps[i].FromSlot < relayGaps[j].FromSlot })

		current := relayGaps[0]
		for _, next := range relayGaps[1:] {
			if next.FromSlot <= current.ToSlot+maxGapDistanceSlots {
				if next.ToSlot > current.ToSlot {
					current.ToSlot = next.ToSlot
				}
				current.Dates = append(current.Dates, next.Dates...)
			} else {
				consolidated = append(consolidated, current)
				current = next
			}
		}
		consolidated = append(consolidated, current)
	}
	return consolidated
}

// DetectAndRepairGaps runs the full cycle: aggregate daily counts per
// relay, find outlier days, and re-query each consolidated range, merging
// missing rows into the store.
func (c *Collector) DetectAndRepairGaps(ctx context.Context) error {
	var allCounts []common.DailyPayloadCount
	for _, relay := range Relays {
		counts, err := c.storage.Relays.GetDailyPayloadCounts(CanonicalName(relay))
		if err != nil {
			return err
		}
		allCounts = append(allCounts, counts...)
	}

	gaps := FindGaps(allCounts)
	if len(gaps) == 0 {
		log.Info().Msg("No relay payload gaps detected")
		return nil
	}
	log.Info().Msgf("Detected %d consolidated gap ranges", len(gaps))

	fetchHosts := make(map[string]string, len(Relays))
	for _, relay := range Relays {
		fetchHosts[CanonicalName(relay)] = relay
	}

	for _, gap := range gaps {
		host, ok := fetchHosts[gap.Relay]
		if !ok {
			host = gap.Relay
		}
		merged, err := c.RepairRange(ctx, host, gap.FromSlot, gap.ToSlot)
		if err != nil {
			log.Warn().Err(err).Str("relay", gap.Relay).Uint64("from_slot", gap.FromSlot).Uint64("to_slot", gap.ToSlot).Msg("Gap repair failed")
			continue
		}
		log.Info().Str("relay", gap.Relay).Uint64("from_slot", gap.FromSlot).Uint64("to_slot", gap.ToSlot).Msgf("Gap repair merged %d payloads", merged)
	}
	return nil
}
