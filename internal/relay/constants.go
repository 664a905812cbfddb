package relay

// Relays is the set of relay data APIs polled for delivered payloads,
// identified by domain name.
var Relays = []string{
	"relay-analytics.ultrasound.money", // redirect from relay.ultrasound.money
	"bloxroute.max-profit.blxrbdn.com",
	"bloxroute.regulated.blxrbdn.com",
	"titanrelay.xyz",
	"agnostic-relay.net",
	"aestus.live",
	"boost-relay.flashbots.net",
	"relay.ethgas.com",
	"relay.btcs.com",
	"relay.wenmerge.com",
	"mainnet-relay.securerpc.com",
}

// relayNameMapping maps the URL used for fetching to the canonical name
// stored in the database, for relays that serve data from a different
// host than their identity.
var relayNameMapping = map[string]string{
	"relay-analytics.ultrasound.money": "ultrasound",
	"boost-relay.flashbots.net":        "flashbots",
}

// CanonicalName returns the identifier a relay's rows are stored under.
func CanonicalName(relay string) string {
	if canonical, ok := relayNameMapping[relay]; ok {
		return canonical
	}
	return relay
}

const DeliveredPayloadsEndpoint = "/relay/v1/data/bidtraces/proposer_payload_delivered"

// relayPageLimits overrides the default page size for relays with lower
// maximum limits.
var relayPageLimits = map[string]int{
	"bloxroute.max-profit.blxrbdn.com": 100,
	"bloxroute.regulated.blxrbdn.com":  100,
	"titanrelay.xyz":                   100,
	"agnostic-relay.net":               100,
	"aestus.live":                      100,
}

// AdjustmentRelays publish post-hoc bid adjustments.
var AdjustmentRelays = []string{
	"relay-analytics.ultrasound.money",
}

const adjustmentsEndpoint = "/ultrasound/v1/data/adjustments"

// SlotJumpSize is how far the cursor jumps back when a relay returns an
// empty page during the historical walk (~7 days of slots).
const SlotJumpSize = 50_000
