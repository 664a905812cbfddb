package namenorm

import (
	"sort"
	"strings"
)

// proposerMapping maps lowercased proposer fee-recipient addresses to
// entity names; keys match exactly. Assembled offline from public label
// sources.
var proposerMapping = map[string]string{
	"0x388c818ca8b9251b393131c08a736a67ccb19297": "Lido",
	"0x4675c7e5baafbffbca748158becba61ef3b0a263": "Coinbase",
	"0xebec795c9c8bbd61ffc14a6662944748f299cacf": "Lido",
	"0x0b6e6f9124add5fca8cad4d16f69e4d29b338d77": "Kiln",
	"0xde0b295669a9fd93d5f28d9ec85e40f4cb697bae": "Ethereum Foundation",
	"0x8b0c2c4c8eb078bc6c01f48523764c8942c0c6c4": "Figment",
	"0xf573d99385c05c23b24ed33de616ad16a43a0919": "bloXroute",
	"0x1f9090aae28b8a3dceadf281b0f12828e676c326": "rsync-builder",
	"0xdafea492d9c6733ae3d56b7ed1adb60692c98bc5": "Flashbots",
}

// LookupProposer resolves a proposer entity from the candidate keys,
// typically the proposer public key and the fee recipient. Keys are tried
// in sorted order so a collision resolves deterministically.
func LookupProposer(keys ...string) string {
	candidates := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		candidates = append(candidates, strings.ToLower(key))
	}
	sort.Strings(candidates)

	for _, key := range candidates {
		if name, ok := proposerMapping[key]; ok {
			return name
		}
	}
	return Unknown
}
