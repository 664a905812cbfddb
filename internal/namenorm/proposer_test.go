package namenorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupProposer(t *testing.T) {
	assert.Equal(t, "Lido", LookupProposer("0x388C818CA8B9251b393131C08a736A67ccB19297"))
	assert.Equal(t, "Coinbase", LookupProposer("", "0x4675c7e5baafbffbca748158becba61ef3b0a263"))
	assert.Equal(t, Unknown, LookupProposer("0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"))
	assert.Equal(t, Unknown, LookupProposer())
}

func TestLookupProposerDeterministicTieBreak(t *testing.T) {
	// Two known keys in either order resolve to the same entity.
	a := LookupProposer("0x388c818ca8b9251b393131c08a736a67ccb19297", "0x4675c7e5baafbffbca748158becba61ef3b0a263")
	b := LookupProposer("0x4675c7e5baafbffbca748158becba61ef3b0a263", "0x388c818ca8b9251b393131c08a736a67ccb19297")
	assert.Equal(t, a, b)
}
