package namenorm

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseBuilderNameFromExtraData(t *testing.T) {
	tests := []struct {
		name      string
		extraData string
		want      string
	}{
		{"beaverbuild", "0x6265617665726275696c642e6f7267", "BuilderNet (Beaver)"},
		{"titan", "0x" + hex.EncodeToString([]byte("Titan (titanbuilder.xyz)")), "Titan"},
		{"geth version string", "0x" + hex.EncodeToString([]byte("geth/v1.13.0")), Unknown},
		{"empty", "", Unknown},
		{"not hex", "0xzzzz", Unknown},
		{"binary garbage", "0x00010203", Unknown},
		{"unmapped domain", "0x" + hex.EncodeToString([]byte("examplebuilder.xyz")), "examplebuilder.xyz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseBuilderNameFromExtraData(tt.extraData))
		})
	}
}

func TestCleanBuilderName(t *testing.T) {
	assert.Equal(t, Unknown, CleanBuilderName("", false))
	assert.Equal(t, Unknown, CleanBuilderName("Geth/linux", false))
	assert.Equal(t, "BTCS", CleanBuilderName("Builder+ btcs.com | ethgas.com", false))
	assert.Equal(t, "Titan", CleanBuilderName("titanbuilder.xyz", false))
	assert.Equal(t, "BuilderNet (Beaver)", CleanBuilderName("Beaver", false))
	// Unmapped names pass through untouched.
	assert.Equal(t, "somebuilder", CleanBuilderName("somebuilder", false))
}

func TestAdvancedCleaning(t *testing.T) {
	// Parenthesized domain extraction.
	assert.Equal(t, "Quasar", CleanBuilderName("Quasar (quasar.win)", true))
	// Version suffixes are stripped.
	assert.Equal(t, "Rsync", CleanBuilderName("rsyncbuilder v1.34.0", true))
	// Slash-separated pool names keep the last component.
	assert.Equal(t, "pool.binance.com", CleanBuilderName("EU2/pool.binance.com/", true))
	// Emoji and non-ASCII are dropped.
	assert.Equal(t, "Titan", CleanBuilderName("⚡titanbuilder.xyz⚡", true))
	// One-character leftovers collapse to unknown.
	assert.Equal(t, Unknown, CleanBuilderName("~", true))
}

// Every canonical name must survive normalization unchanged.
func TestCanonicalNamesRoundTrip(t *testing.T) {
	for _, canonical := range CanonicalBuilderNames() {
		assert.Equal(t, canonical, CleanBuilderName(canonical, false), "canonical name %q changed", canonical)
	}
}
