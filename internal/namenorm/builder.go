// Package namenorm canonicalizes builder identifiers parsed from block
// extra data and maps proposer keys to entity names.
package namenorm

import (
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"
)

const Unknown = "unknown"

// builderNameMapping maps raw identifier variations to canonical names.
var builderNameMapping = map[string]string{
	// Titan variants
	"titanbuilder.xyz":          "Titan",
	"Titan (titanbuilder.xyz)":  "Titan",
	"titanrelay.xyz":            "Titan",
	// BuilderNet variants
	"Flashbots":                 "BuilderNet (Flashbots)",
	"flashbots":                 "BuilderNet (Flashbots)",
	"Beaver":                    "BuilderNet (Beaver)",
	"beaverbuild.org":           "BuilderNet (Beaver)",
	"BuilderNet (Beaver)":       "BuilderNet (Beaver)",
	"Nethermind":                "BuilderNet (Nethermind)",
	// Quasar variants
	"quasar.win":                "Quasar",
	// Rsync variants
	"rsyncbuilder":              "Rsync",
	"rsync-builder.xyz":         "Rsync",
	// Bob The Builder variants
	"bobTheBuilder.xyz":         "Bob The Builder",
	"By @builder0x69":           "Bob The Builder",
	"By builder0x69":            "Bob The Builder",
	// 0x69 builder variants
	"by @builder":               "0x69",
	"by builder":                "0x69",
	// IO Builder variants
	"iobuilder.xyz":             "IO Builder",
	// Eureka variants
	"eurekabuilder.xyz":         "Eureka",
	// Bitget variants
	"www.bitget.com":            "Bitget",
	// Turbo variants
	"rpc.turbobuilder.xyz":      "Turbo",
	"turbobuilder.xyz":          "Turbo",
	// BTCS variants
	"Builder+ btcs.com | ethgas.com": "BTCS",
	// DexPeer variants
	"DexPeer Builder":           "DexPeer",
	// BuildAI variants
	"buildai.net":               "BuildAI",
	// Snail variants
	"snailbuilder.sh":           "Snail",
	// bloXroute capitalization variants
	"bloxroute":                 "bloXroute",
	"Bloxroute":                 "bloXroute",
	"bloxroute.max-profit.blxrbdn.com": "bloXroute",
	// Jet variants
	"jetbldr.xyz":               "Jet",
	// Penguin variants
	"penguinbuild.org":          "Penguin",
	// Gambit variants
	"gambitlabs.fi":             "Gambit",
	// Blocknative variants
	"blocknative.com":           "Blocknative",
	// Manifold variants
	"manifoldfinance.com":       "Manifold",
	// Besu development builds
	"besu-develop-":             "besu",
	"besu-develop-e":            "besu",
	// Generic/unknown builders
	"builder":                   Unknown,
	"MevRefund -":               Unknown, // troll message, not a real builder
	"":                          Unknown,
}

var (
	tldPattern        = regexp.MustCompile(`^([a-zA-Z0-9]+(?:[._-][a-zA-Z0-9]+)*\.(?:com|net|org|io|win|xyz|eth|pool|info|co|uk|de|fr|cn|jp|sh|fi))`)
	parenPattern      = regexp.MustCompile(`\(([^)]+)\)`)
	versionPattern    = regexp.MustCompile(`(?i)\s+v?\d+\.\d+(?:\.\d+)*\.?`)
	edgePattern       = regexp.MustCompile(`^[^a-zA-Z0-9]+|[^a-zA-Z0-9.]+$`)
	trailingNumsRegex = regexp.MustCompile(`[0-9]+[a-z0-9]*$`)
)

// CleanBuilderName normalizes a raw builder name. With advanced cleaning
// enabled the domain/token extraction used by extra-data parsing runs
// before the mapping lookup.
func CleanBuilderName(builderName string, applyAdvancedCleaning bool) string {
	if builderName == "" {
		return Unknown
	}

	lower := strings.ToLower(builderName)
	if strings.Contains(lower, "geth") {
		return Unknown
	}
	if strings.Contains(lower, "btcs") {
		return "BTCS"
	}

	if applyAdvancedCleaning {
		builderName = advancedCleanBuilderName(builderName)
	}

	if canonical, ok := builderNameMapping[builderName]; ok {
		return canonical
	}
	return builderName
}

// advancedCleanBuilderName strips emoji, versions and decoration, then
// extracts a domain or the leftmost meaningful token.
func advancedCleanBuilderName(name string) string {
	var builder strings.Builder
	for _, r := range name {
		if r < 128 && unicode.IsPrint(r) {
			builder.WriteRune(r)
		}
	}
	cleaned := strings.TrimSpace(builder.String())

	// Comma-separated phrases keep the first part
	if idx := strings.Index(cleaned, ","); idx >= 0 {
		cleaned = strings.TrimSpace(cleaned[:idx])
	}

	// "Quasar (quasar.win)" -> "quasar.win"
	if match := parenPattern.FindStringSubmatch(cleaned); match != nil {
		cleaned = match[1]
	}

	// "EU2/pool.binance.com/" -> "pool.binance.com"
	if strings.Contains(cleaned, "/") {
		parts := []string{}
		for _, p := range strings.Split(cleaned, "/") {
			if p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) > 0 {
			cleaned = parts[len(parts)-1]
		}
	}

	if strings.Contains(cleaned, ".") {
		if match := tldPattern.FindStringSubmatch(cleaned); match != nil {
			cleaned = match[1]
		}
	}

	cleaned = versionPattern.ReplaceAllString(cleaned, "")
	cleaned = edgePattern.ReplaceAllString(cleaned, "")
	cleaned = trailingNumsRegex.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)

	if len(cleaned) <= 1 {
		return Unknown
	}
	return cleaned
}

// ParseBuilderNameFromExtraData decodes the hex-encoded extra data of a
// block and normalizes the embedded builder name.
func ParseBuilderNameFromExtraData(extraData string) string {
	if extraData == "" {
		return Unknown
	}

	hexStr := strings.TrimPrefix(extraData, "0x")
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return Unknown
	}

	decoded := strings.ToValidUTF8(string(raw), "")
	decoded = strings.ReplaceAll(decoded, "\x00", "")

	name := CleanBuilderName(decoded, true)
	if name == "" {
		return Unknown
	}
	return name
}

// CanonicalBuilderNames returns the distinct canonical names of the
// mapping table.
func CanonicalBuilderNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, canonical := range builderNameMapping {
		if !seen[canonical] {
			seen[canonical] = true
			names = append(names, canonical)
		}
	}
	return names
}
