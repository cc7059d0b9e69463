package crypto

import (
	"crypto/ed25519"
	"fmt"
	"strings"
)

// wordlist has exactly 256 entries, so one word encodes one seed byte.
var wordlist = []string{
	// 0-23
	"shadow", "cipher", "vault", "ember", "frost", "onyx",
	"pulse", "storm", "nexus", "drift", "blade", "forge",
	"echo", "raven", "orbit", "crest", "shard", "flare",
	"glyph", "thorn", "viper", "delta", "wraith", "nova",
	// 24-47
	"prism", "surge", "helix", "blaze", "talon", "aegis",
	"flux", "abyss", "zenith", "cobalt", "phantom", "dusk",
	"iron", "spark", "tide", "apex", "rune", "obsidian",
	"lunar", "bolt", "veil", "arc", "pyre", "mirage",
	// 48-71
	"sigil", "aurora", "tempest", "crimson", "void", "oracle",
	"basalt", "spectre", "titan", "nether", "axion", "quartz",
	"raptor", "fathom", "vector", "mantis", "pyrite", "scarab",
	"vertex", "warden", "nebula", "carbon", "dynamo", "ether",
	// 72-95
	"granite", "hydra", "ivory", "jackal", "krypton", "lancer",
	"magnet", "nitro", "omega", "paladin", "quasar", "reflex",
	"silicon", "turret", "umbra", "vulcan", "xenon", "yarrow",
	"zephyr", "amber", "bronze", "chrome", "device", "enigma",
	// 96-119
	"falcon", "garnet", "harbor", "indigo", "jasper", "karma",
	"lithium", "matrix", "neptune", "optic", "plasma", "quantum",
	"reactor", "stealth", "thorium", "ultra", "valiant", "wolfram",
	"anchor", "beacon", "cascade", "daemon", "eclipse", "furnace",
	// 120-143
	"glacier", "horizon", "impulse", "javelin", "keystone", "lattice",
	"mithril", "nucleus", "oxide", "phoenix", "radiant", "sentinel",
	"trident", "uranium", "venture", "wyvern", "alloy", "binary",
	"conduit", "dagger", "element", "fractal", "gallium", "helios",
	// 144-167
	"inferno", "junction", "kinetic", "legacy", "monolith", "neutron",
	"obelisk", "pinnacle", "quiver", "ripple", "solar", "tungsten",
	"unison", "voltage", "whisper", "argon", "bastion", "catalyst",
	"diode", "entropy", "fulcrum", "gamma", "harpoon", "iridium",
	// 168-191
	"jolt", "kestrel", "lumen", "meridian", "noctis", "osmium",
	"paradox", "resonance", "stratum", "tundra", "utopia", "vortex",
	"atlas", "borealis", "cortex", "draco", "epoch", "fiber",
	"golem", "haven", "icon", "klaxon", "lever", "morph",
	// 192-215
	"nadir", "piston", "quarry", "ridge", "strix", "torque",
	"anvil", "breach", "comet", "equinox", "flint", "grail",
	"iris", "jester", "kraken", "lynx", "mantle", "nomad",
	"outpost", "prowl", "quest", "radon", "slate", "trace",
	// 216-239
	"usher", "valve", "wrench", "arrow", "crow", "dune",
	"smelt", "grim", "haze", "ink", "jet", "knot",
	"loom", "mist", "null", "oath", "peak", "quell",
	"rust", "silk", "tusk", "urn", "wane", "yoke",
	// 240-255
	"zinc", "bane", "clad", "dirk", "fang", "glint",
	"helm", "jade", "kite", "latch", "mace", "nook",
	"orb", "plume", "raze", "scythe",
}

var wordIndex = func() map[string]byte {
	m := make(map[string]byte, len(wordlist))
	for i, w := range wordlist {
		m[w] = byte(i)
	}
	return m
}()

// SeedMnemonic encodes an Ed25519 seed as one word per byte so it can be
// written down and later restored with SeedFromMnemonic.
func SeedMnemonic(seed []byte) string {
	words := make([]string, len(seed))
	for i, b := range seed {
		words[i] = wordlist[b]
	}
	return strings.Join(words, " ")
}

// SeedFromMnemonic decodes a mnemonic produced by SeedMnemonic.
func SeedFromMnemonic(mnemonic string) ([]byte, error) {
	words := strings.Fields(strings.ToLower(mnemonic))
	if len(words) != ed25519.SeedSize {
		return nil, fmt.Errorf("mnemonic has %d words, want %d", len(words), ed25519.SeedSize)
	}
	seed := make([]byte, len(words))
	for i, w := range words {
		b, ok := wordIndex[w]
		if !ok {
			return nil, fmt.Errorf("unknown word %q at position %d", w, i+1)
		}
		seed[i] = b
	}
	return seed, nil
}
