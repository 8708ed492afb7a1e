package audit_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/ajazfarhad/wipeproof/audit"
)

func chainFromLines(lines []string) *audit.Chain {
	c := audit.NewChain(audit.WithClock(fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))))
	c.Append(audit.KindStart, audit.Fields{"target": "t"})
	for _, l := range lines {
		c.Append(audit.KindProgress, audit.Fields{"line": l})
	}
	c.Append(audit.KindEnd, audit.Fields{"success": true})
	return c
}

// Property: recomputing from genesis reproduces every recorded hash.
func TestChainRecomputationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("recompute reproduces recorded hashes", prop.ForAll(
		func(lines []string) bool {
			c := chainFromLines(lines)
			entries := c.Entries()
			hashes, err := audit.Recompute(c.Genesis(), entries)
			if err != nil {
				return false
			}
			for i := range entries {
				if hashes[i] != entries[i].Hash {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AnyString()),
	))

	properties.TestingRun(t)
}

// Property: changing one entry changes its hash and every later hash.
func TestChainTamperSensitivityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("mutation propagates to the tail", prop.ForAll(
		func(lines []string, pick int, suffix string) bool {
			c := chainFromLines(lines)
			entries := c.Entries()

			// Only progress entries carry a line; index 1..len(lines).
			k := 1 + pick%len(lines)
			mutated := c.Entries()
			mutated[k].Fields["line"] = mutated[k].Fields["line"].(string) + "x" + suffix

			hashes, err := audit.Recompute(c.Genesis(), mutated)
			if err != nil {
				return false
			}
			for i := range entries {
				changed := hashes[i] != entries[i].Hash
				if i < k && changed {
					return false
				}
				if i >= k && !changed {
					return false
				}
			}
			return audit.VerifyEntries(c.Genesis(), mutated) != nil
		},
		gen.SliceOfN(5, gen.AlphaString()).SuchThat(func(v []string) bool { return len(v) > 0 }),
		gen.IntRange(0, 1000),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
