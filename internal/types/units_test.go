package types

import (
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestUnitConversionRoundTrips(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// Property: satoshi -> BTC string -> satoshi is the identity
	properties.Property("satoshi round-trips through BTC", prop.ForAll(
		func(sats uint64) bool {
			back, err := BTCToSatoshi(SatoshiToBTC(sats))
			return err == nil && back == sats
		},
		gen.UInt64(),
	))

	// Property: wei -> ether string -> wei is the identity
	properties.Property("wei round-trips through ether", prop.ForAll(
		func(wei uint64) bool {
			raw := new(big.Int).SetUint64(wei)
			back, err := EtherToWei(WeiToEther(raw))
			return err == nil && back.Cmp(raw) == 0
		},
		gen.UInt64(),
	))

	// Property: lamports -> SOL string -> lamports is the identity
	properties.Property("lamports round-trip through SOL", prop.ForAll(
		func(lamports uint64) bool {
			back, err := SOLToLamports(LamportsToSOL(lamports))
			return err == nil && back == lamports
		},
		gen.UInt64(),
	))

	// Property: formatting never uses floats, so doubling base units
	// exactly doubles the parsed result
	properties.Property("formatting is exact under addition", prop.ForAll(
		func(wei uint64) bool {
			a := new(big.Int).SetUint64(wei)
			doubled := new(big.Int).Add(a, a)
			back, err := EtherToWei(WeiToEther(doubled))
			return err == nil && back.Cmp(doubled) == 0
		},
		gen.UInt64(),
	))

	properties.TestingRun(t)
}

func TestFormatUnits(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		decimals int
		want     string
	}{
		{"one and a half BTC", "150000000", 8, "1.5"},
		{"two ether", "2000000000000000000", 18, "2"},
		{"five SPL units at six decimals", "5000000", 6, "5"},
		{"single wei", "1", 18, "0.000000000000000001"},
		{"zero", "0", 8, "0"},
		{"trailing zeros trimmed", "1230000000", 8, "12.3"},
		{"negative centavos", "-1050", 2, "-10.5"},
		{"zero decimals passes through", "42", 0, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, ok := new(big.Int).SetString(tt.raw, 10)
			if !ok {
				t.Fatalf("bad test input %q", tt.raw)
			}
			if got := FormatUnits(raw, tt.decimals); got != tt.want {
				t.Errorf("FormatUnits(%s, %d) = %q, want %q", tt.raw, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestParseUnits(t *testing.T) {
	t.Run("rejects excess precision", func(t *testing.T) {
		if _, err := ParseUnits("0.123", 2); err == nil {
			t.Error("ParseUnits should reject more fractional digits than the asset has")
		}
	})

	t.Run("accepts bare fraction", func(t *testing.T) {
		raw, err := ParseUnits(".5", 8)
		if err != nil {
			t.Fatalf("ParseUnits(.5) error = %v", err)
		}
		if raw.String() != "50000000" {
			t.Errorf("ParseUnits(.5, 8) = %s, want 50000000", raw.String())
		}
	})

	t.Run("rejects garbage", func(t *testing.T) {
		if _, err := ParseUnits("1.2.3", 8); err == nil {
			t.Error("ParseUnits should reject malformed input")
		}
		if _, err := ParseUnits("", 8); err == nil {
			t.Error("ParseUnits should reject empty input")
		}
	})

	t.Run("rejects digitless input", func(t *testing.T) {
		for _, s := range []string{"-", "+", ".", "-.", "+."} {
			if _, err := ParseUnits(s, 8); err == nil {
				t.Errorf("ParseUnits(%q) should reject an amount with no digits", s)
			}
		}
	})
}
