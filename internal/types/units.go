package types

import (
	"fmt"
	"math/big"
	"strings"
)

// Base-unit decimals for the assets with fixed, well-known precision.
const (
	// SatoshiDecimals is the number of satoshis digits in one BTC
	SatoshiDecimals = 8
	// WeiDecimals is the number of wei digits in one ether
	WeiDecimals = 18
	// LamportDecimals is the number of lamport digits in one SOL
	LamportDecimals = 9
	// CentavoDecimals is the number of centavo digits in one BRL
	CentavoDecimals = 2
)

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// FormatUnits converts a base-unit amount into its display-unit decimal
// string using an integer whole/fractional split. No floating point is
// involved, so repeated conversion never drifts.
func FormatUnits(raw *big.Int, decimals int) string {
	if raw == nil {
		return "0"
	}
	if decimals <= 0 {
		return raw.String()
	}

	abs := new(big.Int).Abs(raw)
	divisor := pow10(decimals)
	whole := new(big.Int)
	frac := new(big.Int)
	whole.QuoRem(abs, divisor, frac)

	sign := ""
	if raw.Sign() < 0 {
		sign = "-"
	}

	if frac.Sign() == 0 {
		return sign + whole.String()
	}

	fracStr := strings.TrimRight(fmt.Sprintf("%0*s", decimals, frac.String()), "0")
	return fmt.Sprintf("%s%s.%s", sign, whole.String(), fracStr)
}

// ParseUnits converts a display-unit decimal string back into base units.
// It fails if the fractional part carries more precision than the asset
// can represent.
func ParseUnits(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}

	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}
	if s == "" || s == "." {
		return nil, fmt.Errorf("amount has no digits")
	}

	wholeStr, fracStr, _ := strings.Cut(s, ".")
	if wholeStr == "" {
		wholeStr = "0"
	}
	fracStr = strings.TrimRight(fracStr, "0")
	if len(fracStr) > decimals {
		return nil, fmt.Errorf("amount %q exceeds %d decimal places", s, decimals)
	}

	whole, ok := new(big.Int).SetString(wholeStr, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}

	result := new(big.Int).Mul(whole, pow10(decimals))
	if fracStr != "" {
		frac, ok := new(big.Int).SetString(fracStr, 10)
		if !ok {
			return nil, fmt.Errorf("invalid amount %q", s)
		}
		frac.Mul(frac, pow10(decimals-len(fracStr)))
		result.Add(result, frac)
	}

	if negative {
		result.Neg(result)
	}
	return result, nil
}

// SatoshiToBTC converts satoshis to a BTC decimal string
func SatoshiToBTC(satoshis uint64) string {
	return FormatUnits(new(big.Int).SetUint64(satoshis), SatoshiDecimals)
}

// BTCToSatoshi converts a BTC decimal string to satoshis
func BTCToSatoshi(btc string) (uint64, error) {
	raw, err := ParseUnits(btc, SatoshiDecimals)
	if err != nil {
		return 0, err
	}
	if raw.Sign() < 0 || !raw.IsUint64() {
		return 0, fmt.Errorf("satoshi amount %q out of range", btc)
	}
	return raw.Uint64(), nil
}

// WeiToEther converts a wei amount to an ether decimal string
func WeiToEther(wei *big.Int) string {
	return FormatUnits(wei, WeiDecimals)
}

// EtherToWei converts an ether decimal string to wei
func EtherToWei(ether string) (*big.Int, error) {
	return ParseUnits(ether, WeiDecimals)
}

// LamportsToSOL converts lamports to a SOL decimal string
func LamportsToSOL(lamports uint64) string {
	return FormatUnits(new(big.Int).SetUint64(lamports), LamportDecimals)
}

// SOLToLamports converts a SOL decimal string to lamports
func SOLToLamports(sol string) (uint64, error) {
	raw, err := ParseUnits(sol, LamportDecimals)
	if err != nil {
		return 0, err
	}
	if raw.Sign() < 0 || !raw.IsUint64() {
		return 0, fmt.Errorf("lamport amount %q out of range", sol)
	}
	return raw.Uint64(), nil
}

// CentavosToBRL converts centavos to a BRL decimal string
func CentavosToBRL(centavos int64) string {
	return FormatUnits(big.NewInt(centavos), CentavoDecimals)
}

// BRLToCentavos converts a BRL decimal string to centavos
func BRLToCentavos(brl string) (int64, error) {
	raw, err := ParseUnits(brl, CentavoDecimals)
	if err != nil {
		return 0, err
	}
	if !raw.IsInt64() {
		return 0, fmt.Errorf("centavo amount %q out of range", brl)
	}
	return raw.Int64(), nil
}
