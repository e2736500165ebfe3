package instrument

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"deriflow/models"
)

// underlyingIndex maps a settlement currency to its stable integer index
// used in record columns. The table is append-only across releases so
// historical data keeps its meaning.
var underlyingIndex = map[string]int{
	"BTC":  0,
	"ETH":  1,
	"SOL":  2,
	"XRP":  3,
	"USDC": 4,
	"USDT": 5,
}

// optionComboCodes are the name segments the exchange uses for option
// combination instruments.
var optionComboCodes = map[string]struct{}{
	"CS":    {},
	"PS":    {},
	"STRG":  {},
	"STRD":  {},
	"CBUT":  {},
	"PBUT":  {},
	"CCAL":  {},
	"PCAL":  {},
	"CDIAG": {},
	"PDIAG": {},
	"RR":    {},
	"IC":    {},
}

// Deribit maturities expire at 08:00 UTC on the named day.
const expiryHourUTC = 8

// CurrencyIndex returns the stable integer index of a settlement currency.
func CurrencyIndex(currency string) (int, bool) {
	idx, ok := underlyingIndex[currency]
	return idx, ok
}

// ParseName derives instrument attributes from an exchange instrument name.
// Supported grammar:
//
//	CCY-PERPETUAL
//	CCY-DDMMMYY                 future
//	CCY-DDMMMYY-STRIKE-C|P      option
//	CCY-FS-...                  future combo
//	CCY-<combo code>-...        option combo
//
// Any name outside the grammar returns a descriptive error so callers can
// tell a malformed name from a resolver fault.
func ParseName(name string) (models.Instrument, error) {
	inst := models.Instrument{
		Name:     name,
		Strike:   -1,
		Maturity: -1,
		Kind:     models.KindUnknown,
	}

	parts := strings.Split(name, "-")
	if len(parts) < 2 {
		return inst, fmt.Errorf("instrument name %q does not match exchange grammar", name)
	}

	idx, ok := underlyingIndex[parts[0]]
	if !ok {
		return inst, fmt.Errorf("instrument name %q has unknown currency %q", name, parts[0])
	}
	inst.UnderlyingIndex = idx

	switch {
	case len(parts) == 2 && parts[1] == "PERPETUAL":
		inst.Kind = models.KindPerpetual
		return inst, nil

	case parts[1] == "FS":
		inst.Kind = models.KindFutureCombo
		return inst, nil

	default:
		if _, combo := optionComboCodes[parts[1]]; combo {
			inst.Kind = models.KindOptionCombo
			return inst, nil
		}
	}

	maturity, err := parseMaturity(parts[1])
	if err != nil {
		return inst, fmt.Errorf("instrument name %q: %w", name, err)
	}
	inst.Maturity = maturity

	if len(parts) == 2 {
		inst.Kind = models.KindFuture
		return inst, nil
	}

	if len(parts) != 4 {
		return inst, fmt.Errorf("instrument name %q does not match exchange grammar", name)
	}

	strike, err := parseStrike(parts[2])
	if err != nil {
		return inst, fmt.Errorf("instrument name %q: %w", name, err)
	}
	inst.Strike = strike

	switch parts[3] {
	case "C":
		inst.Kind = models.KindCallOption
	case "P":
		inst.Kind = models.KindPutOption
	default:
		return inst, fmt.Errorf("instrument name %q has unknown option side %q", name, parts[3])
	}
	return inst, nil
}

// parseMaturity converts a DDMMMYY segment like 28JUN24 to unix
// milliseconds at the exchange expiry hour.
func parseMaturity(segment string) (int64, error) {
	if len(segment) < 5 {
		return 0, fmt.Errorf("maturity segment %q too short", segment)
	}
	// The name uses an upper-case month; time.Parse expects title case.
	upper := strings.ToUpper(segment)
	day := upper[:len(upper)-5]
	month := upper[len(upper)-5 : len(upper)-2]
	year := upper[len(upper)-2:]
	t, err := time.Parse("2Jan06", day+month[:1]+strings.ToLower(month[1:])+year)
	if err != nil {
		return 0, fmt.Errorf("maturity segment %q does not parse: %w", segment, err)
	}
	t = time.Date(t.Year(), t.Month(), t.Day(), expiryHourUTC, 0, 0, 0, time.UTC)
	return t.UnixMilli(), nil
}

// parseStrike converts a strike segment. Fractional strikes use "d" as the
// decimal separator in exchange naming (e.g. 0d625).
func parseStrike(segment string) (float64, error) {
	s := strings.ReplaceAll(segment, "d", ".")
	strike, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("strike segment %q does not parse: %w", segment, err)
	}
	return strike, nil
}
