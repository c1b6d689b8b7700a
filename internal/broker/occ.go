package broker

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/runnelsdev/copybridge/internal/core"
)

// occSymbolLength is the fixed width of an OCC option symbol:
// 6 underlying + 6 date + 1 right + 8 strike.
const occSymbolLength = 21

// expirationLayouts lists accepted expiration date formats. MM/DD assumes the
// current year.
var expirationLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"01/02/06",
	"060102",
}

// ParseExpiration parses an expiration date in any of the accepted formats.
func ParseExpiration(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty expiration date")
	}

	for _, layout := range expirationLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}

	// MM/DD with the year implied.
	if parts := strings.Split(raw, "/"); len(parts) == 2 {
		month, errM := strconv.Atoi(parts[0])
		day, errD := strconv.Atoi(parts[1])
		if errM == nil && errD == nil && month >= 1 && month <= 12 && day >= 1 && day <= 31 {
			return time.Date(time.Now().Year(), time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognised expiration date: %q", raw)
}

// RenderOCC renders the 21-character OCC option symbol, bit-exact:
// underlying space-padded to 6, YYMMDD, C or P, strike in mills zero-padded
// to 8. Example: "SPY   251128P00664000".
func RenderOCC(underlying string, expiration string, optionType core.OptionType, strike decimal.Decimal) (string, error) {
	underlying = strings.ToUpper(strings.TrimSpace(underlying))
	if underlying == "" || len(underlying) > 6 {
		return "", fmt.Errorf("invalid underlying: %q", underlying)
	}

	exp, err := ParseExpiration(expiration)
	if err != nil {
		return "", err
	}

	var right byte
	switch optionType {
	case core.Call:
		right = 'C'
	case core.Put:
		right = 'P'
	default:
		return "", fmt.Errorf("invalid option type: %q", optionType)
	}

	strikeMills := strike.Mul(decimal.NewFromInt(1000)).Round(0).IntPart()
	if strikeMills < 0 || strikeMills > 99999999 {
		return "", fmt.Errorf("strike out of range: %s", strike)
	}

	return fmt.Sprintf("%-6s%s%c%08d", underlying, exp.Format("060102"), right, strikeMills), nil
}

// OCCFields are the components recovered from a rendered OCC symbol.
type OCCFields struct {
	Underlying string
	Expiration time.Time
	OptionType core.OptionType
	Strike     decimal.Decimal
}

// ParseOCC decomposes a 21-character OCC symbol back into its fields.
func ParseOCC(symbol string) (*OCCFields, error) {
	if len(symbol) != occSymbolLength {
		return nil, fmt.Errorf("OCC symbol must be %d characters, got %d", occSymbolLength, len(symbol))
	}

	underlying := strings.TrimRight(symbol[:6], " ")
	if underlying == "" {
		return nil, fmt.Errorf("OCC symbol has empty underlying")
	}

	exp, err := time.Parse("060102", symbol[6:12])
	if err != nil {
		return nil, fmt.Errorf("invalid OCC expiration: %w", err)
	}

	var optType core.OptionType
	switch symbol[12] {
	case 'C':
		optType = core.Call
	case 'P':
		optType = core.Put
	default:
		return nil, fmt.Errorf("invalid OCC right: %c", symbol[12])
	}

	mills, err := strconv.ParseInt(symbol[13:], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid OCC strike: %w", err)
	}

	return &OCCFields{
		Underlying: underlying,
		Expiration: exp,
		OptionType: optType,
		Strike:     decimal.NewFromInt(mills).Div(decimal.NewFromInt(1000)),
	}, nil
}
