// Package tons converts between nanotons and human readable TON amounts.
package tons

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	decimals   = 9
	nanoPerTON = 1_000_000_000
)

var printer = message.NewPrinter(language.English)

var ErrInvalidAmount = errors.New("invalid TON amount")

// Parse converts an amount in TONs such as "1.5" into nanotons.
func Parse(s string) (uint64, error) {
	x, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q", s)
	}
	if x.IsNegative() {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q is negative", s)
	}
	nano := x.Shift(decimals)
	if !nano.Equal(nano.Truncate(0)) {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q has more than %d decimals", s, decimals)
	}
	if nano.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q is too large", s)
	}
	return uint64(nano.IntPart()), nil
}

// String formats nanotons as TONs with grouped thousands and without trailing zeros, "1,234.5" for example.
func String(nano uint64) string {
	s := printer.Sprintf("%d", nano/nanoPerTON)
	frac := nano % nanoPerTON
	if frac == 0 {
		return s
	}
	return s + "." + strings.TrimRight(fmt.Sprintf("%0*d", decimals, frac), "0")
}
