package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CashPlaces is the precision of all cash amounts held by the ledger.
const CashPlaces = 2

// ParseAmount parses a decimal cash amount and rejects values with more
// than two decimal places.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	if !d.Equal(d.Round(CashPlaces)) {
		return decimal.Zero, fmt.Errorf("monetary values must have at most 2 decimal places")
	}
	return d, nil
}

// Notional returns quantity × price rounded to the cent.
func Notional(quantity int64, price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(quantity)).Round(CashPlaces)
}

// ReservationFor returns the cash a buy intention must earmark: the
// notional at price plus the buffer fraction, rounded up to the cent so
// the reservation never falls short of the computed value.
func ReservationFor(quantity int64, price, buffer decimal.Decimal) decimal.Decimal {
	gross := price.Mul(decimal.NewFromInt(quantity)).Mul(decimal.NewFromInt(1).Add(buffer))
	return gross.RoundCeil(CashPlaces)
}

// FormatAmount renders a cash amount with two decimal places.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(CashPlaces)
}
