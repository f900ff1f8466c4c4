package model

import "fmt"

// Currency is the single currency handled by the service.  All amounts are
// denominated in Egyptian pounds and stored as integer piastres.
const Currency = "EGP"

// Money is a monetary amount in piastres (1/100 EGP).  Amounts persisted to
// the database are never negative; negative values appear only as signed
// deltas during price computations (see SwapDelta).  Using an integer type
// keeps arithmetic exact; floating point is never used for money.
type Money int64

// FromPounds builds a Money value from whole pounds.  Convenient for
// catalogue prices which are defined in whole pounds.
func FromPounds(pounds int64) Money { return Money(pounds * 100) }

// Add returns m + o.
func (m Money) Add(o Money) Money { return m + o }

// Sub returns the signed difference m - o.  The result may be negative.
func (m Money) Sub(o Money) Money { return m - o }

// Neg returns -m.
func (m Money) Neg() Money { return -m }

// Abs returns the absolute value of m.
func (m Money) Abs() Money {
	if m < 0 {
		return -m
	}
	return m
}

// IsPositive reports whether m is strictly greater than zero.  Ledger
// primitives require positive amounts.
func (m Money) IsPositive() bool { return m > 0 }

// Piastres returns the raw minor-unit value for persistence.
func (m Money) Piastres() int64 { return int64(m) }

// String renders the amount with the currency tag, e.g. "EGP 500.00".
// Negative amounts render with a leading minus: "EGP -12.50".
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s %s%d.%02d", Currency, sign, v/100, v%100)
}
