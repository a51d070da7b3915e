/*
split.go - Cashback share calculation

PURPOSE:
  Pure computation of how a purchase's cashback divides between the client,
  the admin party, and the store. No I/O, no side effects.

ROUNDING POLICY:
  TotalCashback, ClientValue and AdminValue are rounded to the currency's
  minor unit with banker's rounding. StoreValue is NEVER computed from its
  own percentage: it is the remainder after the other two shares, so

      ClientValue + AdminValue + StoreValue == TotalCashback

  holds exactly for every input, with no rounding drift.

EXAMPLE:
  purchase 100.00, cashback 10%, client 50%, admin 10%
  -> total 10.00, client 5.00, admin 1.00, store 4.00

SEE ALSO:
  - register.go: Calls the calculator when a transaction is created
*/
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CalculateSplit divides the cashback of a purchase per the store's
// configuration. The purchase amount must be positive; percentages must be
// in [0, 100] and the client and admin shares may not exceed 100 combined.
func CalculateSplit(purchaseAmount Money, cfg StoreConfig) (Split, error) {
	if !purchaseAmount.IsPositive() {
		return Split{}, fmt.Errorf("purchase amount %s: %w", purchaseAmount, ErrInvalidAmount)
	}
	if err := validatePercentages(cfg); err != nil {
		return Split{}, err
	}

	total := purchaseAmount.Mul(cfg.CashbackPercent.Div(hundred)).RoundMinor()
	client := total.Mul(cfg.ClientPercent.Div(hundred)).RoundMinor()
	admin := total.Mul(cfg.AdminPercent.Div(hundred)).RoundMinor()

	// Remainder, never an independent percentage computation.
	store := total.Sub(client).Sub(admin)

	return Split{
		TotalCashback: total,
		ClientValue:   client,
		AdminValue:    admin,
		StoreValue:    store,
	}, nil
}

func validatePercentages(cfg StoreConfig) error {
	for _, p := range []decimal.Decimal{cfg.CashbackPercent, cfg.ClientPercent, cfg.AdminPercent} {
		if p.IsNegative() || p.GreaterThan(hundred) {
			return fmt.Errorf("percentage %s out of range: %w", p, ErrInvalidPercentage)
		}
	}
	if cfg.ClientPercent.Add(cfg.AdminPercent).GreaterThan(hundred) {
		return fmt.Errorf("client%% + admin%% = %s exceeds 100: %w",
			cfg.ClientPercent.Add(cfg.AdminPercent), ErrInvalidPercentage)
	}
	return nil
}
