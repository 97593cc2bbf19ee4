package pricing

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/events"
	"github.com/shopspring/decimal"
)

var ErrUnknownCurrencyPair = errors.New("unknown_currency_pair")

// zeroDecimalCurrencies have no minor unit; callers format them without
// cents. The converter still rounds base-currency amounts to 2 decimals.
var zeroDecimalCurrencies = map[string]bool{
	"JPY": true,
	"KRW": true,
	"VND": true,
}

// IsZeroDecimal reports whether a currency has no minor unit.
func IsZeroDecimal(code string) bool {
	return zeroDecimalCurrencies[strings.ToUpper(strings.TrimSpace(code))]
}

type currencyPair struct {
	From string
	To   string
}

// ExchangeRates is the runtime-updatable FX table. Rates are replaced whole;
// there is no partial mutation.
type ExchangeRates struct {
	mu    sync.RWMutex
	rates map[currencyPair]decimal.Decimal
	bus   *events.Bus
}

func NewExchangeRates(bus *events.Bus) *ExchangeRates {
	return &ExchangeRates{
		rates: make(map[currencyPair]decimal.Decimal),
		bus:   bus,
	}
}

func normalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Rate returns the exchange rate from one currency to another: 1 for an
// identical pair, the direct rate when registered, otherwise the reciprocal
// of the reverse pair. An unknown pair is a hard error; parity is never
// assumed.
func (e *ExchangeRates) Rate(from, to string) (decimal.Decimal, error) {
	from = normalizeCurrency(from)
	to = normalizeCurrency(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if rate, ok := e.rates[currencyPair{From: from, To: to}]; ok {
		return rate, nil
	}
	if reverse, ok := e.rates[currencyPair{From: to, To: from}]; ok && reverse.IsPositive() {
		return decimal.NewFromInt(1).DivRound(reverse, 10), nil
	}
	return decimal.Zero, ErrUnknownCurrencyPair
}

// Convert converts an amount between currencies, rounding to 2 decimals.
func (e *ExchangeRates) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	rate, err := e.Rate(from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate).Round(2), nil
}

// Update replaces the rate for a pair and emits an exchange-rate event.
func (e *ExchangeRates) Update(from, to string, rate decimal.Decimal) {
	from = normalizeCurrency(from)
	to = normalizeCurrency(to)

	e.mu.Lock()
	old := e.rates[currencyPair{From: from, To: to}]
	e.rates[currencyPair{From: from, To: to}] = rate
	e.mu.Unlock()

	if e.bus != nil {
		oldRate, _ := old.Float64()
		newRate, _ := rate.Float64()
		e.bus.PublishExchangeRateUpdated(events.ExchangeRateUpdated{
			From:    from,
			To:      to,
			OldRate: oldRate,
			NewRate: newRate,
			Updated: time.Now().UTC(),
		})
	}
}

// DefaultExchangeRates seeds the table with USD-based pairs.
func DefaultExchangeRates(bus *events.Bus) *ExchangeRates {
	e := NewExchangeRates(nil)
	seed := map[currencyPair]string{
		{From: "USD", To: "EUR"}: "0.92",
		{From: "USD", To: "GBP"}: "0.79",
		{From: "USD", To: "TRY"}: "32.50",
		{From: "USD", To: "JPY"}: "149.50",
		{From: "USD", To: "AUD"}: "1.52",
		{From: "USD", To: "INR"}: "83.10",
		{From: "USD", To: "NOK"}: "10.60",
	}
	for pair, rate := range seed {
		e.rates[pair] = decimal.RequireFromString(rate)
	}
	e.bus = bus
	return e
}
