// Package currency serves exchange rates for display and conversion.
package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/shopspring/decimal"

	"fulfillment/internal/cache"
	"fulfillment/internal/config"
	"fulfillment/internal/mailer"
	"fulfillment/pkg/log"
)

var (
	// ErrUnsupportedCurrency the code is not in the rate table
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	// ErrInvalidAmount conversion amounts must not be negative
	ErrInvalidAmount = errors.New("invalid amount")
)

// Conversion is the result of converting an amount between two currencies
type Conversion struct {
	Amount    decimal.Decimal `json:"amount"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Result    decimal.Decimal `json:"result"`
	Rate      decimal.Decimal `json:"rate"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Service currency service interface
type Service interface {
	Rates(ctx context.Context) (*RateTable, error)
	Symbols(ctx context.Context) (map[string]string, error)
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (*Conversion, error)
	// Display describes how amounts stored in the base currency render in code
	Display(ctx context.Context, code string) (mailer.Display, error)
}

type service struct {
	source RateSource
	cache  *cache.Cache
	local  *bigcache.BigCache
	base   string
	ttl    time.Duration
}

// NewService creates a currency service. Rates are read from the local cache
// when enabled, then Redis, then source.
func NewService(source RateSource, c *cache.Cache, cfg *config.Config) (Service, error) {
	s := &service{
		source: source,
		cache:  c,
		base:   cfg.Currency.Base,
		ttl:    cfg.Cache.CurrencyTTL,
	}

	if cfg.Cache.Local.Enabled {
		bc := bigcache.DefaultConfig(cfg.Cache.Local.LifeWindow)
		bc.HardMaxCacheSize = cfg.Cache.Local.MaxSizeMB
		bc.Verbose = false
		local, err := bigcache.New(context.Background(), bc)
		if err != nil {
			return nil, fmt.Errorf("failed to create local cache: %w", err)
		}
		s.local = local
	}

	return s, nil
}

func (s *service) Rates(ctx context.Context) (*RateTable, error) {
	key := cache.CurrencyRates()

	if s.local != nil {
		if data, err := s.local.Get(key); err == nil {
			var table RateTable
			if err := json.Unmarshal(data, &table); err == nil {
				return &table, nil
			}
		}
	}

	var table RateTable
	if s.cache != nil && s.cache.Get(ctx, key, &table) {
		s.keepLocal(key, &table)
		return &table, nil
	}

	fetched, err := s.source.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch exchange rates: %w", err)
	}
	if s.cache != nil {
		s.cache.Set(ctx, key, fetched, s.ttl)
	}
	s.keepLocal(key, fetched)
	return fetched, nil
}

func (s *service) Symbols(ctx context.Context) (map[string]string, error) {
	key := cache.CurrencySymbols()

	var symbols map[string]string
	if s.cache != nil && s.cache.Get(ctx, key, &symbols) {
		return symbols, nil
	}

	table, err := s.Rates(ctx)
	if err != nil {
		return nil, err
	}
	symbols = make(map[string]string, len(table.Rates))
	for code := range table.Rates {
		if name, ok := currencyNames[code]; ok {
			symbols[code] = name
		} else {
			symbols[code] = code
		}
	}
	if s.cache != nil {
		s.cache.Set(ctx, key, symbols, s.ttl)
	}
	return symbols, nil
}

func (s *service) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (*Conversion, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	table, err := s.Rates(ctx)
	if err != nil {
		return nil, err
	}
	rate, err := crossRate(table, from, to)
	if err != nil {
		return nil, err
	}

	return &Conversion{
		Amount:    amount,
		From:      from,
		To:        to,
		Result:    amount.Mul(rate).Round(2),
		Rate:      rate,
		UpdatedAt: table.UpdatedAt,
	}, nil
}

func (s *service) Display(ctx context.Context, code string) (mailer.Display, error) {
	if code == s.base {
		return mailer.BaseDisplay(code, Sign(code)), nil
	}

	table, err := s.Rates(ctx)
	if err != nil {
		return mailer.Display{}, err
	}
	rate, err := crossRate(table, s.base, code)
	if err != nil {
		return mailer.Display{}, err
	}
	return mailer.Display{Code: code, Symbol: Sign(code), Rate: rate}, nil
}

func (s *service) keepLocal(key string, table *RateTable) {
	if s.local == nil {
		return
	}
	data, err := json.Marshal(table)
	if err != nil {
		return
	}
	if err := s.local.Set(key, data); err != nil {
		log.WithFields(log.Fields{"key": key, "error": err}).Warn("local cache write failed")
	}
}

// crossRate converts through the table base: amount / rates[from] * rates[to]
func crossRate(table *RateTable, from, to string) (decimal.Decimal, error) {
	fromRate, ok := table.Rate(from)
	if !ok || fromRate.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, from)
	}
	toRate, ok := table.Rate(to)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, to)
	}
	return toRate.DivRound(fromRate, 8), nil
}
