package currency

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RateSource yields exchange rates relative to one base currency
type RateSource interface {
	Fetch(ctx context.Context) (*RateTable, error)
}

// RateTable rates quoted as units of each currency per unit of Base
type RateTable struct {
	Base      string                     `json:"base"`
	Rates     map[string]decimal.Decimal `json:"rates"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// Rate returns the quote for code
func (t *RateTable) Rate(code string) (decimal.Decimal, bool) {
	r, ok := t.Rates[code]
	return r, ok
}

var staticRates = map[string]string{
	"EUR": "1.0",
	"USD": "1.0870",
	"GBP": "0.8558",
	"JPY": "163.0435",
	"AUD": "1.6522",
	"CAD": "1.4674",
	"CHF": "0.9565",
	"CNY": "7.8261",
	"ARS": "1358.7086",
	"CLP": "1100.0157",
	"COP": "4736.9395",
	"MXN": "22.1275",
	"PEN": "4.1276",
	"UYU": "46.8593",
}

var currencyNames = map[string]string{
	"EUR": "Euro",
	"USD": "US Dollar",
	"GBP": "British Pound",
	"JPY": "Japanese Yen",
	"AUD": "Australian Dollar",
	"CAD": "Canadian Dollar",
	"CHF": "Swiss Franc",
	"CNY": "Chinese Yuan",
	"ARS": "Argentine Peso",
	"CLP": "Chilean Peso",
	"COP": "Colombian Peso",
	"MXN": "Mexican Peso",
	"PEN": "Peruvian Sol",
	"UYU": "Uruguayan Peso",
}

// signs prefix rendered amounts; codes without one use the code itself
var signs = map[string]string{
	"EUR": "€",
	"USD": "$",
	"GBP": "£",
	"JPY": "¥",
	"AUD": "A$",
	"CAD": "C$",
	"CHF": "CHF ",
	"CNY": "¥",
	"ARS": "$",
	"CLP": "$",
	"COP": "$",
	"MXN": "$",
	"PEN": "S/",
	"UYU": "$U",
}

// StaticSource serves a fixed EUR based table
type StaticSource struct{}

func (StaticSource) Fetch(ctx context.Context) (*RateTable, error) {
	rates := make(map[string]decimal.Decimal, len(staticRates))
	for code, v := range staticRates {
		rates[code] = decimal.RequireFromString(v)
	}
	return &RateTable{Base: "EUR", Rates: rates, UpdatedAt: time.Now().UTC()}, nil
}

// Sign returns the display prefix for code
func Sign(code string) string {
	if s, ok := signs[code]; ok {
		return s
	}
	return code + " "
}
