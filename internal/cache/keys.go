package cache

import "strconv"

const (
	keyProductsAll     = "products:all"
	keyProductPrefix   = "products:"
	keyCurrencyRates   = "currency:rates"
	keyCurrencySymbols = "currency:symbols"
)

// ProductsAll is the key of the full product listing
func ProductsAll() string { return keyProductsAll }

// Product is the key of a single product
func Product(id uint64) string {
	return keyProductPrefix + strconv.FormatUint(id, 10)
}

// ProductsPattern matches every product key, the listing included
func ProductsPattern() string { return keyProductPrefix + "*" }

func CurrencyRates() string { return keyCurrencyRates }

func CurrencySymbols() string { return keyCurrencySymbols }
