package coinledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Asset identifies a traded asset or fiat currency.
type Asset string

// Recognized assets. The engine refuses any code outside this set.
const (
	BTC  Asset = "BTC"
	ETH  Asset = "ETH"
	ETHW Asset = "ETHW"
	USDC Asset = "USDC"
	USDT Asset = "USDT"
	USD  Asset = "USD"
	EUR  Asset = "EUR"
	CHF  Asset = "CHF"
	JPY  Asset = "JPY"
)

// krakenAliases maps exchange asset codes to canonical asset names.
var krakenAliases = map[string]Asset{
	"BTC": BTC, "XXBT": BTC, "XBT": BTC,
	"ETH": ETH, "XETH": ETH,
	"ETHW": ETHW,
	"USDC": USDC,
	"USDT": USDT,
	"USD": USD, "ZUSD": USD,
	"EUR": EUR, "ZEUR": EUR,
	"CHF": CHF,
	"JPY": JPY, "ZJPY": JPY,
}

// ParseAsset resolves an asset code, accepting Kraken's legacy aliases.
func ParseAsset(code string) (Asset, error) {
	if a, ok := krakenAliases[code]; ok {
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAsset, code)
}

// IsFiat reports whether the asset is a fiat currency.
func (a Asset) IsFiat() bool {
	switch a {
	case USD, EUR, CHF, JPY:
		return true
	}
	return false
}

// newDecimal is a convenient factory for decimal.Decimal.
func newDecimal[T float32 | float64 | int | int32 | int64 | uint | uint32 | uint64 | decimal.Decimal](value T) decimal.Decimal {
	switch v := any(value).(type) {
	case decimal.Decimal:
		return v
	case float32:
		return decimal.NewFromFloat32(v)
	case float64:
		return decimal.NewFromFloat(v)
	case int:
		return decimal.NewFromInt(int64(v))
	case int32:
		return decimal.NewFromInt32(v)
	case int64:
		return decimal.NewFromInt(v)
	case uint:
		return decimal.NewFromUint64(uint64(v))
	case uint32:
		return decimal.NewFromUint64(uint64(v))
	case uint64:
		return decimal.NewFromUint64(v)
	default:
		panic("unsupported type")
	}
}

// Amount is an exact decimal quantity tagged with its asset.
// All accounting arithmetic is exact; rounding happens only at report emission.
type Amount struct {
	value decimal.Decimal
	asset Asset
}

func A[T float32 | float64 | int | int32 | int64 | uint | uint32 | uint64 | decimal.Decimal](value T, asset Asset) Amount {
	return Amount{value: newDecimal(value), asset: asset}
}

// ParseAmount parses a decimal string into an Amount of the given asset.
func ParseAmount(s string, asset Asset) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: bad amount %q: %v", ErrParse, s, err)
	}
	return Amount{value: d, asset: asset}, nil
}

func (a Amount) Asset() Asset              { return a.asset }
func (a Amount) Decimal() decimal.Decimal  { return a.value }
func (a Amount) IsZero() bool              { return a.value.IsZero() }
func (a Amount) IsPositive() bool          { return a.value.IsPositive() }
func (a Amount) IsNegative() bool          { return a.value.IsNegative() }
func (a Amount) Equal(b Amount) bool       { return a.value.Equal(b.value) && a.asset == b.asset }
func (a Amount) LessThan(b Amount) bool    { return a.value.LessThan(b.value) }
func (a Amount) GreaterThan(b Amount) bool { return a.value.GreaterThan(b.value) }
func (a Amount) Neg() Amount               { return Amount{value: a.value.Neg(), asset: a.asset} }
func (a Amount) Abs() Amount               { return Amount{value: a.value.Abs(), asset: a.asset} }

func (a Amount) Add(b Amount) Amount { return Amount{value: a.value.Add(b.value), asset: asset(a, b)} }
func (a Amount) Sub(b Amount) Amount { return Amount{value: a.value.Sub(b.value), asset: asset(a, b)} }

// makes the "" asset totally weak.
func asset(a, b Amount) Asset {
	if a.asset == "" {
		return b.asset
	}
	if b.asset == "" {
		return a.asset
	}
	if a.asset != b.asset {
		panic("asset mismatch " + string(a.asset) + "!=" + string(b.asset))
	}
	return a.asset
}

// String renders the amount with its asset code, e.g. "0.5 BTC".
func (a Amount) String() string { return a.value.String() + " " + string(a.asset) }

// Rate is a USD price per unit of some asset.
type Rate struct {
	value decimal.Decimal
}

func R[T float32 | float64 | int | int32 | int64 | uint | uint32 | uint64 | decimal.Decimal](value T) Rate {
	return Rate{value: newDecimal(value)}
}

func (r Rate) Decimal() decimal.Decimal { return r.value }
func (r Rate) IsZero() bool             { return r.value.IsZero() }
func (r Rate) Equal(o Rate) bool        { return r.value.Equal(o.value) }
func (r Rate) String() string           { return r.value.String() }

// Mul values an amount at this rate.
func (r Rate) Mul(a Amount) Dollars { return Dollars{value: r.value.Mul(a.value)} }

// Dollars is an exact US-dollar scalar, kept separate from Amount so that
// basis and proceeds arithmetic cannot silently mix assets.
type Dollars struct {
	value decimal.Decimal
}

func Usd[T float32 | float64 | int | int32 | int64 | uint | uint32 | uint64 | decimal.Decimal](value T) Dollars {
	return Dollars{value: newDecimal(value)}
}

func (u Dollars) Decimal() decimal.Decimal  { return u.value }
func (u Dollars) IsZero() bool              { return u.value.IsZero() }
func (u Dollars) IsNegative() bool          { return u.value.IsNegative() }
func (u Dollars) IsPositive() bool          { return u.value.IsPositive() }
func (u Dollars) Equal(v Dollars) bool      { return u.value.Equal(v.value) }
func (u Dollars) Add(v Dollars) Dollars     { return Dollars{value: u.value.Add(v.value)} }
func (u Dollars) Sub(v Dollars) Dollars     { return Dollars{value: u.value.Sub(v.value)} }
func (u Dollars) Neg() Dollars              { return Dollars{value: u.value.Neg()} }
func (u Dollars) String() string            { return u.value.String() + " USD" }

// PerUnit divides a dollar total by an asset amount, yielding a unit rate.
func (u Dollars) PerUnit(a Amount) Rate { return Rate{value: u.value.Div(a.value)} }

// AsAmount converts the scalar into a tagged USD Amount.
func (u Dollars) AsAmount() Amount { return Amount{value: u.value, asset: USD} }
