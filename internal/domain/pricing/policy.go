package pricing

// 税率をベーシスポイント（1% = 100）で持つ税計算。端数は切り捨て。
type BasisPointTax struct {
	Bps int64
}

func (t BasisPointTax) Tax(taxable int64) int64 {
	if t.Bps <= 0 || taxable <= 0 {
		return 0
	}
	return taxable * t.Bps / 10000
}

// 一律送料。FreeOver 以上の小計なら無料（0なら無効）。
// 対象明細が無いときは送料なし。
type FlatShipping struct {
	Fee      int64
	FreeOver int64
}

func (s FlatShipping) Shipping(lines []Line, subtotal int64) int64 {
	if len(lines) == 0 || s.Fee <= 0 {
		return 0
	}
	if s.FreeOver > 0 && subtotal >= s.FreeOver {
		return 0
	}
	return s.Fee
}

// テストや固定値用
type TaxFunc func(taxable int64) int64

func (f TaxFunc) Tax(taxable int64) int64 { return f(taxable) }

type ShippingFunc func(lines []Line, subtotal int64) int64

func (f ShippingFunc) Shipping(lines []Line, subtotal int64) int64 { return f(lines, subtotal) }

type DiscountFunc func(subtotal int64, lines []Line) int64

func (f DiscountFunc) Amount(subtotal int64, lines []Line) int64 { return f(subtotal, lines) }
