package pricing

// 金額はすべて最小単位（円・セント）の int64 で扱う。

// 集計対象の明細
type Line struct {
	UnitPrice     int64
	Quantity      int64
	SavedForLater bool
}

// カートの集計結果。
// Cart / Order にそのまま embedded で保存する。
type Totals struct {
	Subtotal      int64 `gorm:"not null;default:0" json:"subtotal"`
	DiscountTotal int64 `gorm:"not null;default:0" json:"discount_total"`
	TaxTotal      int64 `gorm:"not null;default:0" json:"tax_total"`
	ShippingTotal int64 `gorm:"not null;default:0" json:"shipping_total"`
	GrandTotal    int64 `gorm:"not null;default:0" json:"grand_total"`
}

// 割引1件分の計算。値の合計だけをここで行う。
type Discount interface {
	Amount(subtotal int64, lines []Line) int64
}

type TaxPolicy interface {
	Tax(taxable int64) int64
}

type ShippingPolicy interface {
	Shipping(lines []Line, subtotal int64) int64
}

// Compute はカートの明細と適用中の割引から集計を出す。
// 「あとで買う」の明細はすべての合計から除外する。
// 同じ入力なら必ず同じ結果になる（副作用なし）。
func Compute(lines []Line, discounts []Discount, tax TaxPolicy, shipping ShippingPolicy) Totals {
	included := Included(lines)

	var subtotal int64
	for _, l := range included {
		subtotal += l.UnitPrice * l.Quantity
	}

	var discount int64
	for _, d := range discounts {
		if d == nil {
			continue
		}
		if v := d.Amount(subtotal, included); v > 0 {
			discount += v
		}
	}

	taxable := subtotal - discount
	if taxable < 0 {
		taxable = 0
	}

	var taxTotal int64
	if tax != nil {
		taxTotal = tax.Tax(taxable)
	}

	var shippingTotal int64
	if shipping != nil {
		shippingTotal = shipping.Shipping(included, subtotal)
	}

	grand := subtotal - discount + taxTotal + shippingTotal
	if grand < 0 {
		grand = 0
	}

	return Totals{
		Subtotal:      subtotal,
		DiscountTotal: discount,
		TaxTotal:      taxTotal,
		ShippingTotal: shippingTotal,
		GrandTotal:    grand,
	}
}

// Included は集計対象（あとで買うを除く・数量1以上）の明細だけを返す。
func Included(lines []Line) []Line {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.SavedForLater || l.Quantity <= 0 {
			continue
		}
		out = append(out, l)
	}
	return out
}
