package model

import "strings"

// 配送先・請求先住所。注文にそのままコピーして保存する。
type Address struct {
	//宛名
	Name string `gorm:"type:varchar(255)" json:"name"`

	//郵便番号
	PostalCode string `gorm:"type:varchar(20)" json:"postal_code"`

	//都道府県
	Prefecture string `gorm:"type:varchar(100)" json:"prefecture"`

	//市区町村
	City string `gorm:"type:varchar(255)" json:"city"`

	//番地など
	Line1 string `gorm:"type:varchar(255)" json:"line1"`

	//建物名など
	Line2 string `gorm:"type:varchar(255)" json:"line2"`

	//電話番号
	Phone string `gorm:"type:varchar(30)" json:"phone"`
}

// 必須項目のうち最初に空だったものの名前を返す
func (a Address) MissingField() (string, bool) {
	required := []struct {
		name  string
		value string
	}{
		{"name", a.Name},
		{"postal_code", a.PostalCode},
		{"prefecture", a.Prefecture},
		{"city", a.City},
		{"line1", a.Line1},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return f.name, true
		}
	}
	return "", false
}
