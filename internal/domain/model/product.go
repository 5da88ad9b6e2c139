package model

import (
	"time"

	"gorm.io/gorm"
)

type Product struct {
	ID          int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	SKU         string           `gorm:"type:varchar(64);not null;uniqueIndex" json:"sku"`
	Name        string           `gorm:"type:varchar(255);not null" json:"name"`
	Description string           `gorm:"type:text" json:"description"`
	Category    string           `gorm:"type:varchar(100);index" json:"category"`
	Price       int64            `gorm:"not null" json:"price"`
	Stock       int64            `gorm:"not null;check:stock >= 0" json:"stock"`
	IsActive    bool             `gorm:"not null;default:false" json:"is_active"`
	Variants    []ProductVariant `gorm:"foreignKey:ProductID" json:"variants,omitempty"`
	CreatedAt   time.Time        `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt   `gorm:"index" json:"-"`
}

// サイズ・色などのバリエーション。在庫は商品単位で持つ。
type ProductVariant struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID int64     `gorm:"not null;index" json:"product_id"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	SKU       string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"sku"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}
