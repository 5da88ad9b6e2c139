package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CartGormRepository struct {
	db *gorm.DB
}

// DI
func NewCartGormRepository(db *gorm.DB) *CartGormRepository {
	return &CartGormRepository{db: db}
}

func ownerScope(owner model.CartOwner) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		if owner.IsGuest() {
			return tx.Where("session_id = ?", owner.SessionID)
		}
		return tx.Where("user_id = ?", owner.UserID)
	}
}

func preloadCart(tx *gorm.DB) *gorm.DB {
	return tx.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id asc") }).
		Preload("Coupons", func(db *gorm.DB) *gorm.DB { return db.Order("id asc") })
}

// 持ち主のカートを明細・クーポンごと取得
func (r *CartGormRepository) FindByOwner(ctx context.Context, owner model.CartOwner) (model.Cart, error) {
	var cart model.Cart

	err := r.db.WithContext(ctx).
		Scopes(ownerScope(owner), preloadCart).
		First(&cart).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Cart{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Cart{}, err
	}
	return cart, nil
}

// カートを取得し、無ければ作成（同時作成は一意制約で1つにまとまる）
func (r *CartGormRepository) GetOrCreateByOwner(ctx context.Context, owner model.CartOwner) (model.Cart, error) {
	cart, err := r.FindByOwner(ctx, owner)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return model.Cart{}, err
	}

	// 無ければ作る
	newCart := model.NewCart(owner)
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Omit(clause.Associations).
		Create(&newCart).Error; err != nil {
		return model.Cart{}, err
	}

	return r.FindByOwner(ctx, owner)
}

// 注文確定時に使う。ロックはトランザクション終了まで持つ。
func (r *CartGormRepository) FindByIDForUpdate(ctx context.Context, cartID int64) (model.Cart, error) {
	db := r.db.WithContext(ctx)
	if err := lockCart(db, cartID); err != nil {
		return model.Cart{}, err
	}

	var cart model.Cart
	err := db.Scopes(preloadCart).
		Where("id = ?", cartID).
		First(&cart).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Cart{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Cart{}, err
	}
	return cart, nil
}

// 明細・クーポン・集計をまるごと置き換える（後勝ち）
func (r *CartGormRepository) Save(ctx context.Context, cart *model.Cart) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockCart(tx, cart.ID); err != nil {
			return err
		}

		if err := tx.Where("cart_id = ?", cart.ID).Delete(&model.CartItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("cart_id = ?", cart.ID).Delete(&model.CartCoupon{}).Error; err != nil {
			return err
		}

		//既存の明細はIDを維持して作り直す
		for i := range cart.Items {
			cart.Items[i].CartID = cart.ID
			if err := tx.Omit(clause.Associations).Create(&cart.Items[i]).Error; err != nil {
				return err
			}
		}
		for i := range cart.Coupons {
			cart.Coupons[i].CartID = cart.ID
			cart.Coupons[i].Code = strings.ToUpper(cart.Coupons[i].Code)
			if err := tx.Create(&cart.Coupons[i]).Error; err != nil {
				return err
			}
		}

		return updateTotals(tx, cart.ID, *cart)
	})
}

// 明細・クーポンを削除し集計を0にする
func (r *CartGormRepository) Clear(ctx context.Context, cartID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockCart(tx, cartID); err != nil {
			return err
		}

		//cart_itemsを全削除
		if err := tx.Where("cart_id = ?", cartID).Delete(&model.CartItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("cart_id = ?", cartID).Delete(&model.CartCoupon{}).Error; err != nil {
			return err
		}

		var empty model.Cart
		empty.Empty()
		return updateTotals(tx, cartID, empty)
	})
}

func lockCart(tx *gorm.DB, cartID int64) error {
	var cart model.Cart
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id = ?", cartID).
		First(&cart).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repo.ErrNotFound
	}
	return err
}

func updateTotals(tx *gorm.DB, cartID int64, cart model.Cart) error {
	res := tx.Model(&model.Cart{}).
		Where("id = ?", cartID).
		Updates(map[string]interface{}{
			"subtotal":       cart.Totals.Subtotal,
			"discount_total": cart.Totals.DiscountTotal,
			"tax_total":      cart.Totals.TaxTotal,
			"shipping_total": cart.Totals.ShippingTotal,
			"grand_total":    cart.Totals.GrandTotal,
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

type CouponGormRepository struct {
	db *gorm.DB
}

func NewCouponGormRepository(db *gorm.DB) *CouponGormRepository {
	return &CouponGormRepository{db: db}
}

func (r *CouponGormRepository) FindByCode(ctx context.Context, code string) (model.Coupon, error) {
	var c model.Coupon
	err := r.db.WithContext(ctx).
		Where("code = ?", strings.ToUpper(strings.TrimSpace(code))).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Coupon{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Coupon{}, err
	}
	return c, nil
}

func (r *CouponGormRepository) FindByCodes(ctx context.Context, codes []string) ([]model.Coupon, error) {
	if len(codes) == 0 {
		return []model.Coupon{}, nil
	}
	upper := make([]string, 0, len(codes))
	for _, c := range codes {
		upper = append(upper, strings.ToUpper(strings.TrimSpace(c)))
	}

	var out []model.Coupon
	if err := r.db.WithContext(ctx).
		Where("code IN ?", upper).
		Order("id asc").
		Find(&out).Error; err != nil {
		return []model.Coupon{}, err
	}
	return out, nil
}
