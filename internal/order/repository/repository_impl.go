package repository

import (
	"context"
	"errors"
	"time"

	orderdomain "github.com/smallbiznis/payflow/internal/order/domain"
	"github.com/smallbiznis/payflow/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db *gorm.DB
}

func Provide(gdb *gorm.DB) orderdomain.Repository {
	return &repository{db: gdb}
}

func (r *repository) Insert(ctx context.Context, order *orderdomain.Order) (bool, error) {
	err := r.db.WithContext(ctx).Create(order).Error
	if err == nil {
		return true, nil
	}
	if db.IsDuplicateKeyErr(err) {
		return false, nil
	}
	return false, err
}

func (r *repository) GetByOrderNumber(ctx context.Context, orderNumber string) (*orderdomain.Order, error) {
	var order orderdomain.Order
	err := r.db.WithContext(ctx).
		Where("order_number = ?", orderNumber).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) SaveMarker(ctx context.Context, marker *orderdomain.SuccessMarker) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(marker).Error
}

func (r *repository) ListUnreconciledMarkers(ctx context.Context, cutoff time.Time, limit int) ([]orderdomain.SuccessMarker, error) {
	var markers []orderdomain.SuccessMarker
	err := r.db.WithContext(ctx).
		Table("payment_success_markers AS m").
		Select("m.*").
		Joins("LEFT JOIN orders o ON o.order_number = m.order_number").
		Where("o.order_number IS NULL").
		Where("m.success = ?", true).
		Where("m.created_at < ?", cutoff).
		Order("m.created_at ASC").
		Limit(limit).
		Find(&markers).Error
	if err != nil {
		return nil, err
	}
	return markers, nil
}

func (r *repository) GetMarker(ctx context.Context, orderNumber string) (*orderdomain.SuccessMarker, error) {
	var marker orderdomain.SuccessMarker
	err := r.db.WithContext(ctx).
		Where("order_number = ?", orderNumber).
		First(&marker).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &marker, nil
}
