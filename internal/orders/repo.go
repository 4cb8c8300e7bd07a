package orders

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return r.findOne(ctx, "order_number = ?", strings.TrimSpace(orderNumber))
}

func (r *repository) FindByReference(ctx context.Context, reference string) (*models.Order, error) {
	return r.findOne(ctx, "gateway_reference = ?", strings.TrimSpace(reference))
}

func (r *repository) findOne(ctx context.Context, query string, arg any) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC").Order("id ASC")
		}).
		Where(query, arg).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ApplyTransition writes t as a compare-and-set on the order's status pair and
// version. It returns false when another writer moved the order first.
func (r *repository) ApplyTransition(ctx context.Context, order *models.Order, t Transition, extra map[string]any) (bool, error) {
	updates := map[string]any{
		"status":         t.ToStatus,
		"payment_status": t.TargetPayment(order.PaymentStatus),
		"version":        gorm.Expr("version + 1"),
	}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Where("status IN ? AND payment_status IN ?", t.FromStatus, t.FromPayment).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Update(ctx context.Context, orderID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(updates).Error
}

// ClaimRefund marks a paid order as having a refund in flight. Only one caller wins.
func (r *repository) ClaimRefund(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND refund_requested_at IS NULL AND payment_status = ?", orderID, enums.PaymentStatusPaid).
		Where("status IN ?", TransitionRefund.FromStatus).
		Update("refund_requested_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ReleaseRefundClaim(ctx context.Context, orderID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", orderID, enums.PaymentStatusPaid).
		Update("refund_requested_at", nil).Error
}

// ListAwaitingPayment returns pending/pending orders created before the
// cutoff, oldest first, starting after the cursor when one is given.
func (r *repository) ListAwaitingPayment(ctx context.Context, createdBefore time.Time, after *Cursor, limit int) ([]models.Order, error) {
	return r.list(ctx, createdBefore, after, limit, []enums.PaymentStatus{enums.PaymentStatusPending})
}

// ListExpirable returns unpaid pending orders created before the cutoff, oldest first.
func (r *repository) ListExpirable(ctx context.Context, createdBefore time.Time, limit int) ([]models.Order, error) {
	return r.list(ctx, createdBefore, nil, limit, TransitionCancel.FromPayment)
}

func (r *repository) list(ctx context.Context, createdBefore time.Time, after *Cursor, limit int, payments []enums.PaymentStatus) ([]models.Order, error) {
	var rows []models.Order
	query := r.db.WithContext(ctx).
		Preload("Items").
		Where("status = ? AND payment_status IN ? AND created_at < ?", enums.OrderStatusPending, payments, createdBefore)
	if after != nil {
		query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))", after.CreatedAt, after.CreatedAt, after.ID)
	}
	query = query.Order("created_at ASC").Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
