package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/gateway"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

// Repository defines persistence operations for orders.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	FindByReference(ctx context.Context, reference string) (*models.Order, error)
	ApplyTransition(ctx context.Context, order *models.Order, t Transition, extra map[string]any) (bool, error)
	Update(ctx context.Context, orderID uuid.UUID, updates map[string]any) error
	ClaimRefund(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error)
	ReleaseRefundClaim(ctx context.Context, orderID uuid.UUID) error
	ListAwaitingPayment(ctx context.Context, createdBefore time.Time, after *Cursor, limit int) ([]models.Order, error)
	ListExpirable(ctx context.Context, createdBefore time.Time, limit int) ([]models.Order, error)
}

// Cursor marks the last order of a page in (created_at, id) order.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// CursorAfter returns the cursor positioned on order.
func CursorAfter(order models.Order) *Cursor {
	return &Cursor{CreatedAt: order.CreatedAt, ID: order.ID}
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// StockLedger is the subset of the ledger order transitions need.
type StockLedger interface {
	ReserveAll(ctx context.Context, tx *gorm.DB, lines []inventory.Line, ref inventory.Ref) error
	ReleaseAll(ctx context.Context, tx *gorm.DB, lines []inventory.Line, ref inventory.Ref) error
	CommitAll(ctx context.Context, tx *gorm.DB, lines []inventory.Line, ref inventory.Ref) error
	RestockAll(ctx context.Context, tx *gorm.DB, lines []inventory.Line, ref inventory.Ref) error
}

// PaymentGateway is the subset of the gateway client used after checkout.
type PaymentGateway interface {
	Initialize(ctx context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error)
	Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error)
}
