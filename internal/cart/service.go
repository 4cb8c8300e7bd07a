package cart

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/inventory"
	pkgdb "github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// MaxLineQuantity caps a single cart line.
const MaxLineQuantity = 99

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Owner identifies whose cart is being used: a signed-in user or a guest session.
type Owner struct {
	UserID       *uuid.UUID
	SessionToken string
}

// IsGuest reports whether the owner has no user account.
func (o Owner) IsGuest() bool {
	return o.UserID == nil
}

// ItemView is a cart line enriched with catalog data.
type ItemView struct {
	VariantID      uuid.UUID `json:"variant_id"`
	SKU            string    `json:"sku"`
	Name           string    `json:"name"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	LineTotalCents int64     `json:"line_total_cents"`
	Available      int       `json:"available"`
}

// View is the validated cart returned to clients.
type View struct {
	CartID        *uuid.UUID   `json:"cart_id,omitempty"`
	SessionToken  string       `json:"session_token,omitempty"`
	Items         []ItemView   `json:"items"`
	SubtotalCents int64        `json:"subtotal_cents"`
	Corrections   []Correction `json:"corrections,omitempty"`
}

// Service exposes cart persistence operations.
type Service interface {
	Get(ctx context.Context, owner Owner) (*View, error)
	AddItem(ctx context.Context, owner Owner, variantID uuid.UUID, qty int) (*View, error)
	UpdateItem(ctx context.Context, owner Owner, variantID uuid.UUID, qty int) (*View, error)
	RemoveItem(ctx context.Context, owner Owner, variantID uuid.UUID) (*View, error)
	MergeGuestCart(ctx context.Context, userID uuid.UUID, sessionToken string) error
	Resolve(ctx context.Context, tx *gorm.DB, owner Owner) (*models.Cart, error)
	Clear(ctx context.Context, tx *gorm.DB, cartID uuid.UUID) error
}

type service struct {
	repo      Repository
	tx        txRunner
	variants  VariantReader
	validator *Validator
}

// NewService builds a cart service backed by the provided stack.
func NewService(repo Repository, tx txRunner, variants VariantReader, validator *Validator) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if variants == nil {
		return nil, fmt.Errorf("variant reader required")
	}
	if validator == nil {
		return nil, fmt.Errorf("cart validator required")
	}
	return &service{repo: repo, tx: tx, variants: variants, validator: validator}, nil
}

func (s *service) Get(ctx context.Context, owner Owner) (*View, error) {
	var view *View
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		cart, err := s.Resolve(ctx, tx, owner)
		if err != nil {
			return err
		}
		if cart == nil {
			view = &View{Items: []ItemView{}}
			return nil
		}
		corrections, err := s.validator.Validate(ctx, tx, cart)
		if err != nil {
			return err
		}
		view, err = s.buildView(ctx, tx, cart, corrections)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// AddItem adds qty units of a variant, creating the cart (and the guest session) on first use.
func (s *service) AddItem(ctx context.Context, owner Owner, variantID uuid.UUID, qty int) (*View, error) {
	if variantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}
	if qty <= 0 || qty > MaxLineQuantity {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity must be between 1 and %d", MaxLineQuantity))
	}

	var view *View
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		variant, err := s.loadPurchasable(ctx, tx, variantID)
		if err != nil {
			return err
		}
		cart, err := s.resolveOrCreate(ctx, tx, owner)
		if err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		item, err := repo.FindItem(ctx, cart.ID, variantID)
		if err != nil && !isNotFound(err) {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart line")
		}
		if item == nil {
			item = &models.CartItem{CartID: cart.ID, VariantID: variantID}
		}
		total := item.Quantity + qty
		if total > MaxLineQuantity {
			total = MaxLineQuantity
		}
		if err := ensureSellable(*variant, total); err != nil {
			return err
		}
		item.Quantity = total
		item.UnitPriceCents = variant.PriceCents
		if err := repo.SaveItem(ctx, item); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save cart line")
		}
		if err := repo.Touch(ctx, cart.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "touch cart")
		}

		cart, err = s.reload(ctx, tx, cart)
		if err != nil {
			return err
		}
		view, err = s.buildView(ctx, tx, cart, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// UpdateItem sets the quantity of an existing line. Zero removes it.
func (s *service) UpdateItem(ctx context.Context, owner Owner, variantID uuid.UUID, qty int) (*View, error) {
	if qty == 0 {
		return s.RemoveItem(ctx, owner, variantID)
	}
	if qty < 0 || qty > MaxLineQuantity {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity must be between 0 and %d", MaxLineQuantity))
	}

	var view *View
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		cart, err := s.requireCart(ctx, tx, owner)
		if err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)
		item, err := repo.FindItem(ctx, cart.ID, variantID)
		if err != nil {
			if isNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "item not in cart")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart line")
		}
		variant, err := s.loadPurchasable(ctx, tx, variantID)
		if err != nil {
			return err
		}
		if err := ensureSellable(*variant, qty); err != nil {
			return err
		}
		item.Quantity = qty
		item.UnitPriceCents = variant.PriceCents
		if err := repo.SaveItem(ctx, item); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save cart line")
		}

		cart, err = s.reload(ctx, tx, cart)
		if err != nil {
			return err
		}
		view, err = s.buildView(ctx, tx, cart, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *service) RemoveItem(ctx context.Context, owner Owner, variantID uuid.UUID) (*View, error) {
	var view *View
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		cart, err := s.requireCart(ctx, tx, owner)
		if err != nil {
			return err
		}
		removed, err := s.repo.WithTx(tx).DeleteItem(ctx, cart.ID, variantID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "remove cart line")
		}
		if !removed {
			return pkgerrors.New(pkgerrors.CodeNotFound, "item not in cart")
		}
		cart, err = s.reload(ctx, tx, cart)
		if err != nil {
			return err
		}
		view, err = s.buildView(ctx, tx, cart, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// MergeGuestCart folds a guest cart into the user's cart. Quantities for the
// same variant are summed up to MaxLineQuantity and the guest cart is removed.
func (s *service) MergeGuestCart(ctx context.Context, userID uuid.UUID, sessionToken string) error {
	sessionToken = strings.TrimSpace(sessionToken)
	if userID == uuid.Nil || sessionToken == "" {
		return nil
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		guest, err := repo.FindBySession(ctx, sessionToken)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load guest cart")
		}
		uid := userID
		target, err := s.resolveOrCreate(ctx, tx, Owner{UserID: &uid})
		if err != nil {
			return err
		}
		existing := make(map[uuid.UUID]models.CartItem, len(target.Items))
		for _, item := range target.Items {
			existing[item.VariantID] = item
		}
		for _, item := range guest.Items {
			merged, ok := existing[item.VariantID]
			if !ok {
				merged = models.CartItem{CartID: target.ID, VariantID: item.VariantID, UnitPriceCents: item.UnitPriceCents}
			}
			merged.Quantity += item.Quantity
			if merged.Quantity > MaxLineQuantity {
				merged.Quantity = MaxLineQuantity
			}
			if err := repo.SaveItem(ctx, &merged); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "merge cart line")
			}
		}
		if err := repo.Delete(ctx, guest.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete guest cart")
		}
		return nil
	})
}

// Resolve returns the owner's cart with items, or nil when none exists.
func (s *service) Resolve(ctx context.Context, tx *gorm.DB, owner Owner) (*models.Cart, error) {
	repo := s.repo.WithTx(tx)
	var (
		cart *models.Cart
		err  error
	)
	switch {
	case owner.UserID != nil:
		cart, err = repo.FindByUser(ctx, *owner.UserID)
	case strings.TrimSpace(owner.SessionToken) != "":
		cart, err = repo.FindBySession(ctx, strings.TrimSpace(owner.SessionToken))
	default:
		return nil, nil
	}
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart")
	}
	return cart, nil
}

// Clear empties a cart after its contents became an order.
func (s *service) Clear(ctx context.Context, tx *gorm.DB, cartID uuid.UUID) error {
	if err := s.repo.WithTx(tx).ClearItems(ctx, cartID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clear cart")
	}
	return nil
}

func (s *service) requireCart(ctx context.Context, tx *gorm.DB, owner Owner) (*models.Cart, error) {
	cart, err := s.Resolve(ctx, tx, owner)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	return cart, nil
}

func (s *service) resolveOrCreate(ctx context.Context, tx *gorm.DB, owner Owner) (*models.Cart, error) {
	cart, err := s.Resolve(ctx, tx, owner)
	if err != nil || cart != nil {
		return cart, err
	}
	fresh := &models.Cart{}
	if owner.UserID != nil {
		uid := *owner.UserID
		fresh.UserID = &uid
	} else {
		token := uuid.NewString()
		fresh.SessionToken = &token
	}
	created, err := s.repo.WithTx(tx).Create(ctx, fresh)
	if err != nil {
		if pkgdb.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "cart was created concurrently, retry")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create cart")
	}
	return created, nil
}

func (s *service) reload(ctx context.Context, tx *gorm.DB, cart *models.Cart) (*models.Cart, error) {
	owner := Owner{UserID: cart.UserID}
	if cart.SessionToken != nil {
		owner.SessionToken = *cart.SessionToken
	}
	return s.requireCart(ctx, tx, owner)
}

func (s *service) loadPurchasable(ctx context.Context, tx *gorm.DB, variantID uuid.UUID) (*models.Variant, error) {
	variants, err := s.variants.Availability(ctx, tx, []uuid.UUID{variantID})
	if err != nil {
		return nil, err
	}
	variant, ok := variants[variantID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "variant not found")
	}
	if !variant.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant is not available")
	}
	return &variant, nil
}

func (s *service) buildView(ctx context.Context, tx *gorm.DB, cart *models.Cart, corrections []Correction) (*View, error) {
	variants, err := s.variants.Availability(ctx, tx, variantIDs(cart.Items))
	if err != nil {
		return nil, err
	}
	id := cart.ID
	view := &View{CartID: &id, Items: make([]ItemView, 0, len(cart.Items)), Corrections: corrections}
	if cart.SessionToken != nil {
		view.SessionToken = *cart.SessionToken
	}
	for _, item := range cart.Items {
		variant := variants[item.VariantID]
		line := ItemView{
			VariantID:      item.VariantID,
			SKU:            variant.SKU,
			Name:           variant.DisplayName(),
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			LineTotalCents: item.UnitPriceCents * int64(item.Quantity),
			Available:      variant.Sellable(),
		}
		view.SubtotalCents += line.LineTotalCents
		view.Items = append(view.Items, line)
	}
	return view, nil
}

func ensureSellable(variant models.Variant, qty int) error {
	if variant.Sellable() >= qty {
		return nil
	}
	available := variant.Sellable()
	if available < 0 {
		available = 0
	}
	return pkgerrors.New(pkgerrors.CodeOutOfStock, "not enough stock").WithDetails([]inventory.Unavailable{{
		VariantID: variant.ID,
		SKU:       variant.SKU,
		Requested: qty,
		Available: available,
	}})
}
