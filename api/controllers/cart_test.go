package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	cartsvc "github.com/angelmondragon/storefront-backend/internal/cart"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type stubCart struct {
	view    *cartsvc.View
	err     error
	owner   cartsvc.Owner
	calls   []string
	qty     int
	merged  string
	variant uuid.UUID
}

func (s *stubCart) Get(_ context.Context, owner cartsvc.Owner) (*cartsvc.View, error) {
	s.owner = owner
	s.calls = append(s.calls, "get")
	return s.view, s.err
}

func (s *stubCart) AddItem(_ context.Context, owner cartsvc.Owner, variantID uuid.UUID, qty int) (*cartsvc.View, error) {
	s.owner, s.variant, s.qty = owner, variantID, qty
	s.calls = append(s.calls, "add")
	return s.view, s.err
}

func (s *stubCart) UpdateItem(_ context.Context, owner cartsvc.Owner, variantID uuid.UUID, qty int) (*cartsvc.View, error) {
	s.owner, s.variant, s.qty = owner, variantID, qty
	s.calls = append(s.calls, "update")
	return s.view, s.err
}

func (s *stubCart) RemoveItem(_ context.Context, owner cartsvc.Owner, variantID uuid.UUID) (*cartsvc.View, error) {
	s.owner, s.variant = owner, variantID
	s.calls = append(s.calls, "remove")
	return s.view, s.err
}

func (s *stubCart) MergeGuestCart(_ context.Context, _ uuid.UUID, sessionToken string) error {
	s.merged = sessionToken
	s.calls = append(s.calls, "merge")
	return nil
}

func TestCartAddItemIssuesGuestSession(t *testing.T) {
	variantID := uuid.New()
	svc := &stubCart{view: &cartsvc.View{SessionToken: "sess-new", Items: []cartsvc.ItemView{{VariantID: variantID, Quantity: 2}}}}
	handler := CartAddItem(svc, nil)

	body := `{"variant_id":"` + variantID.String() + `","quantity":2}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(body))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if got := resp.Header().Get(middleware.CartSessionHeader); got != "sess-new" {
		t.Fatalf("expected session header, got %q", got)
	}
	if svc.variant != variantID || svc.qty != 2 {
		t.Fatalf("unexpected add args variant=%s qty=%d", svc.variant, svc.qty)
	}
	if !svc.owner.IsGuest() {
		t.Fatalf("expected guest owner")
	}

	var envelope struct {
		Data cartsvc.View `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(envelope.Data.Items) != 1 {
		t.Fatalf("expected one item, got %d", len(envelope.Data.Items))
	}
}

func TestCartAddItemRejectsZeroQuantity(t *testing.T) {
	svc := &stubCart{}
	body := `{"variant_id":"` + uuid.NewString() + `","quantity":0}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(body))
	resp := httptest.NewRecorder()
	CartAddItem(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if len(svc.calls) != 0 {
		t.Fatalf("service should not be called, calls=%v", svc.calls)
	}
}

func TestCartUpdateItemZeroRemovesLine(t *testing.T) {
	variantID := uuid.New()
	svc := &stubCart{view: &cartsvc.View{}}
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/cart/items/"+variantID.String(), strings.NewReader(`{"quantity":0}`))
	req = withURLParam(req, "variantId", variantID.String())
	req = req.WithContext(middleware.WithCartSession(req.Context(), "sess-1"))
	resp := httptest.NewRecorder()
	CartUpdateItem(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if len(svc.calls) != 1 || svc.calls[0] != "remove" {
		t.Fatalf("expected remove call, got %v", svc.calls)
	}
	if svc.owner.SessionToken != "sess-1" {
		t.Fatalf("expected guest session passed through, got %q", svc.owner.SessionToken)
	}
}

func TestCartRemoveItemInvalidVariant(t *testing.T) {
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cart/items/nope", nil)
	req = withURLParam(req, "variantId", "nope")
	resp := httptest.NewRecorder()
	CartRemoveItem(&stubCart{}, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCartFetchMergesGuestCartOnSignIn(t *testing.T) {
	userID := uuid.New()
	svc := &stubCart{view: &cartsvc.View{}}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	ctx := middleware.WithUserID(req.Context(), userID.String())
	ctx = middleware.WithCartSession(ctx, "guest-sess")
	resp := httptest.NewRecorder()
	CartFetch(svc, nil).ServeHTTP(resp, req.WithContext(ctx))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if svc.merged != "guest-sess" {
		t.Fatalf("expected guest cart merge, got %q", svc.merged)
	}
	if svc.owner.UserID == nil || *svc.owner.UserID != userID || svc.owner.SessionToken != "" {
		t.Fatalf("expected user owner, got %+v", svc.owner)
	}
}

func TestCartFetchPropagatesNotFound(t *testing.T) {
	svc := &stubCart{err: pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")}
	resp := httptest.NewRecorder()
	CartFetch(svc, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}
