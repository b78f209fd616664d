// Package mock provides an in-memory PurchaseAuthority for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/ineyio/askgate"
)

// Authority is a scripted purchase authority.
type Authority struct {
	mu             sync.Mutex
	product        *askgate.Product
	entitlements   []askgate.VerificationResult
	entErr         error
	purchaseResult askgate.PurchaseResult
	purchaseErr    error
	productCalls   int
	finished       []string
	updates        chan askgate.VerificationResult
}

var _ askgate.PurchaseAuthority = (*Authority)(nil)

// Option configures an Authority.
type Option func(*Authority)

// New creates an authority selling askgate.DefaultProductID with no entitlements.
func New(opts ...Option) *Authority {
	a := &Authority{
		product: &askgate.Product{ID: askgate.DefaultProductID, DisplayName: "Monthly", Price: "¥480"},
		updates: make(chan askgate.VerificationResult, 16),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// WithProduct sets the product returned by Product.
func WithProduct(p askgate.Product) Option {
	return func(a *Authority) { a.product = &p }
}

// WithoutProduct makes Product return ErrProductNotFound.
func WithoutProduct() Option {
	return func(a *Authority) { a.product = nil }
}

// WithEntitlements sets the current entitlements.
func WithEntitlements(results ...askgate.VerificationResult) Option {
	return func(a *Authority) { a.entitlements = results }
}

// WithPurchaseResult sets what Purchase returns.
func WithPurchaseResult(r askgate.PurchaseResult) Option {
	return func(a *Authority) { a.purchaseResult = r }
}

// WithPurchaseError makes Purchase fail.
func WithPurchaseError(err error) Option {
	return func(a *Authority) { a.purchaseErr = err }
}

// WithEntitlementsError makes CurrentEntitlements fail.
func WithEntitlementsError(err error) Option {
	return func(a *Authority) { a.entErr = err }
}

// Verified returns a verified result for tx.
func Verified(tx askgate.Transaction) askgate.VerificationResult {
	return askgate.VerificationResult{Transaction: tx, Verified: true}
}

// Unverified returns a failed verification for tx.
func Unverified(tx askgate.Transaction, err error) askgate.VerificationResult {
	return askgate.VerificationResult{Transaction: tx, Err: err}
}

// Active returns a non-revoked transaction for productID.
func Active(id, productID string) askgate.Transaction {
	return askgate.Transaction{ID: id, ProductID: productID, PurchaseDate: time.Now()}
}

// Revoked returns a revoked transaction for productID.
func Revoked(id, productID string) askgate.Transaction {
	now := time.Now()
	return askgate.Transaction{ID: id, ProductID: productID, PurchaseDate: now.Add(-time.Hour), RevocationDate: &now}
}

// SetEntitlements replaces the current entitlements.
func (a *Authority) SetEntitlements(results ...askgate.VerificationResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entitlements = results
}

// SetProduct replaces the product; nil makes it unknown.
func (a *Authority) SetProduct(p *askgate.Product) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.product = p
}

// Push delivers a transaction update to the subscriber.
func (a *Authority) Push(vr askgate.VerificationResult) {
	a.updates <- vr
}

// Finished returns the IDs of finished transactions in order.
func (a *Authority) Finished() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.finished...)
}

// ProductCalls returns how many times Product was called.
func (a *Authority) ProductCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.productCalls
}

func (a *Authority) Product(_ context.Context, productID string) (askgate.Product, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.productCalls++
	if a.product == nil || a.product.ID != productID {
		return askgate.Product{}, askgate.ErrProductNotFound
	}
	return *a.product, nil
}

func (a *Authority) CurrentEntitlements(context.Context, string) ([]askgate.VerificationResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.entErr != nil {
		return nil, a.entErr
	}
	return append([]askgate.VerificationResult(nil), a.entitlements...), nil
}

func (a *Authority) Purchase(context.Context, askgate.Product) (askgate.PurchaseResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.purchaseErr != nil {
		return askgate.PurchaseResult{}, a.purchaseErr
	}
	return a.purchaseResult, nil
}

func (a *Authority) Updates(ctx context.Context) (<-chan askgate.VerificationResult, error) {
	out := make(chan askgate.VerificationResult)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case vr := <-a.updates:
				select {
				case out <- vr:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (a *Authority) Finish(_ context.Context, tx askgate.Transaction) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finished = append(a.finished, tx.ID)
	return nil
}
