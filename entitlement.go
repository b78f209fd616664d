package askgate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PurchaseAuthority is the external subscription ledger.
type PurchaseAuthority interface {
	// Product loads the purchasable product. Returns ErrProductNotFound when unknown.
	Product(ctx context.Context, productID string) (Product, error)

	// CurrentEntitlements lists the entitlements currently granted for productID.
	CurrentEntitlements(ctx context.Context, productID string) ([]VerificationResult, error)

	// Purchase initiates a purchase of the product.
	Purchase(ctx context.Context, product Product) (PurchaseResult, error)

	// Updates streams transaction updates until ctx is done or the stream ends.
	Updates(ctx context.Context) (<-chan VerificationResult, error)

	// Finish acknowledges a delivered transaction.
	Finish(ctx context.Context, tx Transaction) error
}

// Product is a purchasable subscription product.
type Product struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Price       string `json:"display_price"`
}

// Transaction is a purchase or renewal reported by the authority.
type Transaction struct {
	ID             string
	ProductID      string
	PurchaseDate   time.Time
	RevocationDate *time.Time
}

// Revoked reports whether the transaction has been revoked.
func (t Transaction) Revoked() bool {
	return t.RevocationDate != nil
}

// VerificationResult is a transaction with the outcome of its signature check.
// Err is set when Verified is false.
type VerificationResult struct {
	Transaction Transaction
	Verified    bool
	Err         error
}

// PurchaseStatus is the user-facing outcome of a purchase.
type PurchaseStatus string

const (
	PurchaseSuccess   PurchaseStatus = "success"
	PurchaseCancelled PurchaseStatus = "cancelled"
	PurchasePending   PurchaseStatus = "pending"
)

// PurchaseResult is returned by PurchaseAuthority.Purchase.
// Verification is meaningful only for PurchaseSuccess.
type PurchaseResult struct {
	Status       PurchaseStatus
	Verification VerificationResult
}

// EntitlementSync keeps the ledger's plan tier consistent with the purchase authority.
type EntitlementSync struct {
	authority PurchaseAuthority
	ledger    *QuotaLedger
	productID string
	logger    *zap.Logger

	mu         sync.Mutex
	subscribed bool
	product    *Product
	lastErr    error

	watchMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEntitlementSync creates a synchronizer feeding ledger for cfg.ProductID.
func NewEntitlementSync(cfg Config, authority PurchaseAuthority, ledger *QuotaLedger, opts ...Option) *EntitlementSync {
	s := newSettings(cfg, opts)
	productID := cfg.ProductID
	if productID == "" {
		productID = DefaultProductID
	}
	return &EntitlementSync{
		authority: authority,
		ledger:    ledger,
		productID: productID,
		logger:    s.logger.With(zap.String("product_id", productID)),
	}
}

// Refresh re-derives the subscription state from the current entitlements.
func (e *EntitlementSync) Refresh(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	active, err := e.activeEntitlement(ctx)
	if err != nil {
		e.lastErr = err
		return e.subscribed, err
	}
	return active, e.apply(ctx, active)
}

// Restore is the user-triggered form of Refresh. It reports
// ErrNoActiveEntitlement when nothing is active after applying that state.
func (e *EntitlementSync) Restore(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	active, err := e.activeEntitlement(ctx)
	if err != nil {
		e.lastErr = fmt.Errorf("askgate: restore: %w", err)
		return e.subscribed, e.lastErr
	}
	if err := e.apply(ctx, active); err != nil {
		return active, err
	}
	if !active {
		e.lastErr = ErrNoActiveEntitlement
		return false, ErrNoActiveEntitlement
	}
	return true, nil
}

// Purchase buys the tracked product. Cancelled and pending outcomes leave the
// state unchanged, as does a failed verification, which is returned as an error.
func (e *EntitlementSync) Purchase(ctx context.Context) (PurchaseStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	product, err := e.loadProduct(ctx)
	if err != nil {
		e.lastErr = err
		return "", err
	}

	res, err := e.authority.Purchase(ctx, product)
	if err != nil {
		e.lastErr = fmt.Errorf("askgate: purchase: %w", err)
		return "", e.lastErr
	}

	switch res.Status {
	case PurchaseSuccess:
		if !res.Verification.Verified {
			e.lastErr = verificationError(res.Verification)
			return "", e.lastErr
		}
		// A verified purchase is always finished, even when the tier
		// cannot be persisted.
		applyErr := e.apply(ctx, true)
		e.finish(ctx, res.Verification.Transaction)
		if applyErr != nil {
			e.lastErr = fmt.Errorf("askgate: apply purchase: %w", applyErr)
			return PurchaseSuccess, e.lastErr
		}
		return PurchaseSuccess, nil
	case PurchaseCancelled, PurchasePending:
		e.logger.Info("purchase not completed", zap.String("status", string(res.Status)))
		return res.Status, nil
	default:
		e.lastErr = fmt.Errorf("askgate: purchase: unknown status %q", res.Status)
		return "", e.lastErr
	}
}

// Start refreshes once and then follows the authority's transaction updates
// until Close. Calling Start twice without Close is an error.
func (e *EntitlementSync) Start(ctx context.Context) error {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()

	if e.cancel != nil {
		return errors.New("askgate: entitlement sync already started")
	}

	if _, err := e.Refresh(ctx); err != nil {
		e.logger.Warn("initial entitlement refresh", zap.Error(err))
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	updates, err := e.authority.Updates(watchCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("askgate: subscribe to transaction updates: %w", err)
	}
	e.cancel = cancel

	e.wg.Add(1)
	go e.watch(watchCtx, updates)
	return nil
}

// Close stops the update subscription and waits for it to exit.
func (e *EntitlementSync) Close() error {
	e.watchMu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.watchMu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	return nil
}

// IsSubscribed returns the last derived subscription state.
func (e *EntitlementSync) IsSubscribed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subscribed
}

// LastError returns the last purchase or restore failure.
func (e *EntitlementSync) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *EntitlementSync) watch(ctx context.Context, updates <-chan VerificationResult) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case vr, ok := <-updates:
			if !ok {
				e.logger.Info("transaction update stream closed")
				return
			}
			e.handleUpdate(ctx, vr)
		}
	}
}

func (e *EntitlementSync) handleUpdate(ctx context.Context, vr VerificationResult) {
	if !vr.Verified {
		e.logger.Warn("unverified transaction update", zap.Error(vr.Err))
		return
	}
	if vr.Transaction.ProductID != e.productID {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	active := !vr.Transaction.Revoked()
	if err := e.apply(ctx, active); err != nil {
		e.logger.Warn("apply transaction update", zap.Error(err))
	}
	e.finish(ctx, vr.Transaction)
}

// activeEntitlement must be called with e.mu held.
func (e *EntitlementSync) activeEntitlement(ctx context.Context) (bool, error) {
	results, err := e.authority.CurrentEntitlements(ctx, e.productID)
	if err != nil {
		return false, fmt.Errorf("askgate: current entitlements: %w", err)
	}
	for _, vr := range results {
		if !vr.Verified {
			e.logger.Warn("skipping unverified entitlement", zap.Error(vr.Err))
			continue
		}
		if vr.Transaction.ProductID == e.productID && !vr.Transaction.Revoked() {
			return true, nil
		}
	}
	return false, nil
}

// apply sets the local state and the ledger tier together.
// Must be called with e.mu held.
func (e *EntitlementSync) apply(ctx context.Context, active bool) error {
	if e.subscribed != active {
		e.logger.Info("subscription state changed", zap.Bool("subscribed", active))
	}
	e.subscribed = active
	if e.ledger == nil {
		return nil
	}
	if err := e.ledger.SetPlanTier(ctx, PlanTierFromPaid(active)); err != nil {
		return err
	}
	return nil
}

// loadProduct must be called with e.mu held.
func (e *EntitlementSync) loadProduct(ctx context.Context) (Product, error) {
	if e.product != nil {
		return *e.product, nil
	}
	p, err := e.authority.Product(ctx, e.productID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return Product{}, err
		}
		return Product{}, fmt.Errorf("askgate: load product: %w", err)
	}
	e.product = &p
	return p, nil
}

func (e *EntitlementSync) finish(ctx context.Context, tx Transaction) {
	if err := e.authority.Finish(ctx, tx); err != nil {
		e.logger.Warn("finish transaction", zap.String("transaction_id", tx.ID), zap.Error(err))
	}
}

func verificationError(vr VerificationResult) error {
	if vr.Err != nil {
		return fmt.Errorf("%w: %w", ErrVerificationFailed, vr.Err)
	}
	return ErrVerificationFailed
}
