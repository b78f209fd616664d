package askgate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/askgate"
	authmock "github.com/ineyio/askgate/authority/mock"
	"github.com/ineyio/askgate/flags"
)

const productID = askgate.DefaultProductID

func newEntitlementSync(t *testing.T, authority *authmock.Authority) (*askgate.EntitlementSync, *ledgerFixture) {
	t.Helper()
	f := newLedgerFixture(t, testConfig())
	return askgate.NewEntitlementSync(testConfig(), authority, f.ledger), f
}

func TestRefresh_ActiveEntitlement(t *testing.T) {
	auth := authmock.New(authmock.WithEntitlements(authmock.Verified(authmock.Active("tx-1", productID))))
	es, f := newEntitlementSync(t, auth)
	ctx := context.Background()

	subscribed, err := es.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, subscribed)
	assert.True(t, es.IsSubscribed())
	assert.Equal(t, askgate.PlanPaid, f.ledger.PlanTier(ctx))

	tier, ok, err := f.flags.PlanTier(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, askgate.PlanPaid, tier)
}

func TestRefresh_Idempotent(t *testing.T) {
	auth := authmock.New(authmock.WithEntitlements(authmock.Verified(authmock.Active("tx-1", productID))))
	es, f := newEntitlementSync(t, auth)
	ctx := context.Background()

	for range 3 {
		subscribed, err := es.Refresh(ctx)
		require.NoError(t, err)
		assert.True(t, subscribed)
	}
	assert.Equal(t, askgate.PlanPaid, f.ledger.PlanTier(ctx))
}

func TestRefresh_IgnoresRevokedUnverifiedAndOtherProducts(t *testing.T) {
	auth := authmock.New(authmock.WithEntitlements(
		authmock.Verified(authmock.Revoked("tx-1", productID)),
		authmock.Unverified(authmock.Active("tx-2", productID), errors.New("bad signature")),
		authmock.Verified(authmock.Active("tx-3", "other.product")),
	))
	es, f := newEntitlementSync(t, auth)
	ctx := context.Background()
	require.NoError(t, f.ledger.SetPlanTier(ctx, askgate.PlanPaid))

	subscribed, err := es.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, subscribed)
	assert.Equal(t, askgate.PlanFree, f.ledger.PlanTier(ctx))
}

func TestRefresh_AuthorityErrorKeepsState(t *testing.T) {
	boom := errors.New("store offline")
	auth := authmock.New(authmock.WithEntitlementsError(boom))
	es, f := newEntitlementSync(t, auth)
	ctx := context.Background()
	require.NoError(t, f.ledger.SetPlanTier(ctx, askgate.PlanPaid))

	_, err := es.Refresh(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, askgate.PlanPaid, f.ledger.PlanTier(ctx))
}

func TestRestore_NoneActive(t *testing.T) {
	es, f := newEntitlementSync(t, authmock.New())
	ctx := context.Background()
	require.NoError(t, f.ledger.SetPlanTier(ctx, askgate.PlanPaid))

	subscribed, err := es.Restore(ctx)
	assert.ErrorIs(t, err, askgate.ErrNoActiveEntitlement)
	assert.False(t, subscribed)
	assert.Equal(t, askgate.PlanFree, f.ledger.PlanTier(ctx))
	assert.ErrorIs(t, es.LastError(), askgate.ErrNoActiveEntitlement)
}

func TestRestore_Active(t *testing.T) {
	auth := authmock.New(authmock.WithEntitlements(authmock.Verified(authmock.Active("tx-1", productID))))
	es, f := newEntitlementSync(t, auth)
	ctx := context.Background()

	subscribed, err := es.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, subscribed)
	assert.Equal(t, askgate.PlanPaid, f.ledger.PlanTier(ctx))
}

func TestPurchase_Outcomes(t *testing.T) {
	tx := authmock.Active("tx-9", productID)
	tests := []struct {
		name           string
		result         askgate.PurchaseResult
		wantStatus     askgate.PurchaseStatus
		wantErr        error
		wantSubscribed bool
		wantFinished   []string
	}{
		{
			name:           "verified success",
			result:         askgate.PurchaseResult{Status: askgate.PurchaseSuccess, Verification: authmock.Verified(tx)},
			wantStatus:     askgate.PurchaseSuccess,
			wantSubscribed: true,
			wantFinished:   []string{"tx-9"},
		},
		{
			name:    "unverified success",
			result:  askgate.PurchaseResult{Status: askgate.PurchaseSuccess, Verification: authmock.Unverified(tx, errors.New("bad jws"))},
			wantErr: askgate.ErrVerificationFailed,
		},
		{
			name:       "cancelled",
			result:     askgate.PurchaseResult{Status: askgate.PurchaseCancelled},
			wantStatus: askgate.PurchaseCancelled,
		},
		{
			name:       "pending",
			result:     askgate.PurchaseResult{Status: askgate.PurchasePending},
			wantStatus: askgate.PurchasePending,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := authmock.New(authmock.WithPurchaseResult(tt.result))
			es, f := newEntitlementSync(t, auth)
			ctx := context.Background()

			status, err := es.Purchase(ctx)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantSubscribed, es.IsSubscribed())
			assert.Equal(t, askgate.PlanTierFromPaid(tt.wantSubscribed), f.ledger.PlanTier(ctx))
			assert.Equal(t, tt.wantFinished, auth.Finished())
		})
	}
}

func TestPurchase_FinishesWhenTierNotPersisted(t *testing.T) {
	tx := authmock.Active("tx-7", productID)
	auth := authmock.New(authmock.WithPurchaseResult(askgate.PurchaseResult{
		Status:       askgate.PurchaseSuccess,
		Verification: authmock.Verified(tx),
	}))
	store := &readOnlyFlags{MemoryStore: flags.NewMemoryStore()}
	ledger := askgate.NewQuotaLedger(testConfig(),
		askgate.WithFlagStore(store),
		askgate.WithClock(newClock(day0).Now),
		askgate.WithLocation(time.UTC),
	)
	es := askgate.NewEntitlementSync(testConfig(), auth, ledger)

	status, err := es.Purchase(context.Background())
	assert.Equal(t, askgate.PurchaseSuccess, status)
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, []string{"tx-7"}, auth.Finished())
	assert.True(t, es.IsSubscribed())
}

func TestPurchase_ProductMissing(t *testing.T) {
	auth := authmock.New(authmock.WithoutProduct())
	es, _ := newEntitlementSync(t, auth)

	_, err := es.Purchase(context.Background())
	assert.ErrorIs(t, err, askgate.ErrProductNotFound)
	assert.False(t, es.IsSubscribed())
}

func TestPurchase_LoadsProductOnce(t *testing.T) {
	auth := authmock.New(authmock.WithPurchaseResult(askgate.PurchaseResult{Status: askgate.PurchaseCancelled}))
	es, _ := newEntitlementSync(t, auth)
	ctx := context.Background()

	for range 3 {
		_, err := es.Purchase(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, auth.ProductCalls())
}

func TestStart_FollowsUpdates(t *testing.T) {
	auth := authmock.New()
	es, f := newEntitlementSync(t, auth)
	ctx := context.Background()

	require.NoError(t, es.Start(ctx))
	defer es.Close()
	assert.Error(t, es.Start(ctx))

	auth.Push(authmock.Verified(authmock.Active("tx-1", productID)))
	assert.Eventually(t, func() bool {
		return f.ledger.PlanTier(ctx) == askgate.PlanPaid
	}, time.Second, 5*time.Millisecond)

	// Unverified and foreign updates are ignored.
	auth.Push(authmock.Unverified(authmock.Revoked("tx-2", productID), errors.New("bad jws")))
	auth.Push(authmock.Verified(authmock.Revoked("tx-3", "other.product")))

	auth.Push(authmock.Verified(authmock.Revoked("tx-1", productID)))
	assert.Eventually(t, func() bool {
		return f.ledger.PlanTier(ctx) == askgate.PlanFree
	}, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		return len(auth.Finished()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"tx-1", "tx-1"}, auth.Finished())
}

func TestStart_OutlivesCallerContext(t *testing.T) {
	auth := authmock.New()
	es, f := newEntitlementSync(t, auth)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, es.Start(ctx))
	cancel()

	auth.Push(authmock.Verified(authmock.Active("tx-1", productID)))
	assert.Eventually(t, func() bool {
		return f.ledger.PlanTier(context.Background()) == askgate.PlanPaid
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, es.Close())
	require.NoError(t, es.Start(context.Background()))
	require.NoError(t, es.Close())
}

// readOnlyFlags rejects plan tier writes.
type readOnlyFlags struct {
	*flags.MemoryStore
}

func (readOnlyFlags) SetPlanTier(context.Context, askgate.PlanTier) error { return errBackend }
