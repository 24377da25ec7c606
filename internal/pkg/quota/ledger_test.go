package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/PageForgeHQ/PageForge/app/models"
	"github.com/PageForgeHQ/PageForge/internal/pkg/entitlements"
	"github.com/PageForgeHQ/PageForge/internal/pkg/errs"
)

type quotaKey struct {
	org uint
	dim models.QuotaDimension
}

// memRepository emulates the store's atomic conditional UPDATE with a mutex,
// giving the ledger the same never-overshoot guarantee in-memory.
type memRepository struct {
	mu   sync.Mutex
	rows map[quotaKey]*models.UsageQuota
}

func newMemRepository() *memRepository {
	return &memRepository{rows: make(map[quotaKey]*models.UsageQuota)}
}

func (r *memRepository) seed(org uint, dim models.QuotaDimension, usage uint64, limit int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[quotaKey{org, dim}] = &models.UsageQuota{
		ID:             uint(len(r.rows) + 1),
		OrganizationID: org,
		Dimension:      dim,
		CurrentUsage:   usage,
		QuotaLimit:     limit,
	}
}

func (r *memRepository) WithTx(tx *gorm.DB) Repository { return r }

func (r *memRepository) GetQuota(ctx context.Context, org uint, dim models.QuotaDimension) (*models.UsageQuota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.rows[quotaKey{org, dim}]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *q
	return &cp, nil
}

func (r *memRepository) ListQuotas(ctx context.Context, org uint) ([]models.UsageQuota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.UsageQuota
	for k, q := range r.rows {
		if k.org == org {
			out = append(out, *q)
		}
	}
	return out, nil
}

func (r *memRepository) IncrementIfWithinLimit(ctx context.Context, org uint, dim models.QuotaDimension, amount uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.rows[quotaKey{org, dim}]
	if !ok {
		return false, nil
	}
	if !entitlements.IsUnlimited(q.QuotaLimit) && q.CurrentUsage+amount > uint64(q.QuotaLimit) {
		return false, nil
	}
	q.CurrentUsage += amount
	return true, nil
}

func (r *memRepository) DecrementClamped(ctx context.Context, org uint, dim models.QuotaDimension, amount uint64) (*models.UsageQuota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.rows[quotaKey{org, dim}]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	if q.CurrentUsage > amount {
		q.CurrentUsage -= amount
	} else {
		q.CurrentUsage = 0
	}
	cp := *q
	return &cp, nil
}

func (r *memRepository) UpdateLimit(ctx context.Context, org uint, dim models.QuotaDimension, limit int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.rows[quotaKey{org, dim}]; ok {
		q.QuotaLimit = limit
	}
	return nil
}

func (r *memRepository) CreateIfMissing(ctx context.Context, q *models.UsageQuota) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := quotaKey{q.OrganizationID, q.Dimension}
	if _, ok := r.rows[key]; ok {
		return nil
	}
	cp := *q
	cp.ID = uint(len(r.rows) + 1)
	r.rows[key] = &cp
	return nil
}

func (r *memRepository) ResetPeriod(ctx context.Context, org uint, dim models.QuotaDimension, periodStart, periodEnd *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.rows[quotaKey{org, dim}]; ok {
		q.CurrentUsage = 0
		q.PeriodStart = periodStart
		q.PeriodEnd = periodEnd
	}
	return nil
}

func TestIncrementQuotaWithinLimit(t *testing.T) {
	repo := newMemRepository()
	repo.seed(1, models.DimensionSites, 0, 3)
	ledger := NewLedger(repo)

	status, err := ledger.IncrementQuota(context.Background(), 1, models.DimensionSites, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), status.CurrentUsage)
	assert.Equal(t, int64(2), status.Remaining)
}

func TestIncrementQuotaAtLimit(t *testing.T) {
	repo := newMemRepository()
	repo.seed(1, models.DimensionSites, 3, 3)
	ledger := NewLedger(repo)

	_, err := ledger.IncrementQuota(context.Background(), 1, models.DimensionSites, 1)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConflict))
	assert.Equal(t, "Quota exceeded for sites", err.Error())

	// The counter must be untouched after a rejection.
	q, getErr := repo.GetQuota(context.Background(), 1, models.DimensionSites)
	require.NoError(t, getErr)
	assert.Equal(t, uint64(3), q.CurrentUsage)
}

func TestIncrementQuotaExactlyToLimit(t *testing.T) {
	repo := newMemRepository()
	repo.seed(1, models.DimensionPosts, 20, 25)
	ledger := NewLedger(repo)

	status, err := ledger.IncrementQuota(context.Background(), 1, models.DimensionPosts, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), status.CurrentUsage)
	assert.Equal(t, int64(0), status.Remaining)
	assert.Equal(t, 100, status.PercentageUsed)
}

func TestIncrementQuotaMissingRow(t *testing.T) {
	ledger := NewLedger(newMemRepository())

	_, err := ledger.IncrementQuota(context.Background(), 42, models.DimensionSites, 1)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
	assert.Equal(t, "No quota records found", err.Error())
}

func TestIncrementQuotaUnknownDimension(t *testing.T) {
	ledger := NewLedger(newMemRepository())

	_, err := ledger.IncrementQuota(context.Background(), 1, "bandwidth", 1)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestIncrementQuotaZeroAmount(t *testing.T) {
	ledger := NewLedger(newMemRepository())

	_, err := ledger.IncrementQuota(context.Background(), 1, models.DimensionSites, 0)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestIncrementQuotaUnlimited(t *testing.T) {
	repo := newMemRepository()
	repo.seed(1, models.DimensionStorageBytes, 1<<50, entitlements.UnlimitedQuota)
	ledger := NewLedger(repo)

	status, err := ledger.IncrementQuota(context.Background(), 1, models.DimensionStorageBytes, 1<<40)
	require.NoError(t, err)
	assert.True(t, status.Unlimited)
	assert.Equal(t, int64(-1), status.Remaining)
}

func TestIncrementQuotaConcurrentNoOvershoot(t *testing.T) {
	repo := newMemRepository()
	repo.seed(1, models.DimensionAPICalls, 0, 100)
	ledger := NewLedger(repo)

	const workers = 50
	const perWorker = 4 // 200 attempts against a limit of 100

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := ledger.IncrementQuota(context.Background(), 1, models.DimensionAPICalls, 1); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	q, err := repo.GetQuota(context.Background(), 1, models.DimensionAPICalls)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), q.CurrentUsage, "usage must never pass the limit")
	assert.Equal(t, 100, succeeded)
}

func TestDecrementQuotaClampsAtZero(t *testing.T) {
	repo := newMemRepository()
	repo.seed(1, models.DimensionPosts, 2, 25)
	ledger := NewLedger(repo)

	status, err := ledger.DecrementQuota(context.Background(), 1, models.DimensionPosts, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), status.CurrentUsage)
}

func TestDecrementQuotaMissingRow(t *testing.T) {
	ledger := NewLedger(newMemRepository())

	_, err := ledger.DecrementQuota(context.Background(), 9, models.DimensionPosts, 1)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
	assert.Equal(t, "No quota records found", err.Error())
}

func TestCheckQuotaDoesNotMutate(t *testing.T) {
	repo := newMemRepository()
	repo.seed(1, models.DimensionUsers, 2, 3)
	ledger := NewLedger(repo)

	result, err := ledger.CheckQuota(context.Background(), 1, models.DimensionUsers, 1)
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	result, err = ledger.CheckQuota(context.Background(), 1, models.DimensionUsers, 2)
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	q, err := repo.GetQuota(context.Background(), 1, models.DimensionUsers)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), q.CurrentUsage)
}

func TestGetQuotaStatusEmpty(t *testing.T) {
	ledger := NewLedger(newMemRepository())

	_, err := ledger.GetQuotaStatus(context.Background(), 7)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
	assert.Equal(t, "No quota records found", err.Error())
}

func TestGetQuotaStatusPercentages(t *testing.T) {
	repo := newMemRepository()
	repo.seed(1, models.DimensionPosts, 5, 25)
	repo.seed(1, models.DimensionSites, 1, entitlements.UnlimitedQuota)
	ledger := NewLedger(repo)

	statuses, err := ledger.GetQuotaStatus(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	posts := statuses[models.DimensionPosts]
	assert.Equal(t, 20, posts.PercentageUsed)
	assert.Equal(t, int64(20), posts.Remaining)

	sites := statuses[models.DimensionSites]
	assert.True(t, sites.Unlimited)
	assert.Equal(t, int64(-1), sites.Remaining)
	assert.Equal(t, 0, sites.PercentageUsed)
}

func TestApplyTierLimitsRewritesEveryDimension(t *testing.T) {
	repo := newMemRepository()
	ledger := NewLedger(repo)
	require.NoError(t, ledger.ProvisionDefaults(context.Background(), 1, entitlements.TierFree))

	require.NoError(t, ledger.ApplyTierLimits(context.Background(), 1, entitlements.TierPro))

	for _, dim := range models.AllDimensions() {
		q, err := repo.GetQuota(context.Background(), 1, dim)
		require.NoError(t, err)
		assert.Equal(t, entitlements.QuotaLimit(entitlements.TierPro, dim), q.QuotaLimit, string(dim))
	}
}

func TestApplyTierLimitsKeepsUsage(t *testing.T) {
	repo := newMemRepository()
	repo.seed(1, models.DimensionPosts, 400, 10_000)
	ledger := NewLedger(repo)

	// Downgrade below current usage: the counter stays, enforcement blocks
	// further increments.
	require.NoError(t, ledger.ApplyTierLimits(context.Background(), 1, entitlements.TierFree))

	q, err := repo.GetQuota(context.Background(), 1, models.DimensionPosts)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), q.CurrentUsage)
	assert.Equal(t, int64(25), q.QuotaLimit)

	_, err = ledger.IncrementQuota(context.Background(), 1, models.DimensionPosts, 1)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConflict))
}

func TestProvisionDefaultsIsIdempotent(t *testing.T) {
	repo := newMemRepository()
	ledger := NewLedger(repo)
	require.NoError(t, ledger.ProvisionDefaults(context.Background(), 1, entitlements.TierStarter))

	// Consume some quota, then provision again; existing rows must survive.
	_, err := ledger.IncrementQuota(context.Background(), 1, models.DimensionSites, 2)
	require.NoError(t, err)
	require.NoError(t, ledger.ProvisionDefaults(context.Background(), 1, entitlements.TierStarter))

	q, err := repo.GetQuota(context.Background(), 1, models.DimensionSites)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), q.CurrentUsage)
}

func TestResetPeriodZeroesCounter(t *testing.T) {
	repo := newMemRepository()
	repo.seed(1, models.DimensionAPICalls, 9_000, 10_000)
	ledger := NewLedger(repo)

	start := time.Now()
	end := start.AddDate(0, 1, 0)
	require.NoError(t, ledger.ResetPeriod(context.Background(), 1, models.DimensionAPICalls, &start, &end))

	q, err := repo.GetQuota(context.Background(), 1, models.DimensionAPICalls)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), q.CurrentUsage)
}
