package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-purchases-api/internal/domain"
	"github.com/tbourn/go-purchases-api/internal/repo"
)

func newPurchase(id, user string) *domain.Purchase {
	return domain.NewPurchase(id, user, []domain.PurchaseItem{{ProductID: "p-" + id, Price: 2, Quantity: 1}}, time.Now())
}

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Create(ctx, newPurchase("1", "u1")))
	require.NoError(t, s.Create(ctx, newPurchase("2", "u2")))
	assert.Equal(t, 2, s.Len())

	got, err := s.GetByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	upd := domain.NewPurchase("1", "u9", []domain.PurchaseItem{{ProductID: "x", Price: 1, Quantity: 3}}, got.CreatedAt)
	require.NoError(t, s.Update(ctx, upd))

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "1", all[0].ID, "update keeps position")
	assert.Equal(t, "u9", all[0].UserID)
	assert.Equal(t, 3.0, all[0].Total)

	require.NoError(t, s.Delete(ctx, "1"))
	_, err = s.GetByID(ctx, "1")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.Equal(t, 1, s.Len())
}

func TestStore_MissingRecords(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, newPurchase("nope", "u")), repo.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "nope"), repo.ErrNotFound)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestStore_InsertionOrderAfterDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, id := range []string{"c", "a", "d", "b"} {
		require.NoError(t, s.Create(ctx, newPurchase(id, "u")))
	}
	require.NoError(t, s.Delete(ctx, "a"))

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, p := range all {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"c", "d", "b"}, ids)
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	in := newPurchase("1", "u1")
	require.NoError(t, s.Create(ctx, in))

	// Mutating the input after Create must not leak into the store.
	in.UserID = "hacked"
	in.Items[0].ProductID = "hacked"

	got, err := s.GetByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "p-1", got.Items[0].ProductID)

	// Mutating a returned record must not leak either.
	got.Items[0].ProductID = "hacked"
	again, err := s.GetByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", again.Items[0].ProductID)
}

func TestStore_HonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New()

	assert.ErrorIs(t, s.Create(ctx, newPurchase("1", "u")), context.Canceled)
	_, err := s.GetByID(ctx, "1")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.ListAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Len())
}

func TestStore_ConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	s := New()

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_ = s.Create(ctx, newPurchase(fmt.Sprintf("id-%d", i), "u"))
			_, _ = s.ListAll(ctx)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, s.Len())
	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	seen := make(map[string]bool, n)
	for _, p := range all {
		assert.False(t, seen[p.ID], "duplicate id %s", p.ID)
		seen[p.ID] = true
	}
}
