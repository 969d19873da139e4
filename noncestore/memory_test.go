package noncestore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreReserveRelease(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ok, err := store.TryReserve(ctx, "0xAbC", "0x01")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TryReserve(ctx, "0xAbC", "0x01")
	require.NoError(t, err)
	assert.False(t, ok, "second reservation of the same pair must fail")

	// different nonce, same signer
	ok, err = store.TryReserve(ctx, "0xAbC", "0x02")
	require.NoError(t, err)
	assert.True(t, ok)

	// same nonce, different signer
	ok, err = store.TryReserve(ctx, "0xDeF", "0x01")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Release(ctx, "0xAbC", "0x01"))
	ok, err = store.TryReserve(ctx, "0xAbC", "0x01")
	require.NoError(t, err)
	assert.True(t, ok, "released pair is reservable again")
}

func TestMemoryStoreCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ok, err := store.TryReserve(ctx, "0xABCDEF", "0xAA")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TryReserve(ctx, "0xabcdef", "0xaa")
	require.NoError(t, err)
	assert.False(t, ok, "case variants of the same pair must collide")
}

func TestMemoryStoreConcurrentReservation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const callers = 100
	var wins atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.TryReserve(ctx, "0xabc", "0xn1")
			require.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load(), "exactly one caller may win the reservation")
}

func TestMemoryStoreConcurrentDistinctKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const callers = 50
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := store.TryReserve(ctx, "0xabc", fmt.Sprintf("0x%02d", n))
			require.NoError(t, err)
			assert.True(t, ok)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, callers, store.Len())
}
