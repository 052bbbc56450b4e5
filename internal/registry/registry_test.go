package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/quire/pkg/types"
)

func TestRegisterStripsQualifiers(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(types.MustParseIdentifier("shop-feature-cart-flow-pay:ph-1"), "cart"))
	require.NoError(t, r.Register(types.MustParseIdentifier("shop-feature-cart-flow-pay:ph-2:inst-charge"), "cart"))

	assert.Equal(t, 1, r.Len())
	assert.True(t, r.Contains(types.MustParseIdentifier("shop-feature-cart-flow-pay")))

	e, ok := r.Lookup(types.MustParseIdentifier("shop-feature-cart-flow-pay:ph-9"))
	require.True(t, ok)
	assert.Equal(t, "cart", e.Owner)
	assert.Equal(t, uint(0), e.ID.Phase)
}

func TestRegisterDuplicateOwner(t *testing.T) {
	r := New()
	id := types.MustParseIdentifier("shop-feature-cart-req-login")
	require.NoError(t, r.Register(id, "features/cart/spec.md"))

	err := r.Register(id, "features/auth/spec.md")
	assert.ErrorIs(t, err, ErrDuplicateIdentifier)
}

func TestRegisterConcurrent(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for f := 0; f < 8; f++ {
		wg.Add(1)
		go func(f int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := types.MustParseIdentifier(fmt.Sprintf("shop-feature-f%d-req-r%d", f, i))
				assert.NoError(t, r.Register(id, fmt.Sprintf("f%d", f)))
			}
		}(f)
	}
	wg.Wait()

	assert.Equal(t, 400, r.Len())
	entries := r.Entries()
	assert.Equal(t, "shop-feature-f0-req-r0", entries[0].ID.String())
}
