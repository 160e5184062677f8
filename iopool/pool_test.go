package iopool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Get_Put(t *testing.T) {
	t.Run("get from empty pool allocates", func(t *testing.T) {
		p := NewPool()

		op, err := p.Get()
		require.NoError(t, err)
		require.NotNil(t, op)
		assert.Equal(t, 0, p.Count())
	})

	t.Run("put makes op available again", func(t *testing.T) {
		p := NewPool()

		op, err := p.Get()
		require.NoError(t, err)
		require.NoError(t, p.Put(op))
		assert.Equal(t, 1, p.Count())

		again, err := p.Get()
		require.NoError(t, err)
		assert.Same(t, op, again)
		assert.Equal(t, 0, p.Count())
	})

	t.Run("lifo order hands out most recently returned op", func(t *testing.T) {
		p := NewPool()

		first, _ := p.Get()
		second, _ := p.Get()
		require.NoError(t, p.Put(first))
		require.NoError(t, p.Put(second))

		op, err := p.Get()
		require.NoError(t, err)
		assert.Same(t, second, op)
	})

	t.Run("put resets the buffer binding", func(t *testing.T) {
		p := NewPool()

		op, _ := p.Get()
		op.Bind(make([]byte, 8))
		require.NoError(t, p.Put(op))

		again, _ := p.Get()
		assert.Nil(t, again.Buffer())
	})
}

func TestPool_ReuseProperty(t *testing.T) {
	t.Run("paired cycles after warmup observe one instance", func(t *testing.T) {
		p := NewPool()

		// Warmup: one op in the pool.
		warm, err := p.Get()
		require.NoError(t, err)
		require.NoError(t, p.Put(warm))

		distinct := make(map[*IOOp]struct{})
		for i := 0; i < 1000; i++ {
			op, err := p.Get()
			require.NoError(t, err)
			distinct[op] = struct{}{}
			require.NoError(t, p.Put(op))
		}

		assert.Len(t, distinct, 1)
	})
}

func TestPool_Dispose(t *testing.T) {
	t.Run("get and put fail after dispose", func(t *testing.T) {
		p := NewPool()
		op, _ := p.Get()
		require.NoError(t, p.Put(op))

		p.Dispose()

		_, err := p.Get()
		assert.ErrorIs(t, err, ErrDisposed)
		assert.ErrorIs(t, p.Put(&IOOp{}), ErrDisposed)
		assert.Equal(t, 0, p.Count())
	})

	t.Run("dispose is idempotent", func(t *testing.T) {
		p := NewPool()
		p.Dispose()
		p.Dispose()

		_, err := p.Get()
		assert.ErrorIs(t, err, ErrDisposed)
	})

	t.Run("in-flight op stays usable for its outstanding operation", func(t *testing.T) {
		p := NewPool()
		op, err := p.Get()
		require.NoError(t, err)

		p.Dispose()

		buf := make([]byte, 4)
		op.Bind(buf)
		assert.Equal(t, buf, op.Buffer())

		// The return is refused; the op is simply dropped.
		assert.ErrorIs(t, p.Put(op), ErrDisposed)
	})
}

func TestPool_Concurrent(t *testing.T) {
	t.Run("concurrent get and put do not race", func(t *testing.T) {
		p := NewPool()

		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 500; i++ {
					op, err := p.Get()
					if err != nil {
						return
					}
					op.Bind(make([]byte, 1))
					_ = p.Put(op)
				}
			}()
		}
		wg.Wait()

		assert.LessOrEqual(t, p.Count(), 8)
	})
}
