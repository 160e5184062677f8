package framing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDelimiterFramer(t *testing.T) {
	t.Run("valid parameters", func(t *testing.T) {
		f, err := NewDelimiterFramer('\n', 1024)
		require.NoError(t, err)
		require.NotNil(t, f)
	})

	t.Run("zero max unframed is rejected", func(t *testing.T) {
		f, err := NewDelimiterFramer('\n', 0)
		assert.Error(t, err)
		assert.Nil(t, f)
	})

	t.Run("negative max unframed is rejected", func(t *testing.T) {
		_, err := NewDelimiterFramer('\n', -1)
		assert.Error(t, err)
	})
}

func TestDelimiterFramer_Feed_Next(t *testing.T) {
	t.Run("single message includes trailing delimiter", func(t *testing.T) {
		f, err := NewDelimiterFramer('\n', 1024)
		require.NoError(t, err)

		require.NoError(t, f.Feed([]byte("Hello, world!\n")))

		msg, ok := f.Next()
		assert.True(t, ok)
		assert.Equal(t, "Hello, world!\n", msg)

		_, ok = f.Next()
		assert.False(t, ok)
	})

	t.Run("no message until delimiter arrives", func(t *testing.T) {
		f, err := NewDelimiterFramer('\n', 1024)
		require.NoError(t, err)

		require.NoError(t, f.Feed([]byte("First half of message")))
		_, ok := f.Next()
		assert.False(t, ok)

		require.NoError(t, f.Feed([]byte(" and second half\n")))
		msg, ok := f.Next()
		assert.True(t, ok)
		assert.Equal(t, "First half of message and second half\n", msg)
	})

	t.Run("multiple messages in one feed drain in order", func(t *testing.T) {
		f, err := NewDelimiterFramer('\n', 1024)
		require.NoError(t, err)

		require.NoError(t, f.Feed([]byte("Message1\nMessage2\nMessage3\n")))

		var got []string
		for {
			msg, ok := f.Next()
			if !ok {
				break
			}
			got = append(got, msg)
		}

		assert.Equal(t, []string{"Message1\n", "Message2\n", "Message3\n"}, got)
	})

	t.Run("delimiter at position zero yields one-character message", func(t *testing.T) {
		f, err := NewDelimiterFramer('\n', 1024)
		require.NoError(t, err)

		require.NoError(t, f.Feed([]byte("\nrest")))

		msg, ok := f.Next()
		assert.True(t, ok)
		assert.Equal(t, "\n", msg)

		_, ok = f.Next()
		assert.False(t, ok)
	})

	t.Run("empty feed is a no-op", func(t *testing.T) {
		f, err := NewDelimiterFramer('\n', 4)
		require.NoError(t, err)

		require.NoError(t, f.Feed(nil))
		require.NoError(t, f.Feed([]byte{}))
		_, ok := f.Next()
		assert.False(t, ok)
	})

	t.Run("byte stream split at arbitrary points reassembles", func(t *testing.T) {
		f, err := NewDelimiterFramer('\n', 1024)
		require.NoError(t, err)

		stream := []byte("alpha\nbeta\ngamma\n")
		for _, b := range stream {
			require.NoError(t, f.Feed([]byte{b}))
		}

		var got []string
		for {
			msg, ok := f.Next()
			if !ok {
				break
			}
			got = append(got, msg)
		}

		assert.Equal(t, []string{"alpha\n", "beta\n", "gamma\n"}, got)
	})

	t.Run("custom delimiter", func(t *testing.T) {
		f, err := NewDelimiterFramer(';', 64)
		require.NoError(t, err)

		require.NoError(t, f.Feed([]byte("a;b;")))

		msg, ok := f.Next()
		assert.True(t, ok)
		assert.Equal(t, "a;", msg)

		msg, ok = f.Next()
		assert.True(t, ok)
		assert.Equal(t, "b;", msg)
	})

	t.Run("invalid utf-8 is replaced without failing", func(t *testing.T) {
		f, err := NewDelimiterFramer('\n', 64)
		require.NoError(t, err)

		require.NoError(t, f.Feed([]byte{'a', 0xff, 'b', '\n'}))

		msg, ok := f.Next()
		assert.True(t, ok)
		assert.Equal(t, "a�b\n", msg)
	})
}

func TestDelimiterFramer_Overflow(t *testing.T) {
	t.Run("max unframed plus one without delimiter overflows", func(t *testing.T) {
		f, err := NewDelimiterFramer('\n', 1024)
		require.NoError(t, err)

		err = f.Feed([]byte(strings.Repeat("A", 1025)))
		assert.ErrorIs(t, err, ErrOverflow)
	})

	t.Run("exactly max unframed bytes does not overflow", func(t *testing.T) {
		f, err := NewDelimiterFramer('\n', 1024)
		require.NoError(t, err)

		assert.NoError(t, f.Feed([]byte(strings.Repeat("A", 1024))))
	})

	t.Run("oversized buffer with a delimiter does not overflow", func(t *testing.T) {
		f, err := NewDelimiterFramer('\n', 8)
		require.NoError(t, err)

		require.NoError(t, f.Feed([]byte("1234\n"+strings.Repeat("B", 8))))

		msg, ok := f.Next()
		assert.True(t, ok)
		assert.Equal(t, "1234\n", msg)
	})

	t.Run("framer stays poisoned after overflow", func(t *testing.T) {
		f, err := NewDelimiterFramer('\n', 4)
		require.NoError(t, err)

		require.ErrorIs(t, f.Feed([]byte("toolong")), ErrOverflow)
		assert.ErrorIs(t, f.Feed([]byte("x\n")), ErrOverflow)
		assert.ErrorIs(t, f.Feed(nil), ErrOverflow)
	})
}

func TestNewDelimiterFramerFactory(t *testing.T) {
	t.Run("invalid configuration is rejected", func(t *testing.T) {
		_, err := NewDelimiterFramerFactory('\n', 0)
		assert.Error(t, err)
	})

	t.Run("framers have private buffers", func(t *testing.T) {
		factory, err := NewDelimiterFramerFactory('\n', 64)
		require.NoError(t, err)

		f1 := factory.NewFramer()
		f2 := factory.NewFramer()
		require.NoError(t, f1.Feed([]byte("only one\n")))

		_, ok := f2.Next()
		assert.False(t, ok)

		msg, ok := f1.Next()
		assert.True(t, ok)
		assert.Equal(t, "only one\n", msg)
	})
}
