package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealedKVRoundTrip(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryKV()

	sealed, err := NewSealedKV(ctx, inner, "correct horse")
	require.NoError(t, err)

	require.NoError(t, sealed.Set(ctx, "sessions/a", []byte(`{"secret":true}`)))

	raw, err := inner.Get(ctx, "sessions/a")
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), "secret"), "plaintext must not reach the inner store")

	got, err := sealed.Get(ctx, "sessions/a")
	require.NoError(t, err)
	assert.Equal(t, `{"secret":true}`, string(got))

	keys, err := sealed.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"sessions/a"}, keys, "salt and check value stay hidden")
}

func TestSealedKVReopenWithSamePassphrase(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryKV()

	first, err := NewSealedKV(ctx, inner, "pass")
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "k", []byte("v")))

	second, err := NewSealedKV(ctx, inner, "pass")
	require.NoError(t, err)
	got, err := second.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
}

func rawBlobs(t *testing.T, kv Backend) map[string]string {
	t.Helper()
	ctx := context.Background()
	keys, err := kv.Keys(ctx, "")
	require.NoError(t, err)
	blobs := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := kv.Get(ctx, k)
		require.NoError(t, err)
		blobs[k] = string(v)
	}
	return blobs
}

func TestSealedKVRejectsWrongPassphrase(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(t *testing.T, inner Backend)
	}{
		{
			name: "check value present",
			setup: func(t *testing.T, inner Backend) {
				sealed, err := NewSealedKV(ctx, inner, "pass")
				require.NoError(t, err)
				require.NoError(t, sealed.Set(ctx, "active-session-id", []byte("abc")))
			},
		},
		{
			name: "store sealed without a check value",
			setup: func(t *testing.T, inner Backend) {
				sealed, err := NewSealedKV(ctx, inner, "pass")
				require.NoError(t, err)
				require.NoError(t, sealed.Set(ctx, "sessions/a", []byte(`{"id":"a"}`)))
				require.NoError(t, inner.Delete(ctx, checkKey))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := NewMemoryKV()
			tt.setup(t, inner)
			before := rawBlobs(t, inner)

			_, err := NewSealedKV(ctx, inner, "other")
			assert.ErrorIs(t, err, ErrWrongPassphrase)
			assert.Equal(t, before, rawBlobs(t, inner), "nothing is rewritten")

			again, err := NewSealedKV(ctx, inner, "pass")
			require.NoError(t, err)
			keys, err := again.Keys(ctx, "")
			require.NoError(t, err)
			for _, k := range keys {
				_, err := again.Get(ctx, k)
				assert.NoError(t, err, "key %s still opens with the right passphrase", k)
			}
		})
	}
}

func TestSealedKVBindsKey(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryKV()
	sealed, err := NewSealedKV(ctx, inner, "pass")
	require.NoError(t, err)

	require.NoError(t, sealed.Set(ctx, "a", []byte("v")))
	raw, err := inner.Get(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, inner.Set(ctx, "b", raw))

	_, err = sealed.Get(ctx, "b")
	assert.Error(t, err, "blob moved to another key must not decrypt")

	require.NoError(t, inner.Set(ctx, "plain", []byte("{}")))
	_, err = sealed.Get(ctx, "plain")
	assert.Error(t, err)

	assert.Error(t, sealed.Set(ctx, saltKey, []byte("x")))
	assert.Error(t, sealed.Delete(ctx, checkKey))
	_, err = NewSealedKV(ctx, inner, "")
	assert.Error(t, err)
}
