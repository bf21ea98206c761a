package identity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

const owner = "6f1d3a52-5d8e-4a43-9a0c-0c6c1b1f7a01"

func TestTokenIsOwner(t *testing.T) {
	strict := TokenIsOwner{Strict: true}

	got, err := strict.ResolveOwner(context.Background(), "6F1D3A52-5D8E-4A43-9A0C-0C6C1B1F7A01")
	require.NoError(t, err)
	assert.Equal(t, owner, got)

	_, err = strict.ResolveOwner(context.Background(), "merchant")
	assert.ErrorIs(t, err, ErrUnknownToken)

	_, err = strict.ResolveOwner(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnknownToken)

	got, err = TokenIsOwner{}.ResolveOwner(context.Background(), "merchant")
	require.NoError(t, err)
	assert.Equal(t, "merchant", got)
}

type countingResolver struct {
	calls atomic.Int32
	owner string
	err   error
}

func (r *countingResolver) ResolveOwner(context.Context, string) (string, error) {
	r.calls.Add(1)
	return r.owner, r.err
}

func TestCachedRemembersSuccess(t *testing.T) {
	next := &countingResolver{owner: owner}
	cached := NewCached(next, 8, time.Minute)

	for range 3 {
		got, err := cached.ResolveOwner(context.Background(), "token")
		require.NoError(t, err)
		assert.Equal(t, owner, got)
	}
	assert.Equal(t, int32(1), next.calls.Load())

	cached.Purge()
	_, err := cached.ResolveOwner(context.Background(), "token")
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestCachedDoesNotRememberFailures(t *testing.T) {
	next := &countingResolver{err: ErrUnknownToken}
	cached := NewCached(next, 8, time.Minute)

	_, err := cached.ResolveOwner(context.Background(), "token")
	assert.ErrorIs(t, err, ErrUnknownToken)
	_, err = cached.ResolveOwner(context.Background(), "token")
	assert.ErrorIs(t, err, ErrUnknownToken)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestCachedEntriesExpire(t *testing.T) {
	next := &countingResolver{owner: owner}
	cached := NewCached(next, 8, 20*time.Millisecond)

	_, err := cached.ResolveOwner(context.Background(), "token")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, _ = cached.ResolveOwner(context.Background(), "token")
		return next.calls.Load() >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestMongoResolver(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	mt.Run("known token", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "notifygate.owner_tokens", mtest.FirstBatch, bson.D{
			{Key: "token", Value: "abc"},
			{Key: "owner_id", Value: "6F1D3A52-5D8E-4A43-9A0C-0C6C1B1F7A01"},
			{Key: "expires_at", Value: now.Add(time.Hour)},
		}))

		r := NewMongoResolver(mt.Coll, true)
		r.now = func() time.Time { return now }

		got, err := r.ResolveOwner(context.Background(), "abc")
		require.NoError(mt, err)
		assert.Equal(mt, owner, got)
	})

	mt.Run("unknown token", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "notifygate.owner_tokens", mtest.FirstBatch))

		_, err := NewMongoResolver(mt.Coll, true).ResolveOwner(context.Background(), "missing")
		assert.ErrorIs(mt, err, ErrUnknownToken)
	})

	mt.Run("expired token", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "notifygate.owner_tokens", mtest.FirstBatch, bson.D{
			{Key: "token", Value: "abc"},
			{Key: "owner_id", Value: owner},
			{Key: "expires_at", Value: now.Add(-time.Minute)},
		}))

		r := NewMongoResolver(mt.Coll, true)
		r.now = func() time.Time { return now }

		_, err := r.ResolveOwner(context.Background(), "abc")
		assert.ErrorIs(mt, err, ErrUnknownToken)
	})

	mt.Run("malformed owner", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "notifygate.owner_tokens", mtest.FirstBatch, bson.D{
			{Key: "token", Value: "abc"},
			{Key: "owner_id", Value: "not-a-uuid"},
		}))

		_, err := NewMongoResolver(mt.Coll, true).ResolveOwner(context.Background(), "abc")
		assert.ErrorIs(mt, err, ErrUnknownToken)
	})

	mt.Run("server error", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Message: "bad query",
			Name:    "BadValue",
		}))

		_, err := NewMongoResolver(mt.Coll, true).ResolveOwner(context.Background(), "abc")
		require.Error(mt, err)
		assert.False(mt, errors.Is(err, ErrUnknownToken))
	})

	mt.Run("blank token", func(mt *mtest.T) {
		_, err := NewMongoResolver(mt.Coll, true).ResolveOwner(context.Background(), "  ")
		assert.ErrorIs(mt, err, ErrUnknownToken)
	})
}
