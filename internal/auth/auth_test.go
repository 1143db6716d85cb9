package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(now time.Time) (*Manager, *MemoryStore) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	mgr.now = func() time.Time { return now }
	return mgr, store
}

func TestIssueKey(t *testing.T) {
	mgr := NewManager(NewMemoryStore())

	raw, key, err := mgr.GenerateKey(context.Background(), "acct_1", "ci", false)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, KeyPrefix))
	assert.Len(t, raw, len(KeyPrefix)+64)
	assert.True(t, strings.HasPrefix(key.ID, "ak_"))
	assert.Equal(t, "acct_1", key.AccountID)
	assert.False(t, key.Admin)
	assert.Nil(t, key.ExpiresAt)
	assert.NotContains(t, key.Hash, raw)
}

func TestIssueKey_RequiresAccount(t *testing.T) {
	_, _, err := NewManager(NewMemoryStore()).IssueKey(context.Background(), KeyRequest{AccountID: " "})
	assert.Error(t, err)
}

func TestValidateKey(t *testing.T) {
	mgr := NewManager(NewMemoryStore())
	ctx := context.Background()
	raw, _, err := mgr.GenerateKey(ctx, "acct_1", "k", true)
	require.NoError(t, err)

	key, err := mgr.ValidateKey(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, Principal{AccountID: "acct_1", Admin: true, KeyID: key.ID}, key.Principal())

	_, err = mgr.ValidateKey(ctx, "Bearer "+raw)
	assert.NoError(t, err, "bearer scheme")

	tests := map[string]error{
		"":                  ErrNoAPIKey,
		"Bearer ":           ErrNoAPIKey,
		"sk_wrongprefix":    ErrInvalidAPIKey,
		KeyPrefix + "nope":  ErrInvalidAPIKey,
		"Bearer bf_unknown": ErrInvalidAPIKey,
	}
	for in, want := range tests {
		_, err := mgr.ValidateKey(ctx, in)
		assert.ErrorIs(t, err, want, "%q", in)
	}
}

func TestValidateKey_Expired(t *testing.T) {
	issued := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	mgr, _ := newTestManager(issued)
	ctx := context.Background()

	raw, key, err := mgr.IssueKey(ctx, KeyRequest{AccountID: "acct_1", TTL: time.Hour})
	require.NoError(t, err)
	require.NotNil(t, key.ExpiresAt)

	mgr.now = func() time.Time { return issued.Add(59 * time.Minute) }
	_, err = mgr.ValidateKey(ctx, raw)
	assert.NoError(t, err)

	mgr.now = func() time.Time { return issued.Add(time.Hour) }
	_, err = mgr.ValidateKey(ctx, raw)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestValidateKey_TouchesLastUsed(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	mgr, store := newTestManager(now)
	ctx := context.Background()
	raw, key, err := mgr.GenerateKey(ctx, "acct_1", "k", false)
	require.NoError(t, err)

	_, err = mgr.ValidateKey(ctx, raw)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		keys, _ := store.GetByAccount(ctx, "acct_1")
		return len(keys) == 1 && keys[0].ID == key.ID && keys[0].LastUsed.Equal(now)
	}, time.Second, 5*time.Millisecond)
}

func TestRevokeKey(t *testing.T) {
	mgr := NewManager(NewMemoryStore())
	ctx := context.Background()
	raw, key, err := mgr.GenerateKey(ctx, "acct_1", "k", false)
	require.NoError(t, err)

	assert.ErrorIs(t, mgr.RevokeKey(ctx, key.ID, "acct_2"), ErrKeyNotFound, "other account")
	require.NoError(t, mgr.RevokeKey(ctx, key.ID, "acct_1"))

	_, err = mgr.ValidateKey(ctx, raw)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestListKeys_NewestFirst(t *testing.T) {
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	mgr, _ := newTestManager(start)
	ctx := context.Background()

	_, _, _ = mgr.GenerateKey(ctx, "acct_1", "a", false)
	mgr.now = func() time.Time { return start.Add(time.Minute) }
	_, _, _ = mgr.GenerateKey(ctx, "acct_1", "b", false)
	_, _, _ = mgr.GenerateKey(ctx, "acct_2", "c", false)

	keys, err := mgr.ListKeys(ctx, "acct_1")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "b", keys[0].Name)
	assert.Equal(t, "a", keys[1].Name)
}

func TestPrincipal_Owns(t *testing.T) {
	p := Principal{AccountID: "acct_1"}
	assert.True(t, p.Owns("acct_1"))
	assert.False(t, p.Owns("acct_2"))
	assert.False(t, Principal{}.Owns(""))
	assert.True(t, System().Admin)
}
