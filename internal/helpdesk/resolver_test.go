package helpdesk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePairStore struct {
	existing  map[string]FkPair
	lookupErr error
	failing   map[string]bool
	created   []PhoneKey
	nextID    int64
}

func (f *fakePairStore) LookupKeys(_ context.Context, _, _ int64, identifiers []string) (map[string]FkPair, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	out := make(map[string]FkPair)
	for _, id := range identifiers {
		if pair, ok := f.existing[id]; ok {
			out[id] = pair
		}
	}
	return out, nil
}

func (f *fakePairStore) GetOrCreatePair(_ context.Context, _, _ int64, key PhoneKey) (FkPair, error) {
	if f.failing[key.Identifier] {
		return FkPair{}, errors.New("boom")
	}
	f.created = append(f.created, key)
	f.nextID++
	pair := FkPair{ContactID: 100 + f.nextID, ConversationID: 200 + f.nextID}
	if f.existing == nil {
		f.existing = make(map[string]FkPair)
	}
	f.existing[key.Identifier] = pair
	return pair, nil
}

func keys(phones ...string) []PhoneKey {
	out := make([]PhoneKey, 0, len(phones))
	for _, p := range phones {
		out = append(out, PhoneKey{Phone: "+" + p, Identifier: p + "@s.whatsapp.net", Name: p, FirstAt: time.Unix(1700000000, 0)})
	}
	return out
}

func TestSQLResolver_ReusesHitsAndCreatesMisses(t *testing.T) {
	store := &fakePairStore{existing: map[string]FkPair{
		"100@s.whatsapp.net": {ContactID: 1, ConversationID: 2},
	}}
	r := NewSQLResolver(store, nil)

	got, err := r.Resolve(context.Background(), ResolveRequest{AccountID: 1, InboxID: 1, Keys: keys("100", "200")})
	require.NoError(t, err)
	assert.Equal(t, FkPair{ContactID: 1, ConversationID: 2}, got["+100"])
	assert.Equal(t, FkPair{ContactID: 101, ConversationID: 201}, got["+200"])
	require.Len(t, store.created, 1)
	assert.Equal(t, "200@s.whatsapp.net", store.created[0].Identifier)
}

func TestSQLResolver_OmitsFailedNumbers(t *testing.T) {
	store := &fakePairStore{failing: map[string]bool{"200@s.whatsapp.net": true}}
	r := NewSQLResolver(store, nil)

	got, err := r.Resolve(context.Background(), ResolveRequest{AccountID: 1, InboxID: 1, Keys: keys("100", "200")})
	require.NoError(t, err)
	assert.Contains(t, got, "+100")
	assert.NotContains(t, got, "+200")
}

func TestSQLResolver_LookupFailureFallsBackToCreate(t *testing.T) {
	store := &fakePairStore{lookupErr: errors.New("connection reset")}
	r := NewSQLResolver(store, nil)

	got, err := r.Resolve(context.Background(), ResolveRequest{AccountID: 1, InboxID: 1, Keys: keys("100")})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLResolver_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSQLResolver(&fakePairStore{}, nil).Resolve(ctx, ResolveRequest{Keys: keys("100")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSQLResolver_Empty(t *testing.T) {
	got, err := NewSQLResolver(&fakePairStore{}, nil).Resolve(context.Background(), ResolveRequest{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
