package helpdesk_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wppimport/internal/helpdesk"
	"github.com/matheus3301/wppimport/internal/helpdesk/helpdesktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contactRow(identifier, name string) helpdesk.Contact {
	now := time.Now().UTC()
	return helpdesk.Contact{
		Name:        name,
		PhoneNumber: "+" + identifier[:3],
		Identifier:  identifier,
		AccountID:   1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestRepository_UpsertContactsIdempotent(t *testing.T) {
	db := helpdesktest.DB(t)
	repo := helpdesk.NewRepository(db)
	ctx := context.Background()

	first, err := repo.UpsertContacts(ctx, []helpdesk.Contact{
		contactRow("100@s.whatsapp.net", "Alice"),
		contactRow("200@s.whatsapp.net", "Bob"),
	})
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := repo.UpsertContacts(ctx, []helpdesk.Contact{
		contactRow("100@s.whatsapp.net", "Alice Cooper"),
		contactRow("200@s.whatsapp.net", "Bob"),
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, first, second)
	assert.Equal(t, 2, helpdesktest.Count(t, db, "contacts", ""))
	assert.Equal(t, 1, helpdesktest.Count(t, db, "contacts", "name = ?", "Alice Cooper"))

	empty, err := repo.UpsertContacts(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRepository_EnsureLabel(t *testing.T) {
	db := helpdesktest.DB(t)
	repo := helpdesk.NewRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.EnsureLabel(ctx, 1, "acme", "#1F93FF"))
	require.NoError(t, repo.EnsureLabel(ctx, 1, "acme", "#1F93FF"))
	require.NoError(t, repo.EnsureLabel(ctx, 2, "acme", "#1F93FF"))

	assert.Equal(t, 2, helpdesktest.Count(t, db, "labels", "title = ?", "acme"))
}

func TestRepository_EnsureLabelConcurrent(t *testing.T) {
	db := helpdesktest.DB(t)
	repo := helpdesk.NewRepository(db)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = repo.EnsureLabel(context.Background(), 1, "race", "#000000")
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, helpdesktest.Count(t, db, "labels", "title = ?", "race"))
}

func TestRepository_EnsureTagIncrementsCount(t *testing.T) {
	db := helpdesktest.DB(t)
	repo := helpdesk.NewRepository(db)
	ctx := context.Background()

	id1, err := repo.EnsureTag(ctx, "acme", 2)
	require.NoError(t, err)
	id2, err := repo.EnsureTag(ctx, "acme", 3)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	var count int
	require.NoError(t, db.NewRaw("SELECT taggings_count FROM tags WHERE id = ?", id1).Scan(ctx, &count))
	assert.Equal(t, 5, count)
}

func TestRepository_TagContacts(t *testing.T) {
	db := helpdesktest.DB(t)
	repo := helpdesk.NewRepository(db)
	ctx := context.Background()

	ids, err := repo.UpsertContacts(ctx, []helpdesk.Contact{contactRow("100@s.whatsapp.net", "Alice")})
	require.NoError(t, err)
	tagID, err := repo.EnsureTag(ctx, "acme", 1)
	require.NoError(t, err)

	require.NoError(t, repo.TagContacts(ctx, tagID, ids))
	require.NoError(t, repo.TagContacts(ctx, tagID, ids))
	require.NoError(t, repo.TagContacts(ctx, tagID, nil))

	assert.Equal(t, 1, helpdesktest.Count(t, db, "taggings", "taggable_type = 'Contact' AND taggable_id = ?", ids[0]))
}

func TestRepository_ActingUser(t *testing.T) {
	db := helpdesktest.DB(t)
	repo := helpdesk.NewRepository(db)
	ctx := context.Background()

	_, err := repo.ActingUser(ctx, 1)
	require.ErrorIs(t, err, helpdesk.ErrNotFound)

	helpdesktest.AddAgent(t, db, 1, "agent@example.com")
	_, err = repo.ActingUser(ctx, 1)
	require.ErrorIs(t, err, helpdesk.ErrNotFound)

	first := helpdesktest.AddAdministrator(t, db, 1, "admin@example.com")
	helpdesktest.AddAdministrator(t, db, 1, "admin2@example.com")

	got, err := repo.ActingUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

func TestRepository_GetOrCreatePairAndLookup(t *testing.T) {
	db := helpdesktest.DB(t)
	repo := helpdesk.NewRepository(db)
	ctx := context.Background()
	key := helpdesk.PhoneKey{Phone: "+100", Identifier: "100@s.whatsapp.net", Name: "Alice", FirstAt: time.Unix(1700000000, 0)}

	pair, err := repo.GetOrCreatePair(ctx, 1, 5, key)
	require.NoError(t, err)
	again, err := repo.GetOrCreatePair(ctx, 1, 5, key)
	require.NoError(t, err)
	assert.Equal(t, pair, again)

	var createdAt time.Time
	require.NoError(t, db.NewRaw("SELECT created_at FROM conversations WHERE id = ?", pair.ConversationID).Scan(ctx, &createdAt))
	assert.Equal(t, int64(1700000000), createdAt.Unix())

	found, err := repo.LookupKeys(ctx, 1, 5, []string{key.Identifier, "999@s.whatsapp.net"})
	require.NoError(t, err)
	assert.Equal(t, map[string]helpdesk.FkPair{key.Identifier: pair}, found)

	other, err := repo.LookupKeys(ctx, 1, 6, []string{key.Identifier})
	require.NoError(t, err)
	assert.Empty(t, other, "conversation of another inbox must not match")

	inOtherInbox, err := repo.GetOrCreatePair(ctx, 1, 6, key)
	require.NoError(t, err)
	assert.Equal(t, pair.ContactID, inOtherInbox.ContactID)
	assert.NotEqual(t, pair.ConversationID, inOtherInbox.ConversationID)
}

func TestRepository_GetOrCreatePairReusesExistingContact(t *testing.T) {
	db := helpdesktest.DB(t)
	repo := helpdesk.NewRepository(db)
	ctx := context.Background()

	ids, err := repo.UpsertContacts(ctx, []helpdesk.Contact{contactRow("100@s.whatsapp.net", "Alice")})
	require.NoError(t, err)

	pair, err := repo.GetOrCreatePair(ctx, 1, 5, helpdesk.PhoneKey{Phone: "+100", Identifier: "100@s.whatsapp.net", FirstAt: time.Unix(1, 0)})
	require.NoError(t, err)
	assert.Equal(t, ids[0], pair.ContactID)
	assert.Equal(t, 1, helpdesktest.Count(t, db, "contacts", ""))
	assert.Equal(t, 1, helpdesktest.Count(t, db, "contacts", "name = ?", "Alice"), "existing name is kept")
}

func TestRepository_GetOrCreatePairConcurrent(t *testing.T) {
	db := helpdesktest.DB(t)
	repo := helpdesk.NewRepository(db)
	key := helpdesk.PhoneKey{Phone: "+300", Identifier: "300@s.whatsapp.net", Name: "Carol", FirstAt: time.Unix(1700000000, 0)}

	const workers = 8
	pairs := make([]helpdesk.FkPair, workers)
	errs := make([]error, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			pairs[i], errs[i] = repo.GetOrCreatePair(context.Background(), 1, 5, key)
		}()
	}
	close(start)
	wg.Wait()

	for i := range workers {
		require.NoError(t, errs[i])
		assert.Equal(t, pairs[0], pairs[i])
	}
	assert.Equal(t, 1, helpdesktest.Count(t, db, "contacts", "identifier = ?", key.Identifier))
	assert.Equal(t, 1, helpdesktest.Count(t, db, "conversations", "contact_id = ?", pairs[0].ContactID))
}

func TestSQLResolver_ConcurrentResolvers(t *testing.T) {
	db := helpdesktest.DB(t)
	repo := helpdesk.NewRepository(db)
	req := helpdesk.ResolveRequest{AccountID: 1, InboxID: 5, Keys: []helpdesk.PhoneKey{
		{Phone: "+100", Identifier: "100@s.whatsapp.net", FirstAt: time.Unix(1000, 0)},
		{Phone: "+200", Identifier: "200@s.whatsapp.net", FirstAt: time.Unix(2000, 0)},
	}}

	results := make([]map[string]helpdesk.FkPair, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			results[i], err = helpdesk.NewSQLResolver(repo, nil).Resolve(context.Background(), req)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, results[0], results[1])
	assert.Len(t, results[0], 2)
	assert.Equal(t, 2, helpdesktest.Count(t, db, "contacts", ""))
	assert.Equal(t, 2, helpdesktest.Count(t, db, "conversations", ""))
}

func TestRepository_InsertMessagesAndTouch(t *testing.T) {
	db := helpdesktest.DB(t)
	repo := helpdesk.NewRepository(db)
	ctx := context.Background()

	pair, err := repo.GetOrCreatePair(ctx, 1, 5, helpdesk.PhoneKey{Phone: "+100", Identifier: "100@s.whatsapp.net", FirstAt: time.Unix(1000, 0)})
	require.NoError(t, err)

	rows := []helpdesk.Message{
		{Content: "hi", AccountID: 1, InboxID: 5, ConversationID: pair.ConversationID, MessageType: helpdesk.MessageIncoming, SenderType: helpdesk.SenderContact, SenderID: pair.ContactID, SourceID: "WAID:a", CreatedAt: time.Unix(1000, 0).UTC(), UpdatedAt: time.Unix(1000, 0).UTC()},
		{Content: "yo", AccountID: 1, InboxID: 5, ConversationID: pair.ConversationID, MessageType: helpdesk.MessageIncoming, SenderType: helpdesk.SenderContact, SenderID: pair.ContactID, SourceID: "WAID:b", CreatedAt: time.Unix(1060, 0).UTC(), UpdatedAt: time.Unix(1060, 0).UTC()},
	}
	n, err := repo.InsertMessages(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.InsertMessages(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.Equal(t, 2, helpdesktest.Count(t, db, "messages", ""))

	require.NoError(t, repo.TouchConversations(ctx, map[int64]time.Time{pair.ConversationID: time.Unix(1060, 0)}))
	require.NoError(t, repo.TouchConversations(ctx, map[int64]time.Time{pair.ConversationID: time.Unix(500, 0)}))

	var last time.Time
	require.NoError(t, db.NewRaw("SELECT last_activity_at FROM conversations WHERE id = ?", pair.ConversationID).Scan(ctx, &last))
	assert.Equal(t, int64(1060), last.Unix())
}

func TestRepository_MessageSlots(t *testing.T) {
	db := helpdesktest.DB(t)
	repo := helpdesk.NewRepository(db)
	ctx := context.Background()

	pair, err := repo.GetOrCreatePair(ctx, 1, 5, helpdesk.PhoneKey{Phone: "+100", Identifier: "100@s.whatsapp.net", FirstAt: time.Unix(1000, 0)})
	require.NoError(t, err)
	at := time.Unix(1000, 0).UTC()
	_, err = repo.InsertMessages(ctx, []helpdesk.Message{
		{Content: "a", AccountID: 1, InboxID: 5, ConversationID: pair.ConversationID, SenderType: helpdesk.SenderContact, SourceID: "WAID:a", CreatedAt: at, UpdatedAt: at},
		{Content: "b", AccountID: 1, InboxID: 5, ConversationID: pair.ConversationID, SenderType: helpdesk.SenderContact, SourceID: "WAID:b", CreatedAt: at.Add(time.Microsecond), UpdatedAt: at},
		{Content: "c", AccountID: 1, InboxID: 5, ConversationID: pair.ConversationID, SenderType: helpdesk.SenderContact, SourceID: "WAID:c", CreatedAt: at.Add(time.Second), UpdatedAt: at},
	})
	require.NoError(t, err)

	slots, err := repo.MessageSlots(ctx, []int64{pair.ConversationID}, []int64{1000})
	require.NoError(t, err)
	require.Len(t, slots, 2)
	offsets := map[string]int64{}
	for _, s := range slots {
		offsets[s.SourceID] = s.CreatedAt.Sub(at).Microseconds()
	}
	assert.Equal(t, map[string]int64{"WAID:a": 0, "WAID:b": 1}, offsets)

	slots, err = repo.MessageSlots(ctx, []int64{pair.ConversationID + 1}, []int64{1000})
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestRepository_GetOrCreatePairLargeAccountID(t *testing.T) {
	db := helpdesktest.DB(t)
	repo := helpdesk.NewRepository(db)
	const account = int64(1) << 33

	pair, err := repo.GetOrCreatePair(context.Background(), account, 5, helpdesk.PhoneKey{Phone: "+100", Identifier: "100@s.whatsapp.net", FirstAt: time.Unix(1, 0)})
	require.NoError(t, err)
	assert.NotZero(t, pair.ConversationID)
	assert.Equal(t, 1, helpdesktest.Count(t, db, "contacts", "account_id = ?", account))
}
