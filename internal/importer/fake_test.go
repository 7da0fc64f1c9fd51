package importer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/wppimport/internal/helpdesk"
)

type contactKey struct {
	identifier string
	accountID  int64
}

type messageKey struct {
	conversationID int64
	createdAt      time.Time
}

type fakeConversation struct {
	id        int64
	accountID int64
	inboxID   int64
	contactID int64
	createdAt time.Time
	lastAt    time.Time
}

// fakeRepo is an in-memory helpdesk honoring the unique indexes the
// importers rely on.
type fakeRepo struct {
	mu sync.Mutex

	labels        map[string]bool
	tags          map[string]*helpdesk.Tag
	contacts      map[contactKey]*helpdesk.Contact
	conversations []*fakeConversation
	messages      map[messageKey]helpdesk.Message
	taggings      map[[2]int64]bool
	admins        map[int64]int64
	nextID        int64

	upsertCalls  int
	insertCalls  int
	failUpsertAt int
	failInsertAt int
	failLabel    error
	failTag      error

	// duringUpsert and duringInsert run at the start of each call, before
	// anything is written.
	duringUpsert func()
	duringInsert func()
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		labels:   make(map[string]bool),
		tags:     make(map[string]*helpdesk.Tag),
		contacts: make(map[contactKey]*helpdesk.Contact),
		messages: make(map[messageKey]helpdesk.Message),
		taggings: make(map[[2]int64]bool),
		admins:   make(map[int64]int64),
	}
}

func (f *fakeRepo) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeRepo) EnsureLabel(_ context.Context, accountID int64, title, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLabel != nil {
		return f.failLabel
	}
	f.labels[fmt.Sprintf("%s/%d", title, accountID)] = true
	return nil
}

func (f *fakeRepo) EnsureTag(_ context.Context, name string, n int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTag != nil {
		return 0, f.failTag
	}
	tag, ok := f.tags[name]
	if !ok {
		tag = &helpdesk.Tag{ID: f.id(), Name: name}
		f.tags[name] = tag
	}
	tag.TaggingsCount += n
	return tag.ID, nil
}

func (f *fakeRepo) UpsertContacts(_ context.Context, contacts []helpdesk.Contact) ([]int64, error) {
	if f.duringUpsert != nil {
		f.duringUpsert()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	if f.failUpsertAt == f.upsertCalls {
		return nil, errors.New("connection reset")
	}
	seen := make(map[contactKey]bool)
	ids := make([]int64, 0, len(contacts))
	for _, c := range contacts {
		key := contactKey{c.Identifier, c.AccountID}
		if seen[key] {
			return nil, errors.New("ON CONFLICT DO UPDATE command cannot affect row a second time")
		}
		seen[key] = true
		if existing, ok := f.contacts[key]; ok {
			existing.Name, existing.PhoneNumber, existing.UpdatedAt = c.Name, c.PhoneNumber, c.UpdatedAt
			ids = append(ids, existing.ID)
			continue
		}
		row := c
		row.ID = f.id()
		f.contacts[key] = &row
		ids = append(ids, row.ID)
	}
	return ids, nil
}

func (f *fakeRepo) TagContacts(_ context.Context, tagID int64, contactIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range contactIDs {
		f.taggings[[2]int64{tagID, id}] = true
	}
	return nil
}

func (f *fakeRepo) ActingUser(_ context.Context, accountID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.admins[accountID]; ok {
		return id, nil
	}
	return 0, helpdesk.ErrNotFound
}

func (f *fakeRepo) InsertMessages(_ context.Context, messages []helpdesk.Message) (int64, error) {
	if f.duringInsert != nil {
		f.duringInsert()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	if f.failInsertAt == f.insertCalls {
		return 0, errors.New("statement timeout")
	}
	var n int64
	for _, m := range messages {
		key := messageKey{m.ConversationID, m.CreatedAt}
		if _, ok := f.messages[key]; ok {
			continue
		}
		m.ID = f.id()
		f.messages[key] = m
		n++
	}
	return n, nil
}

func (f *fakeRepo) MessageSlots(_ context.Context, conversationIDs []int64, seconds []int64) ([]helpdesk.MessageSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []helpdesk.MessageSlot
	for _, m := range f.messages {
		if slices.Contains(conversationIDs, m.ConversationID) && slices.Contains(seconds, m.CreatedAt.Unix()) {
			out = append(out, helpdesk.MessageSlot{ConversationID: m.ConversationID, SourceID: m.SourceID, CreatedAt: m.CreatedAt})
		}
	}
	return out, nil
}

func (f *fakeRepo) TouchConversations(_ context.Context, lastActivity map[int64]time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conv := range f.conversations {
		if at, ok := lastActivity[conv.id]; ok && at.After(conv.lastAt) {
			conv.lastAt = at
		}
	}
	return nil
}

func (f *fakeRepo) LookupKeys(_ context.Context, accountID, inboxID int64, identifiers []string) (map[string]helpdesk.FkPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]helpdesk.FkPair)
	for _, identifier := range identifiers {
		contact, ok := f.contacts[contactKey{identifier, accountID}]
		if !ok {
			continue
		}
		if conv := f.conversationOf(contact.ID, accountID, inboxID); conv != nil {
			out[identifier] = helpdesk.FkPair{ContactID: contact.ID, ConversationID: conv.id}
		}
	}
	return out, nil
}

func (f *fakeRepo) GetOrCreatePair(_ context.Context, accountID, inboxID int64, key helpdesk.PhoneKey) (helpdesk.FkPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ck := contactKey{key.Identifier, accountID}
	contact, ok := f.contacts[ck]
	if !ok {
		contact = &helpdesk.Contact{
			ID:          f.id(),
			Name:        key.Name,
			PhoneNumber: key.Phone,
			Identifier:  key.Identifier,
			AccountID:   accountID,
			CreatedAt:   key.FirstAt,
			UpdatedAt:   key.FirstAt,
		}
		f.contacts[ck] = contact
	}
	conv := f.conversationOf(contact.ID, accountID, inboxID)
	if conv == nil {
		conv = &fakeConversation{id: f.id(), accountID: accountID, inboxID: inboxID, contactID: contact.ID, createdAt: key.FirstAt, lastAt: key.FirstAt}
		f.conversations = append(f.conversations, conv)
	}
	return helpdesk.FkPair{ContactID: contact.ID, ConversationID: conv.id}, nil
}

func (f *fakeRepo) conversationOf(contactID, accountID, inboxID int64) *fakeConversation {
	for _, conv := range f.conversations {
		if conv.contactID == contactID && conv.accountID == accountID && conv.inboxID == inboxID {
			return conv
		}
	}
	return nil
}

// messagesOf returns the committed messages of a conversation ordered by
// created_at.
func (f *fakeRepo) messagesOf(conversationID int64) []helpdesk.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []helpdesk.Message
	for _, m := range f.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (f *fakeRepo) contact(identifier string, accountID int64) *helpdesk.Contact {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contacts[contactKey{identifier, accountID}]
}
