// Package staging accumulates contacts and messages per tenant until an import
// cycle commits them. Nothing here is persisted.
package staging

import (
	"cmp"
	"slices"
	"sync"
)

type bucket struct {
	contacts []Contact
	messages []Message
	seen     map[string]struct{}
}

// Store maps a tenant to its staged contacts and messages plus the set of
// message ids already seen by the capture side. Different tenants may be used
// concurrently; callers serialize import cycles of the same tenant.
type Store struct {
	mu      sync.Mutex
	tenants map[string]*bucket
}

// New creates an empty staging store.
func New() *Store {
	return &Store{tenants: make(map[string]*bucket)}
}

func (s *Store) bucket(tenant string) *bucket {
	b, ok := s.tenants[tenant]
	if !ok {
		b = &bucket{seen: make(map[string]struct{})}
		s.tenants[tenant] = b
	}
	return b
}

// AppendContacts appends contacts to the tenant's staged contacts.
func (s *Store) AppendContacts(tenant string, contacts ...Contact) {
	if len(contacts) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(tenant)
	b.contacts = append(b.contacts, contacts...)
}

// AppendMessages appends messages to the tenant's staged messages.
func (s *Store) AppendMessages(tenant string, messages ...Message) {
	if len(messages) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(tenant)
	b.messages = append(b.messages, messages...)
}

// Contacts returns a copy of the tenant's staged contacts in insertion order.
func (s *Store) Contacts(tenant string) []Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.tenants[tenant]; ok {
		return slices.Clone(b.contacts)
	}
	return nil
}

// Messages returns a copy of the tenant's staged messages in insertion order.
func (s *Store) Messages(tenant string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.tenants[tenant]; ok {
		return slices.Clone(b.messages)
	}
	return nil
}

// ContactCount returns the number of staged contacts for tenant.
func (s *Store) ContactCount(tenant string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.tenants[tenant]; ok {
		return len(b.contacts)
	}
	return 0
}

// MessageCount returns the number of staged messages for tenant. A non-zero
// count means a message import is pending or in flight.
func (s *Store) MessageCount(tenant string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.tenants[tenant]; ok {
		return len(b.messages)
	}
	return 0
}

// ClearContacts drops the tenant's staged contacts.
func (s *Store) ClearContacts(tenant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.tenants[tenant]; ok {
		b.contacts = nil
	}
}

// ClearMessages drops the tenant's staged messages. The seen set is kept so
// re-delivered messages are still recognized.
func (s *Store) ClearMessages(tenant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.tenants[tenant]; ok {
		b.messages = nil
	}
}

// DropContacts removes the first n staged contacts of tenant, keeping
// anything staged after them. n larger than the staged count drops all.
func (s *Store) DropContacts(tenant string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.tenants[tenant]; ok {
		b.contacts = dropFront(b.contacts, n)
	}
}

// DropMessages removes the first n staged messages of tenant. Messages
// staged after them and the seen set are kept.
func (s *Store) DropMessages(tenant string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.tenants[tenant]; ok {
		b.messages = dropFront(b.messages, n)
	}
}

func dropFront[T any](s []T, n int) []T {
	if n >= len(s) {
		return nil
	}
	if n <= 0 {
		return s
	}
	return slices.Clone(s[n:])
}

// TakeMessages removes and returns the tenant's staged messages. Used to set
// messages aside while contacts are imported; return them with
// RestoreMessages.
func (s *Store) TakeMessages(tenant string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.tenants[tenant]
	if !ok {
		return nil
	}
	out := b.messages
	b.messages = nil
	return out
}

// RestoreMessages puts messages back in front of anything staged since they
// were taken.
func (s *Store) RestoreMessages(tenant string, messages []Message) {
	if len(messages) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(tenant)
	b.messages = append(slices.Clip(messages), b.messages...)
}

// ClearAll forgets everything staged for tenant, including the seen set.
func (s *Store) ClearAll(tenant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tenants, tenant)
}

// MarkSeen records a message id for tenant and reports whether it was new.
func (s *Store) MarkSeen(tenant, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(tenant)
	if _, ok := b.seen[messageID]; ok {
		return false
	}
	b.seen[messageID] = struct{}{}
	return true
}

// Snapshot returns staged counts for every tenant, sorted by tenant.
func (s *Store) Snapshot() []Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Counts, 0, len(s.tenants))
	for name, b := range s.tenants {
		out = append(out, Counts{Tenant: name, Contacts: len(b.contacts), Messages: len(b.messages)})
	}
	slices.SortFunc(out, func(a, b Counts) int { return cmp.Compare(a.Tenant, b.Tenant) })
	return out
}
