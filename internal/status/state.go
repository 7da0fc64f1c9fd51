package status

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/wppimport/internal/bus"
)

// Phase is the import phase of one tenant.
type Phase string

const (
	Idle              Phase = "IDLE"
	ImportingContacts Phase = "IMPORTING_CONTACTS"
	ImportingMessages Phase = "IMPORTING_MESSAGES"
	Failed            Phase = "FAILED"
)

var validTransitions = map[Phase][]Phase{
	Idle:              {ImportingContacts, ImportingMessages},
	ImportingContacts: {Idle, Failed},
	ImportingMessages: {Idle, Failed},
	Failed:            {Idle, ImportingContacts, ImportingMessages},
}

// Machine tracks and enforces the import phase of a tenant.
type Machine struct {
	mu      sync.RWMutex
	tenant  string
	current Phase
	since   time.Time
	bus     *bus.Bus
}

// NewMachine creates a machine in the Idle phase. b may be nil.
func NewMachine(tenant string, b *bus.Bus) *Machine {
	return &Machine{
		tenant:  tenant,
		current: Idle,
		since:   time.Now(),
		bus:     b,
	}
}

// Current returns the current phase.
func (m *Machine) Current() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new phase. Returns error if the transition
// is invalid. Valid transitions publish import.status_changed.
func (m *Machine) Transition(to Phase) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.since = time.Now()
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindImportStatus,
			Tenant:    m.tenant,
			Timestamp: time.Now(),
			Payload:   Change{Tenant: m.tenant, From: from, To: to},
		})
	}
	return nil
}

// Change is the payload of import.status_changed events.
type Change struct {
	Tenant string
	From   Phase
	To     Phase
}

// Entry is a point-in-time view of one tenant's phase.
type Entry struct {
	Tenant string    `json:"tenant"`
	Phase  Phase     `json:"phase"`
	Since  time.Time `json:"since"`
}

// Board holds one machine per tenant, created on first use.
type Board struct {
	mu       sync.Mutex
	machines map[string]*Machine
	bus      *bus.Bus
}

func NewBoard(b *bus.Bus) *Board {
	return &Board{machines: make(map[string]*Machine), bus: b}
}

// Get returns the machine of tenant, creating it in the Idle phase.
func (b *Board) Get(tenant string) *Machine {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.machines[tenant]
	if !ok {
		m = NewMachine(tenant, b.bus)
		b.machines[tenant] = m
	}
	return m
}

// Snapshot returns every known tenant's phase sorted by tenant.
func (b *Board) Snapshot() []Entry {
	b.mu.Lock()
	machines := make([]*Machine, 0, len(b.machines))
	for _, m := range b.machines {
		machines = append(machines, m)
	}
	b.mu.Unlock()

	out := make([]Entry, 0, len(machines))
	for _, m := range machines {
		m.mu.RLock()
		out = append(out, Entry{Tenant: m.tenant, Phase: m.current, Since: m.since})
		m.mu.RUnlock()
	}
	slices.SortFunc(out, func(a, b Entry) int { return cmp.Compare(a.Tenant, b.Tenant) })
	return out
}
