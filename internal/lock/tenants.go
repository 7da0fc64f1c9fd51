package lock

import (
	"fmt"
	"sync"
	"time"
)

// HeldError is returned by TryAcquire when an import already runs for the
// tenant.
type HeldError struct {
	Tenant string
	Since  time.Time
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("import for %q already running since %s", e.Tenant, e.Since.Format(time.RFC3339))
}

// Tenants is an in-process keyed try-lock. Contact and message imports of the
// same tenant never overlap; different tenants proceed in parallel.
type Tenants struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewTenants() *Tenants {
	return &Tenants{held: make(map[string]time.Time), now: time.Now}
}

// TryAcquire locks tenant without waiting. The returned release func is
// idempotent.
func (t *Tenants) TryAcquire(tenant string) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if since, ok := t.held[tenant]; ok {
		return nil, &HeldError{Tenant: tenant, Since: since}
	}
	t.held[tenant] = t.now()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.held, tenant)
			t.mu.Unlock()
		})
	}, nil
}

// Held reports whether tenant is currently locked.
func (t *Tenants) Held(tenant string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.held[tenant]
	return ok
}
