package importer

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strconv"
	"time"

	"github.com/matheus3301/wppimport/internal/bus"
	"github.com/matheus3301/wppimport/internal/lock"
	"github.com/matheus3301/wppimport/internal/metrics"
	"github.com/matheus3301/wppimport/internal/staging"
	"github.com/matheus3301/wppimport/internal/status"
	"go.uber.org/zap"
)

// RunLedger records import runs. Ledger failures never fail an import.
type RunLedger interface {
	Begin(ctx context.Context, tenant, kind string) (string, error)
	Finish(ctx context.Context, runID string, affected int64, runErr error) error
	SetCheckpoint(ctx context.Context, key, value string) error
}

// Finished is the payload of import.finished events.
type Finished struct {
	Tenant   string
	Kind     string
	RunID    string
	Affected int64
	Err      string
}

// InstanceStatus is the staged data and import phase of one tenant.
type InstanceStatus struct {
	Tenant   string       `json:"tenant"`
	Contacts int          `json:"contacts"`
	Messages int          `json:"messages"`
	Phase    status.Phase `json:"phase"`
}

// Service is the entry point for staging and importing. It serializes the
// imports of each tenant and tracks their phase, run history and metrics.
type Service struct {
	staging  *staging.Store
	contacts *ContactImporter
	messages *MessageImporter
	locks    *lock.Tenants
	board    *status.Board
	ledger   RunLedger
	metrics  *metrics.Metrics
	bus      *bus.Bus
	logger   *zap.Logger
}

// ServiceParams groups the collaborators of a Service. Ledger, Metrics and
// Bus are optional.
type ServiceParams struct {
	Staging  *staging.Store
	Contacts *ContactImporter
	Messages *MessageImporter
	Locks    *lock.Tenants
	Board    *status.Board
	Ledger   RunLedger
	Metrics  *metrics.Metrics
	Bus      *bus.Bus
	Logger   *zap.Logger
}

func NewService(p ServiceParams) *Service {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Locks == nil {
		p.Locks = lock.NewTenants()
	}
	if p.Board == nil {
		p.Board = status.NewBoard(p.Bus)
	}
	return &Service{
		staging:  p.Staging,
		contacts: p.Contacts,
		messages: p.Messages,
		locks:    p.Locks,
		board:    p.Board,
		ledger:   p.Ledger,
		metrics:  p.Metrics,
		bus:      p.Bus,
		logger:   p.Logger,
	}
}

// StageContacts appends contacts to the tenant's staging area.
func (s *Service) StageContacts(tenant string, contacts ...staging.Contact) int {
	if len(contacts) == 0 {
		return 0
	}
	s.staging.AppendContacts(tenant, contacts...)
	s.stagingChanged(tenant)
	return len(contacts)
}

// StageMessages appends messages to the tenant's staging area, dropping
// message ids that were staged before. It returns how many were staged.
func (s *Service) StageMessages(tenant string, messages ...staging.Message) int {
	fresh := make([]staging.Message, 0, len(messages))
	for _, m := range messages {
		if m.ID != "" && !s.staging.MarkSeen(tenant, m.ID) {
			continue
		}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return 0
	}
	s.staging.AppendMessages(tenant, fresh...)
	s.stagingChanged(tenant)
	return len(fresh)
}

// ClearAll drops all staged data of the tenant.
func (s *Service) ClearAll(tenant string) {
	s.staging.ClearAll(tenant)
	s.stagingChanged(tenant)
}

// Counts returns the staged counts of the tenant.
func (s *Service) Counts(tenant string) staging.Counts {
	return staging.Counts{
		Tenant:   tenant,
		Contacts: s.staging.ContactCount(tenant),
		Messages: s.staging.MessageCount(tenant),
	}
}

// Instances returns every tenant with staged data or a known import phase.
func (s *Service) Instances() []InstanceStatus {
	index := make(map[string]int)
	var out []InstanceStatus
	for _, c := range s.staging.Snapshot() {
		index[c.Tenant] = len(out)
		out = append(out, InstanceStatus{Tenant: c.Tenant, Contacts: c.Contacts, Messages: c.Messages, Phase: status.Idle})
	}
	for _, e := range s.board.Snapshot() {
		if i, ok := index[e.Tenant]; ok {
			out[i].Phase = e.Phase
			continue
		}
		out = append(out, InstanceStatus{Tenant: e.Tenant, Phase: e.Phase})
	}
	slices.SortFunc(out, func(a, b InstanceStatus) int { return cmp.Compare(a.Tenant, b.Tenant) })
	return out
}

// ImportContacts imports the staged contacts of tenant. It fails with
// *lock.HeldError when another import of the tenant is running.
func (s *Service) ImportContacts(ctx context.Context, tenant string, accountID int64) (int64, error) {
	release, err := s.locks.TryAcquire(tenant)
	if err != nil {
		return 0, err
	}
	defer release()
	return s.importContacts(ctx, tenant, accountID)
}

// ImportMessages imports the staged messages of tenant. It fails with
// *lock.HeldError when another import of the tenant is running.
func (s *Service) ImportMessages(ctx context.Context, tenant string, accountID, inboxID int64) (int64, error) {
	release, err := s.locks.TryAcquire(tenant)
	if err != nil {
		return 0, err
	}
	defer release()
	return s.importMessages(ctx, tenant, accountID, inboxID)
}

// ImportAll imports contacts and then messages of tenant under one lock.
// Staged messages are set aside while contacts are imported so the contact
// import is not refused, and are put back before the message import. A
// failed contact import puts them back and stops.
func (s *Service) ImportAll(ctx context.Context, tenant string, accountID, inboxID int64) (contacts, messages int64, err error) {
	release, err := s.locks.TryAcquire(tenant)
	if err != nil {
		return 0, 0, err
	}
	defer release()

	parked := s.staging.TakeMessages(tenant)
	contacts, err = s.importContacts(ctx, tenant, accountID)
	s.staging.RestoreMessages(tenant, parked)
	if err != nil {
		s.stagingChanged(tenant)
		return contacts, 0, err
	}
	messages, err = s.importMessages(ctx, tenant, accountID, inboxID)
	return contacts, messages, err
}

// CheckpointKey names the ledger checkpoint holding the newest imported
// message timestamp of tenant.
func CheckpointKey(tenant string) string {
	return "last_message_ts:" + tenant
}

func (s *Service) importContacts(ctx context.Context, tenant string, accountID int64) (int64, error) {
	return s.run(ctx, tenant, metrics.KindContacts, status.ImportingContacts, func(ctx context.Context) (int64, error) {
		return s.contacts.Import(ctx, tenant, accountID)
	})
}

func (s *Service) importMessages(ctx context.Context, tenant string, accountID, inboxID int64) (int64, error) {
	return s.run(ctx, tenant, metrics.KindMessages, status.ImportingMessages, func(ctx context.Context) (int64, error) {
		res, err := s.messages.ImportResult(ctx, tenant, accountID, inboxID)
		if err == nil && res.LastTimestamp > 0 && s.ledger != nil {
			if cpErr := s.ledger.SetCheckpoint(ctx, CheckpointKey(tenant), strconv.FormatInt(res.LastTimestamp, 10)); cpErr != nil {
				s.logger.Warn("failed to store checkpoint", zap.String("tenant", tenant), zap.Error(cpErr))
			}
		}
		return res.Inserted, err
	})
}

// run executes one import while the caller holds the tenant lock.
func (s *Service) run(ctx context.Context, tenant, kind string, phase status.Phase, fn func(context.Context) (int64, error)) (int64, error) {
	log := s.logger.With(zap.String("tenant", tenant), zap.String("kind", kind))
	machine := s.board.Get(tenant)
	if err := machine.Transition(phase); err != nil {
		log.Warn("unexpected import phase", zap.Error(err))
	}

	var runID string
	if s.ledger != nil {
		var err error
		if runID, err = s.ledger.Begin(ctx, tenant, kind); err != nil {
			log.Warn("failed to record run start", zap.Error(err))
		}
	}

	start := time.Now()
	affected, runErr := fn(ctx)
	s.metrics.ObserveDuration(kind, time.Since(start))
	s.metrics.AddImported(tenant, kind, affected)

	next := status.Idle
	if runErr != nil && !errors.Is(runErr, ErrMessagesStaged) {
		next = status.Failed
		s.metrics.IncFailure(kind)
	}
	if err := machine.Transition(next); err != nil {
		log.Warn("unexpected import phase", zap.Error(err))
	}

	if s.ledger != nil && runID != "" {
		// The request context may be gone; the run outcome is still recorded.
		if err := s.ledger.Finish(context.WithoutCancel(ctx), runID, affected, runErr); err != nil {
			log.Warn("failed to record run end", zap.String("run_id", runID), zap.Error(err))
		}
	}

	fin := Finished{Tenant: tenant, Kind: kind, RunID: runID, Affected: affected}
	if runErr != nil {
		fin.Err = runErr.Error()
	}
	s.publish(bus.KindImportFinished, tenant, fin)
	s.stagingChanged(tenant)

	log.Info("import finished", zap.String("run_id", runID), zap.Int64("rows", affected), zap.Duration("took", time.Since(start)), zap.NamedError("import_error", runErr))
	return affected, runErr
}

func (s *Service) stagingChanged(tenant string) {
	counts := s.Counts(tenant)
	s.metrics.SetStaged(tenant, counts.Contacts, counts.Messages)
	s.publish(bus.KindStagingUpdated, tenant, counts)
}

func (s *Service) publish(kind, tenant string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Tenant: tenant, Timestamp: time.Now(), Payload: payload})
}
