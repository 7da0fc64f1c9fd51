// Package sync stages the contacts and messages captured from WhatsApp
// sessions and triggers imports when a session finishes its history sync.
package sync

import (
	"context"
	"errors"
	"strings"
	gosync "sync"

	"github.com/matheus3301/wppimport/internal/bus"
	"github.com/matheus3301/wppimport/internal/lock"
	"github.com/matheus3301/wppimport/internal/staging"
	"github.com/matheus3301/wppimport/internal/wa"
	"go.uber.org/zap"
)

// Stager receives captured records. *importer.Service implements it.
type Stager interface {
	StageContacts(tenant string, contacts ...staging.Contact) int
	StageMessages(tenant string, messages ...staging.Message) int
}

// AutoImporter imports everything staged for a tenant.
type AutoImporter interface {
	ImportAll(ctx context.Context, tenant string, accountID, inboxID int64) (contacts, messages int64, err error)
}

// Target is the helpdesk account and inbox a tenant imports into.
type Target struct {
	AccountID int64
	InboxID   int64
}

// Engine consumes wa.* and sync.* events from the bus.
type Engine struct {
	stager   Stager
	importer AutoImporter
	targets  map[string]Target
	bus      *bus.Bus
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// NewEngine creates a capture engine. importer may be nil to disable
// auto-import; tenants without a target are staged but never auto-imported.
func NewEngine(stager Stager, importer AutoImporter, targets map[string]Target, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		stager:   stager,
		importer: importer,
		targets:  targets,
		bus:      b,
		logger:   logger,
	}
}

// Start subscribes to the bus. History must never be dropped, so the
// subscription is lossless; wa.* and sync.* share one channel so a history
// completion is always handled after the batches before it.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.SubscribeLossless("", 256)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for running auto-imports.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	if !strings.HasPrefix(evt.Kind, "wa.") && !strings.HasPrefix(evt.Kind, "sync.") {
		return
	}
	if evt.Tenant == "" {
		e.logger.Warn("dropping event without tenant", zap.String("kind", evt.Kind))
		return
	}
	log := e.logger.With(zap.String("tenant", evt.Tenant))

	switch evt.Kind {
	case bus.KindWAMessage:
		msg, ok := evt.Payload.(staging.Message)
		if !ok {
			return
		}
		e.stager.StageMessages(evt.Tenant, msg)
	case bus.KindWAContacts:
		contacts, ok := evt.Payload.([]staging.Contact)
		if !ok {
			return
		}
		e.stager.StageContacts(evt.Tenant, contacts...)
	case bus.KindWAHistoryBatch:
		batch, ok := evt.Payload.(*wa.HistoryBatch)
		if !ok {
			return
		}
		contacts := e.stager.StageContacts(evt.Tenant, batch.Contacts...)
		messages := e.stager.StageMessages(evt.Tenant, batch.Messages...)
		log.Info("history batch staged",
			zap.Int("contacts", contacts),
			zap.Int("messages", messages),
			zap.Int("duplicates", len(batch.Messages)-messages),
			zap.Uint32("progress", batch.Progress))
	case bus.KindHistoryComplete:
		e.autoImport(ctx, evt.Tenant, log)
	}
}

// autoImport runs ImportAll in the background so the event loop keeps
// draining the bus while the import publishes its own events.
func (e *Engine) autoImport(ctx context.Context, tenant string, log *zap.Logger) {
	if e.importer == nil {
		return
	}
	target, ok := e.targets[tenant]
	if !ok {
		log.Warn("history complete for unknown instance, not importing")
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		contacts, messages, err := e.importer.ImportAll(ctx, tenant, target.AccountID, target.InboxID)
		var held *lock.HeldError
		switch {
		case errors.As(err, &held):
			log.Info("import already running, skipping auto-import", zap.Time("since", held.Since))
		case err != nil:
			log.Error("auto-import failed", zap.Int64("contacts", contacts), zap.Int64("messages", messages), zap.Error(err))
		default:
			log.Info("auto-import finished", zap.Int64("contacts", contacts), zap.Int64("messages", messages))
		}
	}()
}
