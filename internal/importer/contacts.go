package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/wppimport/internal/chunk"
	"github.com/matheus3301/wppimport/internal/helpdesk"
	"github.com/matheus3301/wppimport/internal/metrics"
	"github.com/matheus3301/wppimport/internal/staging"
	"github.com/matheus3301/wppimport/internal/wa"
	"go.uber.org/zap"
)

// ContactRepository is the storage used by ContactImporter.
type ContactRepository interface {
	EnsureLabel(ctx context.Context, accountID int64, title, color string) error
	EnsureTag(ctx context.Context, name string, n int) (int64, error)
	UpsertContacts(ctx context.Context, contacts []helpdesk.Contact) ([]int64, error)
	TagContacts(ctx context.Context, tagID int64, contactIDs []int64) error
}

// ContactImporter upserts staged contacts and marks them with the tenant's
// provenance label and tag.
type ContactImporter struct {
	staging *staging.Store
	repo    ContactRepository
	opts    Options
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewContactImporter(store *staging.Store, repo ContactRepository, opts Options, m *metrics.Metrics, logger *zap.Logger) *ContactImporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContactImporter{
		staging: store,
		repo:    repo,
		opts:    opts.withDefaults(),
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Import upserts the staged contacts of tenant into accountID and returns
// the number of contacts written. The contacts it read are dropped from
// staging only when every chunk succeeds; contacts staged meanwhile stay for
// the next run. On failure the count of committed rows is returned with the
// error.
func (ci *ContactImporter) Import(ctx context.Context, tenant string, accountID int64) (int64, error) {
	if ci.staging.MessageCount(tenant) > 0 {
		return 0, ErrMessagesStaged
	}
	staged := ci.staging.Contacts(tenant)
	if len(staged) == 0 {
		return 0, nil
	}
	log := ci.logger.With(zap.String("tenant", tenant), zap.Int64("account_id", accountID))

	rows := ci.rows(accountID, staged, log)
	if len(rows) == 0 {
		log.Warn("no importable contacts staged", zap.Int("staged", len(staged)))
		ci.staging.DropContacts(tenant, len(staged))
		return 0, nil
	}

	title := ProvenanceTitle(tenant)
	if err := ci.repo.EnsureLabel(ctx, accountID, title, ci.opts.LabelColor); err != nil {
		log.Warn("failed to ensure provenance label", zap.String("label", title), zap.Error(err))
	}
	tagID, err := ci.repo.EnsureTag(ctx, title, len(rows))
	if err != nil {
		log.Warn("failed to ensure provenance tag, contacts will not be tagged", zap.String("tag", title), zap.Error(err))
		tagID = 0
	}

	var ids []int64
	failed, err := chunk.Each(rows, ci.opts.ContactChunkSize, func(i int, c []helpdesk.Contact) error {
		got, err := ci.repo.UpsertContacts(ctx, c)
		if err != nil {
			return err
		}
		ids = append(ids, got...)
		log.Debug("contact chunk upserted", zap.Int("chunk", i), zap.Int("rows", len(got)))
		return nil
	})
	if err != nil {
		log.Error("contact import failed", zap.Int("chunk", failed), zap.Int("rows", len(ids)), zap.Error(err))
		return int64(len(ids)), fmt.Errorf("upsert contacts chunk %d: %w", failed, err)
	}

	if tagID != 0 {
		if failed, err := chunk.Each(ids, ci.opts.ContactChunkSize, func(_ int, c []int64) error {
			return ci.repo.TagContacts(ctx, tagID, c)
		}); err != nil {
			log.Warn("failed to tag imported contacts", zap.Int("chunk", failed), zap.Error(err))
		}
	}

	ci.staging.DropContacts(tenant, len(staged))
	log.Info("contacts imported", zap.Int("rows", len(ids)))
	return int64(len(ids)), nil
}

// rows converts staged contacts to contact rows. Contacts without a phone
// number are skipped. Repeated identifiers collapse into one row at the
// position of the first occurrence, carrying the last non-empty staged name.
func (ci *ContactImporter) rows(accountID int64, staged []staging.Contact, log *zap.Logger) []helpdesk.Contact {
	now := ci.now().UTC()
	rows := make([]helpdesk.Contact, 0, len(staged))
	index := make(map[string]int, len(staged))
	for _, c := range staged {
		identifier, err := wa.Identifier(c.ID)
		if err != nil {
			log.Warn("skipping contact without phone number", zap.String("id", c.ID))
			ci.metrics.IncSkipped(metrics.ReasonNotPhone)
			continue
		}
		phone, _ := wa.PhoneNumber(c.ID)
		name := c.PushName
		if name == "" {
			name = phone
		}
		row := helpdesk.Contact{
			Name:        name,
			PhoneNumber: phone,
			Identifier:  identifier,
			AccountID:   accountID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if i, ok := index[identifier]; ok {
			if c.PushName == "" {
				row.Name = rows[i].Name
			}
			rows[i] = row
			continue
		}
		index[identifier] = len(rows)
		rows = append(rows, row)
	}
	return rows
}
