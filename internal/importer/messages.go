package importer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/wppimport/internal/chunk"
	"github.com/matheus3301/wppimport/internal/helpdesk"
	"github.com/matheus3301/wppimport/internal/metrics"
	"github.com/matheus3301/wppimport/internal/staging"
	"github.com/matheus3301/wppimport/internal/wa"
	"go.uber.org/zap"
)

const sourceIDPrefix = "WAID:"

// MessageRepository is the storage used by MessageImporter.
type MessageRepository interface {
	ActingUser(ctx context.Context, accountID int64) (int64, error)
	InsertMessages(ctx context.Context, messages []helpdesk.Message) (int64, error)
	MessageSlots(ctx context.Context, conversationIDs []int64, seconds []int64) ([]helpdesk.MessageSlot, error)
	TouchConversations(ctx context.Context, lastActivity map[int64]time.Time) error
}

// MessageImporter writes staged messages into per-contact conversations.
type MessageImporter struct {
	staging  *staging.Store
	repo     MessageRepository
	resolver helpdesk.KeyResolver
	opts     Options
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewMessageImporter(store *staging.Store, repo MessageRepository, resolver helpdesk.KeyResolver, opts Options, m *metrics.Metrics, logger *zap.Logger) *MessageImporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageImporter{
		staging:  store,
		repo:     repo,
		resolver: resolver,
		opts:     opts.withDefaults(),
		metrics:  m,
		logger:   logger,
	}
}

// keyedMessage is a staged message with its derived phone number.
type keyedMessage struct {
	staging.Message
	phone      string
	identifier string
}

// slotKey is one second of one conversation.
type slotKey struct {
	conversationID int64
	second         int64
}

// secondSlots tracks the microsecond offsets and source ids used within one
// second of a conversation.
type secondSlots struct {
	taken   map[int64]bool
	sources map[string]bool
	next    int64
}

// phoneRange is the first and last message of one phone number.
type phoneRange struct {
	first time.Time
	last  time.Time
	name  string
}

// Result describes a finished message import.
type Result struct {
	Inserted int64
	// LastTimestamp is the newest staged message time, zero when nothing
	// was staged.
	LastTimestamp int64
}

// Import writes the staged messages of tenant into accountID/inboxID and
// returns the number of inserted rows. The messages it read are dropped
// from staging only when every chunk succeeds; messages staged meanwhile stay
// for the next run.
func (mi *MessageImporter) Import(ctx context.Context, tenant string, accountID, inboxID int64) (int64, error) {
	res, err := mi.ImportResult(ctx, tenant, accountID, inboxID)
	return res.Inserted, err
}

// ImportResult is Import with the newest imported timestamp.
func (mi *MessageImporter) ImportResult(ctx context.Context, tenant string, accountID, inboxID int64) (Result, error) {
	log := mi.logger.With(zap.String("tenant", tenant), zap.Int64("account_id", accountID), zap.Int64("inbox_id", inboxID))

	actingUser, err := mi.repo.ActingUser(ctx, accountID)
	if err != nil {
		if errors.Is(err, helpdesk.ErrNotFound) {
			return Result{}, ErrNoActingUser
		}
		return Result{}, fmt.Errorf("resolve acting user: %w", err)
	}

	staged := mi.staging.Messages(tenant)
	if len(staged) == 0 {
		return Result{}, nil
	}

	keyed := mi.prepare(staged, log)
	ranges := groupByPhone(keyed)

	var (
		memo     = make(map[string]helpdesk.FkPair)
		touched  = make(map[int64]time.Time)
		inserted int64
		result   Result
	)
	for _, m := range keyed {
		result.LastTimestamp = max(result.LastTimestamp, m.Timestamp)
	}

	failed, err := chunk.Each(keyed, mi.opts.MessageChunkSize, func(i int, c []keyedMessage) error {
		if err := mi.resolve(ctx, accountID, inboxID, c, ranges, memo, log); err != nil {
			return err
		}
		rows, err := mi.place(ctx, c, memo, accountID, inboxID, actingUser, log)
		if err != nil {
			return err
		}
		for _, m := range c {
			if pair, ok := memo[m.phone]; ok {
				touched[pair.ConversationID] = ranges[m.phone].last
			}
		}
		n, err := mi.repo.InsertMessages(ctx, rows)
		if err != nil {
			return err
		}
		inserted += n
		log.Debug("message chunk inserted", zap.Int("chunk", i), zap.Int64("rows", n))
		return nil
	})
	if err != nil {
		log.Error("message import failed", zap.Int("chunk", failed), zap.Int64("rows", inserted), zap.Error(err))
		return Result{Inserted: inserted}, fmt.Errorf("insert messages chunk %d: %w", failed, err)
	}

	if err := mi.repo.TouchConversations(ctx, touched); err != nil {
		log.Warn("failed to update conversation activity", zap.Int("conversations", len(touched)), zap.Error(err))
	}

	mi.staging.DropMessages(tenant, len(staged))
	log.Info("messages imported", zap.Int64("rows", inserted), zap.Int("conversations", len(touched)))
	result.Inserted = inserted
	return result, nil
}

// prepare drops messages that cannot be imported and orders the rest by
// phone number, timestamp and message id.
func (mi *MessageImporter) prepare(staged []staging.Message, log *zap.Logger) []keyedMessage {
	keyed := make([]keyedMessage, 0, len(staged))
	for _, m := range staged {
		identifier, err := wa.Identifier(m.RemoteJID)
		if err != nil {
			log.Warn("skipping message outside a direct chat", zap.String("remote_jid", m.RemoteJID), zap.String("id", m.ID))
			mi.metrics.IncSkipped(metrics.ReasonNotPhone)
			continue
		}
		if m.Text == "" {
			log.Debug("skipping message without text", zap.String("id", m.ID), zap.String("type", m.Type))
			mi.metrics.IncSkipped(metrics.ReasonEmptyText)
			continue
		}
		phone, _ := wa.PhoneNumber(m.RemoteJID)
		keyed = append(keyed, keyedMessage{Message: m, phone: phone, identifier: identifier})
	}

	slices.SortStableFunc(keyed, func(a, b keyedMessage) int {
		return cmp.Or(
			cmp.Compare(a.phone, b.phone),
			cmp.Compare(a.Timestamp, b.Timestamp),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return keyed
}

// place builds the rows of a chunk. Message timestamps have second
// precision while (conversation_id, created_at) is unique, so each message
// takes the first microsecond of its second not used by a stored row or an
// earlier message. A message whose source id is already stored in that
// second is skipped.
func (mi *MessageImporter) place(ctx context.Context, c []keyedMessage, memo map[string]helpdesk.FkPair, accountID, inboxID, actingUser int64, log *zap.Logger) ([]helpdesk.Message, error) {
	var convIDs, seconds []int64
	for _, m := range c {
		if pair, ok := memo[m.phone]; ok {
			convIDs = append(convIDs, pair.ConversationID)
			seconds = append(seconds, m.Timestamp)
		}
	}
	slices.Sort(convIDs)
	slices.Sort(seconds)
	stored, err := mi.repo.MessageSlots(ctx, slices.Compact(convIDs), slices.Compact(seconds))
	if err != nil {
		return nil, fmt.Errorf("load message slots: %w", err)
	}

	slots := make(map[slotKey]*secondSlots)
	slotsOf := func(k slotKey) *secondSlots {
		s, ok := slots[k]
		if !ok {
			s = &secondSlots{taken: make(map[int64]bool), sources: make(map[string]bool)}
			slots[k] = s
		}
		return s
	}
	for _, st := range stored {
		second := st.CreatedAt.Unix()
		s := slotsOf(slotKey{st.ConversationID, second})
		s.taken[st.CreatedAt.Sub(time.Unix(second, 0)).Microseconds()] = true
		s.sources[st.SourceID] = true
	}

	rows := make([]helpdesk.Message, 0, len(c))
	for _, m := range c {
		pair, ok := memo[m.phone]
		if !ok {
			log.Warn("skipping message without conversation", zap.String("phone", m.phone), zap.String("id", m.ID))
			mi.metrics.IncSkipped(metrics.ReasonUnresolved)
			continue
		}
		s := slotsOf(slotKey{pair.ConversationID, m.Timestamp})
		sourceID := sourceIDPrefix + m.ID
		if s.sources[sourceID] {
			continue
		}
		for s.taken[s.next] {
			s.next++
		}
		if s.next >= int64(time.Second/time.Microsecond) {
			log.Warn("no free slot left in second", zap.String("phone", m.phone), zap.String("id", m.ID), zap.Int64("ts", m.Timestamp))
			continue
		}
		createdAt := time.Unix(m.Timestamp, 0).UTC().Add(time.Duration(s.next) * time.Microsecond)
		s.taken[s.next] = true
		s.sources[sourceID] = true
		rows = append(rows, messageRow(m, pair, accountID, inboxID, actingUser, sourceID, createdAt))
	}
	return rows, nil
}

// groupByPhone walks the sorted messages once and records each phone's first
// and last message time and the contact's push name.
func groupByPhone(keyed []keyedMessage) map[string]phoneRange {
	ranges := make(map[string]phoneRange)
	for _, m := range keyed {
		at := time.Unix(m.Timestamp, 0).UTC()
		r, ok := ranges[m.phone]
		if !ok {
			r.first = at
		}
		r.last = at
		if r.name == "" && !m.FromMe {
			r.name = m.PushName
		}
		ranges[m.phone] = r
	}
	return ranges
}

// resolve fills memo with the FkPair of every phone in the chunk that is not
// memoized yet. Resolver failures are logged; the affected messages are then
// skipped. Only cancellation aborts the import.
func (mi *MessageImporter) resolve(ctx context.Context, accountID, inboxID int64, c []keyedMessage, ranges map[string]phoneRange, memo map[string]helpdesk.FkPair, log *zap.Logger) error {
	var keys []helpdesk.PhoneKey
	queued := make(map[string]bool)
	for _, m := range c {
		if _, ok := memo[m.phone]; ok || queued[m.phone] {
			continue
		}
		queued[m.phone] = true
		r := ranges[m.phone]
		name := r.name
		if name == "" {
			name = m.phone
		}
		keys = append(keys, helpdesk.PhoneKey{
			Phone:      m.phone,
			Identifier: m.identifier,
			Name:       name,
			FirstAt:    r.first,
		})
	}
	if len(keys) == 0 {
		return nil
	}

	pairs, err := mi.resolver.Resolve(ctx, helpdesk.ResolveRequest{AccountID: accountID, InboxID: inboxID, Keys: keys})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.Warn("failed to resolve conversations", zap.Int("phones", len(keys)), zap.Error(err))
	}
	for phone, pair := range pairs {
		memo[phone] = pair
	}
	return nil
}

func messageRow(m keyedMessage, pair helpdesk.FkPair, accountID, inboxID, actingUser int64, sourceID string, createdAt time.Time) helpdesk.Message {
	row := helpdesk.Message{
		Content:        m.Text,
		AccountID:      accountID,
		InboxID:        inboxID,
		ConversationID: pair.ConversationID,
		MessageType:    helpdesk.MessageIncoming,
		SenderType:     helpdesk.SenderContact,
		SenderID:       pair.ContactID,
		SourceID:       sourceID,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	if m.FromMe {
		row.MessageType = helpdesk.MessageOutgoing
		row.SenderType = helpdesk.SenderUser
		row.SenderID = actingUser
	}
	return row
}
