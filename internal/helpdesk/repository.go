package helpdesk

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("helpdesk: not found")

const (
	uniqueViolation = "23505"

	taggableContact = "Contact"
	taggingContext  = "labels"
)

// Repository issues the INSERT/UPDATE/SELECT statements of the importers.
// It never runs DDL.
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// EnsureLabel creates the label (title, accountID) unless it exists. A unique
// violation on insert means a concurrent importer created it first.
func (r *Repository) EnsureLabel(ctx context.Context, accountID int64, title, color string) error {
	exists, err := r.db.NewSelect().
		Model((*Label)(nil)).
		Where("title = ?", title).
		Where("account_id = ?", accountID).
		Exists(ctx)
	if err != nil {
		return errors.Wrap(err, "helpdesk.EnsureLabel.Exists")
	}
	if exists {
		return nil
	}

	now := time.Now().UTC()
	label := &Label{
		Title:         title,
		Color:         color,
		ShowOnSidebar: true,
		AccountID:     accountID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := r.db.NewInsert().Model(label).Returning("NULL").Exec(ctx); err != nil {
		if IsUniqueViolation(err) {
			return nil
		}
		return errors.Wrap(err, "helpdesk.EnsureLabel.Insert")
	}
	return nil
}

// EnsureTag creates the tag with an initial usage count of n, or adds n to
// the count of the existing tag. It returns the tag id.
func (r *Repository) EnsureTag(ctx context.Context, name string, n int) (int64, error) {
	tag := &Tag{Name: name, TaggingsCount: n}
	_, err := r.db.NewInsert().
		Model(tag).
		On("CONFLICT (name) DO UPDATE").
		Set("taggings_count = tags.taggings_count + EXCLUDED.taggings_count").
		Returning("id").
		Exec(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "helpdesk.EnsureTag.Upsert")
	}
	return tag.ID, nil
}

// UpsertContacts inserts or updates a batch of contacts keyed by
// (identifier, account_id) and returns the ids of every touched row. The
// batch must not repeat a key.
func (r *Repository) UpsertContacts(ctx context.Context, contacts []Contact) ([]int64, error) {
	if len(contacts) == 0 {
		return nil, nil
	}
	var ids []int64
	err := r.db.NewInsert().
		Model(&contacts).
		On("CONFLICT (identifier, account_id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("phone_number = EXCLUDED.phone_number").
		Set("identifier = EXCLUDED.identifier").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("id").
		Scan(ctx, &ids)
	if err != nil {
		return nil, errors.Wrap(err, "helpdesk.UpsertContacts.Exec")
	}
	return ids, nil
}

// TagContacts attaches the tag to each contact. Existing taggings are left
// untouched.
func (r *Repository) TagContacts(ctx context.Context, tagID int64, contactIDs []int64) error {
	if len(contactIDs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]Tagging, 0, len(contactIDs))
	for _, id := range contactIDs {
		rows = append(rows, Tagging{
			TagID:        tagID,
			TaggableType: taggableContact,
			TaggableID:   id,
			Context:      taggingContext,
			CreatedAt:    now,
		})
	}
	_, err := r.db.NewInsert().
		Model(&rows).
		On("CONFLICT DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "helpdesk.TagContacts.Exec")
	}
	return nil
}

// ActingUser returns the first administrator of the account. It returns
// ErrNotFound when the account has none.
func (r *Repository) ActingUser(ctx context.Context, accountID int64) (int64, error) {
	var userID int64
	err := r.db.NewSelect().
		Model((*AccountUser)(nil)).
		Column("user_id").
		Where("account_id = ?", accountID).
		Where("role = ?", RoleAdministrator).
		OrderExpr("id ASC").
		Limit(1).
		Scan(ctx, &userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, errors.Wrap(err, "helpdesk.ActingUser.Scan")
	}
	return userID, nil
}

// InsertMessages inserts a batch of messages, skipping rows whose
// (conversation_id, created_at) already exists. It returns the number of
// rows inserted.
func (r *Repository) InsertMessages(ctx context.Context, messages []Message) (int64, error) {
	if len(messages) == 0 {
		return 0, nil
	}
	res, err := r.db.NewInsert().
		Model(&messages).
		On("CONFLICT (conversation_id, created_at) DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "helpdesk.InsertMessages.Exec")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "helpdesk.InsertMessages.RowsAffected")
	}
	return n, nil
}

// MessageSlots returns the stored messages of the given conversations whose
// created_at falls within one of the given unix seconds.
func (r *Repository) MessageSlots(ctx context.Context, conversationIDs []int64, seconds []int64) ([]MessageSlot, error) {
	if len(conversationIDs) == 0 || len(seconds) == 0 {
		return nil, nil
	}
	var slots []MessageSlot
	err := r.db.NewSelect().
		TableExpr("messages").
		ColumnExpr("conversation_id, COALESCE(source_id, '') AS source_id, created_at").
		Where("conversation_id IN (?)", bun.In(conversationIDs)).
		Where("CAST(FLOOR(EXTRACT(EPOCH FROM created_at)) AS bigint) IN (?)", bun.In(seconds)).
		Scan(ctx, &slots)
	if err != nil {
		return nil, errors.Wrap(err, "helpdesk.MessageSlots.Scan")
	}
	return slots, nil
}

// TouchConversations moves last_activity_at of each conversation forward to
// the given time. It never moves it backwards.
func (r *Repository) TouchConversations(ctx context.Context, lastActivity map[int64]time.Time) error {
	if len(lastActivity) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(lastActivity))
	for id := range lastActivity {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	now := time.Now().UTC()
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, id := range ids {
			at := lastActivity[id].UTC()
			_, err := tx.NewUpdate().
				Model((*Conversation)(nil)).
				Set("last_activity_at = GREATEST(COALESCE(last_activity_at, CAST(? AS timestamp)), CAST(? AS timestamp))", at, at).
				Set("updated_at = CAST(? AS timestamp)", now).
				Where("id = ?", id).
				Exec(ctx)
			if err != nil {
				return errors.Wrap(err, "helpdesk.TouchConversations.Update")
			}
		}
		return nil
	})
}

type keyRow struct {
	Identifier     string `bun:"identifier"`
	ContactID      int64  `bun:"contact_id"`
	ConversationID int64  `bun:"conversation_id"`
}

// LookupKeys finds the existing contact and conversation of each identifier
// in one round trip. When a contact has several conversations in the inbox
// the lowest conversation id wins. Identifiers without both rows are absent
// from the result.
func (r *Repository) LookupKeys(ctx context.Context, accountID, inboxID int64, identifiers []string) (map[string]FkPair, error) {
	out := make(map[string]FkPair, len(identifiers))
	if len(identifiers) == 0 {
		return out, nil
	}
	var rows []keyRow
	err := r.db.NewSelect().
		TableExpr("contacts AS c").
		ColumnExpr("c.identifier, c.id AS contact_id, conv.id AS conversation_id").
		Join("JOIN conversations AS conv ON conv.contact_id = c.id").
		Where("c.account_id = ?", accountID).
		Where("c.identifier IN (?)", bun.In(identifiers)).
		Where("conv.account_id = ?", accountID).
		Where("conv.inbox_id = ?", inboxID).
		OrderExpr("conv.id ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, errors.Wrap(err, "helpdesk.LookupKeys.Scan")
	}
	for _, row := range rows {
		if _, ok := out[row.Identifier]; ok {
			continue
		}
		out[row.Identifier] = FkPair{ContactID: row.ContactID, ConversationID: row.ConversationID}
	}
	return out, nil
}

// UpsertContact returns the id of the contact with key.Identifier, creating
// it when missing. An existing contact keeps its name.
func (r *Repository) UpsertContact(ctx context.Context, accountID int64, key PhoneKey) (int64, error) {
	at := key.FirstAt.UTC()
	contact := &Contact{
		Name:        key.Name,
		PhoneNumber: key.Phone,
		Identifier:  key.Identifier,
		AccountID:   accountID,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	_, err := r.db.NewInsert().
		Model(contact).
		On("CONFLICT (identifier, account_id) DO UPDATE").
		Set("identifier = EXCLUDED.identifier").
		Returning("id").
		Exec(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "helpdesk.UpsertContact.Exec")
	}
	return contact.ID, nil
}

// upsertWithFallbackRead inserts the contact unless it exists, reads back
// whichever row holds the key, and reuses the contact's first conversation
// in the inbox or creates one. Rows created here carry FirstAt as created_at.
const upsertWithFallbackRead = `
WITH new_contact AS (
	INSERT INTO contacts (name, phone_number, identifier, account_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, CAST(? AS timestamp), CAST(? AS timestamp))
	ON CONFLICT (identifier, account_id) DO NOTHING
	RETURNING id
), contact AS (
	SELECT id FROM new_contact
	UNION ALL
	SELECT id FROM contacts WHERE identifier = ? AND account_id = ?
	LIMIT 1
), existing_conversation AS (
	SELECT conv.id FROM conversations AS conv, contact
	WHERE conv.contact_id = contact.id AND conv.account_id = ? AND conv.inbox_id = ?
	ORDER BY conv.id
	LIMIT 1
), new_conversation AS (
	INSERT INTO conversations (account_id, inbox_id, contact_id, status, created_at, updated_at, last_activity_at)
	SELECT ?, ?, contact.id, 0, CAST(? AS timestamp), CAST(? AS timestamp), CAST(? AS timestamp)
	FROM contact
	WHERE NOT EXISTS (SELECT 1 FROM existing_conversation)
	RETURNING id
)
SELECT contact.id AS contact_id,
	COALESCE((SELECT id FROM existing_conversation), (SELECT id FROM new_conversation)) AS conversation_id
FROM contact`

// GetOrCreatePair atomically resolves key to a contact and conversation.
// Concurrent callers for the same identifier serialize on a transaction
// advisory lock, so the second one reads the rows of the first.
func (r *Repository) GetOrCreatePair(ctx context.Context, accountID, inboxID int64, key PhoneKey) (FkPair, error) {
	at := key.FirstAt.UTC()
	var pair FkPair
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtextextended(?, 0))", fmt.Sprintf("%d:%s", accountID, key.Identifier)); err != nil {
			return errors.Wrap(err, "helpdesk.GetOrCreatePair.Lock")
		}
		var row keyRow
		err := tx.NewRaw(upsertWithFallbackRead,
			key.Name, key.Phone, key.Identifier, accountID, at, at,
			key.Identifier, accountID,
			accountID, inboxID,
			accountID, inboxID, at, at, at,
		).Scan(ctx, &row)
		if err != nil {
			return errors.Wrap(err, "helpdesk.GetOrCreatePair.Scan")
		}
		pair = FkPair{ContactID: row.ContactID, ConversationID: row.ConversationID}
		return nil
	})
	if err != nil {
		return FkPair{}, err
	}
	if pair.ContactID == 0 || pair.ConversationID == 0 {
		return FkPair{}, errors.Errorf("helpdesk.GetOrCreatePair: incomplete pair %+v for %s", pair, key.Identifier)
	}
	return pair, nil
}
