package helpdesk

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ContactUpserter is the storage used by APIResolver.
type ContactUpserter interface {
	LookupKeys(ctx context.Context, accountID, inboxID int64, identifiers []string) (map[string]FkPair, error)
	UpsertContact(ctx context.Context, accountID int64, key PhoneKey) (int64, error)
}

// APIResolver resolves contacts in the database and creates missing
// conversations through the helpdesk API, so the helpdesk runs its own
// conversation hooks. Misses are created one at a time within the process.
type APIResolver struct {
	contacts ContactUpserter
	creator  ConversationCreator
	logger   *zap.Logger
	newID    func() string

	mu sync.Mutex
}

func NewAPIResolver(contacts ContactUpserter, creator ConversationCreator, logger *zap.Logger) *APIResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIResolver{
		contacts: contacts,
		creator:  creator,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

func (r *APIResolver) Resolve(ctx context.Context, req ResolveRequest) (map[string]FkPair, error) {
	out := make(map[string]FkPair, len(req.Keys))
	if len(req.Keys) == 0 {
		return out, nil
	}
	log := r.logger.With(zap.Int64("account_id", req.AccountID), zap.Int64("inbox_id", req.InboxID))

	r.mu.Lock()
	defer r.mu.Unlock()

	found := lookup(ctx, r.contacts, req, log)
	for _, key := range req.Keys {
		if pair, ok := found[key.Identifier]; ok {
			out[key.Phone] = pair
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		contactID, err := r.contacts.UpsertContact(ctx, req.AccountID, key)
		if err != nil {
			log.Warn("failed to upsert contact", zap.String("phone", key.Phone), zap.Error(err))
			continue
		}
		conversationID, err := r.creator.CreateConversation(ctx, CreateConversationRequest{
			AccountID: req.AccountID,
			InboxID:   req.InboxID,
			ContactID: contactID,
			SourceID:  r.newID(),
		})
		if err != nil {
			log.Warn("failed to create conversation", zap.String("phone", key.Phone), zap.Int64("contact_id", contactID), zap.Error(err))
			continue
		}
		out[key.Phone] = FkPair{ContactID: contactID, ConversationID: conversationID}
	}
	return out, nil
}
