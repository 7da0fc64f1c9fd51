package helpdesk

import (
	"context"

	"go.uber.org/zap"
)

// KeyResolver maps phone numbers to their contact and conversation, creating
// missing rows. Numbers that cannot be resolved are absent from the result.
type KeyResolver interface {
	Resolve(ctx context.Context, req ResolveRequest) (map[string]FkPair, error)
}

// PairStore is the storage used by SQLResolver.
type PairStore interface {
	LookupKeys(ctx context.Context, accountID, inboxID int64, identifiers []string) (map[string]FkPair, error)
	GetOrCreatePair(ctx context.Context, accountID, inboxID int64, key PhoneKey) (FkPair, error)
}

// SQLResolver resolves keys with one batched lookup followed by one atomic
// get-or-create statement per miss.
type SQLResolver struct {
	store  PairStore
	logger *zap.Logger
}

func NewSQLResolver(store PairStore, logger *zap.Logger) *SQLResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLResolver{store: store, logger: logger}
}

func (r *SQLResolver) Resolve(ctx context.Context, req ResolveRequest) (map[string]FkPair, error) {
	out := make(map[string]FkPair, len(req.Keys))
	if len(req.Keys) == 0 {
		return out, nil
	}
	log := r.logger.With(zap.Int64("account_id", req.AccountID), zap.Int64("inbox_id", req.InboxID))

	found := lookup(ctx, r.store, req, log)
	for _, key := range req.Keys {
		if pair, ok := found[key.Identifier]; ok {
			out[key.Phone] = pair
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		pair, err := r.store.GetOrCreatePair(ctx, req.AccountID, req.InboxID, key)
		if err != nil {
			log.Warn("failed to resolve contact and conversation", zap.String("phone", key.Phone), zap.Error(err))
			continue
		}
		out[key.Phone] = pair
	}
	return out, nil
}

type keyLookup interface {
	LookupKeys(ctx context.Context, accountID, inboxID int64, identifiers []string) (map[string]FkPair, error)
}

// lookup runs the batched lookup. A failed lookup is logged and treated as
// all misses.
func lookup(ctx context.Context, store keyLookup, req ResolveRequest, log *zap.Logger) map[string]FkPair {
	identifiers := make([]string, 0, len(req.Keys))
	for _, key := range req.Keys {
		identifiers = append(identifiers, key.Identifier)
	}
	found, err := store.LookupKeys(ctx, req.AccountID, req.InboxID, identifiers)
	if err != nil {
		log.Warn("batched key lookup failed", zap.Int("keys", len(identifiers)), zap.Error(err))
		return nil
	}
	return found
}
