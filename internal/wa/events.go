package wa

import (
	"context"
	"time"

	"github.com/matheus3301/wppimport/internal/bus"
	"github.com/matheus3301/wppimport/internal/staging"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// JIDResolver maps LID JIDs to phone number JIDs.
type JIDResolver interface {
	ResolveLID(ctx context.Context, jid types.JID) types.JID
}

// HistoryBatch is the payload of a wa.history_batch event.
type HistoryBatch struct {
	Contacts []staging.Contact
	Messages []staging.Message
	Progress uint32
}

// EventHandler turns whatsmeow events of one instance into bus events. It does
// not stage anything itself; the capture engine subscribes to the bus.
type EventHandler struct {
	tenant   string
	bus      *bus.Bus
	resolver JIDResolver
	logger   *zap.Logger
}

// NewEventHandler creates an event handler for the given instance. resolver may
// be nil, in which case LID conversations are skipped.
func NewEventHandler(tenant string, b *bus.Bus, resolver JIDResolver, logger *zap.Logger) *EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandler{
		tenant:   tenant,
		bus:      b,
		resolver: resolver,
		logger:   logger.With(zap.String("tenant", tenant)),
	}
}

// Handle is the whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.HistorySync:
		h.handleHistorySync(evt)
	case *events.PushName:
		h.publishContacts(staging.Contact{ID: evt.JID.ToNonAD().String(), PushName: evt.NewPushName})
	case *events.Contact:
		if evt.Action != nil && evt.Action.GetFullName() != "" {
			h.publishContacts(staging.Contact{ID: evt.JID.ToNonAD().String(), PushName: evt.Action.GetFullName()})
		}
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		h.publish(bus.KindSyncConnected, nil)
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		h.publish(bus.KindSyncDisconnect, nil)
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		h.publish(bus.KindLoggedOut, evt.Reason.String())
	}
}

func (h *EventHandler) publish(kind string, payload any) {
	h.bus.Publish(bus.Event{
		Kind:      kind,
		Tenant:    h.tenant,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

func (h *EventHandler) publishContacts(contacts ...staging.Contact) {
	h.publish(bus.KindWAContacts, contacts)
}

func (h *EventHandler) handleMessage(evt *events.Message) {
	msg := ParseLiveMessage(evt)
	chat := h.resolveJID(evt.Info.Chat)
	if chat.IsEmpty() {
		return
	}
	msg.RemoteJID = chat.String()
	h.publish(bus.KindWAMessage, msg)
}

func (h *EventHandler) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	batch := &HistoryBatch{Progress: data.GetProgress()}
	for _, pn := range data.GetPushnames() {
		if pn.GetPushname() == "" {
			continue
		}
		jid, err := types.ParseJID(pn.GetID())
		if err != nil {
			continue
		}
		batch.Contacts = append(batch.Contacts, staging.Contact{ID: jid.ToNonAD().String(), PushName: pn.GetPushname()})
	}

	for _, conv := range data.GetConversations() {
		raw, err := types.ParseJID(conv.GetID())
		if err != nil {
			h.logger.Warn("skipping history conversation with bad id", zap.String("id", conv.GetID()), zap.Error(err))
			continue
		}
		chat := h.resolveJID(raw)
		if chat.IsEmpty() {
			continue
		}
		chatJID := chat.String()
		if name := conv.GetName(); name != "" && chat.Server == types.DefaultUserServer {
			batch.Contacts = append(batch.Contacts, staging.Contact{ID: chatJID, PushName: name})
		}
		for _, hm := range conv.GetMessages() {
			if msg, ok := ParseHistoryMessage(chatJID, hm.GetMessage()); ok {
				batch.Messages = append(batch.Messages, msg)
			}
		}
	}

	if len(batch.Messages) > 0 || len(batch.Contacts) > 0 {
		h.publish(bus.KindWAHistoryBatch, batch)
	}
	if batch.Progress >= 100 {
		h.logger.Info("history sync complete")
		h.publish(bus.KindHistoryComplete, nil)
	}
}

// resolveJID strips the device suffix and maps LIDs to phone numbers. It
// returns an empty JID for LIDs that cannot be resolved.
func (h *EventHandler) resolveJID(jid types.JID) types.JID {
	jid = jid.ToNonAD()
	if jid.Server != types.HiddenUserServer && jid.Server != types.HostedLIDServer {
		return jid
	}
	if h.resolver == nil {
		return types.EmptyJID
	}
	pn := h.resolver.ResolveLID(context.Background(), jid)
	if pn.Server == types.HiddenUserServer || pn.Server == types.HostedLIDServer {
		return types.EmptyJID
	}
	return pn.ToNonAD()
}
