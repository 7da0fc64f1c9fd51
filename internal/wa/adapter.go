package wa

import (
	"context"
	"fmt"

	"github.com/matheus3301/wppimport/internal/bus"
	"github.com/matheus3301/wppimport/internal/session"
	"github.com/matheus3301/wppimport/internal/staging"
	"go.mau.fi/whatsmeow"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// Adapter wraps the whatsmeow client of one instance.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	bus       *bus.Bus
	logger    *zap.Logger
	instance  string
}

// NewAdapter opens the device store of the given instance and creates a client.
func NewAdapter(ctx context.Context, instance string, b *bus.Bus, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("wppimport", [3]uint32{0, 1, 0})
	// Ask the phone for as much history as it is willing to send.
	wastore.DeviceProps.RequireFullSync = proto.Bool(true)

	if err := session.EnsureDir(instance); err != nil {
		return nil, fmt.Errorf("create instance dir: %w", err)
	}
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", session.SessionDBPath(instance)),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	return &Adapter{
		client:    whatsmeow.NewClient(deviceStore, nil),
		container: container,
		bus:       b,
		logger:    logger.With(zap.String("tenant", instance)),
		instance:  instance,
	}, nil
}

// Instance returns the instance name the adapter belongs to.
func (a *Adapter) Instance() string {
	return a.instance
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// Connect initiates the WhatsApp connection.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Disconnect terminates the WhatsApp connection.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// Close disconnects and closes the device store.
func (a *Adapter) Close() error {
	a.client.Disconnect()
	return a.container.Close()
}

// RegisterEventHandler adds a handler for whatsmeow events.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.client.AddEventHandler(handler)
}

// Contacts returns a snapshot of the device store's contacts.
func (a *Adapter) Contacts(ctx context.Context) []staging.Contact {
	all, err := a.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		a.logger.Warn("failed to get contacts from device store", zap.Error(err))
		return nil
	}
	contacts := make([]staging.Contact, 0, len(all))
	for jid, info := range all {
		name := info.FullName
		if name == "" {
			name = info.PushName
		}
		contacts = append(contacts, staging.Contact{
			ID:       jid.ToNonAD().String(),
			PushName: name,
		})
	}
	return contacts
}

// ResolveLID resolves a LID JID to its phone number JID using the device store mapping.
// Returns the original JID if it's not a LID or if resolution fails.
func (a *Adapter) ResolveLID(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer && jid.Server != types.HostedLIDServer {
		return jid
	}
	if a.client == nil || a.client.Store == nil || a.client.Store.LIDs == nil {
		return jid
	}
	pn, err := a.client.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}
