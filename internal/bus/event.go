package bus

import "time"

// Event kinds published on the bus.
const (
	KindWAMessage       = "wa.message"
	KindWAHistoryBatch  = "wa.history_batch"
	KindWAContacts      = "wa.contacts"
	KindSyncConnected   = "sync.connected"
	KindSyncDisconnect  = "sync.disconnected"
	KindHistoryComplete = "sync.history_complete"
	KindLoggedOut       = "session.logged_out"
	KindQRCode          = "session.qr_generated"
	KindStagingUpdated  = "staging.updated"
	KindImportStatus    = "import.status_changed"
	KindImportFinished  = "import.finished"
)

// Event represents a domain event published on the bus. Tenant names the
// instance the event belongs to.
type Event struct {
	Kind      string
	Tenant    string
	Timestamp time.Time
	Payload   any
}
