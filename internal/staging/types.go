package staging

// Contact is a chat participant captured from a session, pending import.
type Contact struct {
	ID       string // session identifier, e.g. "5521999999999@s.whatsapp.net"
	PushName string
}

// Message is a chat message captured from a session, pending import.
type Message struct {
	ID        string // wire message id
	RemoteJID string // conversation identifier on the session side
	SenderJID string
	PushName  string
	Text      string
	Type      string
	FromMe    bool
	Timestamp int64 // unix seconds
}

// Counts reports the staged sizes of one tenant.
type Counts struct {
	Tenant   string `json:"tenant"`
	Contacts int    `json:"contacts"`
	Messages int    `json:"messages"`
}
