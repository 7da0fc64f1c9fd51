package helpdesk

import (
	"time"

	"github.com/uptrace/bun"
)

// Message directions stored in messages.message_type.
const (
	MessageIncoming = 0
	MessageOutgoing = 1
)

// Sender types stored in messages.sender_type.
const (
	SenderContact = "Contact"
	SenderUser    = "User"
)

// RoleAdministrator is account_users.role of account administrators.
const RoleAdministrator = 1

// Contact is a row of the contacts table.
type Contact struct {
	bun.BaseModel `bun:"table:contacts,alias:contacts"`

	ID          int64     `bun:"id,pk,autoincrement"`
	Name        string    `bun:"name"`
	PhoneNumber string    `bun:"phone_number"`
	Identifier  string    `bun:"identifier"`
	AccountID   int64     `bun:"account_id"`
	CreatedAt   time.Time `bun:"created_at"`
	UpdatedAt   time.Time `bun:"updated_at"`
}

// Conversation is a row of the conversations table.
type Conversation struct {
	bun.BaseModel `bun:"table:conversations,alias:conversations"`

	ID             int64     `bun:"id,pk,autoincrement"`
	AccountID      int64     `bun:"account_id"`
	InboxID        int64     `bun:"inbox_id"`
	ContactID      int64     `bun:"contact_id"`
	Status         int       `bun:"status"`
	CreatedAt      time.Time `bun:"created_at"`
	UpdatedAt      time.Time `bun:"updated_at"`
	LastActivityAt time.Time `bun:"last_activity_at"`
}

// Message is a row of the messages table.
type Message struct {
	bun.BaseModel `bun:"table:messages,alias:messages"`

	ID             int64     `bun:"id,pk,autoincrement"`
	Content        string    `bun:"content"`
	AccountID      int64     `bun:"account_id"`
	InboxID        int64     `bun:"inbox_id"`
	ConversationID int64     `bun:"conversation_id"`
	MessageType    int       `bun:"message_type"`
	SenderType     string    `bun:"sender_type"`
	SenderID       int64     `bun:"sender_id"`
	SourceID       string    `bun:"source_id"`
	CreatedAt      time.Time `bun:"created_at"`
	UpdatedAt      time.Time `bun:"updated_at"`
}

// Label is a row of the labels table.
type Label struct {
	bun.BaseModel `bun:"table:labels,alias:labels"`

	ID            int64     `bun:"id,pk,autoincrement"`
	Title         string    `bun:"title"`
	Color         string    `bun:"color"`
	ShowOnSidebar bool      `bun:"show_on_sidebar"`
	AccountID     int64     `bun:"account_id"`
	CreatedAt     time.Time `bun:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at"`
}

// Tag is a row of the tags table.
type Tag struct {
	bun.BaseModel `bun:"table:tags,alias:tags"`

	ID            int64  `bun:"id,pk,autoincrement"`
	Name          string `bun:"name"`
	TaggingsCount int    `bun:"taggings_count"`
}

// Tagging attaches a tag to a contact.
type Tagging struct {
	bun.BaseModel `bun:"table:taggings,alias:taggings"`

	ID           int64     `bun:"id,pk,autoincrement"`
	TagID        int64     `bun:"tag_id"`
	TaggableType string    `bun:"taggable_type"`
	TaggableID   int64     `bun:"taggable_id"`
	Context      string    `bun:"context"`
	CreatedAt    time.Time `bun:"created_at"`
}

// AccountUser links a user to an account with a role.
type AccountUser struct {
	bun.BaseModel `bun:"table:account_users,alias:account_users"`

	ID        int64 `bun:"id,pk,autoincrement"`
	AccountID int64 `bun:"account_id"`
	UserID    int64 `bun:"user_id"`
	Role      int   `bun:"role"`
}

// FkPair is the resolved contact and conversation of one phone number.
type FkPair struct {
	ContactID      int64
	ConversationID int64
}

// PhoneKey describes a phone number to resolve.
type PhoneKey struct {
	Phone      string
	Identifier string
	Name       string
	FirstAt    time.Time
}

// ResolveRequest asks for the FkPair of each key in one account inbox.
type ResolveRequest struct {
	AccountID int64
	InboxID   int64
	Keys      []PhoneKey
}

// MessageSlot is where a stored message sits in its conversation.
type MessageSlot struct {
	ConversationID int64     `bun:"conversation_id"`
	SourceID       string    `bun:"source_id"`
	CreatedAt      time.Time `bun:"created_at"`
}
