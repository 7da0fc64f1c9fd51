// Package importer moves staged WhatsApp data into the helpdesk database.
package importer

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	// ErrMessagesStaged is returned by a contact import while messages of
	// the same tenant are still staged. Messages must be imported first.
	ErrMessagesStaged = errors.New("importer: messages are staged for this tenant")

	// ErrNoActingUser is returned by a message import when the account has
	// no administrator to attribute outgoing messages to.
	ErrNoActingUser = errors.New("importer: account has no administrator")
)

const maxTitleLength = 255

// Options tunes the importers.
type Options struct {
	ContactChunkSize int
	MessageChunkSize int
	LabelColor       string
}

func (o Options) withDefaults() Options {
	if o.ContactChunkSize <= 0 {
		o.ContactChunkSize = 500
	}
	if o.MessageChunkSize <= 0 {
		o.MessageChunkSize = 2000
	}
	if o.LabelColor == "" {
		o.LabelColor = "#1F93FF"
	}
	return o
}

// ProvenanceTitle derives the label title and tag name that mark contacts
// imported for tenant: lowercased, spaces replaced by hyphens, at most 255
// characters.
func ProvenanceTitle(tenant string) string {
	title := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(tenant)), " ", "-")
	if utf8.RuneCountInString(title) <= maxTitleLength {
		return title
	}
	return string([]rune(title)[:maxTitleLength])
}
