package wa

import (
	"errors"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// ErrNotPhoneJID is returned for session identifiers that do not carry a phone
// number, such as groups, broadcasts, newsletters and LIDs.
var ErrNotPhoneJID = errors.New("wa: identifier is not a phone number JID")

// nonPhoneServers never carry a dialable phone number in the user part.
var nonPhoneServers = map[string]bool{
	types.GroupServer:      true,
	types.BroadcastServer:  true,
	types.NewsletterServer: true,
	types.HiddenUserServer: true,
	types.HostedLIDServer:  true,
}

// ParsePhoneJID parses a "<digits>@<domain>" identifier and strips any device
// or agent suffix.
func ParsePhoneJID(id string) (types.JID, error) {
	if strings.Count(id, "@") != 1 {
		return types.EmptyJID, fmt.Errorf("%w: %q", ErrNotPhoneJID, id)
	}
	jid, err := types.ParseJID(id)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("%w: %q: %v", ErrNotPhoneJID, id, err)
	}
	if jid.Server == "" || nonPhoneServers[jid.Server] || !isDigits(jid.User) {
		return types.EmptyJID, fmt.Errorf("%w: %q", ErrNotPhoneJID, id)
	}
	return jid.ToNonAD(), nil
}

// PhoneNumber derives the E.164-style phone number used as the reconciliation
// key: "5521999999999@s.whatsapp.net" becomes "+5521999999999".
func PhoneNumber(id string) (string, error) {
	jid, err := ParsePhoneJID(id)
	if err != nil {
		return "", err
	}
	return "+" + jid.User, nil
}

// Identifier returns the normalized session identifier ("<digits>@<domain>")
// stored on helpdesk contacts.
func Identifier(id string) (string, error) {
	jid, err := ParsePhoneJID(id)
	if err != nil {
		return "", err
	}
	return jid.User + "@" + jid.Server, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
