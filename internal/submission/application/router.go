package application

import (
	"errors"

	formula "mabis-registry/internal/formula/domain"
	"mabis-registry/internal/notify"
)

// Router resolves which market parties receive a registration notice.
// Routing is category driven: each category maps to recipient roles, and
// every configured recipient holding one of those roles is addressed.
type Router struct {
	config     Config
	recipients []notify.Recipient
}

// NewRouter constructs a router from config.
func NewRouter(config Config) (*Router, error) {
	for _, recipient := range config.Recipients {
		if recipient.PartyID == "" {
			return nil, errors.New("router: recipient without partyId")
		}
	}
	return &Router{config: config, recipients: config.Recipients}, nil
}

// Recipients returns the parties to notify for one formula. The sender
// never receives its own registration notice.
func (r *Router) Recipients(f *formula.Formula, senderID string) []notify.Recipient {
	if r == nil || f == nil {
		return nil
	}
	roles := r.config.RolesForCategory(string(f.Category))
	roleSet := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		roleSet[role] = struct{}{}
	}
	var out []notify.Recipient
	for _, recipient := range r.recipients {
		if recipient.PartyID == senderID {
			continue
		}
		if _, ok := roleSet[recipient.Role]; !ok {
			continue
		}
		out = append(out, recipient)
	}
	return out
}
