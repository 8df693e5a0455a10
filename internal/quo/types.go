package quo

import "strings"

// ContactField is a labeled value on a contact (phone number, email).
type ContactField struct {
	Name  string `json:"name,omitempty"`
	Value string `json:"value"`
}

// Contact is a Quo contact record. ExternalID carries the upstream CRM
// identity so replayed upserts converge on the same contact.
type Contact struct {
	ID           string         `json:"id,omitempty"`
	ExternalID   string         `json:"externalId"`
	Source       string         `json:"source,omitempty"`
	FirstName    string         `json:"firstName,omitempty"`
	LastName     string         `json:"lastName,omitempty"`
	Company      string         `json:"company,omitempty"`
	Role         string         `json:"role,omitempty"`
	PhoneNumbers []ContactField `json:"phoneNumbers,omitempty"`
	Emails       []ContactField `json:"emails,omitempty"`
}

// PrimaryPhoneNumber returns the first non-empty phone value, or "".
func (c Contact) PrimaryPhoneNumber() string {
	for _, field := range c.PhoneNumbers {
		if v := strings.TrimSpace(field.Value); v != "" {
			return v
		}
	}
	return ""
}

// PhoneNumber is a Quo phone-number resource; webhook subscriptions filter
// events by its ID.
type PhoneNumber struct {
	ID     string `json:"id"`
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
	UserID string `json:"userId,omitempty"`
}

// ListContactsRequest filters contacts by upstream identity.
type ListContactsRequest struct {
	ExternalIDs []string
	MaxResults  int
}

// WebhookRequest creates one event subscription.
type WebhookRequest struct {
	URL         string   `json:"url"`
	Events      []string `json:"events"`
	Label       string   `json:"label,omitempty"`
	ResourceIDs []string `json:"resourceIds,omitempty"`
}

// Webhook is a created subscription; Key signs deliveries.
type Webhook struct {
	ID          string   `json:"id"`
	Key         string   `json:"key,omitempty"`
	URL         string   `json:"url"`
	Events      []string `json:"events,omitempty"`
	Label       string   `json:"label,omitempty"`
	ResourceIDs []string `json:"resourceIds,omitempty"`
}
