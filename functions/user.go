package functions

import (
	"encoding/json"
	"strings"

	"github.com/goliatone/go-userhooks/core"
)

type emailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

// providerUser is the identity provider's user object carried in "data".
type providerUser struct {
	ID                    string         `json:"id"`
	FirstName             string         `json:"first_name"`
	LastName              string         `json:"last_name"`
	ImageURL              string         `json:"image_url"`
	EmailAddresses        []emailAddress `json:"email_addresses"`
	PrimaryEmailAddressID string         `json:"primary_email_address_id"`
	Deleted               bool           `json:"deleted"`
}

// UserFromEvent extracts the user id and persisted attributes from a
// created or updated event.
func UserFromEvent(event core.CanonicalEvent) (string, core.UserAttributes, error) {
	user, err := decodeUser(event)
	if err != nil {
		return "", core.UserAttributes{}, err
	}
	email := user.primaryEmail()
	if email == "" {
		return "", core.UserAttributes{}, core.MalformedEnvelope("user payload has no email address", map[string]any{
			"user_id":    user.ID,
			"event_type": string(event.EventType),
		})
	}
	return user.ID, core.UserAttributes{
		Name:     user.displayName(email),
		ImageURL: strings.TrimSpace(user.ImageURL),
		Email:    email,
	}, nil
}

// UserIDFromEvent extracts only the user id, as carried by deleted events.
func UserIDFromEvent(event core.CanonicalEvent) (string, error) {
	user, err := decodeUser(event)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func decodeUser(event core.CanonicalEvent) (providerUser, error) {
	if len(event.Data) == 0 || string(event.Data) == "null" {
		return providerUser{}, core.MalformedEnvelope("event data is required", map[string]any{"event_type": string(event.EventType)})
	}
	var user providerUser
	if err := json.Unmarshal(event.Data, &user); err != nil {
		return providerUser{}, core.MalformedEnvelope("event data is not a user object", map[string]any{
			"event_type": string(event.EventType),
			"cause":      err.Error(),
		})
	}
	user.ID = strings.TrimSpace(user.ID)
	if user.ID == "" {
		return providerUser{}, core.MalformedEnvelope("user id is required", map[string]any{"event_type": string(event.EventType)})
	}
	return user, nil
}

func (u providerUser) primaryEmail() string {
	for _, address := range u.EmailAddresses {
		if u.PrimaryEmailAddressID != "" && address.ID == u.PrimaryEmailAddressID {
			return strings.TrimSpace(address.EmailAddress)
		}
	}
	for _, address := range u.EmailAddresses {
		if email := strings.TrimSpace(address.EmailAddress); email != "" {
			return email
		}
	}
	return ""
}

func (u providerUser) displayName(email string) string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}

func attributesMap(attrs core.UserAttributes) map[string]any {
	return map[string]any{
		"name":      attrs.Name,
		"image_url": attrs.ImageURL,
		"email":     attrs.Email,
	}
}
