package usersync

import (
	"fmt"
	"strings"

	"github.com/rosterhq/roster/internal/keycloak"
)

// User is one canonical snapshot record handed to the engine: the subset of
// an identity provider user the directory cares about.
type User struct {
	ProviderID string
	Email      string
	Name       string
	AvatarURL  string
}

// avatarAttributes are the user-attribute keys checked for an avatar URL, in
// order of preference. Keycloak stores custom profile fields as free-form
// attributes, so deployments differ in which key they use.
var avatarAttributes = []string{"avatarUrl", "picture"}

// Normalize converts raw provider records into snapshot records. Records
// without an email address cannot be reconciled (email is the secondary
// match key) and are dropped, each contributing an error string that names
// the provider-side ID so the record can be found in the IdP.
func Normalize(records []keycloak.User) ([]User, []string) {
	users := make([]User, 0, len(records))
	var errs []string
	for _, rec := range records {
		if strings.TrimSpace(rec.Email) == "" {
			errs = append(errs, fmt.Sprintf("Skipping user %s: no email address", rec.ID))
			continue
		}
		users = append(users, User{
			ProviderID: rec.ID,
			Email:      rec.Email,
			Name:       displayName(rec),
			AvatarURL:  avatarURL(rec),
		})
	}
	return users, errs
}

// displayName composes a human-readable name from the record: "first last"
// when both parts are present, then each part alone, then the username, then
// the email, then a fixed fallback.
func displayName(rec keycloak.User) string {
	first := strings.TrimSpace(rec.FirstName)
	last := strings.TrimSpace(rec.LastName)
	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	case last != "":
		return last
	case rec.Username != "":
		return rec.Username
	case rec.Email != "":
		return rec.Email
	default:
		return "Unknown User"
	}
}

// avatarURL picks the avatar from the record's free-form attributes.
func avatarURL(rec keycloak.User) string {
	for _, key := range avatarAttributes {
		if vals := rec.Attributes[key]; len(vals) > 0 && vals[0] != "" {
			return vals[0]
		}
	}
	return ""
}
