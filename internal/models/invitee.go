package models

import "strings"

// Invitee identifies who an invitation targets: an existing account or, until
// one exists, a bare email address. Exactly one of the two is ever set.
type Invitee struct {
	userID string
	email  string
}

// InviteeByUser targets an existing account.
func InviteeByUser(userID string) Invitee {
	return Invitee{userID: strings.TrimSpace(userID)}
}

// InviteeByEmail targets an email address that has no account yet. The address
// is normalised to lower case so identity comparisons are case-insensitive.
func InviteeByEmail(email string) Invitee {
	return Invitee{email: strings.ToLower(strings.TrimSpace(email))}
}

// UserID returns the target account id, if the invitee is account-addressed.
func (i Invitee) UserID() (string, bool) {
	return i.userID, i.userID != ""
}

// Email returns the normalised target address, if the invitee is email-addressed.
func (i Invitee) Email() (string, bool) {
	return i.email, i.userID == "" && i.email != ""
}

// IsZero reports whether neither form was provided.
func (i Invitee) IsZero() bool {
	return i.userID == "" && i.email == ""
}

// Key is the identity used for duplicate-invitation detection: the user id
// when account-addressed, else the lower-cased email.
func (i Invitee) Key() string {
	if i.userID != "" {
		return i.userID
	}
	return i.email
}
