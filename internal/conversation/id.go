// Package conversation derives the key shared by the two users of a direct conversation.
package conversation

import (
	"sort"
	"strings"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
)

// Separator never appears in user ids (Mongo ObjectID hex or uuid).
const Separator = "_"

// ID returns the symmetric conversation key for users a and b.
func ID(a, b string) (string, error) {
	if a == "" || b == "" {
		return "", apperr.Validation("conversation requires two user ids")
	}
	if strings.Contains(a, Separator) || strings.Contains(b, Separator) {
		return "", apperr.Validation("user id contains reserved separator")
	}
	if a == b {
		return "", apperr.Validation("a user cannot converse with themselves")
	}
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, Separator), nil
}

// MustID panics on invalid input.
func MustID(a, b string) string {
	id, err := ID(a, b)
	if err != nil {
		panic(err)
	}
	return id
}

// Participants splits a conversation id back into its two user ids.
func Participants(convID string) (string, string, error) {
	parts := strings.Split(convID, Separator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || parts[0] == parts[1] {
		return "", "", apperr.Validation("malformed conversation id")
	}
	return parts[0], parts[1], nil
}

func IsParticipant(convID, userID string) bool {
	a, b, err := Participants(convID)
	if err != nil {
		return false
	}
	return userID == a || userID == b
}

// Other returns the participant that is not userID.
func Other(convID, userID string) (string, error) {
	a, b, err := Participants(convID)
	if err != nil {
		return "", err
	}
	switch userID {
	case a:
		return b, nil
	case b:
		return a, nil
	}
	return "", apperr.Authorization("not a participant of this conversation")
}
