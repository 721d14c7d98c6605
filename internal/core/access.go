package core

import "neuroprom.com/chat-api/internal/store"

// Caller is the resolved identity of whoever issued a request. The zero
// value is an anonymous caller.
type Caller struct {
	userID string
}

func Anonymous() Caller {
	return Caller{}
}

func AuthenticatedAs(userID string) Caller {
	return Caller{userID: userID}
}

// UserID reports the caller's user id and whether the caller is
// authenticated at all.
func (c Caller) UserID() (string, bool) {
	return c.userID, c.userID != ""
}

// CanAccess decides whether caller may read, append to, or delete chat.
// Anonymous chats are open to anyone holding their id; owned chats only
// to their owner.
func CanAccess(caller Caller, chat *store.Chat) bool {
	if chat.IsAnonymous {
		return true
	}
	id, ok := caller.UserID()
	return ok && chat.UserID != nil && *chat.UserID == id
}
