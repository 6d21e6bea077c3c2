package collab

import "flowdesk/api/internal/store"

// PresenceUser is the public shape of a connected user.
type PresenceUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

func presenceUser(user store.User) PresenceUser {
	return PresenceUser{ID: user.ID, Name: user.Name, Color: user.Color}
}

// roomUsers lists the distinct users in a room. A user with two tabs
// open appears once.
func (h *Hub) roomUsers(documentID string) []PresenceUser {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]bool)
	users := make([]PresenceUser, 0, len(h.rooms[documentID]))
	for client := range h.rooms[documentID] {
		if seen[client.user.ID] {
			continue
		}
		seen[client.user.ID] = true
		users = append(users, presenceUser(client.user))
	}
	return users
}

func (h *Hub) broadcastPresence(documentID string) {
	h.broadcast(documentID, "document-users-updated", map[string]interface{}{
		"users": h.roomUsers(documentID),
	}, nil)
}
