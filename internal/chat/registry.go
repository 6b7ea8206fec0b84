package chat

// Registry maps a user id to that user's live connection. Like Directory it
// is owned by the Hub loop.
type Registry struct {
	clients map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{clients: map[string]*Client{}}
}

// Register stores c under userID and returns the connection it displaced,
// if any.
func (r *Registry) Register(userID string, c *Client) *Client {
	prev := r.clients[userID]
	r.clients[userID] = c
	if prev == c {
		return nil
	}
	return prev
}

func (r *Registry) Unregister(userID string) {
	delete(r.clients, userID)
}

// UnregisterHandle removes userID only while c is still its registered
// connection, so a displaced connection cannot evict its successor.
func (r *Registry) UnregisterHandle(userID string, c *Client) bool {
	if r.clients[userID] != c {
		return false
	}
	delete(r.clients, userID)
	return true
}

// Lookup reports false when the user is offline.
func (r *Registry) Lookup(userID string) (*Client, bool) {
	c, ok := r.clients[userID]
	return c, ok
}

func (r *Registry) Len() int {
	return len(r.clients)
}
