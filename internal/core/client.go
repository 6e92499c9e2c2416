package core

// Client is one live connection as seen by the core layer. ID is assigned
// by the server and stable for the connection's lifetime; Label is whatever
// the participant announced in its last join.
type Client struct {
	ID       string
	Label    string
	Commands chan *Command
	Events   chan *Event
	Rooms    map[string]struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(id string) *Client {
	return &Client{
		ID:       id,
		Commands: make(chan *Command, 8),
		Events:   make(chan *Event, 16),
		Rooms:    make(map[string]struct{}),
	}
}
