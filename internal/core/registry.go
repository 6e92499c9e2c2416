package core

import "sort"

// Registry is the process-wide mapping from room key to member connection
// ids. It is owned by the Hub and mutated only from the Hub's run goroutine,
// so it needs no locking of its own.
//
// Invariant: a room key is present iff its member set is non-empty.
type Registry struct {
	rooms map[string]map[string]struct{}
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]struct{}),
	}
}

// Join adds connectionID to the member set of roomKey, creating the room
// if it does not exist yet. Joining twice is a no-op.
func (r *Registry) Join(roomKey, connectionID string) {
	members, ok := r.rooms[roomKey]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomKey] = members
	}
	members[connectionID] = struct{}{}
}

// Leave removes connectionID from roomKey's member set. The room entry is
// deleted the moment it becomes empty. Leaving a room or connection that is
// already absent is a no-op, not an error.
func (r *Registry) Leave(connectionID, roomKey string) {
	members, ok := r.rooms[roomKey]
	if !ok {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(r.rooms, roomKey)
	}
}

// MembersOf returns the current member ids of roomKey, sorted for stable
// broadcasts. An unknown room yields an empty slice.
func (r *Registry) MembersOf(roomKey string) []string {
	members, ok := r.rooms[roomKey]
	if !ok {
		return []string{}
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Has reports whether roomKey currently exists.
func (r *Registry) Has(roomKey string) bool {
	_, ok := r.rooms[roomKey]
	return ok
}

// Rooms returns all current room keys, sorted.
func (r *Registry) Rooms() []string {
	keys := make([]string, 0, len(r.rooms))
	for key := range r.rooms {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
