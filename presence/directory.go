// Package presence tracks which users are currently reachable and on which
// delivery channels. It is the relay's single shared mutable structure under
// concurrent connect/disconnect/send events.
package presence

import "sync"

// Directory maps a user id to the set of live channel ids for that user.
// A channel id belongs to at most one user at a time; joining an already-owned
// channel under a different user reassigns it (last writer wins). An entry is
// removed outright when its channel set empties, so "recipient offline" is an
// O(1) missing-key lookup.
type Directory struct {
	mu       sync.RWMutex
	channels map[string]map[string]struct{} // user id -> channel ids
	owners   map[string]string              // channel id -> user id
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{
		channels: make(map[string]map[string]struct{}),
		owners:   make(map[string]string),
	}
}

// Join adds channelID to userID's channel set, creating the entry if needed.
// Idempotent per channel id.
func (d *Directory) Join(userID, channelID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.owners[channelID]; ok {
		if prev == userID {
			return
		}
		d.removeLocked(prev, channelID)
	}

	set, ok := d.channels[userID]
	if !ok {
		set = make(map[string]struct{})
		d.channels[userID] = set
	}
	set[channelID] = struct{}{}
	d.owners[channelID] = userID
}

// Leave removes channelID from whichever user currently owns it. Leaving a
// channel that was never joined (or already left) is a no-op.
func (d *Directory) Leave(channelID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	userID, ok := d.owners[channelID]
	if !ok {
		return
	}
	d.removeLocked(userID, channelID)
}

func (d *Directory) removeLocked(userID, channelID string) {
	delete(d.owners, channelID)
	set, ok := d.channels[userID]
	if !ok {
		return
	}
	delete(set, channelID)
	if len(set) == 0 {
		delete(d.channels, userID)
	}
}

// ChannelsFor returns the live channel ids for userID. An offline user yields
// an empty slice, not an error.
func (d *Directory) ChannelsFor(userID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	set := d.channels[userID]
	out := make([]string, 0, len(set))
	for ch := range set {
		out = append(out, ch)
	}
	return out
}

// Online reports whether userID has at least one live channel.
func (d *Directory) Online(userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.channels[userID]
	return ok
}

// Users returns the ids of all users with at least one live channel.
func (d *Directory) Users() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.channels))
	for u := range d.channels {
		out = append(out, u)
	}
	return out
}

// Len returns the number of users currently present.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.channels)
}
