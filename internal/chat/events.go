package chat

import (
	"fmt"
	"slices"
)

// Event announces a committed mutation. Keys name the entities whose
// queries may now return a different result.
type Event struct {
	Keys []string
}

type Notifier interface {
	Publish(ev Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(Event) {}

const UsersKey = "users"

func ConversationKey(id int) string { return fmt.Sprintf("conversation:%d", id) }
func UserKey(id int) string         { return fmt.Sprintf("user:%d", id) }
func MessageKey(id int) string      { return fmt.Sprintf("message:%d", id) }
func TypingKey(id int) string       { return fmt.Sprintf("typing:%d", id) }
func PresenceKey(id int) string     { return fmt.Sprintf("presence:%d", id) }

func newEvent(keys ...string) Event {
	return Event{Keys: keys}
}

func (ev *Event) add(keys ...string) {
	for _, k := range keys {
		if !slices.Contains(ev.Keys, k) {
			ev.Keys = append(ev.Keys, k)
		}
	}
}

// addMembers marks the conversation lists of the given members as stale.
func (ev *Event) addMembers(members []int) {
	for _, id := range members {
		ev.add(UserKey(id))
	}
}
