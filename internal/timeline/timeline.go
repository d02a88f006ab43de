// Package timeline merges the live tail of a conversation with older pages
// loaded on demand, the way a chat view renders them.
package timeline

import (
	"slices"
	"sync"

	"github.com/npezzotti/go-convo/internal/types"
)

// AutoScrollThreshold is how close, in pixels, the viewport must be to the
// bottom for a new message to scroll it, and to the top for an older page
// to load.
const AutoScrollThreshold = 200

// Timeline holds the newest page of a conversation, which a live
// subscription replaces wholesale, and the older pages fetched through
// continue cursors.
type Timeline struct {
	mu    sync.RWMutex
	tail  []types.Message
	older []types.Message
}

func New() *Timeline {
	return &Timeline{}
}

// SetTail replaces the live window. Messages that slide out of the window
// are kept in the older list, and older messages that now appear in the
// tail are dropped from it.
func (t *Timeline) SetTail(msgs []types.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := slices.Clone(msgs)
	inTail := ids(next)
	t.older = slices.DeleteFunc(t.older, func(m types.Message) bool {
		return inTail[m.Id]
	})
	for _, m := range t.tail {
		if !inTail[m.Id] {
			t.older = append(t.older, m)
		}
	}
	sortAscending(t.older)
	t.tail = next
}

// PrependOlder splices a page of older messages above everything held,
// skipping ids that are already present.
func (t *Timeline) PrependOlder(msgs []types.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := ids(t.tail)
	for _, m := range t.older {
		seen[m.Id] = true
	}

	var fresh []types.Message
	for _, m := range msgs {
		if seen[m.Id] {
			continue
		}
		seen[m.Id] = true
		fresh = append(fresh, m)
	}

	t.older = append(fresh, t.older...)
	sortAscending(t.older)
}

// Messages returns every held message in ascending (createdAt, id) order.
func (t *Timeline) Messages() []types.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	all := make([]types.Message, 0, len(t.older)+len(t.tail))
	all = append(all, t.older...)
	all = append(all, t.tail...)
	sortAscending(all)
	return all
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.older) + len(t.tail)
}

// ShouldAutoScroll reports whether the view should jump to the bottom:
// always on the initial load, otherwise only when a new message arrived
// while the viewport was within AutoScrollThreshold of the bottom.
func ShouldAutoScroll(initial, newArrived bool, distanceFromBottom int) bool {
	if initial {
		return true
	}
	return newArrived && distanceFromBottom <= AutoScrollThreshold
}

// ShouldLoadOlder reports whether scrolling near the top should fetch the
// next older page. hasMore is false once the continue cursor is exhausted.
func ShouldLoadOlder(scrollTop int, hasMore bool) bool {
	return hasMore && scrollTop < AutoScrollThreshold
}

func ids(msgs []types.Message) map[int]bool {
	set := make(map[int]bool, len(msgs))
	for _, m := range msgs {
		set[m.Id] = true
	}
	return set
}

func sortAscending(msgs []types.Message) {
	slices.SortStableFunc(msgs, func(a, b types.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return a.Id - b.Id
	})
}
