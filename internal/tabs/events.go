package tabs

import "fmt"

// EventKind enumerates host lifecycle notifications.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventRemoved   EventKind = "removed"
	EventUpdated   EventKind = "updated"
	EventMoved     EventKind = "moved"
	EventAttached  EventKind = "attached"
	EventDetached  EventKind = "detached"
	EventActivated EventKind = "activated"
)

// ChangeInfo lists the properties an updated event changed. Nil pointers
// mean "not part of this change".
type ChangeInfo struct {
	Pinned     *bool   `json:"pinned,omitempty"`
	Discarded  *bool   `json:"discarded,omitempty"`
	Status     *string `json:"status,omitempty"`
	Title      *string `json:"title,omitempty"`
	URL        *string `json:"url,omitempty"`
	FavIconURL *string `json:"favIconUrl,omitempty"`
}

// Event is one host lifecycle notification.
//
// WindowID carries the window the event refers to: the tab's window for
// created/updated/activated, removeInfo.windowId for removed, moveInfo.windowId
// for moved, newWindowId for attached and oldWindowId for detached.
type Event struct {
	Kind     EventKind   `json:"event"`
	TabID    TabID       `json:"tabId"`
	WindowID WindowID    `json:"windowId"`
	Tab      *Tab        `json:"tab,omitempty"`
	Change   *ChangeInfo `json:"changeInfo,omitempty"`
}

// Validate reports malformed events before they reach the view.
func (e Event) Validate() error {
	switch e.Kind {
	case EventCreated, EventUpdated:
		if e.Tab == nil {
			return fmt.Errorf("%s event without tab", e.Kind)
		}
	case EventRemoved, EventMoved, EventAttached, EventDetached, EventActivated:
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// Window returns the window an event refers to, falling back to the tab's
// own window when the event did not carry one.
func (e Event) Window() WindowID {
	if e.WindowID != 0 {
		return e.WindowID
	}
	if e.Tab != nil {
		return e.Tab.WindowID
	}
	return NoWindow
}

// ID returns the tab id an event refers to.
func (e Event) ID() TabID {
	if e.Tab != nil && e.TabID == 0 {
		return e.Tab.ID
	}
	return e.TabID
}
