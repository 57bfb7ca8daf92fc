package bridge

import "github.com/efebarandurmaz/eos/internal/window"

// EventWindow is the window controller for UIs attached over /api/events.
// It forwards window commands as events; the UI performs them.
type EventWindow struct {
	hub     *Hub
	onClose func()
}

var _ window.Controller = (*EventWindow)(nil)

// NewEventWindow creates a controller publishing on hub. onClose runs after a
// close event was delivered and may be nil.
func NewEventWindow(hub *Hub, onClose func()) *EventWindow {
	return &EventWindow{hub: hub, onClose: onClose}
}

func (w *EventWindow) Minimize() error {
	if w.hub.Broadcast(&Event{Type: EventWindowMinimize}) == 0 {
		return window.ErrNotAttached
	}
	return nil
}

func (w *EventWindow) Close() error {
	if w.hub.Broadcast(&Event{Type: EventWindowClose}) == 0 {
		return window.ErrNotAttached
	}
	if w.onClose != nil {
		w.onClose()
	}
	return nil
}
