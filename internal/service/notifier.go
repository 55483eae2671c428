// Package service contains the application services: sessions, accounts, tribes and messages.
package service

import (
	"github.com/gofrs/uuid/v5"

	"github.com/teatribe/tribes/internal/model"
)

// Realtime event names delivered to a tribe's live connections.
const (
	EventMessage        = "message"
	EventMessageDeleted = "messageDeleted"
	EventTribeUpdated   = "tribeUpdated"
	EventTribeDeleted   = "tribeDeleted"
)

// Notifier fans tribe events out to live connections and member devices.
// Both calls return immediately; delivery is best-effort.
type Notifier interface {
	// BroadcastToTribe sends event to every live connection in the tribe's group.
	BroadcastToTribe(tribeID uuid.UUID, event string, payload any)
	// PushToTribe sends a platform push to every member with a device binding except exclude.
	// An empty title is replaced with the tribe name.
	PushToTribe(tribeID, exclude uuid.UUID, tag model.MessageTag, title, body string)
}

// TribeUpdate is the payload of tribeUpdated and tribeDeleted events.
type TribeUpdate struct {
	TribeID     string `json:"tribeId"`
	TimestampID string `json:"timestampId,omitempty"`
}

// MessageDeleted is the payload of messageDeleted events.
type MessageDeleted struct {
	ID      string `json:"id"`
	TribeID string `json:"tribeId"`
}

func tribeUpdate(c model.TribeChange) (string, TribeUpdate) {
	if c.Deleted {
		return EventTribeDeleted, TribeUpdate{TribeID: c.TribeID.String()}
	}
	return EventTribeUpdated, TribeUpdate{TribeID: c.TribeID.String(), TimestampID: c.TimestampID.String()}
}

type nopNotifier struct{}

func (nopNotifier) BroadcastToTribe(uuid.UUID, string, any)                            {}
func (nopNotifier) PushToTribe(uuid.UUID, uuid.UUID, model.MessageTag, string, string) {}
