package session

import (
	"log/slog"

	"github.com/baonguyen3197/Cloud-Kinetics/internal/domain"
)

// Snapshot is an immutable copy of one identity's conversation state,
// published after every mutation. UI layers render snapshots; they never
// reach into the manager's internals.
type Snapshot struct {
	Identity   string                 `json:"identity"`
	Titles     []string               `json:"titles"`
	Current    string                 `json:"current"`
	Chats      map[string][]domain.QA `json:"chats"`
	Processing bool                   `json:"processing"`
}

// Observer receives state snapshots after each mutating operation.
// StateChanged is called outside the manager's lock, so implementations may
// call back into the manager, but they must be safe for concurrent use.
type Observer interface {
	StateChanged(snap Snapshot)
}

// NopObserver discards all notifications.
type NopObserver struct{}

func (NopObserver) StateChanged(Snapshot) {}

// LogObserver records each published snapshot at debug level. It is the
// default observer when none is configured.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) StateChanged(snap Snapshot) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("session state changed",
		"identity", snap.Identity,
		"current", snap.Current,
		"chats", len(snap.Titles),
		"processing", snap.Processing,
	)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Snapshot)

func (f ObserverFunc) StateChanged(snap Snapshot) { f(snap) }
