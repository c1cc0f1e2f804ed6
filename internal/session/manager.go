// Package session owns the in-memory multi-conversation state for one
// identity and keeps it reconciled against the remote session store. The
// in-memory state is authoritative: remote failures degrade to logged,
// best-effort inconsistency and never abort a user flow.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/baonguyen3197/Cloud-Kinetics/internal/domain"
)

// SessionStore is the persistence capability the manager reconciles against.
// *repository.SessionStore satisfies this interface.
type SessionStore interface {
	Put(ctx context.Context, rec domain.SessionRecord) error
	QueryByIdentity(ctx context.Context, identity string) ([]domain.SessionRecord, error)
	DeleteByChatName(ctx context.Context, identity, chatName string) (int, error)
	DeleteAllForIdentity(ctx context.Context, identity string) (int, error)
}

// PendingRef identifies a question awaiting its answer: the conversation it
// was appended to and its position in that conversation's message list.
type PendingRef struct {
	Chat  string
	Index int
}

// Manager holds one identity's conversations, the current-conversation
// pointer and the conversation-name to session-id mapping. All exported
// methods are safe for concurrent use; locking never crosses identities.
type Manager struct {
	identity string
	store    SessionStore
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	mu         sync.Mutex
	titles     []string // insertion order; authoritative for delete reindexing
	chats      map[string][]domain.QA
	current    string
	sessionIDs map[string]string
	processing bool
}

type ManagerOption func(*Manager)

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) {
		m.observer = o
	}
}

func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a manager for one identity. Call Load before use to
// hydrate from the remote store.
func NewManager(identity string, store SessionStore, opts ...ManagerOption) (*Manager, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, errors.New("session: identity must not be empty")
	}
	if store == nil {
		return nil, errors.New("session: store must not be nil")
	}
	m := &Manager{
		identity:   identity,
		store:      store,
		logger:     slog.Default(),
		observer:   LogObserver{},
		now:        time.Now,
		chats:      make(map[string][]domain.QA),
		sessionIDs: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.observer == nil {
		m.observer = NopObserver{}
	}
	return m, nil
}

// Identity returns the opaque identity this manager is scoped to.
func (m *Manager) Identity() string {
	return m.identity
}

// Load rebuilds the in-memory state from the remote store. Records arrive
// ascending by session id; the first one becomes current. Duplicate chat
// names are disambiguated by suffixing the session id. A failed query falls
// back to the default conversation without persisting, so the manager is
// always usable even when the store is unreachable at startup.
func (m *Manager) Load(ctx context.Context) {
	recs, err := m.store.QueryByIdentity(ctx, m.identity)

	m.mu.Lock()
	if err != nil {
		m.logger.Error("loading sessions failed, starting with default conversation", "identity", m.identity, "err", err)
		m.initDefaultLocked()
		m.unlockAndNotify()
		return
	}
	if len(recs) == 0 {
		m.initDefaultLocked()
		rec := m.recordForLocked(domain.DefaultChatName)
		m.unlockAndNotify()
		m.persistBestEffort(ctx, rec)
		return
	}

	for _, rec := range recs {
		name := rec.ChatName
		if name == "" {
			name = rec.SessionID
		}
		if _, exists := m.chats[name]; exists {
			name = fmt.Sprintf("%s (%s)", name, rec.SessionID)
		}
		m.titles = append(m.titles, name)
		m.chats[name] = append([]domain.QA(nil), rec.Messages...)
		m.sessionIDs[name] = rec.SessionID
	}
	m.current = m.titles[0]
	m.unlockAndNotify()
}

// Create adds an empty conversation and makes it current. Empty and
// duplicate names are rejected with a logged warning and no state change.
// The remote write is best-effort: a failed persist leaves the conversation
// in place locally, with the allocated session id available for retry.
func (m *Manager) Create(ctx context.Context, name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		m.logger.Warn("new chat name is empty")
		return false
	}

	m.mu.Lock()
	if _, exists := m.chats[name]; exists {
		m.mu.Unlock()
		m.logger.Warn("chat already exists", "name", name)
		return false
	}
	m.titles = append(m.titles, name)
	m.chats[name] = []domain.QA{}
	m.current = name
	sid := domain.NewSessionID(m.now())
	m.sessionIDs[name] = sid
	rec := m.recordForLocked(name)
	m.unlockAndNotify()

	m.logger.Info("created chat", "name", name, "session_id", sid)
	m.persistBestEffort(ctx, rec)
	return true
}

// Delete removes the named conversation, defaulting to the current one when
// name is empty. The replacement current conversation is the one occupying
// the deleted slot's position, falling back to the new last element. An
// emptied map recovers to the default conversation.
func (m *Manager) Delete(ctx context.Context, name string) {
	m.mu.Lock()
	if name == "" {
		name = m.current
	}
	if _, exists := m.chats[name]; !exists {
		m.mu.Unlock()
		m.logger.Warn("attempted to delete non-existent chat", "name", name)
		return
	}

	idx := 0
	for i, t := range m.titles {
		if t == name {
			idx = i
			break
		}
	}
	m.titles = append(m.titles[:idx], m.titles[idx+1:]...)
	delete(m.chats, name)
	delete(m.sessionIDs, name)
	m.logger.Info("deleted chat", "name", name)

	var recoveryRec *domain.SessionRecord
	if len(m.titles) == 0 {
		m.initDefaultLocked()
		rec := m.recordForLocked(domain.DefaultChatName)
		recoveryRec = &rec
		m.logger.Info("no chats remain, created default conversation")
	} else {
		if idx > len(m.titles)-1 {
			idx = len(m.titles) - 1
		}
		m.current = m.titles[idx]
		m.logger.Info("switched to chat", "name", m.current)
	}
	m.unlockAndNotify()

	if _, err := m.store.DeleteByChatName(ctx, m.identity, name); err != nil {
		m.logger.Error("deleting remote session records failed", "name", name, "err", err)
	}
	if recoveryRec != nil {
		m.persistBestEffort(ctx, *recoveryRec)
	}
}

// SetCurrent switches the current conversation without remote I/O. An
// unknown name is a defensive fallback for stale UI references: an empty map
// recovers to the default conversation, otherwise the first existing one
// becomes current.
func (m *Manager) SetCurrent(ctx context.Context, name string) {
	m.mu.Lock()
	if _, exists := m.chats[name]; exists {
		m.current = name
		m.unlockAndNotify()
		return
	}
	m.logger.Warn("chat does not exist", "name", name)
	if len(m.titles) == 0 {
		m.initDefaultLocked()
		rec := m.recordForLocked(domain.DefaultChatName)
		m.unlockAndNotify()
		m.persistBestEffort(ctx, rec)
		return
	}
	m.current = m.titles[0]
	m.logger.Info("switched to chat", "name", m.current)
	m.unlockAndNotify()
}

// Reset discards every conversation, locally and (best-effort) remotely, and
// re-initializes to the single default conversation. The in-memory reset
// always succeeds.
func (m *Manager) Reset(ctx context.Context) {
	m.mu.Lock()
	m.initDefaultLocked()
	m.processing = false
	rec := m.recordForLocked(domain.DefaultChatName)
	m.unlockAndNotify()
	m.logger.Info("session reset to default state", "identity", m.identity)

	if _, err := m.store.DeleteAllForIdentity(ctx, m.identity); err != nil {
		m.logger.Error("deleting remote session records failed", "identity", m.identity, "err", err)
	}
	m.persistBestEffort(ctx, rec)
}

// AppendPending appends a question with an empty answer to the current
// conversation and returns a reference for the eventual answer write-back.
// An empty question is rejected with no state change.
func (m *Manager) AppendPending(question string) (PendingRef, bool) {
	question = strings.TrimSpace(question)
	if question == "" {
		m.logger.Warn("question is empty")
		return PendingRef{}, false
	}

	m.mu.Lock()
	if len(m.titles) == 0 {
		m.initDefaultLocked()
	}
	chat := m.current
	m.chats[chat] = append(m.chats[chat], domain.QA{Question: question})
	ref := PendingRef{Chat: chat, Index: len(m.chats[chat]) - 1}
	m.unlockAndNotify()
	return ref, true
}

// RecordAnswer fills in the answer for a previously appended question and
// persists the conversation's full message list. The in-memory update is
// never rolled back; a failed persist is logged and returned so callers can
// surface a warning.
func (m *Manager) RecordAnswer(ctx context.Context, ref PendingRef, answer string) error {
	m.mu.Lock()
	msgs, exists := m.chats[ref.Chat]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("session: record answer: chat %q no longer exists", ref.Chat)
	}
	if ref.Index < 0 || ref.Index >= len(msgs) {
		m.mu.Unlock()
		return fmt.Errorf("session: record answer: entry %d out of range for chat %q", ref.Index, ref.Chat)
	}
	msgs[ref.Index].Answer = answer

	// Lazy allocation: a conversation that was never synced gets its session
	// id here, so the persist below is a plain upsert.
	if _, ok := m.sessionIDs[ref.Chat]; !ok {
		m.sessionIDs[ref.Chat] = domain.NewSessionID(m.now())
	}
	rec := m.recordForLocked(ref.Chat)
	m.unlockAndNotify()

	if err := m.store.Put(ctx, rec); err != nil {
		m.logger.Error("persisting answered conversation failed", "chat", ref.Chat, "err", err)
		return fmt.Errorf("session: persist conversation %q: %w", ref.Chat, err)
	}
	return nil
}

// SetProcessing publishes the in-flight flag observers use to show a pending
// answer.
func (m *Manager) SetProcessing(processing bool) {
	m.mu.Lock()
	m.processing = processing
	m.unlockAndNotify()
}

// Snapshot returns a deep copy of the visible state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Current returns the name of the current conversation.
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// SessionID returns the remote handle for a conversation, when allocated.
func (m *Manager) SessionID(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sid, ok := m.sessionIDs[name]
	return sid, ok
}

func (m *Manager) initDefaultLocked() {
	m.titles = []string{domain.DefaultChatName}
	m.chats = map[string][]domain.QA{domain.DefaultChatName: {}}
	m.current = domain.DefaultChatName
	m.sessionIDs = map[string]string{domain.DefaultChatName: domain.NewIntrosID(m.now())}
}

// recordForLocked builds the full persisted record for a conversation from
// the in-memory copy. Callers must hold mu.
func (m *Manager) recordForLocked(name string) domain.SessionRecord {
	return domain.SessionRecord{
		Identity:  m.identity,
		SessionID: m.sessionIDs[name],
		ChatName:  name,
		Messages:  append([]domain.QA(nil), m.chats[name]...),
	}
}

func (m *Manager) snapshotLocked() Snapshot {
	chats := make(map[string][]domain.QA, len(m.chats))
	for name, msgs := range m.chats {
		chats[name] = append([]domain.QA(nil), msgs...)
	}
	return Snapshot{
		Identity:   m.identity,
		Titles:     append([]string(nil), m.titles...),
		Current:    m.current,
		Chats:      chats,
		Processing: m.processing,
	}
}

// unlockAndNotify releases the lock and publishes the snapshot taken at
// release time, keeping the observer callback outside the critical section.
func (m *Manager) unlockAndNotify() {
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.observer.StateChanged(snap)
}

func (m *Manager) persistBestEffort(ctx context.Context, rec domain.SessionRecord) {
	if err := m.store.Put(ctx, rec); err != nil {
		m.logger.Error("persisting session record failed", "chat", rec.ChatName, "session_id", rec.SessionID, "err", err)
	}
}
