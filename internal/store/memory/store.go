// Package memory implements domain.Store on process memory. Transactions
// run serially against a copy of the state that replaces the live state on
// commit, so a failed unit of work leaves nothing behind.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"zchat/internal/domain"
)

type conversationRow struct {
	id              string
	latestMessageID *string
	createdAt       time.Time
	updatedAt       time.Time
}

type state struct {
	users         map[string]domain.User
	conversations map[string]conversationRow
	// conversation id -> user id -> has seen latest message
	participants map[string]map[string]bool
	messages     map[string]domain.Message
}

func newState() *state {
	return &state{
		users:         make(map[string]domain.User),
		conversations: make(map[string]conversationRow),
		participants:  make(map[string]map[string]bool),
		messages:      make(map[string]domain.Message),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.conversations {
		c.conversations[k] = v
	}
	for k, members := range s.participants {
		m := make(map[string]bool, len(members))
		for uid, seen := range members {
			m[uid] = seen
		}
		c.participants[k] = m
	}
	for k, v := range s.messages {
		c.messages[k] = v
	}
	return c
}

// Store is an in-memory domain.Store.
type Store struct {
	mu   sync.RWMutex
	live *state
	auto *unit
}

var _ domain.Store = (*Store)(nil)

func New() *Store {
	s := &Store{live: newState()}
	s.auto = &unit{store: s}
	return s
}

func (s *Store) Users() domain.UserRepository                 { return userRepo{s.auto} }
func (s *Store) Conversations() domain.ConversationRepository { return conversationRepo{s.auto} }
func (s *Store) Participants() domain.ParticipantRepository   { return participantRepo{s.auto} }
func (s *Store) Messages() domain.MessageRepository           { return messageRepo{s.auto} }

// InTx runs fn against a private copy of the state. A nil return publishes
// the copy; any error discards it.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u := &unit{st: s.live.clone()}
	if err := fn(u); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.live = u.st
	return nil
}

func (s *Store) Close() error { return nil }

// unit is one view over the state: either a transaction copy (st set) or
// autocommit access to the live state guarded by the store lock.
type unit struct {
	store *Store
	st    *state
}

func (u *unit) Users() domain.UserRepository                 { return userRepo{u} }
func (u *unit) Conversations() domain.ConversationRepository { return conversationRepo{u} }
func (u *unit) Participants() domain.ParticipantRepository   { return participantRepo{u} }
func (u *unit) Messages() domain.MessageRepository           { return messageRepo{u} }

func (u *unit) read() (*state, func()) {
	if u.store == nil {
		return u.st, func() {}
	}
	u.store.mu.RLock()
	return u.store.live, u.store.mu.RUnlock
}

func (u *unit) write() (*state, func()) {
	if u.store == nil {
		return u.st, func() {}
	}
	u.store.mu.Lock()
	return u.store.live, u.store.mu.Unlock
}

func (s *state) summary(userID string) domain.UserSummary {
	if u, ok := s.users[userID]; ok {
		return u.Summary()
	}
	return domain.UserSummary{ID: userID}
}

func (s *state) populateMessage(m domain.Message) *domain.Message {
	m.Sender = s.summary(m.SenderID)
	return &m
}

func (s *state) populateConversation(row conversationRow) *domain.Conversation {
	c := &domain.Conversation{
		ID:           row.id,
		CreatedAt:    row.createdAt,
		UpdatedAt:    row.updatedAt,
		Participants: []domain.Participant{},
	}
	if row.latestMessageID != nil {
		id := *row.latestMessageID
		c.LatestMessageID = &id
		if m, ok := s.messages[id]; ok {
			c.LatestMessage = s.populateMessage(m)
		}
	}
	for uid, seen := range s.participants[row.id] {
		c.Participants = append(c.Participants, domain.Participant{
			ConversationID:       row.id,
			UserID:               uid,
			HasSeenLatestMessage: seen,
			User:                 s.summary(uid),
		})
	}
	sort.Slice(c.Participants, func(i, j int) bool {
		a, b := c.Participants[i], c.Participants[j]
		if a.User.Username != b.User.Username {
			return a.User.Username < b.User.Username
		}
		return a.UserID < b.UserID
	})
	return c
}

type userRepo struct{ u *unit }

func (r userRepo) Create(ctx context.Context, user *domain.User) error {
	st, done := r.u.write()
	defer done()
	if _, ok := st.users[user.ID]; ok {
		return domain.ErrConflict
	}
	for _, existing := range st.users {
		if user.Email != "" && strings.EqualFold(existing.Email, user.Email) {
			return domain.ErrConflict
		}
		if user.Username != "" && existing.Username == user.Username {
			return domain.ErrConflict
		}
	}
	st.users[user.ID] = *user
	return nil
}

func (r userRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	st, done := r.u.read()
	defer done()
	u, ok := st.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

func (r userRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	st, done := r.u.read()
	defer done()
	for _, u := range st.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r userRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	st, done := r.u.read()
	defer done()
	for _, u := range st.users {
		if username != "" && u.Username == username {
			return &u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r userRepo) SetUsername(ctx context.Context, id, username string) error {
	st, done := r.u.write()
	defer done()
	u, ok := st.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	for _, other := range st.users {
		if other.ID != id && other.Username == username {
			return domain.ErrConflict
		}
	}
	u.Username = username
	st.users[id] = u
	return nil
}

func (r userRepo) Search(ctx context.Context, query, excludeUsername string, limit int) ([]*domain.User, error) {
	st, done := r.u.read()
	defer done()
	q := strings.ToLower(query)
	var res []*domain.User
	for _, u := range st.users {
		if u.Username == "" || u.Username == excludeUsername {
			continue
		}
		if strings.Contains(strings.ToLower(u.Username), q) {
			u := u
			res = append(res, &u)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Username < res[j].Username })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (r userRepo) CountExisting(ctx context.Context, ids []string) (int, error) {
	st, done := r.u.read()
	defer done()
	n := 0
	for _, id := range ids {
		if _, ok := st.users[id]; ok {
			n++
		}
	}
	return n, nil
}

type conversationRepo struct{ u *unit }

func (r conversationRepo) Create(ctx context.Context, c *domain.Conversation) error {
	st, done := r.u.write()
	defer done()
	if _, ok := st.conversations[c.ID]; ok {
		return domain.ErrConflict
	}
	st.conversations[c.ID] = conversationRow{
		id:        c.ID,
		createdAt: c.CreatedAt,
		updatedAt: c.UpdatedAt,
	}
	st.participants[c.ID] = make(map[string]bool)
	return nil
}

func (r conversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	st, done := r.u.read()
	defer done()
	row, ok := st.conversations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return st.populateConversation(row), nil
}

func (r conversationRepo) Lock(ctx context.Context, id string) error {
	st, done := r.u.read()
	defer done()
	if _, ok := st.conversations[id]; !ok {
		return domain.ErrNotFound
	}
	return nil
}

func (r conversationRepo) ListForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	st, done := r.u.read()
	defer done()
	var res []*domain.Conversation
	for id, row := range st.conversations {
		if _, ok := st.participants[id][userID]; ok {
			res = append(res, st.populateConversation(row))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].UpdatedAt.Equal(res[j].UpdatedAt) {
			return res[i].UpdatedAt.After(res[j].UpdatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func (r conversationRepo) SetLatestMessage(ctx context.Context, id string, messageID *string, updatedAt time.Time) error {
	st, done := r.u.write()
	defer done()
	row, ok := st.conversations[id]
	if !ok {
		return domain.ErrNotFound
	}
	if messageID != nil {
		m, ok := st.messages[*messageID]
		if !ok || m.ConversationID != id {
			return domain.ErrInvalidInput
		}
		mid := *messageID
		row.latestMessageID = &mid
	} else {
		row.latestMessageID = nil
	}
	row.updatedAt = updatedAt
	st.conversations[id] = row
	return nil
}

func (r conversationRepo) Touch(ctx context.Context, id string, updatedAt time.Time) error {
	st, done := r.u.write()
	defer done()
	row, ok := st.conversations[id]
	if !ok {
		return domain.ErrNotFound
	}
	row.updatedAt = updatedAt
	st.conversations[id] = row
	return nil
}

func (r conversationRepo) Delete(ctx context.Context, id string) error {
	st, done := r.u.write()
	defer done()
	row, ok := st.conversations[id]
	if !ok {
		return domain.ErrNotFound
	}
	if row.latestMessageID != nil {
		// mirrors the foreign key from conversations to messages
		return domain.ErrInvalidInput
	}
	if len(st.participants[id]) > 0 {
		return domain.ErrInvalidInput
	}
	for _, m := range st.messages {
		if m.ConversationID == id {
			return domain.ErrInvalidInput
		}
	}
	delete(st.conversations, id)
	delete(st.participants, id)
	return nil
}

type participantRepo struct{ u *unit }

func (r participantRepo) Add(ctx context.Context, conversationID string, userIDs []string, hasSeen bool) error {
	st, done := r.u.write()
	defer done()
	members, ok := st.participants[conversationID]
	if !ok {
		return domain.ErrNotFound
	}
	for _, uid := range userIDs {
		if _, ok := st.users[uid]; !ok {
			return domain.ErrNotFound
		}
	}
	for _, uid := range userIDs {
		members[uid] = hasSeen
	}
	return nil
}

func (r participantRepo) Remove(ctx context.Context, conversationID string, userIDs []string) error {
	st, done := r.u.write()
	defer done()
	members := st.participants[conversationID]
	for _, uid := range userIDs {
		delete(members, uid)
	}
	return nil
}

func (r participantRepo) RemoveAll(ctx context.Context, conversationID string) error {
	st, done := r.u.write()
	defer done()
	if _, ok := st.participants[conversationID]; ok {
		st.participants[conversationID] = make(map[string]bool)
	}
	return nil
}

func (r participantRepo) ListUserIDs(ctx context.Context, conversationID string) ([]string, error) {
	st, done := r.u.read()
	defer done()
	ids := make([]string, 0, len(st.participants[conversationID]))
	for uid := range st.participants[conversationID] {
		ids = append(ids, uid)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r participantRepo) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	st, done := r.u.read()
	defer done()
	_, ok := st.participants[conversationID][userID]
	return ok, nil
}

func (r participantRepo) MarkSeen(ctx context.Context, conversationID, userID string) error {
	st, done := r.u.write()
	defer done()
	members := st.participants[conversationID]
	if _, ok := members[userID]; ok {
		members[userID] = true
	}
	return nil
}

func (r participantRepo) MarkSeenExclusive(ctx context.Context, conversationID, userID string) error {
	st, done := r.u.write()
	defer done()
	members := st.participants[conversationID]
	for uid := range members {
		members[uid] = uid == userID
	}
	return nil
}

type messageRepo struct{ u *unit }

func (r messageRepo) Create(ctx context.Context, m *domain.Message) error {
	st, done := r.u.write()
	defer done()
	if _, ok := st.messages[m.ID]; ok {
		return domain.ErrConflict
	}
	if _, ok := st.conversations[m.ConversationID]; !ok {
		return domain.ErrNotFound
	}
	stored := *m
	stored.Sender = domain.UserSummary{}
	st.messages[m.ID] = stored
	return nil
}

func (r messageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	st, done := r.u.read()
	defer done()
	m, ok := st.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return st.populateMessage(m), nil
}

func (r messageRepo) Latest(ctx context.Context, conversationID string) (*domain.Message, error) {
	st, done := r.u.read()
	defer done()
	var latest *domain.Message
	for _, m := range st.messages {
		if m.ConversationID != conversationID {
			continue
		}
		m := m
		if latest == nil || latest.Before(&m) {
			latest = &m
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return st.populateMessage(*latest), nil
}

func (r messageRepo) ListForConversation(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	st, done := r.u.read()
	defer done()
	var res []*domain.Message
	for _, m := range st.messages {
		if m.ConversationID == conversationID {
			res = append(res, st.populateMessage(m))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Before(res[j]) })
	if limit > 0 && len(res) > limit {
		res = res[len(res)-limit:]
	}
	return res, nil
}

func (r messageRepo) Delete(ctx context.Context, id string) error {
	st, done := r.u.write()
	defer done()
	m, ok := st.messages[id]
	if !ok {
		return domain.ErrNotFound
	}
	if row := st.conversations[m.ConversationID]; row.latestMessageID != nil && *row.latestMessageID == id {
		return domain.ErrInvalidInput
	}
	delete(st.messages, id)
	return nil
}

func (r messageRepo) DeleteAll(ctx context.Context, conversationID string) error {
	st, done := r.u.write()
	defer done()
	if row := st.conversations[conversationID]; row.latestMessageID != nil {
		return domain.ErrInvalidInput
	}
	for id, m := range st.messages {
		if m.ConversationID == conversationID {
			delete(st.messages, id)
		}
	}
	return nil
}
