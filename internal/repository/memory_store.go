package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/domain"
)

// MemoryStore keeps conversations and messages in process memory. Used for
// local runs without Mongo and in tests.
type MemoryStore struct {
	mu            sync.RWMutex
	messages      map[string]*domain.Message
	byConv        map[string][]string
	conversations map[string]*domain.Conversation
	byPair        map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:      make(map[string]*domain.Message),
		byConv:        make(map[string][]string),
		conversations: make(map[string]*domain.Conversation),
		byPair:        make(map[string]string),
	}
}

func cloneMessage(m *domain.Message) *domain.Message {
	cp := *m
	return &cp
}

func cloneConversation(c *domain.Conversation) *domain.Conversation {
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	return &cp
}

func (s *MemoryStore) InsertMessage(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = cloneMessage(m)
	s.byConv[m.ConversationID] = append(s.byConv[m.ConversationID], m.ID)
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *MemoryStore) GetMessagesByIDs(_ context.Context, ids []string) (map[string]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*domain.Message, len(ids))
	for _, id := range ids {
		if m, ok := s.messages[id]; ok {
			out[id] = cloneMessage(m)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byConv[conversationID]
	out := make([]*domain.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneMessage(s.messages[id]))
	}
	return out, nil
}

func (s *MemoryStore) AdvanceStatus(_ context.Context, id string, status domain.Status, at time.Time) (*domain.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if !m.Status.Before(status) {
		return cloneMessage(m), false, nil
	}
	m.Status = status
	m.UpdatedAt = at
	return cloneMessage(m), true, nil
}

func (s *MemoryStore) MarkDelivered(_ context.Context, conversationID, receiverID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range s.byConv[conversationID] {
		m := s.messages[id]
		if m.ReceiverID == receiverID && m.Status == domain.StatusSent {
			m.Status = domain.StatusDelivered
			m.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) FindOrCreateConversation(_ context.Context, userA, userB string, at time.Time) (*domain.Conversation, error) {
	key := domain.PairKey(userA, userB)
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byPair[key]; ok {
		return cloneConversation(s.conversations[id]), nil
	}
	c := &domain.Conversation{
		ID:           uuid.NewString(),
		Participants: domain.SortedPair(userA, userB),
		PairKey:      key,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	s.conversations[c.ID] = c
	s.byPair[key] = c.ID
	return cloneConversation(c), nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(c), nil
}

func (s *MemoryStore) ListConversations(_ context.Context, userID string) ([]*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*domain.Conversation{}
	for _, c := range s.conversations {
		if c.HasParticipant(userID) {
			out = append(out, cloneConversation(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) SetLastMessage(_ context.Context, m *domain.Message, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[m.ConversationID]
	if !ok {
		return false, ErrNotFound
	}
	msgAt, id := domain.OrderKey(m)
	if c.LastMessageID != "" && !domain.NotOlder(msgAt, id, c.LastMessageAt, c.LastMessageID) {
		return false, nil
	}
	c.LastMessageID = id
	c.LastMessageAt = msgAt
	c.UpdatedAt = at
	return true, nil
}
