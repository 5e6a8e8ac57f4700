package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
	"github.com/fathima-sithara/tiffin-realtime/internal/conversation"
	"github.com/fathima-sithara/tiffin-realtime/internal/domain"
)

// prepareMessage validates input and builds the message to persist (no id or timestamps).
func prepareMessage(in domain.NewMessage) (*domain.Message, error) {
	body, kind, atts, err := in.Validate()
	if err != nil {
		return nil, err
	}
	convID, err := conversation.ID(in.Sender, in.Receiver)
	if err != nil {
		return nil, err
	}
	return &domain.Message{
		Sender:         in.Sender,
		Receiver:       in.Receiver,
		ConversationID: convID,
		Body:           body,
		Kind:           kind,
		Attachments:    atts,
		DeletedBy:      []string{},
	}, nil
}

type convLog struct {
	mu   sync.RWMutex
	msgs []*domain.Message // insertion order == (created_at, id) order
}

// MemoryMessageStore keeps one log per conversation; writers to different
// conversations only share the index lock for lookups.
type MemoryMessageStore struct {
	mu    sync.RWMutex
	convs map[string]*convLog
	index map[string]string // message id -> conversation id
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		convs: make(map[string]*convLog),
		index: make(map[string]string),
	}
}

func (s *MemoryMessageStore) log(convID string, create bool) *convLog {
	s.mu.RLock()
	l := s.convs[convID]
	s.mu.RUnlock()
	if l != nil || !create {
		return l
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l = s.convs[convID]; l == nil {
		l = &convLog{}
		s.convs[convID] = l
	}
	return l
}

func (s *MemoryMessageStore) Append(_ context.Context, in domain.NewMessage) (*domain.Message, error) {
	m, err := prepareMessage(in)
	if err != nil {
		return nil, err
	}
	l := s.log(m.ConversationID, true)

	l.mu.Lock()
	m.ID = newID()
	m.CreatedAt = nowUTC()
	m.UpdatedAt = m.CreatedAt
	l.msgs = append(l.msgs, m)
	out := m.Clone()
	l.mu.Unlock()

	s.mu.Lock()
	s.index[m.ID] = m.ConversationID
	s.mu.Unlock()
	return out, nil
}

// locate returns the log holding id; callers lock the log before touching the message.
func (s *MemoryMessageStore) locate(id string) (*convLog, error) {
	s.mu.RLock()
	convID, ok := s.index[id]
	l := s.convs[convID]
	s.mu.RUnlock()
	if !ok || l == nil {
		return nil, apperr.NotFound("message not found")
	}
	return l, nil
}

func findIn(l *convLog, id string) *domain.Message {
	for _, m := range l.msgs {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (s *MemoryMessageStore) Get(_ context.Context, id string) (*domain.Message, error) {
	l, err := s.locate(id)
	if err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	m := findIn(l, id)
	if m == nil {
		return nil, apperr.NotFound("message not found")
	}
	return m.Clone(), nil
}

func (s *MemoryMessageStore) ListByConversation(_ context.Context, convID, requester string, page, pageSize int) (*domain.Page, error) {
	if !conversation.IsParticipant(convID, requester) {
		return nil, apperr.Authorization("not authorized to access this conversation")
	}
	page, pageSize = domain.ClampPage(page, pageSize)
	out := &domain.Page{Messages: []*domain.Message{}, Page: page, PageSize: pageSize}

	l := s.log(convID, false)
	if l == nil {
		return out, nil
	}
	l.mu.RLock()
	visible := make([]*domain.Message, 0, len(l.msgs))
	for _, m := range l.msgs {
		if !m.DeletedFor(requester) {
			visible = append(visible, m)
		}
	}
	total := len(visible)
	end := total - (page-1)*pageSize
	if end > 0 {
		start := end - pageSize
		if start < 0 {
			start = 0
		}
		for _, m := range visible[start:end] {
			out.Messages = append(out.Messages, m.Clone())
		}
	}
	l.mu.RUnlock()

	out.Total = int64(total)
	out.Pages = domain.PageCount(out.Total, pageSize)
	return out, nil
}

func (s *MemoryMessageStore) MarkRead(_ context.Context, ids []string, reader string) ([]*domain.Message, error) {
	changed := []*domain.Message{}
	for _, id := range ids {
		l, err := s.locate(id)
		if err != nil {
			continue
		}
		l.mu.Lock()
		if m := findIn(l, id); m != nil && m.Receiver == reader && !m.IsRead {
			now := nowUTC()
			m.IsRead = true
			m.ReadAt = &now
			m.UpdatedAt = now
			changed = append(changed, m.Clone())
		}
		l.mu.Unlock()
	}
	return changed, nil
}

func (s *MemoryMessageStore) MarkConversationRead(ctx context.Context, convID, reader string) ([]*domain.Message, error) {
	if !conversation.IsParticipant(convID, reader) {
		return nil, apperr.Authorization("not authorized to access this conversation")
	}
	l := s.log(convID, false)
	if l == nil {
		return []*domain.Message{}, nil
	}
	l.mu.RLock()
	var ids []string
	for _, m := range l.msgs {
		if m.Receiver == reader && !m.IsRead {
			ids = append(ids, m.ID)
		}
	}
	l.mu.RUnlock()
	return s.MarkRead(ctx, ids, reader)
}

func (s *MemoryMessageStore) SoftDelete(_ context.Context, id, requester string) (*domain.Message, error) {
	l, err := s.locate(id)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	m := findIn(l, id)
	if m == nil {
		return nil, apperr.NotFound("message not found")
	}
	if !m.HasParticipant(requester) {
		return nil, apperr.Authorization("not authorized to delete this message")
	}
	if !m.DeletedFor(requester) {
		m.DeletedBy = append(m.DeletedBy, requester)
		m.UpdatedAt = nowUTC()
	}
	if len(m.DeletedBy) >= domain.MaxParticipants {
		m.IsDeleted = true
	}
	return m.Clone(), nil
}

func (s *MemoryMessageStore) Report(_ context.Context, id, reporter, reason string) (*domain.Message, error) {
	l, err := s.locate(id)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	m := findIn(l, id)
	if m == nil {
		return nil, apperr.NotFound("message not found")
	}
	m.IsReported = true
	m.ReportedBy = &reporter
	m.ReportReason = &reason
	m.UpdatedAt = nowUTC()
	return m.Clone(), nil
}

func (s *MemoryMessageStore) snapshot(userID string) map[string]*convLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*convLog)
	for id, l := range s.convs {
		if conversation.IsParticipant(id, userID) {
			out[id] = l
		}
	}
	return out
}

func (s *MemoryMessageStore) Conversations(_ context.Context, userID string) ([]domain.ConversationDigest, error) {
	digests := []domain.ConversationDigest{}
	for convID, l := range s.snapshot(userID) {
		d := domain.ConversationDigest{ConversationID: convID}
		l.mu.RLock()
		for i := len(l.msgs) - 1; i >= 0; i-- {
			m := l.msgs[i]
			if m.IsDeleted {
				continue
			}
			if d.LastMessage == nil {
				d.LastMessage = m.Clone()
			}
			if m.Receiver == userID && !m.IsRead {
				d.UnreadCount++
			}
		}
		l.mu.RUnlock()
		if d.LastMessage != nil {
			digests = append(digests, d)
		}
	}
	sort.Slice(digests, func(i, j int) bool {
		a, b := digests[i].LastMessage, digests[j].LastMessage
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID > b.ID
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return digests, nil
}

func (s *MemoryMessageStore) UnreadTotal(_ context.Context, userID string) (int64, error) {
	var n int64
	for _, l := range s.snapshot(userID) {
		l.mu.RLock()
		for _, m := range l.msgs {
			if m.Receiver == userID && !m.IsRead && !m.IsDeleted {
				n++
			}
		}
		l.mu.RUnlock()
	}
	return n, nil
}
