package message

import (
	"context"
	"sort"
	"sync"
	"time"

	chatmodel "MarketChat/module/chat/model"
	"MarketChat/tools/errs"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemStore 单机/测试用，语义与 MongoStore 一致
type MemStore struct {
	mu     sync.RWMutex
	byID   map[primitive.ObjectID]*chatmodel.Conversation
	byPair map[string]*chatmodel.Conversation
	msgs   map[primitive.ObjectID][]*chatmodel.MessageModel // conv -> 按 seq 升序
	byCID  map[string]*chatmodel.MessageModel                // conv|sender|cid -> msg
}

func NewMemStore() *MemStore {
	return &MemStore{
		byID:   make(map[primitive.ObjectID]*chatmodel.Conversation),
		byPair: make(map[string]*chatmodel.Conversation),
		msgs:   make(map[primitive.ObjectID][]*chatmodel.MessageModel),
		byCID:  make(map[string]*chatmodel.MessageModel),
	}
}

func keyCID(conv primitive.ObjectID, sender, cid string) string {
	return conv.Hex() + "|" + sender + "|" + cid
}

func cloneConv(c *chatmodel.Conversation) *chatmodel.Conversation {
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		cp.LastMessage = &lm
	}
	return &cp
}

func cloneMsg(m *chatmodel.MessageModel) *chatmodel.MessageModel {
	cp := *m
	return &cp
}

func (s *MemStore) GetOrCreate(_ context.Context, userA, userB string) (*chatmodel.Conversation, error) {
	if err := checkPair(userA, userB); err != nil {
		return nil, err
	}
	key := PairKey(userA, userB)

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byPair[key]; ok {
		return cloneConv(c), nil
	}
	now := time.Now()
	c := &chatmodel.Conversation{
		ID:           primitive.NewObjectID(),
		PairKey:      key,
		Participants: sortedPair(userA, userB),
		CreateTime:   now,
		UpdateTime:   now,
	}
	s.byPair[key] = c
	s.byID[c.ID] = c
	return cloneConv(c), nil
}

func (s *MemStore) Get(_ context.Context, conversationID string) (*chatmodel.Conversation, error) {
	oid, err := parseConvID(conversationID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[oid]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("conversation not found")
	}
	return cloneConv(c), nil
}

func (s *MemStore) Append(_ context.Context, in AppendParams) (*AppendResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	oid, err := parseConvID(in.ConversationID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[oid]
	if !ok || c.PairKey != PairKey(in.SenderID, in.RecipientID) {
		return nil, errs.ErrNotFound.WrapMsg("conversation not found")
	}
	var kcid string
	if in.ClientMsgID != "" {
		kcid = keyCID(oid, in.SenderID, in.ClientMsgID)
		if old, ok := s.byCID[kcid]; ok {
			return &AppendResult{Message: cloneMsg(old), Duplicate: true}, nil
		}
	}

	now := time.Now()
	c.MaxSeq++
	c.UpdateTime = now
	m := &chatmodel.MessageModel{
		ID:             primitive.NewObjectID(),
		ConversationID: oid,
		Seq:            c.MaxSeq,
		SenderID:       in.SenderID,
		ClientMsgID:    in.ClientMsgID,
		Text:           in.Text,
		SendTime:       in.SendTime,
		CreateTime:     now,
	}
	s.msgs[oid] = append(s.msgs[oid], m)
	if kcid != "" {
		s.byCID[kcid] = m
	}
	c.LastMessage = &chatmodel.LastMessage{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Text:      m.Text,
		SendTime:  m.SendTime,
		Seq:       m.Seq,
	}
	return &AppendResult{Message: cloneMsg(m)}, nil
}

func (s *MemStore) Messages(_ context.Context, conversationID string) ([]*chatmodel.MessageModel, error) {
	oid, err := parseConvID(conversationID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.byID[oid]; !ok {
		return nil, errs.ErrNotFound.WrapMsg("conversation not found")
	}
	src := s.msgs[oid]
	out := make([]*chatmodel.MessageModel, 0, len(src))
	for _, m := range src {
		out = append(out, cloneMsg(m))
	}
	return out, nil
}

func (s *MemStore) MarkViewed(_ context.Context, conversationID, readerID, peerID string) (int64, error) {
	if err := checkPair(readerID, peerID); err != nil {
		return 0, err
	}
	oid, err := parseConvID(conversationID)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[oid]
	if !ok || c.PairKey != PairKey(readerID, peerID) {
		return 0, errs.ErrNotFound.WrapMsg("conversation not found")
	}
	now := time.Now()
	var n int64
	for _, m := range s.msgs[oid] {
		if m.SenderID == peerID && !m.Viewed {
			m.Viewed = true
			vt := now
			m.ViewTime = &vt
			n++
		}
	}
	return n, nil
}

func (s *MemStore) Summaries(_ context.Context, userID string) ([]*Summary, error) {
	if !ValidID(userID) {
		return nil, errs.ErrInvalidArgument.WrapMsg("invalid user id")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Summary, 0)
	for _, c := range s.byID {
		if c.LastMessage == nil || !c.HasParticipant(userID) {
			continue
		}
		var unread int64
		for _, m := range s.msgs[c.ID] {
			if m.SenderID != userID && !m.Viewed {
				unread++
			}
		}
		out = append(out, &Summary{
			Conversation: cloneConv(c),
			PeerID:       c.PeerOf(userID),
			Unread:       unread,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Conversation.UpdateTime.After(out[j].Conversation.UpdateTime)
	})
	return out, nil
}
