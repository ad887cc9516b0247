package service

import (
	"TelegramMini/internal/model"
	"TelegramMini/internal/pkg/mongo"
	"TelegramMini/internal/pkg/presence"
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"gorm.io/gorm"
)

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeConvRepo 内存版成员库
type fakeConvRepo struct {
	mu      sync.Mutex
	convs   map[string]*model.Conversation
	members map[string]map[string]*model.ConversationMember
	users   *fakeUserRepo

	touchErr     error
	incrementErr error
	isMemberErr  error
	touches      int
}

func newFakeConvRepo(users *fakeUserRepo) *fakeConvRepo {
	return &fakeConvRepo{
		convs:   make(map[string]*model.Conversation),
		members: make(map[string]map[string]*model.ConversationMember),
		users:   users,
	}
}

func (f *fakeConvRepo) CreateConversation(_ context.Context, conv *model.Conversation, members []*model.ConversationMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *conv
	stored.Members = nil
	f.convs[conv.ID] = &stored
	rows := make(map[string]*model.ConversationMember)
	for _, m := range members {
		if _, ok := rows[m.UserID]; ok {
			continue
		}
		m.ConversationID = conv.ID
		row := *m
		rows[m.UserID] = &row
	}
	f.members[conv.ID] = rows
	return nil
}

func (f *fakeConvRepo) GetConversation(_ context.Context, convID string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[convID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := *conv
	out.Members = f.memberRowsLocked(convID)
	return &out, nil
}

func (f *fakeConvRepo) memberRowsLocked(convID string) []model.ConversationMember {
	rows := make([]model.ConversationMember, 0, len(f.members[convID]))
	for _, m := range f.members[convID] {
		row := *m
		if u := f.users.get(m.UserID); u != nil {
			row.User = *u
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].JoinedAt.Equal(rows[j].JoinedAt) {
			return rows[i].JoinedAt.Before(rows[j].JoinedAt)
		}
		return rows[i].UserID < rows[j].UserID
	})
	return rows
}

func (f *fakeConvRepo) IsMember(_ context.Context, convID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.isMemberErr != nil {
		return false, f.isMemberErr
	}
	_, ok := f.members[convID][userID]
	return ok, nil
}

func (f *fakeConvRepo) JoinConversation(_ context.Context, convID, userID, role string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.convs[convID]; !ok {
		return false, gorm.ErrRecordNotFound
	}
	if _, ok := f.members[convID][userID]; ok {
		return false, nil
	}
	f.members[convID][userID] = &model.ConversationMember{
		ConversationID: convID,
		UserID:         userID,
		Role:           role,
		JoinedAt:       testNow.Add(time.Hour),
	}
	return true, nil
}

func (f *fakeConvRepo) UpdateLastReadMessage(_ context.Context, convID, userID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.members[convID][userID]; ok {
		id := messageID
		m.LastReadMessageID = &id
	}
	return nil
}

func (f *fakeConvRepo) IncrementUnread(_ context.Context, convID, excludeUserID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incrementErr != nil {
		return f.incrementErr
	}
	for id, m := range f.members[convID] {
		if id != excludeUserID {
			m.UnreadCount++
		}
	}
	return nil
}

func (f *fakeConvRepo) ResetUnread(_ context.Context, convID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.members[convID][userID]; ok {
		m.UnreadCount = 0
	}
	return nil
}

func (f *fakeConvRepo) TouchConversation(_ context.Context, convID, messageID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touchErr != nil {
		return f.touchErr
	}
	conv, ok := f.convs[convID]
	if !ok {
		return nil
	}
	if conv.LastMessageAt != nil && conv.LastMessageAt.After(at) {
		return nil
	}
	id := messageID
	conv.LastMessageID = &id
	conv.LastMessageAt = &at
	conv.UpdatedAt = at
	f.touches++
	return nil
}

func (f *fakeConvRepo) ListConversationsForUser(_ context.Context, userID string) ([]*model.ConversationMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rows []*model.ConversationMember
	for convID, members := range f.members {
		m, ok := members[userID]
		if !ok {
			continue
		}
		row := *m
		row.Conversation = *f.convs[convID]
		row.Conversation.Members = f.memberRowsLocked(convID)
		rows = append(rows, &row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Conversation.UpdatedAt.After(rows[j].Conversation.UpdatedAt)
	})
	return rows, nil
}

func (f *fakeConvRepo) ListConversationIDs(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for convID, members := range f.members {
		if _, ok := members[userID]; ok {
			ids = append(ids, convID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeConvRepo) member(convID, userID string) *model.ConversationMember {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[convID][userID]
	if !ok {
		return nil
	}
	row := *m
	return &row
}

func (f *fakeConvRepo) memberCount(convID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.members[convID])
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newFakeUserRepo(ids ...string) *fakeUserRepo {
	r := &fakeUserRepo{users: make(map[string]*model.User)}
	for _, id := range ids {
		r.users[id] = &model.User{
			ID:       id,
			Username: id,
			Email:    id + "@example.com",
			FullName: "User " + id,
		}
	}
	return r
}

func (r *fakeUserRepo) get(id string) *model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[id]
}

func (r *fakeUserRepo) GetUserById(_ context.Context, id string) (*model.User, error) {
	return r.get(id), nil
}

func (r *fakeUserRepo) GetUserByIds(_ context.Context, ids []string) ([]*model.User, error) {
	users := make([]*model.User, 0, len(ids))
	for _, id := range ids {
		if u := r.get(id); u != nil {
			users = append(users, u)
		}
	}
	return users, nil
}

// fakeMessageRepo 内存版消息日志，每次写入时钟前进一秒
type fakeMessageRepo struct {
	mu        sync.Mutex
	messages  []*mongo.Message
	now       time.Time
	appendErr error
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{now: testNow}
}

func (r *fakeMessageRepo) Append(_ context.Context, msg *mongo.Message) (*mongo.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return nil, false, r.appendErr
	}
	if msg.ClientMessageID != "" {
		for _, m := range r.messages {
			if m.ConversationID == msg.ConversationID && m.SenderID == msg.SenderID && m.ClientMessageID == msg.ClientMessageID {
				stored := *m
				return &stored, true, nil
			}
		}
	}
	r.now = r.now.Add(time.Second)
	msg.ID = primitive.NewObjectID()
	msg.CreatedAt = r.now
	msg.SeenBy = []string{}
	stored := *msg
	r.messages = append(r.messages, &stored)
	out := stored
	return &out, false, nil
}

func (r *fakeMessageRepo) ListByConversation(_ context.Context, convID string) ([]*mongo.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*mongo.Message, 0)
	for _, m := range r.messages {
		if m.ConversationID == convID {
			c := *m
			c.SeenBy = append([]string{}, m.SeenBy...)
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) MarkSeen(_ context.Context, convID, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var modified int64
	for _, m := range r.messages {
		if m.ConversationID != convID {
			continue
		}
		seen := false
		for _, u := range m.SeenBy {
			if u == userID {
				seen = true
				break
			}
		}
		if !seen {
			m.SeenBy = append(m.SeenBy, userID)
			modified++
		}
	}
	return modified, nil
}

func (r *fakeMessageRepo) Latest(_ context.Context, convID string) (*mongo.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].ConversationID == convID {
			c := *r.messages[i]
			return &c, nil
		}
	}
	return nil, nil
}

func (r *fakeMessageRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

type fanoutCall struct {
	kind    string // room / user / publish / join
	target  string
	event   string
	payload any
}

// recordingFanout 记录所有推送调用
type recordingFanout struct {
	mu    sync.Mutex
	calls []fanoutCall
}

func (f *recordingFanout) record(c fanoutCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *recordingFanout) ToConversation(_ context.Context, convID, event string, payload any) {
	f.record(fanoutCall{kind: "room", target: convID, event: event, payload: payload})
}

func (f *recordingFanout) ToUser(_ context.Context, userID, event string, payload any) {
	f.record(fanoutCall{kind: "user", target: userID, event: event, payload: payload})
}

func (f *recordingFanout) Publish(_ context.Context, topic string, payload any) {
	f.record(fanoutCall{kind: "publish", target: topic, payload: payload})
}

func (f *recordingFanout) JoinConversation(_ context.Context, userID, convID string) {
	f.record(fanoutCall{kind: "join", target: userID, event: convID})
}

func (f *recordingFanout) byKind(kind string) []fanoutCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fanoutCall
	for _, c := range f.calls {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func (f *recordingFanout) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

type harness struct {
	svc      *imServiceImpl
	convs    *fakeConvRepo
	users    *fakeUserRepo
	messages *fakeMessageRepo
	fanout   *recordingFanout
	tracker  *presence.Tracker
}

func newHarness(userIDs ...string) *harness {
	users := newFakeUserRepo(userIDs...)
	h := &harness{
		users:    users,
		convs:    newFakeConvRepo(users),
		messages: newFakeMessageRepo(),
		fanout:   &recordingFanout{},
		tracker:  presence.NewTracker(nil, presence.WithClock(func() time.Time { return testNow })),
	}
	svc, err := NewIMService(h.convs, h.users, h.messages, h.fanout, h.tracker)
	if err != nil {
		panic(err)
	}
	h.svc = svc.(*imServiceImpl)
	h.svc.now = func() time.Time { return testNow }
	return h
}
