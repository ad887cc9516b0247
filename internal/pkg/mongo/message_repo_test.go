package mongo

import (
	"context"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

var repoNow = time.Date(2024, 5, 1, 8, 0, 0, 123456789, time.UTC)

func newMockRepo(mt *mtest.T) *messageRepoImpl {
	return &messageRepoImpl{
		col: mt.Coll,
		now: func() time.Time { return repoNow },
	}
}

func storedDoc(id primitive.ObjectID, convID, senderID, content, clientID string, at time.Time, seenBy ...string) bson.D {
	seen := bson.A{}
	for _, u := range seenBy {
		seen = append(seen, u)
	}
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "conversation_id", Value: convID},
		{Key: "sender_id", Value: senderID},
		{Key: "content", Value: content},
		{Key: "type", Value: MessageTypeText},
		{Key: "seen_by", Value: seen},
		{Key: "client_message_id", Value: clientID},
		{Key: "created_at", Value: at},
	}
}

func TestMessageRepoAppend(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("new message", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))

		saved, duplicate, err := newMockRepo(mt).Append(context.Background(), &Message{
			ConversationID: "c1",
			SenderID:       "a",
			Content:        "hi",
			Type:           MessageTypeText,
		})
		if err != nil || duplicate {
			mt.Fatalf("append = %v, duplicate %v", err, duplicate)
		}
		if saved.ID.IsZero() {
			mt.Fatal("id not assigned")
		}
		if !saved.CreatedAt.Equal(repoNow.Truncate(time.Millisecond)) {
			mt.Fatalf("created_at = %v", saved.CreatedAt)
		}
		if saved.SeenBy == nil || len(saved.SeenBy) != 0 {
			mt.Fatalf("seen_by = %#v", saved.SeenBy)
		}

		evt := mt.GetStartedEvent()
		if evt == nil || evt.CommandName != "insert" {
			mt.Fatalf("first command = %+v", evt)
		}
		if sender, ok := evt.Command.Lookup("documents", "0", "sender_id").StringValueOK(); !ok || sender != "a" {
			mt.Fatalf("inserted sender_id = %q", sender)
		}
	})

	mt.Run("duplicate returns stored message", func(mt *mtest.T) {
		storedID := primitive.NewObjectID()
		storedAt := repoNow.Add(-time.Minute).Truncate(time.Millisecond)
		mt.AddMockResponses(
			mtest.CreateWriteErrorsResponse(mtest.WriteError{
				Index:   0,
				Code:    11000,
				Message: "E11000 duplicate key error",
			}),
			mtest.CreateCursorResponse(0, "test.messages", mtest.FirstBatch,
				storedDoc(storedID, "c1", "a", "first try", "k1", storedAt, "b")),
		)

		saved, duplicate, err := newMockRepo(mt).Append(context.Background(), &Message{
			ConversationID:  "c1",
			SenderID:        "a",
			Content:         "retry",
			ClientMessageID: "k1",
		})
		if err != nil {
			mt.Fatalf("append: %v", err)
		}
		if !duplicate {
			mt.Fatal("expected duplicate")
		}
		if saved.ID != storedID || saved.Content != "first try" || !saved.CreatedAt.Equal(storedAt) {
			mt.Fatalf("returned %+v, want the stored message", saved)
		}
		if len(saved.SeenBy) != 1 || saved.SeenBy[0] != "b" {
			mt.Fatalf("seen_by = %v", saved.SeenBy)
		}

		_ = mt.GetStartedEvent()
		find := mt.GetStartedEvent()
		if find == nil || find.CommandName != "find" {
			mt.Fatalf("second command = %+v", find)
		}
		filter := find.Command.Lookup("filter").Document()
		for key, want := range map[string]string{
			"conversation_id":   "c1",
			"sender_id":         "a",
			"client_message_id": "k1",
		} {
			if got, ok := filter.Lookup(key).StringValueOK(); !ok || got != want {
				mt.Fatalf("filter %s = %q, want %q", key, got, want)
			}
		}
	})

	mt.Run("duplicate without client id is an error", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "E11000 duplicate key error",
		}))

		_, duplicate, err := newMockRepo(mt).Append(context.Background(), &Message{
			ConversationID: "c1",
			SenderID:       "a",
			Content:        "hi",
		})
		if err == nil || duplicate {
			mt.Fatalf("append = %v, duplicate %v", err, duplicate)
		}
	})

	mt.Run("other write errors pass through", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    13,
			Name:    "Unauthorized",
			Message: "not authorized",
		}))

		saved, duplicate, err := newMockRepo(mt).Append(context.Background(), &Message{
			ConversationID:  "c1",
			SenderID:        "a",
			Content:         "hi",
			ClientMessageID: "k2",
		})
		if err == nil || duplicate || saved != nil {
			mt.Fatalf("append = %+v, %v, %v", saved, duplicate, err)
		}
	})
}

func TestMessageRepoListByConversation(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("timeline order", func(mt *mtest.T) {
		first := primitive.NewObjectID()
		second := primitive.NewObjectID()
		at := repoNow.Truncate(time.Millisecond)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "test.messages", mtest.FirstBatch,
			storedDoc(first, "c1", "a", "one", "", at),
			storedDoc(second, "c1", "b", "two", "", at),
		))

		msgs, err := newMockRepo(mt).ListByConversation(context.Background(), "c1")
		if err != nil {
			mt.Fatalf("list: %v", err)
		}
		if len(msgs) != 2 || msgs[0].ID != first || msgs[1].ID != second {
			mt.Fatalf("messages = %+v", msgs)
		}

		evt := mt.GetStartedEvent()
		elems, err := evt.Command.Lookup("sort").Document().Elements()
		if err != nil {
			mt.Fatalf("sort: %v", err)
		}
		if len(elems) != 2 || elems[0].Key() != "created_at" || elems[1].Key() != "_id" {
			mt.Fatalf("sort = %v", evt.Command.Lookup("sort"))
		}
		for _, e := range elems {
			if e.Value().AsInt64() != 1 {
				mt.Fatalf("sort %s not ascending", e.Key())
			}
		}
	})

	mt.Run("empty conversation", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "test.messages", mtest.FirstBatch))

		msgs, err := newMockRepo(mt).ListByConversation(context.Background(), "empty")
		if err != nil {
			mt.Fatalf("list: %v", err)
		}
		if msgs == nil || len(msgs) != 0 {
			mt.Fatalf("messages = %#v, want empty slice", msgs)
		}
	})
}

func TestMessageRepoMarkSeen(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("only unseen messages are touched", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 2}, bson.E{Key: "nModified", Value: 2}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
		)
		repo := newMockRepo(mt)

		n, err := repo.MarkSeen(context.Background(), "c1", "b")
		if err != nil || n != 2 {
			mt.Fatalf("first mark = %d, %v", n, err)
		}
		n, err = repo.MarkSeen(context.Background(), "c1", "b")
		if err != nil || n != 0 {
			mt.Fatalf("second mark = %d, %v", n, err)
		}

		evt := mt.GetStartedEvent()
		if evt == nil || evt.CommandName != "update" {
			mt.Fatalf("command = %+v", evt)
		}
		stmt := evt.Command.Lookup("updates", "0")
		if ne, ok := stmt.Document().Lookup("q", "seen_by", "$ne").StringValueOK(); !ok || ne != "b" {
			mt.Fatalf("filter seen_by.$ne = %q", ne)
		}
		if added, ok := stmt.Document().Lookup("u", "$addToSet", "seen_by").StringValueOK(); !ok || added != "b" {
			mt.Fatalf("$addToSet seen_by = %q", added)
		}
		if multi, ok := stmt.Document().Lookup("multi").BooleanOK(); !ok || !multi {
			mt.Fatal("update is not multi")
		}
	})
}

func TestMessageRepoLatest(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("newest first", func(mt *mtest.T) {
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "test.messages", mtest.FirstBatch,
			storedDoc(id, "c1", "a", "last", "", repoNow.Truncate(time.Millisecond))))

		msg, err := newMockRepo(mt).Latest(context.Background(), "c1")
		if err != nil || msg == nil || msg.ID != id {
			mt.Fatalf("latest = %+v, %v", msg, err)
		}

		evt := mt.GetStartedEvent()
		elems, err := evt.Command.Lookup("sort").Document().Elements()
		if err != nil {
			mt.Fatalf("sort: %v", err)
		}
		if len(elems) != 2 || elems[0].Key() != "created_at" || elems[1].Key() != "_id" {
			mt.Fatalf("sort = %v", evt.Command.Lookup("sort"))
		}
		for _, e := range elems {
			if e.Value().AsInt64() != -1 {
				mt.Fatalf("sort %s not descending", e.Key())
			}
		}
	})

	mt.Run("no messages", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "test.messages", mtest.FirstBatch))

		msg, err := newMockRepo(mt).Latest(context.Background(), "c1")
		if err != nil || msg != nil {
			mt.Fatalf("latest = %+v, %v", msg, err)
		}
	})
}
