package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/unibabel/internal/domain"
	"github.com/tbourn/unibabel/internal/realtime"
	"github.com/tbourn/unibabel/internal/repo"
)

type fakeSender struct {
	userID, chatID int64
	text, nonce    string
	err            error
}

func (f *fakeSender) SendAs(_ context.Context, userID, chatID int64, text, nonce string) (realtime.Ack, error) {
	f.userID, f.chatID, f.text, f.nonce = userID, chatID, text, nonce
	if f.err != nil {
		return realtime.Ack{}, f.err
	}
	return realtime.Ack{MessageID: 7, CreatedAt: time.Unix(0, 0).UTC()}, nil
}

func TestMessageService_SendDelegates(t *testing.T) {
	snd := &fakeSender{}
	s := &MessageService{Sender: snd}

	ack, err := s.Send(context.Background(), 3, 4, "hola", "k1")
	if err != nil || ack.MessageID != 7 {
		t.Fatalf("Send: %+v %v", ack, err)
	}
	if snd.userID != 3 || snd.chatID != 4 || snd.text != "hola" || snd.nonce != "k1" {
		t.Fatalf("forwarded: %+v", snd)
	}

	snd.err = domain.ErrRateLimited
	if _, err := s.Send(context.Background(), 3, 4, "x", ""); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("error passthrough: %v", err)
	}
}

func TestMessageService_HistoryForParticipantsOnly(t *testing.T) {
	db := newTestDB(t)
	seedUsers(t, db, 1, 2, 3)
	chats := newChatService(t, db)
	ctx := context.Background()
	c, _ := chats.Create(ctx, 1, CreateChatInput{Participants: []int64{2}})

	for i := 0; i < 3; i++ {
		if _, _, err := repo.AppendMessage(ctx, db, repo.AppendParams{ChatID: c.ID, SenderID: 1 + int64(i%2), Text: "m"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	s := &MessageService{DB: db, Members: chats}

	msgs, err := s.History(ctx, 2, c.ID, 0, 2)
	if err != nil || len(msgs) != 2 || msgs[0].ID != 3 || msgs[1].ID != 2 {
		t.Fatalf("History: %+v %v", msgs, err)
	}
	older, _ := s.History(ctx, 2, c.ID, 2, 10)
	if len(older) != 1 || older[0].ID != 1 {
		t.Fatalf("paged: %+v", older)
	}
	if _, err := s.History(ctx, 3, c.ID, 0, 10); !errors.Is(err, domain.ErrForbiddenSender) {
		t.Fatalf("outsider: %v", err)
	}
	if _, err := s.History(ctx, 1, c.ID+9, 0, 10); !errors.Is(err, domain.ErrInvalidChat) {
		t.Fatalf("missing chat: %v", err)
	}
}

func TestMessageService_HistoryETagTracksVisibility(t *testing.T) {
	db := newTestDB(t)
	seedUsers(t, db, 1, 2)
	chats := newChatService(t, db)
	ctx := context.Background()
	c, _ := chats.Create(ctx, 1, CreateChatInput{Participants: []int64{2}})
	s := &MessageService{DB: db, Members: chats}

	e0, _ := s.HistoryETag(ctx, c.ID, 0, 50)
	_, _, _ = repo.AppendMessage(ctx, db, repo.AppendParams{ChatID: c.ID, SenderID: 2, Text: "hi"})
	e1, _ := s.HistoryETag(ctx, c.ID, 0, 50)
	if e0 == e1 {
		t.Fatalf("etag must change after append")
	}
	_ = repo.SetUserBlocked(ctx, db, 2, true)
	e2, _ := s.HistoryETag(ctx, c.ID, 0, 50)
	if e2 == e1 {
		t.Fatalf("etag must change when a sender is blocked")
	}
	if other, _ := s.HistoryETag(ctx, c.ID, 0, 10); other == e2 {
		t.Fatalf("etag must depend on the page")
	}
}
