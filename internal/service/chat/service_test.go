package chat_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
	chatservice "github.com/zhouzirui/qinghe-assistant/internal/service/chat"
)

func TestServiceCreateConversationSavesWelcome(t *testing.T) {
	svc := chatservice.NewService()
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("CreateConversation err: %v", err)
	}
	if conv.WelcomeMessage != chatservice.DefaultWelcome {
		t.Fatalf("unexpected welcome: %q", conv.WelcomeMessage)
	}

	msgs, total, err := svc.Messages(ctx, conv.ID, 1, 50)
	if err != nil {
		t.Fatalf("Messages err: %v", err)
	}
	if total != 1 || len(msgs) != 1 || msgs[0].Role != "assistant" {
		t.Fatalf("expected welcome message in history, got %+v", msgs)
	}
}

func TestServiceMessagesPaging(t *testing.T) {
	svc := chatservice.NewService(chatservice.WithWelcome(""))
	ctx := context.Background()
	conv, _ := svc.CreateConversation(ctx)

	for i := 1; i <= 5; i++ {
		if _, err := svc.SaveMessage(ctx, chat.HistoryMessage{ConversationID: conv.ID, Role: "user", Content: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("SaveMessage err: %v", err)
		}
	}

	page1, total, _ := svc.Messages(ctx, conv.ID, 1, 2)
	if total != 5 {
		t.Fatalf("unexpected total %d", total)
	}
	if page1[0].Content != "m4" || page1[1].Content != "m5" {
		t.Fatalf("page 1 should hold the newest messages in order, got %+v", page1)
	}

	page3, _, _ := svc.Messages(ctx, conv.ID, 3, 2)
	if len(page3) != 1 || page3[0].Content != "m1" {
		t.Fatalf("unexpected page 3: %+v", page3)
	}

	page4, _, _ := svc.Messages(ctx, conv.ID, 4, 2)
	if len(page4) != 0 {
		t.Fatalf("expected empty page, got %+v", page4)
	}
}

func TestServiceSaveMessageErrors(t *testing.T) {
	svc := chatservice.NewService()
	ctx := context.Background()

	_, err := svc.SaveMessage(ctx, chat.HistoryMessage{ConversationID: "missing", Content: "hi"})
	if !errors.Is(err, chatservice.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}

	conv, _ := svc.CreateConversation(ctx)
	_, err = svc.SaveMessage(ctx, chat.HistoryMessage{ConversationID: conv.ID, Content: "  "})
	if !errors.Is(err, chatservice.ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
}

func TestServiceListAndDelete(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	svc := chatservice.NewService(chatservice.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	first, _ := svc.CreateConversation(ctx)
	now = now.Add(time.Minute)
	second, _ := svc.CreateConversation(ctx)
	now = now.Add(time.Minute)
	svc.SaveMessage(ctx, chat.HistoryMessage{ConversationID: first.ID, Role: "user", Content: "最近总是失眠"})

	list, pagination := svc.List(ctx, 1, 20)
	if len(list) != 2 || pagination.TotalRecords != 2 {
		t.Fatalf("unexpected list: %+v %+v", list, pagination)
	}
	if list[0].ID != first.ID {
		t.Fatalf("most recently active conversation should come first")
	}
	if list[0].LastUserMessage != "最近总是失眠" {
		t.Fatalf("unexpected summary: %+v", list[0])
	}

	if err := svc.Delete(ctx, second.ID); err != nil {
		t.Fatalf("Delete err: %v", err)
	}
	if svc.Exists(second.ID) {
		t.Fatal("conversation should be gone")
	}
	if err := svc.Delete(ctx, second.ID); !errors.Is(err, chatservice.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestServiceQuotaResetsDaily(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	svc := chatservice.NewService(
		chatservice.WithDailyLimit(2),
		chatservice.WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := svc.ConsumeQuota(ctx); err != nil {
			t.Fatalf("ConsumeQuota #%d err: %v", i, err)
		}
	}
	if err := svc.ConsumeQuota(ctx); !errors.Is(err, chatservice.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	now = now.Add(2 * time.Hour)
	if err := svc.ConsumeQuota(ctx); err != nil {
		t.Fatalf("quota should reset on a new day: %v", err)
	}
}
