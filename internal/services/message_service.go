// Package services – MessageService
//
// This file implements MessageService, the HTTP-facing side of the message
// store. Sends are handed to the same dispatcher the realtime gateway uses,
// so an HTTP send is admitted, stored and fanned out exactly like a socket
// send. History reads are restricted to chat participants.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// chat and user identifiers.
package services

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/unibabel/internal/domain"
	"github.com/tbourn/unibabel/internal/realtime"
	"github.com/tbourn/unibabel/internal/repo"
)

// Sender stores and fans out a message on behalf of a user.
type Sender interface {
	SendAs(ctx context.Context, userID, chatID int64, text, nonce string) (realtime.Ack, error)
}

// Membership answers whether a user may read a chat.
type Membership interface {
	CheckParticipant(ctx context.Context, chatID, userID int64) error
}

// MessageService coordinates HTTP sends and history reads.
type MessageService struct {
	DB      *gorm.DB
	Sender  Sender
	Members Membership
}

func (s *MessageService) tracer() trace.Tracer { return otel.Tracer("services/MessageService") }

// Send posts text to chatID as userID. nonce, when set, makes retries
// return the original message.
func (s *MessageService) Send(ctx context.Context, userID, chatID int64, text, nonce string) (realtime.Ack, error) {
	ctx, span := s.tracer().Start(ctx, "Send", trace.WithAttributes(
		attribute.Int64("chat.id", chatID),
		attribute.Int64("user.id", userID),
	))
	defer span.End()
	return s.Sender.SendAs(ctx, userID, chatID, text, nonce)
}

// History returns up to limit messages older than before (0 for the most
// recent), newest first.
func (s *MessageService) History(ctx context.Context, userID, chatID, before int64, limit int) ([]domain.Message, error) {
	ctx, span := s.tracer().Start(ctx, "History", trace.WithAttributes(
		attribute.Int64("chat.id", chatID),
		attribute.Int64("user.id", userID),
		attribute.Int64("before", before),
		attribute.Int("limit", limit),
	))
	defer span.End()

	if err := s.Members.CheckParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}
	return repo.History(ctx, s.DB, chatID, before, limit)
}

// HistoryETag is a weak validator for one history page. It changes whenever
// the same read could return something different.
func (s *MessageService) HistoryETag(ctx context.Context, chatID, before int64, limit int) (string, error) {
	visible, last, err := repo.HistoryStats(ctx, s.DB, chatID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`W/"history:%d:%d:%d:%d:%d"`, chatID, before, limit, visible, last), nil
}
