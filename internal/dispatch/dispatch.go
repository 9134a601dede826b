// Package dispatch turns a chat send into a stored message and one rendered
// frame per recipient session.
//
// Sends are serialized per chat and run in parallel across chats. A send
// that has been admitted runs to completion even when the sender's
// connection goes away halfway through.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/unibabel/internal/admission"
	"github.com/tbourn/unibabel/internal/domain"
	"github.com/tbourn/unibabel/internal/lang"
	"github.com/tbourn/unibabel/internal/observability"
	"github.com/tbourn/unibabel/internal/realtime"
	"github.com/tbourn/unibabel/internal/repo"
	"github.com/tbourn/unibabel/internal/translation"
)

// maxParallelTargets bounds how many target languages of one message are
// rendered at the same time.
const maxParallelTargets = 8

// Admission is the subset of *admission.Admitter the dispatcher needs.
type Admission interface {
	CheckAndReserve(ctx context.Context, userID int64, connKey, text string) (admission.Decision, error)
	Release(ctx context.Context, userID int64, day string) error
}

// Translator renders text for one recipient language.
type Translator interface {
	Translate(ctx context.Context, text, target, source string) translation.Result
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithObserver reports every state transition of every send to fn. fn runs
// on the sending goroutine while the chat is locked and must not block.
func WithObserver(fn func(Transition)) Option {
	return func(d *Dispatcher) { d.observe = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithNonceTTL sets how long a nonce keeps replaying its message.
func WithNonceTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) { d.nonceTTL = ttl }
}

// Dispatcher implements realtime.Dispatcher.
type Dispatcher struct {
	db  *gorm.DB
	reg *realtime.Registry
	adm Admission
	tr  Translator

	locks    *chatLocks
	nonceTTL time.Duration
	now      func() time.Time
	observe  func(Transition)
}

// New wires a dispatcher.
func New(db *gorm.DB, reg *realtime.Registry, adm Admission, tr Translator, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		db:       db,
		reg:      reg,
		adm:      adm,
		tr:       tr,
		locks:    newChatLocks(),
		nonceTTL: 24 * time.Hour,
		now:      time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// request is one send, from whichever transport.
type request struct {
	userID    int64
	sessionID string // empty for HTTP sends
	echo      bool
	connKey   string
	chatID    int64
	text      string
	nonce     string
}

// Send implements realtime.Dispatcher for a websocket session. The session
// must have joined chatID.
func (d *Dispatcher) Send(ctx context.Context, sessionID string, chatID int64, text, nonce string) (realtime.Ack, error) {
	ep, ok := d.reg.Get(sessionID)
	if !ok {
		return realtime.Ack{}, fmt.Errorf("dispatch: session %s: %w", sessionID, realtime.ErrUnknownSession)
	}
	if !d.reg.Joined(sessionID, chatID) {
		err := domain.NewError(domain.CodeNotJoined, fmt.Sprintf("join chat %d before sending to it", chatID))
		observability.SendsTotal.WithLabelValues(observability.SendDenied).Inc()
		return realtime.Ack{}, err
	}
	return d.dispatch(ctx, request{
		userID:    ep.UserID(),
		sessionID: sessionID,
		echo:      ep.Echo(),
		connKey:   sessionID,
		chatID:    chatID,
		text:      text,
		nonce:     nonce,
	})
}

// SendAs sends on behalf of userID without a realtime session, as the HTTP
// API does. Every live session of the sender receives the message.
func (d *Dispatcher) SendAs(ctx context.Context, userID, chatID int64, text, nonce string) (realtime.Ack, error) {
	return d.dispatch(ctx, request{
		userID:  userID,
		connKey: "http:" + strconv.FormatInt(userID, 10),
		chatID:  chatID,
		text:    text,
		nonce:   nonce,
	})
}

func (d *Dispatcher) dispatch(ctx context.Context, req request) (realtime.Ack, error) {
	// Once started, a send finishes regardless of the caller.
	ctx = context.WithoutCancel(ctx)
	ctx, span := observability.Tracer().Start(ctx, "dispatch.send")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chat.id", req.chatID),
		attribute.Int64("sender.id", req.userID),
	)

	tr := &tracker{t: Transition{ChatID: req.chatID, SenderID: req.userID, Nonce: req.nonce}, observe: d.observe}
	fail := func(err error, outcome string) (realtime.Ack, error) {
		tr.fail(string(domain.CodeOf(err)))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.CodeOf(err)))
		observability.SendsTotal.WithLabelValues(outcome).Inc()
		return realtime.Ack{}, err
	}

	unlock := d.locks.lock(req.chatID)
	defer unlock()
	tr.to(StateReceived)

	// A retried nonce is answered before admission so the retry costs
	// nothing.
	if req.nonce != "" {
		m, err := repo.FindNonceMessage(ctx, d.db, req.userID, req.chatID, req.nonce, d.now())
		switch {
		case err == nil:
			return d.replay(tr, m), nil
		case !errors.Is(err, repo.ErrNotFound):
			return fail(fmt.Errorf("dispatch: nonce lookup: %w", err), observability.SendFailed)
		}
	}

	dec, err := d.adm.CheckAndReserve(ctx, req.userID, req.connKey, req.text)
	if err != nil {
		return fail(fmt.Errorf("dispatch: admission: %w", err), observability.SendFailed)
	}
	if !dec.Allowed {
		return fail(dec.Err(), observability.SendDenied)
	}
	tr.to(StateAdmitted)

	msg, replayed, err := repo.AppendMessage(ctx, d.db, repo.AppendParams{
		ChatID:         req.chatID,
		SenderID:       req.userID,
		Text:           req.text,
		SourceLanguage: lang.Detect(req.text, d.preferredLanguage(ctx, req.userID)),
		Nonce:          req.nonce,
		NonceTTL:       d.nonceTTL,
		Now:            d.now(),
	})
	if err != nil || replayed {
		if rerr := d.adm.Release(ctx, req.userID, dec.Day); rerr != nil {
			log.Error().Err(rerr).Int64("user_id", req.userID).Msg("release daily reservation failed")
		}
	}
	if err != nil {
		outcome := observability.SendFailed
		if domain.ClientVisible(domain.CodeOf(err)) {
			outcome = observability.SendDenied
		}
		return fail(fmt.Errorf("dispatch: append: %w", err), outcome)
	}
	if replayed {
		return d.replay(tr, msg), nil
	}
	tr.t.MessageID = msg.ID
	span.SetAttributes(attribute.Int64("message.id", msg.ID))
	tr.to(StatePersisted)

	if err := d.fanOut(ctx, req, msg); err != nil {
		// The message is stored; live delivery is best effort.
		log.Error().Err(err).Int64("chat_id", req.chatID).Int64("message_id", msg.ID).Msg("fan-out failed")
	}
	tr.to(StateFannedOut)

	tr.to(StateAcked)
	observability.SendsTotal.WithLabelValues(observability.SendAcked).Inc()
	return realtime.Ack{MessageID: msg.ID, CreatedAt: msg.CreatedAt}, nil
}

func (d *Dispatcher) replay(tr *tracker, m *domain.Message) realtime.Ack {
	tr.t.MessageID = m.ID
	tr.to(StateAcked)
	observability.SendsTotal.WithLabelValues(observability.SendReplayed).Inc()
	return realtime.Ack{MessageID: m.ID, CreatedAt: m.CreatedAt, Replayed: true}
}

func (d *Dispatcher) preferredLanguage(ctx context.Context, userID int64) string {
	u, err := repo.GetUser(ctx, d.db, userID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			log.Warn().Err(err).Int64("user_id", userID).Msg("sender profile lookup failed")
		}
		return ""
	}
	return u.PreferredLanguage
}

type recipient struct {
	sessionID string
	language  string
}

// recipients snapshots the live sessions of every participant once.
func (d *Dispatcher) recipients(ctx context.Context, req request) ([]recipient, error) {
	profiles, err := repo.ParticipantProfiles(ctx, d.db, req.chatID)
	if err != nil {
		return nil, err
	}
	var out []recipient
	for _, p := range profiles {
		code := lang.Normalize(p.PreferredLanguage)
		if code == "" || code == lang.Auto {
			code = lang.Default
		}
		for _, sid := range d.reg.UserSessions(p.UserID) {
			if sid == req.sessionID && !req.echo {
				continue
			}
			out = append(out, recipient{sessionID: sid, language: code})
		}
	}
	return out, nil
}

// fanOut renders msg once per distinct recipient language and queues a msg
// frame on every recipient session.
func (d *Dispatcher) fanOut(ctx context.Context, req request, msg *domain.Message) error {
	rcpts, err := d.recipients(ctx, req)
	if err != nil {
		return fmt.Errorf("recipients: %w", err)
	}
	if len(rcpts) == 0 {
		return nil
	}

	index := make(map[string]int)
	var targets []string
	for _, r := range rcpts {
		if _, ok := index[r.language]; !ok {
			index[r.language] = len(targets)
			targets = append(targets, r.language)
		}
	}
	results := make([]translation.Result, len(targets))
	var g errgroup.Group
	g.SetLimit(maxParallelTargets)
	for i, code := range targets {
		g.Go(func() error {
			results[i] = d.tr.Translate(ctx, msg.SourceText, code, msg.SourceLanguage)
			return nil
		})
	}
	_ = g.Wait()

	created := realtime.FormatTime(msg.CreatedAt)
	for _, r := range rcpts {
		ep, ok := d.reg.Get(r.sessionID)
		if !ok {
			continue
		}
		res := results[index[r.language]]
		f := realtime.MsgFrame{
			ChatID:         msg.ChatID,
			MessageID:      msg.ID,
			SenderID:       msg.SenderID,
			Text:           res.Text,
			SourceLanguage: msg.SourceLanguage,
			Language:       r.language,
			FromCache:      res.FromCache,
			Confidence:     res.Confidence,
			CreatedAt:      created,
		}
		if res.Err != nil {
			f.Error = string(domain.CodeOf(res.Err))
		}
		ep.Enqueue(realtime.EncodeMsg(f))
	}
	return nil
}
