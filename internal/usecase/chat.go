package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"support-chat/internal/domain"
)

// ConversationStore is the persistence the chat pipeline depends on.
type ConversationStore interface {
	CreateConversation(ctx context.Context) (domain.ConversationID, error)
	GetConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error)
	SaveMessage(ctx context.Context, conversationID domain.ConversationID, sender domain.Sender, content string) (domain.MessageID, error)
	GetMessages(ctx context.Context, conversationID domain.ConversationID, limit int) ([]domain.Message, error)
}

// Replier produces the assistant turn for a user message.
type Replier interface {
	Generate(ctx context.Context, userMessage string, history []domain.Message) Reply
}

type ChatService struct {
	store   ConversationStore
	replier Replier
	logger  *slog.Logger
	locks   *conversationLocks
}

type ProcessInput struct {
	Message   string
	SessionID string
}

type ProcessOutput struct {
	Reply     string
	SessionID string
	Degraded  bool
}

func NewChatService(store ConversationStore, replier Replier, logger *slog.Logger) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if replier == nil {
		return nil, errors.New("usecase: replier must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		store:   store,
		replier: replier,
		logger:  logger,
		locks:   newConversationLocks(),
	}, nil
}

// ProcessMessage runs one chat turn: resolve the session, persist the user
// message, generate a reply from prior history, persist the reply.
//
// The message must already be validated and trimmed. Reply failures never
// surface as errors; store failures return *Error with ErrorInternal.
func (s *ChatService) ProcessMessage(ctx context.Context, in ProcessInput) (ProcessOutput, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return ProcessOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}

	session, err := s.resolveSession(ctx, in.SessionID)
	if err != nil {
		return ProcessOutput{}, newError(ErrorInternal, "store_get_conversation_error", err)
	}

	convID := session.id
	if session.kind != sessionValid {
		convID, err = s.store.CreateConversation(ctx)
		if err != nil {
			return ProcessOutput{}, newError(ErrorInternal, "store_create_conversation_error", err)
		}
		s.logger.InfoContext(ctx, "chat.session.created",
			"conversation_id", int64(convID),
			"reason", session.kind.String(),
		)
	}

	unlock := s.locks.lock(convID)
	defer unlock()

	userMsgID, err := s.store.SaveMessage(ctx, convID, domain.SenderUser, message)
	if err != nil {
		return ProcessOutput{}, newError(ErrorInternal, "store_save_user_message_error", err)
	}

	// The user turn is stored; finish the turn even if the caller goes away.
	work := context.WithoutCancel(ctx)

	recent, err := s.store.GetMessages(work, convID, MaxHistory+1)
	if err != nil {
		return ProcessOutput{}, newError(ErrorInternal, "store_get_messages_error", err)
	}
	history := withoutMessage(recent, userMsgID)

	reply := s.replier.Generate(work, message, history)

	if _, err := s.store.SaveMessage(work, convID, domain.SenderAI, reply.Text); err != nil {
		return ProcessOutput{}, newError(ErrorInternal, "store_save_reply_error", err)
	}

	return ProcessOutput{
		Reply:     reply.Text,
		SessionID: domain.FormatSessionID(convID),
		Degraded:  reply.Degraded(),
	}, nil
}

type sessionKind int

const (
	sessionAbsent sessionKind = iota
	sessionInvalid
	sessionValid
)

func (k sessionKind) String() string {
	switch k {
	case sessionAbsent:
		return "absent"
	case sessionInvalid:
		return "invalid"
	case sessionValid:
		return "valid"
	default:
		return "unknown"
	}
}

type sessionRef struct {
	kind sessionKind
	id   domain.ConversationID
}

// resolveSession classifies the client-supplied session id. Unparseable and
// unknown ids are both sessionInvalid; only store errors are returned.
func (s *ChatService) resolveSession(ctx context.Context, raw string) (sessionRef, error) {
	if strings.TrimSpace(raw) == "" {
		return sessionRef{kind: sessionAbsent}, nil
	}
	id, ok := domain.ParseSessionID(raw)
	if !ok {
		return sessionRef{kind: sessionInvalid}, nil
	}
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return sessionRef{}, err
	}
	if conv == nil {
		return sessionRef{kind: sessionInvalid}, nil
	}
	return sessionRef{kind: sessionValid, id: conv.ID}, nil
}

func withoutMessage(msgs []domain.Message, id domain.MessageID) []domain.Message {
	out := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == id {
			continue
		}
		out = append(out, m)
	}
	return out
}
