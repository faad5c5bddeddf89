// Package assistant implements the chat feature: session transcripts,
// source-grounded context and topic gating in front of the AI gateway.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orbitalbio/spacebio/internal/ai"
	"github.com/orbitalbio/spacebio/internal/search"
	"github.com/orbitalbio/spacebio/internal/storage"
)

// ErrSessionNotFound is returned for an unknown, non-empty session id.
var ErrSessionNotFound = errors.New("chat session not found")

const (
	// historyWindow caps the conversation context sent to the provider.
	historyWindow = 10

	// maxSources caps the retrieved articles used to ground a reply.
	maxSources = 3
)

// Reply is the outcome of one chat message.
type Reply struct {
	SessionID   string `json:"session_id"`
	Response    string `json:"response"`
	SourcesUsed int    `json:"sources_used"`
	OffTopic    bool   `json:"off_topic"`
}

// Service handles chat messages against the AI gateway.
type Service struct {
	db        *storage.DB
	retriever *search.Retriever
	gateway   *ai.Gateway
	guard     *ai.Guard
	log       *slog.Logger

	maxTokens   int
	temperature float64
}

// NewService wires the chat assistant.
func NewService(db *storage.DB, retriever *search.Retriever, gateway *ai.Gateway,
	guard *ai.Guard, log *slog.Logger, maxTokens int, temperature float64) *Service {
	return &Service{
		db:          db,
		retriever:   retriever,
		gateway:     gateway,
		guard:       guard,
		log:         log,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Message appends the user message to the session, produces a reply and
// persists both. An empty session id starts a new session; an unknown
// one is ErrSessionNotFound. Off-topic input gets the fixed redirect
// reply with zero sources and no generation call.
func (s *Service) Message(ctx context.Context, sessionID, text string) (*Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("message is required")
	}

	session, err := s.loadSession(sessionID)
	if err != nil {
		return nil, err
	}

	session.Messages = append(session.Messages, storage.Message{
		Role: "user", Content: text, Timestamp: time.Now().UTC(),
	})

	if !s.guard.Allow(ctx, text) {
		return s.finish(session, ai.RedirectMessage, 0, true)
	}

	sources, _, err := s.retriever.Retrieve(ctx, text, search.ModeSemantic, 0, maxSources)
	if err != nil {
		// Retrieval trouble should not kill the conversation
		s.log.Warn("chat source retrieval failed", slog.Any("err", err))
		sources = nil
	}

	sourceLines := make([]string, 0, len(sources))
	for _, src := range sources {
		sourceLines = append(sourceLines, ai.SourceLine(src.Article.Title, src.Article.Abstract))
	}

	messages := []ai.Message{ai.ChatSystemPrompt(sourceLines)}
	for _, m := range session.Recent(historyWindow) {
		messages = append(messages, ai.Message{Role: m.Role, Content: m.Content})
	}

	response, err := s.gateway.Complete(ctx, ai.Request{
		Messages:    messages,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	return s.finish(session, response, len(sources), false)
}

func (s *Service) loadSession(sessionID string) (*storage.ChatSession, error) {
	if sessionID == "" {
		return &storage.ChatSession{SessionID: uuid.NewString()}, nil
	}

	session, err := s.db.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *Service) finish(session *storage.ChatSession, response string, sources int, offTopic bool) (*Reply, error) {
	session.Messages = append(session.Messages, storage.Message{
		Role: "assistant", Content: response, Timestamp: time.Now().UTC(),
	})

	if err := s.db.PutSession(session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	return &Reply{
		SessionID:   session.SessionID,
		Response:    response,
		SourcesUsed: sources,
		OffTopic:    offTopic,
	}, nil
}
