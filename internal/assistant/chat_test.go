package assistant_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orbitalbio/spacebio/internal/ai"
	"github.com/orbitalbio/spacebio/internal/assistant"
	"github.com/orbitalbio/spacebio/internal/search"
	"github.com/orbitalbio/spacebio/internal/storage"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

// recordingProvider captures every request it receives.
type recordingProvider struct {
	reply    string
	err      error
	requests []ai.Request
}

func (p *recordingProvider) Name() string { return "stub" }

func (p *recordingProvider) Complete(_ context.Context, req ai.Request) (string, error) {
	p.requests = append(p.requests, req)
	return p.reply, p.err
}

func newChatService(t *testing.T, provider *recordingProvider) (*assistant.Service, *storage.DB) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	retriever := search.NewRetriever(db, nil, nil, testLog)
	gateway := ai.NewGateway(testLog, provider)
	guard := ai.NewGuard(nil, testLog)

	svc := assistant.NewService(db, retriever, gateway, guard, testLog, 1000, 0.7)
	return svc, db
}

func TestMessageStartsNewSession(t *testing.T) {
	provider := &recordingProvider{reply: "Bone loss accelerates in microgravity."}
	svc, db := newChatService(t, provider)

	reply, err := svc.Message(context.Background(), "", "How does microgravity affect bone?")
	require.NoError(t, err)
	require.NotEmpty(t, reply.SessionID)
	require.Equal(t, "Bone loss accelerates in microgravity.", reply.Response)
	require.False(t, reply.OffTopic)

	session, err := db.GetSession(reply.SessionID)
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Len(t, session.Messages, 2)
	require.Equal(t, "user", session.Messages[0].Role)
	require.Equal(t, "assistant", session.Messages[1].Role)
}

func TestMessageContinuesSession(t *testing.T) {
	provider := &recordingProvider{reply: "answer"}
	svc, db := newChatService(t, provider)

	first, err := svc.Message(context.Background(), "", "What is muscle atrophy in space?")
	require.NoError(t, err)

	second, err := svc.Message(context.Background(), first.SessionID, "How is bone affected?")
	require.NoError(t, err)
	require.Equal(t, first.SessionID, second.SessionID)

	session, err := db.GetSession(first.SessionID)
	require.NoError(t, err)
	require.Len(t, session.Messages, 4)
}

func TestMessageUnknownSession(t *testing.T) {
	svc, _ := newChatService(t, &recordingProvider{reply: "answer"})

	_, err := svc.Message(context.Background(), "no-such-session", "bone loss?")
	require.ErrorIs(t, err, assistant.ErrSessionNotFound)
}

func TestMessageEmptyInput(t *testing.T) {
	svc, _ := newChatService(t, &recordingProvider{reply: "answer"})

	_, err := svc.Message(context.Background(), "", "   ")
	require.Error(t, err)
}

func TestMessageOffTopicRedirects(t *testing.T) {
	provider := &recordingProvider{reply: "should not be called"}
	svc, db := newChatService(t, provider)

	reply, err := svc.Message(context.Background(), "", "best pizza in Rome")
	require.NoError(t, err)
	require.True(t, reply.OffTopic)
	require.Zero(t, reply.SourcesUsed)
	require.Equal(t, ai.RedirectMessage, reply.Response)
	require.Empty(t, provider.requests)

	// The redirect is still recorded in the transcript
	session, err := db.GetSession(reply.SessionID)
	require.NoError(t, err)
	require.Len(t, session.Messages, 2)
	require.Equal(t, ai.RedirectMessage, session.Messages[1].Content)
}

func TestMessageGroundsOnSources(t *testing.T) {
	provider := &recordingProvider{reply: "grounded answer"}
	svc, db := newChatService(t, provider)

	_, err := db.InsertArticle(&storage.Article{
		Title:    "Microgravity induced bone loss",
		Abstract: "Bone density declines during spaceflight.",
		URL:      "https://example.org/1",
	})
	require.NoError(t, err)

	reply, err := svc.Message(context.Background(), "", "Tell me about microgravity bone loss")
	require.NoError(t, err)
	require.Equal(t, 1, reply.SourcesUsed)

	require.Len(t, provider.requests, 1)
	system := provider.requests[0].Messages[0]
	require.Equal(t, "system", system.Role)
	require.Contains(t, system.Content, "Microgravity induced bone loss")
}

func TestMessageHistoryWindow(t *testing.T) {
	provider := &recordingProvider{reply: "answer"}
	svc, db := newChatService(t, provider)

	session := &storage.ChatSession{SessionID: "long-session"}
	for i := 0; i < 13; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		session.Messages = append(session.Messages, storage.Message{Role: role, Content: "turn"})
	}
	require.NoError(t, db.PutSession(session))

	_, err := svc.Message(context.Background(), "long-session", "And what about muscle?")
	require.NoError(t, err)

	require.Len(t, provider.requests, 1)
	sent := provider.requests[0].Messages
	// One system message plus the ten most recent transcript entries
	require.Len(t, sent, 11)
	require.Equal(t, "system", sent[0].Role)
	require.Equal(t, "And what about muscle?", sent[10].Content)
}

func TestMessageProviderFailure(t *testing.T) {
	provider := &recordingProvider{err: errors.New("down")}
	svc, _ := newChatService(t, provider)

	_, err := svc.Message(context.Background(), "", "bone loss in space")
	require.ErrorIs(t, err, ai.ErrProviderUnavailable)
}
