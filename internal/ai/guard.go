package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// RedirectMessage is the fixed reply for off-topic input.
const RedirectMessage = "I'm specialized in space biology and microgravity research. " +
	"Your question seems outside this domain. I focus on topics like: " +
	"astronaut health, microgravity effects on organisms, ISS experiments, " +
	"radiation biology, and countermeasures for spaceflight. " +
	"Could you rephrase your question to relate to space biology research?"

// spaceBiologyKeywords short-circuits classification for obviously
// on-topic input.
var spaceBiologyKeywords = []string{
	"space", "microgravity", "astronaut", "iss", "nasa", "orbit",
	"radiation", "cosmic", "weightless", "spaceflight", "mars",
	"moon", "bone", "muscle", "cell", "biology", "gravity",
	"adaptation", "countermeasure", "mission", "research",
	"experiment", "station", "crew", "physiology", "health",
	"medical", "science", "tissue", "organism", "gene", "protein",
	"immune", "cardiovascular", "osteoporosis", "atrophy",
}

// Guard checks that input is within the space-biology domain before
// any generation request is made.
type Guard struct {
	gateway *Gateway
	log     *slog.Logger
}

// NewGuard builds a topic guard. gateway may be nil, in which case only
// the keyword heuristic applies.
func NewGuard(gateway *Gateway, log *slog.Logger) *Guard {
	return &Guard{gateway: gateway, log: log}
}

// KeywordCheck reports whether the input contains any space-biology
// keyword.
func KeywordCheck(input string) bool {
	lower := strings.ToLower(input)
	for _, kw := range spaceBiologyKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Allow reports whether the input is on-topic. The keyword heuristic
// runs first; on a miss, one classifier prompt decides. Classifier
// failure fails open so a provider outage never blocks on-topic use.
func (g *Guard) Allow(ctx context.Context, input string) bool {
	if KeywordCheck(input) {
		return true
	}

	if g.gateway == nil {
		return false
	}

	relevant, err := g.classify(ctx, input)
	if err != nil {
		g.log.Warn("topic classification failed, allowing query", slog.Any("err", err))
		return true
	}
	return relevant
}

func (g *Guard) classify(ctx context.Context, input string) (bool, error) {
	prompt := fmt.Sprintf(`You are a classifier for a space biology research platform.

Determine if this query is relevant to space biology, microgravity research, astronaut health,
ISS experiments, or NASA-related biological/medical research.

Query: %q

Respond with ONLY "YES" if relevant to space biology/research, or "NO" if completely unrelated.
Examples of relevant topics: microgravity effects, bone loss in space, muscle atrophy,
radiation biology, plant growth in space, cell biology, countermeasures, astronaut health.

Examples of irrelevant topics: making money, cooking recipes, sports, general news,
entertainment, fashion, generic business advice (unless space-industry related).

Answer:`, input)

	answer, err := g.gateway.Complete(ctx, Request{
		Messages:    []Message{{Role: "user", Content: prompt}},
		MaxTokens:   5,
		Temperature: 0.1,
	})
	if err != nil {
		return false, err
	}

	return strings.Contains(strings.ToUpper(answer), "YES"), nil
}
