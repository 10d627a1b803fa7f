package gemini

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/genai"
)

const (
	breakerMaxFailures = 5
	breakerOpenFor     = 60 * time.Second
)

// ErrCircuitOpen is returned while the Gemini circuit breaker rejects calls.
var ErrCircuitOpen = gobreaker.ErrOpenState

func newBreaker(log *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gemini",
		MaxRequests: 1,
		Timeout:     breakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerMaxFailures
		},
		// a cancelled caller says nothing about the health of the API
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
}

// generateContent runs a retried request through the circuit breaker.
func (c *Client) generateContent(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.generateContentWithRetries(ctx, contents, cfg)
	})
	if err != nil {
		return nil, err
	}
	return out.(*genai.GenerateContentResponse), nil
}
