package gemini

import (
	"context"
	"log/slog"

	"github.com/edgard/leadpilot/internal/lead"
	"github.com/edgard/leadpilot/internal/logger"
)

// Classifier labels a customer's message.
type Classifier interface {
	Classify(ctx context.Context, msg string) lead.Sentiment
}

// KeywordClassifier answers Aggressive for messages containing an aggressive
// keyword and delegates everything else to the wrapped classifier.
type KeywordClassifier struct {
	inner    Classifier
	keywords func() []string
	log      *slog.Logger
}

// NewKeywordClassifier wraps inner. keywords is read on every call so that a
// reloaded list applies immediately.
func NewKeywordClassifier(inner Classifier, keywords func() []string, log *slog.Logger) *KeywordClassifier {
	if log == nil {
		log = logger.Discard()
	}
	return &KeywordClassifier{inner: inner, keywords: keywords, log: log.With("component", "classifier")}
}

// Classify implements Classifier.
func (k *KeywordClassifier) Classify(ctx context.Context, msg string) lead.Sentiment {
	if kw, ok := lead.ContainsAny(msg, k.keywords()); ok {
		k.log.DebugContext(ctx, "Aggressive keyword matched", "keyword", kw)
		return lead.SentimentAggressive
	}
	if k.inner == nil {
		return lead.SentimentNeutral
	}
	return k.inner.Classify(ctx, msg)
}
