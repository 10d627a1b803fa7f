package lead

import "strings"

// Sentiment is the classifier verdict on a customer's message.
type Sentiment string

const (
	SentimentPositive   Sentiment = "Positive"
	SentimentNegative   Sentiment = "Negative"
	SentimentNeutral    Sentiment = "Neutral"
	SentimentAggressive Sentiment = "Aggressive"
)

// ParseSentiment is lenient: anything it cannot recognise is Neutral.
func ParseSentiment(raw string) Sentiment {
	s := strings.ToLower(strings.Trim(strings.TrimSpace(raw), "'\"."))
	switch {
	case strings.HasPrefix(s, "aggress"):
		return SentimentAggressive
	case strings.HasPrefix(s, "posit"):
		return SentimentPositive
	case strings.HasPrefix(s, "negat"):
		return SentimentNegative
	}
	return SentimentNeutral
}

// StatusFor maps a verdict onto the lifecycle status it drives.
func (s Sentiment) StatusFor() Status {
	switch s {
	case SentimentPositive:
		return StatusInterested
	case SentimentNegative:
		return StatusRejected
	case SentimentAggressive:
		return StatusAggressive
	}
	return StatusNeutral
}

// Insight is the strategic read on a conversation used to steer the reply persona.
type Insight struct {
	Objection      string
	NextMove       string
	WinProbability int
}

// Apply copies the insight onto the lead, clamping the probability to 0..10.
func (in Insight) Apply(l *Lead) {
	p := in.WinProbability
	if p < 0 {
		p = 0
	}
	if p > 10 {
		p = 10
	}
	l.WinProbability = p
	l.Objection = in.Objection
	l.NextMove = in.NextMove
}

// dotless folds the Turkish dotted/dotless i pairs so "İSTEMİYORUM" matches "istemiyorum".
var dotless = strings.NewReplacer("ı", "i", "\u0307", "")

func fold(s string) string {
	return dotless.Replace(strings.ToLower(s))
}

// ContainsAny reports the first keyword found in text, matched case-insensitively.
func ContainsAny(text string, keywords []string) (string, bool) {
	folded := fold(text)
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(folded, fold(kw)) {
			return kw, true
		}
	}
	return "", false
}
