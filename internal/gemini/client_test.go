package gemini

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/edgard/leadpilot/internal/config"
	"github.com/edgard/leadpilot/internal/database"
	"github.com/edgard/leadpilot/internal/lead"
)

type call struct {
	contents []*genai.Content
	cfg      *genai.GenerateContentConfig
}

type fakeModels struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   []call
}

func (f *fakeModels) GenerateContent(_ context.Context, _ string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{contents: contents, cfg: cfg})
	if f.err != nil {
		return nil, f.err
	}
	text := ""
	if len(f.replies) > 0 {
		text, f.replies = f.replies[0], f.replies[1:]
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      genai.NewContentFromText(text, genai.RoleModel),
			FinishReason: genai.FinishReasonStop,
		}},
	}, nil
}

func (f *fakeModels) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func instructionOf(c call) string {
	if c.cfg.SystemInstruction == nil {
		return ""
	}
	return c.cfg.SystemInstruction.Parts[0].Text
}

func newTestClient(t *testing.T, models *fakeModels, gc config.GeminiConfig) *Client {
	t.Helper()
	cfg := config.Default()
	gc.ModelName = "test-model"
	gc.Timeout = time.Second
	return newClient(models, gc, config.NewStaticProvider(cfg), nil)
}

func TestGenerateReplyBuildsConversation(t *testing.T) {
	t.Parallel()

	models := &fakeModels{replies: []string{`"Harika, yarın 14:00 uygun mu?"`}}
	c := newTestClient(t, models, config.GeminiConfig{})

	l := &lead.Lead{ID: "L1", CompanyName: "Kahve Durağı", WinProbability: 9, Objection: "Vakit", NextMove: "Demo iste"}
	history := []database.ConversationEntry{
		{Sender: database.SenderBot, Text: "Merhabalar, kolay gelsin"},
		{Sender: database.SenderCustomer, Text: "Merhaba"},
		{Sender: database.SenderCustomer, Text: "Nedir bu?"},
	}

	got := c.GenerateReply(context.Background(), l, "Merhaba\nNedir bu?", history)
	assert.Equal(t, "Harika, yarın 14:00 uygun mu?", got)

	sent := models.last()
	require.Len(t, sent.contents, 2, "trailing customer entries are merged into the incoming turn")
	assert.Equal(t, string(genai.RoleModel), sent.contents[0].Role)
	assert.Equal(t, "Merhaba\nNedir bu?", sent.contents[1].Parts[0].Text)

	instr := instructionOf(sent)
	assert.Contains(t, instr, "Kahve Durağı")
	assert.Contains(t, instr, modeClosing)
	assert.Contains(t, instr, "Demo iste")
}

func TestGenerateReplyFallsBack(t *testing.T) {
	t.Parallel()

	models := &fakeModels{err: errors.New("quota exceeded")}
	c := newTestClient(t, models, config.GeminiConfig{})
	got := c.GenerateReply(context.Background(), &lead.Lead{ID: "L1"}, "Fiyat nedir?", nil)
	assert.Equal(t, config.Default().Outreach.FallbackReply, got)

	// blank output counts as a failure too
	models = &fakeModels{replies: []string{"   "}}
	c = newTestClient(t, models, config.GeminiConfig{})
	got = c.GenerateReply(context.Background(), &lead.Lead{ID: "L1"}, "Fiyat nedir?", nil)
	assert.Equal(t, config.Default().Outreach.FallbackReply, got)
}

func TestGenerateIntroFallsBackToTemplate(t *testing.T) {
	t.Parallel()

	models := &fakeModels{err: errors.New("unavailable")}
	c := newTestClient(t, models, config.GeminiConfig{})
	l := &lead.Lead{ID: "L1", CompanyName: "Kahve Durağı", ActiveStrategy: lead.StrategyAnalyst}
	info := lead.StrategyFor(l)

	assert.Equal(t, info.FallbackIntro(l), c.GenerateIntro(context.Background(), l, info))
}

func TestParaphrase(t *testing.T) {
	t.Parallel()

	models := &fakeModels{replies: []string{"Merhabalar, müsait misiniz acaba"}}
	c := newTestClient(t, models, config.GeminiConfig{})
	assert.Equal(t, "Merhabalar, müsait misiniz acaba", c.Paraphrase(context.Background(), "Selamlar, müsait misiniz?"))
	require.NotNil(t, models.last().cfg.Temperature)
	assert.InDelta(t, 0.8, *models.last().cfg.Temperature, 0.001)

	failing := newTestClient(t, &fakeModels{err: errors.New("boom")}, config.GeminiConfig{})
	assert.Equal(t, "Selamlar", failing.Paraphrase(context.Background(), "Selamlar"))
}

func TestAnalyze(t *testing.T) {
	t.Parallel()

	models := &fakeModels{replies: []string{`{"objection":"Fiyat","next_move":"Ücretsiz ayı vurgula","win_probability":7}`}}
	c := newTestClient(t, models, config.GeminiConfig{})

	in, err := c.Analyze(context.Background(), "Pahalı mı?", nil)
	require.NoError(t, err)
	assert.Equal(t, lead.Insight{Objection: "Fiyat", NextMove: "Ücretsiz ayı vurgula", WinProbability: 7}, in)
	assert.Equal(t, "application/json", models.last().cfg.ResponseMIMEType)

	models = &fakeModels{replies: []string{"not json"}}
	c = newTestClient(t, models, config.GeminiConfig{})
	_, err = c.Analyze(context.Background(), "Pahalı mı?", nil)
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply string
		err   error
		want  lead.Sentiment
	}{
		{name: "json label", reply: `{"sentiment":"Positive"}`, want: lead.SentimentPositive},
		{name: "bare label", reply: "Negative.", want: lead.SentimentNegative},
		{name: "garbage", reply: "hmm", want: lead.SentimentNeutral},
		{name: "error", err: errors.New("down"), want: lead.SentimentNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			models := &fakeModels{replies: []string{tt.reply}, err: tt.err}
			c := newTestClient(t, models, config.GeminiConfig{})
			assert.Equal(t, tt.want, c.Classify(context.Background(), "Bilgi alabilir miyim?"))
		})
	}
}

func TestKeywordClassifier(t *testing.T) {
	t.Parallel()

	models := &fakeModels{replies: []string{`{"sentiment":"Positive"}`}}
	inner := newTestClient(t, models, config.GeminiConfig{})
	k := NewKeywordClassifier(inner, func() []string { return []string{"defol", "şikayet edeceğim"} }, nil)

	assert.Equal(t, lead.SentimentAggressive, k.Classify(context.Background(), "DEFOL git"))
	assert.Empty(t, models.calls, "keyword hits never reach the model")

	assert.Equal(t, lead.SentimentPositive, k.Classify(context.Background(), "Detay verir misiniz?"))
	assert.Len(t, models.calls, 1)
}

func TestPersonaMode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, modePersuade, personaMode(0))
	assert.Equal(t, modeExit, personaMode(2))
	assert.Equal(t, modePersuade, personaMode(5))
	assert.Equal(t, modeClosing, personaMode(8))
}

func TestKnowledgeIsAppendedAndReloaded(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "brain.txt")
	require.NoError(t, os.WriteFile(path, []byte("İlk ay ücretsiz."), 0o600))

	models := &fakeModels{replies: []string{"Tamam", "Tamam"}}
	c := newTestClient(t, models, config.GeminiConfig{KnowledgePath: path})

	c.GenerateReply(context.Background(), &lead.Lead{ID: "L1"}, "Fiyat?", nil)
	assert.Contains(t, instructionOf(models.last()), "İlk ay ücretsiz.")

	require.NoError(t, os.WriteFile(path, []byte("Kurulum 5 dakika."), 0o600))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	c.GenerateReply(context.Background(), &lead.Lead{ID: "L1"}, "Kurulum?", nil)
	instr := instructionOf(models.last())
	assert.Contains(t, instr, "Kurulum 5 dakika.")
	assert.False(t, strings.Contains(instr, "İlk ay ücretsiz."))
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	models := &fakeModels{err: errors.New("unavailable")}
	c := newTestClient(t, models, config.GeminiConfig{})
	for i := 0; i < breakerMaxFailures; i++ {
		c.Paraphrase(context.Background(), "Selamlar")
	}
	require.Len(t, models.calls, breakerMaxFailures)

	_, err := c.generateContent(context.Background(), genai.Text("Selamlar"), c.contentConfig)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Len(t, models.calls, breakerMaxFailures, "an open breaker never reaches the model")
	assert.Equal(t, "Selamlar", c.Paraphrase(context.Background(), "Selamlar"))
}

func TestCircuitBreakerIgnoresCancelledCalls(t *testing.T) {
	t.Parallel()

	models := &fakeModels{err: context.Canceled}
	c := newTestClient(t, models, config.GeminiConfig{})
	for i := 0; i < breakerMaxFailures+1; i++ {
		c.Paraphrase(context.Background(), "Selamlar")
	}
	assert.Len(t, models.calls, breakerMaxFailures+1)
}
