package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/leadpilot/internal/config"
	"github.com/edgard/leadpilot/internal/lead"
	"github.com/edgard/leadpilot/internal/logger"
)

type sentMessage struct {
	chatID string
	text   string
	markup string
}

// fakeAPI answers sendMessage, failing the first failures calls.
type fakeAPI struct {
	mu       sync.Mutex
	failures int
	calls    int
	sent     []sentMessage
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseMultipartForm(1 << 20)
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	if path.Base(r.URL.Path) != "sendMessage" {
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
		return
	}
	f.calls++
	if f.calls <= f.failures {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":500,"description":"Internal Server Error"}`))
		return
	}
	f.sent = append(f.sent, sentMessage{
		chatID: r.FormValue("chat_id"),
		text:   r.FormValue("text"),
		markup: r.FormValue("reply_markup"),
	})
	_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
}

func newNotifier(t *testing.T, api *fakeAPI) *Notifier {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	b, err := NewConsoleBot("123:test", logger.Discard(), bot.WithServerURL(srv.URL), bot.WithSkipGetMe())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Operator.AdminUserID = 42
	n := NewNotifier(b, config.NewStaticProvider(cfg), logger.Discard())
	n.delay = time.Millisecond
	return n
}

func TestNotifyApprovalCarriesButtons(t *testing.T) {
	api := &fakeAPI{}
	n := newNotifier(t, api)

	l := &lead.Lead{ID: "L1", CompanyName: "Cafe Moda", DraftMessage: "Merhaba, demo için uygun musunuz?"}
	require.NoError(t, n.NotifyApproval(context.Background(), l))

	require.Len(t, api.sent, 1)
	assert.Equal(t, "42", api.sent[0].chatID)
	assert.Equal(t, "Approval needed for Cafe Moda (L1):\n\nMerhaba, demo için uygun musunuz?", api.sent[0].text)
	assert.Contains(t, api.sent[0].markup, `"callback_data":"approve:L1"`)
	assert.Contains(t, api.sent[0].markup, `"callback_data":"discard:L1"`)
}

func TestNotifyInterestRetries(t *testing.T) {
	api := &fakeAPI{failures: 2}
	n := newNotifier(t, api)

	l := &lead.Lead{ID: "L2", Phone: "905551112233"}
	require.NoError(t, n.NotifyInterest(context.Background(), l, "Çok ilginç, anlatın"))

	assert.Equal(t, 3, api.calls)
	require.Len(t, api.sent, 1)
	assert.Equal(t, "Interested lead: 905551112233 (L2)\n\nÇok ilginç, anlatın", api.sent[0].text)
	assert.Empty(t, api.sent[0].markup)
}

func TestAlertGivesUpAfterAttempts(t *testing.T) {
	api := &fakeAPI{failures: 10}
	n := newNotifier(t, api)

	assert.Error(t, n.Alert(context.Background(), "gateway down"))
	assert.Equal(t, 3, api.calls)
}

func TestNewConsoleBotRejectsEmptyToken(t *testing.T) {
	_, err := NewConsoleBot("", nil)
	assert.Error(t, err)
}
