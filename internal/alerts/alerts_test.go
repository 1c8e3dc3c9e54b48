package alerts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (r *recordingAlerter) Send(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

type fakeBot struct {
	sent    []tgbotapi.MessageConfig
	failFor map[int64]bool
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg := c.(tgbotapi.MessageConfig)
	if f.failFor[msg.ChatID] {
		return tgbotapi.Message{}, errors.New("forbidden")
	}
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{}, nil
}

func TestManagerFansOutAndJoinsErrors(t *testing.T) {
	ok := &recordingAlerter{}
	bad := &recordingAlerter{err: errors.New("down")}
	m := NewManager([]Alerter{bad, ok, NewLogAlerter()}, WithSuppressWindow(0))

	err := m.SendCritical(context.Background(), "Ledger consistency violation", "over-fill", map[string]interface{}{"order_id": "o-1"})
	require.Error(t, err)
	require.Len(t, ok.alerts, 1)
	assert.Equal(t, SeverityCritical, ok.alerts[0].Severity)
	assert.False(t, ok.alerts[0].Timestamp.IsZero())
	assert.Len(t, bad.alerts, 1)
}

func TestManagerSuppressesRepeats(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &recordingAlerter{}
	m := NewManager([]Alerter{rec}, WithSuppressWindow(time.Minute), withClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, m.SendCritical(ctx, "t", "same", nil))
	require.NoError(t, m.SendCritical(ctx, "t", "same", nil))
	require.NoError(t, m.SendWarning(ctx, "t", "same", nil))
	assert.Len(t, rec.alerts, 2, "different severity is a different alert")

	now = now.Add(time.Minute)
	require.NoError(t, m.SendCritical(ctx, "t", "same", nil))
	assert.Len(t, rec.alerts, 3)
}

func TestTelegramAlerter(t *testing.T) {
	t.Run("requires token", func(t *testing.T) {
		_, err := NewTelegramAlerter("", []int64{1}, SeverityCritical)
		assert.ErrorContains(t, err, "bot token is required")
	})

	t.Run("filters by severity", func(t *testing.T) {
		bot := &fakeBot{}
		a := newTelegramAlerter(bot, []int64{1}, SeverityCritical)
		require.NoError(t, a.Send(context.Background(), Alert{Title: "x", Severity: SeverityWarning}))
		assert.Empty(t, bot.sent)
	})

	t.Run("partial failure still succeeds", func(t *testing.T) {
		bot := &fakeBot{failFor: map[int64]bool{1: true}}
		a := newTelegramAlerter(bot, []int64{1, 2}, "")
		alert := Alert{
			Title:     "Ledger consistency violation",
			Message:   "over_fill on order_1",
			Severity:  SeverityCritical,
			Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			Metadata:  map[string]interface{}{"symbol": "BTCUSDT", "order_id": "o1"},
		}
		require.NoError(t, a.Send(context.Background(), alert))
		require.Len(t, bot.sent, 1)
		assert.Equal(t, int64(2), bot.sent[0].ChatID)

		text := bot.sent[0].Text
		assert.Contains(t, text, "[CRITICAL]")
		assert.Contains(t, text, `over\_fill`)
		assert.Less(t, strings.Index(text, "- order"), strings.Index(text, "- symbol"), "metadata is sorted")
	})

	t.Run("all chats failing", func(t *testing.T) {
		bot := &fakeBot{failFor: map[int64]bool{1: true}}
		a := newTelegramAlerter(bot, []int64{1}, SeverityInfo)
		assert.Error(t, a.Send(context.Background(), Alert{Severity: SeverityCritical}))
	})
}
