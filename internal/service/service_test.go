package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funding-spread-alerts/internal/alerting"
	"funding-spread-alerts/internal/alerts"
	"funding-spread-alerts/internal/funding"
	"funding-spread-alerts/internal/lock"
	"funding-spread-alerts/internal/metrics"
	"funding-spread-alerts/internal/storage/memory"
)

type staticReader struct {
	snaps []funding.MarketSnapshot
	at    time.Time
}

func (r staticReader) Get() ([]funding.MarketSnapshot, time.Time) { return r.snaps, r.at }

type fakeChannel struct {
	mu       sync.Mutex
	sent     map[int64][]string
	failFor  map[int64]error
	panicFor map[int64]bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{sent: make(map[int64][]string), failFor: make(map[int64]error), panicFor: make(map[int64]bool)}
}

func (c *fakeChannel) Send(_ context.Context, recipient int64, text string) error {
	if c.panicFor[recipient] {
		panic("formatter exploded")
	}
	if err := c.failFor[recipient]; err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent[recipient] = append(c.sent[recipient], text)
	return nil
}

type heldLocker struct{}

func (heldLocker) TryLock(context.Context, string) (func(), bool, error) { return nil, false, nil }

type brokenLocker struct{}

func (brokenLocker) TryLock(context.Context, string) (func(), bool, error) {
	return nil, false, errors.New("redis: connection refused")
}

var tickTime = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func rates(pairs ...string) []funding.VenueRate {
	out := make([]funding.VenueRate, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, funding.VenueRate{Venue: pairs[i], Rate: decimal.RequireFromString(pairs[i+1])})
	}
	return out
}

func populatedReader() staticReader {
	at := tickTime.Add(-time.Minute)
	return staticReader{at: at, snaps: []funding.MarketSnapshot{
		{Market: "BTC", Rates: rates("dYdX", "45.2", "Paradex", "-12.8"), GeneratedAt: at},
		{Market: "ETH", Rates: rates("dYdX", "30", "Paradex", "10"), GeneratedAt: at},
	}}
}

func addSetting(t *testing.T, store *memory.Store, owner int64, minSpread string) alerts.Setting {
	t.Helper()
	s, err := store.CreateSetting(context.Background(), alerts.Setting{
		OwnerID:    owner,
		Name:       fmt.Sprintf("alert-%d", owner),
		Interval:   alerts.MustMinutes(5),
		MinSpread:  decimal.RequireFromString(minSpread),
		MaxSpread:  decimal.NewFromInt(500),
		MaxResults: 5,
		Active:     true,
	})
	require.NoError(t, err)
	return s
}

func newService(store *memory.Store, reader staticReader, ch alerting.Channel, locker lock.Locker) *AlertService {
	return New(store, reader, ch, locker, metrics.New(), Options{Workers: 2}, zerolog.Nop())
}

func TestProcessTickSendsAndStampsLastSent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	setting := addSetting(t, store, 100, "10")
	ch := newFakeChannel()

	summary, err := newService(store, populatedReader(), ch, nil).ProcessTick(ctx, tickTime)
	require.NoError(t, err)
	assert.Equal(t, TickSummary{Due: 1, Sent: 1}, summary)

	require.Len(t, ch.sent[100], 1)
	assert.Contains(t, ch.sent[100][0], "BTC-USD")
	assert.Contains(t, ch.sent[100][0], "ETH-USD")

	got, err := store.GetSetting(ctx, setting.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSentAt)
	assert.Equal(t, tickTime, *got.LastSentAt)

	records := store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, alerts.StatusSent, records[0].Status)
	assert.Equal(t, 2, records[0].MarketsCount)

	summary, err = newService(store, populatedReader(), ch, nil).ProcessTick(ctx, tickTime.Add(4*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, summary.Due, "not due again before the interval elapses")
}

func TestProcessTickNoDataStillStampsLastSent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	setting := addSetting(t, store, 100, "400")
	ch := newFakeChannel()

	summary, err := newService(store, populatedReader(), ch, nil).ProcessTick(ctx, tickTime)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NoData)
	assert.Empty(t, ch.sent[100])

	got, _ := store.GetSetting(ctx, setting.ID)
	require.NotNil(t, got.LastSentAt)
	assert.Equal(t, alerts.StatusNoData, store.Records()[0].Status)
}

func TestDeliveryFailureKeepsSettingDue(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	setting := addSetting(t, store, 100, "10")
	ch := newFakeChannel()
	ch.failFor[100] = errors.New("telegram 响应异常 502: Bad Gateway")
	svc := newService(store, populatedReader(), ch, nil)

	summary, err := svc.ProcessTick(ctx, tickTime)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, summary.Deactivated)

	got, _ := store.GetSetting(ctx, setting.ID)
	assert.Nil(t, got.LastSentAt, "failed delivery must not advance lastSentAt")
	assert.True(t, got.Active)
	assert.Equal(t, alerts.StatusFailed, store.Records()[0].Status)

	nextTick := tickTime.Add(time.Minute)
	due, err := store.FindDue(ctx, nextTick)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, setting.ID, due[0].ID)

	delete(ch.failFor, 100)
	summary, err = svc.ProcessTick(ctx, nextTick)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
}

func TestUnreachableRecipientDeactivatesSetting(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	setting := addSetting(t, store, 100, "10")
	ch := newFakeChannel()
	ch.failFor[100] = fmt.Errorf("telegram 403: Forbidden: %w", alerting.ErrRecipientUnreachable)

	summary, err := newService(store, populatedReader(), ch, nil).ProcessTick(ctx, tickTime)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Deactivated)

	got, _ := store.GetSetting(ctx, setting.ID)
	assert.False(t, got.Active)
	assert.Nil(t, got.LastSentAt)
}

func TestOneSettingFailureDoesNotStarveOthers(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	for owner := int64(1); owner <= 6; owner++ {
		addSetting(t, store, owner, "10")
	}
	ch := newFakeChannel()
	ch.failFor[2] = errors.New("timeout")
	ch.panicFor[4] = true

	summary, err := newService(store, populatedReader(), ch, nil).ProcessTick(ctx, tickTime)
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Due)
	assert.Equal(t, 4, summary.Sent)
	assert.Equal(t, 2, summary.Failed)

	for _, owner := range []int64{1, 3, 5, 6} {
		assert.Len(t, ch.sent[owner], 1, "owner %d", owner)
	}
	assert.Len(t, store.Records(), 6)
}

func TestTickSkippedWhenCacheEmpty(t *testing.T) {
	store := memory.New()
	addSetting(t, store, 100, "10")

	summary, err := newService(store, staticReader{}, newFakeChannel(), nil).ProcessTick(context.Background(), tickTime)
	require.NoError(t, err)
	assert.Equal(t, "cache_empty", summary.Skipped)
	assert.Empty(t, store.Records())
}

func TestTickSkippedWhenLockHeld(t *testing.T) {
	store := memory.New()
	addSetting(t, store, 100, "10")
	ch := newFakeChannel()

	summary, err := newService(store, populatedReader(), ch, heldLocker{}).ProcessTick(context.Background(), tickTime)
	require.NoError(t, err)
	assert.Equal(t, "locked", summary.Skipped)
	assert.Empty(t, ch.sent)
}

func TestTickFailsWhenLockBackendErrors(t *testing.T) {
	store := memory.New()
	addSetting(t, store, 100, "10")
	ch := newFakeChannel()

	_, err := newService(store, populatedReader(), ch, brokenLocker{}).ProcessTick(context.Background(), tickTime)
	require.Error(t, err)
	assert.NotErrorIs(t, err, lock.ErrLockHeld)
	assert.Contains(t, err.Error(), "acquire tick lock: redis: connection refused")
	assert.Empty(t, ch.sent)
}

func TestSentAlertLogsNextCheck(t *testing.T) {
	store := memory.New()
	addSetting(t, store, 100, "10")

	var buf bytes.Buffer
	svc := New(store, populatedReader(), newFakeChannel(), nil, nil, Options{Workers: 1}, zerolog.New(zerolog.SyncWriter(&buf)))
	_, err := svc.ProcessTick(context.Background(), tickTime)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"next_check":"2026-05-01T10:05:00Z"`)
}
