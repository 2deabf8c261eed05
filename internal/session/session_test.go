package session

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"wellness_auction/internal/api"
	"wellness_auction/internal/config"
	"wellness_auction/internal/models"
	"wellness_auction/internal/stream"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type pushedEvent struct {
	name    string
	payload interface{}
}

// stubBackend 模擬儀表板後端：清單、餘額、出價與推播端點
type stubBackend struct {
	t   *testing.T
	srv *httptest.Server

	mu           sync.Mutex
	active       *models.Auction
	scheduled    []models.Auction
	ended        []models.Auction
	balance      int64
	history      map[uint64][]models.BidRecord
	bidStatus    int
	bidBody      string
	bidDelay     time.Duration
	listDelay    time.Duration
	receivedBids []int64

	events chan pushedEvent
}

func newStubBackend(t *testing.T) *stubBackend {
	t.Helper()
	gin.SetMode(gin.TestMode)

	b := &stubBackend{
		t:       t,
		history: make(map[uint64][]models.BidRecord),
		events:  make(chan pushedEvent, 16),
	}

	router := gin.New()

	router.GET("/api/v1/auctions/active", func(c *gin.Context) {
		b.sleepListDelay()
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.active == nil {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, *b.active)
	})

	router.GET("/api/v1/auctions/scheduled", func(c *gin.Context) {
		b.sleepListDelay()
		b.mu.Lock()
		defer b.mu.Unlock()
		c.JSON(http.StatusOK, b.scheduled)
	})

	router.GET("/api/v1/auctions/ended", func(c *gin.Context) {
		b.sleepListDelay()
		b.mu.Lock()
		defer b.mu.Unlock()
		c.JSON(http.StatusOK, b.ended)
	})

	router.GET("/api/v1/points/balance", func(c *gin.Context) {
		b.sleepListDelay()
		b.mu.Lock()
		defer b.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"total_points": b.balance})
	})

	router.GET("/api/v1/auctions/:id/bids", func(c *gin.Context) {
		id, _ := strconv.ParseUint(c.Param("id"), 10, 64)
		b.mu.Lock()
		defer b.mu.Unlock()
		c.JSON(http.StatusOK, b.history[id])
	})

	router.POST("/api/v1/auctions/:id/bids", func(c *gin.Context) {
		b.mu.Lock()
		delay := b.bidDelay
		status := b.bidStatus
		body := b.bidBody
		b.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}

		var req api.PlaceBidRequest
		require.NoError(b.t, c.ShouldBindJSON(&req))

		if status >= http.StatusBadRequest {
			c.Data(status, "application/json", []byte(body))
			return
		}

		b.mu.Lock()
		b.receivedBids = append(b.receivedBids, req.Amount)
		b.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"accepted": true})
	})

	router.GET("/api/v1/auctions/:id/stream", func(c *gin.Context) {
		c.Stream(func(w io.Writer) bool {
			select {
			case ev, ok := <-b.events:
				if !ok {
					return false
				}
				c.SSEvent(ev.name, ev.payload)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	})

	b.srv = httptest.NewServer(router)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *stubBackend) sleepListDelay() {
	b.mu.Lock()
	delay := b.listDelay
	b.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
}

func (b *stubBackend) bids() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int64, len(b.receivedBids))
	copy(out, b.receivedBids)
	return out
}

func liveAuction() *models.Auction {
	return &models.Auction{
		AuctionID:       7,
		ItemName:        "massage voucher",
		CurrentPrice:    1000,
		TotalBids:       3,
		RegularEndTime:  baseTime.Add(5 * time.Minute),
		OvertimeSeconds: 30,
	}
}

func newTestSession(t *testing.T, b *stubBackend) (*Session, *fakeclock.FakeClock, *stream.Manager) {
	return newTestSessionWithBuffer(t, b, models.DefaultOvertimeSeconds)
}

func newTestSessionWithBuffer(t *testing.T, b *stubBackend, overtimeSeconds int) (*Session, *fakeclock.FakeClock, *stream.Manager) {
	t.Helper()

	cfg := &config.Config{
		APIBaseURL:  b.srv.URL,
		HTTPTimeout: 5 * time.Second,
	}
	clk := fakeclock.NewFakeClock(baseTime)
	subs := stream.NewManager(zap.NewNop(), stream.Options{})
	sess := New(context.Background(), api.New(cfg, zap.NewNop()), clk, subs, overtimeSeconds, zap.NewNop())
	t.Cleanup(subs.Unsubscribe)

	return sess, clk, subs
}

func TestForegroundRefreshHydratesState(t *testing.T) {
	b := newStubBackend(t)
	b.active = liveAuction()
	b.scheduled = []models.Auction{{AuctionID: 8, ItemName: "gym pass"}}
	b.ended = []models.Auction{{AuctionID: 3, ItemName: "yoga mat", WinnerName: "carol"}}
	b.balance = 1500

	sess, _, _ := newTestSession(t, b)
	require.NoError(t, sess.Refresh(context.Background(), RefreshForeground))

	active := sess.ActiveAuctions()
	require.Len(t, active, 1)
	assert.Equal(t, uint64(7), active[0].AuctionID)
	assert.Len(t, sess.ScheduledAuctions(), 1)

	ended := sess.EndedAuctions()
	require.Len(t, ended, 1)
	assert.Equal(t, "carol", ended[0].WinnerName)

	assert.Equal(t, int64(1500), sess.Balance())
	assert.False(t, sess.Loading())
}

// 出價前的本地驗證：金額需為數字、嚴格高於現價、不超過餘額
func TestPlaceBidValidation(t *testing.T) {
	b := newStubBackend(t)
	b.active = liveAuction()
	b.balance = 1500

	sess, _, _ := newTestSession(t, b)
	ctx := context.Background()
	require.NoError(t, sess.Refresh(ctx, RefreshForeground))
	require.NoError(t, sess.Select(ctx, 7))

	tests := []struct {
		name     string
		raw      string
		expected error
	}{
		{"equal_to_current_price", "1000", ErrBidTooLow},
		{"below_current_price", "900", ErrBidTooLow},
		{"exceeds_balance", "1600", ErrInsufficientPoints},
		{"empty_input", "", ErrInvalidAmount},
		{"no_digits", "abc", ErrInvalidAmount},
		{"valid_with_separator", "1,001", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sess.PlaceBid(ctx, tt.raw)
			if tt.expected != nil {
				require.ErrorIs(t, err, tt.expected)
				return
			}
			require.NoError(t, err)
		})
	}

	// 只有合法的 1001 真正送達伺服器
	assert.Equal(t, []int64{1001}, b.bids())
}

func TestPlaceBidRejectionLeavesStateUntouched(t *testing.T) {
	b := newStubBackend(t)
	b.active = liveAuction()
	b.balance = 1500
	b.bidStatus = http.StatusConflict
	b.bidBody = `{"message":"someone else outbid first"}`

	sess, _, _ := newTestSession(t, b)
	ctx := context.Background()
	require.NoError(t, sess.Refresh(ctx, RefreshForeground))
	require.NoError(t, sess.Select(ctx, 7))

	err := sess.PlaceBid(ctx, "1001")
	require.Error(t, err)

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "someone else outbid first", apiErr.Message)

	// 未做樂觀更新，被拒絕的出價不動本地狀態
	selected, ok := sess.Selected()
	require.True(t, ok)
	assert.Equal(t, int64(1000), selected.CurrentPrice)
	assert.Empty(t, b.bids())
}

func TestPlaceBidGuardsAgainstDoubleSubmit(t *testing.T) {
	b := newStubBackend(t)
	b.active = liveAuction()
	b.balance = 1500
	b.bidDelay = 400 * time.Millisecond

	sess, _, _ := newTestSession(t, b)
	ctx := context.Background()
	require.NoError(t, sess.Refresh(ctx, RefreshForeground))
	require.NoError(t, sess.Select(ctx, 7))

	firstDone := make(chan error, 1)
	go func() { firstDone <- sess.PlaceBid(ctx, "1001") }()

	time.Sleep(100 * time.Millisecond)
	require.ErrorIs(t, sess.PlaceBid(ctx, "1002"), ErrBidInFlight)

	require.NoError(t, <-firstDone)
	assert.Equal(t, []int64{1001}, b.bids())
}

// 伺服器收尾未跑完仍回傳過期拍賣時，客戶端要自行剪除
func TestRefreshPrunesExpiredActiveAuction(t *testing.T) {
	b := newStubBackend(t)
	b.active = liveAuction()
	b.balance = 1500

	sess, clk, _ := newTestSession(t, b)
	ctx := context.Background()
	require.NoError(t, sess.Refresh(ctx, RefreshForeground))
	require.NoError(t, sess.Select(ctx, 7))

	// 過了 regular_end + 緩衝一秒
	clk.Increment(baseTime.Add(5*time.Minute + 31*time.Second).Sub(clk.Now()))
	require.NoError(t, sess.Refresh(ctx, RefreshSilent))

	assert.Empty(t, sess.ActiveAuctions())

	_, ok := sess.Selected()
	assert.False(t, ok)
}

func TestSilentRefreshPreservesSelection(t *testing.T) {
	b := newStubBackend(t)
	b.active = liveAuction()
	b.balance = 1500

	sess, _, _ := newTestSession(t, b)
	ctx := context.Background()
	require.NoError(t, sess.Refresh(ctx, RefreshForeground))
	require.NoError(t, sess.Select(ctx, 7))

	// 價格在伺服器端上漲後靜默刷新
	b.mu.Lock()
	b.active.CurrentPrice = 1300
	b.active.TotalBids = 6
	b.mu.Unlock()

	require.NoError(t, sess.Refresh(ctx, RefreshSilent))

	selected, ok := sess.Selected()
	require.True(t, ok)
	assert.Equal(t, uint64(7), selected.AuctionID)
	assert.Equal(t, int64(1300), selected.CurrentPrice)

	// 選取中的拍賣從 active 回應消失時清除選取
	b.mu.Lock()
	b.active = nil
	b.mu.Unlock()

	require.NoError(t, sess.Refresh(ctx, RefreshSilent))
	_, ok = sess.Selected()
	assert.False(t, ok)
}

func TestLoadingIndicatorOnlyInForeground(t *testing.T) {
	b := newStubBackend(t)
	b.active = liveAuction()
	b.balance = 1500
	b.listDelay = 200 * time.Millisecond

	sess, _, _ := newTestSession(t, b)
	ctx := context.Background()

	foregroundDone := make(chan error, 1)
	go func() { foregroundDone <- sess.Refresh(ctx, RefreshForeground) }()

	require.Eventually(t, func() bool { return sess.Loading() },
		time.Second, 10*time.Millisecond)
	require.NoError(t, <-foregroundDone)
	assert.False(t, sess.Loading())

	// 靜默刷新全程不觸發載入指示
	silentDone := make(chan error, 1)
	go func() { silentDone <- sess.Refresh(ctx, RefreshSilent) }()

	require.Never(t, func() bool { return sess.Loading() },
		150*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, <-silentDone)
}

func TestRefreshDegradesPerFetch(t *testing.T) {
	// 只提供部分端點的後端：其餘抓取失敗時降級為空清單
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/v1/auctions/active", func(c *gin.Context) {
		c.JSON(http.StatusOK, *liveAuction())
	})
	router.GET("/api/v1/points/balance", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"total_points": 800})
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	cfg := &config.Config{APIBaseURL: srv.URL, HTTPTimeout: 5 * time.Second}
	clk := fakeclock.NewFakeClock(baseTime)
	subs := stream.NewManager(zap.NewNop(), stream.Options{})
	sess := New(context.Background(), api.New(cfg, zap.NewNop()), clk, subs, models.DefaultOvertimeSeconds, zap.NewNop())

	require.NoError(t, sess.Refresh(context.Background(), RefreshForeground))

	assert.Len(t, sess.ActiveAuctions(), 1)
	assert.Empty(t, sess.ScheduledAuctions())
	assert.Empty(t, sess.EndedAuctions())
	assert.Equal(t, int64(800), sess.Balance())
}

func TestSelectHydratesLedgerFromHistory(t *testing.T) {
	b := newStubBackend(t)
	b.active = liveAuction()
	b.balance = 1500
	b.history[7] = []models.BidRecord{
		{BidID: 31, AuctionID: 7, UserName: "alice", BidAmount: 1000, Status: models.BidStatusActive},
		{BidID: 30, AuctionID: 7, UserName: "bob", BidAmount: 900, Status: models.BidStatusOutbid},
	}

	sess, _, _ := newTestSession(t, b)
	ctx := context.Background()
	require.NoError(t, sess.Refresh(ctx, RefreshForeground))
	require.NoError(t, sess.Select(ctx, 7))

	l := sess.SelectedLedger()
	require.NotNil(t, l)
	records := l.Records()
	require.Len(t, records, 2)
	assert.Equal(t, uint64(31), records[0].BidID)
}

func TestSelectEndedAuctionDoesNotSubscribe(t *testing.T) {
	b := newStubBackend(t)
	b.ended = []models.Auction{{
		AuctionID:      3,
		ItemName:       "yoga mat",
		RegularEndTime: baseTime.Add(-time.Hour),
		WinnerName:     "carol",
	}}
	b.balance = 1500

	sess, _, subs := newTestSession(t, b)
	ctx := context.Background()
	require.NoError(t, sess.Refresh(ctx, RefreshForeground))
	require.NoError(t, sess.Select(ctx, 3))

	selected, ok := sess.Selected()
	require.True(t, ok)
	assert.Equal(t, "carol", selected.WinnerName)

	state, _ := subs.State()
	assert.Equal(t, stream.StateNone, state)
}

func TestSelectUnknownAuctionFails(t *testing.T) {
	b := newStubBackend(t)
	b.balance = 1500

	sess, _, _ := newTestSession(t, b)
	ctx := context.Background()
	require.NoError(t, sess.Refresh(ctx, RefreshForeground))
	require.Error(t, sess.Select(ctx, 42))
}

// 完整事件流：推播事件更新選取中拍賣、寫入暫定紀錄並觸發餘額刷新。
// 這筆事件與出價 RPC 的先後順序不影響最終帳本狀態。
func TestRefreshEventFlow(t *testing.T) {
	b := newStubBackend(t)
	b.active = liveAuction()
	b.balance = 1500

	sess, _, _ := newTestSession(t, b)
	ctx := context.Background()
	require.NoError(t, sess.Refresh(ctx, RefreshForeground))
	require.NoError(t, sess.Select(ctx, 7))

	// 他人出價後伺服器同步調整餘額（本地使用者被退點情境）
	b.mu.Lock()
	b.balance = 900
	b.mu.Unlock()

	b.events <- pushedEvent{
		name: models.EventNameRefresh,
		payload: models.RefreshEvent{
			AuctionID:    7,
			CurrentPrice: 1200,
			TotalBids:    5,
			BidderName:   "alice",
			BidTime:      baseTime.Add(time.Minute),
		},
	}

	require.Eventually(t, func() bool {
		selected, ok := sess.Selected()
		return ok && selected.CurrentPrice == 1200 && selected.TotalBids == 5
	}, 3*time.Second, 20*time.Millisecond)

	l := sess.SelectedLedger()
	require.NotNil(t, l)
	top, ok := l.Top()
	require.True(t, ok)
	assert.Equal(t, models.BidStatusProvisional, top.Status)
	assert.Equal(t, int64(1200), top.BidAmount)
	assert.Equal(t, "alice", top.UserName)

	require.Eventually(t, func() bool {
		return sess.Balance() == 900
	}, 3*time.Second, 20*time.Millisecond)
}

// 伺服器 payload 未帶 overtime_seconds 時，剪除判斷用設定的緩衝秒數
func TestRefreshUsesConfiguredOvertimeBuffer(t *testing.T) {
	b := newStubBackend(t)
	a := liveAuction()
	a.OvertimeSeconds = 0
	b.active = a
	b.balance = 1500

	sess, clk, _ := newTestSessionWithBuffer(t, b, 60)
	ctx := context.Background()
	require.NoError(t, sess.Refresh(ctx, RefreshForeground))

	// 預設的 30 秒緩衝已過，但設定的 60 秒尚未
	clk.Increment(baseTime.Add(5*time.Minute + 31*time.Second).Sub(clk.Now()))
	require.NoError(t, sess.Refresh(ctx, RefreshSilent))
	require.Len(t, sess.ActiveAuctions(), 1)

	clk.Increment(baseTime.Add(5*time.Minute + 61*time.Second).Sub(clk.Now()))
	require.NoError(t, sess.Refresh(ctx, RefreshSilent))
	assert.Empty(t, sess.ActiveAuctions())
}

// 停機後事件觸發的餘額抓取不得再發出請求
func TestBalanceRefreshStopsAfterShutdown(t *testing.T) {
	b := newStubBackend(t)
	b.active = liveAuction()
	b.balance = 1500

	cfg := &config.Config{APIBaseURL: b.srv.URL, HTTPTimeout: 5 * time.Second}
	clk := fakeclock.NewFakeClock(baseTime)
	subs := stream.NewManager(zap.NewNop(), stream.Options{})

	lifecycle, shutdown := context.WithCancel(context.Background())
	sess := New(lifecycle, api.New(cfg, zap.NewNop()), clk, subs, models.DefaultOvertimeSeconds, zap.NewNop())
	t.Cleanup(subs.Unsubscribe)

	ctx := context.Background()
	require.NoError(t, sess.Refresh(ctx, RefreshForeground))
	require.NoError(t, sess.Select(ctx, 7))

	shutdown()

	b.mu.Lock()
	b.balance = 900
	b.mu.Unlock()

	b.events <- pushedEvent{
		name:    models.EventNameRefresh,
		payload: models.RefreshEvent{AuctionID: 7, CurrentPrice: 1200, TotalBids: 5},
	}

	// 事件本身仍會套用到拍賣狀態
	require.Eventually(t, func() bool {
		selected, ok := sess.Selected()
		return ok && selected.CurrentPrice == 1200
	}, 3*time.Second, 20*time.Millisecond)

	// 餘額抓取掛在已取消的生命週期 context 上，不再更新
	require.Never(t, func() bool { return sess.Balance() != 1500 },
		300*time.Millisecond, 20*time.Millisecond)
}
