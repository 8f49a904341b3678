package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/quotaguard/internal/clock"
	"github.com/smallbiznis/quotaguard/internal/completion"
	"github.com/smallbiznis/quotaguard/internal/config"
	"github.com/smallbiznis/quotaguard/internal/observability"
	obsmetrics "github.com/smallbiznis/quotaguard/internal/observability/metrics"
	"github.com/smallbiznis/quotaguard/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/quotaguard/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/quotaguard/internal/usage/domain"
	"github.com/smallbiznis/quotaguard/internal/usage/repository"
	"github.com/smallbiznis/quotaguard/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2025, 5, 14, 10, 30, 0, 0, time.UTC)

type tiers map[string]subscriptiondomain.Tier

func (t tiers) GetUserTier(_ context.Context, userID string) subscriptiondomain.Tier {
	if tier, ok := t[userID]; ok {
		return tier
	}
	return subscriptiondomain.TierFree
}

type fakeCompletion struct {
	resp  *completion.Response
	err   error
	calls int
}

func (f *fakeCompletion) Complete(_ context.Context, req completion.Request) (*completion.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	resp := *f.resp
	if resp.Text == "" {
		resp.Text = "echo: " + req.Prompt
	}
	return &resp, nil
}

func (f *fakeCompletion) Name() string { return "fake" }

type testServer struct {
	srv        *Server
	db         *gorm.DB
	redis      *miniredis.Miniredis
	completion *fakeCompletion
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&usagedomain.UsageRecord{}, &usagedomain.FeatureUsageRecord{}))

	holder, err := config.NewStaticLimitsHolder(config.DefaultLimits())
	require.NoError(t, err)
	clk := clock.NewFakeClock(testNow)
	resolver := tiers{"u-max": subscriptiondomain.TierMax}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	limiter := ratelimit.NewLimiter(ratelimit.LimiterParam{
		Cfg:    cfg,
		Limits: holder,
		Store:  ratelimit.NewRedisCounterStore(client),
		Tiers:  resolver,
		Clock:  clk,
		Log:    zap.NewNop(),
	})
	usagesvc := service.NewService(service.ServiceParam{
		Cfg:    cfg,
		Limits: holder,
		Repo:   repository.Provide(db),
		Tiers:  resolver,
		Clock:  clk,
		GenID:  node,
		Log:    zap.NewNop(),
	})

	reg := prometheus.NewRegistry()
	httpMetrics, err := obsmetrics.NewHTTPMetricsWith(reg, reg)
	require.NoError(t, err)

	fake := &fakeCompletion{resp: &completion.Response{Model: "fake-1", InputTokens: 100, OutputTokens: 200}}
	srv := NewServer(ServerParams{
		Gin:         NewEngine(observability.Config{LogLevel: "info"}, httpMetrics),
		Cfg:         cfg,
		Log:         zap.NewNop(),
		Clock:       clk,
		Limiter:     limiter,
		FeatureLock: ratelimit.NewFeatureLock(cfg, client),
		Usagesvc:    usagesvc,
		Completion:  fake,
	})

	return &testServer{srv: srv, db: db, redis: mr, completion: fake}
}

func enabledConfig() config.Config {
	return config.Config{RateLimit: config.RateLimitConfig{Enabled: true}}
}

func (ts *testServer) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-User-Id", user)
	}
	w := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, enabledConfig())
	w := ts.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUploadCheckRateLimited(t *testing.T) {
	ts := newTestServer(t, enabledConfig())

	for i := 0; i < 5; i++ {
		w := ts.do(t, http.MethodPost, "/api/uploads/check", "u1", "")
		require.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "5", w.Header().Get(HeaderRateLimitLimit))
		assert.Equal(t, strconv.Itoa(4-i), w.Header().Get(HeaderRateLimitRemaining))
	}

	w := ts.do(t, http.MethodPost, "/api/uploads/check", "u1", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get(HeaderRateLimitRemaining))

	day := int64(24 * time.Hour / time.Millisecond)
	reset := (testNow.UnixMilli()/day + 1) * day
	assert.Equal(t, strconv.FormatInt(reset, 10), w.Header().Get(HeaderRateLimitReset))
	assert.Equal(t, strconv.FormatInt((reset-testNow.UnixMilli())/1000, 10), w.Header().Get(HeaderRetryAfter))
	assert.Equal(t, "rate_limit_exceeded", decodeError(t, w).Type)

	other := ts.do(t, http.MethodPost, "/api/uploads/check", "u2", "")
	assert.Equal(t, http.StatusNoContent, other.Code)
}

func TestUploadCheckAllowsWhenRedisDown(t *testing.T) {
	ts := newTestServer(t, enabledConfig())
	ts.redis.Close()

	w := ts.do(t, http.MethodPost, "/api/uploads/check", "u1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "4", w.Header().Get(HeaderRateLimitRemaining))
}

func TestUsageRequiresUser(t *testing.T) {
	ts := newTestServer(t, enabledConfig())

	for _, user := range []string{"", "anonymous"} {
		w := ts.do(t, http.MethodGet, "/api/usage", user, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, "user %q", user)
		assert.Equal(t, "unauthorized", decodeError(t, w).Type)
	}
}

func TestGetUsage(t *testing.T) {
	ts := newTestServer(t, enabledConfig())
	require.NoError(t, ts.db.Create(&usagedomain.UsageRecord{
		ID: 1, UserID: "u-max", Service: "fake", InputTokens: 1000, OutputTokens: 1000,
		TokensUsed: 2000, CostUSD: 3, MonthYear: "2025-05", CreatedAt: testNow,
	}).Error)

	w := ts.do(t, http.MethodGet, "/api/usage", "u-max", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data usagedomain.MonthlyUsage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3.0, body.Data.TotalCost)
	assert.Equal(t, 12.0, body.Data.Limit)
	assert.Equal(t, 9.0, body.Data.Remaining)
	assert.Equal(t, 25.0, body.Data.PercentageUsed)
}

func TestUseFeatureDailyLimit(t *testing.T) {
	ts := newTestServer(t, enabledConfig())

	w := ts.do(t, http.MethodPost, "/api/usage/features/video_solution", "u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data usagedomain.FeatureDecision `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Data.Allowed)
	assert.Equal(t, int64(0), body.Data.Remaining)

	w = ts.do(t, http.MethodPost, "/api/usage/features/video_solution", "u1", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "feature_limit_reached", decodeError(t, w).Type)

	var count int64
	require.NoError(t, ts.db.Model(&usagedomain.FeatureUsageRecord{}).Where("user_id = ?", "u1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUseFeatureUnlimited(t *testing.T) {
	ts := newTestServer(t, enabledConfig())

	for i := 0; i < 3; i++ {
		w := ts.do(t, http.MethodPost, "/api/usage/features/submit_answer", "u-max", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"remaining":-1`)
	}
}

func TestUseFeatureUnknown(t *testing.T) {
	ts := newTestServer(t, enabledConfig())
	w := ts.do(t, http.MethodGet, "/api/usage/features/teleport", "u1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUseFeatureBusyWhileLocked(t *testing.T) {
	cfg := enabledConfig()
	cfg.RateLimit.FeatureLockEnabled = true
	ts := newTestServer(t, cfg)

	release, ok, err := ts.srv.featureLock.Acquire(context.Background(), "u1", "submit_answer")
	require.NoError(t, err)
	require.True(t, ok)

	w := ts.do(t, http.MethodPost, "/api/usage/features/submit_answer", "u1", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "feature_busy", decodeError(t, w).Type)

	require.NoError(t, release(context.Background()))
	w = ts.do(t, http.MethodPost, "/api/usage/features/submit_answer", "u1", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChatRecordsActualUsage(t *testing.T) {
	ts := newTestServer(t, enabledConfig())

	w := ts.do(t, http.MethodPost, "/api/chat", "u1", `{"message":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "10", w.Header().Get(HeaderRateLimitLimit))
	assert.Equal(t, "9", w.Header().Get(HeaderRateLimitRemaining))

	var body struct {
		Data chatResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "echo: hello", body.Data.Reply)
	assert.Equal(t, int64(200), body.Data.OutputTokens)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.srv.WaitBackground(ctx))

	var records []usagedomain.UsageRecord
	require.NoError(t, ts.db.Where("user_id = ?", "u1").Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, "fake", records[0].Service)
	assert.Equal(t, int64(300), records[0].TokensUsed)
	assert.InDelta(t, 0.0033, records[0].CostUSD, 1e-9)
	assert.Equal(t, "2025-05", records[0].MonthYear)
}

func TestChatOverBudget(t *testing.T) {
	ts := newTestServer(t, enabledConfig())
	require.NoError(t, ts.db.Create(&usagedomain.UsageRecord{
		ID: 1, UserID: "u1", Service: "fake", InputTokens: 1, OutputTokens: 1,
		TokensUsed: 2, CostUSD: 2, MonthYear: "2025-05", CreatedAt: testNow,
	}).Error)

	w := ts.do(t, http.MethodPost, "/api/chat", "u1", `{"message":"hello"}`)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	payload := decodeError(t, w)
	assert.Equal(t, "usage_limit_exceeded", payload.Type)
	assert.Contains(t, payload.Message, "$2.00")
	assert.Zero(t, ts.completion.calls)
}

func TestChatValidation(t *testing.T) {
	ts := newTestServer(t, enabledConfig())

	w := ts.do(t, http.MethodPost, "/api/chat", "u1", `{"message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/chat", "u1", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/chat", "", `{"message":"hi"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChatCompletionUnavailable(t *testing.T) {
	ts := newTestServer(t, enabledConfig())
	ts.completion.err = completion.ErrUnavailable

	w := ts.do(t, http.MethodPost, "/api/chat", "u1", `{"message":"hello"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	require.NoError(t, ts.srv.WaitBackground(context.Background()))
	var count int64
	require.NoError(t, ts.db.Model(&usagedomain.UsageRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRateLimitDisabledStillSetsHeaders(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	for i := 0; i < 7; i++ {
		w := ts.do(t, http.MethodPost, "/api/uploads/check", "u1", "")
		require.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "5", w.Header().Get(HeaderRateLimitRemaining))
	}
}
