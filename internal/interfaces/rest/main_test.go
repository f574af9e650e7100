package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/pot-code/lecture-gate/internal/access"
	infra "github.com/pot-code/lecture-gate/internal/infrastructure"
	"github.com/pot-code/lecture-gate/internal/infrastructure/driver"
	"github.com/pot-code/lecture-gate/internal/infrastructure/uuid"
	"github.com/pot-code/lecture-gate/internal/interfaces/rest/handler"
	"github.com/pot-code/lecture-gate/internal/lecture"
	"github.com/pot-code/lecture-gate/internal/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testWallet = "0x52908400098527886e0f7030069857d2e4169ee7"

type memoryCatalog map[string]*lecture.LectureModel

func (m memoryCatalog) Search(ctx context.Context, query string, topK int) ([]*lecture.LectureModel, error) {
	var hits []*lecture.LectureModel
	for _, id := range []string{"lec-1", "lec-2", "lec-3"} {
		if item, ok := m[id]; ok && strings.Contains(strings.ToLower(item.LectureTitle), strings.ToLower(query)) {
			copied := *item
			hits = append(hits, &copied)
		}
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m memoryCatalog) Get(ctx context.Context, id string) (*lecture.LectureModel, error) {
	item, ok := m[id]
	if !ok {
		return nil, lecture.ErrLectureNotFound
	}
	copied := *item
	return &copied, nil
}

type fixture struct {
	app      *echo.Echo
	clock    *access.FakeClock
	registry *access.Registry
	gateway  *payment.Mock
	ledger   *payment.Ledger
	mr       *miniredis.Miniredis
}

func testConfig() *infra.AppConfig {
	option := new(infra.AppConfig)
	option.AppID = "lecture-gate-test"
	option.Env = infra.EnvProduction
	option.RequestTimeout = 5 * time.Second
	option.SessionTimeout = time.Hour
	option.Security.JWTMethod = "HS256"
	option.Security.JWTSecret = "test-secret"
	option.Security.TokenName = "lgate_token"
	option.Security.AllowOrigins = []string{"http://127.0.0.1:8080"}
	option.Payment.Timeout = 5 * time.Second
	option.Payment.Rate = 100
	option.Payment.Burst = 100
	option.Session.IdleTimeout = time.Minute
	option.Session.SweepInterval = time.Second
	option.Session.CloseOnDisconnect = true
	return option
}

func newFixture(t *testing.T, tweak ...func(*infra.AppConfig)) *fixture {
	t.Helper()
	option := testConfig()
	for _, fn := range tweak {
		fn(option)
	}

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	kv := driver.NewRedisClient(mr.Host(), port, "")
	t.Cleanup(func() { kv.Close() })

	catalog := memoryCatalog{
		"lec-1": {ID: "lec-1", Score: 0.9, CourseTitle: "Solidity", LectureTitle: "Storage layout", MediaURL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		"lec-2": {ID: "lec-2", Score: 0.8, CourseTitle: "Solidity", LectureTitle: "Storage proofs", MediaURL: "https://youtu.be/aaaaaaaaaaa"},
		"lec-3": {ID: "lec-3", Score: 0.7, CourseTitle: "", LectureTitle: "Broken storage", MediaURL: "not a video"},
	}

	clock := access.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	gateway := payment.NewMock(payment.Price{Amount: "0.001", Currency: "ETH"}, 0)
	ledger := payment.NewLedger(payment.RequireWallet(gateway), kv, time.Hour, nil)
	registry := access.NewRegistry(access.Options{
		PreviewDuration: 40 * time.Second,
		Clock:           clock,
		Embedder:        lecture.EmbedURL,
		Gateway:         ledger,
		PriceLabel:      "0.001 ETH",
	}, uuid.NewNanoIDGenerator(21))
	t.Cleanup(registry.Shutdown)

	app := newApp(nil, kv, option, registry, lecture.NewLectureUseCase(catalog, 20), ledger, zap.NewNop())
	return &fixture{app: app, clock: clock, registry: registry, gateway: gateway, ledger: ledger, mr: mr}
}

type call struct {
	method string
	path   string
	body   string
	token  string
}

func (f *fixture) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
	if c.body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if c.token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+c.token)
	}
	rec := httptest.NewRecorder()
	f.app.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) connect(t *testing.T) string {
	t.Helper()
	rec := f.do(t, call{method: http.MethodPost, path: "/api/v1/auth/connect", body: `{"wallet":"` + testWallet + `","name":"alice"}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res handler.ConnectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, testWallet, res.Wallet)
	return res.Token
}

func (f *fixture) open(t *testing.T, lectureID, token string) access.View {
	t.Helper()
	rec := f.do(t, call{method: http.MethodPost, path: "/api/v1/sessions", body: `{"lecture_id":"` + lectureID + `"}`, token: token})
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, rec.Code, rec.Body.String())
	return decodeView(t, rec)
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) access.View {
	t.Helper()
	var v access.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func decodeUnlock(t *testing.T, rec *httptest.ResponseRecorder) handler.UnlockResponse {
	t.Helper()
	var res handler.UnlockResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	return res
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(t, call{method: http.MethodGet, path: "/healthz"}).Code)

	f.mr.Close()
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, call{method: http.MethodGet, path: "/healthz"}).Code)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	f.open(t, "lec-1", "")

	rec := f.do(t, call{method: http.MethodGet, path: "/metrics"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lgate_open_sessions 1")
}

func TestCORS(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/catalog/search", nil)
	req.Header.Set(echo.HeaderOrigin, "http://127.0.0.1:8080")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodGet)
	rec := httptest.NewRecorder()
	f.app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://127.0.0.1:8080", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, "true", rec.Header().Get(echo.HeaderAccessControlAllowCredentials))
}

func TestNoRouteMatched(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, call{method: http.MethodGet, path: "/nowhere"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestCatalogSearch(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, call{method: http.MethodGet, path: "/api/v1/catalog/search?query=storage&top_k=5"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result lecture.SearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 3, result.LectureCount)
	require.Len(t, result.Courses, 2)
	assert.Equal(t, "Solidity", result.Courses[0].CourseTitle)
	assert.Len(t, result.Courses[0].Lectures, 2)
	assert.Equal(t, lecture.UntitledCourse, result.Courses[1].CourseTitle)
	assert.Equal(t, "dQw4w9WgXcQ", result.Courses[0].Lectures[0].MediaRef)

	cases := map[string]string{
		"missing query": "/api/v1/catalog/search",
		"blank query":   "/api/v1/catalog/search?query=%20%20",
		"top_k too big": "/api/v1/catalog/search?query=storage&top_k=99",
		"top_k not int": "/api/v1/catalog/search?query=storage&top_k=abc",
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, call{method: http.MethodGet, path: path})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body handler.RESTValidationError
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.InvalidParams)
			assert.NotEmpty(t, body.TraceID)
		})
	}
}

func TestSession_PreviewThenUnlock(t *testing.T) {
	f := newFixture(t)
	token := f.connect(t)

	rec := f.do(t, call{method: http.MethodPost, path: "/api/v1/sessions", body: `{"lecture_id":"lec-1"}`, token: token})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	v := decodeView(t, rec)
	assert.Equal(t, access.LockedIdle, v.State)
	assert.Equal(t, 40, v.RemainingSeconds)
	assert.Equal(t, "0.001 ETH", v.Price)
	assert.Equal(t, "Watch 40s free preview", v.Overlay)

	again := f.open(t, "lec-1", token)
	assert.Equal(t, v.SessionID, again.SessionID)

	base := "/api/v1/sessions/" + v.SessionID
	rec = f.do(t, call{method: http.MethodPost, path: base + "/preview"})
	require.Equal(t, http.StatusOK, rec.Code)
	v = decodeView(t, rec)
	assert.Equal(t, access.LockedPlaying, v.State)
	assert.True(t, v.MediaAttached)
	assert.Contains(t, v.Source, "https://www.youtube.com/embed/dQw4w9WgXcQ")

	rec = f.do(t, call{method: http.MethodPost, path: base + "/preview"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.clock.Advance(40 * time.Second)
	v = decodeView(t, f.do(t, call{method: http.MethodGet, path: base}))
	assert.Equal(t, access.LockedEnded, v.State)
	assert.Equal(t, 0, v.RemainingSeconds)
	assert.False(t, v.MediaAttached)
	assert.Equal(t, access.OverlayPreviewEnded, v.Overlay)

	rec = f.do(t, call{method: http.MethodPost, path: base + "/unlock"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, call{method: http.MethodPost, path: base + "/unlock", token: token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeUnlock(t, rec)
	assert.Equal(t, access.UnlockSucceeded, res.Status)
	assert.Equal(t, access.Unlocked, res.View.State)
	assert.True(t, res.View.MediaAttached)
	assert.Empty(t, res.View.Price)
	require.NotNil(t, res.Receipt)
	assert.Equal(t, testWallet, res.Receipt.Payer)
	assert.Equal(t, payment.ShortHash(res.Receipt.TxHash), res.ShortHash)

	rec = f.do(t, call{method: http.MethodGet, path: "/api/v1/receipts/" + res.Receipt.TxHash})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"lecture_id":"lec-1"`)

	rec = f.do(t, call{method: http.MethodPost, path: base + "/unlock", token: token})
	assert.Equal(t, access.UnlockAlready, decodeUnlock(t, rec).Status)

	assert.Equal(t, http.StatusNoContent, f.do(t, call{method: http.MethodDelete, path: base}).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, call{method: http.MethodGet, path: base}).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, call{method: http.MethodDelete, path: base}).Code)
}

func TestSession_GuestsAreKeyedByAddress(t *testing.T) {
	f := newFixture(t)
	guest := f.open(t, "lec-1", "")
	wallet := f.open(t, "lec-1", f.connect(t))
	assert.NotEqual(t, guest.SessionID, wallet.SessionID)
	assert.Equal(t, 2, f.registry.Len())
}

func TestSession_OpenErrors(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, call{method: http.MethodPost, path: "/api/v1/sessions", body: `{"lecture_id":"missing"}`})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, call{method: http.MethodPost, path: "/api/v1/sessions", body: `{}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, call{method: http.MethodPost, path: "/api/v1/sessions", body: `{"lecture_id":`})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSession_UnavailableMedia(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, "lec-3", "")
	assert.False(t, v.MediaAvailable)
	assert.Equal(t, access.OverlayNoPreview, v.Overlay)

	rec := f.do(t, call{method: http.MethodPost, path: "/api/v1/sessions/" + v.SessionID + "/preview"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, call{method: http.MethodPost, path: "/api/v1/sessions/" + v.SessionID + "/unlock", token: f.connect(t)})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, access.UnlockUnavailable, decodeUnlock(t, rec).Status)
}

func TestSession_FailedPaymentIsRetryable(t *testing.T) {
	f := newFixture(t)
	token := f.connect(t)
	v := f.open(t, "lec-2", token)
	path := "/api/v1/sessions/" + v.SessionID + "/unlock"

	f.gateway.FailNext(payment.ErrDeclined)
	rec := f.do(t, call{method: http.MethodPost, path: path, token: token})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	res := decodeUnlock(t, rec)
	assert.Equal(t, access.UnlockFailed, res.Status)
	assert.Equal(t, payment.ErrDeclined.Error(), res.Reason)
	assert.Equal(t, handler.ToastPaymentFailed, res.Message)
	assert.Equal(t, access.LockedIdle, res.View.State)
	assert.False(t, res.View.PaymentPending)

	rec = f.do(t, call{method: http.MethodPost, path: path, token: token})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, access.UnlockSucceeded, decodeUnlock(t, rec).Status)
}

func TestSession_UnlockIsRateLimited(t *testing.T) {
	f := newFixture(t, func(option *infra.AppConfig) {
		option.Payment.Rate = 0.001
		option.Payment.Burst = 1
	})
	token := f.connect(t)
	v := f.open(t, "lec-1", token)
	path := "/api/v1/sessions/" + v.SessionID + "/unlock"

	f.gateway.FailNext(payment.ErrDeclined)
	assert.Equal(t, http.StatusPaymentRequired, f.do(t, call{method: http.MethodPost, path: path, token: token}).Code)

	rec := f.do(t, call{method: http.MethodPost, path: path, token: token})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, access.LockedIdle, f.registryView(t, v.SessionID).State)
}

func (f *fixture) registryView(t *testing.T, id string) access.View {
	t.Helper()
	session, err := f.registry.Get(id)
	require.NoError(t, err)
	return session.View()
}

func TestAuth_DisconnectRevokesToken(t *testing.T) {
	f := newFixture(t)
	token := f.connect(t)
	v := f.open(t, "lec-1", token)

	rec := f.do(t, call{method: http.MethodPut, path: "/api/v1/auth/disconnect", token: token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderSetCookie), "lgate_token=;")

	rec = f.do(t, call{method: http.MethodPost, path: "/api/v1/sessions/" + v.SessionID + "/unlock", token: token})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, call{method: http.MethodPut, path: "/api/v1/auth/disconnect", token: token}).Code)
}

func TestAuth_ConnectValidatesWallet(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, call{method: http.MethodPost, path: "/api/v1/auth/connect", body: `{"wallet":"not-a-wallet"}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body handler.RESTValidationError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.InvalidParams, 1)
	assert.Equal(t, "wallet", body.InvalidParams[0].Domain)
}

func TestReceipts_NotFound(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(t, call{method: http.MethodGet, path: "/api/v1/receipts/0xnope"}).Code)
}
