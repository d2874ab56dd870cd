package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/auth"
	"github.com/lalith-99/arenachat/internal/middleware"
	"github.com/lalith-99/arenachat/internal/models"
	"github.com/lalith-99/arenachat/internal/realtime"
	"github.com/lalith-99/arenachat/internal/resolver"
	"github.com/lalith-99/arenachat/internal/retry"
	"github.com/lalith-99/arenachat/internal/session"
	"github.com/lalith-99/arenachat/internal/store"
	"github.com/lalith-99/arenachat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "api-test-secret"

type fixture struct {
	world   *testutil.World
	manager *realtime.Manager
	store   *store.Client
	router  *gin.Engine
}

func newFixture(t *testing.T, gw GatewayOptions) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	w := testutil.NewWorld()
	manager := realtime.NewManager(realtime.NewLocalBroker(), realtime.Options{
		Retry: retry.Config{InitialDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, Multiplier: 2},
	}, zap.NewNop(), nil)
	t.Cleanup(manager.Close)

	logger := zap.NewNop()
	res := resolver.New(logger)
	client := store.New(w.Messages, res, manager, 0, logger, nil)
	deps := session.Deps{
		Store:           client,
		Realtime:        manager,
		Users:           w.Dir,
		MetadataTimeout: time.Second,
		Logger:          logger,
	}
	if gw.CheckOrigin == nil {
		gw.CheckOrigin = func(*http.Request) bool { return true }
	}

	r := gin.New()
	Routes{
		Channels:    NewChannelHandler(w.Dir, res, client, logger),
		Messages:    NewMessageHandler(w.Dir, res, client, logger),
		Users:       NewUserHandler(w.Dir, logger),
		Memberships: NewMembershipHandler(w.Dir, res, logger),
		Gateway:     NewGateway(w.Dir, res, deps, gw, logger),
		Auth:        NewAuthHandler(w.Dir, testSecret, logger),
		JWTSecret:   testSecret,
	}.Register(r)

	return &fixture{world: w, manager: manager, store: client, router: r}
}

func (f *fixture) token(t *testing.T, user uuid.UUID) string {
	t.Helper()
	caller := f.world.Caller(user, false)
	token, err := auth.GenerateToken(user, caller.DisplayName, caller.IsGlobalAdmin, testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func (f *fixture) do(t *testing.T, user uuid.UUID, method, target string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+f.token(t, user))
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func channelURL(path string, params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return path + "?" + q.Encode()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	rec := f.do(t, uuid.Nil, http.MethodGet, "/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoutes_RequireToken(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	rec := f.do(t, uuid.Nil, http.MethodGet, "/v1/users/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResolve_UnregisteredCallerIsReadOnly(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	target := channelURL("/v1/channels/resolve", map[string]string{
		"kind":     "event",
		"event_id": f.world.EventID.String(),
	})

	rec := f.do(t, f.world.Outsider, http.MethodGet, target, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[resolveResponse](t, rec)
	assert.True(t, got.Capability.CanRead)
	assert.False(t, got.Capability.CanWrite)
	assert.True(t, got.Capability.Locked)
	assert.Equal(t, models.EventKey{EventID: f.world.EventID}.Filter(), got.Channel)
}

func TestResolve_BadRequests(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	tests := []struct {
		name   string
		params map[string]string
	}{
		{name: "missing kind", params: map[string]string{"event_id": f.world.EventID.String()}},
		{name: "unknown kind", params: map[string]string{"kind": "lobby"}},
		{name: "bad event id", params: map[string]string{"kind": "event", "event_id": "nope"}},
		{name: "match without id", params: map[string]string{"kind": "match", "match_kind": "regular"}},
		{name: "ambiguous match kind", params: map[string]string{"kind": "match", "match_kind": "both", "match_id": uuid.NewString()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, f.world.CaptainX, http.MethodGet, channelURL("/v1/channels/resolve", tt.params), nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHistory_DeniedForNonParticipants(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	w := f.world
	_, err := f.store.Insert(context.Background(), w.Provider(w.CaptainX, false), w.PrivateKey(), "secret plan")
	require.NoError(t, err)

	target := channelURL("/v1/channels/messages", map[string]string{
		"kind":     "private",
		"event_id": w.EventID.String(),
		"peer_id":  w.CaptainY.String(),
	})

	rec := f.do(t, w.Outsider, http.MethodGet, target, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret plan")

	rec = f.do(t, w.CaptainX, http.MethodGet, target, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "secret plan")
}

func TestHistory_ReturnsAscendingWindow(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	w := f.world
	key := models.EventKey{EventID: w.EventID}
	for i := 0; i < 105; i++ {
		_, err := f.store.Insert(context.Background(), w.Provider(w.Registrant, false), key, "m")
		require.NoError(t, err)
	}

	target := channelURL("/v1/channels/messages", map[string]string{"kind": "event", "event_id": w.EventID.String()})
	rec := f.do(t, w.Outsider, http.MethodGet, target, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[struct {
		Messages []models.Message `json:"messages"`
	}](t, rec)
	require.Len(t, got.Messages, models.HistoryLimit)
	for i := 1; i < len(got.Messages); i++ {
		assert.True(t, got.Messages[i-1].Before(got.Messages[i]))
	}
}

func TestCreateMessage_BodyRules(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	w := f.world

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "empty", body: "", wantStatus: http.StatusBadRequest},
		{name: "whitespace", body: " \n\t ", wantStatus: http.StatusBadRequest},
		{name: "501 runes", body: strings.Repeat("é", 501), wantStatus: http.StatusBadRequest},
		{name: "500 runes", body: strings.Repeat("é", 500), wantStatus: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, w.Registrant, http.MethodPost, "/v1/messages", map[string]string{
				"kind":     "event",
				"event_id": w.EventID.String(),
				"body":     tt.body,
			})
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestCreateMessage_ReverifiesWriteAccess(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	w := f.world
	match := map[string]string{
		"kind":       "match",
		"match_kind": string(w.Match.Kind),
		"match_id":   w.Match.ID.String(),
		"body":       "glhf",
	}

	rec := f.do(t, w.Registrant, http.MethodPost, "/v1/messages", match)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, w.MemberX, http.MethodPost, "/v1/messages", match)
	require.Equal(t, http.StatusCreated, rec.Code)
	msg := decode[models.Message](t, rec)
	assert.Equal(t, "Max", msg.SenderDisplayName)
	assert.Equal(t, models.MatchKey{Match: w.Match}, msg.Key)
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	w := f.world
	msg, err := f.store.Insert(context.Background(), w.Provider(w.Registrant, false), models.EventKey{EventID: w.EventID}, "spam")
	require.NoError(t, err)
	target := "/v1/messages/" + msg.ID.String()

	// Event channels leave deletes to the admin, even for the sender.
	rec := f.do(t, w.Registrant, http.MethodDelete, target, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Admin outside admin mode is a regular participant.
	rec = f.do(t, w.Admin, http.MethodDelete, target, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, w.Admin, http.MethodDelete, target, nil, middleware.AdminModeHeader, "true")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, w.Admin, http.MethodDelete, target, nil, middleware.AdminModeHeader, "true")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, w.Admin, http.MethodDelete, "/v1/messages/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCaptains(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	w := f.world
	target := "/v1/events/" + w.EventID.String() + "/captains"

	rec := f.do(t, w.CaptainX, http.MethodGet, target, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	peers := decode[[]models.Captain](t, rec)
	require.Len(t, peers, 1)
	assert.Equal(t, w.CaptainY, peers[0].UserID)

	rec = f.do(t, w.Registrant, http.MethodGet, target, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUsers(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	w := f.world

	rec := f.do(t, w.CaptainY, http.MethodGet, "/v1/users/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[models.SenderMetadata](t, rec)
	assert.Equal(t, "Yasmin", me.DisplayName)
	assert.Equal(t, "avatars/Yasmin.png", me.AvatarRef)

	rec = f.do(t, w.CaptainY, http.MethodGet, "/v1/users/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDevToken(t *testing.T) {
	f := newFixture(t, GatewayOptions{})
	w := f.world

	rec := f.do(t, uuid.Nil, http.MethodPost, "/v1/auth/dev-token", map[string]string{"user_id": w.GlobalAdmin.String()})
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[authResponse](t, rec)

	claims, err := auth.ParseToken(resp.Token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, w.GlobalAdmin, claims.UserID)
	assert.True(t, claims.IsGlobalAdmin)

	rec = f.do(t, uuid.Nil, http.MethodPost, "/v1/auth/dev-token", map[string]string{"user_id": uuid.NewString()})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, uuid.Nil, http.MethodPost, "/v1/auth/dev-token", map[string]string{"user_id": "bob"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRespondError_HidesInternalErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	respondError(c, zap.NewNop(), "list messages", errors.New("pq: relation does not exist"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "relation")
}
