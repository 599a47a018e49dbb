package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wfunc/target-gallery/internal/config"
	"github.com/wfunc/target-gallery/internal/errors"
	"github.com/wfunc/target-gallery/internal/game"
	"github.com/wfunc/target-gallery/internal/models"
	"github.com/wfunc/target-gallery/internal/repository"
	ws "github.com/wfunc/target-gallery/internal/websocket"
)

type fakeState struct {
	snapshot game.Snapshot
	err      error
}

func (f *fakeState) Snapshot(ctx context.Context) (game.Snapshot, error) {
	return f.snapshot, f.err
}

type fakeMatches struct {
	limits []int
	err    error
}

func (f *fakeMatches) FindRecent(ctx context.Context, limit int) ([]*models.Match, error) {
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	return []*models.Match{{MatchID: "m1", Rounds: 3}}, nil
}

func (f *fakeMatches) Leaderboard(ctx context.Context, limit int) ([]*repository.LeaderboardEntry, error) {
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	return []*repository.LeaderboardEntry{{Username: "Alice", TotalScore: 40, BestScore: 25, Matches: 2}}, nil
}

func newTestRouter(t *testing.T, state StateSource, matches MatchStore, staticDir string) *Router {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	hub := ws.NewHub(logger)
	return NewRouter(Options{
		Server:    config.ServerConfig{StaticDir: staticDir},
		Hub:       hub,
		GameRoute: ws.NewGameRouter(nil, logger),
		Session:   state,
		Matches:   matches,
		Logger:    logger,
	})
}

func get(r *Router, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.GetEngine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthCheck(t *testing.T) {
	r := newTestRouter(t, &fakeState{}, nil, "")

	w := get(r, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 0, body["online"])
}

func TestGetState(t *testing.T) {
	countdown := 3
	state := &fakeState{snapshot: game.Snapshot{
		State:   game.GameStateUpdate{GameState: game.StateCountdown, CountdownValue: &countdown, TotalRounds: 3},
		Targets: game.TargetUpdate{Targets: []game.TargetView{{ID: "t1", X: 1, Y: 5, Z: -10}}},
	}}
	r := newTestRouter(t, state, nil, "")

	w := get(r, "/api/v1/state")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			State   game.GameStateUpdate `json:"gameStateUpdate"`
			Targets game.TargetUpdate    `json:"targetUpdate"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, game.StateCountdown, resp.Data.State.GameState)
	require.NotNil(t, resp.Data.State.CountdownValue)
	assert.Equal(t, 3, *resp.Data.State.CountdownValue)
	assert.Equal(t, state.snapshot.Targets, resp.Data.Targets)
}

func TestGetStateSessionStopped(t *testing.T) {
	r := newTestRouter(t, &fakeState{err: errors.New(errors.ErrTimeout)}, nil, "")

	w := get(r, "/api/v1/state")
	assert.Equal(t, http.StatusRequestTimeout, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.NotContains(t, w.Body.String(), `"stack"`)
}

func TestMatchesAndLeaderboard(t *testing.T) {
	matches := &fakeMatches{}
	r := newTestRouter(t, &fakeState{}, matches, "")

	w := get(r, "/api/v1/matches")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"match_id":"m1"`)

	w = get(r, "/api/v1/leaderboard?limit=500")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_score":40`)

	assert.Equal(t, []int{10, 100}, matches.limits)

	for _, bad := range []string{"abc", "0", "-3"} {
		w = get(r, "/api/v1/matches?limit="+bad)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}

	matches.err = errors.New(errors.ErrDatabaseQuery)
	w = get(r, "/api/v1/leaderboard")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMatchesWithoutDatabase(t *testing.T) {
	r := newTestRouter(t, &fakeState{}, nil, "")

	for _, path := range []string{"/api/v1/matches", "/api/v1/leaderboard"} {
		w := get(r, path)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, []interface{}{}, body["data"], path)
	}
}

func TestStaticFilesAndNotFound(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>gallery</html>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0644))
	r := newTestRouter(t, &fakeState{}, nil, dir)

	w := get(r, "/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gallery")

	w = get(r, "/app.js")
	assert.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "docs"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docs", "index.html"), []byte("<html>rules</html>"), 0644))
	w = get(r, "/docs/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rules")

	w = get(r, "/missing.css")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])

	w = get(r, "/../../etc/passwd")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = get(r, "/api/v1/nothing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// 完整链路：HTTP升级、Hub广播、会话处理
func TestWebSocketEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	hub := ws.NewHub(logger)
	session := game.NewSession(config.DefaultGameConfig(), hub, nil, nil, logger)
	gameRoute := ws.NewGameRouter(session, logger)
	gameRoute.Bind(hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	go session.Run(ctx)

	r := NewRouter(Options{
		Hub:       hub,
		GameRoute: gameRoute,
		Session:   session,
		Logger:    logger,
	})
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ws.Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, ws.MessageTypeConnected, msg.Type)
	var connected ws.ConnectedPayload
	require.NoError(t, json.Unmarshal(msg.Data, &connected))

	data, _ := json.Marshal(ws.JoinRequest{Username: "Alice"})
	require.NoError(t, conn.WriteJSON(ws.Message{Type: ws.MessageTypeJoinGame, Data: data}))

	assert.Eventually(t, func() bool {
		w := get(r, "/api/v1/state")
		return strings.Contains(w.Body.String(), `"username":"Alice"`)
	}, 2*time.Second, 20*time.Millisecond)

	w := get(r, "/health")
	assert.EqualValues(t, 1, decode(t, w)["online"])
}
