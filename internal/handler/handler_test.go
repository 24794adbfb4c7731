package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"sevenscore/internal/auth"
	"sevenscore/internal/config"
	"sevenscore/internal/database"
	"sevenscore/internal/game"
	"sevenscore/internal/hub"
	"sevenscore/pkg/realtime"
	"sevenscore/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	config.AppConfig = &config.Config{JWTSecret: "test-secret"}

	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	Init(game.NewService(db, nil))

	router := gin.New()
	apiV1 := router.Group("/api/v1")
	apiV1.POST("/auth/anonymous", AnonymousSession)

	gameRoutes := apiV1.Group("/games")
	gameRoutes.Use(auth.AuthMiddleware())
	{
		gameRoutes.POST("", CreateGame)
		gameRoutes.POST("/join", JoinGame)
		gameRoutes.GET("/by-code/:code", GetGameByCode)
		gameRoutes.GET("/:id", GetGame)
		gameRoutes.POST("/:id/start", StartGame)
		gameRoutes.POST("/:id/rematch", CreateRematch)
		gameRoutes.GET("/:id/totals", GetGameTotals)
		gameRoutes.GET("/:id/can-advance", CanAdvanceRound)
		gameRoutes.POST("/:id/rounds", CreateRound)
		gameRoutes.GET("/:id/rounds/current", GetCurrentRound)
		gameRoutes.GET("/:id/players", ListPlayers)
		gameRoutes.GET("/:id/players/me", GetOwnPlayer)
		gameRoutes.POST("/:id/players/reset", ResetPlayers)
	}
	playerRoutes := apiV1.Group("/players")
	playerRoutes.Use(auth.AuthMiddleware())
	playerRoutes.PATCH("/:id", UpdatePlayer)

	roundRoutes := apiV1.Group("/rounds")
	roundRoutes.Use(auth.AuthMiddleware())
	{
		roundRoutes.POST("/:id/scores", SubmitScore)
		roundRoutes.GET("/:id/scores", ListRoundScores)
	}
	return router
}

func bearerToken(t *testing.T) string {
	t.Helper()
	signed, err := token.Generate(uuid.NewString(), config.AppConfig.JWTSecret)
	require.NoError(t, err)
	return signed
}

func doJSON(t *testing.T, router *gin.Engine, method, path, bearer string, body, result any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if result != nil && w.Code < 300 && w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), result))
	}
	return w
}

func TestAnonymousSessionIssuesToken(t *testing.T) {
	router := setupRouter(t)

	var session SessionResponse
	w := doJSON(t, router, http.MethodPost, "/api/v1/auth/anonymous", "", nil, &session)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, session.UserID)

	userID, err := token.Parse(session.Token, config.AppConfig.JWTSecret)
	require.NoError(t, err)
	assert.Equal(t, session.UserID, userID)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/games", "", CreateGameInput{Name: "Ada"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/games", "garbage-token", CreateGameInput{Name: "Ada"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateJoinAndResolveGame(t *testing.T) {
	router := setupRouter(t)
	host := bearerToken(t)
	guest := bearerToken(t)

	var created game.CreatedGame
	w := doJSON(t, router, http.MethodPost, "/api/v1/games", host, CreateGameInput{Name: "Ada"}, &created)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotEmpty(t, created.Code)

	// Codes resolve case-insensitively.
	var resolved GameResponse
	w = doJSON(t, router, http.MethodGet, "/api/v1/games/by-code/"+created.Code, guest, nil, &resolved)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.GameID, resolved.ID)
	assert.Equal(t, "lobby", resolved.Status)

	w = doJSON(t, router, http.MethodGet, "/api/v1/games/by-code/ZZZZ", guest, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var joined JoinGameResponse
	w = doJSON(t, router, http.MethodPost, "/api/v1/games/join", guest,
		JoinGameInput{Code: created.Code, Name: "Ben"}, &joined)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.GameID, joined.GameID)

	var players []PlayerResponse
	w = doJSON(t, router, http.MethodGet, "/api/v1/games/"+created.GameID+"/players", host, nil, &players)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, players, 2)
	assert.Equal(t, "Ada", players[0].Name)

	var me PlayerResponse
	w = doJSON(t, router, http.MethodGet, "/api/v1/games/"+created.GameID+"/players/me", guest, nil, &me)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, joined.PlayerID, me.ID)
}

func TestStartIsHostOnly(t *testing.T) {
	router := setupRouter(t)
	host := bearerToken(t)
	guest := bearerToken(t)

	var created game.CreatedGame
	w := doJSON(t, router, http.MethodPost, "/api/v1/games", host, CreateGameInput{Name: "Ada"}, &created)
	require.Equal(t, http.StatusCreated, w.Code)
	w = doJSON(t, router, http.MethodPost, "/api/v1/games/join", guest,
		JoinGameInput{Code: created.Code, Name: "Ben"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/games/"+created.GameID+"/start", guest, nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/games/"+created.GameID+"/start", host, nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Joining after the start conflicts for new users.
	w = doJSON(t, router, http.MethodPost, "/api/v1/games/join", bearerToken(t),
		JoinGameInput{Code: created.Code, Name: "Cleo"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRoundAndScoreFlow(t *testing.T) {
	router := setupRouter(t)
	host := bearerToken(t)
	guest := bearerToken(t)

	var created game.CreatedGame
	w := doJSON(t, router, http.MethodPost, "/api/v1/games", host, CreateGameInput{Name: "Ada"}, &created)
	require.Equal(t, http.StatusCreated, w.Code)
	w = doJSON(t, router, http.MethodPost, "/api/v1/games/join", guest,
		JoinGameInput{Code: created.Code, Name: "Ben"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, router, http.MethodPost, "/api/v1/games/"+created.GameID+"/start", host, nil, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/games/"+created.GameID+"/rounds/current", host, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var round game.RoundInfo
	w = doJSON(t, router, http.MethodPost, "/api/v1/games/"+created.GameID+"/rounds", host, nil, &round)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, round.RoundIndex)

	w = doJSON(t, router, http.MethodPost, "/api/v1/rounds/"+round.RoundID+"/scores", host,
		SubmitScoreInput{Score: 21, Flip7Bonus: true}, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	var advance CanAdvanceResponse
	w = doJSON(t, router, http.MethodGet, "/api/v1/games/"+created.GameID+"/can-advance", host, nil, &advance)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, advance.CanAdvance)
	assert.Equal(t, 1, advance.Missing)

	w = doJSON(t, router, http.MethodPost, "/api/v1/rounds/"+round.RoundID+"/scores", guest,
		SubmitScoreInput{Score: 12}, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/games/"+created.GameID+"/can-advance", host, nil, &advance)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, advance.CanAdvance)

	var totals []struct {
		Name       string `json:"name"`
		TotalScore int    `json:"total_score"`
	}
	w = doJSON(t, router, http.MethodGet, "/api/v1/games/"+created.GameID+"/totals", host, nil, &totals)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, totals, 2)
	assert.Equal(t, "Ada", totals[0].Name)
	assert.Equal(t, 21, totals[0].TotalScore)
}

func TestBroadcastFallbackReachesHubPeers(t *testing.T) {
	router := setupRouter(t)
	router.POST("/api/v1/realtime/broadcast", BroadcastFallback)

	peer := hub.GlobalHub.Subscribe("game:fallback-test", hub.Subscription{Events: []string{"round_refresh"}})
	defer hub.GlobalHub.Unsubscribe(peer)

	w := doJSON(t, router, http.MethodPost, "/api/v1/realtime/broadcast", "",
		BroadcastInput{Room: "game:fallback-test", Event: "round_refresh", Payload: map[string]any{"roundId": "r1"}}, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case raw := <-peer.Out():
		var frame realtime.Frame
		require.NoError(t, json.Unmarshal(raw, &frame))
		assert.Equal(t, "round_refresh", frame.Event)
		assert.Equal(t, "r1", frame.Payload["roundId"])
	default:
		t.Fatal("fallback broadcast never reached the hub")
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/realtime/broadcast", "",
		BroadcastInput{Event: "round_refresh"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdatePlayerPatchesStatus(t *testing.T) {
	router := setupRouter(t)
	host := bearerToken(t)

	var created game.CreatedGame
	w := doJSON(t, router, http.MethodPost, "/api/v1/games", host, CreateGameInput{Name: "Ada"}, &created)
	require.Equal(t, http.StatusCreated, w.Code)

	busted := "busted"
	var patched PlayerResponse
	w = doJSON(t, router, http.MethodPatch, "/api/v1/players/"+created.PlayerID, host,
		UpdatePlayerInput{Status: &busted}, &patched)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "busted", patched.Status)

	bogus := "levitating"
	w = doJSON(t, router, http.MethodPatch, "/api/v1/players/"+created.PlayerID, host,
		UpdatePlayerInput{Status: &bogus}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPatch, "/api/v1/players/"+created.PlayerID, host,
		UpdatePlayerInput{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdatePlayerPatchesAvatarWithoutName(t *testing.T) {
	router := setupRouter(t)
	host := bearerToken(t)

	var created game.CreatedGame
	w := doJSON(t, router, http.MethodPost, "/api/v1/games", host, CreateGameInput{Name: "Ada"}, &created)
	require.Equal(t, http.StatusCreated, w.Code)

	avatar := "🦊"
	color := "#ff8800"
	var patched PlayerResponse
	w = doJSON(t, router, http.MethodPatch, "/api/v1/players/"+created.PlayerID, host,
		UpdatePlayerInput{Avatar: &avatar, Color: &color}, &patched)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, patched.Avatar)
	assert.Equal(t, avatar, *patched.Avatar)
	require.NotNil(t, patched.Color)
	assert.Equal(t, color, *patched.Color)
	assert.Equal(t, "Ada", patched.Name)
}
