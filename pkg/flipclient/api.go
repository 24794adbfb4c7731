package flipclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is the HTTP implementation of Backend against the 7 Score server.
type Client struct {
	BaseURL    string
	AuthToken  string
	HTTPClient *http.Client
}

// NewClient creates a Client for the given API base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// SetToken sets the bearer token used on every request.
func (c *Client) SetToken(token string) {
	c.AuthToken = token
}

// apiError is the server's {"error": "..."} envelope.
type apiError struct {
	Error string `json:"error"`
}

func (c *Client) doRequest(method, path string, body, result any) error {
	url := c.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		var apiErr apiError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error != "" {
			// Remote failures are opaque text; surface them verbatim.
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}

	if result != nil && len(respBody) > 0 {
		return json.Unmarshal(respBody, result)
	}
	return nil
}

// AnonymousSession mints a new anonymous session token.
func (c *Client) AnonymousSession() (token, userID string, err error) {
	var resp struct {
		Token  string `json:"token"`
		UserID string `json:"user_id"`
	}
	if err := c.doRequest(http.MethodPost, "/auth/anonymous", nil, &resp); err != nil {
		return "", "", err
	}
	return resp.Token, resp.UserID, nil
}

// SendBroadcast is the non-realtime delivery path for broadcasts, used while
// the channel is still connecting.
func (c *Client) SendBroadcast(room, event string, payload map[string]any) error {
	body := map[string]any{"room": room, "event": event, "payload": payload}
	return c.doRequest(http.MethodPost, "/realtime/broadcast", body, nil)
}

func (c *Client) GetGameByCode(code string) (*GameMeta, error) {
	var meta GameMeta
	if err := c.doRequest(http.MethodGet, "/games/by-code/"+code, nil, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (c *Client) GetGame(gameID string) (*GameMeta, error) {
	var meta GameMeta
	if err := c.doRequest(http.MethodGet, "/games/"+gameID, nil, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (c *Client) ListPlayers(gameID string) ([]Player, error) {
	var players []Player
	if err := c.doRequest(http.MethodGet, "/games/"+gameID+"/players", nil, &players); err != nil {
		return nil, err
	}
	return players, nil
}

func (c *Client) GetOwnPlayer(gameID string) (*Player, error) {
	var player Player
	if err := c.doRequest(http.MethodGet, "/games/"+gameID+"/players/me", nil, &player); err != nil {
		return nil, err
	}
	return &player, nil
}

func (c *Client) GetCurrentRound(gameID string) (*RoundInfo, error) {
	var round RoundInfo
	if err := c.doRequest(http.MethodGet, "/games/"+gameID+"/rounds/current", nil, &round); err != nil {
		return nil, err
	}
	return &round, nil
}

func (c *Client) ListRoundScores(roundID string) ([]RoundScore, error) {
	var scores []RoundScore
	if err := c.doRequest(http.MethodGet, "/rounds/"+roundID+"/scores", nil, &scores); err != nil {
		return nil, err
	}
	return scores, nil
}

func (c *Client) CanAdvance(gameID string) (bool, error) {
	var resp struct {
		CanAdvance bool `json:"can_advance"`
	}
	if err := c.doRequest(http.MethodGet, "/games/"+gameID+"/can-advance", nil, &resp); err != nil {
		return false, err
	}
	return resp.CanAdvance, nil
}

func (c *Client) GetTotals(gameID string) ([]TotalScore, error) {
	var totals []TotalScore
	if err := c.doRequest(http.MethodGet, "/games/"+gameID+"/totals", nil, &totals); err != nil {
		return nil, err
	}
	return totals, nil
}

func (c *Client) CreateGame(name string, avatar, color *string) (*CreatedGame, error) {
	body := map[string]any{"name": name, "avatar": avatar, "color": color}
	var created CreatedGame
	if err := c.doRequest(http.MethodPost, "/games", body, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) JoinGame(code, name string, avatar, color *string) (string, string, error) {
	body := map[string]any{"code": code, "name": name, "avatar": avatar, "color": color}
	var resp struct {
		GameID   string `json:"game_id"`
		PlayerID string `json:"player_id"`
	}
	if err := c.doRequest(http.MethodPost, "/games/join", body, &resp); err != nil {
		return "", "", err
	}
	return resp.GameID, resp.PlayerID, nil
}

func (c *Client) StartGame(gameID string) error {
	return c.doRequest(http.MethodPost, "/games/"+gameID+"/start", nil, nil)
}

func (c *Client) CreateRound(gameID string) (*RoundInfo, error) {
	var round RoundInfo
	if err := c.doRequest(http.MethodPost, "/games/"+gameID+"/rounds", nil, &round); err != nil {
		return nil, err
	}
	return &round, nil
}

func (c *Client) SubmitScore(roundID string, score int, flip7Bonus bool) error {
	body := map[string]any{"score": score, "flip7_bonus": flip7Bonus}
	return c.doRequest(http.MethodPost, "/rounds/"+roundID+"/scores", body, nil)
}

func (c *Client) CreateRematch(gameID string) (*RematchInfo, error) {
	var rematch RematchInfo
	if err := c.doRequest(http.MethodPost, "/games/"+gameID+"/rematch", nil, &rematch); err != nil {
		return nil, err
	}
	return &rematch, nil
}

func (c *Client) UpdatePlayerStatus(playerID, status string) error {
	body := map[string]any{"status": status}
	return c.doRequest(http.MethodPatch, "/players/"+playerID, body, nil)
}

func (c *Client) UpdatePlayerProfile(playerID, name string, avatar, color *string) error {
	body := map[string]any{"name": name, "avatar": avatar, "color": color}
	return c.doRequest(http.MethodPatch, "/players/"+playerID, body, nil)
}

func (c *Client) ResetPlayers(gameID string) error {
	return c.doRequest(http.MethodPost, "/games/"+gameID+"/players/reset", nil, nil)
}
