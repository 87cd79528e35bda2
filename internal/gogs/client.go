// Package gogs はGogs REST API v1のクライアントを提供する。
// 組織・チーム・ユーザーの取得と作成、チームメンバーの追加、
// アクセストークンの発行を行う。
package gogs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/hitoshi/adsync/internal/model"
	"github.com/hitoshi/adsync/internal/reconcile"
)

const (
	userAgent = "adsync/1.0"
	// maxErrorBodySize はエラーメッセージとして読み取るレスポンスボディの上限。
	maxErrorBodySize = 4096
)

// APIError はGogs APIが2xx以外のステータスを返したことを表す。
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gogs API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("gogs API returned status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound はエラーが404応答かどうかを返す。
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// コンパイル時にインターフェースの実装を検証する。
var _ reconcile.RemoteProvider = (*Client)(nil)

// Config はGogsクライアントの設定。
type Config struct {
	BaseURL           string // 例: http://gogs.example.com/api/v1
	AccessToken       string
	AdminUsername     string
	AdminPassword     string
	RequestsPerSecond float64 // 0以下の場合は制限なし
	MaxRetries        uint    // GETリクエストの最大試行回数
	Metrics           StatusRecorder
}

// StatusRecorder はレスポンスのHTTPステータスを記録する。
type StatusRecorder interface {
	RecordHTTPStatus(statusCode int)
}

// Client はGogs APIのクライアント。
// アクセストークンがあればトークン認証、なければ管理者のBasic認証、
// どちらもなければ匿名でリクエストする。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	username   string
	password   string
	limiter    *rate.Limiter
	maxRetries uint
	metrics    StatusRecorder
	newBackOff func() backoff.BackOff // テスト用に差し替え可能

	mu    sync.RWMutex
	token string
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, config Config, logger *slog.Logger) *Client {
	limit := rate.Inf
	burst := 1
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
		burst = max(1, int(config.RequestsPerSecond))
	}
	maxRetries := config.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		username:   config.AdminUsername,
		password:   config.AdminPassword,
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: maxRetries,
		metrics:    config.Metrics,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
		token: config.AccessToken,
	}
}

// SetAccessToken は以降のリクエストで使用するアクセストークンを設定する。
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// HasAccessToken はアクセストークンが設定されているかを返す。
func (c *Client) HasAccessToken() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != ""
}

// GetOrg は組織を取得する。存在しない場合は nil, nil を返す。
func (c *Client) GetOrg(ctx context.Context, name string) (*model.Org, error) {
	var org model.Org
	found, err := c.get(ctx, "/orgs/"+url.PathEscape(name), &org)
	if err != nil || !found {
		return nil, err
	}
	return &org, nil
}

// CreateOrg は管理者APIで指定ユーザーを所有者とする組織を作成する。
func (c *Client) CreateOrg(ctx context.Context, ownerUsername string, opt model.CreateOrgOption) (*model.Org, error) {
	var org model.Org
	if err := c.send(ctx, http.MethodPost, "/admin/users/"+url.PathEscape(ownerUsername)+"/orgs", opt, &org); err != nil {
		return nil, fmt.Errorf("failed to create org %q: %w", opt.Username, err)
	}
	return &org, nil
}

// GetTeams は組織のチーム一覧を返す。組織が存在しない場合は空スライスを返す。
func (c *Client) GetTeams(ctx context.Context, orgName string) ([]*model.Team, error) {
	var teams []*model.Team
	found, err := c.get(ctx, "/orgs/"+url.PathEscape(orgName)+"/teams", &teams)
	if err != nil {
		return nil, err
	}
	if !found || teams == nil {
		return []*model.Team{}, nil
	}
	return teams, nil
}

// CreateTeam は管理者APIで組織にチームを作成する。
// 同名のチームが既に存在する場合は model.ErrAlreadyExists を返す。
func (c *Client) CreateTeam(ctx context.Context, orgName string, opt model.CreateTeamOption) (*model.Team, error) {
	var team model.Team
	err := c.send(ctx, http.MethodPost, "/admin/orgs/"+url.PathEscape(orgName)+"/teams", opt, &team)
	if err != nil {
		if isAlreadyExists(err) {
			return nil, fmt.Errorf("team %q in org %q: %w", opt.Name, orgName, model.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create team %q in org %q: %w", opt.Name, orgName, err)
	}
	return &team, nil
}

// GetUser はユーザーを取得する。存在しない場合は nil, nil を返す。
func (c *Client) GetUser(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	found, err := c.get(ctx, "/users/"+url.PathEscape(username), &user)
	if err != nil || !found {
		return nil, err
	}
	return &user, nil
}

// CreateUser は管理者APIでユーザーを作成する。
func (c *Client) CreateUser(ctx context.Context, opt model.CreateUserOption) (*model.User, error) {
	var user model.User
	if err := c.send(ctx, http.MethodPost, "/admin/users", opt, &user); err != nil {
		return nil, fmt.Errorf("failed to create user %q: %w", opt.Username, err)
	}
	return &user, nil
}

// AddTeamMember はチームにユーザーを追加する。既にメンバーの場合も成功する。
func (c *Client) AddTeamMember(ctx context.Context, teamID int64, username string) error {
	path := "/admin/teams/" + strconv.FormatInt(teamID, 10) + "/members/" + url.PathEscape(username)
	if err := c.send(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("failed to add user %q to team %d: %w", username, teamID, err)
	}
	return nil
}

// ListAccessTokens はユーザーのアクセストークン一覧を返す。
// トークンAPIはBasic認証が必須のため、管理者の資格情報で呼び出す。
func (c *Client) ListAccessTokens(ctx context.Context, username string) ([]*model.AccessToken, error) {
	var tokens []*model.AccessToken
	found, err := c.get(ctx, "/users/"+url.PathEscape(username)+"/tokens", &tokens, withBasicAuth())
	if err != nil {
		return nil, fmt.Errorf("failed to list access tokens of %q: %w", username, err)
	}
	if !found || tokens == nil {
		return []*model.AccessToken{}, nil
	}
	return tokens, nil
}

// CreateAccessToken はユーザーのアクセストークンを作成する。
func (c *Client) CreateAccessToken(ctx context.Context, username, name string) (*model.AccessToken, error) {
	var token model.AccessToken
	body := map[string]string{"name": name}
	if err := c.send(ctx, http.MethodPost, "/users/"+url.PathEscape(username)+"/tokens", body, &token, withBasicAuth()); err != nil {
		return nil, fmt.Errorf("failed to create access token %q for %q: %w", name, username, err)
	}
	return &token, nil
}

type requestOptions struct {
	basicAuthOnly bool
}

type requestOption func(*requestOptions)

func withBasicAuth() requestOption {
	return func(o *requestOptions) { o.basicAuthOnly = true }
}

// get はGETリクエストを送信し、レスポンスをoutにデコードする。
// 404の場合は found=false を返す。通信エラーと5xxはバックオフ付きで再試行する。
func (c *Client) get(ctx context.Context, path string, out any, opts ...requestOption) (bool, error) {
	operation := func() (bool, error) {
		err := c.do(ctx, http.MethodGet, path, nil, out, opts...)
		if err == nil {
			return true, nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode == http.StatusNotFound {
				return false, nil
			}
			if apiErr.StatusCode < 500 {
				return false, backoff.Permanent(err)
			}
		}
		if ctx.Err() != nil {
			return false, backoff.Permanent(err)
		}
		return false, err
	}

	notify := func(err error, next time.Duration) {
		c.logger.Warn("Gogs APIの呼び出しを再試行します",
			slog.String("path", path),
			slog.String("error", err.Error()),
			slog.Duration("retry_after", next),
		)
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxRetries),
		backoff.WithNotify(notify),
	)
}

// send は変更系のリクエストを送信する。再試行はしない。
func (c *Client) send(ctx context.Context, method, path string, body, out any, opts ...requestOption) error {
	return c.do(ctx, method, path, body, out, opts...)
}

// do はリクエストを1回送信する。2xx以外は *APIError を返す。
func (c *Client) do(ctx context.Context, method, path string, body, out any, opts ...requestOption) error {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req, o.basicAuthOnly)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("Gogs APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return err
	}
	defer resp.Body.Close()

	if c.metrics != nil {
		c.metrics.RecordHTTPStatus(resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(msg)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode response of %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request, basicAuthOnly bool) {
	if !basicAuthOnly {
		c.mu.RLock()
		token := c.token
		c.mu.RUnlock()
		if token != "" {
			req.Header.Set("Authorization", "token "+token)
			return
		}
	}
	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
}

// errorMessage はエラーレスポンスからメッセージを取り出す。
// Gogsは {"message": "..."} を返すが、それ以外はボディをそのまま使う。
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(body))
}

func isAlreadyExists(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusConflict:
		return true
	case http.StatusUnprocessableEntity:
		return strings.Contains(strings.ToLower(apiErr.Message), "already exist")
	}
	return false
}
