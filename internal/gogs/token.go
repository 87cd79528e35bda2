package gogs

import (
	"context"
	"log/slog"

	"github.com/hitoshi/adsync/internal/model"
)

// DefaultTokenName は自動発行するアクセストークンの名前。
const DefaultTokenName = "Default"

// tokenAPI はトークン発行に使用するAPIのサブセット。
type tokenAPI interface {
	ListAccessTokens(ctx context.Context, username string) ([]*model.AccessToken, error)
	CreateAccessToken(ctx context.Context, username, name string) (*model.AccessToken, error)
}

// TokenGenerator は管理者ユーザーのアクセストークンを取得または発行する。
type TokenGenerator struct {
	api      tokenAPI
	username string
	dryRun   bool
	logger   *slog.Logger
}

// NewTokenGenerator はTokenGeneratorの新しいインスタンスを生成する。
func NewTokenGenerator(api tokenAPI, username string, dryRun bool, logger *slog.Logger) *TokenGenerator {
	return &TokenGenerator{
		api:      api,
		username: username,
		dryRun:   dryRun,
		logger:   logger,
	}
}

// CreateOrGetAccessTokens は既存のトークン一覧を返す。
// 1件もない場合はDefaultTokenNameのトークンを作成して返す（ドライラン時は作成しない）。
func (g *TokenGenerator) CreateOrGetAccessTokens(ctx context.Context) ([]*model.AccessToken, error) {
	tokens, err := g.api.ListAccessTokens(ctx, g.username)
	if err != nil {
		return nil, err
	}
	if len(tokens) > 0 {
		return tokens, nil
	}
	if g.dryRun {
		g.logger.Info("ドライランのためアクセストークンを作成しません",
			slog.String("username", g.username),
		)
		return tokens, nil
	}

	token, err := g.api.CreateAccessToken(ctx, g.username, DefaultTokenName)
	if err != nil {
		return nil, err
	}
	g.logger.Info("アクセストークンを作成しました",
		slog.String("username", g.username),
		slog.String("token_name", token.Name),
	)
	return []*model.AccessToken{token}, nil
}

// Bootstrap はクライアントにアクセストークンが未設定の場合にトークンを取得・発行して設定する。
// 設定した場合は true を返す。
func Bootstrap(ctx context.Context, client *Client, generator *TokenGenerator) (bool, error) {
	if client.HasAccessToken() {
		return false, nil
	}
	tokens, err := generator.CreateOrGetAccessTokens(ctx)
	if err != nil {
		return false, err
	}
	if len(tokens) == 0 {
		return false, nil
	}
	client.SetAccessToken(tokens[0].Sha1)
	return true, nil
}
