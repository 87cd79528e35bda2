// Package directory はActive Directory（LDAP）からグループメンバーを取得する。
package directory

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/hitoshi/adsync/internal/model"
	"github.com/hitoshi/adsync/internal/reconcile"
)

// userAttributes はメンバー検索で取得する属性。
var userAttributes = []string{"sAMAccountName", "displayName", "mail", "distinguishedName", "memberOf"}

// コンパイル時にインターフェースの実装を検証する。
var _ reconcile.DirectoryProvider = (*Client)(nil)

// Config はLDAP接続設定。
type Config struct {
	URL                string // 例: ldap://dc01.example.com:389
	BindDN             string
	BindPassword       string
	BaseDN             string // ユーザー検索の起点
	GroupBaseDN        string // グループ検索の起点。空の場合はBaseDN
	PageSize           uint32
	Timeout            time.Duration
	StartTLS           bool
	InsecureSkipVerify bool
	ExcludeDisabled    bool // 無効化されたアカウントを除外する
}

// conn は使用するLDAP操作のサブセット。テスト時に差し替える。
type conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	SearchWithPaging(req *ldap.SearchRequest, pagingSize uint32) (*ldap.SearchResult, error)
}

// dialFunc はLDAPサーバーに接続し、接続とその解放関数を返す。
type dialFunc func(ctx context.Context) (conn, func(), error)

// Client はLDAPディレクトリのクライアント。
// GetUsersの呼び出しごとに接続・バインドし、終了時に切断する。
type Client struct {
	config Config
	logger *slog.Logger
	dial   dialFunc // テスト用に差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(config Config, logger *slog.Logger) *Client {
	if config.PageSize == 0 {
		config.PageSize = 500
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.GroupBaseDN == "" {
		config.GroupBaseDN = config.BaseDN
	}
	c := &Client{
		config: config,
		logger: logger,
	}
	c.dial = c.dialLDAP
	return c
}

// dialLDAP はLDAPサーバーに接続し、必要に応じてStartTLSを行う。
func (c *Client) dialLDAP(ctx context.Context) (conn, func(), error) {
	dialer := &net.Dialer{Timeout: c.config.Timeout}
	l, err := ldap.DialURL(c.config.URL,
		ldap.DialWithDialer(dialer),
		ldap.DialWithTLSConfig(&tls.Config{InsecureSkipVerify: c.config.InsecureSkipVerify}), //nolint:gosec // 自己署名証明書のDC向けに設定で許可する
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to LDAP server: %w", err)
	}
	l.SetTimeout(c.config.Timeout)

	if c.config.StartTLS {
		if err := l.StartTLS(&tls.Config{InsecureSkipVerify: c.config.InsecureSkipVerify}); err != nil { //nolint:gosec
			l.Close()
			return nil, nil, fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	return l, func() { l.Close() }, nil
}

// Ping はLDAPサーバーへの接続とバインドを確認する。
func (c *Client) Ping(ctx context.Context) error {
	_, closeConn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	closeConn()
	return nil
}

// connect は接続してサービスアカウントでバインドする。
func (c *Client) connect(ctx context.Context) (conn, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	l, closeConn, err := c.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	if c.config.BindDN != "" {
		if err := l.Bind(c.config.BindDN, c.config.BindPassword); err != nil {
			closeConn()
			return nil, nil, fmt.Errorf("failed to bind to LDAP server as %q: %w", c.config.BindDN, err)
		}
	}
	return l, closeConn, nil
}

// GetUsers は指定グループに直接所属するユーザーを返す。
// グループが存在しない場合は空スライスを返す。
func (c *Client) GetUsers(ctx context.Context, groupName string) ([]*model.DirectoryUser, error) {
	l, closeConn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer closeConn()

	groupDN, err := c.findGroupDN(l, groupName)
	if err != nil {
		return nil, err
	}
	if groupDN == "" {
		c.logger.Warn("ディレクトリグループが見つかりません",
			slog.String("group", groupName),
			slog.String("base_dn", c.config.GroupBaseDN),
		)
		return []*model.DirectoryUser{}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filter := c.memberFilter(groupDN)
	req := ldap.NewSearchRequest(
		c.config.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		filter.String(),
		userAttributes,
		nil,
	)

	result, err := l.SearchWithPaging(req, c.config.PageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to search members of group %q: %w", groupName, err)
	}

	users := make([]*model.DirectoryUser, 0, len(result.Entries))
	for _, entry := range result.Entries {
		u := entryToUser(entry)
		if u.Username == "" {
			continue
		}
		users = append(users, u)
	}

	c.logger.Debug("ディレクトリグループのメンバーを取得しました",
		slog.String("group", groupName),
		slog.String("group_dn", groupDN),
		slog.Int("member_count", len(users)),
	)

	return users, nil
}

// findGroupDN はグループ名（cnまたはsAMAccountName）からDNを検索する。
// 見つからない場合は空文字を返す。
func (c *Client) findGroupDN(l conn, groupName string) (string, error) {
	req := ldap.NewSearchRequest(
		c.config.GroupBaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		1, 0, false,
		groupFilter(groupName).String(),
		[]string{"distinguishedName"},
		nil,
	)

	result, err := l.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return "", nil
		}
		if ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) && result != nil && len(result.Entries) > 0 {
			return result.Entries[0].DN, nil
		}
		return "", fmt.Errorf("failed to search group %q: %w", groupName, err)
	}
	if len(result.Entries) == 0 {
		return "", nil
	}
	return result.Entries[0].DN, nil
}

func groupFilter(groupName string) Filter {
	return And(
		Eq("objectClass", "group"),
		Or(Eq("cn", groupName), Eq("sAMAccountName", groupName)),
	)
}

func (c *Client) memberFilter(groupDN string) Filter {
	parts := []Filter{
		Eq("objectCategory", "person"),
		Eq("objectClass", "user"),
		Eq("memberOf", groupDN),
	}
	if c.config.ExcludeDisabled {
		parts = append(parts, Not(disabledAccount))
	}
	return And(parts...)
}

// entryToUser はLDAPエントリをDirectoryUserに変換する。
func entryToUser(entry *ldap.Entry) *model.DirectoryUser {
	dn := entry.GetAttributeValue("distinguishedName")
	if dn == "" {
		dn = entry.DN
	}
	memberOf := entry.GetAttributeValues("memberOf")
	groups := make([]string, 0, len(memberOf))
	for _, groupDN := range memberOf {
		if name := commonName(groupDN); name != "" {
			groups = append(groups, name)
		}
	}
	return &model.DirectoryUser{
		Username:          entry.GetAttributeValue("sAMAccountName"),
		DisplayName:       entry.GetAttributeValue("displayName"),
		Email:             entry.GetAttributeValue("mail"),
		DistinguishedName: dn,
		GroupNames:        groups,
	}
}

// commonName はDNの先頭RDNのCN値を返す。
func commonName(dn string) string {
	parsed, err := ldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) == 0 {
		return ""
	}
	for _, attr := range parsed.RDNs[0].Attributes {
		if strings.EqualFold(attr.Type, "cn") {
			return attr.Value
		}
	}
	return ""
}
