// Package reconcile はディレクトリグループとGogs組織・チームの突き合わせ処理を提供する。
// ディレクトリを常に正とし、Gogs側に不足している組織・チーム・ユーザー・
// チームメンバーシップを作成する。削除は行わない。
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/adsync/internal/model"
)

// DirectoryProvider はディレクトリからグループメンバーを取得するインターフェース。
type DirectoryProvider interface {
	// GetUsers は指定グループのメンバー一覧を返す。
	// グループが存在しない場合は空スライスを返し、エラーにしない。
	GetUsers(ctx context.Context, groupName string) ([]*model.DirectoryUser, error)
}

// RemoteProvider はGogs APIの操作インターフェース。
// Get系のメソッドは対象が存在しない場合 nil, nil を返す。
type RemoteProvider interface {
	GetOrg(ctx context.Context, name string) (*model.Org, error)
	CreateOrg(ctx context.Context, ownerUsername string, opt model.CreateOrgOption) (*model.Org, error)
	// GetTeams は組織のチーム一覧を返す。組織が存在しない場合は空スライス。
	GetTeams(ctx context.Context, orgName string) ([]*model.Team, error)
	// CreateTeam はチームを作成する。model.ErrAlreadyExistsを返す場合がある。
	CreateTeam(ctx context.Context, orgName string, opt model.CreateTeamOption) (*model.Team, error)
	GetUser(ctx context.Context, username string) (*model.User, error)
	CreateUser(ctx context.Context, opt model.CreateUserOption) (*model.User, error)
	AddTeamMember(ctx context.Context, teamID int64, username string) error
}

// Progress は同期の進捗メッセージの通知先。
type Progress interface {
	Report(message string)
}

// ProgressFunc は関数をProgressとして扱うためのアダプタ。
type ProgressFunc func(message string)

// Report はProgressインターフェースを実装する。
func (f ProgressFunc) Report(message string) {
	f(message)
}

// Options は同期処理の動作設定。
type Options struct {
	Mappings               []model.GroupMapping
	ExcludedUsernames      []string
	RequiredDirectoryGroup string
	AdminUsername          string // 作成した組織の所有者
	LDAPSourceID           int64  // 作成したユーザーの認証ソース
	DryRun                 bool
	EnableOrgCreation      bool
	EnableTeamCreation     bool
	EnableUserCreation     bool
}

// Synchronizer はグループマッピングごとにGogs側のエンティティを解決・作成し、
// ディレクトリのメンバーをチームに追加する。
type Synchronizer struct {
	directory DirectoryProvider
	remote    RemoteProvider
	opts      Options
	excluded  map[string]struct{}
	sanitizer *bluemonday.Policy
	logger    *slog.Logger
}

// NewSynchronizer はSynchronizerの新しいインスタンスを生成する。
func NewSynchronizer(directory DirectoryProvider, remote RemoteProvider, opts Options, logger *slog.Logger) *Synchronizer {
	excluded := make(map[string]struct{}, len(opts.ExcludedUsernames))
	for _, name := range opts.ExcludedUsernames {
		name = strings.TrimSpace(name)
		if name != "" {
			excluded[strings.ToLower(name)] = struct{}{}
		}
	}
	return &Synchronizer{
		directory: directory,
		remote:    remote,
		opts:      opts,
		excluded:  excluded,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
	}
}

// pass は1回の同期パスの状態。ユーザーキャッシュはパスごとに空から作り直す。
type pass struct {
	progress Progress
	users    map[string]*model.User
	summary  model.SyncSummary
}

func (p *pass) report(format string, args ...any) {
	if p.progress != nil {
		p.progress.Report(fmt.Sprintf(format, args...))
	}
}

// Synchronize は全マッピングに対して1回の同期パスを実行する。
// 個々のエンティティの取得・作成・追加の失敗はログに記録して処理を継続する。
// 返すエラーはキャンセル時のコンテキストエラーのみで、その場合も途中までの集計を返す。
func (s *Synchronizer) Synchronize(ctx context.Context, progress Progress) (*model.SyncSummary, error) {
	p := &pass{
		progress: progress,
		users:    make(map[string]*model.User),
	}

	for _, mapping := range s.opts.Mappings {
		if err := ctx.Err(); err != nil {
			return &p.summary, err
		}

		team, err := s.getOrCreateOrgAndTeam(ctx, p, mapping)
		if err != nil {
			return &p.summary, err
		}
		if team == nil {
			p.summary.MappingsSkipped++
			p.report("No Gogs team found for AD group %q", mapping.DirectoryGroup)
			continue
		}

		if err := s.syncMembers(ctx, p, mapping, team); err != nil {
			return &p.summary, err
		}
	}

	return &p.summary, nil
}

// syncMembers はディレクトリグループのメンバーをGogsユーザーに解決し、チームに追加する。
func (s *Synchronizer) syncMembers(ctx context.Context, p *pass, mapping model.GroupMapping, team *model.Team) error {
	dirUsers, err := s.directory.GetUsers(ctx, mapping.DirectoryGroup)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.summary.Failures++
		p.summary.MappingsSkipped++
		s.logger.Error("ディレクトリグループのメンバー取得に失敗しました",
			slog.String("group", mapping.DirectoryGroup),
			slog.String("error", err.Error()),
		)
		p.report("Failed to read members of AD group %q", mapping.DirectoryGroup)
		return nil
	}

	remoteUsers := make([]*model.User, 0, len(dirUsers))
	for _, dirUser := range dirUsers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.isEligible(dirUser) {
			continue
		}

		user, ok := p.users[dirUser.Username]
		if !ok {
			user, err = s.getOrCreateUser(ctx, p, dirUser)
			if err != nil {
				return err
			}
			if user != nil {
				p.users[dirUser.Username] = user
			}
		}

		if user == nil {
			p.report("No Gogs user found for AD username %q", dirUser.Username)
			continue
		}
		remoteUsers = append(remoteUsers, user)
	}

	for _, user := range remoteUsers {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.report("Adding user %q to org %q on team %q", user.Username, mapping.OrgName, team.Name)
		if s.opts.DryRun {
			continue
		}
		if err := s.remote.AddTeamMember(ctx, team.ID, user.Username); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.summary.Failures++
			s.logger.Error("チームへのユーザー追加に失敗しました",
				slog.String("org", mapping.OrgName),
				slog.String("team", team.Name),
				slog.String("username", user.Username),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.summary.MembershipsAdded++
	}

	p.summary.MappingsProcessed++
	return nil
}

// isEligible は除外ユーザーと必須グループの条件を満たすかを判定する。
func (s *Synchronizer) isEligible(u *model.DirectoryUser) bool {
	if _, excluded := s.excluded[strings.ToLower(u.Username)]; excluded {
		return false
	}
	if s.opts.RequiredDirectoryGroup != "" && !u.InGroup(s.opts.RequiredDirectoryGroup) {
		return false
	}
	return true
}
