package reconcile

import (
	"context"
	"errors"
	"html"
	"log/slog"

	"github.com/hitoshi/adsync/internal/model"
)

// getOrCreateOrgAndTeam はマッピング先の組織とチームを解決する。
// 存在しない場合のみ作成し、解決できなかった場合は nil を返す。
// 組織の取得エラーは未検出と区別し、作成を試みない。
// 返すエラーはキャンセル時のコンテキストエラーのみ。
func (s *Synchronizer) getOrCreateOrgAndTeam(ctx context.Context, p *pass, mapping model.GroupMapping) (*model.Team, error) {
	if mapping.IsBlank() {
		s.logger.Warn("ディレクトリグループ名または組織名が空のマッピングをスキップします",
			slog.String("group", mapping.DirectoryGroup),
			slog.String("org", mapping.OrgName),
		)
		return nil, nil
	}

	orgName := mapping.OrgName
	org, err := s.remote.GetOrg(ctx, orgName)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.summary.Failures++
		s.logger.Error("Gogs組織の取得に失敗しました。このサイクルではマッピングをスキップします",
			slog.String("org", orgName),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	if org == nil && s.opts.EnableOrgCreation {
		p.report("Creating missing org %q", orgName)
		if !s.opts.DryRun {
			org, err = s.remote.CreateOrg(ctx, s.opts.AdminUsername, model.CreateOrgOption{
				Username: orgName,
				FullName: mapping.DirectoryGroup,
			})
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				p.summary.Failures++
				s.logger.Error("Gogs組織の作成に失敗しました",
					slog.String("org", orgName),
					slog.String("owner", s.opts.AdminUsername),
					slog.String("error", err.Error()),
				)
				org = nil
			} else if org != nil {
				p.summary.OrgsCreated++
			}
		}
	}

	if org == nil {
		return nil, nil
	}

	teamName := mapping.TargetTeamName()
	teams, err := s.remote.GetTeams(ctx, orgName)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.summary.Failures++
		s.logger.Error("Gogsチーム一覧の取得に失敗しました",
			slog.String("org", orgName),
			slog.String("error", err.Error()),
		)
		teams = nil
	}

	// 名前の完全一致のみ。別名の既存チームは流用しない。
	team := findTeam(teams, teamName)
	if team != nil || !s.opts.EnableTeamCreation {
		return team, nil
	}

	p.report("Creating missing team %q for org %q", teamName, orgName)
	if s.opts.DryRun {
		return nil, nil
	}

	team, err = s.remote.CreateTeam(ctx, orgName, model.CreateTeamOption{
		Name:        teamName,
		Description: model.DefaultTeamDescription,
		Permission:  model.TeamPermissionWrite,
	})
	switch {
	case err == nil:
		if team != nil {
			p.summary.TeamsCreated++
		}
		return team, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, model.ErrAlreadyExists):
		// Gogs APIは組織内に別のチームが存在すると誤って「既に存在する」を返す
		s.logger.Warn("既存チームがあるためGogs APIでチームを作成できません（既知の制約）",
			slog.String("org", orgName),
			slog.String("team", teamName),
			slog.Int("existing_teams", len(teams)),
		)
		p.report("Gogs refused to create team %q for org %q because another team already exists", teamName, orgName)
	default:
		p.summary.Failures++
		s.logger.Error("Gogsチームの作成に失敗しました",
			slog.String("org", orgName),
			slog.String("team", teamName),
			slog.String("error", err.Error()),
		)
	}
	return nil, nil
}

// findTeam は名前が完全一致するチームを返す。
func findTeam(teams []*model.Team, name string) *model.Team {
	for _, t := range teams {
		if t != nil && t.Name == name {
			return t
		}
	}
	return nil
}

// getOrCreateUser はディレクトリユーザーに対応するGogsユーザーを解決する。
// 見つからずユーザー作成が有効な場合は作成する。解決できなかった場合は nil を返す。
// 取得エラー時は作成を試みない。
func (s *Synchronizer) getOrCreateUser(ctx context.Context, p *pass, dirUser *model.DirectoryUser) (*model.User, error) {
	user, err := s.remote.GetUser(ctx, dirUser.Username)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.summary.Failures++
		s.logger.Error("Gogsユーザーの取得に失敗しました。このサイクルではユーザーをスキップします",
			slog.String("username", dirUser.Username),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	if user != nil || !s.opts.EnableUserCreation {
		return user, nil
	}

	p.report("Creating missing user %q (%q)", dirUser.Username, dirUser.DistinguishedName)
	if s.opts.DryRun {
		return nil, nil
	}

	user, err = s.remote.CreateUser(ctx, model.CreateUserOption{
		SourceID:   s.opts.LDAPSourceID,
		LoginName:  dirUser.Username,
		Username:   dirUser.Username,
		FullName:   s.plainText(dirUser.DisplayName),
		Email:      dirUser.Email,
		SendNotify: false,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.summary.Failures++
		s.logger.Error("Gogsユーザーの作成に失敗しました",
			slog.String("username", dirUser.Username),
			slog.String("dn", dirUser.DistinguishedName),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	if user != nil {
		p.summary.UsersCreated++
	}
	return user, nil
}

// plainText は表示名からHTMLタグを除去したテキストを返す。
func (s *Synchronizer) plainText(name string) string {
	return html.UnescapeString(s.sanitizer.Sanitize(name))
}
