package model

import "strings"

// DefaultTeamName はマッピングでチーム名が省略された場合に使用するチーム名。
const DefaultTeamName = "Active Directory"

// DefaultTeamDescription は同期で作成するチームの説明。
const DefaultTeamDescription = "Active Directory Team"

// TeamPermissionWrite はチームの書き込み権限。
const TeamPermissionWrite = "write"

// GroupMapping はディレクトリグループとGogs組織・チームの対応付けを表す。
// 設定読み込み後は変更しない。
type GroupMapping struct {
	DirectoryGroup string `yaml:"activeDirectoryName"`
	OrgName        string `yaml:"gogsOrgName"`
	TeamName       string `yaml:"gogsTeamName"`
}

// IsBlank はディレクトリグループ名または組織名が空白のみかどうかを返す。
// 空白のマッピングは同期対象外として扱う。
func (m GroupMapping) IsBlank() bool {
	return strings.TrimSpace(m.DirectoryGroup) == "" || strings.TrimSpace(m.OrgName) == ""
}

// TargetTeamName は同期先のチーム名を返す。未指定の場合はDefaultTeamName。
func (m GroupMapping) TargetTeamName() string {
	if m.TeamName == "" {
		return DefaultTeamName
	}
	return m.TeamName
}

// Org はGogs上の組織を表す。
type Org struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	FullName    string `json:"full_name"`
	Description string `json:"description,omitempty"`
}

// CreateOrgOption はGogs組織作成時のパラメータ。
type CreateOrgOption struct {
	Username    string `json:"username"`
	FullName    string `json:"full_name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Team はGogs組織内のチームを表す。
// メンバー追加APIはチームIDを使用する。
type Team struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Permission  string `json:"permission"`
}

// CreateTeamOption はGogsチーム作成時のパラメータ。
type CreateTeamOption struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Permission  string `json:"permission"`
}
