// Package model はドメインモデルを定義する。
package model

import "strings"

// DirectoryUser はディレクトリ（Active Directory）上のユーザーを表す。
// 同期パスごとにディレクトリから取得し、永続化しない。
type DirectoryUser struct {
	Username          string // sAMAccountName
	DisplayName       string
	Email             string
	DistinguishedName string
	GroupNames        []string
}

// InGroup はユーザーが指定グループに所属しているかを大文字小文字を区別せずに判定する。
func (u *DirectoryUser) InGroup(name string) bool {
	for _, g := range u.GroupNames {
		if strings.EqualFold(g, name) {
			return true
		}
	}
	return false
}

// User はGogs上のユーザーを表す。
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// CreateUserOption はGogsユーザー作成時のパラメータ。
type CreateUserOption struct {
	SourceID   int64  `json:"source_id"`
	LoginName  string `json:"login_name,omitempty"`
	Username   string `json:"username"`
	FullName   string `json:"full_name,omitempty"`
	Email      string `json:"email"`
	Password   string `json:"password,omitempty"`
	SendNotify bool   `json:"send_notify"`
}

// AccessToken はGogsのアクセストークンを表す。
type AccessToken struct {
	Name string `json:"name"`
	Sha1 string `json:"sha1"`
}
