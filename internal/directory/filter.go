package directory

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Filter はLDAP検索フィルタ。
type Filter interface {
	String() string
}

type rawFilter string

func (f rawFilter) String() string {
	return string(f)
}

type andFilter struct {
	parts []Filter
}

// And は全条件を満たすフィルタを返す。
func And(filters ...Filter) Filter {
	return andFilter{parts: filters}
}

func (f andFilter) String() string {
	var b strings.Builder
	b.WriteString("(&")
	for _, p := range f.parts {
		b.WriteString(p.String())
	}
	b.WriteString(")")
	return b.String()
}

type orFilter struct {
	parts []Filter
}

// Or はいずれかの条件を満たすフィルタを返す。
func Or(filters ...Filter) Filter {
	return orFilter{parts: filters}
}

func (f orFilter) String() string {
	var b strings.Builder
	b.WriteString("(|")
	for _, p := range f.parts {
		b.WriteString(p.String())
	}
	b.WriteString(")")
	return b.String()
}

type notFilter struct {
	part Filter
}

// Not は条件を否定するフィルタを返す。
func Not(f Filter) Filter {
	return notFilter{part: f}
}

func (f notFilter) String() string {
	return "(!" + f.part.String() + ")"
}

// Eq は属性値の一致フィルタを返す。値はRFC 4515に従ってエスケープする。
func Eq(attr, value string) Filter {
	return rawFilter("(" + attr + "=" + ldap.EscapeFilter(value) + ")")
}

// Present は属性が存在するエントリのフィルタを返す。
func Present(attr string) Filter {
	return rawFilter("(" + attr + "=*)")
}

// Raw はエスケープせずにフィルタ文字列をそのまま使う。設定由来のフィルタ用。
func Raw(filter string) Filter {
	return rawFilter(filter)
}

// disabledAccount はuserAccountControlのACCOUNTDISABLEビットが立っているアカウントに一致する。
var disabledAccount = rawFilter("(userAccountControl:1.2.840.113556.1.4.803:=2)")
