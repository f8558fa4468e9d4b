package account

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// iamUsernamePattern はIAM相当のユーザー名に許可される文字集合。
var iamUsernamePattern = regexp.MustCompile(`^[\w.@+=,-]+$`)

// NormalizeASCII はユーザー名候補をASCIIに正規化する。
// Unicode結合文字を分解してダイアクリティカルマークを除去し、
// 残った非ASCII文字は取り除く。
func NormalizeASCII(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	normalized, _, err := transform.String(t, s)
	if err != nil {
		normalized = s
	}

	var b strings.Builder
	for _, r := range normalized {
		if r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidateIAMUsername はIAM相当の制約でユーザー名を検証する。
// 長さ: 2〜64、文字: 英数字および +=,.@_- のみ。
func ValidateIAMUsername(username string) bool {
	return len(username) > 1 && len(username) < 65 &&
		iamUsernamePattern.MatchString(username)
}

// ValidateLocalUsername はローカルユーザー名の既定の制約で検証する。
// 長さ: 2〜320（メールアドレス形式を許容する）。
func ValidateLocalUsername(username string) bool {
	return len(username) > 1 && len(username) < 321
}
