package account

import (
	"strings"
	"testing"
)

// TestMakePasswordLength は指定長と最小長への切り上げを確認する。
func TestMakePasswordLength(t *testing.T) {
	if got := MakePassword(16); len(got) != 16 {
		t.Errorf("len = %d, want 16", len(got))
	}
	// 最小長未満の指定は切り上げる
	if got := MakePassword(4); len(got) != PasswordMinLength {
		t.Errorf("len = %d, want %d", len(got), PasswordMinLength)
	}
}

// TestMakePasswordContainsAllClasses は4つの文字クラスがすべて含まれることを確認する。
func TestMakePasswordContainsAllClasses(t *testing.T) {
	classes := map[string]string{
		"小文字": passwordLowercase,
		"大文字": passwordUppercase,
		"数字":  passwordDigits,
		"記号":  passwordPunctuation,
	}

	for i := 0; i < 20; i++ {
		password := MakePassword(PasswordMinLength)
		for name, class := range classes {
			if !strings.ContainsAny(password, class) {
				t.Errorf("パスワード %q に%sが含まれていません", password, name)
			}
		}
	}
}

// TestMakePasswordExcludesAmbiguous は紛らわしい文字が使われないことを確認する。
func TestMakePasswordExcludesAmbiguous(t *testing.T) {
	for i := 0; i < 20; i++ {
		password := MakePassword(32)
		if strings.ContainsAny(password, "ilIO01") {
			t.Errorf("パスワード %q に紛らわしい文字が含まれています", password)
		}
	}
}

// TestRandomUsername は長さと文字集合を確認する。
func TestRandomUsername(t *testing.T) {
	username := RandomUsername(20)
	if len(username) != 20 {
		t.Errorf("len = %d, want 20", len(username))
	}
	for _, r := range username {
		if !strings.ContainsRune(usernameChars, r) {
			t.Errorf("ユーザー名 %q に想定外の文字 %q が含まれています", username, r)
		}
	}
}
