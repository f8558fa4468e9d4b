package account

import (
	"strings"
	"testing"
)

// TestNormalizeASCII はダイアクリティカルマークの除去と非ASCII文字の削除を確認する。
func TestNormalizeASCII(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "ASCIIはそのまま", input: "pierre.muller", want: "pierre.muller"},
		{name: "ダイアクリティカルマークを除去", input: "Pierre Müller", want: "Pierre Muller"},
		{name: "アクセント付き文字", input: "café", want: "cafe"},
		{name: "非ASCII文字は削除", input: "山田taro", want: "taro"},
		{name: "空文字列", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeASCII(tt.input); got != tt.want {
				t.Errorf("NormalizeASCII(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestValidateIAMUsername はIAM相当の長さと文字集合の制約を確認する。
func TestValidateIAMUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		want     bool
	}{
		{name: "英数字とドット", username: "pierre.muller", want: true},
		{name: "許可記号", username: "a+b=c,d@e_f-g", want: true},
		{name: "1文字は短すぎる", username: "a", want: false},
		{name: "空文字列", username: "", want: false},
		{name: "空白は不可", username: "Pierre Muller", want: false},
		{name: "64文字は有効", username: strings.Repeat("a", 64), want: true},
		{name: "65文字は長すぎる", username: strings.Repeat("a", 65), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateIAMUsername(tt.username); got != tt.want {
				t.Errorf("ValidateIAMUsername(%q) = %v, want %v", tt.username, got, tt.want)
			}
		})
	}
}

// TestValidateLocalUsername はメールアドレス形式を許容する緩い制約を確認する。
func TestValidateLocalUsername(t *testing.T) {
	if !ValidateLocalUsername("alice@example.com") {
		t.Error("メールアドレス形式は有効であるべきです")
	}
	if ValidateLocalUsername("a") {
		t.Error("1文字は無効であるべきです")
	}
	if ValidateLocalUsername(strings.Repeat("a", 321)) {
		t.Error("321文字は無効であるべきです")
	}
}
