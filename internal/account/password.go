package account

import (
	"crypto/rand"
	"math/big"
)

// PasswordMinLength は生成パスワードの最小長。
const PasswordMinLength = 12

// 視認しづらい文字（i, l, I, O, 1, 0, 引用符など）を除いた文字クラス。
// http://docs.aws.amazon.com/IAM/latest/UserGuide/id_credentials_passwords_account-policy.html
const (
	passwordLowercase   = "abcdefghjkmnopqrstuvwxyz"
	passwordUppercase   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	passwordDigits      = "23456789"
	passwordPunctuation = "!@#$%^&*()_+-=[]{}"
)

// usernameChars はランダムユーザー名生成に使用する文字集合。
const usernameChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// MakePassword は指定長のランダムパスワードを生成する。
// 小文字・大文字・数字・記号の4クラスをすべて含み、紛らわしい文字を除外し、
// クラスの出現順が予測できないようシャッフルする。
// lengthがPasswordMinLength未満の場合はPasswordMinLengthに切り上げる。
func MakePassword(length int) string {
	if length < PasswordMinLength {
		length = PasswordMinLength
	}

	classes := []string{
		passwordLowercase,
		passwordUppercase,
		passwordDigits,
		passwordPunctuation,
	}

	var chars []byte
	for len(chars) < length {
		for _, class := range classes {
			chars = append(chars, class[randomInt(len(class))])
		}
	}

	// Fisher-Yatesシャッフル
	for i := len(chars) - 1; i > 0; i-- {
		j := randomInt(i + 1)
		chars[i], chars[j] = chars[j], chars[i]
	}

	return string(chars[:length])
}

// RandomUsername は指定長の不透明なランダムユーザー名を生成する。
// 候補名が無効または衝突している場合の代替として使用する。
func RandomUsername(length int) string {
	chars := make([]byte, length)
	for i := range chars {
		chars[i] = usernameChars[randomInt(len(usernameChars))]
	}
	return string(chars)
}

// randomInt は[0, n)の暗号学的乱数を返す。
func randomInt(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/randが読めない環境では生成を続行できない
		panic(err)
	}
	return int(v.Int64())
}
