package mailer

import (
	"fmt"

	"github.com/hitoshi/openbare/internal/model"
)

const dateLayout = "2006-01-02 15:04 MST"

// NewExpiryWarning は返却期限が近い貸出への警告メールを組み立てる。
func NewExpiryWarning(from, to string, lendable *model.Lendable, kindName string, daysLeft int) *Message {
	subject := fmt.Sprintf("【openbare】%s の返却期限まであと%d日です", kindName, daysLeft)
	body := fmt.Sprintf(
		"%s の返却期限が近づいています。\n\n"+
			"  アカウント名: %s\n"+
			"  返却期限:     %s\n\n"+
			"期限までに返却されない場合、アカウントと作成されたリソースは自動的に削除されます。\n"+
			"引き続き利用する場合は、ポータルから貸出期間を延長してください。\n",
		kindName,
		lendable.Username,
		lendable.DueOn.Format(dateLayout),
	)
	return &Message{From: from, To: []string{to}, Subject: subject, Body: body}
}

// NewOverdueNotice は期限切れで自動返却された貸出の通知メールを組み立てる。
func NewOverdueNotice(from, to string, lendable *model.Lendable, kindName string) *Message {
	subject := fmt.Sprintf("【openbare】%s を返却しました", kindName)
	body := fmt.Sprintf(
		"返却期限を過ぎたため、%s を自動的に返却しました。\n\n"+
			"  アカウント名: %s\n"+
			"  返却期限:     %s\n\n"+
			"アカウントと作成されたリソースは削除されました。\n"+
			"再度利用する場合は、ポータルから新しくチェックアウトしてください。\n",
		kindName,
		lendable.Username,
		lendable.DueOn.Format(dateLayout),
	)
	return &Message{From: from, To: []string{to}, Subject: subject, Body: body}
}

// NewExtensionRequest は延長回数を使い切ったユーザーからの
// 追加延長依頼を管理者へ届けるメールを組み立てる。
func NewExtensionRequest(from string, admins []string, lendable *model.Lendable, kindName, userID, reason string) *Message {
	subject := fmt.Sprintf("【openbare】%s の延長依頼（%s）", kindName, userID)
	body := fmt.Sprintf(
		"%s から %s の追加延長の依頼があります。\n\n"+
			"  貸出ID:       %s\n"+
			"  アカウント名: %s\n"+
			"  返却期限:     %s\n\n"+
			"理由:\n%s\n",
		userID,
		kindName,
		lendable.ID,
		lendable.Username,
		lendable.DueOn.Format(dateLayout),
		reason,
	)
	return &Message{From: from, To: admins, Subject: subject, Body: body}
}
