package booking

import (
	"time"
)

// 処理中マーカーのフィールド名
const (
	PendingField    = "pending"
	ClaimedAtField  = "claimedAt"
	ClaimTokenField = "claimToken"
)

// DefaultClaimTTL は処理中マーカーを放棄されたものとみなすまでの時間
const DefaultClaimTTL = 30 * time.Second

// ClaimState は予約ドキュメントの状態
type ClaimState int

const (
	// ClaimAbsent は予約ドキュメントが無い
	ClaimAbsent ClaimState = iota
	// ClaimPending は予約またはキャンセルの処理中
	ClaimPending
	// ClaimStale は処理中のまま TTL を過ぎたマーカー
	ClaimStale
	// ClaimBooked は確定した予約
	ClaimBooked
)

// Claim は座席を確保する前に予約IDを押さえる仮ドキュメント。Materialize で予約に置き換わる
type Claim struct {
	ID         string `json:"id"`
	UserID     string `json:"userId"`
	ClassID    string `json:"classId"`
	Pending    bool   `json:"pending"`
	ClaimedAt  string `json:"claimedAt"`
	ClaimToken string `json:"claimToken"`
}

// NewClaim は (userID, classKey) の予約IDを押さえる仮ドキュメントを作成する
func NewClaim(userID, classKey, token string, now time.Time) Claim {
	return Claim{
		ID:         ID(userID, classKey),
		UserID:     userID,
		ClassID:    classKey,
		Pending:    true,
		ClaimedAt:  now.UTC().Format(bookingDateTimeLayout),
		ClaimToken: token,
	}
}

// MarkPending は確定済みの予約ドキュメントに処理中マーカーを付ける
func MarkPending(doc map[string]any, token string, now time.Time) {
	doc[PendingField] = true
	doc[ClaimedAtField] = now.UTC().Format(bookingDateTimeLayout)
	doc[ClaimTokenField] = token
}

// StateOf は予約ドキュメントの値から状態を判定する
func StateOf(doc any, now time.Time, ttl time.Duration) ClaimState {
	if doc == nil {
		return ClaimAbsent
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return ClaimBooked
	}
	if pending, _ := m[PendingField].(bool); !pending {
		return ClaimBooked
	}
	at, _ := m[ClaimedAtField].(string)
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil || now.Sub(t) >= ttl {
		return ClaimStale
	}
	return ClaimPending
}

// TokenOf は処理中マーカーのトークンを返す。マーカーが無ければ空文字
func TokenOf(doc any) string {
	m, ok := doc.(map[string]any)
	if !ok {
		return ""
	}
	token, _ := m[ClaimTokenField].(string)
	return token
}
