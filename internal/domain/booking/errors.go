package booking

import "errors"

// Booking ドメインのエラー定義
var (
	ErrClassNotFound                 = errors.New("クラスが見つかりません")
	ErrCourseNotFound                = errors.New("クラスに対応するコースが見つかりません")
	ErrClassNotBookable              = errors.New("クラスはキャンセル済みまたは終了済みのため予約できません")
	ErrClassFull                     = errors.New("クラスに空きがありません")
	ErrAlreadyBooked                 = errors.New("このクラスは既に予約済みです")
	ErrBookingNotFound               = errors.New("予約が見つかりません")
	ErrBookingInProgress             = errors.New("同じ予約が他のリクエストで処理中です")
	ErrNotAuthenticated              = errors.New("ログインが必要です")
	ErrStoreUnavailable              = errors.New("ストアに接続できません。時間をおいて再試行してください")
	ErrPartialDenormalizationFailure = errors.New("座席数は更新されましたが予約インデックスの更新に失敗しました")
)

// IsRetryable は呼び出し元が再試行してよいエラーかを返す
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrBookingInProgress)
}
