package user

import (
	"errors"
	"strings"

	"github.com/sanosuguru/go-class-booking/internal/domain/store"
)

// CollectionPath はユーザープロフィール一覧のパス
const CollectionPath = "users"

// DisplayNameField は表示名のフィールド名
const DisplayNameField = "displayName"

var (
	ErrDisplayNameRequired = errors.New("表示名は必須です")
	ErrDisplayNameTooLong  = errors.New("表示名は100文字以内である必要があります")
)

// Profile はユーザーの正規プロフィール
type Profile struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
}

// Path はプロフィールドキュメントのパスを返す
func Path(userID string) string {
	return store.JoinPath(CollectionPath, userID)
}

// DisplayNamePath は表示名フィールドのパスを返す
func DisplayNamePath(userID string) string {
	return store.JoinPath(CollectionPath, userID, DisplayNameField)
}

// ValidateDisplayName は表示名の検証を行い、前後の空白を除いた値を返す
func ValidateDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrDisplayNameRequired
	}
	if len([]rune(name)) > 100 {
		return "", ErrDisplayNameTooLong
	}
	return name, nil
}
