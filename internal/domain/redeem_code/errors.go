package redeem_code

import "errors"

var (
	// ErrCodeNotFound 引き換えコードが見つからないエラー
	ErrCodeNotFound = errors.New("code not found")
	// ErrCodeExpired 引き換えコードが期限切れエラー
	ErrCodeExpired = errors.New("code expired")
	// ErrCodeAlreadyUsed 引き換えコードが既に使用済みエラー
	ErrCodeAlreadyUsed = errors.New("code already used")
	// ErrCodeDisabled 引き換えコードが無効化されているエラー
	ErrCodeDisabled = errors.New("code disabled")
	// ErrCodeAlreadyExists 同じコードが既に登録されているエラー
	ErrCodeAlreadyExists = errors.New("code already exists")
	// ErrInvalidCode コードの形式が不正
	ErrInvalidCode = errors.New("invalid code")
	// ErrInvalidCount 生成数が範囲外
	ErrInvalidCount = errors.New("invalid count")
	// ErrInvalidExpiry 有効期限が過去
	ErrInvalidExpiry = errors.New("invalid expiry")
	// ErrNoteTooLong メモが長すぎる
	ErrNoteTooLong = errors.New("note too long")
	// ErrInvalidPage ページ番号が不正
	ErrInvalidPage = errors.New("invalid page")
	// ErrInvalidPageSize ページサイズが不正
	ErrInvalidPageSize = errors.New("invalid page size")
)
