package compensation

import "errors"

var (
	// ErrCompensationNotFound 補填が見つからないエラー
	ErrCompensationNotFound = errors.New("compensation not found")
	// ErrCompensationAlreadyProcessed 既に処理済みエラー
	ErrCompensationAlreadyProcessed = errors.New("compensation already processed")
	// ErrInvalidCompensation 無効な補填エラー
	ErrInvalidCompensation = errors.New("invalid compensation")
	// ErrInvalidStatus 無効なステータス
	ErrInvalidStatus = errors.New("invalid compensation status")
)
