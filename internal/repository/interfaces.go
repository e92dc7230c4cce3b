// Package repository は実行履歴の永続化インターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/newsbrief/internal/model"
)

// RunRepository は実行履歴の永続化インターフェース。
type RunRepository interface {
	// Save は実行履歴と判定一覧を同一トランザクションで保存する。
	Save(ctx context.Context, run *model.Run, verdicts []model.RunVerdict) error

	// FindByID は指定IDの実行履歴を取得する。見つからない場合はmodel.ErrRunNotFoundを返す。
	FindByID(ctx context.Context, id string) (*model.Run, error)

	// Latest は配信時刻が最も新しい実行履歴を取得する。
	// 1件もない場合はmodel.ErrRunNotFoundを返す。
	Latest(ctx context.Context) (*model.Run, error)

	// List は配信時刻の降順で最大limit件の実行履歴を返す。
	List(ctx context.Context, limit int) ([]*model.Run, error)

	// ListVerdicts は実行内の判定を鮮度検証表の順序で返す。
	ListVerdicts(ctx context.Context, runID string) ([]model.RunVerdict, error)

	// DeleteOlderThan は配信時刻がcutoffより前の実行履歴を削除し、削除件数を返す。
	// 判定行はCASCADE削除される。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
