package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/hitoshi/newsbrief/internal/model"
)

// psql はPostgreSQL向けのプレースホルダ($1, $2...)を使うクエリビルダー。
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var runColumns = []string{
	"id", "briefing_date", "delivery_time", "started_at", "finished_at",
	"total_candidates", "valid_count", "stale_count", "unverified_count", "error_count",
	"primary_count", "secondary_count", "local_count", "social_count",
	"audit_path", "briefing_path", "summary", "created_at",
}

var verdictColumns = []string{
	"run_id", "url", "headline", "source", "section",
	"verdict", "error_kind", "reason", "age_hours", "date_method",
}

// PostgresRunRepo はPostgreSQLを使用した実行履歴リポジトリ。
type PostgresRunRepo struct {
	db *sql.DB
}

// NewPostgresRunRepo はPostgresRunRepoを生成する。
func NewPostgresRunRepo(db *sql.DB) *PostgresRunRepo {
	return &PostgresRunRepo{db: db}
}

// Save は実行履歴と判定一覧を同一トランザクションで保存する。
func (r *PostgresRunRepo) Save(ctx context.Context, run *model.Run, verdicts []model.RunVerdict) error {
	runSQL, runArgs, err := insertRunQuery(run).ToSql()
	if err != nil {
		return fmt.Errorf("実行履歴のクエリ生成に失敗しました: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, runSQL, runArgs...); err != nil {
		return fmt.Errorf("実行履歴の保存に失敗しました: %w", err)
	}

	if len(verdicts) > 0 {
		verdictSQL, verdictArgs, err := insertVerdictsQuery(run.ID, verdicts).ToSql()
		if err != nil {
			return fmt.Errorf("判定のクエリ生成に失敗しました: %w", err)
		}
		if _, err := tx.ExecContext(ctx, verdictSQL, verdictArgs...); err != nil {
			return fmt.Errorf("判定の保存に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FindByID は指定IDの実行履歴を取得する。
func (r *PostgresRunRepo) FindByID(ctx context.Context, id string) (*model.Run, error) {
	query, args, err := psql.Select(runColumns...).From("runs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("実行履歴のクエリ生成に失敗しました: %w", err)
	}

	run, err := scanRun(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("実行履歴の取得に失敗しました: %w", err)
	}
	return run, nil
}

// Latest は配信時刻が最も新しい実行履歴を取得する。
func (r *PostgresRunRepo) Latest(ctx context.Context) (*model.Run, error) {
	query, args, err := psql.Select(runColumns...).From("runs").
		OrderBy("delivery_time DESC", "created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("実行履歴のクエリ生成に失敗しました: %w", err)
	}

	run, err := scanRun(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("最新の実行履歴の取得に失敗しました: %w", err)
	}
	return run, nil
}

// List は配信時刻の降順で最大limit件の実行履歴を返す。
func (r *PostgresRunRepo) List(ctx context.Context, limit int) ([]*model.Run, error) {
	query, args, err := listRunsQuery(limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("実行履歴のクエリ生成に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("実行履歴一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("実行履歴のスキャンに失敗しました: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("実行履歴一覧の走査に失敗しました: %w", err)
	}
	return runs, nil
}

// ListVerdicts は実行内の判定を保存順で返す。
func (r *PostgresRunRepo) ListVerdicts(ctx context.Context, runID string) ([]model.RunVerdict, error) {
	query, args, err := psql.Select(verdictColumns[1:]...).
		From("run_verdicts").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("判定のクエリ生成に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("判定一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	verdicts := []model.RunVerdict{}
	for rows.Next() {
		var v model.RunVerdict
		var age sql.NullInt64
		if err := rows.Scan(&v.URL, &v.Headline, &v.Source, &v.Section, &v.Verdict,
			&v.ErrorKind, &v.Reason, &age, &v.DateMethod); err != nil {
			return nil, fmt.Errorf("判定のスキャンに失敗しました: %w", err)
		}
		if age.Valid {
			hours := int(age.Int64)
			v.AgeHours = &hours
		}
		verdicts = append(verdicts, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("判定一覧の走査に失敗しました: %w", err)
	}
	return verdicts, nil
}

// DeleteOlderThan は配信時刻がcutoffより前の実行履歴を削除する。
func (r *PostgresRunRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := psql.Delete("runs").Where(sq.Lt{"delivery_time": cutoff}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("削除クエリの生成に失敗しました: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("古い実行履歴の削除に失敗しました: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

func insertRunQuery(run *model.Run) sq.InsertBuilder {
	summary := run.Summary
	if len(summary) == 0 {
		summary = []byte("{}")
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = run.FinishedAt
	}
	return psql.Insert("runs").Columns(runColumns...).Values(
		run.ID, run.BriefingDate, run.DeliveryTime, run.StartedAt, run.FinishedAt,
		run.TotalCandidates, run.Valid, run.Stale, run.Unverified, run.Error,
		run.Primary, run.Secondary, run.Local, run.Social,
		run.AuditPath, run.BriefingPath, string(summary), createdAt,
	)
}

func insertVerdictsQuery(runID string, verdicts []model.RunVerdict) sq.InsertBuilder {
	b := psql.Insert("run_verdicts").Columns(verdictColumns...)
	for _, v := range verdicts {
		var age sql.NullInt64
		if v.AgeHours != nil {
			age = sql.NullInt64{Int64: int64(*v.AgeHours), Valid: true}
		}
		b = b.Values(runID, v.URL, v.Headline, v.Source, v.Section,
			v.Verdict, v.ErrorKind, v.Reason, age, v.DateMethod)
	}
	return b
}

func listRunsQuery(limit int) sq.SelectBuilder {
	return psql.Select(runColumns...).From("runs").
		OrderBy("delivery_time DESC", "created_at DESC").
		Limit(uint64(limit))
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.Run, error) {
	run := &model.Run{}
	var briefingDate time.Time
	var summary []byte
	err := row.Scan(
		&run.ID, &briefingDate, &run.DeliveryTime, &run.StartedAt, &run.FinishedAt,
		&run.TotalCandidates, &run.Valid, &run.Stale, &run.Unverified, &run.Error,
		&run.Primary, &run.Secondary, &run.Local, &run.Social,
		&run.AuditPath, &run.BriefingPath, &summary, &run.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	run.BriefingDate = briefingDate.Format("2006-01-02")
	run.Summary = summary
	return run, nil
}
