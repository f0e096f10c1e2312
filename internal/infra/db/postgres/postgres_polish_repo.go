package postgres

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v4/pgxpool"

	"codepolish/internal/domain"
	"codepolish/internal/domain/model"
	"codepolish/internal/domain/ports/repository"
)

var _ repository.PolishRepository = (*polishRepo)(nil)

type polishRepo struct {
	pool *pgxpool.Pool
	sb   sq.StatementBuilderType
}

func NewPolishRepo(pool *pgxpool.Pool) *polishRepo {
	return &polishRepo{pool: pool, sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

const polishColumns = `id, user_id, name, framework, preset, rules, original_code, polished_code,
       quality_score_before, quality_score_after, issues_found, improvements_summary, status,
       error_message, processing_time, credits_used, refunded, created_at, updated_at`

func (r *polishRepo) Create(ctx context.Context, tx repository.Tx, p *model.Polish) error {
	rules, err := json.Marshal(p.Rules)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO polishes (user_id, name, framework, preset, rules, original_code, status, credits_used)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING id, created_at, updated_at;`
	row, err := pickRow(ctx, r.pool, tx, q, p.UserID, p.Name, p.Framework, p.Preset, string(rules), p.OriginalCode, p.Status, p.CreditsUsed)
	if err != nil {
		return err
	}
	return translate(row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt))
}

func (r *polishRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Polish, error) {
	const q = `SELECT ` + polishColumns + ` FROM polishes WHERE id=$1;`
	return r.queryOne(ctx, tx, q, id)
}

func (r *polishRepo) FindByIDForUpdate(ctx context.Context, tx repository.Tx, id int64) (*model.Polish, error) {
	const q = `SELECT ` + polishColumns + ` FROM polishes WHERE id=$1 FOR UPDATE;`
	return r.queryOne(ctx, tx, q, id)
}

func (r *polishRepo) filtered(b sq.SelectBuilder, f model.PolishFilter) sq.SelectBuilder {
	b = b.From("polishes").Where(sq.Eq{"user_id": f.UserID})
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": f.Status})
	}
	if f.Since != nil {
		b = b.Where(sq.GtOrEq{"created_at": *f.Since})
	}
	return b
}

func (r *polishRepo) List(ctx context.Context, tx repository.Tx, f model.PolishFilter) ([]*model.Polish, error) {
	b := r.filtered(r.sb.Select(polishColumns), f).OrderBy("created_at DESC", "id DESC")
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		b = b.Offset(uint64(f.Offset))
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	out := make([]*model.Polish, 0)
	for rows.Next() {
		p, err := scanPolish(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *polishRepo) Count(ctx context.Context, tx repository.Tx, f model.PolishFilter) (int, error) {
	q, args, err := r.filtered(r.sb.Select("COUNT(*)"), f).ToSql()
	if err != nil {
		return 0, err
	}
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, translate(err)
	}
	return n, nil
}

func (r *polishRepo) Delete(ctx context.Context, tx repository.Tx, id, userID int64) error {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM polishes WHERE id=$1 AND user_id=$2;`, id, userID)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *polishRepo) ClaimPending(ctx context.Context, tx repository.Tx, id int64) (bool, error) {
	const q = `UPDATE polishes SET status='analyzing', updated_at=NOW() WHERE id=$1 AND status='pending';`
	return r.flip(ctx, tx, q, id)
}

func (r *polishRepo) MarkPolishing(ctx context.Context, tx repository.Tx, id int64, scoreBefore int, issues []model.Issue) (bool, error) {
	if issues == nil {
		issues = []model.Issue{}
	}
	b, err := json.Marshal(issues)
	if err != nil {
		return false, err
	}
	const q = `
UPDATE polishes SET status='polishing', quality_score_before=$2, issues_found=$3, updated_at=NOW()
 WHERE id=$1 AND status='analyzing';`
	return r.flip(ctx, tx, q, id, scoreBefore, string(b))
}

func (r *polishRepo) MarkCompleted(ctx context.Context, tx repository.Tx, id int64, res model.PolishResult) (bool, error) {
	summary, err := json.Marshal(res.Summary)
	if err != nil {
		return false, err
	}
	const q = `
UPDATE polishes SET status='completed', polished_code=$2, quality_score_after=$3,
       improvements_summary=$4, processing_time=$5, updated_at=NOW()
 WHERE id=$1 AND status='polishing';`
	return r.flip(ctx, tx, q, id, res.PolishedCode, res.QualityScoreAfter, string(summary), res.ProcessingTime.Milliseconds())
}

func (r *polishRepo) MarkFailed(ctx context.Context, tx repository.Tx, id int64, reason string, elapsed time.Duration) (bool, error) {
	const q = `
UPDATE polishes SET status='failed', error_message=$2, processing_time=$3, updated_at=NOW()
 WHERE id=$1 AND status IN ('pending','analyzing','polishing');`
	return r.flip(ctx, tx, q, id, reason, elapsed.Milliseconds())
}

func (r *polishRepo) MarkRefunded(ctx context.Context, tx repository.Tx, id int64) (bool, error) {
	const q = `UPDATE polishes SET refunded=true, updated_at=NOW() WHERE id=$1 AND status='failed' AND refunded=false;`
	return r.flip(ctx, tx, q, id)
}

func (r *polishRepo) ResetForRetry(ctx context.Context, tx repository.Tx, id int64) (bool, error) {
	const q = `
UPDATE polishes SET status='pending', polished_code=NULL, quality_score_before=NULL, quality_score_after=NULL,
       issues_found='[]', improvements_summary=NULL, error_message=NULL, processing_time=NULL,
       refunded=false, updated_at=NOW()
 WHERE id=$1 AND status='failed';`
	return r.flip(ctx, tx, q, id)
}

func (r *polishRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]int64, error) {
	const q = `SELECT id FROM polishes WHERE status='pending' AND updated_at < $1 ORDER BY updated_at ASC LIMIT $2;`
	return collectIDs(ctx, r.pool, tx, q, before, limit)
}

func (r *polishRepo) TouchPending(ctx context.Context, tx repository.Tx, id int64) error {
	const q = `UPDATE polishes SET updated_at=NOW() WHERE id=$1 AND status='pending';`
	if _, err := execSQL(ctx, r.pool, tx, q, id); err != nil {
		return translate(err)
	}
	return nil
}

func (r *polishRepo) ListStuck(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]int64, error) {
	const q = `
SELECT id FROM polishes WHERE status IN ('analyzing','polishing') AND updated_at < $1
 ORDER BY updated_at ASC LIMIT $2;`
	return collectIDs(ctx, r.pool, tx, q, before, limit)
}

func (r *polishRepo) ListUnrefundedFailed(ctx context.Context, tx repository.Tx, limit int) ([]*model.Polish, error) {
	const q = `SELECT ` + polishColumns + ` FROM polishes WHERE status='failed' AND refunded=false
 ORDER BY updated_at ASC LIMIT $1;`
	rows, err := queryRows(ctx, r.pool, tx, q, limit)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []*model.Polish
	for rows.Next() {
		p, err := scanPolish(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *polishRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.PolishStatus]int, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT status, COUNT(*) FROM polishes GROUP BY status;`)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	counts := make(map[model.PolishStatus]int)
	for rows.Next() {
		var s model.PolishStatus
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[s] = n
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return counts, nil
}

func (r *polishRepo) flip(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (bool, error) {
	tag, err := execSQL(ctx, r.pool, tx, q, args...)
	if err != nil {
		return false, translate(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *polishRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Polish, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	p, err := scanPolish(row)
	if err != nil {
		return nil, translate(err)
	}
	return p, nil
}

func scanPolish(row scanner) (*model.Polish, error) {
	var (
		p       model.Polish
		rules   string
		issues  string
		summary *string
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Framework, &p.Preset, &rules, &p.OriginalCode, &p.PolishedCode,
		&p.QualityScoreBefore, &p.QualityScoreAfter, &issues, &summary, &p.Status,
		&p.ErrorMessage, &p.ProcessingTimeMs, &p.CreditsUsed, &p.Refunded, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Rules = model.DefaultRules()
	if rules != "" && rules != "{}" {
		_ = json.Unmarshal([]byte(rules), &p.Rules)
	}
	p.IssuesFound = []model.Issue{}
	if issues != "" {
		_ = json.Unmarshal([]byte(issues), &p.IssuesFound)
	}
	if summary != nil {
		var s model.ImprovementSummary
		if json.Unmarshal([]byte(*summary), &s) == nil {
			p.ImprovementsSummary = &s
		}
	}
	return &p, nil
}
