package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"crm-job-engine/internal/domain"
	"crm-job-engine/internal/domain/model"
	"crm-job-engine/internal/domain/ports/repository"
	"crm-job-engine/internal/infra/metrics"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *jobRepo {
	return &jobRepo{pool: pool, tm: tm}
}

const jobColumns = `id, user_id, kind, status, payload, priority, attempts, batch_id,
claimed_by, failure_kind, failure_reason, failed_at, not_before, created_at, updated_at`

func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var kind, status, failureKind string
	err := row.Scan(
		&j.ID, &j.UserID, &kind, &status, &j.Payload, &j.Priority, &j.Attempts, &j.BatchID,
		&j.ClaimedBy, &failureKind, &j.FailureReason, &j.FailedAt, &j.NotBefore, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Kind = model.JobKind(kind)
	j.Status = model.JobStatus(status)
	j.FailureKind = model.FailureKind(failureKind)
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*model.Job, error) {
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *jobRepo) Insert(ctx context.Context, tx repository.Tx, job *model.Job) error {
	spec, ok := job.Kind.Spec()
	if !ok {
		return domain.ErrUnknownKind
	}
	// Re-checked here so no row can exist for an oversized payload even
	// when a caller bypasses the model constructor.
	if int64(len(job.Payload)) > spec.MaxPayloadBytes {
		return domain.ErrPayloadTooLarge
	}
	job.UpdatedAt = time.Now()

	const q = `
INSERT INTO jobs (` + jobColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15);`

	_, err := execSQL(ctx, r.pool, tx, q,
		job.ID, job.UserID, string(job.Kind), string(job.Status), job.Payload, job.Priority,
		job.Attempts, job.BatchID, job.ClaimedBy, string(job.FailureKind), job.FailureReason,
		job.FailedAt, job.NotBefore, job.CreatedAt, job.UpdatedAt)
	if err == nil {
		metrics.IncJobEnqueued(string(job.Kind))
	}
	return err
}

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	j, err := scanJob(row)
	if err != nil {
		return nil, translateScanErr(err)
	}
	return j, nil
}

func (r *jobRepo) FetchQueued(ctx context.Context, userID string, limit int) ([]*model.Job, error) {
	const q = `
SELECT ` + jobColumns + `
FROM jobs
WHERE user_id = $1 AND status = 'queued'
ORDER BY updated_at DESC
LIMIT $2;`
	rows, err := pickRows(ctx, r.pool, nil, q, userID, limit)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

func (r *jobRepo) FindCorrelated(ctx context.Context, userID, batchID string, kinds []model.JobKind) ([]*model.Job, error) {
	ks := make([]string, len(kinds))
	for i, k := range kinds {
		ks[i] = string(k)
	}
	const q = `
SELECT ` + jobColumns + `
FROM jobs
WHERE user_id = $1 AND batch_id = $2 AND kind = ANY($3);`
	rows, err := pickRows(ctx, r.pool, nil, q, userID, batchID, ks)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// ClaimJobs is the single mutation serialization point: the conditional
// UPDATE only wins rows still in queued state, so a job can be returned by
// at most one concurrent caller. FOR UPDATE SKIP LOCKED keeps two claiming
// nodes from waiting on each other's row locks.
func (r *jobRepo) ClaimJobs(ctx context.Context, nodeID string, jobIDs []string) ([]*model.Job, error) {
	if len(jobIDs) == 0 {
		return nil, nil
	}
	var claimed []*model.Job
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		const lockQ = `
SELECT id FROM jobs
WHERE id = ANY($1) AND status = 'queued'
FOR UPDATE SKIP LOCKED;`
		rows, err := pickRows(ctx, r.pool, tx, lockQ, jobIDs)
		if err != nil {
			return err
		}
		var lockedIDs []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return domain.ErrReadDatabaseRow
			}
			lockedIDs = append(lockedIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(lockedIDs) == 0 {
			return nil
		}

		const claimQ = `
UPDATE jobs
SET status = 'processing', claimed_by = $2, updated_at = now()
WHERE id = ANY($1) AND status = 'queued'
RETURNING ` + jobColumns + `;`
		rows, err = pickRows(ctx, r.pool, tx, claimQ, lockedIDs, nodeID)
		if err != nil {
			return err
		}
		claimed, err = collectJobs(rows)
		return err
	})
	return claimed, err
}

func (r *jobRepo) MarkOutcome(ctx context.Context, jobID string, oc model.Outcome, maxRetries int) (*model.Job, error) {
	var notBefore *time.Time
	if !oc.Success && oc.RetryAfter > 0 {
		nb := time.Now().Add(oc.RetryAfter)
		notBefore = &nb
	}

	// One statement applies the whole transition rule: the retry bound is
	// enforced on attempts+1 so the (maxRetries+1)-th failure is terminal.
	const q = `
UPDATE jobs
SET
  status = CASE
    WHEN $2 THEN 'done'
    WHEN $3 OR attempts + 1 > $4 THEN 'error'
    ELSE 'queued'
  END,
  attempts = CASE WHEN $2 THEN attempts ELSE attempts + 1 END,
  claimed_by = '',
  failure_kind = CASE WHEN $2 THEN '' ELSE $5 END,
  failure_reason = CASE WHEN $2 THEN '' ELSE $6 END,
  failed_at = CASE WHEN $2 THEN NULL ELSE now() END,
  not_before = $7,
  updated_at = now()
WHERE id = $1 AND status = 'processing'
RETURNING ` + jobColumns + `;`

	row, err := pickRow(ctx, r.pool, nil, q,
		jobID, oc.Success, oc.Terminal, maxRetries, string(oc.Failure), oc.Reason, notBefore)
	if err != nil {
		return nil, err
	}
	j, err := scanJob(row)
	if err != nil {
		return nil, translateScanErr(err)
	}
	return j, nil
}

func (r *jobRepo) ReleaseJob(ctx context.Context, jobID string) error {
	const q = `
UPDATE jobs
SET status = 'queued', claimed_by = '', updated_at = now()
WHERE id = $1 AND status = 'processing';`
	_, err := execSQL(ctx, r.pool, nil, q, jobID)
	return err
}

func (r *jobRepo) ReleaseClaims(ctx context.Context, nodeID string) (int, error) {
	const q = `
UPDATE jobs
SET status = 'queued', claimed_by = '', updated_at = now()
WHERE claimed_by = $1 AND status = 'processing';`
	tag, err := execSQL(ctx, r.pool, nil, q, nodeID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *jobRepo) ReleaseStaleClaims(ctx context.Context, before time.Time, liveNodes []string) (int, error) {
	if liveNodes == nil {
		liveNodes = []string{} // NULL array would match nothing
	}
	// A long-running job on a healthy node keeps its claim: only rows
	// whose claimant has no registry record are swept.
	const q = `
UPDATE jobs
SET status = 'queued', claimed_by = '', updated_at = now()
WHERE status = 'processing' AND updated_at < $1 AND claimed_by <> ALL($2);`
	tag, err := execSQL(ctx, r.pool, nil, q, before, liveNodes)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *jobRepo) Requeue(ctx context.Context, jobID string) error {
	const q = `
UPDATE jobs
SET status = 'queued', attempts = 0, failure_kind = '', failure_reason = '',
    failed_at = NULL, not_before = NULL, updated_at = now()
WHERE id = $1 AND status = 'error';`
	tag, err := execSQL(ctx, r.pool, nil, q, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.transitionError(ctx, jobID)
	}
	return nil
}

func (r *jobRepo) Cancel(ctx context.Context, jobID string) error {
	const q = `
UPDATE jobs
SET status = 'error', failure_kind = $2, failure_reason = 'cancelled by operator',
    failed_at = now(), updated_at = now()
WHERE id = $1 AND status = 'queued';`
	tag, err := execSQL(ctx, r.pool, nil, q, jobID, string(model.FailurePermanent))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.transitionError(ctx, jobID)
	}
	return nil
}

func (r *jobRepo) Prioritize(ctx context.Context, jobID string, priority int) error {
	const q = `
UPDATE jobs SET priority = $2, updated_at = now()
WHERE id = $1 AND status = 'queued';`
	tag, err := execSQL(ctx, r.pool, nil, q, jobID, priority)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.transitionError(ctx, jobID)
	}
	return nil
}

// transitionError distinguishes "no such job" from "job in wrong state"
// after a conditional update touched zero rows.
func (r *jobRepo) transitionError(ctx context.Context, jobID string) error {
	if _, err := r.FindByID(ctx, nil, jobID); err != nil {
		return err
	}
	return domain.ErrInvalidTransition
}

func (r *jobRepo) UsersWithQueued(ctx context.Context, limit int) ([]string, error) {
	const q = `
SELECT user_id
FROM jobs
WHERE status = 'queued'
GROUP BY user_id
ORDER BY min(created_at)
LIMIT $1;`
	rows, err := pickRows(ctx, r.pool, nil, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *jobRepo) CountByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	const q = `SELECT status, count(*) FROM jobs GROUP BY status;`
	rows, err := pickRows(ctx, r.pool, nil, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[model.JobStatus]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[model.JobStatus(s)] = n
	}
	return out, rows.Err()
}

func (r *jobRepo) CountByKindStatus(ctx context.Context) ([]repository.KindStatusCount, error) {
	const q = `SELECT kind, status, count(*) FROM jobs GROUP BY kind, status;`
	rows, err := pickRows(ctx, r.pool, nil, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []repository.KindStatusCount
	for rows.Next() {
		var k, s string
		var n int
		if err := rows.Scan(&k, &s, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, repository.KindStatusCount{
			Kind:   model.JobKind(k),
			Status: model.JobStatus(s),
			Count:  n,
		})
	}
	return out, rows.Err()
}

func (r *jobRepo) CountProcessingByNode(ctx context.Context) (map[string]int, error) {
	const q = `
SELECT claimed_by, count(*)
FROM jobs
WHERE status = 'processing' AND claimed_by <> ''
GROUP BY claimed_by;`
	rows, err := pickRows(ctx, r.pool, nil, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var node string
		var n int
		if err := rows.Scan(&node, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[node] = n
	}
	return out, rows.Err()
}

func (r *jobRepo) OutcomesSince(ctx context.Context, since time.Time) (*repository.OutcomeStats, error) {
	const q = `
SELECT
  count(*) FILTER (WHERE status = 'done'),
  count(*) FILTER (WHERE status = 'error'),
  coalesce(avg(extract(epoch FROM (updated_at - created_at)) * 1000) FILTER (WHERE status = 'done'), 0)::bigint
FROM jobs
WHERE updated_at >= $1 AND status IN ('done', 'error');`
	row, err := pickRow(ctx, r.pool, nil, q, since)
	if err != nil {
		return nil, err
	}
	var st repository.OutcomeStats
	if err := row.Scan(&st.Done, &st.Error, &st.AvgProcessingMS); err != nil {
		return nil, translateScanErr(err)
	}
	return &st, nil
}
