package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/clouddfe/cfsq/internal/domain"
)

// Postgres is the authoritative store. Every compare-and-set is a single
// conditional UPDATE; zero rows affected means the guard went stale.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

var _ Store = (*Postgres)(nil)

const jobColumns = `id, srcmod, coefficient_of_friction, mu_lambda_lame, near_field_distance,
spacing_grid, obs_depth, days, isc_catalog, priority, state, lease_owner,
lease_expires_at, attempts, max_attempts, result_uri, errors, created_at, updated_at`

func (s *Postgres) CreateJobs(ctx context.Context, jobs []*domain.Job) error {
	batch := &pgx.Batch{}
	for _, j := range jobs {
		batch.Queue(`insert into jobs(
id, srcmod, coefficient_of_friction, mu_lambda_lame, near_field_distance,
spacing_grid, obs_depth, days, isc_catalog, priority, state, attempts, max_attempts
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,'pending',0,$11)
on conflict (id) do nothing`,
			j.ID, j.Params.Srcmod, j.Params.Friction, j.Params.MuLambdaLame,
			j.Params.NearFieldDistance, j.Params.SpacingGrid, j.Params.ObsDepth,
			j.Params.Days, string(j.Params.Catalog), j.Priority, j.MaxAttempts,
		)
	}
	res := s.db.SendBatch(ctx, batch)
	defer res.Close()
	for range jobs {
		if _, err := res.Exec(); err != nil {
			return errors.Wrap(err, "insert job")
		}
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRow(ctx, `select `+jobColumns+` from jobs where id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return j, err
}

func (s *Postgres) List(ctx context.Context, state domain.State) ([]*domain.Job, error) {
	q := `select ` + jobColumns + ` from jobs order by created_at asc, id asc`
	args := []any{}
	if state != "" {
		q = `select ` + jobColumns + ` from jobs where state = $1 order by created_at asc, id asc`
		args = append(args, string(state))
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *Postgres) CountByState(ctx context.Context) (map[domain.State]int, error) {
	rows, err := s.db.Query(ctx, `select state, count(*) from jobs group by state`)
	if err != nil {
		return nil, errors.Wrap(err, "count jobs")
	}
	defer rows.Close()
	counts := make(map[domain.State]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, errors.Wrap(err, "scan count")
		}
		counts[domain.State(state)] = n
	}
	return counts, rows.Err()
}

func (s *Postgres) RunningLeases(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`select count(*) from jobs where state = 'leased' and lease_expires_at >= $1`, now,
	).Scan(&n)
	return n, errors.Wrap(err, "count running leases")
}

func (s *Postgres) Candidates(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	rows, err := s.db.Query(ctx, `select `+jobColumns+` from jobs
where state = 'pending' or (state = 'leased' and lease_expires_at < $1)
order by priority desc, attempts asc, created_at asc, id asc
limit $2`, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "scan candidates")
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *Postgres) Expired(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	rows, err := s.db.Query(ctx, `select `+jobColumns+` from jobs
where state = 'leased' and lease_expires_at < $1
order by lease_expires_at asc
limit $2`, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "scan expired leases")
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *Postgres) Lease(ctx context.Context, id, owner string, expiry, now time.Time) (*domain.Job, error) {
	row := s.db.QueryRow(ctx, `update jobs
set state = 'leased', lease_owner = $2, lease_expires_at = $3,
    attempts = attempts + 1, updated_at = $4
where id = $1
  and (state = 'pending' or (state = 'leased' and lease_expires_at < $4))
returning `+jobColumns, id, owner, expiry, now)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.explain(ctx, id, "", domain.ErrConflict)
	}
	return j, err
}

func (s *Postgres) Renew(ctx context.Context, id, owner string, expiry time.Time) error {
	tag, err := s.db.Exec(ctx, `update jobs
set lease_expires_at = $3, updated_at = now()
where id = $1 and state = 'leased' and lease_owner = $2`, id, owner, expiry)
	if err != nil {
		return errors.Wrap(err, "renew lease")
	}
	if tag.RowsAffected() == 0 {
		return s.explain(ctx, id, owner, domain.ErrNotOwner)
	}
	return nil
}

func (s *Postgres) Complete(ctx context.Context, id, owner, resultURI string) error {
	tag, err := s.db.Exec(ctx, `update jobs
set state = 'done', result_uri = $3, lease_owner = null,
    lease_expires_at = null, updated_at = now()
where id = $1 and state = 'leased' and lease_owner = $2`, id, owner, resultURI)
	if err != nil {
		return errors.Wrap(err, "complete job")
	}
	if tag.RowsAffected() == 0 {
		return s.explain(ctx, id, owner, domain.ErrNotOwner)
	}
	return nil
}

func (s *Postgres) Fail(ctx context.Context, id, owner, reason string) (domain.State, error) {
	var state string
	err := s.db.QueryRow(ctx, `update jobs
set errors = array_append(errors, $3),
    state = case when attempts >= max_attempts then 'failed' else 'pending' end,
    lease_owner = null, lease_expires_at = null, updated_at = now()
where id = $1 and state = 'leased' and lease_owner = $2
returning state`, id, owner, reason).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", s.explain(ctx, id, owner, domain.ErrNotOwner)
	}
	if err != nil {
		return "", errors.Wrap(err, "fail job")
	}
	return domain.State(state), nil
}

func (s *Postgres) MarkExhausted(ctx context.Context, id string, now time.Time) error {
	tag, err := s.db.Exec(ctx, `update jobs
set state = 'failed', lease_owner = null, lease_expires_at = null, updated_at = $2
where id = $1 and attempts >= max_attempts
  and (state = 'pending' or (state = 'leased' and lease_expires_at < $2))`, id, now)
	if err != nil {
		return errors.Wrap(err, "mark exhausted")
	}
	if tag.RowsAffected() == 0 {
		return s.explain(ctx, id, "", domain.ErrConflict)
	}
	return nil
}

func (s *Postgres) Reclaim(ctx context.Context, id string, now time.Time) (domain.State, error) {
	var state string
	err := s.db.QueryRow(ctx, `update jobs
set state = case when attempts >= max_attempts then 'failed' else 'pending' end,
    lease_owner = null, lease_expires_at = null, updated_at = $2
where id = $1 and state = 'leased' and lease_expires_at < $2
returning state`, id, now).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", s.explain(ctx, id, "", domain.ErrConflict)
	}
	if err != nil {
		return "", errors.Wrap(err, "reclaim lease")
	}
	return domain.State(state), nil
}

func (s *Postgres) Restart(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `update jobs
set state = 'pending', attempts = 0, errors = '{}',
    lease_owner = null, lease_expires_at = null, updated_at = now()
where id = $1 and state in ('done', 'failed')`, id)
	if err != nil {
		return errors.Wrap(err, "restart job")
	}
	if tag.RowsAffected() == 0 {
		return s.explain(ctx, id, "", domain.ErrConflict)
	}
	return nil
}

// explain turns a zero-row compare-and-set into the right taxonomy error:
// unknown id is not found, everything else is the fallback.
func (s *Postgres) explain(ctx context.Context, id, owner string, fallback error) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `select exists(select 1 from jobs where id = $1)`, id).Scan(&exists); err != nil {
		return errors.Wrap(err, "inspect job")
	}
	if !exists {
		return domain.ErrNotFound
	}
	return fallback
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	var catalog string
	var state string
	err := row.Scan(
		&j.ID, &j.Params.Srcmod, &j.Params.Friction, &j.Params.MuLambdaLame,
		&j.Params.NearFieldDistance, &j.Params.SpacingGrid, &j.Params.ObsDepth,
		&j.Params.Days, &catalog, &j.Priority, &state, &j.LeaseOwner,
		&j.LeaseExpiresAt, &j.Attempts, &j.MaxAttempts, &j.ResultURI,
		&j.Errors, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Params.Catalog = domain.Catalog(catalog)
	j.State = domain.State(state)
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*domain.Job, error) {
	var out []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan job")
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
