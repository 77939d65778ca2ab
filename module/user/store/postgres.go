package store

import (
	"context"
	"errors"

	usermodel "MarketChat/module/user/model"
	"MarketChat/tools/errs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pkgerr "github.com/pkg/errors"
)

const (
	pgSelectUser = `SELECT user_id, nickname, COALESCE(face_url, ''), COALESCE(role, ''), status,
       COALESCE(notification_token, ''), create_time, update_time
  FROM users WHERE user_id = $1 AND status <> $2`
	pgSelectProfiles = `SELECT user_id, nickname, COALESCE(face_url, '') FROM users WHERE user_id = ANY($1)`
)

// PgDirectory 用户主档在 Postgres 的部署用这个
type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

// NewPgPool 连接并 ping 一次
func NewPgPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errs.ErrInvalidArgument.WrapMsg("parse postgres dsn", "err", err.Error())
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, pkgerr.Wrap(err, "pgxpool new")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, pkgerr.Wrap(err, "pgxpool ping")
	}
	return pool, nil
}

func (d *PgDirectory) Get(ctx context.Context, userID string) (*usermodel.User, error) {
	var u usermodel.User
	err := d.pool.QueryRow(ctx, pgSelectUser, userID, usermodel.UserClosed).Scan(
		&u.UserID, &u.Nickname, &u.FaceURL, &u.Role, &u.Status,
		&u.NotificationToken, &u.CreateTime, &u.UpdateTime,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound.WrapMsg("user not found")
	}
	if err != nil {
		return nil, wrapPgErr(err, "get user")
	}
	return &u, nil
}

func (d *PgDirectory) Profiles(ctx context.Context, userIDs []string) (map[string]usermodel.Profile, error) {
	ids := dedup(userIDs)
	out := make(map[string]usermodel.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := d.pool.Query(ctx, pgSelectProfiles, ids)
	if err != nil {
		return nil, wrapPgErr(err, "query profiles")
	}
	defer rows.Close()
	for rows.Next() {
		var p usermodel.Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.Avatar); err != nil {
			return nil, wrapPgErr(err, "scan profile")
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPgErr(err, "iterate profiles")
	}
	return out, nil
}

// 连接类错误（08 开头的 SQLSTATE 或者根本没拿到服务端响应）按 Unavailable
func wrapPgErr(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 && pgErr.Code[:2] != "08" {
		return pkgerr.Wrap(errs.ErrInternal.WithDetail(pgErr.Message), op)
	}
	return pkgerr.Wrap(errs.ErrUnavailable.WithDetail(err.Error()), op)
}
