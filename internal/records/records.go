// Package records reads and updates kiosk data owned by backend database.
package records

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/errors"
	"github.com/temoto/penlok/log2"
)

const (
	TrackingSuffixLen = 5
	OTPLen            = 6
)

const (
	sqlTrackingSuffix = `SELECT EXISTS (SELECT 1 FROM package_center_packageentry WHERE RIGHT(tracking_number, 5) = $1)`
	sqlOTP            = `SELECT EXISTS (SELECT 1 FROM marketplace_transaction WHERE otp = $1)`
	sqlUserByFaceID   = `SELECT username, COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(role, ''), face_id::text
FROM users_user WHERE face_id::text = $1 LIMIT 1`
	sqlPending = `SELECT id, locker_number::text, requested_at FROM lockers_lockerrequest
WHERE fulfilled = false AND locker_number::text = ANY($1) ORDER BY requested_at ASC, id ASC LIMIT $2`
	sqlFulfill = `UPDATE lockers_lockerrequest SET fulfilled = true, fulfilled_at = $2 WHERE id = $1 AND fulfilled = false`
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type User struct {
	Username  string
	FirstName string
	LastName  string
	Role      string
	FaceID    string
}

func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Request is pending remote "open locker" row.
type Request struct {
	ID          int64
	Locker      string
	RequestedAt time.Time
}

type Store struct {
	log  *log2.Log
	db   Querier
	pool *pgxpool.Pool
}

// Open creates lazy connection pool, does not touch network.
func Open(ctx context.Context, log *log2.Log, c Config) (*Store, error) {
	pc, err := pgxpool.ParseConfig(c.ConnString())
	if err != nil {
		return nil, errors.Annotate(err, "database config")
	}
	pc.MaxConns = int32(DefaultMaxConns)
	if c.MaxConns > 0 {
		pc.MaxConns = int32(c.MaxConns)
	}
	pc.ConnConfig.ConnectTimeout = c.connectTimeout()
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, errors.Annotate(err, "database pool")
	}
	log.Debugf("database host=%s port=%d user=%s db=%s",
		pc.ConnConfig.Host, pc.ConnConfig.Port, pc.ConnConfig.User, pc.ConnConfig.Database)
	s := New(log, pool)
	s.pool = pool
	return s, nil
}

func New(log *log2.Log, db Querier) *Store {
	return &Store{log: log, db: db}
}

func (self *Store) Close() {
	if self.pool != nil {
		self.pool.Close()
	}
}

func (self *Store) Ping(ctx context.Context) error {
	if self.pool == nil {
		return nil
	}
	return errors.Annotate(self.pool.Ping(ctx), "database ping")
}

func (self *Store) TrackingSuffixExists(ctx context.Context, suffix string) (bool, error) {
	if len(suffix) != TrackingSuffixLen {
		return false, errors.NotValidf("tracking suffix length=%d", len(suffix))
	}
	return self.exists(ctx, "tracking", sqlTrackingSuffix, suffix)
}

func (self *Store) OTPExists(ctx context.Context, otp string) (bool, error) {
	if len(otp) != OTPLen {
		return false, errors.NotValidf("otp length=%d", len(otp))
	}
	return self.exists(ctx, "otp", sqlOTP, otp)
}

func (self *Store) exists(ctx context.Context, tag, sql string, arg string) (bool, error) {
	var ok bool
	if err := self.db.QueryRow(ctx, sql, arg).Scan(&ok); err != nil {
		return false, errors.Annotatef(err, "records %s", tag)
	}
	self.log.Debugf("records %s exists=%t", tag, ok)
	return ok, nil
}

// UserByFaceID returns errors.NotFound when there is no such user.
func (self *Store) UserByFaceID(ctx context.Context, faceID string) (User, error) {
	var u User
	err := self.db.QueryRow(ctx, sqlUserByFaceID, faceID).Scan(&u.Username, &u.FirstName, &u.LastName, &u.Role, &u.FaceID)
	switch {
	case err == nil:
		return u, nil
	case err == pgx.ErrNoRows:
		return User{}, errors.NotFoundf("user face_id=%s", faceID)
	default:
		return User{}, errors.Annotatef(err, "records user face_id=%s", faceID)
	}
}

// PendingRequests returns unfulfilled open requests for given lockers, oldest first.
// Rows for other lockers are left to whoever owns them.
func (self *Store) PendingRequests(ctx context.Context, lockers []string, limit int) ([]Request, error) {
	rows, err := self.db.Query(ctx, sqlPending, lockers, limit)
	if err != nil {
		return nil, errors.Annotate(err, "records pending")
	}
	rs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Request, error) {
		var r Request
		err := row.Scan(&r.ID, &r.Locker, &r.RequestedAt)
		return r, err
	})
	return rs, errors.Annotate(err, "records pending")
}

// MarkFulfilled returns false when request was already fulfilled by someone else.
func (self *Store) MarkFulfilled(ctx context.Context, id int64, at time.Time) (bool, error) {
	var n int64
	err := pgx.BeginFunc(ctx, self.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, sqlFulfill, id, at)
		n = tag.RowsAffected()
		return err
	})
	if err != nil {
		return false, errors.Annotatef(err, "records fulfill id=%d", id)
	}
	return n == 1, nil
}
