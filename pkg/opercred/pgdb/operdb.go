// Package pgdb provides an opercred.Store backed by a postgres database.
package pgdb

import (
	"context"
	_ "embed"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"code.kerpass.org/operchal/pkg/opercred"
)

// PGDB is implemented by pgx.Tx, pgx.Conn & pgxpool.Pool
// accessing a postgres database through this common interface simplifies testing
type PGDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type OperStore struct {
	DB PGDB
}

//go:embed oper_schema.sql
var schemaScriptTpl string

// OperStoreMigrate creates the oper table in the dbschema postgres schema.
func OperStoreMigrate(ctx context.Context, conn PGDB, dbschema string) error {
	schemaName := pgx.Identifier{dbschema}.Sanitize()
	schemaScript := strings.ReplaceAll(schemaScriptTpl, "${schema_name}", schemaName)

	_, err := conn.Exec(ctx, schemaScript)

	return wrapError(err, "failed db schema initialization") // nil if err is nil...
}

// NewOperStore returns an OperStore using a connection pool to the dsn database.
// Every pooled connection resolves the oper table in the dbschema postgres schema.
func NewOperStore(ctx context.Context, dsn string, dbschema string) (*OperStore, error) {
	cfg, err := poolConfig(dsn, dbschema)
	if nil != err {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if nil != err {
		return nil, wrapError(err, "failed connection pool creation")
	}

	return &OperStore{DB: pool}, nil
}

// poolConfig parses dsn and sets the search_path runtime parameter of the pool connections.
func poolConfig(dsn string, dbschema string) (*pgxpool.Config, error) {
	if "" == dbschema {
		return nil, newError("empty db schema")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if nil != err {
		return nil, wrapError(err, "invalid dsn")
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = pgx.Identifier{dbschema}.Sanitize() + ", public"

	return cfg, nil
}

// Close releases the OperStore connection pool, if any.
func (self *OperStore) Close() {
	if pool, ok := self.DB.(*pgxpool.Pool); ok {
		pool.Close()
	}
}

// operRow is the oper table layout.
type operRow struct {
	Name          string
	UserHosts     []string
	KeyData       []byte
	RequireSecure bool
	CertFP        string
}

func (self operRow) credential(dst *opercred.OperCredential) error {
	*dst = opercred.OperCredential{
		Name:          self.Name,
		UserHosts:     self.UserHosts,
		RequireSecure: self.RequireSecure,
		CertFP:        self.CertFP,
	}
	return wrapError(dst.Key.UnmarshalBinary(self.KeyData), "invalid key_data for oper %s", self.Name)
}

// ListOper lists the OperCredential in the OperStore.
// It errors if the OperStore is not reachable.
func (self *OperStore) ListOper(ctx context.Context) ([]opercred.OperCredential, error) {
	rows, err := self.DB.Query(
		ctx,
		// columns are renamed to match operRow struct
		`SELECT
		   name as "Name",
		   user_hosts as "UserHosts",
		   key_data as "KeyData",
		   require_secure as "RequireSecure",
		   certfp as "CertFP"
		 FROM
		   oper
		 ORDER BY name
		`,
	)
	if nil != err {
		return nil, wrapError(err, "failed DB.Query")
	}
	operRows, err := pgx.CollectRows(rows, pgx.RowToStructByName[operRow])
	if nil != err {
		return nil, wrapError(err, "failed pgx.CollectRows")
	}

	opers := make([]opercred.OperCredential, len(operRows))
	for pos, row := range operRows {
		err = row.credential(&opers[pos])
		if nil != err {
			return nil, err
		}
	}

	return opers, nil
}

// LoadOper loads the OperCredential named name into dst.
// It errors with opercred.ErrNotFound if there is no such OperCredential.
func (self *OperStore) LoadOper(ctx context.Context, name string, dst *opercred.OperCredential) error {
	rows, err := self.DB.Query(
		ctx,
		`SELECT
		   name as "Name",
		   user_hosts as "UserHosts",
		   key_data as "KeyData",
		   require_secure as "RequireSecure",
		   certfp as "CertFP"
		 FROM
		   oper
		 WHERE
		   name_key = $1
		`,
		strings.ToLower(name),
	)
	if nil != err {
		return wrapError(err, "failed DB.Query")
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[operRow])
	if nil != err {
		if errors.Is(err, pgx.ErrNoRows) {
			return wrapError(opercred.ErrNotFound, "unknown oper %s", name)
		}
		return wrapError(err, "failed loading oper")
	}

	return row.credential(dst)
}

// SaveOper saves cred into the OperStore, replacing any OperCredential with the same Name.
// It errors if cred could not be saved.
func (self *OperStore) SaveOper(ctx context.Context, cred *opercred.OperCredential) error {
	err := cred.Check()
	if nil != err {
		return wrapError(err, "invalid oper")
	}
	keyData, err := cred.Key.MarshalBinary()
	if nil != err {
		return wrapError(err, "failed key encoding")
	}
	_, err = self.DB.Exec(
		ctx,
		`INSERT INTO oper(name, name_key, user_hosts, key_data, require_secure, certfp)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (name_key) DO UPDATE SET
		 name = EXCLUDED.name,
		 user_hosts = EXCLUDED.user_hosts,
		 key_data = EXCLUDED.key_data,
		 require_secure = EXCLUDED.require_secure,
		 certfp = EXCLUDED.certfp,
		 updated_at = now()`,
		cred.Name,
		strings.ToLower(cred.Name),
		cred.UserHosts,
		keyData,
		cred.RequireSecure,
		cred.CertFP,
	)

	return wrapError(err, "failed saving oper") // nil if err is nil...
}

// RemoveOper removes the OperCredential named name from the OperStore.
// It errors if the OperStore is not reachable or if name does not exists.
func (self *OperStore) RemoveOper(ctx context.Context, name string) error {
	var deleted int
	row := self.DB.QueryRow(
		ctx,
		`WITH deleted AS (DELETE FROM oper WHERE name_key = $1 RETURNING id)
		 SELECT count(id) FROM deleted`,
		strings.ToLower(name),
	)
	err := row.Scan(&deleted)
	if nil != err {
		return wrapError(err, "failed DELETE query")
	}
	if 0 == deleted {
		return wrapError(opercred.ErrNotFound, "unknown oper %s", name)
	}

	return nil
}

// OperCount returns the number of OperCredential in the OperStore.
func (self *OperStore) OperCount(ctx context.Context) (int, error) {
	var count int
	err := self.DB.QueryRow(ctx, `SELECT count(*) FROM oper`).Scan(&count)
	return count, wrapError(err, "failed count query") // nil if err is nil
}

var _ opercred.Store = &OperStore{}
