package errors

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Database drivers Dump knows how to unpack.
const (
	DumpDriverPGX   = "pgx"
	DumpDriverPQ    = "pq"
	DumpDriverMySQL = "mysql"
)

// ErrorDump is the log-only view of an error: the coded top, the wrap chain
// and whatever the database driver reported. Never serialize it to clients.
type ErrorDump struct {
	TopMessage string `json:"top_message"`
	Code       Code   `json:"code,omitempty"`

	Chain []string `json:"chain,omitempty"`

	DBDriver string `json:"db_driver,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGColumn     string `json:"pg_column,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
	PGMessage    string `json:"pg_message,omitempty"`

	MySQLNumber   uint16 `json:"mysql_number,omitempty"`
	MySQLSQLState string `json:"mysql_sql_state,omitempty"`
	MySQLMessage  string `json:"mysql_message,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	if !d.fromPGX(err) && !d.fromPQ(err) {
		d.fromMySQL(err)
	}
	return d
}

func (d *ErrorDump) fromPGX(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	d.DBDriver = DumpDriverPGX
	d.PGCode = pgErr.Code
	d.PGConstraint = pgErr.ConstraintName
	d.PGTable = pgErr.TableName
	d.PGColumn = pgErr.ColumnName
	d.PGDetail = pgErr.Detail
	d.PGMessage = pgErr.Message
	return true
}

func (d *ErrorDump) fromPQ(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	d.DBDriver = DumpDriverPQ
	d.PGCode = string(pqErr.Code)
	d.PGConstraint = pqErr.Constraint
	d.PGTable = pqErr.Table
	d.PGColumn = pqErr.Column
	d.PGDetail = pqErr.Detail
	d.PGMessage = pqErr.Message
	return true
}

// fromMySQL covers the historical MySQL backend, e.g. 1062 on a duplicate
// backup row.
func (d *ErrorDump) fromMySQL(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	d.DBDriver = DumpDriverMySQL
	d.MySQLNumber = myErr.Number
	if myErr.SQLState != [5]byte{} {
		d.MySQLSQLState = string(myErr.SQLState[:])
	}
	d.MySQLMessage = myErr.Message
	return true
}
