package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
)

func TestZZDebug(t *testing.T) {
	mock, _ := pgxmock.NewPool()
	client := NewFromPool(mock, &Config{Database: "testdb"})
	pgErr := &pgconn.PgError{Code: uniqueViolationCode, ConstraintName: "k"}
	mock.ExpectExec("INSERT INTO user_identities").WillReturnError(pgErr)
	_, err := client.Exec(context.Background(), "INSERT INTO user_identities VALUES ($1)", "x")
	for e := err; e != nil; e = errors.Unwrap(e) {
		fmt.Printf("chain: %T: %v\n", e, e)
	}
	var p *pgconn.PgError
	fmt.Println("as:", errors.As(err, &p))
}
