package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"reelgen/internal/infra"
)

type stubRow struct {
	scan func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

// stubExecutor answers queries keyed by their sqlinline constant.
type stubExecutor struct {
	tags     map[string]pgconn.CommandTag
	execErrs map[string]error
	rows     map[string]func(dest ...any) error
	execLog  []string
	args     map[string][]any
	txCount  int
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{
		tags:     map[string]pgconn.CommandTag{},
		execErrs: map[string]error{},
		rows:     map[string]func(dest ...any) error{},
		args:     map[string][]any{},
	}
}

func (s *stubExecutor) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.execLog = append(s.execLog, query)
	s.args[query] = args
	if err := s.execErrs[query]; err != nil {
		return pgconn.CommandTag{}, err
	}
	return s.tags[query], nil
}

func (s *stubExecutor) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	s.args[query] = args
	return stubRow{scan: s.rows[query]}
}

func (s *stubExecutor) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("query not supported in stub")
}

func (s *stubExecutor) WithTx(_ context.Context, fn func(tx infra.SQLExecutor) error) error {
	s.txCount++
	return fn(s)
}

func scanInto(values ...any) func(dest ...any) error {
	return func(dest ...any) error {
		if len(dest) != len(values) {
			return errors.New("scan arity mismatch")
		}
		for i, v := range values {
			switch d := dest[i].(type) {
			case *bool:
				*d = v.(bool)
			case *int64:
				*d = v.(int64)
			default:
				return errors.New("unsupported scan destination")
			}
		}
		return nil
	}
}
