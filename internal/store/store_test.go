package store

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{
			name: "matching code, no constraint filter",
			err:  &pgconn.PgError{Code: uniqueViolationCode, ConstraintName: "missions_idempotency_key_key"},
			want: true,
		},
		{
			name:       "matching code and constraint",
			err:        &pgconn.PgError{Code: uniqueViolationCode, ConstraintName: "missions_idempotency_key_key"},
			constraint: "missions_idempotency_key_key",
			want:       true,
		},
		{
			name:       "matching code, wrong constraint",
			err:        &pgconn.PgError{Code: uniqueViolationCode, ConstraintName: "other_constraint"},
			constraint: "missions_idempotency_key_key",
			want:       false,
		},
		{
			name: "different code",
			err:  &pgconn.PgError{Code: "23503"},
			want: false,
		},
		{
			name: "not a pg error",
			err:  errors.New("boom"),
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(tt.err, tt.constraint); got != tt.want {
				t.Errorf("IsUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}
