package appointment

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestWhereClause(t *testing.T) {
	doctor := uuid.New()
	exclude := uuid.New()
	from := at(9, 0)
	to := at(10, 0)

	t.Run("empty", func(t *testing.T) {
		where, args := whereClause(Query{})
		if where != "" || len(args) != 0 {
			t.Fatalf("where = %q args = %v", where, args)
		}
	})

	t.Run("starting inside range", func(t *testing.T) {
		where, args := whereClause(Query{DoctorID: &doctor, From: &from, To: &to})
		want := "WHERE doctor_id = $1 AND start_at >= $2 AND start_at < $3"
		if where != want {
			t.Fatalf("where = %q, want %q", where, want)
		}
		if len(args) != 3 || args[0] != doctor {
			t.Fatalf("args = %v", args)
		}
	})

	t.Run("overlapping range", func(t *testing.T) {
		where, args := whereClause(Query{
			DoctorID:    &doctor,
			Statuses:    ActiveStatuses,
			ExcludeID:   &exclude,
			From:        &from,
			To:          &to,
			Overlapping: true,
		})
		want := "WHERE doctor_id = $1 AND status = ANY($2) AND id <> $3 AND start_at < $4 AND end_at > $5"
		if where != want {
			t.Fatalf("where = %q, want %q", where, want)
		}
		statuses, ok := args[1].([]string)
		if !ok || len(statuses) != 3 || statuses[0] != "scheduled" {
			t.Fatalf("status arg = %#v", args[1])
		}
		if got := args[3].(time.Time); !got.Equal(to) {
			t.Fatalf("upper bound = %s", got)
		}
	})
}

func TestMapWriteError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{
			"number taken",
			&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: numberConstraint},
			ErrDuplicateNumber,
		},
		{
			"overlap",
			fmt.Errorf("commit: %w", &pgconn.PgError{Code: pgExclusionViolation, ConstraintName: "appointments_no_overlap"}),
			ErrSlotUnavailable,
		},
		{
			"missing patient",
			&pgconn.PgError{Code: pgForeignKeyViolation, ConstraintName: "appointments_patient_id_fkey"},
			ErrInvalidReference,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := mapWriteError(tc.err); !errors.Is(got, tc.want) {
				t.Fatalf("mapWriteError = %v, want %v", got, tc.want)
			}
		})
	}

	other := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "appointments_pkey"}
	if got := mapWriteError(other); got != error(other) {
		t.Fatalf("unrelated unique violation was remapped: %v", got)
	}
	plain := errors.New("network")
	if got := mapWriteError(plain); got != plain {
		t.Fatalf("plain error was remapped: %v", got)
	}
}
