// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"

	"github.com/taskmill/taskmill/pkg/errutil"
)

func TestTransactor(t *testing.T) {
	ctx := context.Background()
	id := ulid.Make()

	t.Run("commits and routes repository calls through the transaction", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE users SET is_active`).WithArgs(id.String()).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		users := NewUserRepository(mock)
		err := NewTransactor(mock).InTransaction(ctx, func(ctx context.Context) error {
			return users.Activate(ctx, id)
		})
		assert.NoError(t, err)
	})

	t.Run("rolls back on error", func(t *testing.T) {
		mock := newMock(t)
		boom := errors.New("boom")
		mock.ExpectBegin()
		mock.ExpectRollback()

		err := NewTransactor(mock).InTransaction(ctx, func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("nested call joins the outer transaction", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectCommit()

		tx := NewTransactor(mock)
		err := tx.InTransaction(ctx, func(ctx context.Context) error {
			return tx.InTransaction(ctx, func(context.Context) error { return nil })
		})
		assert.NoError(t, err)
	})

	t.Run("begin failure", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		err := NewTransactor(mock).InTransaction(ctx, func(context.Context) error { return nil })
		errutil.AssertErrorCode(t, err, "TX_BEGIN_FAILED")
	})

	t.Run("commit failure", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

		err := NewTransactor(mock).InTransaction(ctx, func(context.Context) error { return nil })
		errutil.AssertErrorCode(t, err, "TX_COMMIT_FAILED")
	})
}
