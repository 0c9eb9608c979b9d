// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package memory

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/taskmill/taskmill/internal/auth"
)

// UserRepository implements auth.UserRepository on a Store.
type UserRepository struct {
	store *Store
}

var _ auth.UserRepository = (*UserRepository)(nil)

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	var err error
	r.store.do(ctx, func() {
		email := auth.NormalizeEmail(user.Email)
		for _, u := range r.store.users {
			if u.Email == email {
				err = oops.Code("USER_EMAIL_EXISTS").With("email", email).Wrap(auth.ErrAlreadyExists)
				return
			}
		}
		if _, ok := r.store.users[user.ID]; ok {
			err = oops.Code("USER_ID_EXISTS").With("id", user.ID.String()).Wrap(auth.ErrAlreadyExists)
			return
		}
		stored := *user
		stored.Email = email
		r.store.users[user.ID] = stored
	})
	return err
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	var (
		user *auth.User
		err  error
	)
	r.store.do(ctx, func() {
		u, ok := r.store.users[id]
		if !ok {
			err = oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
			return
		}
		user = &u
	})
	return user, err
}

// GetByEmail retrieves a user by email, case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	var (
		user *auth.User
		err  error
	)
	email = auth.NormalizeEmail(email)
	r.store.do(ctx, func() {
		for _, u := range r.store.users {
			if u.Email == email {
				user = &u
				return
			}
		}
		err = oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	})
	return user, err
}

// Activate marks the user's email as confirmed.
func (r *UserRepository) Activate(ctx context.Context, id ulid.ULID) error {
	return r.update(ctx, id, func(u *auth.User) { u.Active = true })
}

// UpdatePassword replaces the password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	return r.update(ctx, id, func(u *auth.User) { u.PasswordHash = passwordHash })
}

// LockForUpdate checks the user exists. The store lock held by every
// transaction already serializes writers.
func (r *UserRepository) LockForUpdate(ctx context.Context, id ulid.ULID) error {
	var err error
	r.store.do(ctx, func() {
		if _, ok := r.store.users[id]; !ok {
			err = oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
		}
	})
	return err
}

func (r *UserRepository) update(ctx context.Context, id ulid.ULID, mutate func(*auth.User)) error {
	var err error
	r.store.do(ctx, func() {
		u, ok := r.store.users[id]
		if !ok {
			err = oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
			return
		}
		mutate(&u)
		u.UpdatedAt = time.Now()
		r.store.users[id] = u
	})
	return err
}
