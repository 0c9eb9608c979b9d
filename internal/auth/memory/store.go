// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package memory

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/taskmill/taskmill/internal/auth"
)

type txKey struct{}

// Store holds users and tokens in memory. The zero value is not usable; use
// New.
type Store struct {
	mu     sync.Mutex
	users  map[ulid.ULID]auth.User
	tokens map[ulid.ULID]auth.Token
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		users:  make(map[ulid.ULID]auth.User),
		tokens: make(map[ulid.ULID]auth.Token),
	}
}

// Users returns the user repository backed by this store.
func (s *Store) Users() *UserRepository {
	return &UserRepository{store: s}
}

// Tokens returns the token repository backed by this store.
func (s *Store) Tokens() *TokenRepository {
	return &TokenRepository{store: s}
}

// InTransaction runs fn holding the store lock. Calls nested inside an
// active transaction of the same store join it.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users := make(map[ulid.ULID]auth.User, len(s.users))
	for k, v := range s.users {
		users[k] = v
	}
	tokens := make(map[ulid.ULID]auth.Token, len(s.tokens))
	for k, v := range s.tokens {
		tokens[k] = v
	}

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.users = users
		s.tokens = tokens
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, ok := ctx.Value(txKey{}).(*Store)
	return ok && owner == s
}

// do runs fn with the lock held, unless ctx already belongs to a transaction
// holding it.
func (s *Store) do(ctx context.Context, fn func()) {
	if s.inTx(ctx) {
		fn()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// Len reports the number of stored users and tokens.
func (s *Store) Len() (users, tokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users), len(s.tokens)
}

var _ auth.Transactor = (*Store)(nil)
