// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

//go:build integration

package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/taskmill/taskmill/internal/auth"
	authpg "github.com/taskmill/taskmill/internal/auth/postgres"
	"github.com/taskmill/taskmill/internal/httpapi"
	"github.com/taskmill/taskmill/internal/store"
)

func TestAuth(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Auth Integration Suite")
}

// inbox records every notification the engine sends.
type inbox struct {
	mu   sync.Mutex
	sent []auth.Notification
}

func (b *inbox) Notify(_ context.Context, n auth.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, n)
	return nil
}

// latest returns the token of the newest notification of kind for recipient.
func (b *inbox) latest(kind auth.NotificationKind, recipient string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.sent) - 1; i >= 0; i-- {
		if b.sent[i].Kind == kind && b.sent[i].Recipient == recipient {
			return b.sent[i].Token
		}
	}
	return ""
}

// testEnv holds all resources needed for auth integration tests.
type testEnv struct {
	ctx       context.Context
	container testcontainers.Container
	pool      *pgxpool.Pool
	server    *httptest.Server
	inbox     *inbox
}

var env *testEnv

var _ = BeforeSuite(func() {
	var err error
	env, err = setupAuthTestEnv()
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if env != nil {
		env.cleanup()
	}
})

func setupAuthTestEnv() (*testEnv, error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("taskmill_test"),
		postgres.WithUsername("taskmill"),
		postgres.WithPassword("taskmill"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		_ = container.Terminate(ctx)
		return nil, err
	}
	_ = migrator.Close()

	pool, err := store.Connect(ctx, connStr, store.DefaultPoolConfig(), nil)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	cfg := auth.DefaultConfig()
	cfg.SigningSecret = []byte(strings.Repeat("i", auth.MinSigningSecretLength))
	box := &inbox{}
	svc, err := auth.NewService(cfg, auth.Deps{
		Users:      authpg.NewUserRepository(pool),
		Tokens:     authpg.NewTokenRepository(pool),
		Transactor: authpg.NewTransactor(pool),
		Hasher: auth.NewArgon2idHasherWithParams(auth.Argon2Params{
			Time: 1, Memory: 8 * 1024, Threads: 1, SaltLen: 16, KeyLen: 32,
		}),
		Notifier: box,
	})
	if err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &testEnv{
		ctx:       ctx,
		container: container,
		pool:      pool,
		server:    httptest.NewServer(httpapi.New(svc).Handler()),
		inbox:     box,
	}, nil
}

func (e *testEnv) cleanup() {
	e.server.Close()
	e.pool.Close()
	_ = e.container.Terminate(e.ctx)
}

func (e *testEnv) cleanupDatabase() {
	_, err := e.pool.Exec(e.ctx, `TRUNCATE auth_tokens, users CASCADE`)
	Expect(err).NotTo(HaveOccurred())
}

// response is a decoded HTTP reply.
type response struct {
	status int
	body   []byte
}

func (r response) pair() httpapi.TokenPairResponse {
	var p httpapi.TokenPairResponse
	Expect(json.Unmarshal(r.body, &p)).To(Succeed(), string(r.body))
	return p
}

func (r response) errorCode() string {
	var e httpapi.ErrorResponse
	Expect(json.Unmarshal(r.body, &e)).To(Succeed(), string(r.body))
	return e.Detail.Code
}

func do(req *http.Request) response {
	resp, err := env.server.Client().Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return response{status: resp.StatusCode, body: body}
}

func postJSON(path string, body any, bearer string) response {
	data, err := json.Marshal(body)
	Expect(err).NotTo(HaveOccurred())
	req, err := http.NewRequestWithContext(env.ctx, http.MethodPost, env.server.URL+path, bytes.NewReader(data))
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return do(req)
}

func get(path string, query url.Values) response {
	req, err := http.NewRequestWithContext(env.ctx, http.MethodGet, env.server.URL+path+"?"+query.Encode(), nil)
	Expect(err).NotTo(HaveOccurred())
	return do(req)
}

func loginForm(email, password string) response {
	form := url.Values{"username": {email}, "password": {password}}
	req, err := http.NewRequestWithContext(env.ctx, http.MethodPost, env.server.URL+"/auth/login",
		strings.NewReader(form.Encode()))
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return do(req)
}
