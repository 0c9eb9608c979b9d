// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

//go:build integration

package auth_test

import (
	"net/http"
	"net/url"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/taskmill/taskmill/internal/auth"
)

const (
	email       = "carol@example.com"
	password    = "Str0ng!Passw0rd"
	newPassword = "N3w!Secure-Pass"
)

func registerAndConfirm() {
	resp := postJSON("/auth/register", map[string]string{
		"email": email, "password": password, "password_confirm": password,
	}, "")
	Expect(resp.status).To(Equal(http.StatusOK), string(resp.body))

	token := env.inbox.latest(auth.NotificationEmailConfirmation, email)
	Expect(token).NotTo(BeEmpty())
	resp = get("/auth/confirm-email", url.Values{"token": {token}})
	Expect(resp.status).To(Equal(http.StatusOK), string(resp.body))
}

var _ = Describe("Auth flows against PostgreSQL", func() {
	BeforeEach(func() {
		env.cleanupDatabase()
	})

	Describe("registration", func() {
		It("rejects login until the email is confirmed", func() {
			resp := postJSON("/auth/register", map[string]string{
				"email": email, "password": password, "password_confirm": password,
			}, "")
			Expect(resp.status).To(Equal(http.StatusOK))

			resp = loginForm(email, password)
			Expect(resp.status).To(Equal(http.StatusBadRequest))
			Expect(resp.errorCode()).To(Equal(auth.CodeEmailNotVerified))
		})

		It("rejects a second registration of the same address in any case", func() {
			registerAndConfirm()

			resp := postJSON("/auth/register", map[string]string{
				"email": "CAROL@example.com", "password": password, "password_confirm": password,
			}, "")
			Expect(resp.status).To(Equal(http.StatusBadRequest))
			Expect(resp.errorCode()).To(Equal(auth.CodeEmailExists))
		})

		It("consumes a confirmation token once", func() {
			registerAndConfirm()

			token := env.inbox.latest(auth.NotificationEmailConfirmation, email)
			resp := get("/auth/confirm-email", url.Values{"token": {token}})
			Expect(resp.status).To(Equal(http.StatusBadRequest))
			Expect(resp.errorCode()).To(Equal(auth.CodeInvalidToken))
		})
	})

	Describe("refresh rotation", func() {
		It("issues a new pair and rejects the consumed refresh token", func() {
			registerAndConfirm()
			first := loginForm(email, password)
			Expect(first.status).To(Equal(http.StatusOK))
			pair := first.pair()
			Expect(pair.TokenType).To(Equal("bearer"))

			rotated := postJSON("/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken}, "")
			Expect(rotated.status).To(Equal(http.StatusOK))
			Expect(rotated.pair().RefreshToken).NotTo(Equal(pair.RefreshToken))

			replay := postJSON("/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken}, "")
			Expect(replay.status).To(Equal(http.StatusUnauthorized))
			Expect(replay.errorCode()).To(Equal(auth.CodeInvalidCredentials))
		})

		It("lets exactly one of two concurrent refreshes succeed", func() {
			registerAndConfirm()
			pair := loginForm(email, password).pair()

			statuses := make([]int, 2)
			var wg sync.WaitGroup
			for i := range statuses {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					statuses[i] = postJSON("/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken}, "").status
				}()
			}
			wg.Wait()

			Expect(statuses).To(ConsistOf(http.StatusOK, http.StatusUnauthorized))
		})
	})

	Describe("logout everywhere", func() {
		It("revokes every refresh token of the user", func() {
			registerAndConfirm()
			phone := loginForm(email, password).pair()
			laptop := loginForm(email, password).pair()

			resp := postJSON("/auth/logout-all", map[string]string{}, laptop.AccessToken)
			Expect(resp.status).To(Equal(http.StatusOK), string(resp.body))

			for _, refresh := range []string{phone.RefreshToken, laptop.RefreshToken} {
				resp := postJSON("/auth/refresh", map[string]string{"refresh_token": refresh}, "")
				Expect(resp.status).To(Equal(http.StatusUnauthorized))
			}

			Expect(loginForm(email, password).status).To(Equal(http.StatusOK))
		})
	})

	Describe("password reset", func() {
		It("replaces the password and revokes existing sessions", func() {
			registerAndConfirm()
			session := loginForm(email, password).pair()

			resp := postJSON("/auth/password-reset/request", map[string]string{"email": email}, "")
			Expect(resp.status).To(Equal(http.StatusOK))
			token := env.inbox.latest(auth.NotificationPasswordReset, email)
			Expect(token).NotTo(BeEmpty())

			resp = postJSON("/auth/password-reset/confirm", map[string]string{
				"token": token, "new_password": newPassword, "confirm_password": newPassword,
			}, "")
			Expect(resp.status).To(Equal(http.StatusOK), string(resp.body))

			Expect(loginForm(email, password).status).To(Equal(http.StatusBadRequest))
			Expect(loginForm(email, newPassword).status).To(Equal(http.StatusOK))

			refresh := postJSON("/auth/refresh", map[string]string{"refresh_token": session.RefreshToken}, "")
			Expect(refresh.status).To(Equal(http.StatusUnauthorized))
		})

		It("answers identically for unknown addresses", func() {
			resp := postJSON("/auth/password-reset/request", map[string]string{"email": "nobody@example.com"}, "")
			Expect(resp.status).To(Equal(http.StatusOK))
			Expect(env.inbox.latest(auth.NotificationPasswordReset, "nobody@example.com")).To(BeEmpty())
		})
	})
})
