// Package main provides a CI-friendly smoke test for a running Warden server.
//
// It validates:
//   - health and readiness probes
//   - register returns the new user
//   - duplicate register is a conflict
//   - login issues a bearer token (skipped with -skip-login)
//   - /users/me resolves the token to the same user
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	base    string
	http    *http.Client
	timeout time.Duration
	verbose bool
}

type userBody struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func main() {
	var (
		baseURL   = flag.String("url", "http://127.0.0.1:8080", "Warden base URL")
		password  = flag.String("password", "smoke-test-password-1", "Password for the throwaway user")
		skipLogin = flag.Bool("skip-login", false, "Stop after registration (for servers requiring verified email)")
		timeout   = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose   = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	c := &smokeClient{
		base:    strings.TrimRight(*baseURL, "/"),
		http:    &http.Client{},
		timeout: *timeout,
		verbose: *verbose,
	}
	root := context.Background()

	c.mustStatus(root, http.MethodGet, "/healthz", "", nil, http.StatusOK, nil)
	c.mustStatus(root, http.MethodGet, "/readyz", "", nil, http.StatusOK, nil)

	email := fmt.Sprintf("smoke-%d@example.com", time.Now().UnixNano())
	creds := map[string]string{"email": email, "password": *password}

	var reg struct {
		User userBody `json:"user"`
	}
	c.mustStatus(root, http.MethodPost, "/auth/register", "", creds, http.StatusCreated, &reg)
	if reg.User.ID == "" || reg.User.Email != email {
		fatalf("register: unexpected user %+v", reg.User)
	}

	c.mustStatus(root, http.MethodPost, "/auth/register", "", creds, http.StatusConflict, nil)

	if *skipLogin {
		fmt.Printf("OK: user_id=%s email=%s (login skipped)\n", reg.User.ID, email)
		return
	}

	var login struct {
		User        userBody `json:"user"`
		AccessToken string   `json:"access_token"`
		TokenType   string   `json:"token_type"`
	}
	c.mustStatus(root, http.MethodPost, "/auth/login", "", creds, http.StatusOK, &login)
	if login.AccessToken == "" || !strings.EqualFold(login.TokenType, "bearer") {
		fatalf("login: missing bearer token (type=%q)", login.TokenType)
	}

	c.mustStatus(root, http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": *password + "x"}, http.StatusUnauthorized, nil)

	var me struct {
		User userBody `json:"user"`
	}
	c.mustStatus(root, http.MethodGet, "/users/me", login.AccessToken, nil, http.StatusOK, &me)
	if me.User.ID != reg.User.ID {
		fatalf("me: id mismatch: got=%q want=%q", me.User.ID, reg.User.ID)
	}
	c.mustStatus(root, http.MethodGet, "/users/me", "", nil, http.StatusUnauthorized, nil)

	fmt.Printf("OK: user_id=%s email=%s\n", reg.User.ID, email)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func (c *smokeClient) mustStatus(parent context.Context, method, path, bearer string, in any, want int, out any) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			fatalf("%s %s: marshal: %v", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		fatalf("%s %s: new request: %v", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("%s %s: read body: %v", method, path, err)
	}
	if c.verbose {
		fmt.Printf("%s %s -> %d %s\n", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode != want {
		fatalf("%s %s: status=%d want=%d body=%s", method, path, resp.StatusCode, want, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "smoke: "+format+"\n", args...)
	os.Exit(1)
}
