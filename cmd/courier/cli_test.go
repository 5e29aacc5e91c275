package main

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/adamwoolhether/courier/client"
)

type captured struct {
	Method      string
	Path        string
	Query       string
	ContentType string
	UserAgent   string
	Custom      string
	Body        string
}

func newServer(t *testing.T, got *captured, status int, body string) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		*got = captured{
			Method:      r.Method,
			Path:        r.URL.Path,
			Query:       r.URL.RawQuery,
			ContentType: r.Header.Get("Content-Type"),
			UserAgent:   r.Header.Get("User-Agent"),
			Custom:      r.Header.Get("X-Custom"),
			Body:        string(b),
		}
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)

	return ts
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	if args == nil {
		args = []string{}
	}

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := cmd.ExecuteContext(t.Context())
	return stdout.String(), err
}

func TestRootCmd(t *testing.T) {
	testCases := []struct {
		name string
		args []string
		want captured
	}{
		{
			name: "defaults",
			want: captured{Method: http.MethodGet, Path: "/", UserAgent: "courier/1.0"},
		},
		{
			name: "json body with path, query and headers",
			args: []string{
				"-X", "post",
				"--path", "posts",
				"-q", "a=1", "-q", "b=2",
				"-H", "x-custom: yes",
				"--user-agent", "cli-test",
				"--json", "-d", `{"title":"hi"}`,
			},
			want: captured{
				Method:      http.MethodPost,
				Path:        "/posts",
				Query:       "a=1&b=2",
				ContentType: "application/json",
				UserAgent:   "cli-test",
				Custom:      "yes",
				Body:        `{"title":"hi"}`,
			},
		},
		{
			name: "form body",
			args: []string{"-X", "put", "--form", "-d", "b=2&a=1"},
			want: captured{
				Method:      http.MethodPut,
				Path:        "/",
				ContentType: "application/x-www-form-urlencoded",
				UserAgent:   "courier/1.0",
				Body:        "a=1&b=2",
			},
		},
		{
			name: "raw body",
			args: []string{"-X", "post", "-d", "raw bytes", "-H", "Content-Type: text/plain"},
			want: captured{
				Method:      http.MethodPost,
				Path:        "/",
				ContentType: "text/plain",
				UserAgent:   "courier/1.0",
				Body:        "raw bytes",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var got captured
			ts := newServer(t, &got, http.StatusOK, "response body")

			out, err := execute(t, append(tc.args, ts.URL)...)
			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			if out != "response body" {
				t.Errorf("expected body on stdout, got %q", out)
			}

			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("request mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRootCmd_Env(t *testing.T) {
	var got captured
	ts := newServer(t, &got, http.StatusOK, "")

	t.Setenv("COURIER_REQUEST", "delete")
	t.Setenv("COURIER_USER_AGENT", "from-env")

	if _, err := execute(t, ts.URL); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if got.Method != http.MethodDelete || got.UserAgent != "from-env" {
		t.Errorf("expected env settings to apply, got %+v", got)
	}
}

func TestRootCmd_ConfigFile(t *testing.T) {
	var got captured
	ts := newServer(t, &got, http.StatusOK, "")

	cfg := filepath.Join(t.TempDir(), "courier.yaml")
	if err := os.WriteFile(cfg, []byte("request: patch\nuser-agent: from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, "--config", cfg, "--user-agent", "from-flag", ts.URL); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if got.Method != http.MethodPatch {
		t.Errorf("expected method from config file, got %s", got.Method)
	}
	if got.UserAgent != "from-flag" {
		t.Errorf("expected flag to override config file, got %s", got.UserAgent)
	}
}

func TestRootCmd_Expect(t *testing.T) {
	var got captured
	ts := newServer(t, &got, http.StatusNotFound, "missing")

	_, err := execute(t, "--expect", "200", ts.URL)
	if !errors.Is(err, client.ErrUnexpectedStatusCode) {
		t.Errorf("expected ErrUnexpectedStatusCode, got %v", err)
	}
}

func TestRootCmd_ExpectStream(t *testing.T) {
	var got captured
	ts := newServer(t, &got, http.StatusNotFound, "missing")

	out, err := execute(t, "--stream", "--expect", "200", ts.URL)
	if !errors.Is(err, client.ErrUnexpectedStatusCode) {
		t.Errorf("expected ErrUnexpectedStatusCode, got %v", err)
	}
	if out != "" {
		t.Errorf("expected no output for a rejected stream, got %q", out)
	}
}

func TestRootCmd_MaxBuffer(t *testing.T) {
	var got captured
	ts := newServer(t, &got, http.StatusOK, strings.Repeat("x", 1024))

	_, err := execute(t, "--max-buffer", "200", ts.URL)
	if !errors.Is(err, client.ErrBufferLimitExceeded) {
		t.Errorf("expected ErrBufferLimitExceeded, got %v", err)
	}
}

func TestRootCmd_StreamToFile(t *testing.T) {
	var got captured
	ts := newServer(t, &got, http.StatusOK, "streamed to disk")

	dest := filepath.Join(t.TempDir(), "out.txt")
	if _, err := execute(t, "--stream", "-o", dest, ts.URL); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	b, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if string(b) != "streamed to disk" {
		t.Errorf("expected %q, got %q", "streamed to disk", b)
	}
}

func TestRootCmd_InvalidInput(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{name: "missing url"},
		{name: "bad header", args: []string{"-H", "no-colon", "http://example.com"}},
		{name: "bad query", args: []string{"-q", "novalue", "http://example.com"}},
		{name: "bad json", args: []string{"--json", "-d", "{", "http://example.com"}},
		{name: "form and json", args: []string{"--json", "--form", "-d", "a=1", "http://example.com"}},
		{name: "unsupported scheme", args: []string{"ftp://example.com"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := execute(t, tc.args...); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
