package audit

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestSanitiseKey(t *testing.T) {
	t.Parallel()
	cases := []struct{ key, value, want string }{
		{"OPENAI_API_KEY", "sk-abc123", "set"},
		{"LANGFUSE_SECRET_KEY", "lf-secret", "set"},
		{"OPENAI_API_KEY", "", "unset"},
		{"MODEL_PROVIDER", "azure", "azure"},
		{"MODEL_PROVIDER", "", "unset"},
	}
	for _, c := range cases {
		if got := SanitiseKey(c.key, c.value); got != c.want {
			t.Errorf("SanitiseKey(%s, %q) = %q, want %q", c.key, c.value, got, c.want)
		}
	}
}

func TestDisplayPath(t *testing.T) {
	t.Parallel()
	if got := displayPath(""); got != "none" {
		t.Errorf("displayPath(\"\") = %q", got)
	}
	if got := displayPath("/etc/ragctx/config.yaml"); got != "/etc/ragctx/config.yaml" {
		t.Errorf("absolute path = %q", got)
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" || home == "/" {
		return
	}
	if got := displayPath(filepath.Join(home, ".ragctx", "config.yaml")); got != "~/.ragctx/config.yaml" {
		t.Errorf("home path = %q", got)
	}
}

func TestLogContextChange(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	LogContextChange(log, OpRename, "cond_169", "cli", slog.String("to", "cond_170"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	want := map[string]string{
		"msg":     "audit: context change",
		"op":      "rename",
		"context": "cond_169",
		"origin":  "cli",
		"to":      "cond_170",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %q", k, entry[k], v)
		}
	}
}

func TestLogCommandStart_RedactsSecrets(t *testing.T) {
	t.Setenv("RAGCTX_API_KEY", "super-secret")
	t.Setenv("EMBEDDING_PROVIDER", "hash")
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	LogCommandStart(log, "serve", "")

	if bytes.Contains(buf.Bytes(), []byte("super-secret")) {
		t.Fatalf("secret leaked: %s", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["RAGCTX_API_KEY"] != "set" || entry["EMBEDDING_PROVIDER"] != "hash" || entry["config_file"] != "none" {
		t.Errorf("entry = %v", entry)
	}
}
