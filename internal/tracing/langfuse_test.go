package tracing

import (
	"io"
	"log/slog"
	"testing"
)

func TestSetup_DisabledWithoutKeys(t *testing.T) {
	t.Setenv("LANGFUSE_PUBLIC_KEY", "")
	t.Setenv("LANGFUSE_SECRET_KEY", "")

	flush, enabled := Setup(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if enabled {
		t.Error("tracing should be disabled without keys")
	}
	flush()
}
