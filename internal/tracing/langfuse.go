// Package tracing wires Langfuse tracing into the eino callbacks used by the
// answer chain.
package tracing

import (
	"log/slog"
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// Setup registers a global Langfuse callback handler when
// LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY are set, so every chat model
// call of the answer chain is traced. It returns a flush function that must
// be called before process exit; when tracing is off the function is a
// no-op and enabled is false.
func Setup(log *slog.Logger) (flush func(), enabled bool) {
	host := os.Getenv("LANGFUSE_HOST")
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")

	if publicKey == "" || secretKey == "" {
		return func() {}, false
	}
	if host == "" {
		host = "http://localhost:3000"
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
		Name:      "ragctx-ask",
	})
	callbacks.AppendGlobalHandlers(handler)

	log.Info("tracing: langfuse enabled", slog.String("host", host))
	return flusher, true
}
