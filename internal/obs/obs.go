package obs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

type correlationContextKey struct{}

// Correlation carries per-session correlation identifiers.
type Correlation struct {
	SessionID string
	Board     string
	ClientID  string
}

var (
	loggerMu sync.RWMutex
	logger   *slog.Logger
)

// Init configures the global structured logger.
func Init() {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger != nil {
		return
	}
	logger = newLogger(os.Stderr)
	slog.SetDefault(logger)
}

// SetOutputForTests overrides the global logger output for tests.
func SetOutputForTests(w io.Writer) func() {
	loggerMu.Lock()
	prev := logger
	logger = newLogger(w)
	slog.SetDefault(logger)
	loggerMu.Unlock()

	return func() {
		loggerMu.Lock()
		defer loggerMu.Unlock()
		if prev != nil {
			logger = prev
		} else {
			logger = newLogger(os.Stderr)
		}
		slog.SetDefault(logger)
	}
}

func newLogger(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				t, ok := attr.Value.Any().(time.Time)
				if ok {
					return slog.String(slog.TimeKey, t.UTC().Format(time.RFC3339Nano))
				}
			}
			return attr
		},
	})
	return slog.New(handler)
}

func globalLogger() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	Init()
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// Pkg returns a logger tagged with package name.
func Pkg(pkg string) *slog.Logger {
	return globalLogger().With("pkg", pkg)
}

// From returns a logger with correlation fields from context.
func From(ctx context.Context) *slog.Logger {
	l := globalLogger()
	corr := CorrelationFromContext(ctx)
	attrs := correlationAttrs(corr)
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}

// WithSession stores a session id in context, generating one if empty.
func WithSession(ctx context.Context, sessionID string) context.Context {
	corr := CorrelationFromContext(ctx)
	corr.SessionID = strings.TrimSpace(sessionID)
	if corr.SessionID == "" {
		corr.SessionID = newSessionID()
	}
	return context.WithValue(ctx, correlationContextKey{}, corr)
}

// WithCorrelation stores session correlation fields in context.
func WithCorrelation(ctx context.Context, corr Correlation) context.Context {
	existing := CorrelationFromContext(ctx)
	if corr.SessionID != "" {
		existing.SessionID = corr.SessionID
	}
	if corr.Board != "" {
		existing.Board = corr.Board
	}
	if corr.ClientID != "" {
		existing.ClientID = corr.ClientID
	}
	return context.WithValue(ctx, correlationContextKey{}, existing)
}

// CorrelationFromContext returns session correlation fields from context.
func CorrelationFromContext(ctx context.Context) Correlation {
	if ctx == nil {
		return Correlation{}
	}
	corr, ok := ctx.Value(correlationContextKey{}).(Correlation)
	if !ok {
		return Correlation{}
	}
	return corr
}

// SessionIDFromContext returns the session id from context, or "unknown".
func SessionIDFromContext(ctx context.Context) string {
	corr := CorrelationFromContext(ctx)
	if corr.SessionID == "" {
		return "unknown"
	}
	return corr.SessionID
}

func correlationAttrs(corr Correlation) []any {
	attrs := make([]any, 0, 6)
	if corr.SessionID != "" {
		attrs = append(attrs, "session_id", corr.SessionID)
	}
	if corr.Board != "" {
		attrs = append(attrs, "board", corr.Board)
	}
	if corr.ClientID != "" {
		attrs = append(attrs, "client_id", corr.ClientID)
	}
	return attrs
}

func newSessionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "sess-fallback"
	}
	return "sess-" + hex.EncodeToString(buf)
}
