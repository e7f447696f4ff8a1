// Package ledgerlog wraps slog handlers so log lines never leak key
// material and never carry full account addresses. Secrets are redacted
// outright; addresses are shortened to their ends, which is enough to
// correlate lines without making the log a copyable address book.
package ledgerlog

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

const redactedValue = "[REDACTED]"

var (
	secretKeyParts = []string{"mnemonic", "secret", "passphrase", "password", "token", "authorization", "auth"}

	addressKeys = map[string]struct{}{
		"address":   {},
		"owner":     {},
		"maker":     {},
		"taker":     {},
		"buyer":     {},
		"admin":     {},
		"custody":   {},
		"vault":     {},
		"treasury":  {},
		"authority": {},
	}
)

type Handler struct {
	next slog.Handler
}

// Wrap sanitizes everything passing through next.
func Wrap(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &Handler{next: next}
}

// New builds a sanitizing JSON logger at the given level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(Wrap(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(sanitizeAttr(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		out = append(out, sanitizeAttr(attr))
	}
	return &Handler{next: h.next.WithAttrs(out)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{next: h.next.WithGroup(name)}
}

func sanitizeAttr(attr slog.Attr) slog.Attr {
	key := strings.TrimSpace(attr.Key)
	lowerKey := strings.ToLower(key)
	if isSecretKey(lowerKey) {
		return slog.String(key, redactedValue)
	}
	if _, ok := addressKeys[lowerKey]; ok && attr.Value.Kind() == slog.KindString {
		return slog.String(key, ShortenAddress(attr.Value.String()))
	}
	if attr.Value.Kind() == slog.KindGroup {
		group := attr.Value.Group()
		out := make([]any, 0, len(group))
		for _, ga := range group {
			out = append(out, sanitizeAttr(ga))
		}
		return slog.Group(key, out...)
	}
	return attr
}

// ShortenAddress keeps the first and last four characters of an address.
func ShortenAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if len(addr) <= 12 {
		return addr
	}
	return addr[:4] + "…" + addr[len(addr)-4:]
}

func isSecretKey(key string) bool {
	for _, part := range secretKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}
