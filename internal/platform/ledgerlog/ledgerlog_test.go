package ledgerlog

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func logLine(t *testing.T, fn func(*slog.Logger)) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	fn(New(&buf, slog.LevelDebug))
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("log line is not json: %v (%q)", err, buf.String())
	}
	return out
}

func TestSecretsAreRedacted(t *testing.T) {
	out := logLine(t, func(l *slog.Logger) {
		l.Info("wallet imported", "mnemonic", "abandon abandon ability", "api_token", "tok_123")
	})
	if out["mnemonic"] != redactedValue {
		t.Fatalf("mnemonic = %v, want redacted", out["mnemonic"])
	}
	if out["api_token"] != redactedValue {
		t.Fatalf("api_token = %v, want redacted", out["api_token"])
	}
}

func TestAddressesAreShortened(t *testing.T) {
	addr := "5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp7uCMZ9VLcy1x"
	out := logLine(t, func(l *slog.Logger) {
		l.Info("escrow opened", "maker", addr, "amount", 100)
	})
	got, _ := out["maker"].(string)
	if got == addr {
		t.Fatal("full address leaked into the log")
	}
	if !strings.HasPrefix(got, addr[:4]) || !strings.HasSuffix(got, addr[len(addr)-4:]) {
		t.Fatalf("maker = %q, want shortened ends of %q", got, addr)
	}
	if out["amount"].(float64) != 100 {
		t.Fatalf("amount = %v, want passthrough 100", out["amount"])
	}
}

func TestGroupsAreSanitizedRecursively(t *testing.T) {
	out := logLine(t, func(l *slog.Logger) {
		l.Info("request", slog.Group("request_ctx", slog.String("passphrase", "hunter2"), slog.String("method", "escrow.make")))
	})
	group, ok := out["request_ctx"].(map[string]any)
	if !ok {
		t.Fatalf("request_ctx missing: %v", out)
	}
	if group["passphrase"] != redactedValue {
		t.Fatalf("nested passphrase = %v, want redacted", group["passphrase"])
	}
	if group["method"] != "escrow.make" {
		t.Fatalf("method = %v, want passthrough", group["method"])
	}
}

func TestShortenAddress(t *testing.T) {
	if got := ShortenAddress("short"); got != "short" {
		t.Fatalf("short input changed: %q", got)
	}
	if got := ShortenAddress("abcdefghijklmnop"); got != "abcd…mnop" {
		t.Fatalf("got %q, want abcd…mnop", got)
	}
}
