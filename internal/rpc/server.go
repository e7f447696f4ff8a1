// Package rpc exposes the ledger programs over JSON-RPC 2.0. One POST
// endpoint carries every method; Prometheus metrics and a liveness probe
// sit beside it on the same listener.
package rpc

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chainvault/go-backend/internal/amm"
	"chainvault/go-backend/internal/arbguard"
	"chainvault/go-backend/internal/config"
	"chainvault/go-backend/internal/escrow"
	"chainvault/go-backend/internal/keyring"
	"chainvault/go-backend/internal/ledger"
	"chainvault/go-backend/internal/marketplace"
	"chainvault/go-backend/internal/platform/ratelimiter"
	"chainvault/go-backend/internal/staking"
	"chainvault/go-backend/internal/vault"
)

// Services bundles every program the server dispatches to.
type Services struct {
	Ledger      *ledger.Ledger
	Vault       *vault.Service
	Escrow      *escrow.Service
	Marketplace *marketplace.Service
	Staking     *staking.Service
	AMM         *amm.Service
	ArbGuard    *arbguard.Service
	Keyring     *keyring.Keyring
}

type Server struct {
	cfg      config.ServerConfig
	services Services
	limiter  *ratelimiter.MapLimiter
	log      *slog.Logger
}

func NewServer(cfg config.ServerConfig, services Services, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		services: services,
		limiter:  ratelimiter.New(cfg.RateRPS, cfg.RateBurst, cfg.RateIdleTTL),
		log:      log,
	}
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve runs the HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("rpc server listening", "addr", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// authorize enforces the bearer token when one is configured.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := bearerToken(r)
	if s.cfg.APIToken == "" {
		return token, true
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIToken)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return token, true
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

func rateLimitKey(r *http.Request, token string) string {
	if strings.TrimSpace(token) != "" {
		return "token:" + token
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return "ip:unknown"
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return "ip:" + remote
	}
	if strings.TrimSpace(host) == "" {
		return "ip:unknown"
	}
	return "ip:" + host
}
