package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/authn"
	"connectrpc.com/connect"
	connectcors "connectrpc.com/cors"
	"connectrpc.com/otelconnect"
	"filippo.io/csrf"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/riskrunner/internal/auth"
	httpmiddleware "github.com/wolfeidau/riskrunner/internal/http"
	"github.com/wolfeidau/riskrunner/internal/jobs"
	"github.com/wolfeidau/riskrunner/internal/logger"
	"github.com/wolfeidau/riskrunner/internal/resolver"
	"github.com/wolfeidau/riskrunner/internal/scoring"
	"github.com/wolfeidau/riskrunner/internal/server"
	postgresstore "github.com/wolfeidau/riskrunner/internal/store/postgres"
	"github.com/wolfeidau/riskrunner/internal/telemetry"
	"github.com/wolfeidau/riskrunner/internal/worker"
	"golang.org/x/sync/errgroup"
)

type ServeCmd struct {
	// Server configuration
	Listen          string        `help:"HTTP server listen address" default:"0.0.0.0:8443" env:"RISKRUNNER_LISTEN"`
	Cert            string        `help:"path to TLS cert file (plain HTTP when unset)" default:"" env:"RISKRUNNER_TLS_CERT"`
	Key             string        `help:"path to TLS key file" default:"" env:"RISKRUNNER_TLS_KEY"`
	ShutdownTimeout time.Duration `help:"how long to wait for in-flight requests on shutdown" default:"30s" env:"RISKRUNNER_SHUTDOWN_TIMEOUT"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"https://localhost" env:"RISKRUNNER_CORS_ORIGINS"`

	// Authentication
	AuthMode     string `help:"how callers are identified: jwt verifies bearer tokens, header trusts gateway headers (development only)" default:"jwt" enum:"jwt,header" env:"RISKRUNNER_AUTH_MODE"`
	JWTPublicKey string `help:"path to the PEM encoded ECDSA public key used to verify tokens" default:"" env:"RISKRUNNER_JWT_PUBLIC_KEY"`

	// Scoring
	ModelFile string `help:"path to a YAML logistic model (built-in coefficients when unset)" default:"" env:"RISKRUNNER_MODEL_FILE"`

	// Observability
	Tracing   bool             `help:"enable tracing and metrics export" default:"false" env:"RISKRUNNER_TRACING"`
	Telemetry telemetry.Config `embed:"" prefix:"otel-"`

	// Store configuration
	StoreType string        `help:"store type (memory or postgres)" default:"memory" env:"RISKRUNNER_STORE_TYPE" enum:"memory,postgres"`
	Postgres  PostgresFlags `embed:"" prefix:"postgres-"`

	Worker  worker.Config       `embed:"" prefix:"worker-"`
	Jobs    jobs.Config         `embed:"" prefix:"jobs-"`
	Scoring scoring.RetryConfig `embed:"" prefix:"scoring-"`
	Access  auth.Policy         `embed:"" prefix:"access-"`
}

func (c *ServeCmd) Run(globals *Globals) error {
	log := globals.setupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	interceptors := []connect.Interceptor{logger.NewConnectRequests(log)}
	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, c.Telemetry, globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
		otelInterceptor, err := otelconnect.NewInterceptor()
		if err != nil {
			return fmt.Errorf("failed to create OTEL interceptor: %w", err)
		}
		interceptors = append(interceptors, otelInterceptor)
	}

	authFunc, err := c.authFunc(log)
	if err != nil {
		return err
	}

	model := scoring.DefaultModel()
	if c.ModelFile != "" {
		if model, err = scoring.LoadModel(c.ModelFile); err != nil {
			return fmt.Errorf("failed to load model: %w", err)
		}
		log.Info().Str("path", c.ModelFile).Msg("Loaded scoring model")
	}
	scorer := scoring.NewRetrying(model, c.Scoring)

	st, err := openStores(ctx, c.StoreType, &c.Postgres)
	if err != nil {
		return err
	}
	defer st.Close()

	res := resolver.New(st.companies, st.organizations)
	exec := worker.NewExecutor(st.jobs, st.batches, st.predictions, res, scorer, c.Worker)
	pool := worker.NewPool(exec, st.jobs, c.Worker)
	svc := jobs.NewService(st.jobs, st.batches, st.predictions, pool, auth.NewEvaluator(c.Access), c.Jobs)

	handler, err := c.httpHandler(log, server.NewServer(svc, res).Handler(interceptors...), authFunc)
	if err != nil {
		return err
	}

	httpServer := configureHTTPServer(c.Listen, handler)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pool.Run(gctx)
	})

	g.Go(func() error {
		return svc.RunRetention(gctx)
	})

	if st.pool != nil && c.Postgres.MonitorInterval > 0 {
		g.Go(func() error {
			postgresstore.MonitorPool(gctx, st.pool, c.Postgres.MonitorInterval)
			return nil
		})
	}

	g.Go(func() error {
		log.Info().Str("addr", c.Listen).Str("auth", c.AuthMode).Bool("tls", c.Cert != "").Msg("Starting HTTP server")

		var err error
		if c.Cert != "" {
			err = httpServer.ListenAndServeTLS(c.Cert, c.Key)
		} else {
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (c *ServeCmd) authFunc(log zerolog.Logger) (authn.AuthFunc, error) {
	switch c.AuthMode {
	case "header":
		log.Warn().Msg("Trusting tenant headers (--auth-mode=header). This should only be used behind an authenticating proxy or in development!")
		return auth.NewHeaderAuthFunc(), nil
	default:
		if c.JWTPublicKey == "" {
			return nil, errors.New("JWT public key is required (--jwt-public-key or RISKRUNNER_JWT_PUBLIC_KEY)")
		}
		keyPEM, err := os.ReadFile(c.JWTPublicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to read JWT public key: %w", err)
		}
		return auth.NewJWTAuthFunc(string(keyPEM))
	}
}

// httpHandler wraps the API with authentication, cross-origin protection and
// request logging. Requests pass through CORS, then CSRF, then auth.
func (c *ServeCmd) httpHandler(log zerolog.Logger, api http.Handler, authFunc authn.AuthFunc) (http.Handler, error) {
	if c.Cert != "" || c.Key != "" {
		if c.Cert == "" || c.Key == "" {
			return nil, errors.New("TLS requires both --cert and --key")
		}
		if _, err := os.Stat(c.Cert); err != nil {
			return nil, fmt.Errorf("TLS certificate not found at %s: %w", c.Cert, err)
		}
		if _, err := os.Stat(c.Key); err != nil {
			return nil, fmt.Errorf("TLS key not found at %s: %w", c.Key, err)
		}
	}

	protection := csrf.New()
	for _, origin := range c.CORSOrigins {
		if err := protection.AddTrustedOrigin(origin); err != nil {
			return nil, fmt.Errorf("invalid CORS origin %q: %w", origin, err)
		}
	}

	handler := authn.NewMiddleware(authFunc).Wrap(api)
	handler = protection.Handler(handler)
	handler = withCORS(c.CORSOrigins, handler)
	handler = httpmiddleware.AccessLog(log)(handler)
	handler = httpmiddleware.ClientIPMiddleware()(handler)
	return handler, nil
}

// withCORS adds CORS support to a Connect HTTP handler.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: connectcors.AllowedMethods(),
		AllowedHeaders: append(connectcors.AllowedHeaders(), "Authorization"),
		ExposedHeaders: connectcors.ExposedHeaders(),
	})
	return middleware.Handler(h)
}
