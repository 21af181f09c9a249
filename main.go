package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/braintree/manners"
	"github.com/common-nighthawk/go-figure"
	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rorycl/xeroinvoiceserver/gateway"
	"github.com/rorycl/xeroinvoiceserver/metrics"
	"github.com/rorycl/xeroinvoiceserver/randstring"
	"github.com/rorycl/xeroinvoiceserver/server"
	"github.com/rorycl/xeroinvoiceserver/session"
	"github.com/rorycl/xeroinvoiceserver/token"
	"github.com/rorycl/xeroinvoiceserver/users"
	"github.com/rorycl/xeroinvoiceserver/webhook"
	"github.com/rorycl/xeroinvoiceserver/xero"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const description = "Xero invoice server"
const version = "0.2.0 October 2026"
const usage = " <options>" + "\n\n  " + description

// Opts are the command line options; each may also be set in the
// environment or a .env file
type Opts struct {
	ClientID       string        `long:"client-id" env:"CLIENT_ID" description:"xero app client id"`
	ClientSecret   string        `long:"client-secret" env:"CLIENT_SECRET" description:"xero app client secret"`
	Redirect       string        `short:"r" long:"redirect" env:"REDIRECT_URI" description:"oauth2 redirect address, ending /callback"`
	Port           string        `short:"p" long:"port" env:"PORT" description:"port to run on" default:"5001"`
	Addr           string        `short:"n" long:"address" env:"ADDRESS" description:"network address to run on" default:"127.0.0.1"`
	Scopes         []string      `short:"o" long:"scopes" env:"SCOPES" env-delim:" " description:"oauth2 scopes (default all accounting scopes)"`
	SessionSecret  string        `long:"session-secret" env:"SESSION_SECRET" description:"session cookie signing key (default random, sessions do not survive restarts)"`
	SecureCookie   bool          `long:"secure-cookie" env:"SECURE_COOKIE" description:"only send the session cookie over https"`
	LandingURL     string        `long:"landing" env:"LANDING_URL" description:"where to redirect after connecting to xero" default:"/status"`
	WebhookKey     string        `long:"webhook-key" env:"WEBHOOK_KEY" description:"xero webhook signing key (webhooks disabled if empty)"`
	UserStore      string        `long:"user-store" env:"USER_STORE" description:"local accounts json file (accounts disabled if empty and no redis)"`
	RedisAddr      string        `long:"redis" env:"REDIS_ADDR" description:"redis address for sessions and accounts (default in memory and file)"`
	VerifyIDToken  bool          `long:"verify-id-token" env:"VERIFY_ID_TOKEN" description:"verify identity tokens against the xero issuer keys"`
	Timeout        time.Duration `short:"t" long:"timeout" env:"UPSTREAM_TIMEOUT" description:"timeout of each xero call" default:"10s"`
	AllowedOrigins []string      `long:"origin" env:"ALLOWED_ORIGINS" env-delim:"," description:"CORS origins of browser front ends"`
	LogLevel       string        `long:"log-level" env:"LOG_LEVEL" description:"log level" default:"info"`
	LogFormat      string        `long:"log-format" env:"LOG_FORMAT" description:"log format" choice:"console" choice:"json" default:"console"`
}

func main() {

	// a missing .env file is fine
	_ = godotenv.Load()

	var options Opts
	var parser = flags.NewParser(&options, flags.Default)
	parser.Usage = fmt.Sprintf("%s : %s", usage, version)

	if _, err := parser.Parse(); err != nil {
		flagError := err.(*flags.Error)
		if flagError.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stdout)
		}
		os.Exit(1)
	}

	setupLogging(options.LogLevel, options.LogFormat)

	if options.ClientID == "" || options.ClientSecret == "" || options.Redirect == "" {
		log.Fatal().Msg("CLIENT_ID, CLIENT_SECRET and REDIRECT_URI must be set")
	}

	banner := figure.NewFigure("xero invoices", "cybermedium", true)
	banner.Print()
	fmt.Println()

	ctx := context.Background()
	m := metrics.New()

	scopes := options.Scopes
	if len(scopes) == 0 {
		scopes = token.DefaultScopes
	}
	tokenOptions := token.Options{
		ClientID:     options.ClientID,
		ClientSecret: options.ClientSecret,
		RedirectURL:  options.Redirect,
		Scopes:       scopes,
		Timeout:      options.Timeout,
	}
	if options.VerifyIDToken {
		v, err := token.NewOIDCVerifier(ctx, token.XeroIssuer, options.ClientID, nil)
		if err != nil {
			log.Fatal().Err(err).Msg("could not load the xero identity keys")
		}
		tokenOptions.Verifier = v
	}
	oauth, err := token.NewClient(tokenOptions)
	if err != nil {
		log.Fatal().Err(err).Msg("oauth client error")
	}

	var sessionStore session.Store
	var userStore users.Store
	if options.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: options.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", options.RedisAddr).Msg("redis unreachable")
		}
		sessionStore = session.NewRedisStore(rdb, "", session.DefaultTTL)
		userStore = users.NewRedisStore(rdb, "")
		log.Info().Str("addr", options.RedisAddr).Msg("using redis for sessions and accounts")
	} else {
		sessionStore = session.NewMemoryStore(session.DefaultTTL)
		if options.UserStore != "" {
			userStore = users.NewFileStore(options.UserStore)
		}
	}

	managerOpts := []session.Option{session.WithMetrics(m)}
	var userService *users.Service
	if userStore != nil {
		userService = users.NewService(userStore)
		managerOpts = append(managerOpts, session.WithTokenSaver(userService))
	}

	secret := options.SessionSecret
	if secret == "" {
		secret = randstring.RandString(48)
		log.Warn().Msg("no SESSION_SECRET set, sessions will not survive a restart")
	}

	var hook *webhook.Handler
	if options.WebhookKey != "" {
		hook = webhook.NewHandler(options.WebhookKey, m)
	}

	api := xero.NewClient(xero.WithTimeout(options.Timeout), xero.WithMetrics(m))

	srv := server.New(server.Config{
		Sessions:       session.NewManager(oauth, sessionStore, managerOpts...),
		Cookies:        session.NewCookies(secret, options.SecureCookie),
		Gateway:        gateway.New(api),
		Users:          userService,
		Webhook:        hook,
		Metrics:        m,
		LandingURL:     options.LandingURL,
		AllowedOrigins: options.AllowedOrigins,
	})

	// configure server options; writes allow for retried xero calls
	httpServer := &http.Server{
		Addr:         options.Addr + ":" + options.Port,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 4*options.Timeout + 5*time.Second,
		Handler:      srv.Handler(os.Stdout),
	}
	graceful := manners.NewWithServer(httpServer)

	// catch signals
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go listenForShutdown(ch, graceful)

	log.Info().Str("address", httpServer.Addr).Str("redirect", options.Redirect).Msg("serving")
	// returns once Close has drained in-flight requests
	if err := graceful.ListenAndServe(); err != nil {
		log.Error().Err(err).Msg("server stopped")
		return
	}
	log.Info().Msg("server stopped")
}

func setupLogging(level, format string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func listenForShutdown(ch <-chan os.Signal, graceful *manners.GracefulServer) {
	<-ch
	log.Info().Msg("closing the server")
	graceful.Close()
}
