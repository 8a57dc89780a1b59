package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/laborportal/app/board"
	"github.com/umputun/laborportal/app/janitor"
	"github.com/umputun/laborportal/app/notify"
	"github.com/umputun/laborportal/app/seed"
	"github.com/umputun/laborportal/app/store"
	"github.com/umputun/laborportal/app/store/kvstore"
	"github.com/umputun/laborportal/app/store/sqlstore"
	"github.com/umputun/laborportal/app/store/supabase"
	"github.com/umputun/laborportal/app/web"
)

var opts struct {
	Store struct {
		Type        string        `long:"type" env:"TYPE" choice:"memory" choice:"badger" choice:"sql" choice:"supabase" default:"badger" description:"storage backend"`
		Path        string        `long:"path" env:"PATH" default:"var/laborportal" description:"badger directory, keeps sessions for supabase too"`
		DSN         string        `long:"dsn" env:"DSN" default:"var/laborportal.db" description:"sql backend, sqlite file or postgres:// url"`
		SupabaseURL string        `long:"supabase-url" env:"SUPABASE_URL" description:"supabase project url"`
		SupabaseKey string        `long:"supabase-key" env:"SUPABASE_KEY" description:"supabase api key"`
		Retries     int           `long:"retries" env:"RETRIES" default:"3" description:"attempts to open the store and call remote apis"`
		RetryDelay  time.Duration `long:"retry-delay" env:"RETRY_DELAY" default:"500ms" description:"initial delay between attempts"`
	} `group:"store" namespace:"store" env-namespace:"LABORPORTAL_STORE"`

	Auth struct {
		Passkey    string        `long:"passkey" env:"PASSKEY" default:"1234" description:"shared laborer passkey"`
		Hasher     string        `long:"hasher" env:"HASHER" choice:"sha256" choice:"bcrypt" default:"sha256" description:"recruiter password digest"`
		BcryptCost int           `long:"bcrypt-cost" env:"BCRYPT_COST" default:"10" description:"bcrypt cost"`
		SessionTTL time.Duration `long:"session-ttl" env:"SESSION_TTL" default:"24h" description:"session lifetime"`
		Secret     string        `long:"secret" env:"SECRET" description:"session token signing key, random if empty"`
		LoginRate  float64       `long:"login-rate" env:"LOGIN_RATE" default:"5" description:"login attempts per second per client, 0 disables"`
	} `group:"auth" namespace:"auth" env-namespace:"LABORPORTAL_AUTH"`

	Web struct {
		Address string `long:"address" env:"ADDRESS" default:":8080" description:"web server listen address"`
		BaseURL string `long:"base-url" env:"BASE_URL" description:"base URL path for reverse proxy (e.g., /jobs)"`
	} `group:"web" namespace:"web" env-namespace:"LABORPORTAL_WEB"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging to file"`
		Filename        string `long:"filename" env:"FILENAME" default:"laborportal.log" description:"file name"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max size in MB"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of backups"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max age in days"`
		EnabledCompress bool   `long:"enabled-compress" env:"ENABLED_COMPRESS" description:"compress rotated files"`
	} `group:"log" namespace:"log" env-namespace:"LABORPORTAL_LOG"`

	Notify struct {
		SMTPHost     string        `long:"smtp-host" env:"SMTP_HOST" description:"SMTP host"`
		SMTPPort     int           `long:"smtp-port" env:"SMTP_PORT" default:"25" description:"SMTP port"`
		SMTPUsername string        `long:"smtp-username" env:"SMTP_USERNAME" description:"SMTP user name"`
		SMTPPassword string        `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
		SMTPTLS      bool          `long:"smtp-tls" env:"SMTP_TLS" description:"enable SMTP TLS"`
		FromEmail    string        `long:"from" env:"FROM" description:"SMTP from email"`
		ToEmails     []string      `long:"to" env:"TO" env-delim:"," description:"SMTP to email(s)"`
		Webhooks     []string      `long:"webhook" env:"WEBHOOK" env-delim:"," description:"webhook url(s)"`
		Template     string        `long:"template" env:"TEMPLATE" description:"message template file"`
		HostName     string        `long:"host" env:"HOSTNAME" description:"host name shown in messages"`
		Timeout      time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"delivery timeout"`
		DeDup        time.Duration `long:"dedup" env:"DEDUP" default:"1h" description:"skip repeated messages about the same job within this window"`
	} `group:"notify" namespace:"notify" env-namespace:"LABORPORTAL_NOTIFY"`

	Janitor struct {
		Schedule string        `long:"schedule" env:"SCHEDULE" default:"@every 10m" description:"expired sessions purge schedule"`
		Timeout  time.Duration `long:"timeout" env:"TIMEOUT" default:"1m" description:"limit of a single purge"`
	} `group:"janitor" namespace:"janitor" env-namespace:"LABORPORTAL_JANITOR"`

	Seed struct {
		Enabled bool   `long:"enabled" env:"ENABLED" description:"add demo jobs to an empty board"`
		File    string `long:"file" env:"FILE" description:"yaml file with jobs, embedded demo set if empty"`
	} `group:"seed" namespace:"seed" env-namespace:"LABORPORTAL_SEED"`

	Dbg bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var revision = "unknown"

func main() {
	fmt.Printf("laborportal %s\n", revision)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Printf("failed to load .env, %v\n", err)
	}
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	setupLogs()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT, SIGTERM and SIGINT

	if err := run(ctx); err != nil {
		log.Printf("[ERROR] %v", err)
		cancel()
		os.Exit(1)
	}
	cancel()
}

// run opens the store, starts background housekeeping and serves the api until ctx is done
func run(ctx context.Context) error {
	st, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", opts.Store.Type, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("[WARN] failed to close store, %v", err)
		}
	}()

	log.Printf("[WARN] the first recruiter login sets the recruiter credential, laborers share a single passkey. " +
		"Expose the board on trusted networks only")
	if opts.Auth.Passkey == board.DefaultPasskey {
		log.Printf("[WARN] default laborer passkey is used, set --auth.passkey")
	}

	bopts := board.Options{Hasher: makeHasher(), Passkey: opts.Auth.Passkey, SessionTTL: opts.Auth.SessionTTL}
	if n := makeNotifier(); n != nil {
		bopts.Notifier = n
	}
	svc := board.New(st, bopts)
	defer svc.WaitNotifications()

	if opts.Seed.Enabled {
		if err := seedJobs(ctx, svc); err != nil {
			return err
		}
	}

	jn := janitor.Janitor{Purger: svc, Schedule: opts.Janitor.Schedule, Timeout: opts.Janitor.Timeout}
	go func() {
		if err := jn.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[WARN] janitor stopped, %v", err)
		}
	}()

	secret := opts.Auth.Secret
	if secret == "" {
		secret = uuid.NewString()
		log.Printf("[WARN] no --auth.secret, sessions will not survive restart")
	}
	srv, err := web.New(web.Config{
		Board:      svc,
		Secret:     secret,
		SessionTTL: opts.Auth.SessionTTL,
		LoginRate:  opts.Auth.LoginRate,
		BaseURL:    validateBaseURL(opts.Web.BaseURL),
		Version:    revision,
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx, opts.Web.Address)
}

// openStore makes the configured store, retrying on failures
func openStore(ctx context.Context) (store.Store, error) {
	rptr := repeater.New(&strategy.Backoff{Repeats: max(opts.Store.Retries, 1), Duration: opts.Store.RetryDelay,
		Factor: 2, Jitter: true})
	var res store.Store
	err := rptr.Do(ctx, func() error {
		st, err := makeStore(ctx)
		if err != nil {
			log.Printf("[WARN] can't open %s store, %v", opts.Store.Type, err)
			return err
		}
		res = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] using %s store", opts.Store.Type)
	return res, nil
}

func makeStore(ctx context.Context) (store.Store, error) {
	switch opts.Store.Type {
	case "memory":
		return kvstore.New(kvstore.NewMemory()), nil
	case "badger":
		kv, err := kvstore.NewBadger(opts.Store.Path)
		if err != nil {
			return nil, err
		}
		return kvstore.New(kv), nil
	case "sql":
		return sqlstore.New(ctx, opts.Store.DSN)
	case "supabase":
		kv, err := kvstore.NewBadger(opts.Store.Path)
		if err != nil {
			return nil, err
		}
		st, err := supabase.New(opts.Store.SupabaseURL, opts.Store.SupabaseKey, supabase.Opts{
			Sessions: kvstore.New(kv), Retries: opts.Store.Retries, RetryDelay: opts.Store.RetryDelay})
		if err != nil {
			_ = kv.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store type %q", opts.Store.Type)
	}
}

func makeHasher() board.Hasher {
	if opts.Auth.Hasher == "bcrypt" {
		return board.BcryptHasher{Cost: opts.Auth.BcryptCost}
	}
	return board.SHA256Hasher{}
}

// makeNotifier returns nil if no destinations configured
func makeNotifier() *notify.Service {
	if len(opts.Notify.ToEmails) == 0 && len(opts.Notify.Webhooks) == 0 {
		return nil
	}
	if opts.Notify.FromEmail == "" {
		opts.Notify.FromEmail = "laborportal@" + makeHostName()
	}
	return notify.NewService(notify.Params{Template: opts.Notify.Template, Host: makeHostName(),
		Timeout: opts.Notify.Timeout, DeDup: opts.Notify.DeDup},
		notify.SendersParams{
			SMTPHost:     opts.Notify.SMTPHost,
			SMTPPort:     opts.Notify.SMTPPort,
			SMTPTLS:      opts.Notify.SMTPTLS,
			SMTPUsername: opts.Notify.SMTPUsername,
			SMTPPassword: opts.Notify.SMTPPassword,
			FromEmail:    opts.Notify.FromEmail,
			ToEmails:     opts.Notify.ToEmails,
			Webhooks:     opts.Notify.Webhooks,
		})
}

// seedJobs adds demo jobs to an empty board, the seeder logs how many were added
func seedJobs(ctx context.Context, svc *board.Service) error {
	seeder := seed.Seeder{Board: svc, File: opts.Seed.File}
	if _, err := seeder.Seed(ctx); err != nil {
		return fmt.Errorf("failed to seed jobs: %w", err)
	}
	return nil
}

func makeHostName() string {
	if opts.Notify.HostName != "" {
		return opts.Notify.HostName
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

// validateBaseURL drops the trailing slash, root is the same as no base URL
func validateBaseURL(u string) string {
	return strings.TrimRight(u, "/")
}

// setupLogs configures lgr and returns the writer it logs to
func setupLogs() io.Writer {
	out := io.Writer(os.Stdout)
	if opts.Log.Enabled {
		out = &lumberjack.Logger{
			Filename:   opts.Log.Filename,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			MaxAge:     opts.Log.MaxAge,
			Compress:   opts.Log.EnabledCompress,
		}
	}

	if opts.Dbg {
		log.Setup(log.Out(out), log.Err(out), log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile)
		return out
	}
	log.Setup(log.Out(out), log.Err(out), log.Msec)
	return out
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			log.Printf("[INFO] %s received, shutting down", sig)
			cancel()
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
}
