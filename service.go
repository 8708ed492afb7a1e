package wipeproof

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ajazfarhad/wipeproof/artifact"
	"github.com/ajazfarhad/wipeproof/certificate"
	"github.com/ajazfarhad/wipeproof/config"
	"github.com/ajazfarhad/wipeproof/eraser"
	"github.com/ajazfarhad/wipeproof/keystore"
	"github.com/ajazfarhad/wipeproof/ledger"
	"github.com/ajazfarhad/wipeproof/ledger/file"
	"github.com/ajazfarhad/wipeproof/ledger/memory"
	"github.com/ajazfarhad/wipeproof/ledger/postgres"
	"github.com/ajazfarhad/wipeproof/ledger/sqlite"
	"github.com/ajazfarhad/wipeproof/session"
	"github.com/ajazfarhad/wipeproof/verify"
)

// System is every component wired from one Config.
type System struct {
	Config       *config.Config
	Keys         *keystore.Store
	Anchor       *ledger.Anchor
	Signer       *certificate.Signer
	Table        eraser.Table
	Eraser       eraser.Eraser
	Sink         artifact.Sink
	Orchestrator *session.Orchestrator
	Verifier     *verify.Verifier

	closers []io.Closer
}

type Option func(*options)

type options struct {
	now       func() time.Time
	sanitizer Sanitizer
	eraser    eraser.Eraser
	sinks     []artifact.Sink
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithSanitizer(s Sanitizer) Option {
	return func(o *options) {
		if s != nil {
			o.sanitizer = s
		}
	}
}

// WithEraser replaces the table-driven subprocess eraser.
func WithEraser(e eraser.Eraser) Option {
	return func(o *options) { o.eraser = e }
}

// WithMirror adds a best-effort artifact mirror.
func WithMirror(s artifact.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s) }
}

// Open builds a System. Close releases its ledger connection.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*System, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{now: time.Now, sanitizer: session.NoopSanitizer{}}
	for _, opt := range opts {
		opt(&o)
	}

	sys := &System{Config: cfg}

	idFunc, err := ledger.IDScheme(cfg.Ledger.IDScheme)
	if err != nil {
		return nil, err
	}
	store, err := sys.openLedger(ctx, logger)
	if err != nil {
		return nil, err
	}
	sys.Anchor = ledger.NewAnchor(store,
		ledger.WithIDFunc(idFunc),
		ledger.WithClock(o.now),
		ledger.WithLogger(logger.With("component", "ledger")))

	sys.Keys = keystore.Open(cfg.KeyFile, keystore.WithLogger(logger.With("component", "keystore")))
	sys.Signer = certificate.NewSigner(sys.Keys)
	sys.Verifier = verify.New(sys.Anchor)

	sys.Table = eraser.DefaultTable()
	if cfg.Eraser.TableFile != "" {
		if sys.Table, err = eraser.LoadTable(cfg.Eraser.TableFile); err != nil {
			sys.Close()
			return nil, fmt.Errorf("load method table: %w", err)
		}
	}
	sys.Eraser = o.eraser
	if sys.Eraser == nil {
		ex := eraser.NewExec(sys.Table)
		ex.Logger = logger.With("component", "eraser")
		if cfg.Eraser.KillTimeout > 0 {
			ex.KillTimeout = cfg.Eraser.KillTimeout
		}
		sys.Eraser = ex
	}

	if sys.Sink, err = sys.openSinks(ctx, logger, o.sinks); err != nil {
		sys.Close()
		return nil, err
	}

	sys.Orchestrator = session.New(session.Deps{
		Eraser: sys.Eraser,
		Anchor: sys.Anchor,
		Signer: sys.Signer,
		Sink:   sys.Sink,
	},
		session.WithClock(o.now),
		session.WithLogger(logger.With("component", "session")),
		session.WithSampleCount(cfg.Sampling.Count),
		session.WithSanitizer(o.sanitizer),
	)
	return sys, nil
}

func (s *System) openLedger(ctx context.Context, logger *slog.Logger) (ledger.Store, error) {
	lc := s.Config.Ledger
	switch lc.Backend {
	case "memory":
		return memory.New(), nil
	case "", "file":
		return file.Open(lc.Path, file.WithLogger(logger.With("component", "ledger-file")))
	case "sqlite":
		st, err := sqlite.Open(ctx, lc.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		s.closers = append(s.closers, st)
		return st, nil
	case "postgres":
		st, err := postgres.Open(ctx, lc.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		s.closers = append(s.closers, st)
		return st, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", lc.Backend)
	}
}

func (s *System) openSinks(ctx context.Context, logger *slog.Logger, extra []artifact.Sink) (artifact.Sink, error) {
	dir, err := artifact.NewDir(s.Config.WipesDir())
	if err != nil {
		return nil, err
	}
	mirrors := append([]artifact.Sink(nil), extra...)
	if sc := s.Config.Artifacts.S3; sc.Enabled {
		bucket, err := artifact.DialS3(ctx, artifact.S3Config{
			Bucket:   sc.Bucket,
			Region:   sc.Region,
			Prefix:   sc.Prefix,
			Endpoint: sc.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		mirrors = append(mirrors, bucket)
	}
	if len(mirrors) == 0 {
		return dir, nil
	}
	return artifact.NewMirror(logger.With("component", "artifact"), dir, mirrors...), nil
}

func (s *System) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// NewLogger builds the process logger from the log section of the config.
func NewLogger(w io.Writer, lc config.LogConfig) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: lc.SlogLevel()}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}
