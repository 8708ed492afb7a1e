// Package session runs one erase from launch to signed certificate: it
// drives the eraser, samples the target, seals the audit chain, anchors its
// final hash and issues the certificate.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ajazfarhad/wipeproof/artifact"
	"github.com/ajazfarhad/wipeproof/audit"
	"github.com/ajazfarhad/wipeproof/certificate"
	"github.com/ajazfarhad/wipeproof/eraser"
	"github.com/ajazfarhad/wipeproof/sampler"
)

// DefaultSampleCount is how many blocks are read back after an erase.
const DefaultSampleCount = 16

// ErrTargetBusy is returned by Start when the target already has a session.
var ErrTargetBusy = errors.New("session: target already has a running session")

// Anchorer is satisfied by *ledger.Anchor.
type Anchorer interface {
	Anchor(ctx context.Context, finalHash string) (string, error)
}

// Sealer is satisfied by *certificate.Signer.
type Sealer interface {
	Seal(f certificate.Fields) (certificate.Certificate, error)
}

type Deps struct {
	Eraser eraser.Eraser
	Anchor Anchorer
	Signer Sealer
	Sink   artifact.Sink
	// Opener defaults to FileOpener.
	Opener Opener
	// Renderer defaults to certificate.TextRenderer.
	Renderer certificate.Renderer
}

type Request struct {
	Target   string
	Serial   string
	Media    eraser.MediaClass
	Method   string
	Password string

	// Observer, when set, receives every entry in chain order and is closed
	// after the last one. A request Start rejects closes it with no entries.
	// Sends block, so a slow observer slows the session rather than losing
	// entries.
	Observer chan<- audit.Entry
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithSampleCount(n int) Option {
	return func(o *Orchestrator) { o.sampleCount = n }
}

func WithSampler(s *sampler.Sampler) Option {
	return func(o *Orchestrator) { o.sampler = s }
}

func WithSanitizer(s Sanitizer) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sanitizer = s
		}
	}
}

// WithChainOptions passes extra options to every session's chain.
func WithChainOptions(opts ...audit.Option) Option {
	return func(o *Orchestrator) { o.chainOpts = append(o.chainOpts, opts...) }
}

type Orchestrator struct {
	deps        Deps
	now         func() time.Time
	logger      *slog.Logger
	sampleCount int
	sampler     *sampler.Sampler
	sanitizer   Sanitizer
	chainOpts   []audit.Option

	mu      sync.Mutex
	running map[string]string // target => session id
}

func New(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:        deps,
		now:         time.Now,
		logger:      slog.Default(),
		sampleCount: DefaultSampleCount,
		sanitizer:   NoopSanitizer{},
		running:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.sampler == nil {
		o.sampler = sampler.New()
	}
	if o.deps.Opener == nil {
		o.deps.Opener = FileOpener
	}
	if o.deps.Renderer == nil {
		o.deps.Renderer = certificate.TextRenderer{}
	}
	return o
}

// Start claims req.Target and runs the session in its own goroutine. The
// session is detached from ctx cancellation: once started it always reaches
// Done or Failed.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Session, error) {
	if req.Target == "" {
		return nil, reject(req, errors.New("session: target is required"))
	}
	if req.Method == "" {
		return nil, reject(req, errors.New("session: method is required"))
	}
	key := filepath.Clean(req.Target)

	id := uuid.NewString()
	o.mu.Lock()
	if owner, busy := o.running[key]; busy {
		o.mu.Unlock()
		return nil, reject(req, fmt.Errorf("%w: %s (session %s)", ErrTargetBusy, req.Target, owner))
	}
	o.running[key] = id
	o.mu.Unlock()

	s := &Session{
		ID:    id,
		req:   req,
		state: StateIdle,
		done:  make(chan struct{}),
		chain: audit.NewChain(append([]audit.Option{audit.WithClock(o.now)}, o.chainOpts...)...),
		log:   o.logger.With("session_id", id, "target", req.Target),
	}

	go func() {
		res := o.run(context.WithoutCancel(ctx), s)
		o.release(key)
		s.result = res
		close(s.done)
	}()
	return s, nil
}

func reject(req Request, err error) error {
	if req.Observer != nil {
		close(req.Observer)
	}
	return err
}

// Run starts a session and waits for its result.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	s, err := o.Start(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return s.Wait(), nil
}

func (o *Orchestrator) release(key string) {
	o.mu.Lock()
	delete(o.running, key)
	o.mu.Unlock()
}

// Busy reports whether target has a running session.
func (o *Orchestrator) Busy(target string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[filepath.Clean(target)]
	return ok
}

func (o *Orchestrator) run(ctx context.Context, s *Session) (res Result) {
	req := s.req
	res = Result{SessionID: s.ID, Target: req.Target, Method: req.Method, ExitCode: -1}

	defer func() {
		if req.Observer != nil {
			close(req.Observer)
		}
		res.Entries = s.chain.Entries()
		res.State = s.State()
		s.log.Info("session finished",
			"state", res.State, "success", res.Success, "final_hash", res.FinalHash,
			"degraded", res.Degraded, "error", res.Err)
	}()

	password := req.Password
	if password == "" {
		password = randomSecret()
	}
	clean := sanitizers{o.sanitizer, RedactSecrets{password}}

	s.setState(StateRunning)
	s.append(audit.KindStart, audit.Fields{
		"session_id": s.ID,
		"target":     req.Target,
		"serial":     req.Serial,
		"media":      string(req.Media),
		"method":     req.Method,
	})

	proc, err := o.deps.Eraser.Start(ctx, eraser.Job{
		Target:   req.Target,
		Media:    req.Media,
		Method:   req.Method,
		Password: password,
	})
	if err != nil {
		s.log.Error("eraser launch failed", "error", err)
		s.append(audit.KindError, audit.Fields{"stage": "launch", "error": clean.SanitizeLine(err.Error())})
		s.append(audit.KindEnd, audit.Fields{"success": false, "exit_code": -1, "reason": "launch failed"})
		res.Err = err
		o.closeOut(ctx, s, &res)
		s.setState(StateFailed)
		return res
	}

	for line := range proc.Lines() {
		s.append(audit.KindProgress, audit.Fields{"line": clean.SanitizeLine(line.Text), "step": line.Step})
	}
	exit, werr := proc.Wait()
	res.ExitCode = exit.Code
	res.Success = werr == nil && exit.Success()
	if werr != nil {
		s.log.Warn("eraser reported failure", "error", werr, "exit_code", exit.Code)
	}

	end := audit.Fields{
		"success":   res.Success,
		"exit_code": exit.Code,
		"steps":     exit.Steps,
		"killed":    exit.Killed,
	}
	if exit.FailedStep >= 0 {
		end["failed_step"] = exit.FailedStep
	}
	if werr != nil {
		end["error"] = clean.SanitizeLine(werr.Error())
	}

	// Evidence is collected whether or not the tool claimed success.
	s.setState(StateSampling)
	if err := o.sample(s); err != nil {
		s.log.Error("target could not be sampled", "error", err)
		s.append(audit.KindError, audit.Fields{"stage": "sampling", "error": err.Error()})
		end["success"] = false
		end["reason"] = "sampling failed"
		s.append(audit.KindEnd, end)
		res.Success = false
		res.Err = err
		o.closeOut(ctx, s, &res)
		s.setState(StateFailed)
		return res
	}
	s.append(audit.KindEnd, end)

	if !o.closeOut(ctx, s, &res) {
		s.setState(StateFailed)
		return res
	}

	s.setState(StateReporting)
	if err := o.report(ctx, s, &res); err != nil {
		res.Err = err
		s.setState(StateFailed)
		return res
	}
	s.setState(StateDone)
	return res
}

func (o *Orchestrator) sample(s *Session) error {
	t, err := o.deps.Opener.Open(s.req.Target)
	if err != nil {
		return fmt.Errorf("open target: %w", err)
	}
	defer t.Close()

	size, err := t.Size()
	if err != nil {
		return fmt.Errorf("size target: %w", err)
	}
	samples := o.sampler.Sample(t, size, o.sampleCount)
	s.append(audit.KindSampleSet, sampler.Fields(size, o.sampleCount, samples))
	s.log.Debug("sampled target", "size", size, "samples", len(samples))
	return nil
}

// closeOut finalizes the chain, persists the log artifact and anchors the
// final hash. It reports false when the session cannot go on to issue a
// certificate.
func (o *Orchestrator) closeOut(ctx context.Context, s *Session, res *Result) bool {
	s.setState(StateFinalizing)
	final, err := s.chain.Finalize()
	if err != nil {
		res.Err = errors.Join(res.Err, err)
		return false
	}
	res.FinalHash = final

	s.stem = artifactStem(s.req.Target, s.startedAt(), s.ID)
	ok := true
	logBytes, err := audit.EncodeLog(s.chain.Entries())
	if err == nil {
		res.LogLocation, err = o.deps.Sink.Put(ctx, s.stem+".log.jsonl", logBytes)
	}
	if err != nil {
		s.log.Error("persist chain log", "error", err)
		res.Err = errors.Join(res.Err, fmt.Errorf("persist chain log: %w", err))
		ok = false
	}

	id, err := o.deps.Anchor.Anchor(ctx, final)
	if err != nil {
		s.log.Warn("anchoring failed, continuing without ledger id", "error", err)
		res.Degraded = true
		s.setState(StateFinalizingDegraded)
		return ok
	}
	res.LedgerID = &id
	s.setState(StateAnchored)
	return ok
}

func (o *Orchestrator) report(ctx context.Context, s *Session, res *Result) error {
	end, _ := s.chain.Last()
	cert, err := o.deps.Signer.Seal(certificate.Fields{
		Target:    s.req.Target,
		Serial:    s.req.Serial,
		Method:    s.req.Method,
		Success:   res.Success,
		Timestamp: end.Timestamp.Format(time.RFC3339),
		FinalHash: res.FinalHash,
		LedgerID:  res.LedgerID,
	})
	if err != nil {
		s.log.Error("certificate not issued", "error", err)
		return err
	}
	res.Certificate = &cert

	raw, err := certificate.Encode(cert)
	if err != nil {
		return err
	}
	if res.CertificateLocation, err = o.deps.Sink.Put(ctx, s.stem+".cert.json", raw); err != nil {
		return fmt.Errorf("persist certificate: %w", err)
	}

	text, err := o.deps.Renderer.Render(cert)
	if err != nil {
		return fmt.Errorf("render certificate: %w", err)
	}
	if res.RenderLocation, err = o.deps.Sink.Put(ctx, s.stem+".cert.txt", text); err != nil {
		return fmt.Errorf("persist rendered certificate: %w", err)
	}
	return nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// artifactStem names a session's artifacts: <target>_<utc time>_<id prefix>.
func artifactStem(target string, at time.Time, id string) string {
	base := unsafeName.ReplaceAllString(filepath.Base(target), "_")
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s_%s_%s", base, at.UTC().Format("20060102T150405Z"), id)
}

func randomSecret() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
