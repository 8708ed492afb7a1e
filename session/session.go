package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ajazfarhad/wipeproof/audit"
	"github.com/ajazfarhad/wipeproof/certificate"
)

// Result is emitted for every session that started, including failed ones,
// with whatever evidence was produced.
type Result struct {
	SessionID string
	Target    string
	Method    string
	State     State

	// Success is the erase outcome recorded in the end entry.
	Success  bool
	ExitCode int

	FinalHash string
	LedgerID  *string
	// Degraded is set when the final hash could not be anchored.
	Degraded bool

	Certificate *certificate.Certificate

	LogLocation         string
	CertificateLocation string
	RenderLocation      string

	Entries []audit.Entry
	Err     error
}

type Session struct {
	ID string

	req   Request
	chain *audit.Chain
	log   *slog.Logger
	stem  string

	mu    sync.Mutex
	state State

	done   chan struct{}
	result Result
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	s.log.Debug("session state", "from", prev, "to", st)
}

// Done is closed when the result is available.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session reaches Done or Failed.
func (s *Session) Wait() Result {
	<-s.done
	return s.result
}

func (s *Session) append(kind audit.Kind, fields audit.Fields) {
	s.chain.Append(kind, fields)
	if s.req.Observer == nil {
		return
	}
	if e, ok := s.chain.Last(); ok {
		s.req.Observer <- e
	}
}

func (s *Session) startedAt() time.Time {
	entries := s.chain.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Timestamp
}
