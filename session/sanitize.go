package session

import "strings"

// Sanitizer lets the host redact secrets from tool output before the line is
// hashed into the chain. Default is no-op.
type Sanitizer interface {
	SanitizeLine(line string) string
}

type NoopSanitizer struct{}

func (NoopSanitizer) SanitizeLine(line string) string { return line }

// RedactSecrets replaces every occurrence of each secret with "[redacted]".
type RedactSecrets []string

func (r RedactSecrets) SanitizeLine(line string) string {
	for _, s := range r {
		if s != "" {
			line = strings.ReplaceAll(line, s, "[redacted]")
		}
	}
	return line
}

type sanitizers []Sanitizer

func (ss sanitizers) SanitizeLine(line string) string {
	for _, s := range ss {
		line = s.SanitizeLine(line)
	}
	return line
}
