package certificate

import (
	"bytes"
	"fmt"
)

// Renderer produces a human-readable rendering (PDF, HTML, ...) of a
// certificate. Implementations live outside this module.
type Renderer interface {
	Render(c Certificate) ([]byte, error)
}

// TextRenderer is the plain-text rendering written next to every certificate.
type TextRenderer struct{}

func (TextRenderer) Render(c Certificate) ([]byte, error) {
	status := "FAILED"
	if c.Fields.Success {
		status = "SUCCESS"
	}
	ledgerID := "(not anchored)"
	if c.Fields.LedgerID != nil {
		ledgerID = *c.Fields.LedgerID
	}

	var b bytes.Buffer
	fmt.Fprintln(&b, "Secure Wipe Certificate of Erasure")
	fmt.Fprintln(&b)
	rows := [][2]string{
		{"Status", status},
		{"Target", c.Fields.Target},
		{"Serial Number", orNA(c.Fields.Serial)},
		{"Wipe Method", c.Fields.Method},
		{"Timestamp", c.Fields.Timestamp},
		{"Final Verification Hash", c.Fields.FinalHash},
		{"Ledger ID", ledgerID},
		{"Signature (" + c.Algorithm + ")", c.Signature},
		{"Key ID", c.KeyID},
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "%-24s %s\n", r[0]+":", r[1])
	}
	return b.Bytes(), nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
