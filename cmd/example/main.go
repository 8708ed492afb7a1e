package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ajazfarhad/wipeproof"
	"github.com/ajazfarhad/wipeproof/audit"
	"github.com/ajazfarhad/wipeproof/config"
	"github.com/ajazfarhad/wipeproof/eraser"
)

// shred stands in for nwipe so the demo runs against a plain file.
const demoTable = `
usb:
  zero:
    - path: shred
      args: ["-v", "-n", "0", "-z", "{{.Device}}"]
`

func main() {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "wipeproof-demo-")
	must(err)
	defer os.RemoveAll(dir)

	target := filepath.Join(dir, "stick.img")
	must(os.WriteFile(target, []byte(strings.Repeat("customer records ", 64*1024)), 0o600))

	cfg := &config.Config{
		DataDir:  dir,
		KeyFile:  filepath.Join(dir, "keys", "private_key.pem"),
		Ledger:   config.LedgerConfig{Backend: "memory", IDScheme: "identity"},
		Sampling: config.SamplingConfig{Count: 8},
		Log:      config.LogConfig{Level: "warn", Format: "text"},
	}
	table, err := eraser.ParseTable(strings.NewReader(demoTable))
	must(err)

	sys, err := wipeproof.Open(ctx, cfg, wipeproof.NewLogger(os.Stderr, cfg.Log),
		wipeproof.WithEraser(eraser.NewExec(table)),
		wipeproof.WithSanitizer(dirSanitizer{dir: dir}))
	must(err)
	defer sys.Close()

	obs := make(chan audit.Entry, 16)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for e := range obs {
			fmt.Printf("  #%d %-10s %s\n", e.Seq, e.Kind, short(e.Hash))
		}
	}()

	fmt.Println("Erasing", target)
	res, err := sys.Orchestrator.Run(ctx, wipeproof.Request{
		Target:   target,
		Serial:   "DEMO-0001",
		Media:    wipeproof.MediaUSB,
		Method:   "zero",
		Observer: obs,
	})
	must(err)
	<-printed
	must(res.Err)

	fmt.Printf("State: %s success=%t exit=%d\n", res.State, res.Success, res.ExitCode)
	fmt.Println("Final hash:", res.FinalHash)
	fmt.Println("Ledger ID:", *res.LedgerID)
	fmt.Println("Certificate:", res.CertificateLocation)

	rep, err := sys.Verifier.LedgerID(ctx, *res.LedgerID)
	must(err)
	fmt.Println("Ledger lookup:", rep.Status)

	pub, err := sys.Keys.PublicKey()
	must(err)
	rep, err = sys.Verifier.Certificate(ctx, *res.Certificate, pub)
	must(err)
	fmt.Printf("Certificate: %s signature=%s\n", rep.Status, rep.Signature)

	if err := audit.VerifyEntries(make([]byte, audit.GenesisSize), res.Entries); err != nil {
		panic(err)
	}
	fmt.Println("Chain verification OK")
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func short(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}

// dirSanitizer keeps the scratch directory out of the recorded output.
type dirSanitizer struct{ dir string }

func (s dirSanitizer) SanitizeLine(line string) string {
	return strings.ReplaceAll(line, s.dir, "$DEMO")
}
