package main

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ajazfarhad/wipeproof"
	"github.com/ajazfarhad/wipeproof/audit"
	"github.com/ajazfarhad/wipeproof/certificate"
	"github.com/ajazfarhad/wipeproof/config"
	"github.com/ajazfarhad/wipeproof/eraser"
	"github.com/ajazfarhad/wipeproof/keystore"
	"github.com/ajazfarhad/wipeproof/session"
	"github.com/ajazfarhad/wipeproof/verify"
)

const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	global := flag.NewFlagSet("wipeproof", flag.ContinueOnError)
	cfgPath := global.String("config", os.Getenv(config.EnvPrefix+"_CONFIG_PATH"), "config file (yaml)")
	global.Usage = usage
	if err := global.Parse(args); err != nil {
		return exitUsage
	}
	if global.NArg() == 0 {
		usage()
		return exitUsage
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "wipeproof:", err)
		return exitFail
	}
	logger := wipeproof.NewLogger(os.Stderr, cfg.Log)

	ctx := context.Background()
	sys, err := wipeproof.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open", "error", err)
		return exitFail
	}
	defer func() {
		if err := sys.Close(); err != nil {
			logger.Error("failed to close", "error", err)
		}
	}()

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "wipe":
		return cmdWipe(ctx, sys, logger, rest)
	case "verify":
		return cmdVerify(ctx, sys, rest)
	case "pubkey":
		return cmdPubkey(sys, logger, rest)
	case "methods":
		return cmdMethods(sys, rest)
	default:
		usage()
		return exitUsage
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: wipeproof [-config file] <command> [flags]

Commands:
  wipe     -target /dev/sdX -media hdd -method zero [-serial S] [-follow]
  verify   -id LEDGER_ID | -cert FILE [-log FILE] [-pubkey FILE] [-json]
  pubkey   [-out FILE]
  methods  [-media hdd]`)
}

func cmdWipe(ctx context.Context, sys *wipeproof.System, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("wipe", flag.ContinueOnError)
	target := fs.String("target", "", "device or file to erase")
	media := fs.String("media", string(eraser.MediaHDD), "media class: hdd, ssd, nvme, usb, card")
	method := fs.String("method", "zero", "erase method")
	serial := fs.String("serial", "", "device serial number")
	password := fs.String("password", "", "ATA security password (generated when empty)")
	follow := fs.Bool("follow", false, "print chain entries as they are recorded")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *target == "" {
		fmt.Fprintln(os.Stderr, "wipe: -target is required")
		return exitUsage
	}
	mc, err := eraser.ParseMedia(*media)
	if err != nil {
		fmt.Fprintln(os.Stderr, "wipe:", err)
		return exitUsage
	}

	req := wipeproof.Request{
		Target:   *target,
		Serial:   *serial,
		Media:    mc,
		Method:   *method,
		Password: *password,
	}

	var printed chan struct{}
	if *follow {
		obs := make(chan audit.Entry, 64)
		printed = make(chan struct{})
		req.Observer = obs
		go func() {
			defer close(printed)
			for e := range obs {
				fmt.Printf("%4d %-10s %s\n", e.Seq, e.Kind, summarize(e))
			}
		}()
	}

	res, err := sys.Orchestrator.Run(ctx, req)
	if err != nil {
		logger.Error("wipe not started", "error", err)
		return exitFail
	}
	if printed != nil {
		<-printed
	}

	fmt.Printf("session:     %s\n", res.SessionID)
	fmt.Printf("state:       %s\n", res.State)
	fmt.Printf("success:     %t (exit %d)\n", res.Success, res.ExitCode)
	fmt.Printf("final hash:  %s\n", res.FinalHash)
	if res.LedgerID != nil {
		fmt.Printf("ledger id:   %s\n", *res.LedgerID)
	} else {
		fmt.Printf("ledger id:   (not anchored)\n")
	}
	if res.LogLocation != "" {
		fmt.Printf("log:         %s\n", res.LogLocation)
	}
	if res.CertificateLocation != "" {
		fmt.Printf("certificate: %s\n", res.CertificateLocation)
	}
	if res.Err != nil {
		logger.Error("session failed", "error", res.Err)
	}
	if res.State != session.StateDone || !res.Success {
		return exitFail
	}
	return exitOK
}

func summarize(e audit.Entry) string {
	switch e.Kind {
	case audit.KindProgress:
		return fmt.Sprint(e.Fields["line"])
	case audit.KindSampleSet:
		return fmt.Sprintf("sampled=%v zeroed=%v read_errors=%v", e.Fields["sampled"], e.Fields["zeroed"], e.Fields["read_errors"])
	case audit.KindEnd:
		return fmt.Sprintf("success=%v exit_code=%v", e.Fields["success"], e.Fields["exit_code"])
	default:
		b, _ := json.Marshal(e.Fields)
		return string(b)
	}
}

func cmdVerify(ctx context.Context, sys *wipeproof.System, args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	id := fs.String("id", "", "ledger id to look up")
	certPath := fs.String("cert", "", "certificate JSON file")
	logPath := fs.String("log", "", "chain log (jsonl) to recompute against the certificate")
	pubPath := fs.String("pubkey", "", "trusted public key (PEM or hex); defaults to the local key")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if (*id == "") == (*certPath == "") {
		fmt.Fprintln(os.Stderr, "verify: exactly one of -id or -cert is required")
		return exitUsage
	}

	var reports []verify.Report
	if *id != "" {
		rep, err := sys.Verifier.LedgerID(ctx, *id)
		if err != nil {
			fmt.Fprintln(os.Stderr, "verify:", err)
			return exitFail
		}
		reports = append(reports, rep)
	} else {
		raw, err := os.ReadFile(*certPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "verify:", err)
			return exitFail
		}
		cert, err := certificate.Decode(raw)
		if err != nil {
			fmt.Fprintln(os.Stderr, "verify:", err)
			return exitFail
		}
		trusted, err := trustedKey(sys, *pubPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "verify:", err)
			return exitFail
		}
		rep, err := sys.Verifier.Certificate(ctx, cert, trusted)
		if err != nil {
			fmt.Fprintln(os.Stderr, "verify:", err)
			return exitFail
		}
		reports = append(reports, rep)

		if *logPath != "" {
			f, err := os.Open(*logPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, "verify:", err)
				return exitFail
			}
			entries, err := audit.DecodeLog(f)
			f.Close()
			if err != nil {
				fmt.Fprintln(os.Stderr, "verify:", err)
				return exitFail
			}
			reports = append(reports, verify.Log(make([]byte, audit.GenesisSize), entries, cert))
		}
	}

	ok := true
	for _, rep := range reports {
		ok = ok && rep.OK()
		if *asJSON {
			b, _ := json.Marshal(rep)
			fmt.Println(string(b))
			continue
		}
		line := []string{string(rep.Status)}
		if rep.LedgerID != "" {
			line = append(line, "ledger_id="+rep.LedgerID)
		}
		if rep.Signature != verify.SignatureSkipped {
			line = append(line, "signature="+string(rep.Signature))
		}
		if rep.Detail != "" {
			line = append(line, "("+rep.Detail+")")
		}
		fmt.Println(strings.Join(line, " "))
	}
	if !ok {
		return exitUsage
	}
	return exitOK
}

// trustedKey reads an explicit key file, or falls back to the local key
// without creating one.
func trustedKey(sys *wipeproof.System, path string) (ed25519.PublicKey, error) {
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return keystore.ParsePublicKey(raw)
	}
	pub, err := keystore.Open(sys.Keys.Path(), keystore.WithoutCreate()).PublicKey()
	if err != nil {
		// untrusted: the certificate's embedded key is still checked
		return nil, nil
	}
	return pub, nil
}

func cmdPubkey(sys *wipeproof.System, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("pubkey", flag.ContinueOnError)
	out := fs.String("out", "", "write the PEM public key to this file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	pub, err := sys.Keys.PublicKey()
	if err != nil {
		logger.Error("signing key unavailable", "error", err)
		return exitFail
	}
	pemBytes, err := keystore.EncodePublicKey(pub)
	if err != nil {
		logger.Error("encode public key", "error", err)
		return exitFail
	}
	if *out != "" {
		if err := os.WriteFile(*out, pemBytes, 0o644); err != nil {
			logger.Error("write public key", "error", err)
			return exitFail
		}
	} else {
		os.Stdout.Write(pemBytes)
	}
	fmt.Fprintf(os.Stderr, "key id: %s\n", keystore.Fingerprint(pub))
	return exitOK
}

func cmdMethods(sys *wipeproof.System, args []string) int {
	fs := flag.NewFlagSet("methods", flag.ContinueOnError)
	media := fs.String("media", "", "only list this media class")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	classes := sys.Table.Media()
	if *media != "" {
		mc, err := eraser.ParseMedia(*media)
		if err != nil {
			fmt.Fprintln(os.Stderr, "methods:", err)
			return exitUsage
		}
		classes = []eraser.MediaClass{mc}
	}
	for _, mc := range classes {
		fmt.Printf("%-5s %s\n", mc, strings.Join(sys.Table.Methods(mc), ", "))
	}
	return exitOK
}
