package wipeproof

import (
	"github.com/ajazfarhad/wipeproof/audit"
	"github.com/ajazfarhad/wipeproof/certificate"
	"github.com/ajazfarhad/wipeproof/eraser"
	"github.com/ajazfarhad/wipeproof/ledger"
	"github.com/ajazfarhad/wipeproof/session"
	"github.com/ajazfarhad/wipeproof/verify"
)

type Kind = audit.Kind

const (
	KindStart     Kind = audit.KindStart
	KindProgress  Kind = audit.KindProgress
	KindSampleSet Kind = audit.KindSampleSet
	KindError     Kind = audit.KindError
	KindEnd       Kind = audit.KindEnd
)

type MediaClass = eraser.MediaClass

const (
	MediaHDD  MediaClass = eraser.MediaHDD
	MediaSSD  MediaClass = eraser.MediaSSD
	MediaNVMe MediaClass = eraser.MediaNVMe
	MediaUSB  MediaClass = eraser.MediaUSB
	MediaCard MediaClass = eraser.MediaCard
)

type Status = ledger.Status

const (
	StatusVerified Status = ledger.StatusVerified
	StatusMismatch Status = ledger.StatusMismatch
	StatusNotFound Status = ledger.StatusNotFound
)

type Entry = audit.Entry
type Certificate = certificate.Certificate
type CertificateFields = certificate.Fields
type Request = session.Request
type Result = session.Result
type State = session.State
type Sanitizer = session.Sanitizer
type Report = verify.Report

type VerifyError = audit.VerifyError
