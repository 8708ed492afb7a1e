package session

import (
	"io"
	"os"
)

// Target is an opened device or file to sample after erasure.
type Target interface {
	io.ReaderAt
	io.Closer
	Size() (int64, error)
}

type Opener interface {
	Open(name string) (Target, error)
}

type OpenerFunc func(name string) (Target, error)

func (f OpenerFunc) Open(name string) (Target, error) { return f(name) }

// FileOpener opens block devices and regular files read-only.
var FileOpener Opener = OpenerFunc(openFile)

func openFile(name string) (Target, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return fileTarget{f}, nil
}

type fileTarget struct{ *os.File }

// Size seeks to the end; Stat reports 0 for block devices.
func (f fileTarget) Size() (int64, error) {
	return f.Seek(0, io.SeekEnd)
}
