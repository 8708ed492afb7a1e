package eraser_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajazfarhad/wipeproof/eraser"
)

func TestDefaultTableCoversEveryMediaClass(t *testing.T) {
	tbl := eraser.DefaultTable()
	assert.Equal(t,
		[]eraser.MediaClass{eraser.MediaCard, eraser.MediaHDD, eraser.MediaNVMe, eraser.MediaSSD, eraser.MediaUSB},
		tbl.Media())
	assert.Equal(t, []string{"dod", "dodshort", "gutmann", "random", "zero"}, tbl.Methods(eraser.MediaHDD))
}

func TestResolveNwipeInvocation(t *testing.T) {
	seq, err := eraser.DefaultTable().Resolve(eraser.MediaHDD, "dodshort", eraser.Params{Device: "/dev/sdb"})
	require.NoError(t, err)
	require.Len(t, seq, 1)
	assert.Equal(t, "nwipe", seq[0].Path)
	assert.Contains(t, seq[0].Args, "--method=dodshort")
	assert.Equal(t, "/dev/sdb", seq[0].Args[len(seq[0].Args)-1])
}

func TestResolveSecureEraseIsTwoSteps(t *testing.T) {
	seq, err := eraser.DefaultTable().Resolve(eraser.MediaSSD, "secure-erase",
		eraser.Params{Device: "/dev/sdc", Password: "p4ss"})
	require.NoError(t, err)
	require.Len(t, seq, 2)
	assert.Contains(t, seq[0].Args, "--security-set-pass")
	assert.Contains(t, seq[1].Args, "--security-erase")
	for _, st := range seq {
		assert.Equal(t, "hdparm", st.Path)
		assert.Contains(t, st.Args, "p4ss")
	}
}

func TestResolveUnknownMethod(t *testing.T) {
	_, err := eraser.DefaultTable().Resolve(eraser.MediaNVMe, "gutmann", eraser.Params{Device: "/dev/nvme0n1"})
	assert.Error(t, err)
}

func TestParseTableRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown media":  "floppy:\n  zero:\n    - path: nwipe\n",
		"empty path":     "hdd:\n  zero:\n    - args: [x]\n",
		"no steps":       "hdd:\n  zero: []\n",
		"bad template":   "hdd:\n  zero:\n    - path: nwipe\n      args: [\"{{.Device\"]\n",
		"unknown field":  "hdd:\n  zero:\n    - path: nwipe\n      shell: true\n",
		"empty document": "{}\n",
	}
	for name, doc := range cases {
		_, err := eraser.ParseTable(strings.NewReader(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadTableFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "methods.yaml")
	doc := "usb:\n  zero:\n    - path: dd\n      args: [\"if=/dev/zero\", \"of={{.Device}}\", \"bs=1M\"]\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	tbl, err := eraser.LoadTable(path)
	require.NoError(t, err)
	seq, err := tbl.Resolve(eraser.MediaUSB, "zero", eraser.Params{Device: "/dev/sdd"})
	require.NoError(t, err)
	assert.Equal(t, []string{"if=/dev/zero", "of=/dev/sdd", "bs=1M"}, seq[0].Args)
}

func TestParseMedia(t *testing.T) {
	m, err := eraser.ParseMedia(" NVMe ")
	require.NoError(t, err)
	assert.Equal(t, eraser.MediaNVMe, m)

	_, err = eraser.ParseMedia("tape")
	assert.Error(t, err)
}
