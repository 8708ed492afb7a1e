package eraser

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

type MediaClass string

const (
	MediaHDD  MediaClass = "hdd"
	MediaSSD  MediaClass = "ssd"
	MediaNVMe MediaClass = "nvme"
	MediaUSB  MediaClass = "usb"
	MediaCard MediaClass = "card"
)

var knownMedia = []MediaClass{MediaHDD, MediaSSD, MediaNVMe, MediaUSB, MediaCard}

func ParseMedia(s string) (MediaClass, error) {
	m := MediaClass(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(knownMedia, m) {
		return "", fmt.Errorf("unknown media class %q", s)
	}
	return m, nil
}

// Step is one discrete process invocation. Args may hold templates.
type Step struct {
	Path string   `yaml:"path"`
	Args []string `yaml:"args"`
}

// Sequence runs in order; the first nonzero exit stops it.
type Sequence []Step

// Params fill in step templates.
type Params struct {
	Device   string
	Method   string
	Password string
}

// Table maps media class and method name to a step sequence.
type Table map[MediaClass]map[string]Sequence

//go:embed methods.yaml
var defaultMethods []byte

// DefaultTable returns the built-in method table.
func DefaultTable() Table {
	t, err := ParseTable(bytes.NewReader(defaultMethods))
	if err != nil {
		panic(fmt.Sprintf("eraser: built-in method table: %v", err))
	}
	return t
}

func LoadTable(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseTable(f)
}

// ParseTable decodes a YAML method table and checks every template parses.
func ParseTable(r io.Reader) (Table, error) {
	var t Table
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("decode method table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t Table) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("method table is empty")
	}
	for media, methods := range t {
		if _, err := ParseMedia(string(media)); err != nil {
			return err
		}
		for name, seq := range methods {
			if len(seq) == 0 {
				return fmt.Errorf("%s/%s: no steps", media, name)
			}
			for i, st := range seq {
				if st.Path == "" {
					return fmt.Errorf("%s/%s step %d: empty path", media, name, i)
				}
				for _, a := range st.Args {
					if _, err := parseArg(a); err != nil {
						return fmt.Errorf("%s/%s step %d: %w", media, name, i, err)
					}
				}
			}
		}
	}
	return nil
}

// Media lists the classes present in the table, sorted.
func (t Table) Media() []MediaClass {
	out := make([]MediaClass, 0, len(t))
	for m := range t {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

// Methods lists the method names available for media, sorted.
func (t Table) Methods(media MediaClass) []string {
	out := make([]string, 0, len(t[media]))
	for name := range t[media] {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Resolve expands the sequence for media/method with p.
func (t Table) Resolve(media MediaClass, method string, p Params) (Sequence, error) {
	seq, ok := t[media][method]
	if !ok {
		return nil, fmt.Errorf("no method %q for media %q", method, media)
	}
	if p.Method == "" {
		p.Method = method
	}

	out := make(Sequence, len(seq))
	for i, st := range seq {
		args := make([]string, len(st.Args))
		for j, a := range st.Args {
			tmpl, err := parseArg(a)
			if err != nil {
				return nil, err
			}
			var b strings.Builder
			if err := tmpl.Execute(&b, p); err != nil {
				return nil, fmt.Errorf("%s/%s step %d arg %d: %w", media, method, i, j, err)
			}
			args[j] = b.String()
		}
		out[i] = Step{Path: st.Path, Args: args}
	}
	return out, nil
}

func parseArg(a string) (*template.Template, error) {
	return template.New("arg").Option("missingkey=error").Parse(a)
}
