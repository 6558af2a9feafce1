package feature

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os/exec"
	"sync"
)

// SubprocessOutliner shells out to a configurable outliner binary (default
// ctags) and decodes newline-delimited JSON {kind,name,line,scope} records.
// Availability is probed once, then the binary is invoked per file.
type SubprocessOutliner struct {
	Binary string
	Args   []string

	once      sync.Once
	available bool
}

func NewSubprocessOutliner(binary string, args ...string) *SubprocessOutliner {
	if binary == "" {
		binary = "ctags"
	}
	if len(args) == 0 {
		args = []string{"-x", "--output-format=json"}
	}
	return &SubprocessOutliner{Binary: binary, Args: args}
}

func (o *SubprocessOutliner) Available() bool {
	o.once.Do(func() {
		_, err := exec.LookPath(o.Binary)
		o.available = err == nil
	})
	return o.available
}

type ctagsLine struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Line      int    `json:"line"`
	Scope     string `json:"scope"`
	Signature string `json:"signature"`
}

func (o *SubprocessOutliner) Outline(path, content string) ([]Symbol, error) {
	if !o.Available() {
		return nil, nil
	}
	args := append(append([]string{}, o.Args...), path)
	cmd := exec.Command(o.Binary, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, err
	}

	var symbols []Symbol
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec ctagsLine
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		symbols = append(symbols, Symbol{
			Kind:      rec.Kind,
			Name:      rec.Name,
			Line:      rec.Line,
			Scope:     rec.Scope,
			Signature: rec.Signature,
		})
	}
	return symbols, nil
}
