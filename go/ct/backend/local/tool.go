// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Fantom-foundation/Verdict/go/ct"
	"github.com/ethereum/go-ethereum/log"
)

// ToolMode selects how inputs and outputs are exchanged with a t8n tool.
type ToolMode int

const (
	// ToolModeFiles passes inputs and outputs through files in a
	// temporary directory.
	ToolModeFiles ToolMode = iota
	// ToolModeStream passes all inputs through stdin and reads all outputs
	// from stdout.
	ToolModeStream
)

func (m ToolMode) String() string {
	switch m {
	case ToolModeFiles:
		return "files"
	case ToolModeStream:
		return "stream"
	}
	return fmt.Sprintf("ToolMode(%d)", int(m))
}

// ParseToolMode parses the name of a tool mode.
func ParseToolMode(name string) (ToolMode, error) {
	switch strings.ToLower(name) {
	case "files", "file", "":
		return ToolModeFiles, nil
	case "stream", "stdin":
		return ToolModeStream, nil
	}
	return 0, fmt.Errorf("unknown t8n mode %q", name)
}

// ToolOption configures a ToolTransition.
type ToolOption func(*ToolTransition)

// WithSubcommand sets arguments placed before the t8n flags, e.g. "t8n"
// for go-ethereum's evm binary.
func WithSubcommand(args ...string) ToolOption {
	return func(t *ToolTransition) {
		t.subcommand = args
	}
}

// WithDebugDir enables dumping inputs, outputs and a replay script of every
// invocation into the given directory.
func WithDebugDir(dir string) ToolOption {
	return func(t *ToolTransition) {
		t.debugDir = dir
	}
}

// ToolTransition runs an external binary implementing the t8n protocol.
type ToolTransition struct {
	binary     string
	subcommand []string
	mode       ToolMode
	debugDir   string
	log        log.Logger
}

// NewToolTransition creates a transition invoking the given binary. An
// error wrapping ct.ErrBackendUnavailable is returned if the binary can not
// be found.
func NewToolTransition(binary string, mode ToolMode, options ...ToolOption) (*ToolTransition, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ct.ErrBackendUnavailable, err)
	}
	res := &ToolTransition{
		binary: path,
		mode:   mode,
		log:    log.New("backend", "t8n", "binary", path),
	}
	for _, option := range options {
		option(res)
	}
	return res, nil
}

func (t *ToolTransition) Apply(ctx context.Context, input Input) (*Output, error) {
	request, err := makeT8nInput(input)
	if err != nil {
		return nil, err
	}
	state := t8nState{
		Fork:    t8nForkName(input.Fork),
		ChainID: input.ChainID,
		Reward:  input.Reward,
	}

	var output *t8nOutput
	switch t.mode {
	case ToolModeStream:
		output, err = t.evaluateStream(ctx, input.Name, state, request)
	default:
		output, err = t.evaluateFiles(ctx, input.Name, state, request)
	}
	if err != nil {
		return nil, err
	}
	return output.toOutput(input), nil
}

func (t *ToolTransition) stateArgs(state t8nState) []string {
	return []string{
		fmt.Sprintf("--state.fork=%s", state.Fork),
		fmt.Sprintf("--state.chainid=%d", state.ChainID),
		fmt.Sprintf("--state.reward=%d", state.Reward),
	}
}

func (t *ToolTransition) evaluateStream(ctx context.Context, name string, state t8nState, input t8nInput) (*t8nOutput, error) {
	args := append([]string{}, t.subcommand...)
	args = append(args,
		"--input.alloc=stdin",
		"--input.txs=stdin",
		"--input.env=stdin",
		"--output.result=stdout",
		"--output.alloc=stdout",
		"--output.body=stdout",
	)
	args = append(args, t.stateArgs(state)...)

	stdin, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	stdout, stderr, runErr := t.run(ctx, args, stdin, "")

	if t.debugDir != "" {
		dir := filepath.Join(t.debugDir, name)
		files := map[string][]byte{
			"stdin.txt":  stdin,
			"stdout.txt": stdout,
			"stderr.txt": stderr,
			"t8n.sh": replayScript(
				t.command(args),
				fmt.Sprintf("< %s", filepath.Join(dir, "stdin.txt")),
			),
		}
		t.dump(dir, args, input, runErr, files)
	}
	if runErr != nil {
		return nil, runErr
	}

	output := &t8nOutput{}
	if err := json.Unmarshal(stdout, output); err != nil {
		return nil, fmt.Errorf("invalid t8n output: %w", err)
	}
	return output, nil
}

func (t *ToolTransition) evaluateFiles(ctx context.Context, name string, state t8nState, input t8nInput) (*t8nOutput, error) {
	dir, err := os.MkdirTemp("", "t8n-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	if err := writeInputs(filepath.Join(dir, "input"), input); err != nil {
		return nil, err
	}
	if err := os.Mkdir(filepath.Join(dir, "output"), 0700); err != nil {
		return nil, err
	}

	args := append([]string{}, t.subcommand...)
	args = append(args,
		"--input.alloc", filepath.Join(dir, "input", "alloc.json"),
		"--input.env", filepath.Join(dir, "input", "env.json"),
		"--input.txs", filepath.Join(dir, "input", "txs.json"),
		"--output.basedir", dir,
		"--output.result", filepath.Join("output", "result.json"),
		"--output.alloc", filepath.Join("output", "alloc.json"),
		"--output.body", filepath.Join("output", "txs.rlp"),
	)
	args = append(args, t.stateArgs(state)...)
	stdout, stderr, runErr := t.run(ctx, args, nil, dir)

	if t.debugDir != "" {
		debugDir := filepath.Join(t.debugDir, name)
		replayArgs := make([]string, len(args))
		for i, arg := range args {
			replayArgs[i] = strings.ReplaceAll(arg, dir, debugDir)
		}
		files := map[string][]byte{
			"stdout.txt": stdout,
			"stderr.txt": stderr,
			"t8n.sh":     replayScript(t.command(replayArgs)),
		}
		t.dump(debugDir, args, input, runErr, files)
	}
	if runErr != nil {
		return nil, runErr
	}

	output := &t8nOutput{}
	if err := readJSON(filepath.Join(dir, "output", "alloc.json"), &output.Alloc); err != nil {
		return nil, fmt.Errorf("invalid t8n alloc: %w", err)
	}
	if err := readJSON(filepath.Join(dir, "output", "result.json"), &output.Result); err != nil {
		return nil, fmt.Errorf("invalid t8n result: %w", err)
	}
	return output, nil
}

// run executes the tool. Failing to start the binary and a non-zero exit
// code both make the tool unusable for the rest of the run.
func (t *ToolTransition) run(ctx context.Context, args []string, stdin []byte, dir string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, t.binary, args...)
	cmd.Dir = dir
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), nil
	}
	if ctx.Err() != nil {
		return stdout.Bytes(), stderr.Bytes(), ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		t.log.Error("t8n tool failed", "exit", exitErr.ExitCode(), "stderr", strings.TrimSpace(stderr.String()))
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("%w: t8n exited with code %d: %s",
			ct.ErrBackendUnavailable, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("%w: %w", ct.ErrBackendUnavailable, err)
}

func (t *ToolTransition) command(args []string) string {
	return strings.Join(append([]string{t.binary}, args...), " ")
}

func (t *ToolTransition) dump(dir string, args []string, input t8nInput, runErr error, files map[string][]byte) {
	if err := writeInputs(filepath.Join(dir, "input"), input); err != nil {
		t.log.Warn("Failed to write debug inputs", "dir", dir, "err", err)
		return
	}
	returnCode := "0"
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		returnCode = fmt.Sprint(exitErr.ExitCode())
	} else if runErr != nil {
		returnCode = runErr.Error()
	}
	files["args.txt"] = []byte(strings.Join(args, "\n"))
	files["returncode.txt"] = []byte(returnCode)
	for name, content := range files {
		mode := os.FileMode(0644)
		if name == "t8n.sh" {
			mode = 0755
		}
		if err := os.WriteFile(filepath.Join(dir, name), content, mode); err != nil {
			t.log.Warn("Failed to write debug file", "file", name, "err", err)
		}
	}
}

func replayScript(call string, redirect ...string) []byte {
	parts := append([]string{call}, redirect...)
	return []byte("#!/bin/bash\n" + strings.Join(parts, " ") + "\n")
}

func writeInputs(dir string, input t8nInput) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	documents := map[string]any{
		"alloc.json": input.Alloc,
		"env.json":   input.Env,
		"txs.json":   input.Txs,
	}
	for name, document := range documents {
		data, err := json.MarshalIndent(document, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			return err
		}
	}
	return nil
}

func readJSON(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
