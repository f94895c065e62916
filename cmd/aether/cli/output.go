// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"

	"golang.org/x/term"
)

// ExitError signals a non-zero exit code without printing an extra
// error message. When a command returns an ExitError, main exits
// with the given code; the command is expected to have written its
// own output already.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the exit code. Main checks for this interface on
// returned errors to distinguish a handled non-zero exit from an
// unexpected error to display.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// StdoutIsTerminal reports whether stdout is attached to a terminal.
// Table-formatted commands fall back to JSON when piped so their
// output stays machine-readable.
func StdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// UseJSON decides the output format: the --json flag forces JSON,
// and piped output defaults to it.
func UseJSON(jsonFlag bool) bool {
	return jsonFlag || !StdoutIsTerminal()
}

// WriteJSON marshals value as indented JSON to stdout. Nil slices
// are normalized to empty slices so output is never the JSON null.
func WriteJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(normalizeNilSlice(value))
}

func normalizeNilSlice(value any) any {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice && v.IsNil() {
		return reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	return value
}
