// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the shared binary entrypoint error handler.
package process

import (
	"fmt"
	"os"
)

// Fatal writes "error: err" to stderr and exits with code 1. This is
// the standard Aether binary entrypoint error handler, used in main()
// for errors from run() where the structured logger may not be
// initialized yet.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
