// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package flags collects the small conventions shared by every daemon's
// cli.App: consistent name derivation, a usage line, and a version that
// the build can override with -ldflags.
package flags

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"
)

// Version is overridden at build time via -ldflags "-X .../flags.Version=...".
var Version = "dev"

// NewApp creates a cli.App named after the running binary with the given
// one-line usage, ready for the caller to attach Flags and an Action.
func NewApp(usage string) *cli.App {
	app := cli.NewApp()
	app.Name = filepath.Base(os.Args[0])
	app.Usage = usage
	app.Version = Version
	app.Copyright = "Copyright 2024 The go-ethereum Authors"
	return app
}
