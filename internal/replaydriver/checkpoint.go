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

package replaydriver

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
)

// latestCheckpointLink is the symlink ReplayDriver keeps pointed at the
// most recently written checkpoint file.
const latestCheckpointLink = "checkpoint.latest"

// checkpointPath resolves the checkpoint file to restore from: the
// explicit restoreFrom argument when non-empty, else checkpoint.latest if
// it exists, else no checkpoint (fresh genesis construction).
func checkpointPath(restoreFrom string) (string, bool) {
	if restoreFrom != "" {
		return restoreFrom, true
	}
	if _, err := os.Lstat(latestCheckpointLink); err == nil {
		return latestCheckpointLink, true
	}
	return "", false
}

// takeCheckpoint writes checkpoint.<blockNumber> and atomically relinks
// checkpoint.latest to point at it.
func (d *Driver) takeCheckpoint(blockNumber uint32) error {
	filename := fmt.Sprintf("checkpoint.%d", blockNumber)
	log.Info("taking checkpoint", "file", filename)

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create checkpoint file %s: %w", filename, err)
	}
	if err := d.engine.Dump(f); err != nil {
		f.Close()
		return fmt.Errorf("dump checkpoint to %s: %w", filename, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close checkpoint file %s: %w", filename, err)
	}

	return relinkLatest(filename)
}

// relinkLatest points checkpoint.latest at filename, replacing any
// existing symlink. It builds the new link under a temporary name and
// renames it into place so a reader never observes a missing link.
func relinkLatest(filename string) error {
	tmp := latestCheckpointLink + ".tmp"
	_ = os.Remove(tmp)
	if err := os.Symlink(filename, tmp); err != nil {
		return fmt.Errorf("create temporary checkpoint symlink: %w", err)
	}
	if err := os.Rename(tmp, latestCheckpointLink); err != nil {
		return fmt.Errorf("rename checkpoint symlink into place: %w", err)
	}
	return nil
}
