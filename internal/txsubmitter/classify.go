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

package txsubmitter

import "strings"

// txTimedOutMarker is the literal substring the remote node's error text
// uses for a submission timeout. This is the one place on the submission
// path that matches on error text; the sequencer consumes the tagged
// Outcome.
const txTimedOutMarker = "Tx timed out!"

func classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if strings.Contains(err.Error(), txTimedOutMarker) {
		return OutcomeTimeout
	}
	return OutcomeFailure
}
