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

package gk

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Lubov66/phala-blockchain/internal/mq"
)

func TestProcessMessagesEmitsOneEventPerRegisteredPubkey(t *testing.T) {
	e := New()
	e.RegisterPubkey([]byte{0x01})
	e.RegisterPubkey([]byte{0x02})

	var got []Event
	e.ProcessMessages(1, mq.Message{}, func(ev Event) { got = append(got, ev) })

	require.Len(t, got, 2)
	require.Equal(t, []byte{0x01}, got[0].Pubkey)
	require.Equal(t, []byte{0x02}, got[1].Pubkey)
	require.Equal(t, "heartbeat", got[0].Name)
}

func TestProcessMessagesEmitsNothingBeforeLaunch(t *testing.T) {
	e := New()

	var got []Event
	e.ProcessMessages(1, mq.Message{}, func(ev Event) { got = append(got, ev) })

	require.Empty(t, got)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	e := New()
	e.SetTokenomicParameters(TokenomicParameters{Raw: json.RawMessage(`{"v":1}`)})
	e.RegisterPubkey([]byte{0xAA})

	params, pubkeys := e.Snapshot()

	restored := New()
	restored.Restore(params, pubkeys)

	gotParams, gotPubkeys := restored.Snapshot()
	require.JSONEq(t, `{"v":1}`, string(gotParams.Raw))
	require.Equal(t, [][]byte{{0xAA}}, gotPubkeys)
}

func TestWillAndDidProcessBlockAreNoopsOnZeroValue(t *testing.T) {
	e := New()
	require.NotPanics(t, func() {
		e.WillProcessBlock(1)
		e.DidProcessBlock(1, func(Event) { t.Fatal("unexpected event") })
	})
}
