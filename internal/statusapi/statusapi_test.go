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

package statusapi

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"github.com/Lubov66/phala-blockchain/internal/persistence"
)

type fixedEngineStatus uint32

func (f fixedEngineStatus) CurrentBlock() uint32 { return uint32(f) }

func openTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	s, err := persistence.Open(t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetEventReturnsNilWhenMissing(t *testing.T) {
	store := openTestStore(t)
	api := New(store, fixedEngineStatus(0))

	rec, err := api.GetEvent(context.Background(), 42)
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestGetEventRoundTrip(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Append(&persistence.EventRecord{BlockNumber: 7, Event: "reward"})
	require.NoError(t, err)

	api := New(store, fixedEngineStatus(0))
	rec, err := api.GetEvent(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, hexutil.Uint64(7), rec.BlockNumber)
	require.Equal(t, "reward", rec.Event)
}

func TestGetEventsRejectsInvertedRange(t *testing.T) {
	store := openTestStore(t)
	api := New(store, fixedEngineStatus(0))

	_, err := api.GetEvents(context.Background(), 5, 1)
	require.Error(t, err)
}

func TestGetEventsReturnsWholeInclusiveRange(t *testing.T) {
	store := openTestStore(t)
	for i := 0; i < 5; i++ {
		_, err := store.Append(&persistence.EventRecord{BlockNumber: uint32(i)})
		require.NoError(t, err)
	}

	api := New(store, fixedEngineStatus(0))
	events, err := api.GetEvents(context.Background(), 0, 4)
	require.NoError(t, err)
	require.Len(t, events, 5)
}

func TestMethodsReturnErrNotEnabledWithoutStore(t *testing.T) {
	api := New(nil, fixedEngineStatus(3))

	_, err := api.GetEvent(context.Background(), 0)
	require.ErrorIs(t, err, ErrNotEnabled)

	_, err = api.GetEvents(context.Background(), 0, 1)
	require.ErrorIs(t, err, ErrNotEnabled)

	_, err = api.LatestSeq(context.Background())
	require.ErrorIs(t, err, ErrNotEnabled)

	_, err = api.CompactEventsBelow(context.Background(), 0)
	require.ErrorIs(t, err, ErrNotEnabled)
}

func TestStatusReportsEngineBlockEvenWithoutPersistence(t *testing.T) {
	api := New(nil, fixedEngineStatus(99))

	status, err := api.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, false, status["persistenceEnabled"])
	require.Equal(t, hexutil.Uint64(99), status["currentBlock"])
}

func TestStatusIncludesSeqRangeWhenPersisted(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Append(&persistence.EventRecord{BlockNumber: 1})
	require.NoError(t, err)

	api := New(store, fixedEngineStatus(1))
	status, err := api.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, true, status["persistenceEnabled"])
	require.Equal(t, hexutil.Uint64(0), status["latestSeq"])
}
