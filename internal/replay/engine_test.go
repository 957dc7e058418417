package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/Lubov66/phala-blockchain/internal/chainclient"
	"github.com/Lubov66/phala-blockchain/internal/mq"
	"github.com/Lubov66/phala-blockchain/internal/persistence"
)

func newTestEngine() (*Engine, *MemStorage) {
	storage := NewMemStorage(1024 * 1024)
	return New(storage), storage
}

func gatekeeperLaunchMessage() mq.Message {
	return mq.Message{
		Sender:      mq.Origin{Kind: mq.OriginPallet, ID: common.Hash{0x01}},
		Destination: mq.GatekeeperLaunchTopic,
		Payload:     []byte{mq.MasterPubkeyOnChainVariant},
	}
}

func TestDispatchBlockRejectsStateRootMismatch(t *testing.T) {
	e, _ := newTestEngine()
	block := chainclient.BlockChanges{
		Header: chainclient.Header{Number: 1, StateRoot: common.Hash{0xff}},
		MainChanges: []chainclient.StorageChange{
			{Key: []byte("k"), Value: []byte("v")},
		},
	}
	sink := make(chan *persistence.EventRecord, 8)
	err := e.DispatchBlock(context.Background(), block, sink)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrStateRootMismatch))
	require.Equal(t, uint32(0), e.CurrentBlock)
}

func TestDispatchBlockAppliesAndAdvances(t *testing.T) {
	e, storage := newTestEngine()
	change := []Change{{Key: []byte("k"), Value: []byte("v")}}
	root, _ := storage.CalcRootIfChanges(change, nil)

	block := chainclient.BlockChanges{
		Header:      chainclient.Header{Number: 1, StateRoot: root},
		MainChanges: []chainclient.StorageChange{{Key: []byte("k"), Value: []byte("v")}},
	}
	sink := make(chan *persistence.EventRecord, 8)
	require.NoError(t, e.DispatchBlock(context.Background(), block, sink))
	require.Equal(t, uint32(1), e.CurrentBlock)
	require.Equal(t, root, storage.Root())
}

func TestGatekeeperLaunchEnablesEconomicsAndEmitsEvents(t *testing.T) {
	e, storage := newTestEngine()
	e.RegisterGatekeeperPubkey([]byte("worker-1"))

	storage.SetInboundMessages([]mq.Message{gatekeeperLaunchMessage()}, 1000)
	root, _ := storage.CalcRootIfChanges(nil, nil)
	block := chainclient.BlockChanges{Header: chainclient.Header{Number: 1, StateRoot: root}}
	sink := make(chan *persistence.EventRecord, 8)

	require.NoError(t, e.DispatchBlock(context.Background(), block, sink))

	close(sink)
	var got []*persistence.EventRecord
	for rec := range sink {
		got = append(got, rec)
	}
	require.Len(t, got, 1)
	require.Equal(t, "heartbeat", got[0].Event)
	require.Equal(t, []byte("worker-1"), got[0].Pubkey)
	require.Equal(t, int64(0), got[0].Sequence)
	require.Equal(t, int64(1), e.NextEventSeq)
}

func TestMessagesBeforeGatekeeperLaunchAreIgnored(t *testing.T) {
	e, storage := newTestEngine()
	e.RegisterGatekeeperPubkey([]byte("worker-1"))

	storage.SetInboundMessages([]mq.Message{{
		Sender:      mq.Origin{Kind: mq.OriginContract, ID: common.Hash{0x02}},
		Destination: "some/topic",
		Payload:     []byte("hi"),
	}}, 500)
	root, _ := storage.CalcRootIfChanges(nil, nil)
	block := chainclient.BlockChanges{Header: chainclient.Header{Number: 1, StateRoot: root}}
	sink := make(chan *persistence.EventRecord, 8)

	require.NoError(t, e.DispatchBlock(context.Background(), block, sink))
	require.Len(t, sink, 0)
	require.Equal(t, int64(0), e.NextEventSeq)
}

func TestFullEventSinkBlocksUntilDrained(t *testing.T) {
	e, storage := newTestEngine()
	e.RegisterGatekeeperPubkey([]byte("worker-1"))
	e.RegisterGatekeeperPubkey([]byte("worker-2"))

	storage.SetInboundMessages([]mq.Message{gatekeeperLaunchMessage()}, 1000)
	root, _ := storage.CalcRootIfChanges(nil, nil)
	block := chainclient.BlockChanges{Header: chainclient.Header{Number: 1, StateRoot: root}}

	sink := make(chan *persistence.EventRecord) // unbuffered: every send must block until drained
	done := make(chan error, 1)
	go func() { done <- e.DispatchBlock(context.Background(), block, sink) }()

	select {
	case <-done:
		t.Fatal("DispatchBlock returned before the full sink was drained")
	case <-time.After(50 * time.Millisecond):
	}

	var got []*persistence.EventRecord
	for len(got) < 2 {
		got = append(got, <-sink)
	}

	require.Eventually(t, func() bool {
		select {
		case err := <-done:
			require.NoError(t, err)
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond, "DispatchBlock should return once both records are drained")
	require.Len(t, got, 2)
	require.Equal(t, int64(2), e.NextEventSeq)
}

func TestFullEventSinkUnblocksOnContextCancellation(t *testing.T) {
	e, storage := newTestEngine()
	e.RegisterGatekeeperPubkey([]byte("worker-1"))

	storage.SetInboundMessages([]mq.Message{gatekeeperLaunchMessage()}, 1000)
	root, _ := storage.CalcRootIfChanges(nil, nil)
	block := chainclient.BlockChanges{Header: chainclient.Header{Number: 1, StateRoot: root}}

	ctx, cancel := context.WithCancel(context.Background())
	sink := make(chan *persistence.EventRecord) // never drained
	done := make(chan error, 1)
	go func() { done <- e.DispatchBlock(ctx, block, sink) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("DispatchBlock did not unblock on context cancellation")
	}
}
