package replay

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/Lubov66/phala-blockchain/internal/mq"
)

func TestCheckpointDumpLoadRoundTrip(t *testing.T) {
	e, storage := newTestEngine()
	e.RegisterGatekeeperPubkey([]byte("worker-1"))
	storage.SetGenesis([]Change{{Key: []byte("alpha"), Value: []byte("1")}}, common.Hash{0xaa})
	e.CurrentBlock = 42
	e.NextEventSeq = 7
	e.gkLaunched = true

	var buf bytes.Buffer
	require.NoError(t, e.Dump(&buf))

	restored := NewMemStorage(1024 * 1024)
	loaded, err := Load(&buf, restored)
	require.NoError(t, err)

	require.Equal(t, e.CurrentBlock, loaded.CurrentBlock)
	require.Equal(t, e.NextEventSeq, loaded.NextEventSeq)
	require.Equal(t, common.Hash{0xaa}, restored.Root())

	pairs, root := restored.Snapshot()
	require.Equal(t, common.Hash{0xaa}, root)
	require.Len(t, pairs, 1)
	require.Equal(t, []byte("alpha"), pairs[0].Key)

	params, pubkeys := loaded.gk.Snapshot()
	require.Empty(t, []byte(params.Raw))
	require.Equal(t, [][]byte{[]byte("worker-1")}, pubkeys)
}

func TestLoadRebuildsEmptyDispatcher(t *testing.T) {
	e, storage := newTestEngine()
	storage.SetGenesis(nil, common.Hash{})

	var buf bytes.Buffer
	require.NoError(t, e.Dump(&buf))

	restored := NewMemStorage(1024 * 1024)
	loaded, err := Load(&buf, restored)
	require.NoError(t, err)
	require.Equal(t, 0, loaded.dispatcher.Residual())
}

func TestLoadRegistersScopedDispatcherDuringDecode(t *testing.T) {
	e, storage := newTestEngine()
	storage.SetGenesis(nil, common.Hash{})
	var buf bytes.Buffer
	require.NoError(t, e.Dump(&buf))

	require.Nil(t, mq.Current())
	restored := NewMemStorage(1024 * 1024)
	_, err := Load(&buf, restored)
	require.NoError(t, err)
	require.Nil(t, mq.Current(), "registration must be cleared after Load returns")
}
