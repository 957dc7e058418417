package replaydriver

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Lubov66/phala-blockchain/internal/chainclient"
	"github.com/Lubov66/phala-blockchain/internal/workerconfig"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })
	return dir
}

func TestCheckpointPathPrefersExplicitRestoreFrom(t *testing.T) {
	chdirTemp(t)
	require.NoError(t, os.WriteFile("checkpoint.latest", []byte("x"), 0o644))

	path, ok := checkpointPath("explicit.checkpoint")
	require.True(t, ok)
	require.Equal(t, "explicit.checkpoint", path)
}

func TestCheckpointPathFallsBackToLatestSymlink(t *testing.T) {
	dir := chdirTemp(t)
	target := filepath.Join(dir, "checkpoint.50")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	require.NoError(t, os.Symlink(target, "checkpoint.latest"))

	path, ok := checkpointPath("")
	require.True(t, ok)
	require.Equal(t, "checkpoint.latest", path)
}

func TestCheckpointPathFreshWhenNothingToRestore(t *testing.T) {
	chdirTemp(t)
	_, ok := checkpointPath("")
	require.False(t, ok)
}

type fakeChainClient struct {
	mu        sync.Mutex
	genesis   []chainclient.StorageChange
	headers   map[uint32]chainclient.Header
	changes   map[uint32]chainclient.BlockChanges
	finalized uint32
	synced    uint32
	reconnects int
}

func (f *fakeChainClient) GenesisStoragePairs(ctx context.Context, number uint32) ([]chainclient.StorageChange, error) {
	return f.genesis, nil
}

func (f *fakeChainClient) HeaderAt(ctx context.Context, number uint32) (chainclient.Header, error) {
	return f.headers[number], nil
}

func (f *fakeChainClient) StorageChanges(ctx context.Context, from, to uint32) (chainclient.BlockChanges, error) {
	return f.changes[from], nil
}

func (f *fakeChainClient) FinalizedNumber(ctx context.Context) (uint32, error) {
	return f.finalized, nil
}

func (f *fakeChainClient) SyncState(ctx context.Context) (chainclient.SyncState, error) {
	return chainclient.SyncState{CurrentBlock: f.synced}, nil
}

func (f *fakeChainClient) Reconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
}

func TestDriverReplaysGenesisThenStops(t *testing.T) {
	chdirTemp(t)
	ctx := context.Background()

	client := &fakeChainClient{
		headers:   map[uint32]chainclient.Header{},
		changes:   map[uint32]chainclient.BlockChanges{},
		finalized: 10,
		synced:    10,
	}

	cfg := workerconfig.ReplayConfig{
		StartAt:         0,
		StopAt:          2,
		AssumeFinalized: 10,
		BindAddr:        "127.0.0.1:0",
	}
	driver, err := New(ctx, client, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })

	// Block 1 applies no storage changes, so the block header's state
	// root must equal whatever root genesis construction already landed
	// on.
	client.headers[1] = chainclient.Header{Number: 1, StateRoot: driver.storage.Root()}
	client.changes[1] = chainclient.BlockChanges{}

	runCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- driver.Run(runCtx) }()

	require.Eventually(t, func() bool {
		return driver.Engine().CurrentBlock == 1
	}, 2_000_000_000, 10_000_000)

	cancel()
	<-errCh
}

func TestTakeCheckpointRotatesSymlink(t *testing.T) {
	chdirTemp(t)
	ctx := context.Background()
	client := &fakeChainClient{}
	cfg := workerconfig.ReplayConfig{StartAt: 100, BindAddr: "127.0.0.1:0"}
	driver, err := New(ctx, client, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })
	driver.engine.CurrentBlock = 100

	require.NoError(t, driver.takeCheckpoint(103))

	target, err := os.Readlink(latestCheckpointLink)
	require.NoError(t, err)
	require.Equal(t, "checkpoint.103", target)

	_, err = os.Stat("checkpoint.103")
	require.NoError(t, err)
}
