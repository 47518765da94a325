// Package testutil starts local chain nodes for integration tests.
package testutil

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"net"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/stretchr/testify/require"
)

const (
	// first prefunded anvil account
	anvilPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

	transferGas = 21000
)

func freePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "failed to get free port")

	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close(), "failed to close port listener")

	return port
}

// Anvil is a local anvil node mining one block per transaction.
type Anvil struct {
	cmd *exec.Cmd

	URL        string
	Client     *ethclient.Client
	PrivateKey *ecdsa.PrivateKey
	Account    common.Address
	ChainID    *big.Int
}

// SkipIfAnvilNotAvailable skips the test if anvil is not in PATH.
func SkipIfAnvilNotAvailable(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("anvil"); err != nil {
		t.Skip("anvil not found in PATH, skipping integration test")
	}
}

// StartAnvil starts a node on a free port and stops it when the test ends.
func StartAnvil(t *testing.T) *Anvil {
	t.Helper()

	port := freePort(t)
	url := fmt.Sprintf("http://127.0.0.1:%d", port)

	cmd := exec.Command("anvil", "--port", fmt.Sprintf("%d", port))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	require.NoError(t, cmd.Start(), "failed to start anvil")

	a := &Anvil{cmd: cmd, URL: url}
	t.Cleanup(a.Stop)

	client, err := ethclient.Dial(url)
	require.NoError(t, err, "failed to connect to anvil")
	a.Client = client

	require.Eventually(t, func() bool {
		id, err := client.ChainID(t.Context())
		if err != nil {
			return false
		}
		a.ChainID = id
		return true
	}, 10*time.Second, 100*time.Millisecond, "anvil did not become ready")

	key, err := crypto.HexToECDSA(anvilPrivateKey)
	require.NoError(t, err, "failed to parse private key")
	a.PrivateKey = key
	a.Account = crypto.PubkeyToAddress(key.PublicKey)

	return a
}

// Stop kills the node.
func (a *Anvil) Stop() {
	if a.Client != nil {
		a.Client.Close()
	}
	if a.cmd != nil && a.cmd.Process != nil {
		_ = a.cmd.Process.Kill()
		_ = a.cmd.Wait()
	}
}

// Transfer sends value wei to the recipient and waits until it is mined.
func (a *Anvil) Transfer(t *testing.T, to common.Address, value int64) *types.Receipt {
	t.Helper()

	ctx := t.Context()
	nonce, err := a.Client.PendingNonceAt(ctx, a.Account)
	require.NoError(t, err)

	gasPrice, err := a.Client.SuggestGasPrice(ctx)
	require.NoError(t, err)

	tx, err := types.SignTx(
		types.NewTransaction(nonce, to, big.NewInt(value), transferGas, gasPrice, nil),
		types.LatestSignerForChainID(a.ChainID),
		a.PrivateKey,
	)
	require.NoError(t, err)
	require.NoError(t, a.Client.SendTransaction(ctx, tx))

	return a.waitMined(ctx, t, tx.Hash())
}

func (a *Anvil) waitMined(ctx context.Context, t *testing.T, hash common.Hash) *types.Receipt {
	t.Helper()

	var receipt *types.Receipt
	require.Eventually(t, func() bool {
		r, err := a.Client.TransactionReceipt(ctx, hash)
		if err != nil {
			return false
		}
		receipt = r
		return true
	}, 10*time.Second, 50*time.Millisecond, "transaction %s not mined", hash.Hex())

	return receipt
}

// Snapshot records the current chain state.
func (a *Anvil) Snapshot(t *testing.T) string {
	t.Helper()

	var id string
	require.NoError(t, a.Client.Client().Call(&id, "evm_snapshot"), "failed to create snapshot")
	return id
}

// Revert drops every block mined after the snapshot. Blocks mined afterwards
// replace them at the same heights, which looks like a reorg to a follower.
func (a *Anvil) Revert(t *testing.T, snapshotID string) {
	t.Helper()

	var ok bool
	require.NoError(t, a.Client.Client().Call(&ok, "evm_revert", snapshotID), "failed to revert to snapshot")
	require.True(t, ok, "snapshot revert returned false")
}

// Mine mines empty blocks.
func (a *Anvil) Mine(t *testing.T, n int) {
	t.Helper()

	for range n {
		var res string
		require.NoError(t, a.Client.Client().Call(&res, "evm_mine"), "failed to mine block")
	}
}

// BlockNumber returns the current head.
func (a *Anvil) BlockNumber(t *testing.T) uint64 {
	t.Helper()

	n, err := a.Client.BlockNumber(t.Context())
	require.NoError(t, err, "failed to get block number")
	return n
}
