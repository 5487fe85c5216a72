package tests

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"testing"
	"time"
)

// AnvilTreasuryPrivateKey is anvil's first development account, funded with
// 10000 ETH on a fresh chain
const AnvilTreasuryPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type AnvilConfig struct {
	PortNumber string `json:"portNumber"`
	ChainId    string `json:"chainId"`
	// BlockTime of "" mines a block per transaction
	BlockTime string `json:"blockTime"`
}

func (c *AnvilConfig) RpcUrl() string {
	return fmt.Sprintf("http://localhost:%s", c.PortNumber)
}

func StartAnvil(ctx context.Context, cfg *AnvilConfig) (*exec.Cmd, error) {
	args := []string{
		"--chain-id", cfg.ChainId,
		"--port", cfg.PortNumber,
	}
	if cfg.BlockTime != "" {
		args = append(args, "--block-time", cfg.BlockTime)
	}
	fmt.Printf("Starting anvil with args: %v\n", args)
	cmd := exec.CommandContext(ctx, "anvil", args...)
	cmd.Stderr = os.Stderr

	joinOutput := os.Getenv("JOIN_ANVIL_OUTPUT")
	if joinOutput == "true" {
		cmd.Stdout = os.Stdout
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start anvil: %w", err)
	}

	probe := []byte(`{"jsonrpc":"2.0","id":1,"method":"eth_chainId","params":[]}`)
	for i := 1; i < 10; i++ {
		res, err := http.Post(cfg.RpcUrl(), "application/json", bytes.NewReader(probe))
		if err == nil {
			_ = res.Body.Close()
			if res.StatusCode == http.StatusOK {
				fmt.Println("Anvil is up and running")
				return cmd, nil
			}
		}
		fmt.Printf("Anvil not ready yet, retrying... %d\n", i)
		time.Sleep(time.Duration(i) * 200 * time.Millisecond)
	}

	_ = KillAnvil(cmd)
	return nil, fmt.Errorf("failed to start anvil")
}

func KillAnvil(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return fmt.Errorf("anvil command is not running")
	}

	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to kill anvil process: %w", err)
	}
	_ = cmd.Wait()

	fmt.Println("Anvil process killed successfully")
	return nil
}

// StartDevnetAnvil starts a throwaway anvil chain for t and stops it on cleanup.
// The test is skipped when anvil isn't installed.
func StartDevnetAnvil(t *testing.T, port string) *AnvilConfig {
	t.Helper()
	if _, err := exec.LookPath("anvil"); err != nil {
		t.Skip("anvil not found in PATH")
	}

	cfg := &AnvilConfig{PortNumber: port, ChainId: "31337"}
	ctx, cancel := context.WithCancel(context.Background())
	cmd, err := StartAnvil(ctx, cfg)
	if err != nil {
		cancel()
		t.Fatalf("Failed to start anvil: %v", err)
	}
	t.Cleanup(func() {
		_ = KillAnvil(cmd)
		cancel()
	})
	return cfg
}
