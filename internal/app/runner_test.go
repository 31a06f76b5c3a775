package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ggonzalez94/stratsync/internal/execution"
	"github.com/ggonzalez94/stratsync/internal/execution/evm"
	execsigner "github.com/ggonzalez94/stratsync/internal/execution/signer"
)

const (
	testToken      = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	testPrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
)

type stubGateway struct {
	calls    []execution.Call
	failSync bool
}

func (g *stubGateway) Submit(_ context.Context, call execution.Call) (string, error) {
	g.calls = append(g.calls, call)
	if g.failSync && call.Method == "crossChainSync" {
		return "", errors.New("execution reverted")
	}
	return "0xHASH" + call.Method, nil
}

func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir+"/config")
	t.Setenv("XDG_CACHE_HOME", dir+"/cache")
	t.Setenv(execsigner.EnvPrivateKey, "")
	t.Setenv(execsigner.EnvPrivateKeyFile, "")
	t.Setenv(execsigner.EnvKeystorePath, "")
}

func run(t *testing.T, r *Runner, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	r.stdout = &stdout
	r.stderr = &stderr
	code := r.Run(args)
	return code, stdout.String(), stderr.String()
}

func withGateway(gw execution.Gateway) *Runner {
	r := NewRunnerWithWriters(&bytes.Buffer{}, &bytes.Buffer{})
	r.newGateway = func(execsigner.Signer, evm.Options) execution.Gateway { return gw }
	return r
}

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("stratsync actions run"); got != "actions run" {
		t.Fatalf("unexpected trim result: %s", got)
	}
}

func TestRunnerVersion(t *testing.T) {
	isolate(t)
	code, stdout, stderr := run(t, NewRunner(), "version")
	if code != 0 || strings.TrimSpace(stdout) == "" {
		t.Fatalf("expected version output, got %d %q stderr=%s", code, stdout, stderr)
	}
}

func TestRunnerStrategiesList(t *testing.T) {
	isolate(t)
	code, stdout, stderr := run(t, NewRunner(), "strategies", "list", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var out []map[string]any
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout)
	}
	if len(out) == 0 || out[0]["id"] != "simple-usdc-vault" {
		t.Fatalf("unexpected strategies output: %s", stdout)
	}
}

func TestRunnerStrategyNotFoundEnvelope(t *testing.T) {
	isolate(t)
	code, _, stderr := run(t, NewRunner(), "strategies", "show", "missing", "--results-only")
	if code != 13 {
		t.Fatalf("expected exit 13, got %d stderr=%s", code, stderr)
	}
	var env map[string]any
	if err := json.Unmarshal([]byte(stderr), &env); err != nil {
		t.Fatalf("failed to parse error envelope: %v output=%s", err, stderr)
	}
	if env["success"] != false {
		t.Fatalf("expected success=false, got %v", env["success"])
	}
}

func TestRunnerChainsSelector(t *testing.T) {
	isolate(t)
	code, stdout, stderr := run(t, NewRunner(), "chains", "selector", "11155111", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, `"cross_chain_id": "16015286601757825753"`) || !strings.Contains(stdout, `"mapped": true`) {
		t.Fatalf("unexpected selector output: %s", stdout)
	}

	code, stdout, _ = run(t, NewRunner(), "chains", "selector", "8453", "--results-only")
	if code != 0 || !strings.Contains(stdout, `"cross_chain_id": "000000"`) || !strings.Contains(stdout, `"mapped": false`) {
		t.Fatalf("expected unmapped sentinel, got %d %s", code, stdout)
	}

	code, stdout, _ = run(t, NewRunner(), "chains", "selector", "base-sepolia", "--results-only")
	if code != 0 || !strings.Contains(stdout, `"chain_id": 84532`) {
		t.Fatalf("expected chain name to resolve, got %d %s", code, stdout)
	}

	code, _, _ = run(t, NewRunner(), "chains", "selector", "not-a-chain")
	if code != 2 {
		t.Fatalf("expected usage exit for unknown chain, got %d", code)
	}
}

func TestRunnerParamsEncodeDecode(t *testing.T) {
	isolate(t)
	code, stdout, stderr := run(t, NewRunner(), "params", "encode",
		"--strategy", "simple-usdc-vault", "--action", "1",
		"--param", "token="+testToken, "--param", "amount=1.5",
		"--results-only")
	if code != 0 {
		t.Fatalf("encode failed: %d stderr=%s", code, stderr)
	}
	var encoded struct {
		Types []string `json:"types"`
		Data  string   `json:"data"`
	}
	if err := json.Unmarshal([]byte(stdout), &encoded); err != nil {
		t.Fatalf("decode encode output: %v", err)
	}
	if len(encoded.Types) != 2 || encoded.Types[0] != "address" || len(encoded.Data) != 2+128 {
		t.Fatalf("unexpected encoded params: %+v", encoded)
	}

	code, stdout, stderr = run(t, NewRunner(), "params", "decode",
		"--strategy", "simple-usdc-vault", "--action", "1", "--data", encoded.Data, "--results-only")
	if code != 0 {
		t.Fatalf("decode failed: %d stderr=%s", code, stderr)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(stdout), &decoded); err != nil {
		t.Fatalf("parse decode output: %v", err)
	}
	if decoded["amount"] != "1.5" || !strings.EqualFold(decoded["token"].(string), testToken) {
		t.Fatalf("unexpected round trip: %v", decoded)
	}
}

func TestRunnerParamsValidateReportsFailures(t *testing.T) {
	isolate(t)
	code, stdout, stderr := run(t, NewRunner(), "params", "validate",
		"--strategy", "simple-usdc-vault", "--action", "1",
		"--param", "token=0x123", "--param", "amount=-1", "--results-only")
	if code != 0 {
		t.Fatalf("validate failed: %d stderr=%s", code, stderr)
	}
	var checks []map[string]any
	if err := json.Unmarshal([]byte(stdout), &checks); err != nil || len(checks) != 2 {
		t.Fatalf("unexpected checks: %s (%v)", stdout, err)
	}
	for _, c := range checks {
		if c["valid"] != false {
			t.Fatalf("expected every check to fail: %v", c)
		}
	}
}

func TestRunnerParamsRejectsUnknownName(t *testing.T) {
	isolate(t)
	code, _, stderr := run(t, NewRunner(), "params", "encode",
		"--strategy", "simple-usdc-vault", "--action", "1", "--param", "amout=1")
	if code != 2 {
		t.Fatalf("expected usage exit 2, got %d stderr=%s", code, stderr)
	}
}

func TestRunnerActionsPlan(t *testing.T) {
	isolate(t)
	code, stdout, stderr := run(t, NewRunner(), "actions", "plan",
		"--strategy", "simple-usdc-vault", "--action", "1",
		"--param", "token="+testToken, "--param", "amount=2",
		"--from", "0x00000000000000000000000000000000000000aa",
		"--from-chain", "84532", "--to-chain", "11155111", "--results-only")
	if code != 0 {
		t.Fatalf("plan failed: %d stderr=%s", code, stderr)
	}
	var plan struct {
		Approval *struct {
			SpenderAddress string `json:"spender_address"`
			Amount         string `json:"amount"`
		} `json:"approval"`
		Execution struct {
			DestinationChain string `json:"destination_chain"`
		} `json:"execution"`
		GasLimit uint64 `json:"gas_limit"`
	}
	if err := json.Unmarshal([]byte(stdout), &plan); err != nil {
		t.Fatalf("parse plan: %v", err)
	}
	if plan.Execution.DestinationChain != "16015286601757825753" || plan.GasLimit != 3_000_000 {
		t.Fatalf("unexpected plan: %s", stdout)
	}
	if plan.Approval == nil || plan.Approval.Amount != "2000000000000000000" {
		t.Fatalf("expected approval for 2 tokens, got %s", stdout)
	}
	if !strings.EqualFold(plan.Approval.SpenderAddress, "0xe0d40a806723a0b4B1DcF8F2cEAB6f90D84Ce0Ed") {
		t.Fatalf("expected destination router as spender, got %s", plan.Approval.SpenderAddress)
	}
}

func TestRunnerActionsRunRecordsActivity(t *testing.T) {
	isolate(t)
	t.Setenv(execsigner.EnvPrivateKey, testPrivateKey)
	gw := &stubGateway{}
	r := withGateway(gw)

	code, stdout, stderr := run(t, r, "actions", "run",
		"--strategy", "simple-usdc-vault", "--action", "1",
		"--param", "token="+testToken, "--param", "amount=1.5",
		"--from-chain", "84532", "--to-chain", "11155111", "--results-only")
	if code != 0 {
		t.Fatalf("run failed: %d stderr=%s", code, stderr)
	}
	if len(gw.calls) != 2 || gw.calls[0].Method != "approve" || gw.calls[1].Method != "crossChainSync" {
		t.Fatalf("expected approve then crossChainSync, got %+v", gw.calls)
	}
	var out struct {
		State struct {
			Result struct {
				Type   string `json:"type"`
				TxHash string `json:"tx_hash"`
			} `json:"result"`
		} `json:"state"`
		Notification struct {
			Title string `json:"title"`
		} `json:"notification"`
	}
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("parse run output: %v output=%s", err, stdout)
	}
	if out.State.Result.Type != "transaction" || out.State.Result.TxHash != "0xHASHcrossChainSync" {
		t.Fatalf("unexpected result: %s", stdout)
	}
	if out.Notification.Title != "Transaction submitted" {
		t.Fatalf("unexpected notification: %s", stdout)
	}

	code, stdout, stderr = run(t, NewRunner(), "activity", "list", "--strategy", "simple-usdc-vault", "--results-only")
	if code != 0 {
		t.Fatalf("activity list failed: %d stderr=%s", code, stderr)
	}
	var entries []map[string]any
	if err := json.Unmarshal([]byte(stdout), &entries); err != nil || len(entries) != 1 {
		t.Fatalf("expected one journal entry, got %s (%v)", stdout, err)
	}
}

func TestRunnerActionsRunDispatchFailure(t *testing.T) {
	isolate(t)
	t.Setenv(execsigner.EnvPrivateKey, testPrivateKey)
	gw := &stubGateway{failSync: true}

	code, _, stderr := run(t, withGateway(gw), "actions", "run",
		"--strategy", "simple-usdc-vault", "--action", "2",
		"--param", "token="+testToken, "--param", "amount=1",
		"--from-chain", "84532", "--to-chain", "11155111")
	if code != 25 {
		t.Fatalf("expected dispatch exit 25, got %d stderr=%s", code, stderr)
	}
	if !strings.Contains(stderr, `"type": "dispatch_error"`) {
		t.Fatalf("expected dispatch error envelope, got %s", stderr)
	}

	code, stdout, _ := run(t, NewRunner(), "activity", "list", "--type", "error", "--results-only")
	if code != 0 || !strings.Contains(stdout, `"stage": "dispatch"`) {
		t.Fatalf("expected journaled error result, got %d %s", code, stdout)
	}
}

func TestRunnerActionsRunPrivateKeyOverridesKeySource(t *testing.T) {
	isolate(t)
	pk, err := crypto.HexToECDSA(testPrivateKey)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	want := crypto.PubkeyToAddress(pk.PublicKey)
	gw := &stubGateway{}

	code, _, stderr := run(t, withGateway(gw), "actions", "run",
		"--strategy", "simple-usdc-vault", "--action", "1",
		"--param", "token="+testToken, "--param", "amount=1",
		"--to-chain", "base-sepolia", "--key-source", "keystore", "--private-key", "0x"+testPrivateKey)
	if code != 0 {
		t.Fatalf("run failed: %d stderr=%s", code, stderr)
	}
	if len(gw.calls) != 2 {
		t.Fatalf("expected approve and dispatch, got %d calls", len(gw.calls))
	}
	for _, call := range gw.calls {
		if call.From != want {
			t.Fatalf("expected calls from %s, got %s", want.Hex(), call.From.Hex())
		}
	}
	if !gw.calls[0].Wait {
		t.Fatal("approve must be submitted with a receipt wait")
	}
}

func TestRunnerActionsRunKeySourceNarrowsLookup(t *testing.T) {
	isolate(t)
	keyPath := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "stratsync", "key.hex")
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(keyPath, []byte(testPrivateKey), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	args := []string{"actions", "run",
		"--strategy", "simple-usdc-vault", "--action", "2",
		"--param", "token=" + testToken, "--param", "amount=1",
		"--to-chain", "11155111"}

	gw := &stubGateway{}
	code, _, _ := run(t, withGateway(gw), append(args, "--key-source", "env")...)
	if code != 30 {
		t.Fatalf("env key source must ignore the key file, got exit %d", code)
	}
	if len(gw.calls) != 0 {
		t.Fatal("nothing must be submitted without a signer")
	}

	code, _, stderr := run(t, withGateway(gw), append(args, "--key-source", "file")...)
	if code != 0 {
		t.Fatalf("file key source failed: %d stderr=%s", code, stderr)
	}
	if len(gw.calls) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(gw.calls))
	}
}

func TestRunnerActionsRunRequiresSigner(t *testing.T) {
	isolate(t)
	gw := &stubGateway{}
	code, _, stderr := run(t, withGateway(gw), "actions", "run",
		"--strategy", "simple-usdc-vault", "--action", "1", "--to-chain", "11155111")
	if code != 30 {
		t.Fatalf("expected signer exit 30, got %d stderr=%s", code, stderr)
	}
	if len(gw.calls) != 0 {
		t.Fatal("nothing must be submitted without a signer")
	}
}

func TestRunnerEnableCommandsBlocks(t *testing.T) {
	isolate(t)
	code, _, stderr := run(t, NewRunner(), "actions", "plan",
		"--strategy", "simple-usdc-vault", "--action", "1", "--to-chain", "11155111",
		"--enable-commands", "strategies,params")
	if code != 16 {
		t.Fatalf("expected blocked exit 16, got %d stderr=%s", code, stderr)
	}
}

func TestRunnerSchema(t *testing.T) {
	isolate(t)
	code, stdout, stderr := run(t, NewRunner(), "schema", "actions", "run", "--results-only")
	if code != 0 {
		t.Fatalf("schema failed: %d stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, `"name": "to-chain"`) || !strings.Contains(stdout, `"required": true`) {
		t.Fatalf("unexpected schema output: %s", stdout)
	}
}
