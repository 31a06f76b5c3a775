package execution

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ggonzalez94/stratsync/internal/codec"
	clierr "github.com/ggonzalez94/stratsync/internal/errors"
	"github.com/ggonzalez94/stratsync/internal/registry"
)

const (
	testToken       = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	baseSepolia     = int64(84532)
	ethereumSepolia = int64(11155111)
)

type fakeGateway struct {
	mu      sync.Mutex
	calls   []Call
	hashes  map[string]string
	errs    map[string]error
	entered chan struct{}
	release chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		hashes: map[string]string{
			registry.MethodApprove:        "0xAPPROVE1",
			registry.MethodCrossChainSync: "0xDEPOSIT1",
		},
		errs: map[string]error{},
	}
}

func (g *fakeGateway) Submit(_ context.Context, call Call) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, call)
	entered, release := g.entered, g.release
	g.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	if err := g.errs[call.Method]; err != nil {
		return "", err
	}
	return g.hashes[call.Method], nil
}

func (g *fakeGateway) methods() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.calls))
	for _, c := range g.calls {
		out = append(out, c.Method)
	}
	return out
}

func (g *fakeGateway) count(method string) int {
	n := 0
	for _, m := range g.methods() {
		if m == method {
			n++
		}
	}
	return n
}

type fakeNotifier struct {
	mu    sync.Mutex
	items []Notification
}

func (n *fakeNotifier) Notify(msg Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, msg)
}

func (n *fakeNotifier) all() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.items...)
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []Record
}

func (r *fakeRecorder) Record(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

type fixture struct {
	orch     *Orchestrator
	gateway  *fakeGateway
	notifier *fakeNotifier
	recorder *fakeRecorder
	wallet   *StaticWallet
	strategy registry.Strategy
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	reg, err := registry.Default()
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	strategy, ok := reg.Strategy("simple-usdc-vault")
	if !ok {
		t.Fatal("expected simple-usdc-vault strategy")
	}
	gw := newFakeGateway()
	notifier := &fakeNotifier{}
	recorder := &fakeRecorder{}
	wallet := NewStaticWallet(common.HexToAddress("0x00000000000000000000000000000000000000aa"), baseSepolia)
	opts.Notifier = notifier
	opts.Recorder = recorder
	opts.Now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	orch := New(gw, wallet, opts)
	orch.SetSelectedChain(ethereumSepolia)
	return fixture{orch: orch, gateway: gw, notifier: notifier, recorder: recorder, wallet: wallet, strategy: strategy}
}

func (f fixture) action(t *testing.T, id uint64) registry.StrategyAction {
	t.Helper()
	a, ok := f.strategy.Action(id)
	if !ok {
		t.Fatalf("missing action %d", id)
	}
	return a
}

func (f fixture) fill(key ActionKey, token, amt string) {
	f.orch.HandleInputChange(key, "token", codec.String(token))
	f.orch.HandleInputChange(key, "amount", codec.String(amt))
}

func TestExecuteDepositApprovesThenDispatches(t *testing.T) {
	f := newFixture(t, Options{})
	deposit := f.action(t, 1)
	key := KeyOf(f.strategy, deposit)
	f.fill(key, testToken, "1.5")

	if err := f.orch.ExecuteAction(context.Background(), f.strategy, deposit, testToken, "1.5"); err != nil {
		t.Fatalf("ExecuteAction failed: %v", err)
	}

	methods := f.gateway.methods()
	if len(methods) != 2 || methods[0] != registry.MethodApprove || methods[1] != registry.MethodCrossChainSync {
		t.Fatalf("unexpected submission order: %v", methods)
	}

	approveCall := f.gateway.calls[0]
	if approveCall.Contract != common.HexToAddress(testToken) {
		t.Fatalf("approve sent to %s", approveCall.Contract.Hex())
	}
	dest, _ := f.strategy.Deployment(ethereumSepolia)
	if got := approveCall.Args[0].(common.Address); got != common.HexToAddress(dest.RouterAddress) {
		t.Fatalf("expected destination router as spender, got %s", got.Hex())
	}
	want, _ := new(big.Int).SetString("1500000000000000000", 10)
	if got := approveCall.Args[1].(*big.Int); got.Cmp(want) != 0 {
		t.Fatalf("expected approve amount %s, got %s", want, got)
	}

	if !approveCall.Wait {
		t.Fatal("approve must wait to be mined before dispatch")
	}

	syncCall := f.gateway.calls[1]
	if syncCall.Wait {
		t.Fatal("crossChainSync follows the gateway's receipt setting")
	}
	source, _ := f.strategy.Deployment(baseSepolia)
	if syncCall.Contract != common.HexToAddress(source.RouterAddress) {
		t.Fatalf("crossChainSync must target the source router, got %s", syncCall.Contract.Hex())
	}
	if syncCall.GasLimit != DefaultGasLimit {
		t.Fatalf("expected gas limit %d, got %d", DefaultGasLimit, syncCall.GasLimit)
	}
	if sel := syncCall.Args[0].(uint64); sel != 16015286601757825753 {
		t.Fatalf("unexpected selector %d", sel)
	}
	if syncCall.Args[3].(uint64) != 1 {
		t.Fatalf("expected action id 1, got %v", syncCall.Args[3])
	}

	res, ok := f.orch.Results()[key]
	if !ok || res.Type != ResultTransaction || res.TxHash != "0xDEPOSIT1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	summary, ok := res.Data.(ExecutionSummary)
	if !ok {
		t.Fatalf("expected ExecutionSummary data, got %T", res.Data)
	}
	if summary.ChainName != "Ethereum Sepolia" || !summary.ApprovalRequired || !summary.TokenTransfer {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Execution.Amount != "1500000000000000000" || summary.Execution.Receiver != dest.RouterAddress {
		t.Fatalf("unexpected execution: %+v", summary.Execution)
	}

	approval := f.orch.ApprovalStatus()[key]
	if approval.Status != ApprovalSuccess || approval.TxHash != "0xAPPROVE1" {
		t.Fatalf("unexpected approval: %+v", approval)
	}
	if f.orch.Loading()[key] {
		t.Fatal("expected loading to be cleared")
	}
	if len(f.orch.Session().Inputs(key)) != 0 {
		t.Fatal("expected inputs to be cleared after success")
	}
	notes := f.notifier.all()
	if len(notes) != 1 || notes[0].Level != LevelSuccess || notes[0].TxHash != "0xDEPOSIT1" {
		t.Fatalf("expected one success notification, got %+v", notes)
	}
	if len(f.recorder.records) != 1 || f.recorder.records[0].Result.Type != ResultTransaction {
		t.Fatalf("expected one journal record, got %+v", f.recorder.records)
	}
}

func TestExecuteSourceSpenderPolicy(t *testing.T) {
	f := newFixture(t, Options{Spender: SpenderSourceRouter})
	deposit := f.action(t, 1)
	f.fill(KeyOf(f.strategy, deposit), testToken, "2")

	if err := f.orch.ExecuteAction(context.Background(), f.strategy, deposit, testToken, "2"); err != nil {
		t.Fatalf("ExecuteAction failed: %v", err)
	}
	source, _ := f.strategy.Deployment(baseSepolia)
	if got := f.gateway.calls[0].Args[0].(common.Address); got != common.HexToAddress(source.RouterAddress) {
		t.Fatalf("expected source router spender, got %s", got.Hex())
	}
}

func TestExecuteRejectsNegativeAmountWithoutSubmitting(t *testing.T) {
	f := newFixture(t, Options{})
	deposit := f.action(t, 1)
	key := KeyOf(f.strategy, deposit)
	f.fill(key, testToken, "-5")

	err := f.orch.ExecuteAction(context.Background(), f.strategy, deposit, testToken, "-5")
	if !clierr.IsCode(err, clierr.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Must be a positive number") {
		t.Fatalf("unexpected message: %v", err)
	}
	if n := len(f.gateway.methods()); n != 0 {
		t.Fatalf("expected no submissions, got %d", n)
	}
	if _, ok := f.orch.Results()[key]; ok {
		t.Fatal("validation failure must not store a result")
	}
	if f.orch.Loading()[key] {
		t.Fatal("validation failure must not set loading")
	}
	if len(f.orch.Session().Inputs(key)) != 2 {
		t.Fatal("inputs must survive a validation failure")
	}
	if notes := f.notifier.all(); len(notes) != 1 || notes[0].Level != LevelError {
		t.Fatalf("expected one error notification, got %+v", notes)
	}
}

func TestExecuteRequiredParameterMissing(t *testing.T) {
	f := newFixture(t, Options{})
	deposit := f.action(t, 1)
	f.orch.HandleInputChange(KeyOf(f.strategy, deposit), "token", codec.String(testToken))

	err := f.orch.ExecuteAction(context.Background(), f.strategy, deposit, testToken, "1")
	if !clierr.IsCode(err, clierr.CodeValidation) || !strings.Contains(err.Error(), "amount is required") {
		t.Fatalf("expected required-field error, got %v", err)
	}
}

func TestExecuteWithdrawSkipsApproval(t *testing.T) {
	f := newFixture(t, Options{})
	withdraw := f.action(t, 2)
	key := KeyOf(f.strategy, withdraw)
	f.fill(key, testToken, "3")

	if err := f.orch.ExecuteAction(context.Background(), f.strategy, withdraw, testToken, "3"); err != nil {
		t.Fatalf("ExecuteAction failed: %v", err)
	}
	if f.gateway.count(registry.MethodApprove) != 0 {
		t.Fatal("withdraw must not request approval")
	}
	if f.gateway.count(registry.MethodCrossChainSync) != 1 {
		t.Fatal("expected exactly one dispatch")
	}
	if _, ok := f.orch.ApprovalStatus()[key]; ok {
		t.Fatal("expected no approval state")
	}
	res := f.orch.Results()[key]
	if res.ApprovalTx != nil || res.Data.(ExecutionSummary).ApprovalRequired {
		t.Fatalf("unexpected approval in result: %+v", res)
	}
}

func TestExecuteWithoutTokenSendsZeroTransfer(t *testing.T) {
	f := newFixture(t, Options{})
	withdraw := f.action(t, 2)
	f.fill(KeyOf(f.strategy, withdraw), testToken, "3")

	if err := f.orch.ExecuteAction(context.Background(), f.strategy, withdraw, "", ""); err != nil {
		t.Fatalf("ExecuteAction failed: %v", err)
	}
	call := f.gateway.calls[0]
	if call.Args[4].(common.Address) != (common.Address{}) {
		t.Fatalf("expected zero token address, got %v", call.Args[4])
	}
	if call.Args[5].(*big.Int).Sign() != 0 {
		t.Fatalf("expected zero amount, got %v", call.Args[5])
	}
}

func TestExecuteSummaryFlagsFollowAction(t *testing.T) {
	f := newFixture(t, Options{})
	deposit := f.action(t, 1)
	key := KeyOf(f.strategy, deposit)
	f.fill(key, testToken, "1")

	if err := f.orch.ExecuteAction(context.Background(), f.strategy, deposit, "", ""); err != nil {
		t.Fatalf("ExecuteAction failed: %v", err)
	}
	if f.gateway.count(registry.MethodApprove) != 0 {
		t.Fatal("no token supplied, so no approval is sent")
	}
	res := f.orch.Results()[key]
	summary := res.Data.(ExecutionSummary)
	if !summary.ApprovalRequired || !summary.TokenTransfer {
		t.Fatalf("summary flags must mirror the action declaration, got %+v", summary)
	}
	if res.ApprovalTx != nil || summary.Execution.Amount != "0" {
		t.Fatalf("unexpected approval or amount: %+v", res)
	}
}

func TestExecuteApprovalRejectedStopsBeforeDispatch(t *testing.T) {
	f := newFixture(t, Options{})
	f.gateway.errs[registry.MethodApprove] = errors.New("user rejected")
	deposit := f.action(t, 1)
	key := KeyOf(f.strategy, deposit)
	f.fill(key, testToken, "1")

	err := f.orch.ExecuteAction(context.Background(), f.strategy, deposit, testToken, "1")
	if !clierr.IsCode(err, clierr.CodeApproval) {
		t.Fatalf("expected approval error, got %v", err)
	}
	if f.gateway.count(registry.MethodCrossChainSync) != 0 {
		t.Fatal("dispatch must not run after a failed approval")
	}
	if a := f.orch.ApprovalStatus()[key]; a.Status != ApprovalFailed {
		t.Fatalf("expected failed approval, got %+v", a)
	}
	res := f.orch.Results()[key]
	detail, ok := res.Data.(ErrorDetail)
	if res.Type != ResultError || !ok || detail.Message != approvalFailedMessage {
		t.Fatalf("unexpected result: %+v", res)
	}
	if f.orch.Loading()[key] {
		t.Fatal("expected loading to be cleared")
	}
	if len(f.orch.Session().Inputs(key)) == 0 {
		t.Fatal("inputs must survive a failed approval")
	}
	if notes := f.notifier.all(); len(notes) != 1 || notes[0].Level != LevelError {
		t.Fatalf("expected one error notification, got %+v", notes)
	}
}

func TestExecuteDispatchFailureRecordsError(t *testing.T) {
	f := newFixture(t, Options{})
	f.gateway.errs[registry.MethodCrossChainSync] = errors.New("execution reverted")
	withdraw := f.action(t, 2)
	key := KeyOf(f.strategy, withdraw)
	f.fill(key, testToken, "1")

	err := f.orch.ExecuteAction(context.Background(), f.strategy, withdraw, testToken, "1")
	if !clierr.IsCode(err, clierr.CodeDispatch) {
		t.Fatalf("expected dispatch error, got %v", err)
	}
	res := f.orch.Results()[key]
	detail := res.Data.(ErrorDetail)
	if res.Type != ResultError || detail.Stage != "dispatch" || detail.Reason != "execution reverted" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(f.recorder.records) != 1 {
		t.Fatalf("expected error to be journaled, got %d records", len(f.recorder.records))
	}
}

func TestExecuteEncodingFailureAfterApproval(t *testing.T) {
	f := newFixture(t, Options{})
	deposit := f.action(t, 1)
	key := KeyOf(f.strategy, deposit)
	f.fill(key, testToken, "0.0000000000000000001")

	err := f.orch.ExecuteAction(context.Background(), f.strategy, deposit, testToken, "1")
	if !clierr.IsCode(err, clierr.CodeEncoding) {
		t.Fatalf("expected encoding error, got %v", err)
	}
	if methods := f.gateway.methods(); len(methods) != 1 || methods[0] != registry.MethodApprove {
		t.Fatalf("expected only the approval to be submitted, got %v", methods)
	}
	res := f.orch.Results()[key]
	detail, ok := res.Data.(ErrorDetail)
	if res.Type != ResultError || !ok || detail.Stage != "encoding" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.ApprovalTx == nil || res.ApprovalTx.Status != ApprovalSuccess || res.ApprovalTx.TxHash != "0xAPPROVE1" {
		t.Fatalf("expected the settled approval on the error result, got %+v", res.ApprovalTx)
	}
	if f.orch.Loading()[key] {
		t.Fatal("expected loading to be cleared")
	}
	if len(f.recorder.records) != 1 {
		t.Fatalf("expected error to be journaled, got %d records", len(f.recorder.records))
	}
}

func TestExecuteParameterOverflowIsEncodingError(t *testing.T) {
	f := newFixture(t, Options{})
	deposit := f.action(t, 1)
	key := KeyOf(f.strategy, deposit)
	f.fill(key, testToken, "1e80")

	err := f.orch.ExecuteAction(context.Background(), f.strategy, deposit, testToken, "1")
	if !clierr.IsCode(err, clierr.CodeEncoding) {
		t.Fatalf("expected encoding error, got %v", err)
	}
	if f.gateway.count(registry.MethodCrossChainSync) != 0 {
		t.Fatal("an overflowing parameter must never be dispatched")
	}
	if res := f.orch.Results()[key]; res.Type != ResultError {
		t.Fatalf("expected stored error result, got %+v", res)
	}
}

func TestExecuteTokenAmountOverflowRejected(t *testing.T) {
	f := newFixture(t, Options{})
	deposit := f.action(t, 1)
	key := KeyOf(f.strategy, deposit)
	f.fill(key, testToken, "1")

	err := f.orch.ExecuteAction(context.Background(), f.strategy, deposit, testToken, "1e80")
	if !clierr.IsCode(err, clierr.CodeEncoding) {
		t.Fatalf("expected encoding error, got %v", err)
	}
	if n := len(f.gateway.methods()); n != 0 {
		t.Fatalf("expected no submissions, got %d", n)
	}
	if _, ok := f.orch.Results()[key]; ok {
		t.Fatal("a rejected amount must not store a result")
	}
}

func TestSyncCallRejectsOverflowingAmount(t *testing.T) {
	exec := CrossChainExecution{
		DestinationChain: "16015286601757825753",
		Receiver:         "0xe0d40a806723a0b4B1DcF8F2cEAB6f90D84Ce0Ed",
		Strategy:         "0xa018DbBF743d9A7b5741e13c21152942A5947cB4",
		Action:           1,
		Token:            testToken,
		Amount:           new(big.Int).Lsh(big.NewInt(1), 256).String(),
		Data:             "0x",
	}
	if _, err := SyncCall(baseSepolia, common.HexToAddress(testToken), common.Address{}, exec, DefaultGasLimit); err == nil {
		t.Fatal("expected 2^256 to be rejected")
	}
}

func TestExecuteUnmappedDestinationFailsClosed(t *testing.T) {
	reg, err := registry.New([]registry.Strategy{{
		ID:       "opt",
		Name:     "Optimism vault",
		IsActive: true,
		Chains: []registry.ChainDeployment{
			{ChainID: baseSepolia, StrategyAddress: "0x0000000000000000000000000000000000000001", RouterAddress: "0x0000000000000000000000000000000000000002", IsActive: true},
			{ChainID: 8453, StrategyAddress: "0x0000000000000000000000000000000000000003", RouterAddress: "0x0000000000000000000000000000000000000004", IsActive: true},
		},
		Actions: []registry.StrategyAction{{ID: 1, Name: "Ping", Type: registry.ActionManage}},
	}})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	strategy, _ := reg.Strategy("opt")
	action, _ := strategy.Action(1)

	f := newFixture(t, Options{})
	f.orch.SetSelectedChain(8453)
	err = f.orch.ExecuteAction(context.Background(), strategy, action, "", "")
	if !clierr.IsCode(err, clierr.CodeResolution) {
		t.Fatalf("expected resolution error, got %v", err)
	}
	if len(f.gateway.methods()) != 0 {
		t.Fatal("unmapped selector must not be dispatched")
	}
}

func TestExecuteSourceChainNotDeployed(t *testing.T) {
	f := newFixture(t, Options{})
	f.wallet.SwitchChain(10)
	withdraw := f.action(t, 2)
	f.fill(KeyOf(f.strategy, withdraw), testToken, "1")

	err := f.orch.ExecuteAction(context.Background(), f.strategy, withdraw, testToken, "1")
	if !clierr.IsCode(err, clierr.CodeResolution) {
		t.Fatalf("expected resolution error, got %v", err)
	}
	if !strings.Contains(err.Error(), "not available on this chain") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestExecuteBusyKeyRejected(t *testing.T) {
	f := newFixture(t, Options{})
	f.gateway.entered = make(chan struct{}, 1)
	f.gateway.release = make(chan struct{})
	withdraw := f.action(t, 2)
	key := KeyOf(f.strategy, withdraw)
	f.fill(key, testToken, "1")

	done := make(chan error, 1)
	go func() {
		done <- f.orch.ExecuteAction(context.Background(), f.strategy, withdraw, testToken, "1")
	}()
	<-f.gateway.entered
	if !f.orch.Loading()[key] {
		t.Fatal("expected key to be loading while dispatch is in flight")
	}

	err := f.orch.ExecuteAction(context.Background(), f.strategy, withdraw, testToken, "1")
	if !clierr.IsCode(err, clierr.CodeBusy) {
		t.Fatalf("expected busy error, got %v", err)
	}

	close(f.gateway.release)
	if err := <-done; err != nil {
		t.Fatalf("first execution failed: %v", err)
	}
	if f.gateway.count(registry.MethodCrossChainSync) != 1 {
		t.Fatal("expected exactly one dispatch")
	}
}

func TestKeysDoNotCollide(t *testing.T) {
	a := ActionKey{StrategyID: "vault-1", ActionID: 2}
	b := ActionKey{StrategyID: "vault", ActionID: 12}
	s := NewSession()
	s.SetInput(a, "amount", codec.String("1"))
	if len(s.Inputs(b)) != 0 {
		t.Fatal("distinct keys must not share inputs")
	}
	parsed, err := ParseActionKey(a.String())
	if err != nil || parsed != a {
		t.Fatalf("round trip of %s gave %+v (%v)", a, parsed, err)
	}
	if _, err := ParseActionKey("nodash"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSetInputEmptyRemoves(t *testing.T) {
	s := NewSession()
	key := ActionKey{StrategyID: "x", ActionID: 1}
	s.SetInput(key, "flag", codec.Bool(false))
	if _, ok := s.Inputs(key)["flag"]; !ok {
		t.Fatal("false is a present value")
	}
	s.SetInput(key, "flag", codec.String(""))
	if _, ok := s.Inputs(key)["flag"]; ok {
		t.Fatal("empty value must remove the input")
	}
}

func TestPlanDoesNotSubmit(t *testing.T) {
	f := newFixture(t, Options{})
	deposit := f.action(t, 1)
	key := KeyOf(f.strategy, deposit)
	f.fill(key, testToken, "1")

	plan, err := f.orch.Plan(f.strategy, deposit, testToken, "1")
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(f.gateway.methods()) != 0 {
		t.Fatal("plan must not submit")
	}
	if plan.Approval == nil || plan.Approval.Amount != "1000000000000000000" {
		t.Fatalf("unexpected approval plan: %+v", plan.Approval)
	}
	data, err := hexutil.Decode(plan.Calldata)
	if err != nil || len(data) < 4 {
		t.Fatalf("invalid calldata %q: %v", plan.Calldata, err)
	}
	if got, want := hexutil.Encode(data[:4]), hexutil.Encode(routerABI.Methods[registry.MethodCrossChainSync].ID); got != want {
		t.Fatalf("expected selector %s, got %s", want, got)
	}
	if len(f.orch.Session().Inputs(key)) == 0 {
		t.Fatal("plan must leave inputs untouched")
	}
}

func TestParseSpenderPolicy(t *testing.T) {
	if p, err := ParseSpenderPolicy(""); err != nil || p != SpenderDestinationRouter {
		t.Fatalf("unexpected default: %v %v", p, err)
	}
	if p, err := ParseSpenderPolicy("SOURCE"); err != nil || p != SpenderSourceRouter {
		t.Fatalf("unexpected source: %v %v", p, err)
	}
	if _, err := ParseSpenderPolicy("nobody"); err == nil {
		t.Fatal("expected error")
	}
}
