package registry

// ABI fragments for the calls the execution pipeline submits.
const (
	ERC20MinimalABI = `[
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
	]`

	CrossChainRouterABI = `[
		{"name":"crossChainSync","type":"function","stateMutability":"nonpayable","inputs":[{"name":"destinationChain","type":"uint64"},{"name":"receiver","type":"address"},{"name":"strategy","type":"address"},{"name":"action","type":"uint64"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[{"name":"messageId","type":"bytes32"}]}
	]`
)

const (
	MethodApprove        = "approve"
	MethodCrossChainSync = "crossChainSync"
)
