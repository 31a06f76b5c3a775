package execution

import (
	"sync"

	"github.com/ggonzalez94/stratsync/internal/codec"
)

// Session holds per-key state for one UI session. Entries are never
// evicted.
type Session struct {
	mu            sync.RWMutex
	inputs        map[ActionKey]codec.Inputs
	loading       map[ActionKey]bool
	approvals     map[ActionKey]ApprovalTransaction
	results       map[ActionKey]FunctionResult
	selectedChain int64
}

func NewSession() *Session {
	return &Session{
		inputs:    map[ActionKey]codec.Inputs{},
		loading:   map[ActionKey]bool{},
		approvals: map[ActionKey]ApprovalTransaction{},
		results:   map[ActionKey]FunctionResult{},
	}
}

func (s *Session) SetInput(key ActionKey, name string, v codec.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.inputs[key]
	if !ok {
		in = codec.Inputs{}
		s.inputs[key] = in
	}
	if v.IsEmpty() {
		delete(in, name)
		return
	}
	in[name] = v
}

func (s *Session) Inputs(key ActionKey) codec.Inputs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyInputs(s.inputs[key])
}

func (s *Session) clearInputs(key ActionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inputs, key)
}

func (s *Session) SelectedChain() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedChain
}

func (s *Session) SetSelectedChain(chainID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedChain = chainID
}

// begin marks key as loading, or reports false when an execution already
// holds it.
func (s *Session) begin(key ActionKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading[key] {
		return false
	}
	s.loading[key] = true
	return true
}

func (s *Session) finish(key ActionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading[key] = false
}

func (s *Session) setApproval(key ActionKey, approval ApprovalTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals[key] = approval
}

func (s *Session) setResult(key ActionKey, result FunctionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[key] = result
}

func (s *Session) Loading() map[ActionKey]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[ActionKey]bool, len(s.loading))
	for k, v := range s.loading {
		out[k] = v
	}
	return out
}

func (s *Session) Results() map[ActionKey]FunctionResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[ActionKey]FunctionResult, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

func (s *Session) ApprovalStatus() map[ActionKey]ApprovalTransaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[ActionKey]ApprovalTransaction, len(s.approvals))
	for k, v := range s.approvals {
		out[k] = v
	}
	return out
}

func (s *Session) Snapshot(key ActionKey) ActionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := ActionState{
		Key:     key,
		Inputs:  copyInputs(s.inputs[key]),
		Loading: s.loading[key],
	}
	if a, ok := s.approvals[key]; ok {
		state.Approval = &a
	}
	if r, ok := s.results[key]; ok {
		state.Result = &r
	}
	return state
}

func copyInputs(in codec.Inputs) codec.Inputs {
	out := make(codec.Inputs, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
