package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/calehh/vp-proxy/types"
)

var _ GovernanceClient = &MockClient{}
var _ LedgerClient = &MockClient{}

var errMockUnavailable = errors.New("mock service unavailable")

// MockClient is an in-memory governance service and ledger. It backs the
// dry-run mode and the tests.
type MockClient struct {
	mtx sync.Mutex

	proposals map[types.ProposalID]*types.Proposal
	failures  map[string]int
	hooks     map[string]func()

	Votes     []RegisterVote
	Claims    []ClaimOrRefresh
	Configs   []Configure
	Transfers []TransferArgs
	Lists     []ListProposalsRequest

	// RejectTransfer makes the ledger reject transfers as a business rule.
	RejectTransfer string
	// ClaimedNeuron is answered by claim_or_refresh.
	ClaimedNeuron types.NeuronID
}

func NewMockClient() *MockClient {
	return &MockClient{
		proposals:     make(map[types.ProposalID]*types.Proposal),
		failures:      make(map[string]int),
		hooks:         make(map[string]func()),
		ClaimedNeuron: "0a0b0c",
	}
}

// AddProposal stores a copy of p.
func (m *MockClient) AddProposal(p types.Proposal) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	cp := p
	cp.Ballots = make(map[types.NeuronID]types.Ballot, len(p.Ballots))
	for k, v := range p.Ballots {
		cp.Ballots[k] = v
	}
	m.proposals[p.ID] = &cp
}

func (m *MockClient) SetBallot(id types.ProposalID, neuron types.NeuronID, vote types.Vote) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if p, ok := m.proposals[id]; ok {
		p.Ballots[neuron] = types.Ballot{Vote: vote}
	}
}

func (m *MockClient) SetRewardDistributed(id types.ProposalID, at uint64) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if p, ok := m.proposals[id]; ok {
		p.RewardDistributedAt = at
	}
}

// FailNext makes the next n calls of op fail with a remote error.
func (m *MockClient) FailNext(op string, n int) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.failures[op] = n
}

// OnCall runs fn, outside the mock's lock, every time op is called and before
// it is answered. It lets tests interleave work at the suspension point.
func (m *MockClient) OnCall(op string, fn func()) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.hooks[op] = fn
}

func (m *MockClient) enter(op string) error {
	m.mtx.Lock()
	hook := m.hooks[op]
	m.mtx.Unlock()
	if hook != nil {
		hook()
	}
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.failures[op] > 0 {
		m.failures[op]--
		return &RemoteError{Op: op, Err: errMockUnavailable}
	}
	return nil
}

func (m *MockClient) ListProposals(ctx context.Context, req ListProposalsRequest) ([]types.Proposal, error) {
	if err := m.enter("list_proposals"); err != nil {
		return nil, err
	}
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.Lists = append(m.Lists, req)
	excluded := make(map[types.ActionType]bool, len(req.ExcludeTypes))
	for _, t := range req.ExcludeTypes {
		excluded[t] = true
	}
	ids := make([]types.ProposalID, 0, len(m.proposals))
	for id, p := range m.proposals {
		if excluded[p.ActionType] {
			continue
		}
		if req.BeforeProposal != nil && id >= *req.BeforeProposal {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	limit := int(req.Limit)
	if limit <= 0 || limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	res := make([]types.Proposal, 0, len(ids))
	for _, id := range ids {
		res = append(res, *m.proposals[id])
	}
	return res, nil
}

func (m *MockClient) GetProposal(ctx context.Context, id types.ProposalID) (*types.Proposal, error) {
	if err := m.enter("get_proposal"); err != nil {
		return nil, err
	}
	m.mtx.Lock()
	defer m.mtx.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return nil, &DomainError{Op: "get_proposal", Reason: fmt.Sprintf("proposal %d not found", id), Err: ErrProposalNotFound}
	}
	cp := *p
	cp.Ballots = make(map[types.NeuronID]types.Ballot, len(p.Ballots))
	for k, v := range p.Ballots {
		cp.Ballots[k] = v
	}
	return &cp, nil
}

func (m *MockClient) ManageNeuron(ctx context.Context, req ManageNeuronRequest) (*ManageNeuronResponse, error) {
	if err := m.enter("manage_neuron"); err != nil {
		return nil, err
	}
	m.mtx.Lock()
	defer m.mtx.Unlock()
	res := &ManageNeuronResponse{Command: req.Command()}
	switch {
	case req.ClaimOrRefresh != nil:
		m.Claims = append(m.Claims, *req.ClaimOrRefresh)
		res.RefreshedNeuronID = m.ClaimedNeuron
	case req.Configure != nil:
		m.Configs = append(m.Configs, *req.Configure)
	case req.RegisterVote != nil:
		m.Votes = append(m.Votes, *req.RegisterVote)
	default:
		return nil, &DomainError{Op: "manage_neuron", Reason: "missing command"}
	}
	return res, nil
}

func (m *MockClient) Transfer(ctx context.Context, args TransferArgs) (uint64, error) {
	if err := m.enter("transfer"); err != nil {
		return 0, err
	}
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.RejectTransfer != "" {
		return 0, &DomainError{Op: "transfer", Reason: m.RejectTransfer}
	}
	m.Transfers = append(m.Transfers, args)
	return uint64(len(m.Transfers)), nil
}

func (m *MockClient) VotesCast() []RegisterVote {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return append([]RegisterVote(nil), m.Votes...)
}

func (m *MockClient) TransfersMade() []TransferArgs {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return append([]TransferArgs(nil), m.Transfers...)
}

func (m *MockClient) ClaimsMade() []ClaimOrRefresh {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return append([]ClaimOrRefresh(nil), m.Claims...)
}
