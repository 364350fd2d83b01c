package agent

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/calehh/vp-proxy/crypto"
	"github.com/calehh/vp-proxy/types"
)

const (
	MaxPageLimit = 100

	HeaderProxyAddress   = "X-Proxy-Address"
	HeaderProxySignature = "X-Proxy-Signature"

	defaultHTTPTimeout = 30 * time.Second
)

type ListProposalsRequest struct {
	Limit          uint32             `json:"limit"`
	BeforeProposal *types.ProposalID  `json:"before_proposal,omitempty"`
	ExcludeTypes   []types.ActionType `json:"exclude_type"`
}

type ListProposalsResponse struct {
	Proposals []types.Proposal `json:"proposals"`
}

type GetProposalRequest struct {
	ProposalID types.ProposalID `json:"proposal_id"`
}

type ClaimOrRefresh struct {
	Memo       uint64 `json:"memo"`
	Controller string `json:"controller"`
}

type Configure struct {
	IncreaseDissolveDelay uint32 `json:"increase_dissolve_delay"`
}

type RegisterVote struct {
	Proposal types.ProposalID `json:"proposal"`
	Vote     types.Vote       `json:"vote"`
}

// ManageNeuronRequest carries exactly one command for the neuron owning
// Subaccount.
type ManageNeuronRequest struct {
	Subaccount     string          `json:"subaccount"`
	ClaimOrRefresh *ClaimOrRefresh `json:"claim_or_refresh,omitempty"`
	Configure      *Configure      `json:"configure,omitempty"`
	RegisterVote   *RegisterVote   `json:"register_vote,omitempty"`
}

func (r *ManageNeuronRequest) Command() string {
	switch {
	case r.ClaimOrRefresh != nil:
		return "claim_or_refresh"
	case r.Configure != nil:
		return "configure"
	case r.RegisterVote != nil:
		return "register_vote"
	default:
		return "unknown"
	}
}

type ManageNeuronResponse struct {
	Command           string         `json:"command"`
	RefreshedNeuronID types.NeuronID `json:"refreshed_neuron_id,omitempty"`
}

type Account struct {
	Owner      string `json:"owner"`
	Subaccount string `json:"subaccount,omitempty"`
}

type TransferArgs struct {
	To     Account `json:"to"`
	Amount uint64  `json:"amount"`
	Memo   uint64  `json:"memo"`
}

type TransferResponse struct {
	BlockIndex uint64 `json:"block_index"`
}

// GovernanceClient is the remote governance service.
type GovernanceClient interface {
	ListProposals(ctx context.Context, req ListProposalsRequest) ([]types.Proposal, error)
	GetProposal(ctx context.Context, id types.ProposalID) (*types.Proposal, error)
	ManageNeuron(ctx context.Context, req ManageNeuronRequest) (*ManageNeuronResponse, error)
}

// LedgerClient is the remote token ledger.
type LedgerClient interface {
	Transfer(ctx context.Context, args TransferArgs) (uint64, error)
}

var _ GovernanceClient = &HTTPGovernanceClient{}
var _ LedgerClient = &HTTPLedgerClient{}

// remoteReply is the envelope every remote endpoint answers with.
type remoteReply struct {
	Result json.RawMessage `json:"result"`
	Error  *remoteFault    `json:"error,omitempty"`
}

type remoteFault struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const faultNotFound = "not_found"

type httpCaller struct {
	url      string
	cli      *http.Client
	identity *crypto.Identity
	logger   cmtlog.Logger
}

func (c *httpCaller) call(ctx context.Context, op string, req any, res any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	endpoint, err := url.JoinPath(c.url, op)
	if err != nil {
		c.logger.Error("join url fail", "err", err)
		return err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	hreq.Header.Set("Content-Type", "application/json")
	if c.identity != nil {
		sig, err := c.identity.Sign(body)
		if err != nil {
			return err
		}
		hreq.Header.Set(HeaderProxyAddress, c.identity.Address().Hex())
		hreq.Header.Set(HeaderProxySignature, hex.EncodeToString(sig))
	}
	resp, err := c.cli.Do(hreq)
	if err != nil {
		return &RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("read response body fail", "op", op, "err", err)
		return &RemoteError{Op: op, Err: err}
	}
	var reply remoteReply
	if err := json.Unmarshal(buf, &reply); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &RemoteError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
		}
		c.logger.Error("unmarshal response body fail", "op", op, "err", err)
		return &RemoteError{Op: op, Err: err}
	}
	if reply.Error != nil {
		if resp.StatusCode >= http.StatusInternalServerError {
			return &RemoteError{Op: op, Err: errors.New(reply.Error.Message)}
		}
		de := &DomainError{Op: op, Reason: reply.Error.Message}
		if reply.Error.Code == faultNotFound {
			de.Err = ErrProposalNotFound
		}
		return de
	}
	if resp.StatusCode != http.StatusOK {
		return &RemoteError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if res == nil {
		return nil
	}
	if err := json.Unmarshal(reply.Result, res); err != nil {
		c.logger.Error("unmarshal result fail", "op", op, "err", err)
		return &RemoteError{Op: op, Err: err}
	}
	return nil
}

// HTTPGovernanceClient talks JSON over HTTP to the governance service. When
// an identity is set every request body is signed with it.
type HTTPGovernanceClient struct {
	httpCaller
}

func NewHTTPGovernanceClient(url string, identity *crypto.Identity, logger cmtlog.Logger) *HTTPGovernanceClient {
	return &HTTPGovernanceClient{httpCaller{
		url:      url,
		cli:      &http.Client{Timeout: defaultHTTPTimeout},
		identity: identity,
		logger:   logger.With("module", "governance"),
	}}
}

func (c *HTTPGovernanceClient) ListProposals(ctx context.Context, req ListProposalsRequest) ([]types.Proposal, error) {
	var res ListProposalsResponse
	if err := c.call(ctx, "list_proposals", req, &res); err != nil {
		return nil, err
	}
	return res.Proposals, nil
}

func (c *HTTPGovernanceClient) GetProposal(ctx context.Context, id types.ProposalID) (*types.Proposal, error) {
	var res types.Proposal
	if err := c.call(ctx, "get_proposal", GetProposalRequest{ProposalID: id}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPGovernanceClient) ManageNeuron(ctx context.Context, req ManageNeuronRequest) (*ManageNeuronResponse, error) {
	var res ManageNeuronResponse
	if err := c.call(ctx, "manage_neuron", req, &res); err != nil {
		return nil, err
	}
	if res.Command == "" {
		return nil, &RemoteError{Op: "manage_neuron", Err: errors.New("could not handle the manage neuron response")}
	}
	return &res, nil
}

type HTTPLedgerClient struct {
	httpCaller
}

func NewHTTPLedgerClient(url string, identity *crypto.Identity, logger cmtlog.Logger) *HTTPLedgerClient {
	return &HTTPLedgerClient{httpCaller{
		url:      url,
		cli:      &http.Client{Timeout: defaultHTTPTimeout},
		identity: identity,
		logger:   logger.With("module", "ledger"),
	}}
}

func (c *HTTPLedgerClient) Transfer(ctx context.Context, args TransferArgs) (uint64, error) {
	var res TransferResponse
	if err := c.call(ctx, "transfer", args, &res); err != nil {
		return 0, err
	}
	return res.BlockIndex, nil
}

// HTTPClientFactory builds HTTP clients signing with identity.
type HTTPClientFactory struct {
	Identity *crypto.Identity
	Logger   cmtlog.Logger
}

func (f HTTPClientFactory) Governance(url string) GovernanceClient {
	return NewHTTPGovernanceClient(url, f.Identity, f.Logger)
}

func (f HTTPClientFactory) Ledger(url string) LedgerClient {
	return NewHTTPLedgerClient(url, f.Identity, f.Logger)
}

// MockClientFactory answers every address with the same MockClient.
type MockClientFactory struct {
	Mock *MockClient
}

func (f MockClientFactory) Governance(string) GovernanceClient { return f.Mock }
func (f MockClientFactory) Ledger(string) LedgerClient         { return f.Mock }
