package agent

import (
	"context"
	"fmt"

	"github.com/calehh/vp-proxy/crypto"
	"github.com/calehh/vp-proxy/types"
)

type bootstrapDeps struct {
	gov      GovernanceClient
	ledger   LedgerClient
	govAddr  string
	identity *crypto.Identity
}

// beginBootstrap checks that no neuron exists and takes the bootstrap flag.
func (e *Engine) beginBootstrap(needLedger bool) (bootstrapDeps, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.neuron != "" {
		return bootstrapDeps{}, ErrNeuronAlreadyExists
	}
	if e.bootstrapping {
		return bootstrapDeps{}, ErrBootstrapInProgress
	}
	if e.gov == nil {
		return bootstrapDeps{}, ErrGovernanceNotSet
	}
	if needLedger && e.ledger == nil {
		return bootstrapDeps{}, ErrLedgerNotSet
	}
	if e.identity == nil {
		return bootstrapDeps{}, ErrIdentityNotSet
	}
	e.bootstrapping = true
	return bootstrapDeps{gov: e.gov, ledger: e.ledger, govAddr: e.govAddr, identity: e.identity}, nil
}

func (e *Engine) endBootstrap() {
	e.mtx.Lock()
	e.bootstrapping = false
	e.mtx.Unlock()
}

// CreateNeuron stakes amount into the subaccount derived from the proxy
// identity and nonce, then claims the resulting neuron. When the transfer
// went through but the claim failed a *ClaimPendingError is returned and the
// claim has to be finished with ClaimNeuron.
func (e *Engine) CreateNeuron(ctx context.Context, amount uint64, nonce uint64) (types.NeuronID, error) {
	if pending, ok := e.PendingClaim(); ok {
		return "", fmt.Errorf("%w: claim pending for nonce %d", ErrBootstrapInProgress, pending)
	}
	deps, err := e.beginBootstrap(true)
	if err != nil {
		return "", err
	}
	defer e.endBootstrap()

	sub := crypto.StakingSubaccount(deps.identity.Address(), nonce)
	index, err := deps.ledger.Transfer(ctx, TransferArgs{
		To:     Account{Owner: deps.govAddr, Subaccount: sub.Hex()},
		Amount: amount,
		Memo:   nonce,
	})
	if err != nil {
		if IsRemote(err) {
			recordRemoteFailure("transfer")
		}
		e.logger.Error("stake transfer fail", "amount", amount, "nonce", nonce, "err", err)
		return "", err
	}
	e.logger.Info("stake transferred", "amount", amount, "nonce", nonce, "block", index)

	e.mtx.Lock()
	n := nonce
	e.pendingClaim = &n
	e.mtx.Unlock()
	e.persist()

	neuron, err := e.claim(ctx, deps, nonce)
	if err != nil {
		e.logger.Error("claim neuron fail", "nonce", nonce, "err", err)
		return "", &ClaimPendingError{Nonce: nonce, Err: err}
	}
	return neuron, nil
}

// ClaimNeuron finishes a bootstrap whose claim failed after the transfer.
func (e *Engine) ClaimNeuron(ctx context.Context) (types.NeuronID, error) {
	nonce, ok := e.PendingClaim()
	if !ok {
		e.mtx.Lock()
		exists := e.neuron != ""
		e.mtx.Unlock()
		if exists {
			return "", ErrNeuronAlreadyExists
		}
		return "", ErrNoPendingClaim
	}
	deps, err := e.beginBootstrap(false)
	if err != nil {
		return "", err
	}
	defer e.endBootstrap()

	neuron, err := e.claim(ctx, deps, nonce)
	if err != nil {
		e.logger.Error("claim neuron fail", "nonce", nonce, "err", err)
		return "", &ClaimPendingError{Nonce: nonce, Err: err}
	}
	return neuron, nil
}

func (e *Engine) claim(ctx context.Context, deps bootstrapDeps, nonce uint64) (types.NeuronID, error) {
	sub := crypto.StakingSubaccount(deps.identity.Address(), nonce)
	res, err := deps.gov.ManageNeuron(ctx, ManageNeuronRequest{
		Subaccount: sub.Hex(),
		ClaimOrRefresh: &ClaimOrRefresh{
			Memo:       nonce,
			Controller: deps.identity.Address().Hex(),
		},
	})
	if err != nil {
		if IsRemote(err) {
			recordRemoteFailure("claim_or_refresh")
		}
		return "", err
	}
	if res.RefreshedNeuronID == "" {
		return "", &DomainError{Op: "claim_or_refresh", Reason: "no neuron id returned"}
	}

	e.mtx.Lock()
	e.neuron = res.RefreshedNeuronID
	e.pendingClaim = nil
	e.mtx.Unlock()
	e.logger.Info("neuron claimed", "neuron", res.RefreshedNeuronID, "nonce", nonce)
	e.persist()
	return res.RefreshedNeuronID, nil
}

// IncreaseDissolveDelay extends the dissolve delay of the proxy's neuron.
func (e *Engine) IncreaseDissolveDelay(ctx context.Context, seconds uint32) error {
	e.mtx.Lock()
	gov, neuron := e.gov, e.neuron
	e.mtx.Unlock()
	if gov == nil {
		return ErrGovernanceNotSet
	}
	if neuron == "" {
		return ErrNeuronNotSet
	}
	_, err := gov.ManageNeuron(ctx, ManageNeuronRequest{
		Subaccount: string(neuron),
		Configure:  &Configure{IncreaseDissolveDelay: seconds},
	})
	if err != nil {
		if IsRemote(err) {
			recordRemoteFailure("configure")
		}
		e.logger.Error("increase dissolve delay fail", "neuron", neuron, "err", err)
		return err
	}
	e.logger.Info("dissolve delay increased", "neuron", neuron, "seconds", seconds)
	return nil
}
