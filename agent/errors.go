package agent

import (
	"errors"
	"fmt"
)

// configuration errors
var (
	ErrGovernanceNotSet = errors.New("governance service not set")
	ErrLedgerNotSet     = errors.New("ledger service not set")
	ErrIdentityNotSet   = errors.New("proxy identity not set")
	ErrJournalNotSet    = errors.New("vote journal not set")
)

var ErrUnauthorized = errors.New("unauthorized")

// state errors
var (
	ErrAlreadyWatching     = errors.New("already watching proposals")
	ErrNotWatching         = errors.New("not watching proposals")
	ErrWatchingStopped     = errors.New("watching stopped")
	ErrNeuronAlreadyExists = errors.New("neuron already exists")
	ErrNeuronNotSet        = errors.New("neuron not set")
	ErrBootstrapInProgress = errors.New("neuron bootstrap in progress")
	ErrNoPendingClaim      = errors.New("no pending neuron claim")
	ErrProposalNotWatched  = errors.New("proposal not watched")
	ErrProposalLocked      = errors.New("proposal locked by another vote")
	ErrProposalNotFound    = errors.New("proposal not found")
	ErrInvalidMember       = errors.New("invalid council member")
)

// RemoteError is a transport or remote execution failure. It is retried with
// a bounded attempt count.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: remote call fail: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// DomainError is a business rule rejection by the remote service. Retrying
// it can't change the outcome.
type DomainError struct {
	Op     string
	Reason string
	Err    error
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: rejected: %s", e.Op, e.Reason)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

func IsDomain(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}

// ClaimPendingError reports funds transferred to the staking subaccount that
// could not be claimed yet. The claim must be retried with ClaimNeuron.
type ClaimPendingError struct {
	Nonce uint64
	Err   error
}

func (e *ClaimPendingError) Error() string {
	return fmt.Sprintf("funds transferred but neuron unclaimed (nonce %d): %v", e.Nonce, e.Err)
}

func (e *ClaimPendingError) Unwrap() error {
	return e.Err
}
