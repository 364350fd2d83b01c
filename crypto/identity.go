package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

// stakingDomain separates staking subaccounts from any other keccak preimage.
const stakingDomain = "neuron-stake"

// Identity is the key the proxy controls its neuron with.
type Identity struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

func NewIdentity(key *ecdsa.PrivateKey) *Identity {
	return &Identity{
		privateKey: key,
		address:    eth_crypto.PubkeyToAddress(key.PublicKey),
	}
}

func GenerateIdentity() (*Identity, error) {
	key, err := eth_crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return NewIdentity(key), nil
}

// LoadIdentity reads a hex encoded secp256k1 private key.
func LoadIdentity(keyFilePath string) (*Identity, error) {
	dat, err := os.ReadFile(keyFilePath)
	if err != nil {
		return nil, err
	}
	key, err := eth_crypto.HexToECDSA(strings.TrimSpace(string(dat)))
	if err != nil {
		return nil, fmt.Errorf("error reading identity key from %v: %w", keyFilePath, err)
	}
	return NewIdentity(key), nil
}

func (id *Identity) Save(keyFilePath string) error {
	key := hex.EncodeToString(eth_crypto.FromECDSA(id.privateKey))
	return os.WriteFile(keyFilePath, []byte(key), 0o600)
}

func (id *Identity) Address() common.Address {
	return id.address
}

func (id *Identity) PublicKey() []byte {
	return eth_crypto.FromECDSAPub(&id.privateKey.PublicKey)
}

// Sign signs the keccak256 digest of data.
func (id *Identity) Sign(data []byte) ([]byte, error) {
	return eth_crypto.Sign(eth_crypto.Keccak256(data), id.privateKey)
}

// VerifySignature checks that sig over data was produced by address.
func VerifySignature(address common.Address, data, sig []byte) bool {
	pub, err := eth_crypto.SigToPub(eth_crypto.Keccak256(data), sig)
	if err != nil {
		return false
	}
	return eth_crypto.PubkeyToAddress(*pub) == address
}

// StakingSubaccount derives the deterministic subaccount a neuron is staked
// into for the given controller and nonce.
func StakingSubaccount(controller common.Address, nonce uint64) common.Hash {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	return eth_crypto.Keccak256Hash(
		[]byte{byte(len(stakingDomain))},
		[]byte(stakingDomain),
		controller.Bytes(),
		n[:],
	)
}
