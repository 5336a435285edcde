// Package evm signs x402 "exact" payments on EVM chains. The payment is an
// EIP-3009 transferWithAuthorization for the token named in the offer,
// signed locally and settled by the resource server's facilitator.
package evm

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vitwit/x402pay/adapters/x402"
	x402errors "github.com/vitwit/x402pay/errors"
	"github.com/vitwit/x402pay/network"
	"github.com/vitwit/x402pay/types"
)

const (
	// validAfterSkew backdates validAfter so a facilitator with a slightly
	// slow clock still accepts the authorization.
	validAfterSkew = 10 * time.Minute

	defaultValidity = 60 * time.Second
)

var errInvalidSignatureLength = errors.New("signature must be 65 bytes")

// Signer holds one EVM private key.
type Signer struct {
	key  *ecdsa.PrivateKey
	from common.Address

	now   func() time.Time
	nonce func() ([32]byte, error)
}

var _ x402.Signer = (*Signer)(nil)

// NewSigner parses a hex private key, with or without 0x.
func NewSigner(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, x402errors.Wrap(x402errors.CodeConfigError, err, "invalid EVM private key")
	}
	return &Signer{
		key:   key,
		from:  crypto.PubkeyToAddress(key.PublicKey),
		now:   time.Now,
		nonce: randomNonce,
	}, nil
}

// Address is the payer address.
func (s *Signer) Address() common.Address {
	return s.from
}

// Sign authorizes a transfer of the offer's amount to its payTo address.
// The token's EIP-712 name and version come from the offer's extra field.
func (s *Signer) Sign(ctx context.Context, req *types.PaymentRequirements, version types.X402Version) (*types.PaymentPayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if types.PaymentScheme(req.Scheme) != types.SchemeExact {
		return nil, x402errors.New(x402errors.CodeInvalidRequirements, "unsupported scheme %q", req.Scheme)
	}

	domain, err := domainFor(req)
	if err != nil {
		return nil, err
	}
	if err := x402.ValidatePayTo(network.NamespaceEVM, req.PayTo); err != nil {
		return nil, x402errors.Wrap(x402errors.CodeInvalidRequirements, err, "invalid payTo")
	}
	value, err := x402.ParseAtomicAmount(req.AtomicAmount())
	if err != nil {
		return nil, x402errors.Wrap(x402errors.CodeInvalidRequirements, err, "invalid amount")
	}

	nonce, err := s.nonce()
	if err != nil {
		return nil, x402errors.Wrap(x402errors.CodePaymentFailed, err, "failed to generate nonce")
	}

	validity := defaultValidity
	if req.MaxTimeoutSeconds > 0 {
		validity = time.Duration(req.MaxTimeoutSeconds) * time.Second
	}
	now := s.now()
	auth := Authorization{
		From:        s.from,
		To:          common.HexToAddress(req.PayTo),
		Value:       value,
		ValidAfter:  big.NewInt(now.Add(-validAfterSkew).Unix()),
		ValidBefore: big.NewInt(now.Add(validity).Unix()),
		Nonce:       nonce,
	}

	digest, err := Digest(domain, auth)
	if err != nil {
		return nil, x402errors.Wrap(x402errors.CodePaymentFailed, err, "failed to hash authorization")
	}
	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return nil, x402errors.Wrap(x402errors.CodePaymentFailed, err, "failed to sign authorization")
	}
	sig[crypto.RecoveryIDOffset] += 27

	return &types.PaymentPayload{
		X402Version: int(version),
		Scheme:      req.Scheme,
		Network:     req.Network,
		Payload: map[string]interface{}{
			"signature": hexutil.Encode(sig),
			"authorization": map[string]interface{}{
				"from":        auth.From.Hex(),
				"to":          auth.To.Hex(),
				"value":       auth.Value.String(),
				"validAfter":  auth.ValidAfter.String(),
				"validBefore": auth.ValidBefore.String(),
				"nonce":       hexutil.Encode(auth.Nonce[:]),
			},
		},
	}, nil
}

func domainFor(req *types.PaymentRequirements) (Domain, error) {
	id, err := network.Resolve(req.Network)
	if err != nil {
		return Domain{}, err
	}
	if id.Namespace != network.NamespaceEVM {
		return Domain{}, x402errors.New(x402errors.CodeInvalidRequirements, "network %s is not an EVM chain", req.Network)
	}
	chainID, ok := new(big.Int).SetString(id.Reference, 10)
	if !ok {
		return Domain{}, x402errors.New(x402errors.CodeInvalidNetworkIdentifier, "invalid chain id %q", id.Reference)
	}

	if !common.IsHexAddress(req.Asset) {
		return Domain{}, x402errors.New(x402errors.CodeInvalidRequirements, "asset %q is not a contract address", req.Asset)
	}
	name, _ := req.Extra["name"].(string)
	version, _ := req.Extra["version"].(string)
	if name == "" || version == "" {
		return Domain{}, x402errors.New(x402errors.CodeInvalidRequirements, "offer for %s lacks the token's EIP-712 name and version", req.Asset)
	}

	return Domain{
		Name:              name,
		Version:           version,
		ChainID:           chainID,
		VerifyingContract: common.HexToAddress(req.Asset),
	}, nil
}

func randomNonce() ([32]byte, error) {
	var n [32]byte
	_, err := rand.Read(n[:])
	return n, err
}
