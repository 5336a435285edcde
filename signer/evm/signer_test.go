package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402errors "github.com/vitwit/x402pay/errors"
	"github.com/vitwit/x402pay/types"
)

const (
	// first hardhat development account
	testKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

	usdcBaseSepolia = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	payTo           = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	s.nonce = func() ([32]byte, error) {
		var n [32]byte
		n[31] = 7
		return n, nil
	}
	return s
}

func offer() *types.PaymentRequirements {
	return &types.PaymentRequirements{
		Scheme:            string(types.SchemeExact),
		Network:           "base-sepolia",
		MaxAmountRequired: "10000",
		PayTo:             payTo,
		MaxTimeoutSeconds: 120,
		Asset:             usdcBaseSepolia,
		Extra:             map[string]interface{}{"name": "USDC", "version": "2"},
	}
}

func TestNewSigner(t *testing.T) {
	s := testSigner(t)
	assert.Equal(t, common.HexToAddress(testAddress), s.Address())

	_, err := NewSigner("not-a-key")
	assert.True(t, errors.Is(err, x402errors.ErrConfigError))
}

func TestSign_PayloadRecoversToSigner(t *testing.T) {
	s := testSigner(t)

	payload, err := s.Sign(context.Background(), offer(), types.X402Version1)
	require.NoError(t, err)
	assert.Equal(t, 1, payload.X402Version)
	assert.Equal(t, "exact", payload.Scheme)
	assert.Equal(t, "base-sepolia", payload.Network)

	auth, ok := payload.Payload["authorization"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, testAddress, auth["from"])
	assert.Equal(t, payTo, auth["to"])
	assert.Equal(t, "10000", auth["value"])
	assert.Equal(t, "1699999400", auth["validAfter"])
	assert.Equal(t, "1700000120", auth["validBefore"])

	sig, err := hexutil.Decode(payload.Payload["signature"].(string))
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	var nonce [32]byte
	nonce[31] = 7
	digest, err := Digest(Domain{
		Name:              "USDC",
		Version:           "2",
		ChainID:           big.NewInt(84532),
		VerifyingContract: common.HexToAddress(usdcBaseSepolia),
	}, Authorization{
		From:        common.HexToAddress(testAddress),
		To:          common.HexToAddress(payTo),
		Value:       big.NewInt(10000),
		ValidAfter:  big.NewInt(1699999400),
		ValidBefore: big.NewInt(1700000120),
		Nonce:       nonce,
	})
	require.NoError(t, err)

	signer, err := RecoverSigner(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), signer)
}

// TestDigestMatchesEIP712Encoding rebuilds the digest word by word:
// keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
func TestDigestMatchesEIP712Encoding(t *testing.T) {
	var nonce [32]byte
	nonce[0] = 0xab
	domain := Domain{
		Name:              "USD Coin",
		Version:           "2",
		ChainID:           big.NewInt(8453),
		VerifyingContract: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
	}
	auth := Authorization{
		From:        common.HexToAddress(testAddress),
		To:          common.HexToAddress(payTo),
		Value:       big.NewInt(1_250_000),
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(1_900_000_000),
		Nonce:       nonce,
	}

	word := func(i *big.Int) []byte { return common.LeftPadBytes(i.Bytes(), 32) }
	addr := func(a common.Address) []byte { return common.LeftPadBytes(a.Bytes(), 32) }

	domainSeparator := crypto.Keccak256(
		crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)")),
		crypto.Keccak256([]byte(domain.Name)),
		crypto.Keccak256([]byte(domain.Version)),
		word(domain.ChainID),
		addr(domain.VerifyingContract),
	)
	structHash := crypto.Keccak256(
		crypto.Keccak256([]byte("TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)")),
		addr(auth.From),
		addr(auth.To),
		word(auth.Value),
		word(auth.ValidAfter),
		word(auth.ValidBefore),
		auth.Nonce[:],
	)
	want := crypto.Keccak256([]byte{0x19, 0x01}, domainSeparator, structHash)

	got, err := Digest(domain, auth)
	require.NoError(t, err)
	assert.Equal(t, want, got.Bytes())
}

func TestSign_RejectsUnusableOffers(t *testing.T) {
	s := testSigner(t)

	tests := []struct {
		name   string
		mutate func(*types.PaymentRequirements)
		code   string
	}{
		{"other scheme", func(r *types.PaymentRequirements) { r.Scheme = "upto" }, x402errors.CodeInvalidRequirements},
		{"solana network", func(r *types.PaymentRequirements) { r.Network = "solana-devnet" }, x402errors.CodeInvalidRequirements},
		{"unknown network", func(r *types.PaymentRequirements) { r.Network = "eip155:abc" }, x402errors.CodeInvalidNetworkIdentifier},
		{"missing token name", func(r *types.PaymentRequirements) { r.Extra = nil }, x402errors.CodeInvalidRequirements},
		{"bad asset", func(r *types.PaymentRequirements) { r.Asset = "usdc" }, x402errors.CodeInvalidRequirements},
		{"bad payTo", func(r *types.PaymentRequirements) { r.PayTo = "nowhere" }, x402errors.CodeInvalidRequirements},
		{"bad amount", func(r *types.PaymentRequirements) { r.MaxAmountRequired = "1.5" }, x402errors.CodeInvalidRequirements},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := offer()
			tt.mutate(req)
			_, err := s.Sign(context.Background(), req, types.X402Version1)
			require.Error(t, err)
			assert.Equal(t, tt.code, x402errors.CodeOf(err))
		})
	}
}

func TestSign_V2Offer(t *testing.T) {
	s := testSigner(t)
	req := offer()
	req.Network = "eip155:84532"
	req.MaxAmountRequired = ""
	req.Amount = "500"
	req.MaxTimeoutSeconds = 0

	payload, err := s.Sign(context.Background(), req, types.X402Version2)
	require.NoError(t, err)
	assert.Equal(t, 2, payload.X402Version)
	auth := payload.Payload["authorization"].(map[string]interface{})
	assert.Equal(t, "500", auth["value"])
	assert.Equal(t, "1700000060", auth["validBefore"])
}

func TestSign_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testSigner(t).Sign(ctx, offer(), types.X402Version1)
	assert.ErrorIs(t, err, context.Canceled)
}
