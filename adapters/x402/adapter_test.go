package x402

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402errors "github.com/vitwit/x402pay/errors"
	"github.com/vitwit/x402pay/network"
	"github.com/vitwit/x402pay/types"
)

const (
	evmPayTo  = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
	baseUSDC  = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	solPayTo  = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	solUSDC   = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	paidBody  = `{"data":"paid content"}`
	freeBody  = `{"data":"free content"}`
	txHashHex = "0xabc123"
)

func v1Body() []byte {
	body, _ := json.Marshal(types.X402Response{
		X402Version: 1,
		Error:       "X-PAYMENT header is required",
		Accepts: []types.PaymentRequirements{
			{
				Scheme:            "exact",
				Network:           "base",
				MaxAmountRequired: "10000",
				Resource:          "https://api.example.com/weather",
				Description:       "Weather data",
				MimeType:          "application/json",
				PayTo:             evmPayTo,
				MaxTimeoutSeconds: 60,
				Asset:             baseUSDC,
				Extra:             map[string]interface{}{"name": "USD Coin", "version": "2", "method": "post"},
			},
			{
				Scheme:            "exact",
				Network:           "solana",
				MaxAmountRequired: "5000",
				PayTo:             solPayTo,
				Asset:             solUSDC,
			},
		},
	})
	return body
}

func v2Header() string {
	data, _ := json.Marshal(types.X402Response{
		X402Version: 2,
		Resource:    &types.ResourceInfo{URL: "https://api.example.com/v2", Description: "v2 resource"},
		Accepts: []types.PaymentRequirements{
			{
				Scheme:  "exact",
				Network: "eip155:84532",
				Amount:  "1234567",
				PayTo:   evmPayTo,
				Asset:   baseUSDC,
			},
		},
	})
	return base64.StdEncoding.EncodeToString(data)
}

// paywall serves a v1 x402 paywall and accepts any X-PAYMENT header.
func paywall(t *testing.T, onPaid func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(types.HeaderPayment) == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			_, _ = w.Write(v1Body())
			return
		}
		if onPaid != nil {
			onPaid(r)
		}
		settlement, _ := json.Marshal(types.SettlementResult{Success: true, Transaction: txHashHex, Network: "base"})
		w.Header().Set(types.HeaderPaymentResponse, base64.StdEncoding.EncodeToString(settlement))
		_, _ = w.Write([]byte(paidBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDetect(t *testing.T) {
	paid := paywall(t, nil)
	free := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(freeBody))
	}))
	defer free.Close()
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `L402 macaroon="abc", invoice="lnbc1"`)
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer other.Close()

	a := New()
	ok, err := a.Detect(context.Background(), paid.URL, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Detect(context.Background(), free.URL, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.Detect(context.Background(), other.URL, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDetect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New().Detect(context.Background(), url, nil)
	assert.Error(t, err)
}

func TestQuote_V1(t *testing.T) {
	srv := paywall(t, nil)

	q, err := New().Quote(context.Background(), srv.URL, nil)
	require.NoError(t, err)

	assert.Equal(t, Name, q.Protocol)
	assert.Equal(t, "$0.01", q.Amount.String())
	assert.Equal(t, "eip155:8453", q.Network)
	assert.Equal(t, evmPayTo, q.PayTo)

	require.Len(t, q.AllAccepts, 2)
	assert.Equal(t, network.NamespaceEVM, q.AllAccepts[0].Namespace)
	assert.Equal(t, "10000", q.AllAccepts[0].Amount.String())
	assert.Equal(t, network.NamespaceSVM, q.AllAccepts[1].Namespace)
	assert.Equal(t, "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp", q.AllAccepts[1].Network)
	assert.Equal(t, "$0.01", q.AllAccepts[1].Price.String(), "half a cent rounds up")

	require.NotNil(t, q.InputHints)
	assert.Equal(t, "POST", q.InputHints.Method)
	assert.Equal(t, "Weather data", q.InputHints.Description)
}

func TestQuoteFromResponse_V2Header(t *testing.T) {
	resp := &types.PaymentRequiredResponse{
		URL:     "https://api.example.com/v2",
		Status:  http.StatusPaymentRequired,
		Headers: http.Header{types.HeaderPaymentRequired: []string{v2Header()}},
	}

	q, err := New().QuoteFromResponse(context.Background(), resp)
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, "$1.24", q.Amount.String())
	assert.Equal(t, "eip155:84532", q.Network)
	assert.Equal(t, "v2 resource", q.InputHints.Description)
}

func TestQuoteFromResponse_NotX402(t *testing.T) {
	q, err := New().QuoteFromResponse(context.Background(), &types.PaymentRequiredResponse{
		Status: http.StatusPaymentRequired,
		Body:   []byte("pay with lightning"),
	})
	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestQuote_InvalidRequirements(t *testing.T) {
	body := `{"x402Version":1,"accepts":[{"scheme":"exact","network":"base","maxAmountRequired":"100","payTo":"not-an-address","asset":"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"}]}`
	_, err := New().QuoteFromResponse(context.Background(), &types.PaymentRequiredResponse{
		Status: http.StatusPaymentRequired,
		Body:   []byte(body),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, x402errors.ErrInvalidRequirements))

	missing := `{"x402Version":1,"accepts":[{"scheme":"exact","network":"base","payTo":"` + evmPayTo + `","asset":"x"}]}`
	_, err = New().QuoteFromResponse(context.Background(), &types.PaymentRequiredResponse{
		Status: http.StatusPaymentRequired,
		Body:   []byte(missing),
	})
	assert.True(t, errors.Is(err, x402errors.ErrInvalidRequirements))
}

func TestQuote_ForeignNamespaceKept(t *testing.T) {
	body := `{"x402Version":2,"accepts":[{"scheme":"exact","network":"cosmos:cosmoshub-4","amount":"100","payTo":"cosmos1abc","asset":"uatom"}]}`
	q, err := New().QuoteFromResponse(context.Background(), &types.PaymentRequiredResponse{
		Status: http.StatusPaymentRequired,
		Body:   []byte(body),
	})
	require.NoError(t, err)
	require.Len(t, q.AllAccepts, 1)
	assert.Equal(t, network.Namespace("cosmos"), q.AllAccepts[0].Namespace)
}

func TestExecute(t *testing.T) {
	var gotPayment types.PaymentPayload
	var gotBody string
	srv := paywall(t, func(r *http.Request) {
		data, err := base64.StdEncoding.DecodeString(r.Header.Get(types.HeaderPayment))
		if err == nil {
			_ = json.Unmarshal(data, &gotPayment)
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	})

	signer := SignerFunc(func(_ context.Context, req *types.PaymentRequirements, version types.X402Version) (*types.PaymentPayload, error) {
		return &types.PaymentPayload{
			Scheme:  req.Scheme,
			Network: req.Network,
			Payload: map[string]interface{}{"signature": "0xsig", "to": req.PayTo},
		}, nil
	})
	a := New(WithSigner(signer))

	q, err := a.Quote(context.Background(), srv.URL, nil)
	require.NoError(t, err)

	res, err := a.Execute(context.Background(), &types.PaymentRequest{
		URL:    srv.URL,
		Method: http.MethodPost,
		Body:   []byte(`{"q":1}`),
		Amount: q.Amount,
		Accept: &q.AllAccepts[1],
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, paidBody, string(res.Body))
	assert.Equal(t, txHashHex, res.TxHash)
	assert.Equal(t, "eip155:8453", res.Network, "settlement network in CAIP-2 form")

	assert.Equal(t, 1, gotPayment.X402Version)
	assert.Equal(t, "solana", gotPayment.Network)
	assert.Equal(t, solPayTo, gotPayment.Payload["to"])
	assert.Equal(t, `{"q":1}`, gotBody)
}

func TestExecute_WithoutAcceptUsesFirstOffer(t *testing.T) {
	var signedOn string
	srv := paywall(t, nil)
	a := New(WithSigner(SignerFunc(func(_ context.Context, req *types.PaymentRequirements, _ types.X402Version) (*types.PaymentPayload, error) {
		signedOn = req.Network
		return &types.PaymentPayload{Scheme: req.Scheme, Network: req.Network}, nil
	})))

	_, err := a.Execute(context.Background(), &types.PaymentRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "base", signedOn)
}

func TestExecute_Failures(t *testing.T) {
	srv := paywall(t, nil)

	_, err := New().Execute(context.Background(), &types.PaymentRequest{URL: srv.URL})
	assert.True(t, errors.Is(err, x402errors.ErrPaymentFailed), "no signer")

	failing := New(WithSigner(SignerFunc(func(context.Context, *types.PaymentRequirements, types.X402Version) (*types.PaymentPayload, error) {
		return nil, errors.New("insufficient funds")
	})))
	_, err = failing.Execute(context.Background(), &types.PaymentRequest{URL: srv.URL})
	require.Error(t, err)
	assert.True(t, errors.Is(err, x402errors.ErrPaymentFailed))
	assert.Contains(t, err.Error(), "insufficient funds")

	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"x402Version":1,"error":"invalid signature","accepts":[]}`))
	}))
	defer rejecting.Close()

	payer := New(WithSigner(SignerFunc(func(context.Context, *types.PaymentRequirements, types.X402Version) (*types.PaymentPayload, error) {
		return &types.PaymentPayload{}, nil
	})))
	q, err := New().Quote(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	_, err = payer.Execute(context.Background(), &types.PaymentRequest{URL: rejecting.URL, Accept: &q.AllAccepts[0]})
	require.Error(t, err)
	assert.True(t, errors.Is(err, x402errors.ErrPaymentFailed))
}

func TestExecute_UnsuccessfulSettlement(t *testing.T) {
	tests := []struct {
		name       string
		settlement types.SettlementResult
		reason     string
	}{
		{"with reason", types.SettlementResult{ErrorReason: "insufficient_funds"}, "insufficient_funds"},
		{"without reason", types.SettlementResult{}, "unsuccessful settlement"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				data, _ := json.Marshal(tt.settlement)
				w.Header().Set(types.HeaderPaymentResponse, base64.StdEncoding.EncodeToString(data))
				_, _ = w.Write([]byte(paidBody))
			}))
			defer srv.Close()

			q, err := New().Quote(context.Background(), paywall(t, nil).URL, nil)
			require.NoError(t, err)

			payer := New(WithSigner(SignerFunc(func(context.Context, *types.PaymentRequirements, types.X402Version) (*types.PaymentPayload, error) {
				return &types.PaymentPayload{}, nil
			})))
			_, err = payer.Execute(context.Background(), &types.PaymentRequest{URL: srv.URL, Accept: &q.AllAccepts[0]})
			require.Error(t, err)
			assert.True(t, errors.Is(err, x402errors.ErrPaymentFailed))
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestExecute_NetworkWithoutSettlementHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(paidBody))
	}))
	defer srv.Close()

	q, err := New().Quote(context.Background(), paywall(t, nil).URL, nil)
	require.NoError(t, err)

	payer := New(WithSigner(SignerFunc(func(context.Context, *types.PaymentRequirements, types.X402Version) (*types.PaymentPayload, error) {
		return &types.PaymentPayload{}, nil
	})))
	res, err := payer.Execute(context.Background(), &types.PaymentRequest{URL: srv.URL, Accept: &q.AllAccepts[1]})
	require.NoError(t, err)
	assert.Equal(t, "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp", res.Network)
	assert.Empty(t, res.TxHash)
}

func TestValidatePayTo(t *testing.T) {
	assert.NoError(t, ValidatePayTo(network.NamespaceEVM, evmPayTo))
	assert.Error(t, ValidatePayTo(network.NamespaceEVM, "209693Bc6afc0C5328bA36FaF03C514EF312287C"))
	assert.Error(t, ValidatePayTo(network.NamespaceEVM, "0x1234"))
	assert.NoError(t, ValidatePayTo(network.NamespaceSVM, solPayTo))
	assert.Error(t, ValidatePayTo(network.NamespaceSVM, "0OIl"))
	assert.Error(t, ValidatePayTo(network.NamespaceSVM, ""))
	assert.NoError(t, ValidatePayTo(network.Namespace("cosmos"), "cosmos1abc"))
}

func TestAtomicToUSD(t *testing.T) {
	amount, err := ParseAtomicAmount("1000000")
	require.NoError(t, err)
	m, err := AtomicToUSD(amount, 6)
	require.NoError(t, err)
	assert.Equal(t, "$1.00", m.String())

	amount, _ = ParseAtomicAmount("1")
	m, err = AtomicToUSD(amount, 6)
	require.NoError(t, err)
	assert.Equal(t, "$0.01", m.String())

	amount, _ = ParseAtomicAmount("0")
	m, err = AtomicToUSD(amount, 6)
	require.NoError(t, err)
	assert.True(t, m.IsZero())

	_, err = ParseAtomicAmount("-5")
	assert.Error(t, err)
	_, err = ParseAtomicAmount("1.5")
	assert.Error(t, err)
}
