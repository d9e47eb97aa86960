package app

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/remitchain/relayer-service/internal/config"
	"github.com/remitchain/relayer-service/internal/domain"
	"github.com/remitchain/relayer-service/internal/store"
	"github.com/remitchain/relayer-service/pkg/ledgerclient"
)

var testSigning = SigningParams{Domain: "remitchain", Action: "send", ChainID: "1337"}

type ledgerStub struct {
	mu        sync.Mutex
	height    uint64
	heightErr error
	// disconnected keeps the cached height readable while the connection is down.
	disconnected bool
	submitErr    error
	txHash       string
	calls        []ledgerclient.Call
	entered      chan struct{}
	release      chan struct{}
}

func (l *ledgerStub) CurrentBlockHeight(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.heightErr != nil {
		return 0, l.heightErr
	}
	return l.height, nil
}

func (l *ledgerStub) Submit(ctx context.Context, call ledgerclient.Call) (string, error) {
	if l.entered != nil {
		l.entered <- struct{}{}
		<-l.release
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
	if l.submitErr != nil {
		return "", l.submitErr
	}
	if l.txHash == "" {
		return "0xhash", nil
	}
	return l.txHash, nil
}

func (l *ledgerStub) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.heightErr == nil && !l.disconnected
}

func (l *ledgerStub) Endpoint() string      { return "ws://ledger.test" }
func (l *ledgerStub) SignerAddress() string { return "0xrelayer" }

func (l *ledgerStub) submitCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

type publisherStub struct {
	mu     sync.Mutex
	events []string
}

func (p *publisherStub) Publish(ctx context.Context, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, routingKey)
	return nil
}

func (p *publisherStub) Close() {}

func (p *publisherStub) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type testRelayer struct {
	svc       *Service
	worker    *Worker
	store     *store.MemoryStore
	ledger    *ledgerStub
	publisher *publisherStub
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRelayer(t *testing.T, mutate func(*Options, *WorkerOptions, *Dependencies)) *testRelayer {
	t.Helper()
	mem := store.NewMemoryStore()
	ledger := &ledgerStub{height: 100}
	publisher := &publisherStub{}

	opts := Options{RequireSignature: true, IdempotencyTTL: time.Hour, PendingIdempotencyTTL: time.Minute, RequeuePolicy: config.RequeueTail}
	workerOpts := WorkerOptions{Interval: time.Second, MaxRetries: 3}
	deps := Dependencies{
		Store:     mem,
		Ledger:    ledger,
		Verifier:  NewSignatureVerifier(config.SchemeSecp256k1, testSigning),
		Publisher: publisher,
		Logger:    discardLogger(),
	}
	if mutate != nil {
		mutate(&opts, &workerOpts, &deps)
	}

	svc := NewService(deps, opts)
	builder := NewTxBuilder("remitchain", "sendRemittanceGasless", nil, testSigning.ChainID)
	worker := NewWorker(svc.Queue(), ledger, builder, publisher, nil, discardLogger(), workerOpts)
	return &testRelayer{svc: svc, worker: worker, store: mem, ledger: ledger, publisher: publisher}
}

type testWallet struct {
	key     *ecdsa.PrivateKey
	address string
}

func newTestWallet(t *testing.T) testWallet {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return testWallet{key: key, address: ethcrypto.PubkeyToAddress(key.PublicKey).Hex()}
}

// signedRequest builds a request from the wallet, signed the way a browser wallet
// signs a personal message.
func (w testWallet) signedRequest(t *testing.T, params SigningParams, amount string, nonce, deadline uint64) domain.RemittanceRequest {
	t.Helper()
	req := domain.RemittanceRequest{
		From:     w.address,
		To:       "0x000000000000000000000000000000000000beef",
		Amount:   amount,
		AssetID:  "USDC",
		Corridor: "mx",
		ChainID:  json.RawMessage(params.ChainID),
		Nonce:    json.RawMessage(fmt.Sprintf("%d", nonce)),
		Deadline: json.RawMessage(fmt.Sprintf(`"%d"`, deadline)),
	}
	payload, err := req.Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(CanonicalMessage(params, payload))), w.key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	sig[ethcrypto.RecoveryIDOffset] += 27
	req.Signature = "0x" + hex.EncodeToString(sig)
	return req
}

func decodeSubmitResponse(t *testing.T, body json.RawMessage) domain.SubmitResponse {
	t.Helper()
	var resp domain.SubmitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("failed to decode submit response: %v", err)
	}
	return resp
}

func queueDepth(t *testing.T, s *store.MemoryStore) int64 {
	t.Helper()
	depth, err := s.QueueDepth(context.Background())
	if err != nil {
		t.Fatalf("QueueDepth: %v", err)
	}
	return depth
}

var errLedgerDown = errors.New("dial tcp: connection refused")
