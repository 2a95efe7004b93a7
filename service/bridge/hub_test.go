package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/goldium/service/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var accountA = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

// callHandler answers one provider call. A non-empty errMsg is reported as
// a rejection.
type callHandler func(msg Message) (result any, errMsg string)

// fakePage plays the browser side of the bridge.
type fakePage struct {
	t  *testing.T
	ws *websocket.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]callHandler
	calls    []Message
	hold     chan struct{}

	// done is closed when the page stops reading.
	done chan struct{}
}

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialPage(t *testing.T, url string) *fakePage {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	p := &fakePage{t: t, ws: ws, handlers: map[string]callHandler{}, done: make(chan struct{})}
	t.Cleanup(func() { _ = ws.Close() })
	go p.serve()
	return p
}

func (p *fakePage) handle(method string, h callHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[method] = h
}

func (p *fakePage) sendGlobals(g Globals) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	require.NoError(p.t, p.ws.WriteJSON(Message{Type: TypeGlobals, Globals: g}))
}

func (p *fakePage) recordedCalls() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.calls...)
}

func (p *fakePage) serve() {
	defer close(p.done)
	for {
		var msg Message
		if err := p.ws.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != TypeCall {
			continue
		}
		p.mu.Lock()
		p.calls = append(p.calls, msg)
		h := p.handlers[msg.Method]
		hold := p.hold
		p.mu.Unlock()

		if hold != nil {
			<-hold
		}

		reply := Message{Type: TypeResult, ID: msg.ID}
		if h == nil {
			reply.Error = "method not implemented"
		} else {
			result, errMsg := h(msg)
			reply.Error = errMsg
			if result != nil {
				b, _ := json.Marshal(result)
				reply.Result = b
			}
		}
		p.writeMu.Lock()
		err := p.ws.WriteJSON(reply)
		p.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func phantomGlobals() Globals {
	return Globals{"solana": {"isPhantom": true}}
}

func waitForProvider(t *testing.T, hub *Hub, global string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := hub.Lookup(global)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestHub_NoBridgeMeansNoProviders(t *testing.T) {
	hub, _ := newTestHub(t)

	assert.False(t, hub.Attached())
	_, ok := hub.Lookup("solana")
	assert.False(t, ok)
	assert.Empty(t, wallet.NewRegistry(hub).ListAvailable())
}

func TestHub_ConnectThroughRegistry(t *testing.T) {
	hub, url := newTestHub(t)
	page := dialPage(t, url)
	page.handle(MethodConnect, func(Message) (any, string) {
		return PublicKeyResult{PublicKey: accountA.String()}, ""
	})
	page.handle(MethodPublicKey, func(Message) (any, string) {
		return PublicKeyResult{PublicKey: accountA.String()}, ""
	})
	page.handle(MethodDisconnect, func(Message) (any, string) { return nil, "" })
	page.sendGlobals(phantomGlobals())
	waitForProvider(t, hub, "solana")

	reg := wallet.NewRegistry(hub)
	assert.Equal(t, []wallet.Kind{wallet.KindPhantom}, reg.ListAvailable())

	a, err := reg.Get(wallet.KindPhantom)
	require.NoError(t, err)

	ctx := context.Background()
	addr, err := a.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, accountA.String(), addr)

	addr, err = a.Address(ctx)
	require.NoError(t, err)
	assert.Equal(t, accountA.String(), addr)

	require.NoError(t, a.Disconnect(ctx))

	calls := page.recordedCalls()
	require.Len(t, calls, 3)
	for _, c := range calls {
		assert.Equal(t, "solana", c.Target)
	}
	assert.Equal(t, MethodConnect, calls[0].Method)
	assert.Equal(t, MethodPublicKey, calls[1].Method)
	assert.Equal(t, MethodDisconnect, calls[2].Method)
}

func TestHub_RejectionIsRemoteError(t *testing.T) {
	hub, url := newTestHub(t)
	page := dialPage(t, url)
	page.handle(MethodConnect, func(Message) (any, string) { return nil, "User rejected the request." })
	page.sendGlobals(phantomGlobals())
	waitForProvider(t, hub, "solana")

	p, _ := hub.Lookup("solana")
	_, err := p.Connect(context.Background())

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, MethodConnect, remote.Method)
	assert.Equal(t, "User rejected the request.", remote.Message)
}

func TestHub_NullPublicKeyMeansNoAccount(t *testing.T) {
	hub, url := newTestHub(t)
	page := dialPage(t, url)
	page.handle(MethodPublicKey, func(Message) (any, string) { return nil, "" })
	page.sendGlobals(phantomGlobals())
	waitForProvider(t, hub, "solana")

	a, err := wallet.NewRegistry(hub).Get(wallet.KindPhantom)
	require.NoError(t, err)
	_, err = a.Address(context.Background())
	assert.ErrorIs(t, err, wallet.ErrNotConnected)
}

func TestHub_GlobalsUpdateChangesAvailability(t *testing.T) {
	hub, url := newTestHub(t)
	page := dialPage(t, url)
	page.sendGlobals(Globals{
		"solana":   {"isPhantom": true},
		"solflare": {"isSolflare": true},
	})
	waitForProvider(t, hub, "solflare")

	reg := wallet.NewRegistry(hub)
	assert.Equal(t, []wallet.Kind{wallet.KindPhantom, wallet.KindSolflare}, reg.ListAvailable())

	page.sendGlobals(Globals{"solflare": {"isSolflare": true}})
	require.Eventually(t, func() bool {
		_, ok := hub.Lookup("solana")
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []wallet.Kind{wallet.KindSolflare}, reg.ListAvailable())
	assert.Len(t, hub.Globals(), 1)
}

func TestHub_DetachFailsPendingCallsAndHidesProviders(t *testing.T) {
	hub, url := newTestHub(t)
	page := dialPage(t, url)
	page.mu.Lock()
	page.hold = make(chan struct{})
	page.mu.Unlock()
	t.Cleanup(func() { close(page.hold) })
	page.sendGlobals(phantomGlobals())
	waitForProvider(t, hub, "solana")

	p, _ := hub.Lookup("solana")
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Connect(context.Background())
		errCh <- err
	}()

	require.Eventually(t, func() bool { return len(page.recordedCalls()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, page.ws.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrDetached)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was not failed")
	}

	require.Eventually(t, func() bool { return !hub.Attached() }, time.Second, 5*time.Millisecond)
	_, ok := hub.Lookup("solana")
	assert.False(t, ok)
	assert.False(t, p.Flag("isPhantom"))

	a, err := wallet.NewRegistry(hub).Get(wallet.KindPhantom)
	require.NoError(t, err)
	_, err = a.Address(context.Background())
	assert.ErrorIs(t, err, wallet.ErrProviderMissing)
}

func TestHub_CallHonorsContext(t *testing.T) {
	hub, url := newTestHub(t)
	page := dialPage(t, url)
	page.mu.Lock()
	page.hold = make(chan struct{})
	page.mu.Unlock()
	t.Cleanup(func() { close(page.hold) })
	page.sendGlobals(phantomGlobals())
	waitForProvider(t, hub, "solana")

	p, _ := hub.Lookup("solana")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.PublicKey(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHub_NewerBridgeReplacesOlder(t *testing.T) {
	hub, url := newTestHub(t)
	first := dialPage(t, url)
	first.sendGlobals(phantomGlobals())
	waitForProvider(t, hub, "solana")

	second := dialPage(t, url)
	second.sendGlobals(Globals{"backpack": {"isBackpack": true}})
	waitForProvider(t, hub, "backpack")

	_, ok := hub.Lookup("solana")
	assert.False(t, ok)

	// The replaced page sees its socket closed.
	select {
	case <-first.done:
	case <-time.After(2 * time.Second):
		t.Fatal("replaced bridge was not closed")
	}
	assert.True(t, hub.Attached())
}

func TestHub_SignTransactionRoundTrip(t *testing.T) {
	hub, url := newTestHub(t)
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	page := dialPage(t, url)
	page.handle(MethodSignTransaction, func(msg Message) (any, string) {
		var in TransactionPayload
		if err := json.Unmarshal(msg.Params, &in); err != nil {
			return nil, err.Error()
		}
		tx, err := DecodeTransaction(in.Transaction)
		if err != nil {
			return nil, err.Error()
		}
		_, err = tx.PartialSign(func(pk solana.PublicKey) *solana.PrivateKey {
			if pk.Equals(key.PublicKey()) {
				return &key
			}
			return nil
		})
		if err != nil {
			return nil, err.Error()
		}
		out, err := EncodeTransaction(tx)
		if err != nil {
			return nil, err.Error()
		}
		return TransactionPayload{Transaction: out}, ""
	})
	page.sendGlobals(phantomGlobals())
	waitForProvider(t, hub, "solana")

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(5_000, key.PublicKey(), accountA).Build(),
		},
		solana.Hash{},
		solana.TransactionPayer(key.PublicKey()),
	)
	require.NoError(t, err)

	p, _ := hub.Lookup("solana")
	signed, err := p.SignTransaction(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, signed.Signatures, 1)
	assert.NoError(t, signed.VerifySignatures())
	assert.Equal(t, tx.Message.RecentBlockhash, signed.Message.RecentBlockhash)
}

func TestDecodeTransaction_Rejects(t *testing.T) {
	_, err := DecodeTransaction("not base64!")
	assert.Error(t, err)

	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1, key.PublicKey(), accountA).Build()},
		solana.Hash{},
		solana.TransactionPayer(key.PublicKey()),
	)
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	_, err = DecodeTransaction(base64Encode(append(raw, 0x01)))
	assert.ErrorContains(t, err, "trailing bytes")

	decoded, err := DecodeTransaction(base64Encode(raw))
	require.NoError(t, err)
	assert.Equal(t, len(tx.Message.Instructions), len(decoded.Message.Instructions))
}

func TestRemoteError(t *testing.T) {
	err := error(&RemoteError{Target: "solana", Method: "connect", Message: "rejected"})
	assert.Equal(t, "solana.connect: rejected", err.Error())
	assert.False(t, errors.Is(err, ErrDetached))
}
