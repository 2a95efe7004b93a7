package nats

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/brojonat/goldium/service/history"
	"github.com/brojonat/goldium/service/session"
	"github.com/brojonat/goldium/service/solana"
	"github.com/brojonat/goldium/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticFetcher struct{ lamports uint64 }

func (f staticFetcher) FetchBalance(ctx context.Context, address string) (solana.Balance, error) {
	return solana.Balance{
		Lamports:  f.lamports,
		SOL:       solana.LamportsToMajor(f.lamports),
		FetchedAt: time.Now(),
		Endpoint:  "test",
	}, nil
}

func TestStateForwarder_PublishesInOrder(t *testing.T) {
	pub := NewMockPublisher()
	f := NewStateForwarder(pub, 8, discardLogger())

	f.Listen(session.State{Mode: session.Connecting, WalletKind: wallet.KindPhantom})
	f.Listen(session.State{Mode: session.Connected, WalletKind: wallet.KindPhantom, Address: "addr", SessionID: "s1"})
	f.Listen(session.State{Mode: session.Disconnected})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(pub.GetStates()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	states := pub.GetStates()
	assert.Equal(t, "connecting", states[0].Mode)
	assert.Equal(t, "phantom", states[0].WalletKind)
	assert.Equal(t, "connected", states[1].Mode)
	assert.Equal(t, "addr", states[1].Address)
	assert.Equal(t, "s1", states[1].SessionID)
	assert.Equal(t, "disconnected", states[2].Mode)
	assert.Zero(t, f.Dropped())
}

func TestStateForwarder_DropsWhenFull(t *testing.T) {
	pub := NewMockPublisher()
	f := NewStateForwarder(pub, 2, discardLogger())

	for i := 0; i < 5; i++ {
		f.Listen(session.State{Mode: session.Connecting})
	}
	assert.Equal(t, int64(3), f.Dropped())
}

func TestStateForwarder_FlushesOnShutdown(t *testing.T) {
	pub := NewMockPublisher()
	f := NewStateForwarder(pub, 8, discardLogger())
	f.Listen(session.State{Mode: session.Connecting})
	f.Listen(session.State{Mode: session.Disconnected})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.Run(ctx)

	assert.Len(t, pub.GetStates(), 2)
}

func TestStateForwarder_PublishErrorsDoNotStopTheLoop(t *testing.T) {
	pub := NewMockPublisher()
	pub.SetPublishError(errors.New("no responders"))
	f := NewStateForwarder(pub, 8, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	f.Listen(session.State{Mode: session.Connecting})
	time.Sleep(20 * time.Millisecond)
	pub.SetPublishError(nil)
	f.Listen(session.State{Mode: session.Disconnected})

	require.Eventually(t, func() bool { return len(pub.GetStates()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, "disconnected", pub.GetStates()[0].Mode)
}

func TestStateForwarder_FollowsManager(t *testing.T) {
	account := solanago.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	env := wallet.NewStaticEnvironment()
	env.Inject("solana", wallet.NewMockProvider("isPhantom", account))

	m := session.NewManager(wallet.NewRegistry(env), staticFetcher{lamports: 2_500_000_000}, session.Options{
		PollInterval:   time.Hour,
		DetectInterval: time.Hour,
		Logger:         discardLogger(),
	})
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	pub := NewMockPublisher()
	f := NewStateForwarder(pub, 0, discardLogger())
	unsubscribe := m.Subscribe(f.Listen)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	require.NoError(t, m.Connect(context.Background(), wallet.KindPhantom))
	require.Eventually(t, func() bool {
		for _, s := range pub.GetStates() {
			if s.Balance.Equal(decimal.RequireFromString("2.5")) {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	states := pub.GetStates()
	assert.Equal(t, "connecting", states[0].Mode)
	assert.Equal(t, "connected", states[1].Mode)
	assert.Equal(t, account.String(), states[1].Address)
	assert.NotEmpty(t, states[1].SessionID)
}

func TestHistoryNotifier(t *testing.T) {
	pub := NewMockPublisher()
	n := NewHistoryNotifier(pub)
	rec := history.Record{
		ID:            "sig",
		Kind:          history.KindSwap,
		AmountPrimary: decimal.RequireFromString("1.25"),
		Status:        history.StatusSuccess,
	}

	require.NoError(t, n.NotifyRecord(context.Background(), "wallet-a", rec))
	require.NoError(t, n.NotifyRecord(context.Background(), "wallet-b", rec))

	events := pub.GetHistoryEventsForWallet("wallet-a")
	require.Len(t, events, 1)
	assert.Equal(t, "sig", events[0].Record.ID)
	assert.False(t, events[0].PublishedAt.IsZero())

	pub.SetPublishError(errors.New("boom"))
	assert.Error(t, n.NotifyRecord(context.Background(), "wallet-a", rec))
}

func TestHistorySubject(t *testing.T) {
	assert.Equal(t, "goldium.history.abc", HistorySubject("abc"))
	assert.Equal(t, "goldium.session.state", StateSubject)
}
