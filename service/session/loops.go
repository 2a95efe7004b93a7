package session

import (
	"context"
	"errors"
	"time"

	"github.com/brojonat/goldium/service/wallet"
	"github.com/shopspring/decimal"
)

// pollLoop fetches the balance immediately, then on every tick and refresh
// request until ctx is cancelled. A failed fetch never ends the loop.
func (m *Manager) pollLoop(ctx context.Context, s *session) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	m.pollOnce(ctx, s)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.refresh:
		}
		m.pollOnce(ctx, s)
	}
}

func (m *Manager) pollOnce(ctx context.Context, s *session) {
	m.mu.Lock()
	if !m.current(s) {
		m.mu.Unlock()
		return
	}
	address := m.state.Address
	m.mu.Unlock()

	bal, err := m.fetcher.FetchBalance(ctx, address)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.WarnContext(ctx, "balance fetch failed, keeping last known balance",
			"address", address,
			"session_id", s.id,
			"error", err,
		)
		return
	}

	m.mu.Lock()
	if !m.current(s) || m.state.Address != address {
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.RecordStaleResult("balance")
		}
		m.logger.DebugContext(ctx, "discarding stale balance",
			"address", address,
			"session_id", s.id,
		)
		return
	}
	fetchedAt := bal.FetchedAt
	m.state.Balance = bal.SOL
	m.state.BalanceLamports = bal.Lamports
	m.state.LastBalanceFetchAt = &fetchedAt
	m.unlockAndNotify()

	m.logger.DebugContext(ctx, "balance updated",
		"address", address,
		"balance", bal.SOL.String(),
		"endpoint", bal.Endpoint,
	)
}

// detectLoop re-reads the wallet's live account on every tick and reconciles
// external account switches.
func (m *Manager) detectLoop(ctx context.Context, s *session) {
	ticker := time.NewTicker(m.detectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if done := m.detectOnce(ctx, s); done {
			return
		}
	}
}

// detectOnce returns true when the session is over.
func (m *Manager) detectOnce(ctx context.Context, s *session) bool {
	live, err := s.adapter.Address(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		if errors.Is(err, wallet.ErrProviderMissing) {
			m.mu.Lock()
			if !m.current(s) {
				m.mu.Unlock()
				return true
			}
			m.logger.WarnContext(ctx, "wallet provider disappeared mid-session, disconnecting",
				"wallet_kind", string(s.adapter.Kind()),
				"session_id", s.id,
			)
			m.teardownLocked(context.WithoutCancel(ctx), false)
			return true
		}
		m.logger.WarnContext(ctx, "failed to read live wallet address",
			"wallet_kind", string(s.adapter.Kind()),
			"session_id", s.id,
			"error", err,
		)
		return false
	}

	m.mu.Lock()
	if !m.current(s) {
		m.mu.Unlock()
		return true
	}
	previous := m.state.Address
	if live == previous {
		m.mu.Unlock()
		return false
	}
	m.state.Address = live
	m.state.Balance = decimal.Zero
	m.state.BalanceLamports = 0
	m.state.LastBalanceFetchAt = nil
	m.unlockAndNotify()

	if m.metrics != nil {
		m.metrics.RecordAccountSwitch(string(s.adapter.Kind()))
	}
	m.logger.InfoContext(ctx, "wallet account switched",
		"wallet_kind", string(s.adapter.Kind()),
		"previous_address", previous,
		"address", live,
		"session_id", s.id,
	)
	s.requestRefresh()
	return false
}
