package session

import (
	"errors"
	"fmt"

	"github.com/brojonat/goldium/service/wallet"
)

var (
	// ErrWalletConnectionFailed matches every ConnectionFailedError.
	ErrWalletConnectionFailed = errors.New("wallet connection failed")

	// ErrSuperseded is returned to a Connect caller whose request was
	// overtaken by a later Connect or Disconnect.
	ErrSuperseded = errors.New("connect superseded")

	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("session manager closed")
)

// ConnectionFailedError reports a rejected or failed adapter connect.
type ConnectionFailedError struct {
	Kind wallet.Kind
	Err  error
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("failed to connect %s wallet: %v", e.Kind, e.Err)
}

func (e *ConnectionFailedError) Unwrap() []error {
	return []error{ErrWalletConnectionFailed, e.Err}
}
