package chain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Reader is the read side of the ledger. GetObject returns nil, nil when the
// object does not exist (deleted or never created).
type Reader interface {
	GetObject(ctx context.Context, id ID) (*Object, error)
	GetDynamicFields(ctx context.Context, parent ID) ([]DynamicField, error)
	GetOwnedObjects(ctx context.Context, owner ID, structType string) ([]Object, error)
	QueryEvents(ctx context.Context, q EventQuery) (EventPage, error)
	GetTransactionBlock(ctx context.Context, digest string) (*Effects, error)
	GetBalance(ctx context.Context, owner ID) (uint64, error)
	GetCoins(ctx context.Context, owner ID) ([]Coin, error)
	ReferenceGasPrice(ctx context.Context) (uint64, error)
}

// Writer simulates and submits serialized transactions.
type Writer interface {
	DryRun(ctx context.Context, txBytes []byte) (*Effects, error)
	Execute(ctx context.Context, txBytes []byte, signatures []string) (*Effects, error)
}

type Gateway interface {
	Reader
	Writer
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error (%d): %s", e.Code, e.Message)
}

// APIError is a non-2xx HTTP answer from the node.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

// IsTransient classifies infrastructure failures that may succeed on retry.
// Malformed requests and ledger rejections are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidObjectID) || errors.Is(err, ErrInvalidType) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 429 || apiErr.Status >= 500
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		msg := strings.ToLower(rpcErr.Message)
		if strings.Contains(msg, "deserialization") || strings.Contains(msg, "invalid params") {
			return false
		}
		serverErr := rpcErr.Code <= -32000 && rpcErr.Code >= -32099
		return serverErr || strings.Contains(msg, "timeout")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
