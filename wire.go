package workers

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

const (
	resultSuffix = "Result"
	errorSuffix  = "Error"
)

// Record is the on-the-wire shape of every frame. For a
// request, Type is the user-chosen message-type name. For a success
// response, Type is the request's type with resultSuffix appended. For an
// error response, Type is the request's type with errorSuffix appended and
// Payload decodes to a SerializedError.
type Record struct {
	Tx      string          `json:"tx"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SerializedError is the wire shape of an error round-tripped from a worker
// handler back to the host.
type SerializedError struct {
	Message string `json:"message"`
	Name    string `json:"name"`
	Stack   string `json:"stack,omitempty"`
	Code    string `json:"code,omitempty"`
}

func resultType(reqType string) string { return reqType + resultSuffix }
func errorType(reqType string) string  { return reqType + errorSuffix }

// baseType strips a Result/Error suffix from a response's wire Type,
// returning the original request type and whether it was a success or
// error response.
func baseType(wireType string) (base string, isResult, isError bool) {
	if n := len(wireType); n > len(resultSuffix) && wireType[n-len(resultSuffix):] == resultSuffix {
		return wireType[:n-len(resultSuffix)], true, false
	}
	if n := len(wireType); n > len(errorSuffix) && wireType[n-len(errorSuffix):] == errorSuffix {
		return wireType[:n-len(errorSuffix)], false, true
	}
	return wireType, false, false
}

// TxGenerator produces transaction ids unique within the lifetime of a
// single connection. The default implementation combines a
// per-generator random prefix with a monotonically increasing counter;
// callers may supply an alternative via WithTxGenerator.
type TxGenerator interface {
	Next() string
}

type defaultTxGenerator struct {
	prefix  string
	counter atomic.Uint64
}

// NewTxGenerator returns the default transaction id generator: a random
// prefix (so ids from concurrently-recreated connections don't collide in
// logs) combined with a monotonically increasing counter. Safe for
// concurrent use, since Send is reentrant.
func NewTxGenerator() TxGenerator {
	return &defaultTxGenerator{prefix: uuid.NewString()[:8]}
}

func (g *defaultTxGenerator) Next() string {
	n := g.counter.Add(1)
	return fmt.Sprintf("%s-%d", g.prefix, n)
}
