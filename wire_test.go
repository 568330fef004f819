package workers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBaseType(t *testing.T) {
	for _, tc := range []struct {
		wire            string
		base            string
		isResult, isErr bool
	}{
		{"echoResult", "echo", true, false},
		{"echoError", "echo", false, true},
		{"echo", "echo", false, false},
		{"Result", "Result", false, false},
		{"Error", "Error", false, false},
	} {
		base, isResult, isErr := baseType(tc.wire)
		require.Equal(t, tc.base, base, tc.wire)
		require.Equal(t, tc.isResult, isResult, tc.wire)
		require.Equal(t, tc.isErr, isErr, tc.wire)
	}
}

func TestTxGeneratorUniqueConcurrent(t *testing.T) {
	gen := NewTxGenerator()
	n := 1000
	seen := make(chan string, n)
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < n/10; j++ {
				seen <- gen.Next()
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	close(seen)

	unique := map[string]bool{}
	for tx := range seen {
		require.False(t, unique[tx], "duplicate tx: %s", tx)
		unique[tx] = true
	}
	require.Len(t, unique, n)
}

func TestRecordRoundTrip(t *testing.T) {
	s := JSONSerializer{}
	rec := Record{Tx: "abc-1", Type: "echo", Payload: []byte(`{"a":1}`)}

	data, err := s.Encode(rec)
	require.NoError(t, err)

	var decoded Record
	require.NoError(t, s.Decode(data, &decoded))
	require.Equal(t, rec.Tx, decoded.Tx)
	require.Equal(t, rec.Type, decoded.Type)
	require.JSONEq(t, string(rec.Payload), string(decoded.Payload))
}

func TestSerializedErrorRoundTrip(t *testing.T) {
	s := FastJSONSerializer{}
	se := SerializedError{Name: "ValueError", Message: "bad input", Code: "E_BAD"}

	data, err := s.Encode(se)
	require.NoError(t, err)

	var decoded SerializedError
	require.NoError(t, s.Decode(data, &decoded))
	require.Equal(t, se, decoded)
}
