package workers

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// newEndpointName produces a fresh, process-temporary filesystem path for
// the stream-socket transport, under the OS temp directory. The worker
// binds/listens on this path; the host dials it. A single naming scheme
// covers every GOOS since the transport always binds a Unix domain socket
// (see transport_socket.go).
func newEndpointName() string {
	return filepath.Join(os.TempDir(), "worker-"+uuid.NewString()+".sock")
}

// removeEndpoint unlinks the endpoint file at worker shutdown. Missing is
// not an error: the worker may never have reached the listen step.
func removeEndpoint(name string) error {
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
