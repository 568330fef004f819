package workers

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// requireGo skips the test if there's no "go" toolchain on PATH to spawn the
// fixture worker with. CI and dev boxes building this module always have
// one; a stripped-down container might not.
func requireGo(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go toolchain not found on PATH, skipping process-driver fixture test")
	}
	return path
}

func echoWorkerDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.Abs(filepath.Join("testdata", "echoworker"))
	require.NoError(t, err)
	return dir
}

func TestProcessDriverEchoRoundTrip(t *testing.T) {
	goBin := requireGo(t)
	fixture := echoWorkerDir(t)

	factory := NewProcessDriverFactory(goBin, WithArgs("run", fixture))
	cfg := NewConfig(WithConnectRetry(10, 2*time.Second))

	sess, err := NewSession(context.Background(), factory, cfg)
	require.NoError(t, err)
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := sess.Client().Send(ctx, "echo", 7)
	require.NoError(t, err)

	var v int
	require.NoError(t, json.Unmarshal(result, &v))
	require.Equal(t, 7, v)
}

// TestProcessDriverConnectExhaustionUnlinksEndpoint spawns a fixture worker
// that sleeps well past the host's connect budget before it ever binds the
// socket, forcing openConnection to exhaust its retries. It confirms the
// driver reports a connect Failure, the worker process is killed, and the
// endpoint file the worker never (or barely) got to bind is not left behind.
func TestProcessDriverConnectExhaustionUnlinksEndpoint(t *testing.T) {
	goBin := requireGo(t)
	fixture := echoWorkerDir(t)

	factory := NewProcessDriverFactory(goBin, WithArgs("run", fixture, "-delay=5s"))
	cfg := NewConfig(WithConnectRetry(2, 50*time.Millisecond))

	driver, err := factory()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = driver.Connect(ctx, cfg)
	require.Error(t, err)

	var f *Failure
	require.ErrorAs(t, err, &f)
	require.Contains(t, []ErrorKind{KindConnectTimeout, KindConnectRefused}, f.Kind)

	require.NoError(t, driver.Kill())

	select {
	case <-driver.Wait():
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not report exit after Kill")
	}

	pd, ok := driver.(*ProcessDriver)
	require.True(t, ok)
	_, statErr := os.Stat(pd.endpoint)
	require.True(t, os.IsNotExist(statErr), "endpoint file should not exist after connect exhaustion")
}
