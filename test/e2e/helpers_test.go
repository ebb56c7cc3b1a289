//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kustodia/verify-bytecode/internal/cli"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	Explorer          *explorerStub
}

// explorerStub serves eth_getCode for addresses registered with SetCode
type explorerStub struct {
	*httptest.Server

	mu    sync.Mutex
	codes map[string]string
}

func newExplorerStub() *explorerStub {
	stub := &explorerStub{codes: make(map[string]string)}
	stub.Server = httptest.NewServer(http.HandlerFunc(stub.handle))
	return stub
}

func (s *explorerStub) SetCode(address, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[strings.ToLower(address)] = code
}

func (s *explorerStub) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("apikey") == "" {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"0","message":"NOTOK","result":"Missing/Invalid API Key"}`)
		return
	}

	s.mu.Lock()
	code, ok := s.codes[strings.ToLower(q.Get("address"))]
	s.mu.Unlock()
	if !ok {
		code = ""
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":"0x%s"}`, code)
}

// setupPostgresE starts a Postgres container and returns its connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("verify"),
		postgres.WithUsername("verify"),
		postgres.WithPassword("verify"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = postgresContainer.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return postgresContainer, connString, nil
}

// writeBuildInfo writes a build-info file declaring contract in contracts/<contract>.sol
func writeBuildInfo(t *testing.T, contract, code string) string {
	t.Helper()
	content := fmt.Sprintf(`{
  "_format": "hh-sol-build-info-1",
  "solcVersion": "0.8.20",
  "solcLongVersion": "0.8.20+commit.a1b79de6",
  "output": {
    "contracts": {
      "contracts/%[1]s.sol": {
        "%[1]s": {"evm": {"deployedBytecode": {"object": "%[2]s", "linkReferences": {}}}}
      }
    }
  }
}`, contract, code)
	path := filepath.Join(t.TempDir(), "build-info.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// runCLI runs the verify-bytecode command tree with an isolated configuration
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	chdir(t, t.TempDir())
	t.Setenv("ARBISCAN_API_URL", testCtx.Explorer.URL)
	t.Setenv("ARBISCAN_API_KEY", "e2e-key")
	t.Setenv("HISTORY_DSN", testCtx.ConnString)

	var stdout, stderr bytes.Buffer
	cmd := cli.NewRootCmd("e2e")
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--env-file", "-"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// chdir changes the working directory for the duration of the test
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
