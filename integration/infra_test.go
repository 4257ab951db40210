//go:build integration

package integration_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	dbUser = "postgres"
	dbPass = "secret"
	dbName = "anoncred_broker"
)

const schemeYAML = `
schemes:
  irma-demo:
    issuers:
      MijnOverheid:
        publicKeys: [2]
        secretKeys: [2]
        credentials:
          ageLower: [over12, over18]
          root: [BSN]
`

// infraStat is the working directory and configuration of one broker process.
type infraStat struct {
	Procdir string
	Socket  string
	Cfg     map[string]any
}

func initInfra(t *testing.T) *infraStat {
	t.Helper()

	procdir := t.TempDir()

	schemePath := filepath.Join(procdir, "schemes.yaml")
	require.NoError(t, os.WriteFile(schemePath, []byte(schemeYAML), 0o600))

	keysDir := filepath.Join(procdir, "keys")
	require.NoError(t, os.MkdirAll(keysDir, 0o700))

	// unix socket paths are limited in length, so they live below the system temp dir
	sockDir, err := os.MkdirTemp("", "acb")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(sockDir) })
	socket := filepath.Join(sockDir, "http.sock")

	return &infraStat{
		Procdir: procdir,
		Socket:  socket,
		Cfg: map[string]any{
			"application": map[string]any{"name": "anoncred-broker-it", "environment": "test"},
			"http": map[string]any{
				"address":         "unix://" + socket,
				"shutdownTimeout": "1s",
			},
			"jwt": map[string]any{
				"privateKey":     map[string]any{"source": "embedded", "value": privateKeyPEM(t)},
				"clientKeysPath": keysDir,
			},
			"authorization": map[string]any{
				"source":    "config",
				"verifiers": map[string]any{"shop": []string{"irma-demo.*"}},
			},
			"flows": map[string]any{
				"verification": map[string]any{"allowUnsigned": true},
			},
			"credentialEngine": map[string]any{"url": "http://localhost:1"},
			"scheme":           map[string]any{"path": schemePath},
		},
	}
}

func (istat *infraStat) set(section, key string, value any) {
	m, ok := istat.Cfg[section].(map[string]any)
	if !ok {
		m = map[string]any{}
		istat.Cfg[section] = m
	}
	m[key] = value
}

// PreparePostgres starts an empty database and points the configuration at it.
func (istat *infraStat) PreparePostgres(t *testing.T) nat.Port {
	t.Helper()

	ctx := t.Context()
	pgContainer, err := postgres.Run(
		ctx,
		"postgres:17-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPass),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "failed to start PostgreSQL")
	t.Cleanup(func() { _ = pgContainer.Terminate(context.Background()) })

	port, err := pgContainer.MappedPort(ctx, nat.Port("5432"))
	require.NoError(t, err, "failed to get mapped port for the PostgreSQL container")

	istat.Cfg["database"] = map[string]any{
		"name":     dbName,
		"port":     port.Port(),
		"sslMode":  "disable",
		"host":     map[string]any{"source": "embedded", "value": "localhost"},
		"user":     map[string]any{"source": "embedded", "value": dbUser},
		"password": map[string]any{"source": "embedded", "value": dbPass},
	}

	return port
}

// PrepareConfig writes config.yaml into the process directory.
func (istat *infraStat) PrepareConfig(t *testing.T) {
	t.Helper()

	data, err := yaml.Marshal(istat.Cfg)
	require.NoError(t, err, "failed to marshal config")
	require.NoError(t, os.WriteFile(filepath.Join(istat.Procdir, "config.yaml"), data, 0o600))
}

func (istat *infraStat) command(ctx context.Context, t *testing.T, args ...string) *exec.Cmd {
	t.Helper()

	cmd := exec.CommandContext(ctx, binaryPath, args...)
	cmd.Dir = istat.Procdir

	logPath := filepath.Join(istat.Procdir, args[0]+".log")
	out, err := os.Create(logPath)
	require.NoError(t, err, "failed to create a log file")
	t.Cleanup(func() {
		out.Close()
		if t.Failed() {
			if logs, err := os.ReadFile(logPath); err == nil {
				t.Logf("%s logs:\n%s", args[0], logs)
			}
		}
	})

	cmd.Stdout = out
	cmd.Stderr = out

	return cmd
}

// Run executes a job command to completion.
func (istat *infraStat) Run(t *testing.T, args ...string) error {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), time.Minute)
	defer cancel()

	return istat.command(ctx, t, args...).Run()
}

// Start launches a service command and stops it with SIGINT on cleanup.
func (istat *infraStat) Start(t *testing.T, args ...string) {
	t.Helper()

	cmd := istat.command(context.Background(), t, args...)
	require.NoError(t, cmd.Start())

	t.Cleanup(func() {
		_ = cmd.Process.Signal(syscall.SIGINT)
		done := make(chan struct{})
		go func() {
			_ = cmd.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			_ = cmd.Process.Kill()
		}
	})
}

// Client talks HTTP over the broker's unix socket.
func (istat *infraStat) Client() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, "unix", istat.Socket)
			},
		},
	}
}

func privateKeyPEM(t *testing.T) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func connString(port nat.Port) string {
	return fmt.Sprintf("postgres://%s:%s@localhost:%s/%s?sslmode=disable", dbUser, dbPass, port.Port(), dbName)
}
