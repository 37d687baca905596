package dump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/newthinker/dbbackup/internal/config"
	"github.com/newthinker/dbbackup/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDump = "-- MariaDB dump 10.19\nCREATE DATABASE `shop`;\nUSE `shop`;\n"

// helperCommand re-executes the test binary as a stand-in for the dump utility.
func helperCommand(mode string) CommandFunc {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "DUMP_HELPER_MODE="+mode)
		return cmd
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("DUMP_HELPER_MODE") {
	case "ok":
		fmt.Fprint(os.Stdout, sampleDump)
	case "args":
		var args []string
		for i, a := range os.Args {
			if a == "--" {
				args = os.Args[i+1:]
				break
			}
		}
		fmt.Fprint(os.Stdout, strings.Join(args, " "))
	case "password":
		fmt.Fprint(os.Stdout, os.Getenv("MYSQL_PWD"))
	case "fail":
		fmt.Fprint(os.Stdout, "-- partial")
		fmt.Fprint(os.Stderr, "mysqldump: Got error: 1045: Access denied for user 'backup'")
		os.Exit(2)
	case "slow":
		for {
			fmt.Fprintln(os.Stdout, "INSERT INTO t VALUES (1);")
			time.Sleep(10 * time.Millisecond)
		}
	}
	os.Exit(0)
}

func testConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Name:        "shop",
		User:        "backup",
		Password:    "s3cret",
		Host:        "localhost",
		DumpCommand: "mysqldump",
	}
}

func TestProducer_Args(t *testing.T) {
	p := New(testConfig(), nil)

	args := p.Args()
	for _, flag := range []string{
		"--single-transaction", "--quick", "--routines", "--triggers", "--events", "--hex-blob",
	} {
		assert.Contains(t, args, flag)
	}
	assert.Contains(t, args, "--user=backup")
	assert.Contains(t, args, "--host=localhost")
	assert.Equal(t, []string{"--databases", "shop"}, args[len(args)-2:])

	for _, a := range args {
		assert.NotContains(t, a, "s3cret", "credential must not appear on argv")
	}
}

func TestProducer_ArgsWithPort(t *testing.T) {
	cfg := testConfig()
	cfg.Port = 3307

	args := New(cfg, nil).Args()
	assert.Contains(t, args, "--port=3307")
}

func TestProducer_StreamsOutput(t *testing.T) {
	p := New(testConfig(), nil).WithCommand(helperCommand("ok"))

	rc, err := p.Produce(context.Background())
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, sampleDump, string(data))
	assert.NoError(t, rc.Close())
}

func TestProducer_PassesCommandAndArgs(t *testing.T) {
	p := New(testConfig(), nil).WithCommand(helperCommand("args"))

	rc, err := p.Produce(context.Background())
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "mysqldump --single-transaction"), string(data))
	assert.True(t, strings.HasSuffix(string(data), "--databases shop"), string(data))
}

func TestProducer_CredentialInEnvironment(t *testing.T) {
	p := New(testConfig(), nil).WithCommand(helperCommand("password"))

	rc, err := p.Produce(context.Background())
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", string(data))
}

func TestProducer_FailureCarriesDiagnostics(t *testing.T) {
	p := New(testConfig(), nil).WithCommand(helperCommand("fail"))

	rc, err := p.Produce(context.Background())
	require.NoError(t, err)
	defer rc.Close()

	_, err = io.ReadAll(rc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrDumpFailed))
	assert.Contains(t, err.Error(), "Access denied")
}

func TestProducer_StartFailure(t *testing.T) {
	cfg := testConfig()
	cfg.DumpCommand = "/nonexistent/mysqldump"

	_, err := New(cfg, nil).Produce(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrDumpFailed))
}

func TestProducer_CloseStopsRunningDump(t *testing.T) {
	p := New(testConfig(), nil).WithCommand(helperCommand("slow"))

	rc, err := p.Produce(context.Background())
	require.NoError(t, err)

	buf := make([]byte, 16)
	_, err = io.ReadFull(rc, buf)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- rc.Close() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not stop the dump process")
	}
}

func TestProducer_ContextCancelStopsDump(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(testConfig(), nil).WithCommand(helperCommand("slow"))

	rc, err := p.Produce(ctx)
	require.NoError(t, err)
	defer rc.Close()

	cancel()
	_, err = io.ReadAll(rc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrDumpFailed))
}

func TestTailBuffer_KeepsTail(t *testing.T) {
	b := &tailBuffer{limit: 4}
	b.Write([]byte("abc"))
	b.Write([]byte("defg"))
	assert.Equal(t, "defg", b.String())
}

func TestLookPath(t *testing.T) {
	assert.Error(t, LookPath("definitely-not-a-dump-tool-xyz"))
	assert.True(t, errors.Is(LookPath("definitely-not-a-dump-tool-xyz"), core.ErrDumpFailed))
}
