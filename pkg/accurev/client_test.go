package accurev_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ac2git/ac2git/pkg/accurev"
)

// fakeAccurev writes an executable shell script standing in for the
// accurev binary: it echoes stdout, writes stderr, and exits with the
// given code, regardless of the arguments it was invoked with.
func fakeAccurev(t *testing.T, stdout, stderr string, exitCode int) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fake accurev script requires a POSIX shell")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "accurev")

	script := "#!/bin/sh\n" +
		"printf '%s' " + shellQuote(stdout) + "\n" +
		"printf '%s' " + shellQuote(stderr) + " 1>&2\n" +
		"exit " + strconv.Itoa(exitCode) + "\n"

	require.NoError(t, os.WriteFile(path, []byte(script), 0o700))

	return path
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func TestClient_Hist_ParsesTransaction(t *testing.T) {
	const xml = `<?xml version="1.0"?>
<AcResponse TaskId="1">
  <transaction id="5" type="promote" user="jdoe">
    <comment>work</comment>
  </transaction>
</AcResponse>`

	binPath := fakeAccurev(t, xml, "", 0)
	client := accurev.NewClient(accurev.WithBinPath(binPath))

	hist, err := client.Hist(context.Background(), "MyDepot", 5)
	require.NoError(t, err)
	require.Len(t, hist.Transactions, 1)
	assert.Equal(t, 5, hist.Transactions[0].ID)
}

func TestClient_Hist_TransientStderr_RetriesThenFails(t *testing.T) {
	binPath := fakeAccurev(t, "", "not authorized", 1)
	client := accurev.NewClient(
		accurev.WithBinPath(binPath),
		accurev.WithRetry(2, time.Millisecond),
	)

	_, err := client.Hist(context.Background(), "MyDepot", 5)
	require.Error(t, err)

	var transient *accurev.TransientSourceError
	assert.ErrorAs(t, err, &transient)
}

func TestClient_Hist_PermanentStderr_NoRetry(t *testing.T) {
	binPath := fakeAccurev(t, "", "unknown depot", 1)
	client := accurev.NewClient(accurev.WithBinPath(binPath))

	_, err := client.Hist(context.Background(), "MyDepot", 5)
	require.Error(t, err)

	var sourceErr *accurev.SourceError
	require.ErrorAs(t, err, &sourceErr)

	var transient *accurev.TransientSourceError
	assert.NotErrorAs(t, err, &transient)
}

func TestClient_Hist_MalformedXML_ReturnsParseError(t *testing.T) {
	binPath := fakeAccurev(t, "not xml", "", 0)
	client := accurev.NewClient(accurev.WithBinPath(binPath))

	_, err := client.Hist(context.Background(), "MyDepot", 5)
	require.Error(t, err)

	var parseErr *accurev.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, 5, parseErr.TxID)
}
