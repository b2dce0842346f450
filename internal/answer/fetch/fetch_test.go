package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osinstall/osinstall/internal/environment"
)

func testLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func TestLoadSettings(t *testing.T) {
	isoDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(isoDir, ModeFile), []byte(`
mode = "http"

[http]
url = "https://answers.example.com/answer"
cert_fingerprint = "aa:bb"
`), 0644))

	settings, err := LoadSettings(isoDir)
	require.NoError(t, err)
	assert.Equal(t, ModeHttp, settings.Mode)
	assert.Equal(t, "https://answers.example.com/answer", settings.Http.URL)
	assert.Equal(t, "aa:bb", settings.Http.CertFingerprint)
}

func TestLoadSettingsErrors(t *testing.T) {
	cases := map[string]struct {
		content string
		want    string
	}{
		"http without url": {
			content: `mode = "http"`,
			want:    "names no url",
		},
		"unknown mode": {
			content: `mode = "carrier-pigeon"`,
			want:    "not a valid fetch mode",
		},
	}

	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			isoDir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(isoDir, ModeFile), []byte(c.content), 0644))

			_, err := LoadSettings(isoDir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.want)
		})
	}
}

func TestLoadSettingsMissingFile(t *testing.T) {
	_, err := LoadSettings(t.TempDir())
	require.Error(t, err)
}

func TestFetchIso(t *testing.T) {
	isoDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(isoDir, AnswerFile), []byte("[global]\n"), 0644))

	f := &Fetcher{
		Locations: environment.Locations{ISO: isoDir},
		Log:       testLog(),
	}
	data, err := f.Fetch(context.Background(), &Settings{Mode: ModeIso})
	require.NoError(t, err)
	assert.Equal(t, "[global]\n", string(data))
}

func TestFetchIsoMissing(t *testing.T) {
	f := &Fetcher{
		Locations: environment.Locations{ISO: t.TempDir()},
		Log:       testLog(),
	}
	_, err := f.Fetch(context.Background(), &Settings{Mode: ModeIso})
	require.Error(t, err)
}

func TestFetchHTTP(t *testing.T) {
	const answer = "[global]\nlocale = \"en_US\"\n"

	var posted SysInfo
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
		_, _ = w.Write([]byte(answer))
	}))
	defer server.Close()

	f := &Fetcher{
		Snapshot: environment.Fixture(),
		Log:      testLog(),
	}
	data, err := f.Fetch(context.Background(), &Settings{
		Mode: ModeHttp,
		Http: HttpOptions{URL: server.URL},
	})
	require.NoError(t, err)
	assert.Equal(t, answer, string(data))

	assert.Equal(t, "osinstall", posted.Product.Product)
	assert.Equal(t, []string{"52:54:00:12:34:56"}, posted.MACAddresses)
	assert.Len(t, posted.Disks, 2)
	assert.Equal(t, uint64(4096), posted.TotalMemoryMiB)
	assert.Equal(t, "testhost", posted.Hostname)
}

func TestFetchHTTPServerError(t *testing.T) {
	shortRetryWaits(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no answer for you", http.StatusNotFound)
	}))
	defer server.Close()

	f := &Fetcher{Snapshot: environment.Fixture(), Log: testLog()}
	_, err := f.Fetch(context.Background(), &Settings{
		Mode: ModeHttp,
		Http: HttpOptions{URL: server.URL},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetchHTTPPinned(t *testing.T) {
	const answer = "[global]\n"

	hits := 0
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte(answer))
	}))
	defer server.Close()

	sum := sha256.Sum256(server.Certificate().Raw)
	fingerprint := fingerprintWithColons(sum[:])

	f := &Fetcher{Snapshot: environment.Fixture(), Log: testLog()}
	data, err := f.Fetch(context.Background(), &Settings{
		Mode: ModeHttp,
		Http: HttpOptions{URL: server.URL, CertFingerprint: fingerprint},
	})
	require.NoError(t, err)
	assert.Equal(t, answer, string(data))
	assert.Equal(t, 1, hits)
}

func TestFetchHTTPPinnedMismatch(t *testing.T) {
	shortRetryWaits(t)

	hits := 0
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer server.Close()

	wrong := strings.Repeat("42", sha256.Size)

	f := &Fetcher{Snapshot: environment.Fixture(), Log: testLog()}
	_, err := f.Fetch(context.Background(), &Settings{
		Mode: ModeHttp,
		Http: HttpOptions{URL: server.URL, CertFingerprint: wrong},
	})
	require.Error(t, err)
	assert.Equal(t, 0, hits, "the handshake must fail before any request is served")
}

// shortRetryWaits keeps tests that exhaust the retry budget fast.
func shortRetryWaits(t *testing.T) {
	t.Helper()
	oldMin, oldMax := retryWaitMin, retryWaitMax
	retryWaitMin, retryWaitMax = time.Millisecond, 5*time.Millisecond
	t.Cleanup(func() { retryWaitMin, retryWaitMax = oldMin, oldMax })
}

func fingerprintWithColons(sum []byte) string {
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = hex.EncodeToString([]byte{b})
	}
	return strings.Join(parts, ":")
}

func TestParseFingerprint(t *testing.T) {
	digest := strings.Repeat("ab", sha256.Size)

	cases := map[string]struct {
		input   string
		wantErr bool
	}{
		"plain hex":     {input: digest},
		"with colons":   {input: fingerprintWithColons(mustHex(t, digest))},
		"uppercase":     {input: strings.ToUpper(digest)},
		"too short":     {input: "abcd", wantErr: true},
		"not hex":       {input: strings.Repeat("zz", sha256.Size), wantErr: true},
		"empty":         {input: "", wantErr: true},
		"colon garbage": {input: ":::", wantErr: true},
	}

	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			decoded, err := ParseFingerprint(c.input)
			if c.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, decoded, sha256.Size)
		})
	}
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	decoded, err := hex.DecodeString(s)
	require.NoError(t, err)
	return decoded
}

func TestFindLabeledPartition(t *testing.T) {
	cases := map[string]struct {
		entries []string
		wantErr bool
	}{
		"exact label":     {entries: []string{"data", PartitionLabel}},
		"lowercase label": {entries: []string{strings.ToLower(PartitionLabel)}},
		"no label":        {entries: []string{"data", "EFI"}, wantErr: true},
		"empty dir":       {entries: nil, wantErr: true},
	}

	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			for _, entry := range c.entries {
				require.NoError(t, os.WriteFile(filepath.Join(dir, entry), nil, 0644))
			}

			device, err := findLabeledPartition(dir)
			if c.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, device)
		})
	}
}

func TestFindLabeledPartitionMissingDir(t *testing.T) {
	_, err := findLabeledPartition(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}
