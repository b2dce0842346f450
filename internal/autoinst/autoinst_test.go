package autoinst

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osinstall/osinstall/internal/answer"
	"github.com/osinstall/osinstall/internal/common"
	"github.com/osinstall/osinstall/internal/environment"
	"github.com/osinstall/osinstall/internal/install"
	"github.com/osinstall/osinstall/internal/protocol"
	"github.com/osinstall/osinstall/internal/session"
)

const zfsAnswer = `
[global]
locale = "en_US"
fqdn = "pve.testdomain.example"
root_password = "s3cr3t"

[network]
source = "from-dhcp"

[disk-setup]
filesystem = "zfs"
disk_list = ["sda", "sdb"]
zfs.raid = "raid1"
`

const ext4Answer = `
[global]
locale = "en_US"
fqdn = "pve.testdomain.example"
root_password = "s3cr3t"

[network]
source = "from-dhcp"

[disk-setup]
filesystem = "ext4"
disk_list = ["sda"]
`

// fakeRunner records every command line. Commands matching failOn fail
// failFor times, then succeed; failFor < 0 means they never heal.
type fakeRunner struct {
	calls   []string
	failOn  string
	failFor int
}

func (r *fakeRunner) Run(ctx context.Context, stdin io.Reader, name string, arg ...string) ([]byte, error) {
	line := strings.Join(append([]string{name}, arg...), " ")
	r.calls = append(r.calls, line)
	if stdin != nil {
		_, _ = io.Copy(io.Discard, stdin)
	}
	if r.failOn != "" && strings.Contains(line, r.failOn) && r.failFor != 0 {
		if r.failFor > 0 {
			r.failFor--
		}
		return nil, &install.CommandError{Cmdline: line, ExitCode: 1, Stderr: "boom"}
	}
	return []byte("ok"), nil
}

func (r *fakeRunner) countCalled(substring string) int {
	n := 0
	for _, call := range r.calls {
		if strings.Contains(call, substring) {
			n++
		}
	}
	return n
}

func newTestLog() (*logrus.Entry, *logrusTest.Hook) {
	logger, hook := logrusTest.NewNullLogger()
	return logrus.NewEntry(logger), hook
}

func parseAnswer(t *testing.T, text string) *answer.Answer {
	t.Helper()
	ans, err := answer.Parse(strings.NewReader(text))
	require.NoError(t, err)
	return ans
}

// startSession runs a real backend session on the far end of a pipe pair,
// the way a spawned backend sits behind its stdin/stdout.
func startSession(t *testing.T, runner install.Runner, env *environment.Snapshot, clientLog *logrus.Entry) *Client {
	t.Helper()

	requestReader, requestWriter := io.Pipe()
	replyReader, replyWriter := io.Pipe()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	sess := session.New(session.Options{
		Env:       env,
		Runner:    runner,
		TargetDir: t.TempDir(),
		LogPath:   filepath.Join(t.TempDir(), "install-low-level-start-session.log"),
		Seed:      0,
		Log:       logrus.NewEntry(logger),
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(context.Background(), protocol.NewCodec(requestReader, replyWriter))
		_ = replyWriter.Close()
	}()
	t.Cleanup(func() {
		_ = requestWriter.Close()
		<-done
	})

	return NewClient(replyReader, requestWriter, clientLog)
}

func hookMessages(hook *logrusTest.Hook) []string {
	var messages []string
	for _, entry := range hook.AllEntries() {
		messages = append(messages, entry.Message)
	}
	return messages
}

func TestRunInstallsAnswer(t *testing.T) {
	runner := &install.DryRunner{}
	env := environment.Fixture()
	log, hook := newTestLog()
	client := startSession(t, runner, env, log)

	report, err := Run(context.Background(), client, parseAnswer(t, zfsAnswer), env, log)
	require.NoError(t, err)

	assert.Equal(t, ReportSuccess, report.Result)
	assert.Empty(t, report.Message)
	assert.Equal(t, "Completed", report.State)
	assert.Equal(t, "pve.testdomain.example", report.FQDN)
	assert.Equal(t, "osinstall", report.Product.Product)
	assert.Equal(t, "1.2-1", report.Product.Version)
	assert.Equal(t, common.Version, report.BackendVersion)
	assert.NotEmpty(t, report.SessionID)
	assert.True(t, report.DiskTouched)
	assert.Empty(t, report.Severity)
	assert.GreaterOrEqual(t, report.DurationSeconds, 0.0)

	require.Len(t, report.Steps, 6)
	for _, step := range report.Steps {
		assert.True(t, step.Success, "step %s failed", step.Step)
		assert.False(t, step.Retried)
	}

	var mirrored int
	for _, line := range runner.Commands {
		if strings.HasPrefix(line, "zpool") {
			mirrored++
		}
	}
	assert.Positive(t, mirrored)

	plannedLog := false
	progressLog := false
	for _, entry := range hook.AllEntries() {
		if strings.HasPrefix(entry.Message, "installation plan:") {
			plannedLog = true
		}
		if _, ok := entry.Data["step"]; ok && entry.Level == logrus.InfoLevel {
			progressLog = true
		}
	}
	assert.True(t, plannedLog, "plan was not logged: %v", hookMessages(hook))
	assert.True(t, progressLog, "no progress was relayed into the log")
}

func TestRunReportsStepFailure(t *testing.T) {
	runner := &fakeRunner{failOn: "grub-mkconfig", failFor: -1}
	env := environment.Fixture()
	log, _ := newTestLog()
	client := startSession(t, runner, env, log)

	report, err := Run(context.Background(), client, parseAnswer(t, ext4Answer), env, log)
	require.NoError(t, err)

	assert.Equal(t, ReportFailure, report.Result)
	assert.Contains(t, report.Message, "configure-bootloader")
	assert.Equal(t, "Failed", report.State)
	assert.Equal(t, session.SeverityUnsafeState, report.Severity)
	assert.True(t, report.DiskTouched)

	// four completed steps plus the failed bootloader attempt
	require.Len(t, report.Steps, 5)
	failed := report.Steps[4]
	assert.Equal(t, "configure-bootloader", failed.Step)
	assert.False(t, failed.Success)

	// not idempotent, so no retry was attempted
	assert.Equal(t, 1, runner.countCalled("grub-mkconfig"))
}

func TestRunRetriesIdempotentStep(t *testing.T) {
	runner := &fakeRunner{failOn: "mkswap", failFor: 1}
	env := environment.Fixture()
	log, hook := newTestLog()
	client := startSession(t, runner, env, log)

	report, err := Run(context.Background(), client, parseAnswer(t, ext4Answer), env, log)
	require.NoError(t, err)

	assert.Equal(t, ReportSuccess, report.Result)
	assert.Equal(t, "Completed", report.State)

	// six plan steps plus the failed format attempt
	require.Len(t, report.Steps, 7)
	var retried []string
	for _, step := range report.Steps {
		if step.Retried {
			retried = append(retried, step.Step)
		}
	}
	assert.Equal(t, []string{"format"}, retried)
	assert.Equal(t, 2, runner.countCalled("mkswap"))

	retryLogged := false
	for _, message := range hookMessages(hook) {
		if strings.Contains(message, "retrying once") {
			retryLogged = true
		}
	}
	assert.True(t, retryLogged)
}

func TestRunGivesUpAfterOneRetry(t *testing.T) {
	runner := &fakeRunner{failOn: "mkswap", failFor: -1}
	env := environment.Fixture()
	log, _ := newTestLog()
	client := startSession(t, runner, env, log)

	report, err := Run(context.Background(), client, parseAnswer(t, ext4Answer), env, log)
	require.NoError(t, err)

	assert.Equal(t, ReportFailure, report.Result)
	assert.Contains(t, report.Message, "format")
	assert.Equal(t, "Failed", report.State)
	assert.Equal(t, session.SeverityUnsafeState, report.Severity)

	// the first attempt and its one retry, nothing beyond that
	assert.Equal(t, 2, runner.countCalled("mkswap"))
	require.Len(t, report.Steps, 4)
	assert.False(t, report.Steps[2].Retried)
	assert.True(t, report.Steps[3].Retried)
}

func TestRunConfigureRejected(t *testing.T) {
	oneDiskRaid := strings.Replace(zfsAnswer, `disk_list = ["sda", "sdb"]`, `disk_list = ["sda"]`, 1)
	env := environment.Fixture()
	log, _ := newTestLog()
	client := startSession(t, &fakeRunner{}, env, log)

	report, err := Run(context.Background(), client, parseAnswer(t, oneDiskRaid), env, log)
	require.NoError(t, err)

	assert.Equal(t, ReportFailure, report.Result)
	assert.Contains(t, report.Message, "configuration rejected")
	assert.Contains(t, report.Message, "raid1 needs at least 2 disks")
	assert.Equal(t, "Idle", report.State)
	assert.False(t, report.DiskTouched)
	assert.Empty(t, report.Steps)
	assert.NotEmpty(t, report.SessionID)
}

func TestRunTransportError(t *testing.T) {
	env := environment.Fixture()
	log, _ := newTestLog()
	client := NewClient(strings.NewReader(""), io.Discard, log)

	report, err := Run(context.Background(), client, parseAnswer(t, zfsAnswer), env, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configure")
	assert.Nil(t, report)
}

func TestStageFirstBoot(t *testing.T) {
	const script = "#!/bin/sh\necho first boot\n"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(script))
	}))
	defer server.Close()

	ans := parseAnswer(t, zfsAnswer+"\n[first-boot]\nenabled = true\nurl = \""+server.URL+"\"\n")
	runDir := t.TempDir()
	log, _ := newTestLog()

	require.NoError(t, StageFirstBoot(context.Background(), ans, runDir, log))

	assert.Empty(t, ans.FirstBoot.URL)
	assert.Equal(t, filepath.Join(runDir, "firstboot"), ans.FirstBoot.Source)

	body, err := os.ReadFile(ans.FirstBoot.Source)
	require.NoError(t, err)
	assert.Equal(t, script, string(body))

	info, err := os.Stat(ans.FirstBoot.Source)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	// the staged answer now lowers to a local first-boot source
	args, err := ans.ConfigArgs(environment.Fixture())
	require.NoError(t, err)
	require.NotNil(t, args.FirstBoot)
	assert.Equal(t, ans.FirstBoot.Source, args.FirstBoot.Source)
}

func TestStageFirstBootLeavesLocalSource(t *testing.T) {
	ans := parseAnswer(t, zfsAnswer+"\n[first-boot]\nenabled = true\nsource = \"/run/osinstall/hook.sh\"\n")
	log, _ := newTestLog()

	require.NoError(t, StageFirstBoot(context.Background(), ans, t.TempDir(), log))
	assert.Equal(t, "/run/osinstall/hook.sh", ans.FirstBoot.Source)
}

func TestStageFirstBootWithoutHook(t *testing.T) {
	ans := parseAnswer(t, zfsAnswer)
	log, _ := newTestLog()

	require.NoError(t, StageFirstBoot(context.Background(), ans, t.TempDir(), log))
	assert.Nil(t, ans.FirstBoot)
}

func TestStageFirstBootEmptyHook(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	ans := parseAnswer(t, zfsAnswer+"\n[first-boot]\nenabled = true\nurl = \""+server.URL+"\"\n")
	log, _ := newTestLog()

	err := StageFirstBoot(context.Background(), ans, t.TempDir(), log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is empty")
}

func TestWebhookSend(t *testing.T) {
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json; charset=utf-8", r.Header.Get("Content-Type"))
		received, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	report := &Report{
		Result:  ReportSuccess,
		State:   "Completed",
		Product: environment.Fixture().Iso,
		Steps:   []install.StepResult{{Step: "finalize", Success: true}},
	}
	log, _ := newTestLog()

	webhook := Webhook{URL: server.URL}
	require.NoError(t, webhook.Send(context.Background(), report, log))

	var posted Report
	require.NoError(t, json.Unmarshal(received, &posted))
	assert.Equal(t, ReportSuccess, posted.Result)
	assert.Equal(t, "Completed", posted.State)
	assert.Equal(t, "osinstall", posted.Product.Product)
	require.Len(t, posted.Steps, 1)
	assert.Equal(t, "finalize", posted.Steps[0].Step)
}

func TestWebhookWithoutURLSendsNothing(t *testing.T) {
	log, _ := newTestLog()
	assert.NoError(t, Webhook{}.Send(context.Background(), &Report{Result: ReportFailure}, log))
}

func TestResolveWebhook(t *testing.T) {
	fallback := Webhook{URL: "https://config.example/hook", CertFingerprint: "aa"}

	cases := map[string]struct {
		answer string
		want   Webhook
	}{
		"post-hook wins": {
			answer: zfsAnswer + "\n[post-hook]\nurl = \"https://answer.example/hook\"\ncert_fingerprint = \"bb\"\n",
			want:   Webhook{URL: "https://answer.example/hook", CertFingerprint: "bb"},
		},
		"fallback without post-hook": {
			answer: zfsAnswer,
			want:   fallback,
		},
	}

	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, c.want, ResolveWebhook(parseAnswer(t, c.answer), fallback))
		})
	}

	assert.Equal(t, fallback, ResolveWebhook(nil, fallback))
}

func TestValidate(t *testing.T) {
	cfg, err := Validate(parseAnswer(t, zfsAnswer), environment.Fixture())
	require.NoError(t, err)

	assert.Equal(t, []string{"/dev/sda", "/dev/sdb"}, cfg.TargetDisks)
	require.NotNil(t, cfg.Filesystem)
	assert.Equal(t, install.FsZfs, *cfg.Filesystem)
	assert.Equal(t, "us", cfg.Country)
}

func TestValidateErrors(t *testing.T) {
	cases := map[string]struct {
		answer  string
		wantErr string
	}{
		"raid needs more disks": {
			answer:  strings.Replace(zfsAnswer, `disk_list = ["sda", "sdb"]`, `disk_list = ["sda"]`, 1),
			wantErr: "raid1 needs at least 2 disks",
		},
		"absent disk": {
			answer:  strings.Replace(zfsAnswer, `disk_list = ["sda", "sdb"]`, `disk_list = ["sdc"]`, 1),
			wantErr: `disk "sdc" is not present`,
		},
	}

	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Validate(parseAnswer(t, c.answer), environment.Fixture())
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.wantErr)
		})
	}
}
