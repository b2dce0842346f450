package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/osinstall/osinstall/internal/answer"
	"github.com/osinstall/osinstall/internal/answer/fetch"
	"github.com/osinstall/osinstall/internal/autoinst"
	"github.com/osinstall/osinstall/internal/common"
	"github.com/osinstall/osinstall/internal/environment"
	"github.com/osinstall/osinstall/internal/envstore"
	"github.com/osinstall/osinstall/internal/install"
	"github.com/osinstall/osinstall/internal/sysprobe"
)

const defaultConfigFile = "/etc/osinstall/backend.toml"

var (
	testMode    bool
	jsonLog     bool
	configFile  string
	answerFile  string
	backendPath string
)

var rootCmd = &cobra.Command{
	Use:          "osinstall-autoinst",
	Short:        "drive an unattended installation from an answer file",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "fetch the answer file, spawn the backend and install",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstall(context.Background())
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <answer.toml>",
	Short: "check an answer file against the environment without installing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(context.Background(), args[0])
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&testMode, "test-mode", "t", false, "use the fixture environment and a dry-run backend, under ./testdir")
	rootCmd.PersistentFlags().BoolVar(&jsonLog, "json", false, "write the log as JSON")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", defaultConfigFile, "driver configuration file")
	runCmd.Flags().StringVarP(&answerFile, "answer-file", "f", "", "read the answer from this file instead of fetching it")
	runCmd.Flags().StringVar(&backendPath, "backend", "osinstall-backend", "backend binary to spawn")
	rootCmd.AddCommand(runCmd, validateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(command string) (*autoinstConfig, *logrus.Entry, error) {
	config, err := parseConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("could not load config file %q: %w", configFile, err)
	}
	if testMode {
		config.RuntimeDir = filepath.Join("testdir", "run")
		config.LogDir = filepath.Join("testdir", "log")
	}

	logger := logrus.StandardLogger()
	if _, err := common.SetupLogging(logger, common.LogConfig{
		Dir:     config.LogDir,
		Command: command,
		JSON:    jsonLog,
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return config, logrus.NewEntry(logger), nil
}

func locations(config *autoinstConfig) environment.Locations {
	return environment.Locations{
		ISO: config.IsoDir,
		Lib: config.LibDir,
		Run: config.RuntimeDir,
		Log: config.LogDir,
	}
}

// environmentSnapshot assembles the snapshot the answer is lowered against:
// the fixture in test mode, otherwise the documents dump-env published, with
// a live probe as last resort.
func environmentSnapshot(ctx context.Context, config *autoinstConfig, log *logrus.Entry) (*environment.Snapshot, error) {
	if testMode {
		return environment.Fixture(), nil
	}

	store := envstore.New(config.RuntimeDir, 0644)
	snapshot, ok, err := store.ReadSnapshot()
	if err != nil {
		return nil, err
	}
	if ok {
		return snapshot, nil
	}

	log.Info("no published snapshot found, probing now")
	prober := &sysprobe.Prober{
		Locations: locations(config),
		Runner:    &install.HostRunner{Log: log},
		Log:       log,
	}
	return envstore.Collect(ctx, prober.Probes())
}

func fetchAnswer(ctx context.Context, config *autoinstConfig, env *environment.Snapshot, log *logrus.Entry) ([]byte, error) {
	if answerFile != "" {
		log.Infof("reading answer file %s", answerFile)
		return os.ReadFile(answerFile)
	}

	settings, err := fetch.LoadSettings(config.IsoDir)
	if err != nil {
		return nil, err
	}

	var runner install.Runner = &install.HostRunner{Log: log}
	if testMode {
		runner = &install.DryRunner{Log: log}
	}
	fetcher := &fetch.Fetcher{
		Locations: locations(config),
		Snapshot:  env,
		Runner:    runner,
		Log:       log,
	}
	return fetcher.Fetch(ctx, settings)
}

func defaultWebhook(config *autoinstConfig) autoinst.Webhook {
	if config.Webhook == nil {
		return autoinst.Webhook{}
	}
	return autoinst.Webhook{
		URL:             config.Webhook.URL,
		CertFingerprint: config.Webhook.CertFingerprint,
	}
}

func runInstall(ctx context.Context) error {
	config, log, err := setup("autoinst")
	if err != nil {
		return err
	}

	env, err := environmentSnapshot(ctx, config, log)
	if err != nil {
		return fmt.Errorf("cannot assemble the environment: %w", err)
	}

	body, err := fetchAnswer(ctx, config, env, log)
	if err != nil {
		return fmt.Errorf("cannot fetch the answer file: %w", err)
	}
	ans, err := answer.Parse(bytes.NewReader(body))
	if err != nil {
		return err
	}

	if err := autoinst.StageFirstBoot(ctx, ans, config.RuntimeDir, log); err != nil {
		return err
	}

	backendArgs := []string{"--config", configFile}
	if testMode {
		backendArgs = append(backendArgs, "--test-mode")
	}
	backendArgs = append(backendArgs, "start-session")

	backend, err := autoinst.SpawnBackend(ctx, log, backendPath, backendArgs...)
	if err != nil {
		return err
	}

	report, err := autoinst.Run(ctx, backend.Client, ans, env, log)
	if closeErr := backend.Close(); closeErr != nil {
		log.Warnf("closing the backend: %v", closeErr)
	}
	if err != nil {
		return err
	}

	webhook := autoinst.ResolveWebhook(ans, defaultWebhook(config))
	if err := webhook.Send(ctx, report, log); err != nil {
		log.Errorf("reporting the result: %v", err)
	}

	if printed, err := json.MarshalIndent(report, "", "  "); err == nil {
		fmt.Println(string(printed))
	}

	if report.Result != autoinst.ReportSuccess {
		return fmt.Errorf("installation failed: %s", report.Message)
	}
	log.Infof("installation finished in %.0f seconds", report.DurationSeconds)
	return nil
}

func runValidate(ctx context.Context, path string) error {
	config, log, err := setup("validate-answer")
	if err != nil {
		return err
	}

	env, err := environmentSnapshot(ctx, config, log)
	if err != nil {
		return fmt.Errorf("cannot assemble the environment: %w", err)
	}

	ans, err := answer.ParseFile(path)
	if err != nil {
		return err
	}
	cfg, err := autoinst.Validate(ans, env)
	if err != nil {
		return fmt.Errorf("answer file %s is not usable here: %w", path, err)
	}

	fmt.Printf("answer file %s is valid: %s onto %s\n",
		path, cfg.Filesystem, strings.Join(cfg.TargetDisks, ", "))
	return nil
}
