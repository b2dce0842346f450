package autoinst

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/osinstall/osinstall/internal/answer"
	"github.com/osinstall/osinstall/internal/answer/fetch"
	"github.com/osinstall/osinstall/internal/envstore"
)

// firstBootScript is the staged hook file name under the run directory.
const firstBootScript = "firstboot"

// StageFirstBoot materializes a first-boot hook served over HTTP. The
// downloaded script lands in the run directory and the answer is rewritten
// to point at it, so the lowered configuration only ever names a local
// source. Answers without a first-boot URL are left alone.
func StageFirstBoot(ctx context.Context, ans *answer.Answer, runDir string, log *logrus.Entry) error {
	if ans.FirstBoot == nil || !ans.FirstBoot.Enabled || ans.FirstBoot.URL == "" {
		return nil
	}

	body, err := fetch.Get(ctx, ans.FirstBoot.URL, ans.FirstBoot.CertFingerprint, log)
	if err != nil {
		return fmt.Errorf("fetching first-boot hook: %w", err)
	}
	if len(body) == 0 {
		return fmt.Errorf("first-boot hook %s is empty", ans.FirstBoot.URL)
	}

	path := filepath.Join(runDir, firstBootScript)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("staging first-boot hook: %w", err)
	}
	err = envstore.WriteFileAtomically(runDir, firstBootScript, 0o700, func(f *os.File) error {
		_, err := f.Write(body)
		return err
	})
	if err != nil {
		return fmt.Errorf("staging first-boot hook: %w", err)
	}

	log.Infof("staged first-boot hook from %s at %s", ans.FirstBoot.URL, path)
	ans.FirstBoot.URL = ""
	ans.FirstBoot.Source = path
	return nil
}
