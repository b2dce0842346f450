package autoinst

import (
	"fmt"
	"strings"

	"github.com/osinstall/osinstall/internal/answer"
	"github.com/osinstall/osinstall/internal/environment"
	"github.com/osinstall/osinstall/internal/install"
)

// Validate lowers the answer against the environment and runs the same
// validation chain a live session would, without spawning one. The returned
// configuration is the one an installation from this answer would use.
func Validate(ans *answer.Answer, env *environment.Snapshot) (*install.Config, error) {
	args, err := ans.ConfigArgs(env)
	if err != nil {
		return nil, err
	}

	cfg := &install.Config{}
	if err := cfg.Apply(args, env); err != nil {
		return nil, err
	}
	if missing := cfg.MissingFields(); len(missing) > 0 {
		return nil, fmt.Errorf("answer leaves required fields unset: %s", strings.Join(missing, ", "))
	}
	cfg.ApplyDefaults(env)
	if err := cfg.Validate(env); err != nil {
		return nil, err
	}
	return cfg, nil
}
