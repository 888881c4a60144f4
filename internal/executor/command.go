package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"syncd/internal/job"
	logx "syncd/pkg/logx"
)

// Exit codes from sysexits.h. 75 (EX_TEMPFAIL) asks for a retry; the rest of
// the 64..78 range is treated as permanent.
const (
	exitUsageMin = 64
	exitTempFail = 75
	exitUsageMax = 78
)

const (
	maxStderr = 512
	waitDelay = 2 * time.Second
)

// CommandSpec describes an external program that performs one job type.
type CommandSpec struct {
	Run string   // passed to sh -c
	Dir string   // working directory; empty means the current one
	Env []string // extra KEY=VALUE pairs
}

// Command builds a Func that runs spec through the shell.
//
// The job type is exported as SYNCD_JOB_TYPE. The last non-empty stdout line
// may be a JSON object {"processed":n,"failed":m}; anything else counts as
// zero records.
func Command(spec CommandSpec, log logx.Logger) Func {
	return func(ctx context.Context, t job.Type) (job.Result, error) {
		cmd := exec.CommandContext(ctx, "sh", "-c", spec.Run)
		cmd.Dir = spec.Dir
		// Grandchildren may keep the pipes open after the shell is killed.
		cmd.WaitDelay = waitDelay
		cmd.Env = append(os.Environ(), spec.Env...)
		cmd.Env = append(cmd.Env, "SYNCD_JOB_TYPE="+t.String())

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		res := parseResult(stdout.Bytes())
		if err == nil {
			log.Debug("command finished", logx.String("job", t.String()), logx.Int("processed", res.Processed), logx.Int("failed", res.Failed))
			return res, nil
		}
		if ctx.Err() != nil {
			return res, fmt.Errorf("%s: %w", t, ctx.Err())
		}

		msg := trimOutput(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			err = fmt.Errorf("%s: exit %d: %s", t, code, msg)
			if code >= exitUsageMin && code <= exitUsageMax && code != exitTempFail {
				return res, job.NoRetry(err)
			}
			return res, err
		}
		return res, fmt.Errorf("%s: %w", t, err)
	}
}

func parseResult(out []byte) job.Result {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var r job.Result
		if strings.HasPrefix(line, "{") && json.Unmarshal([]byte(line), &r) == nil {
			return r
		}
		return job.Result{}
	}
	return job.Result{}
}

func trimOutput(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "no stderr output"
	}
	if len(s) > maxStderr {
		cut := len(s) - maxStderr
		for cut < len(s) && !utf8.RuneStart(s[cut]) {
			cut++
		}
		s = "…" + s[cut:]
	}
	return s
}
