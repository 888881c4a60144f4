package executor

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"syncd/internal/job"
	logx "syncd/pkg/logx"
)

func TestRegistryUnknownTypeIsPermanent(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_, err := r.Execute(context.Background(), job.OrderSync)
	if !errors.Is(err, ErrNoExecutor) || !job.IsNoRetry(err) {
		t.Fatalf("err = %v", err)
	}
	if err := r.Register("refund_sync", func(context.Context, job.Type) (job.Result, error) { return job.Result{}, nil }); err == nil {
		t.Fatalf("expected error registering unknown type")
	}
}

func TestRegistryDispatch(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_ = r.Register(job.CustomerSync, func(_ context.Context, t job.Type) (job.Result, error) {
		return job.Result{Processed: len(t)}, nil
	})
	res, err := r.Execute(context.Background(), job.CustomerSync)
	if err != nil || res.Processed != len("customer_sync") {
		t.Fatalf("Execute = %+v, %v", res, err)
	}
	if got := r.Types(); len(got) != 1 || got[0] != job.CustomerSync {
		t.Fatalf("Types = %v", got)
	}
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommandParsesLastLine(t *testing.T) {
	t.Parallel()
	requireShell(t)
	fn := Command(CommandSpec{Run: `echo "syncing $SYNCD_JOB_TYPE"; echo '{"processed":4,"failed":1}'`}, logx.Nop())
	res, err := fn(context.Background(), job.InventorySync)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Processed != 4 || res.Failed != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestCommandExitCodes(t *testing.T) {
	t.Parallel()
	requireShell(t)
	tests := []struct {
		name    string
		run     string
		noRetry bool
	}{
		{name: "generic failure retries", run: "echo boom >&2; exit 1", noRetry: false},
		{name: "tempfail retries", run: "exit 75", noRetry: false},
		{name: "config error is permanent", run: "echo bad config >&2; exit 78", noRetry: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := Command(CommandSpec{Run: tt.run}, logx.Nop())(context.Background(), job.OrderSync)
			if err == nil {
				t.Fatalf("expected error")
			}
			if job.IsNoRetry(err) != tt.noRetry {
				t.Fatalf("IsNoRetry = %v for %v", job.IsNoRetry(err), err)
			}
		})
	}

	_, err := Command(CommandSpec{Run: "echo upstream timeout >&2; exit 2"}, logx.Nop())(context.Background(), job.OrderSync)
	if err == nil || !strings.Contains(err.Error(), "upstream timeout") {
		t.Fatalf("stderr not carried: %v", err)
	}
}

func TestCommandHonorsContext(t *testing.T) {
	t.Parallel()
	requireShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := Command(CommandSpec{Run: "exec sleep 5"}, logx.Nop())(ctx, job.OrderSync)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseResultIgnoresNoise(t *testing.T) {
	t.Parallel()
	if r := parseResult([]byte("done\n")); r != (job.Result{}) {
		t.Fatalf("non-json line parsed as %+v", r)
	}
	if r := parseResult([]byte("{\"processed\":2}\n\n")); r.Processed != 2 {
		t.Fatalf("trailing blank lines not skipped: %+v", r)
	}
}

func TestTrimOutputKeepsRunesWhole(t *testing.T) {
	t.Parallel()
	// "é" is two bytes; the trailing ASCII byte puts the naive cut inside a rune.
	in := strings.Repeat("é", maxStderr) + "x"
	out := trimOutput(in)
	if !utf8.ValidString(out) {
		t.Fatalf("trimmed output is not valid UTF-8: %q", out[:16])
	}
	if !strings.HasPrefix(out, "…é") || len(out) > len("…")+maxStderr {
		t.Fatalf("unexpected trim: len=%d prefix=%q", len(out), out[:8])
	}
	if got := trimOutput("  boom \n"); got != "boom" {
		t.Fatalf("short output = %q", got)
	}
}
