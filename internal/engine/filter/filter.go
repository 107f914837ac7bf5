package filter

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
)

// Evaluator runs a jq expression against a JSON payload. Dropped means
// the expression selected the payload away: the subprocess exited
// non-zero, produced nothing, or produced exactly false or null.
type Evaluator interface {
	Evaluate(ctx context.Context, expr string, payload []byte) (produced []byte, dropped bool)
}

// Engine shells out to jq so expressions behave exactly as they do on an
// operator's command line. Subprocess failures are contained to the one
// evaluation that spawned them.
type Engine struct {
	jqPath  string
	timeout time.Duration
}

func NewEngine(jqPath string, timeout time.Duration) *Engine {
	if jqPath == "" {
		jqPath = "jq"
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Engine{jqPath: jqPath, timeout: timeout}
}

func (e *Engine) Evaluate(ctx context.Context, expr string, payload []byte) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.jqPath, "-c", expr)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		log.Debug().Err(err).Str("expr", expr).Str("stderr", stderr.String()).Msg("jq evaluation failed")
		return nil, true
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 || bytes.Equal(out, []byte("false")) || bytes.Equal(out, []byte("null")) {
		return nil, true
	}
	return out, false
}
