// Package bridge launches the external per-site worker processes and
// classifies their outcomes.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/marketlens/scraperd/internal/scrape"
	"github.com/marketlens/scraperd/internal/sites"
)

const (
	// DefaultStdoutCap bounds how much item output a worker may produce.
	DefaultStdoutCap = 10 << 20
	// DefaultCaptchaCap bounds CAPTCHA-validation worker output.
	DefaultCaptchaCap = 2 << 20
	// stderrCap bounds captured diagnostics; workers log freely on stderr.
	stderrCap = 256 << 10
	// maxEventLine bounds a single line-delimited JSON event.
	maxEventLine = 1 << 20

	waitDelay = 5 * time.Second
)

// Config controls Bridge behavior.
type Config struct {
	// WorkerDir is the directory holding the worker scripts.
	WorkerDir string
	// PythonBin is the interpreter used to launch workers.
	PythonBin string
	// DefaultTimeout bounds worker execution when the request carries none.
	DefaultTimeout time.Duration
	// StdoutCap overrides DefaultStdoutCap when > 0.
	StdoutCap int64
	// CaptchaCap overrides DefaultCaptchaCap when > 0.
	CaptchaCap int64
}

type workerSpec struct {
	script        string
	captchaScript string
}

// Bridge resolves site identifiers to worker-launch descriptors and runs
// them. The descriptor table is built once from the validated site registry;
// request-supplied site values are only ever used as lookup keys, never
// interpolated into paths or command lines.
type Bridge struct {
	cfg      Config
	specs    map[string]workerSpec
	detector scrape.ChallengeDetector
	logger   *zap.Logger
}

// New builds a Bridge from the registered sites. Script file names pass
// through sanitization before being joined onto the worker directory.
func New(registered []sites.Site, detector scrape.ChallengeDetector, cfg Config, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PythonBin == "" {
		cfg.PythonBin = "python3"
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
	if cfg.StdoutCap <= 0 {
		cfg.StdoutCap = DefaultStdoutCap
	}
	if cfg.CaptchaCap <= 0 {
		cfg.CaptchaCap = DefaultCaptchaCap
	}
	specs := make(map[string]workerSpec, len(registered))
	for _, s := range registered {
		key := SanitizeName(s.ID)
		if key == "" {
			continue
		}
		spec := workerSpec{
			script: filepath.Join(cfg.WorkerDir, SanitizeName(s.WorkerScript)),
		}
		if s.CaptchaScript != "" {
			spec.captchaScript = filepath.Join(cfg.WorkerDir, SanitizeName(s.CaptchaScript))
		}
		specs[key] = spec
	}
	return &Bridge{cfg: cfg, specs: specs, detector: detector, logger: logger}
}

// workerEvent is one line-delimited JSON event on worker stdout.
type workerEvent struct {
	Type    string         `json:"type"`
	Scraped int            `json:"scraped"`
	Total   int            `json:"total"`
	Item    map[string]any `json:"item"`
	URL     string         `json:"url"`
	Index   int            `json:"index"`
	Message string         `json:"message"`
}

// Invoke runs the site's worker and classifies the run. The worker receives
// query, fields, max items and job id as separate argv entries; nothing is
// passed through a shell.
func (b *Bridge) Invoke(ctx context.Context, req scrape.Request) (scrape.Outcome, error) {
	spec, ok := b.specs[SanitizeName(req.Site)]
	if !ok {
		return scrape.Outcome{}, fmt.Errorf("no worker registered for site %q", req.Site)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = b.cfg.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := newWorkerCmd(runCtx, b.cfg.PythonBin,
		spec.script,
		"--query", req.Query,
		"--fields", strings.Join(req.Fields, ","),
		"--max-items", strconv.Itoa(req.MaxItems),
		"--job-id", req.JobID,
	)

	var stderr cappedBuffer
	stderr.cap = stderrCap
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return scrape.Outcome{}, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return scrape.Outcome{}, fmt.Errorf("start worker for %s: %w", req.Site, err)
	}

	var (
		raw      bytes.Buffer
		items    []scrape.Item
		scraped  int
		total    int
		overflow bool
	)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64<<10), maxEventLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if int64(raw.Len()+len(line)) > b.cfg.StdoutCap {
			overflow = true
			cancel() // kills the process group via cmd.Cancel
			break
		}
		raw.Write(line)
		raw.WriteByte('\n')

		var ev workerEvent
		if jsonErr := json.Unmarshal(line, &ev); jsonErr != nil {
			// Tolerate stray non-event output; classification happens on
			// exit status.
			continue
		}
		switch ev.Type {
		case "progress":
			scraped, total = ev.Scraped, ev.Total
			if req.OnProgress != nil {
				req.OnProgress(ev.Scraped, ev.Total)
			}
		case "item":
			items = append(items, scrape.Item{Payload: ev.Item, URL: ev.URL, Index: ev.Index})
		}
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()

	outcome := scrape.Outcome{
		Items:     items,
		Scraped:   scraped,
		Total:     total,
		RawOutput: raw.Bytes(),
	}

	switch {
	case overflow:
		outcome.Kind = scrape.OutcomeFailure
		outcome.Reason = fmt.Sprintf("worker output exceeded %d bytes", b.cfg.StdoutCap)
	case runCtx.Err() != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		outcome.Kind = scrape.OutcomeFailure
		outcome.Reason = "timeout"
		outcome.Trace = fmt.Sprintf("worker exceeded %s", timeout)
	default:
		if ch, found := b.detect(stderr.Bytes()); found {
			outcome.Kind = scrape.OutcomeCaptchaRequired
			outcome.Challenge = ch
			break
		}
		if waitErr != nil {
			outcome.Kind = scrape.OutcomeFailure
			outcome.Reason = waitErr.Error()
			outcome.Trace = stderr.Tail()
			break
		}
		if scanErr != nil {
			outcome.Kind = scrape.OutcomeFailure
			outcome.Reason = fmt.Sprintf("read worker output: %v", scanErr)
			break
		}
		outcome.Kind = scrape.OutcomeSuccess
	}

	b.logger.Debug("worker finished",
		zap.String("site", req.Site),
		zap.String("job_id", req.JobID),
		zap.String("outcome", string(outcome.Kind)),
		zap.Int("items", len(items)),
	)
	return outcome, nil
}

// captchaResponse is the validation worker's stdout document.
type captchaResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// ValidateCaptcha runs the site's CAPTCHA validation worker with the same
// sanitization and argv discipline as Invoke.
func (b *Bridge) ValidateCaptcha(ctx context.Context, site, solution, sessionID string) (scrape.Validation, error) {
	spec, ok := b.specs[SanitizeName(site)]
	if !ok {
		return scrape.Validation{}, fmt.Errorf("no worker registered for site %q", site)
	}
	if spec.captchaScript == "" {
		return scrape.Validation{}, fmt.Errorf("site %q has no captcha validation worker", site)
	}

	runCtx, cancel := context.WithTimeout(ctx, b.cfg.DefaultTimeout)
	defer cancel()

	cmd := newWorkerCmd(runCtx, b.cfg.PythonBin,
		spec.captchaScript,
		"--solution", solution,
		"--session-id", sessionID,
	)

	var stdout, stderr cappedBuffer
	stdout.cap = b.cfg.CaptchaCap
	stderr.cap = stderrCap
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stdout.overflowed {
			return scrape.Validation{}, fmt.Errorf("captcha worker output exceeded %d bytes", b.cfg.CaptchaCap)
		}
		return scrape.Validation{}, fmt.Errorf("captcha worker for %s: %w (%s)", site, err, stderr.Tail())
	}

	var resp captchaResponse
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return scrape.Validation{}, fmt.Errorf("parse captcha worker output: %w", err)
	}
	return scrape.Validation{Valid: resp.Valid, Message: resp.Message}, nil
}

func (b *Bridge) detect(diag []byte) (scrape.Challenge, bool) {
	if b.detector == nil {
		return scrape.Challenge{}, false
	}
	return b.detector.Detect(diag)
}

// newWorkerCmd builds an exec.Cmd that runs the worker in its own process
// group so timeout/cancel kills the whole tree, not just the interpreter.
func newWorkerCmd(ctx context.Context, bin string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
			return fmt.Errorf("kill worker process group: %w", err)
		}
		return nil
	}
	cmd.WaitDelay = waitDelay
	return cmd
}

// cappedBuffer is an io.Writer that stops accepting data past cap bytes.
type cappedBuffer struct {
	buf        bytes.Buffer
	cap        int64
	overflowed bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if int64(c.buf.Len()+len(p)) > c.cap {
		c.overflowed = true
		room := c.cap - int64(c.buf.Len())
		if room > 0 {
			c.buf.Write(p[:room])
		}
		return 0, fmt.Errorf("output cap of %d bytes exceeded", c.cap)
	}
	n, err := c.buf.Write(p)
	if err != nil {
		return n, fmt.Errorf("buffer write: %w", err)
	}
	return n, nil
}

func (c *cappedBuffer) Bytes() []byte { return c.buf.Bytes() }

// Tail returns the last chunk of the buffer for error traces.
func (c *cappedBuffer) Tail() string {
	const tail = 4 << 10
	b := c.buf.Bytes()
	if len(b) > tail {
		b = b[len(b)-tail:]
	}
	return strings.TrimSpace(string(b))
}
