// Package capture runs external camera programs.
//
// Contract for every command: run via /bin/sh -c with environment
// PENLOK_DIR, PENLOK_USERNAME, PENLOK_COUNT.
// Capture commands print saved image paths, one per line, and exit 0.
// Exit code 1 means user cancelled.
package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/penlok/helpers"
	"github.com/temoto/penlok/log2"
)

const (
	DefaultTimeout = 120 * time.Second
	exitCancel     = 1
)

type Config struct {
	QRCommand     string `hcl:"qr_command"`
	BatchCommand  string `hcl:"batch_command"`
	SingleCommand string `hcl:"single_command"`
	TimeoutSec    int    `hcl:"timeout_sec"`
}

type Runner struct {
	log     *log2.Log
	config  Config
	timeout time.Duration
}

func New(log *log2.Log, c Config) *Runner {
	return &Runner{log: log, config: c, timeout: helpers.IntSecondDefault(c.TimeoutSec, DefaultTimeout)}
}

// ScanQR runs QR scanner program and returns its exit code.
// Error means program could not run at all.
func (self *Runner) ScanQR(ctx context.Context) (int, error) {
	if self.config.QRCommand == "" {
		return 0, errors.NotValidf("capture.qr_command empty")
	}
	_, code, err := self.run(ctx, self.config.QRCommand, nil)
	return code, err
}

// Exec runs command to completion, non-zero exit is an error.
func (self *Runner) Exec(ctx context.Context, command string) error {
	_, code, err := self.run(ctx, command, nil)
	if err == nil && code != 0 {
		err = errors.Errorf("command=%q exit=%d", command, code)
	}
	return err
}

func (self *Runner) CaptureBatch(ctx context.Context, dir, username string, n int) ([]string, error) {
	if self.config.BatchCommand == "" {
		return nil, errors.NotValidf("capture.batch_command empty")
	}
	env := []string{
		"PENLOK_DIR=" + dir,
		"PENLOK_USERNAME=" + username,
		fmt.Sprintf("PENLOK_COUNT=%d", n),
	}
	return self.capture(ctx, self.config.BatchCommand, dir, env, n)
}

func (self *Runner) CaptureOne(ctx context.Context, dir string) (string, error) {
	if self.config.SingleCommand == "" {
		return "", errors.NotValidf("capture.single_command empty")
	}
	env := []string{"PENLOK_DIR=" + dir, "PENLOK_COUNT=1"}
	paths, err := self.capture(ctx, self.config.SingleCommand, dir, env, 1)
	if err != nil || len(paths) == 0 {
		return "", err
	}
	return paths[0], nil
}

func (self *Runner) capture(ctx context.Context, command, dir string, env []string, max int) ([]string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Annotate(err, "capture dir")
	}
	out, code, err := self.run(ctx, command, env)
	if err != nil {
		return nil, err
	}
	switch code {
	case 0:
	case exitCancel:
		self.log.Infof("capture cancelled")
		return nil, nil
	default:
		return nil, errors.Errorf("capture command exit=%d", code)
	}
	paths := make([]string, 0, max)
	s := bufio.NewScanner(bytes.NewReader(out))
	for s.Scan() && len(paths) < max {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		if !filepath.IsAbs(line) {
			line = filepath.Join(dir, line)
		}
		if _, err := os.Stat(line); err != nil {
			self.log.Errorf("capture output path=%s err=%v", line, err)
			continue
		}
		paths = append(paths, line)
	}
	return paths, nil
}

// run returns stdout and exit code.
func (self *Runner) run(ctx context.Context, command string, env []string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, self.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Env = append(os.Environ(), env...)
	// children may hold stdout after shell is killed
	cmd.WaitDelay = time.Second
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.Stdout, cmd.Stderr = stdout, stderr
	self.log.Debugf("capture run command=%q env=%v", command, env)
	err := cmd.Run()
	if stderr.Len() != 0 {
		self.log.Debugf("capture stderr=%s", stderr.Bytes())
	}
	if ctx.Err() == context.DeadlineExceeded {
		return nil, -1, errors.Timeoutf("capture command=%q", command)
	}
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return stdout.Bytes(), ee.ExitCode(), nil
		}
		return nil, -1, errors.Annotatef(err, "capture command=%q", command)
	}
	return stdout.Bytes(), 0, nil
}
