// Package toolexec drives the external download, archive, and upload tools.
// Each call runs to completion; nothing here kills a child process early.
package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/JakeFAU/mediaharvest/internal/manifest"
)

// Command is one external invocation.
type Command struct {
	Dir  string
	Name string
	Args []string
	// CaptureStderr keeps stderr for the error message; otherwise it is discarded.
	CaptureStderr bool
}

// String renders the invocation for logs.
func (c Command) String() string {
	parts := append([]string{c.Name}, c.Args...)
	s := strings.Join(parts, " ")
	if c.Dir != "" {
		s = "(cd " + c.Dir + " && " + s + ")"
	}
	return s
}

// Runner executes a Command and reports its exit status.
type Runner interface {
	Run(cmd Command) error
}

// ExecRunner runs commands with os/exec, discarding stdout.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(c Command) error {
	cmd := exec.Command(c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	if c.CaptureStderr {
		cmd.Stderr = &stderr
	} else {
		cmd.Stderr = io.Discard
	}
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", c, err, msg)
		}
		return fmt.Errorf("%s: %w", c, err)
	}
	return nil
}

// Wget retrieves a fetch unit by feeding its manifest to wget.
type Wget struct {
	Binary         string
	Retries        int
	TimeoutSeconds int
	Runner         Runner
}

// Retrieve runs wget inside dir with no-clobber and resume enabled.
func (w Wget) Retrieve(_ context.Context, dir string) error {
	if dir == "" {
		return errors.New("wget: empty fetch unit")
	}
	return runner(w.Runner).Run(w.Command(dir))
}

// Command builds the wget invocation for dir.
func (w Wget) Command(dir string) Command {
	bin := w.Binary
	if bin == "" {
		bin = "wget"
	}
	return Command{
		Dir:  dir,
		Name: bin,
		Args: []string{
			"-nc", "-c",
			"-t", strconv.Itoa(w.Retries),
			"-T", strconv.Itoa(w.TimeoutSeconds),
			"-i", manifest.FileName,
		},
	}
}

// Tar writes gzip-compressed tarballs.
type Tar struct {
	Binary string
	Runner Runner
}

// Archive runs tar zcf archivePath sources...
func (t Tar) Archive(_ context.Context, archivePath string, sources []string) error {
	if len(sources) == 0 {
		return errors.New("tar: nothing to archive")
	}
	return runner(t.Runner).Run(t.Command(archivePath, sources))
}

// Command builds the tar invocation.
func (t Tar) Command(archivePath string, sources []string) Command {
	bin := t.Binary
	if bin == "" {
		bin = "tar"
	}
	args := append([]string{"zcf", archivePath}, sources...)
	return Command{Name: bin, Args: args, CaptureStderr: true}
}

// CommandUploader uploads with a configured command line:
// argv... <archive> <remotePath>.
type CommandUploader struct {
	Argv       []string
	RemotePath string
	Runner     Runner
}

// Upload implements compactor.Uploader.
func (u CommandUploader) Upload(_ context.Context, archivePath string) error {
	if len(u.Argv) == 0 {
		return errors.New("upload command is not configured")
	}
	return runner(u.Runner).Run(u.Command(archivePath))
}

// Command builds the upload invocation.
func (u CommandUploader) Command(archivePath string) Command {
	args := append(append([]string(nil), u.Argv[1:]...), archivePath)
	if u.RemotePath != "" {
		args = append(args, u.RemotePath)
	}
	return Command{Name: u.Argv[0], Args: args, CaptureStderr: true}
}

func runner(r Runner) Runner {
	if r == nil {
		return ExecRunner{}
	}
	return r
}
