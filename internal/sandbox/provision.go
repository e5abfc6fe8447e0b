package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// Container describes a jail created by a Provisioner.
type Container struct {
	Name   string
	Port   int
	Stdout string
	Stderr string
}

// runFunc executes name with args in dir.
type runFunc func(ctx context.Context, dir, name string, args ...string) (stdout, stderr string, err error)

// Provisioner creates jail containers with the jail directory's
// run.sh inside a nix development shell.
type Provisioner struct {
	Dir string
	run runFunc
	now func() time.Time
}

// NewProvisioner creates a provisioner for the jail checkout in dir.
func NewProvisioner(dir string) *Provisioner {
	return &Provisioner{Dir: dir, run: execRun, now: time.Now}
}

// Create starts a container listening on port (and port+1 for its
// auxiliary service). The container name embeds the current time in
// milliseconds.
func (p *Provisioner) Create(ctx context.Context, port int) (*Container, error) {
	name := fmt.Sprintf("gauntlet-test-%d", p.now().UnixMilli())
	stdout, stderr, err := p.run(ctx, p.Dir, "nix", "develop", "-c", "./run.sh", name,
		strconv.Itoa(port), strconv.Itoa(port+1))
	c := &Container{Name: name, Port: port, Stdout: stdout, Stderr: stderr}
	if err != nil {
		return c, fmt.Errorf("create container %s: %w", name, err)
	}
	return c, nil
}

func execRun(ctx context.Context, dir, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
