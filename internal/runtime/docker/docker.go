// Package docker runs the generated project inside a long-lived Docker
// container. Mounts are copied in as tar archives and commands run as
// container execs.
package docker

import (
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"

	"github.com/zapbuilder/zapbuild/internal/errors"
	"github.com/zapbuilder/zapbuild/internal/logging"
	"github.com/zapbuilder/zapbuild/internal/runtime"
)

const (
	DefaultImage         = "node:20-alpine"
	DefaultContainerName = "zapbuild-runtime"
	DefaultProjectDir    = "/home/project"

	// pidDir holds one pid file per exec so that Kill can reach it.
	pidDir = "/tmp/.zapbuild"
)

// Options configures an Adapter.
type Options struct {
	Image         string
	ContainerName string
	ProjectDir    string
	// Ports are published on 127.0.0.1 under the same number. Without
	// ports the container shares the host network.
	Ports  []int
	Logger *logging.Logger
}

// Adapter is a runtime.Adapter backed by a Docker container. The container
// is created on first use and removed by Reset.
type Adapter struct {
	docker   client.APIClient
	opts     Options
	logger   *logging.Logger
	detector *runtime.ReadyDetector

	mu      sync.Mutex
	started bool
	procs   map[*process]struct{}
}

var _ runtime.Adapter = (*Adapter)(nil)

// New returns an adapter using the given Docker client.
func New(docker client.APIClient, opts Options) *Adapter {
	if opts.Image == "" {
		opts.Image = DefaultImage
	}
	if opts.ContainerName == "" {
		opts.ContainerName = DefaultContainerName
	}
	if opts.ProjectDir == "" {
		opts.ProjectDir = DefaultProjectDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Adapter{
		docker:   docker,
		opts:     opts,
		logger:   logger.WithComponent("runtime.docker"),
		detector: runtime.NewReadyDetector(),
		procs:    make(map[*process]struct{}),
	}
}

// NewFromEnv connects to the daemon described by the DOCKER_* environment.
func NewFromEnv(opts Options) (*Adapter, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.NewRuntimeError("connect to docker", err).WithAdapter("docker").WithOperation("boot")
	}
	return New(docker, opts), nil
}

// Start ensures the container exists and is running. A running container
// is reused, a stopped one is started and a missing one is created, pulling
// the image if needed. Mount and Spawn call it implicitly.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	if err := a.ensureContainer(ctx); err != nil {
		return errors.NewRuntimeError("start container", err).WithAdapter("docker").WithOperation("boot")
	}
	a.started = true
	return nil
}

func (a *Adapter) ensureContainer(ctx context.Context) error {
	name := a.opts.ContainerName
	info, err := a.docker.ContainerInspect(ctx, name)
	if err == nil {
		if info.ContainerJSONBase != nil && info.State != nil && info.State.Running {
			a.logger.Info("reusing running container", "name", name)
			return nil
		}
		if err := a.docker.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
			return fmt.Errorf("start existing container: %w", err)
		}
		a.logger.Info("started existing container", "name", name)
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspect container: %w", err)
	}

	cfg, hostCfg := a.containerConfig()

	if _, err := a.docker.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name); err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("create container: %w", err)
		}
		if err := a.pullImage(ctx); err != nil {
			return err
		}
		if _, err := a.docker.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name); err != nil {
			return fmt.Errorf("create container after pull: %w", err)
		}
	}
	if err := a.docker.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container: %w", err)
	}
	a.logger.Info("container started", "name", name, "image", a.opts.Image)
	return nil
}

// containerConfig describes the idle container that hosts the project.
func (a *Adapter) containerConfig() (*container.Config, *container.HostConfig) {
	cfg := &container.Config{
		Image:      a.opts.Image,
		Cmd:        []string{"sh", "-c", fmt.Sprintf("mkdir -p %s %s && exec sleep infinity", a.opts.ProjectDir, pidDir)},
		WorkingDir: a.opts.ProjectDir,
	}
	if len(a.opts.Ports) == 0 {
		return cfg, &container.HostConfig{NetworkMode: "host"}
	}

	exposed := make(nat.PortSet, len(a.opts.Ports))
	bindings := make(nat.PortMap, len(a.opts.Ports))
	for _, p := range a.opts.Ports {
		port := nat.Port(fmt.Sprintf("%d/tcp", p))
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(p)}}
	}
	cfg.ExposedPorts = exposed
	return cfg, &container.HostConfig{PortBindings: bindings}
}

func (a *Adapter) pullImage(ctx context.Context) error {
	a.logger.Info("pulling image", "image", a.opts.Image)
	resp, err := a.docker.ImagePull(ctx, a.opts.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", a.opts.Image, err)
	}
	defer resp.Close()
	if _, err := io.Copy(io.Discard, resp); err != nil {
		return fmt.Errorf("pull image %s: read response: %w", a.opts.Image, err)
	}
	return nil
}

// Mount implements runtime.Adapter by extracting a tar of tree into the
// project directory.
func (a *Adapter) Mount(ctx context.Context, tree runtime.Tree) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	archive, err := runtime.TarTree(tree)
	if err != nil {
		return errors.NewRuntimeError("encode tree", err).WithAdapter("docker").WithOperation("mount")
	}
	err = a.docker.CopyToContainer(ctx, a.opts.ContainerName, a.opts.ProjectDir, archive, container.CopyToContainerOptions{})
	if err != nil {
		return errors.NewRuntimeError("copy tree into container", err).WithAdapter("docker").WithOperation("mount")
	}
	a.logger.Debug("mounted tree", "files", tree.Files())
	return nil
}

// Spawn implements runtime.Adapter with a container exec. The command is
// wrapped so that its pid is recorded for Kill.
func (a *Adapter) Spawn(ctx context.Context, command string, args ...string) (runtime.Process, error) {
	if err := a.Start(ctx); err != nil {
		return nil, err
	}
	pidFile := path.Join(pidDir, uuid.NewString()+".pid")
	cmd := append([]string{"sh", "-c", `echo $$ > "` + pidFile + `"; exec "$0" "$@"`, command}, args...)

	resp, err := a.docker.ContainerExecCreate(ctx, a.opts.ContainerName, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   a.opts.ProjectDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, errors.NewRuntimeError("create exec", err).WithAdapter("docker").WithOperation("spawn").WithRetryable(false)
	}
	attach, err := a.docker.ContainerExecAttach(ctx, resp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, errors.NewRuntimeError("attach exec", err).WithAdapter("docker").WithOperation("spawn").WithRetryable(false)
	}

	pr, pw := io.Pipe()
	p := &process{
		adapter: a,
		execID:  resp.ID,
		pidFile: pidFile,
		out:     pr,
		closeFn: attach.Close,
		done:    make(chan struct{}),
	}

	a.mu.Lock()
	a.procs[p] = struct{}{}
	a.mu.Unlock()

	go func() {
		w := io.MultiWriter(pw, a.detector)
		_, copyErr := stdcopy.StdCopy(w, w, attach.Reader)
		attach.Close()
		_ = pw.Close()

		code := -1
		info, err := a.docker.ContainerExecInspect(context.Background(), resp.ID)
		if err == nil {
			code = info.ExitCode
		} else if copyErr == nil {
			copyErr = err
		}
		p.finish(code, copyErr)

		a.mu.Lock()
		delete(a.procs, p)
		a.mu.Unlock()
	}()

	a.logger.Debug("spawned exec", "command", command, "exec_id", resp.ID)
	return p, nil
}

// OnServerReady implements runtime.Adapter.
func (a *Adapter) OnServerReady(fn func(port int, url string)) {
	a.detector.OnReady(fn)
}

// Reset implements runtime.Adapter by removing the container. The next
// Mount or Spawn starts a fresh one.
func (a *Adapter) Reset(ctx context.Context) error {
	a.mu.Lock()
	procs := make([]*process, 0, len(a.procs))
	for p := range a.procs {
		procs = append(procs, p)
	}
	a.started = false
	a.mu.Unlock()

	if err := a.docker.ContainerRemove(ctx, a.opts.ContainerName, container.RemoveOptions{Force: true}); err != nil {
		if !errdefs.IsNotFound(err) {
			return errors.NewRuntimeError("remove container", err).WithAdapter("docker").WithOperation("reset")
		}
	}
	for _, p := range procs {
		p.closeFn()
	}
	a.detector.Rearm()
	a.logger.Info("runtime reset", "name", a.opts.ContainerName, "detached", len(procs))
	return nil
}

// Close closes attached streams and the client connection. The container
// keeps running so the next build can reuse it.
func (a *Adapter) Close() error {
	a.mu.Lock()
	procs := make([]*process, 0, len(a.procs))
	for p := range a.procs {
		procs = append(procs, p)
	}
	a.mu.Unlock()

	for _, p := range procs {
		_ = p.Kill()
	}
	return a.docker.Close()
}

// exec runs a short helper command in the container and discards output.
func (a *Adapter) exec(ctx context.Context, cmd ...string) error {
	resp, err := a.docker.ContainerExecCreate(ctx, a.opts.ContainerName, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return fmt.Errorf("create exec %v: %w", cmd, err)
	}
	attach, err := a.docker.ContainerExecAttach(ctx, resp.ID, container.ExecAttachOptions{})
	if err != nil {
		return fmt.Errorf("attach exec %v: %w", cmd, err)
	}
	defer attach.Close()
	_, _ = stdcopy.StdCopy(io.Discard, io.Discard, attach.Reader)
	return nil
}

type process struct {
	adapter *Adapter
	execID  string
	pidFile string
	out     io.Reader
	closeFn func()
	done    chan struct{}

	mu   sync.Mutex
	code int
	err  error
}

func (p *process) finish(code int, err error) {
	p.mu.Lock()
	p.code = code
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

func (p *process) Output() io.Reader { return p.out }

func (p *process) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.code, p.err
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (p *process) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	ctx := context.Background()
	err := p.adapter.exec(ctx, "sh", "-c", `kill -KILL "$(cat "`+p.pidFile+`")" 2>/dev/null; rm -f "`+p.pidFile+`"`)
	if err != nil {
		return errors.NewRuntimeError("kill exec", err).WithAdapter("docker").WithOperation("kill")
	}
	return nil
}
