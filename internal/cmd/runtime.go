package cmd

import (
	"context"
	"fmt"

	"github.com/zapbuilder/zapbuild/internal/config"
	"github.com/zapbuilder/zapbuild/internal/errors"
	"github.com/zapbuilder/zapbuild/internal/logging"
	"github.com/zapbuilder/zapbuild/internal/runtime"
	"github.com/zapbuilder/zapbuild/internal/runtime/docker"
	"github.com/zapbuilder/zapbuild/internal/runtime/local"
	"github.com/zapbuilder/zapbuild/internal/runtime/memory"
)

// openedRuntime is a runtime adapter together with a description for the
// user and the function that releases it.
type openedRuntime struct {
	runtime.Adapter
	Description string
	close       func() error
}

// Close releases the runtime without clearing its files.
func (r *openedRuntime) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}

// openRuntime creates the adapter selected by runtime.kind.
func openRuntime(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*openedRuntime, error) {
	switch cfg.Runtime.Kind {
	case config.RuntimeMemory:
		return &openedRuntime{
			Adapter:     memory.New(),
			Description: "in-memory sandbox (commands are not executed)",
		}, nil

	case config.RuntimeLocal:
		a, err := local.New(local.Options{
			Dir:    cfg.Runtime.Workdir,
			UsePTY: cfg.Runtime.UsePTY,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		return &openedRuntime{
			Adapter:     a,
			Description: a.Dir(),
			close:       a.Close,
		}, nil

	case config.RuntimeDocker:
		a, err := docker.NewFromEnv(docker.Options{
			Image:         cfg.Runtime.Docker.Image,
			ContainerName: cfg.Runtime.Docker.ContainerName,
			ProjectDir:    cfg.Runtime.Docker.ProjectDir,
			Ports:         cfg.Runtime.Docker.Ports,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrRuntimeUnavailable, err)
		}
		if err := a.Start(ctx); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("%w: %w", errors.ErrRuntimeUnavailable, err)
		}
		d := cfg.Runtime.Docker
		return &openedRuntime{
			Adapter:     a,
			Description: fmt.Sprintf("container %s (%s) at %s", d.ContainerName, d.Image, d.ProjectDir),
			close:       a.Close,
		}, nil
	}
	return nil, errors.NewValidationError("unknown runtime kind").WithField("runtime.kind").WithValue(cfg.Runtime.Kind)
}
