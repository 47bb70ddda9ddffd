package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Dependency is one runnable part of the service: the transaction log, the
// primary server, and so on. Start must not block once the dependency is
// ready; Stop performs an orderly shutdown. Name is used for logging only.
type Dependency interface {
	Start() error
	Stop() error
	Name() string
}

// App starts its dependencies in order and runs until the first dependency
// failure, an OS signal, or context cancellation, then stops them in reverse
// order within a bounded timeout.
type App struct {
	serviceName string
	deps        []Dependency
	failures    chan error
	signals     chan os.Signal
	runCalled   *atomic.Bool
	stopTimeout time.Duration
}

type Config struct {
	ServiceName string
	StopTimeout time.Duration
}

func (c *Config) validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if c.StopTimeout == 0 {
		errs = append(errs, errors.New("stop timeout is required"))
	}
	return errors.Join(errs...)
}

// New creates an application running the provided dependencies.
func New(cfg *Config, deps ...Dependency) (*App, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &App{
		serviceName: cfg.ServiceName,
		deps:        deps,
		stopTimeout: cfg.StopTimeout,
		runCalled:   &atomic.Bool{},
		failures:    make(chan error, len(deps)),
		signals:     make(chan os.Signal, 1),
	}, nil
}

// Run starts every dependency, blocks until shutdown is triggered, and then
// stops them. It may be called once.
func (a *App) Run(ctx context.Context) error {
	if !a.runCalled.CompareAndSwap(false, true) {
		return errors.New("run has already been called")
	}

	for _, dep := range a.deps {
		log.Info().Str("dependency", dep.Name()).Msg("starting dependency")
		if err := a.start(dep); err != nil {
			a.failures <- err
			break
		}
	}

	signal.Notify(a.signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(a.signals)

	select {
	case <-ctx.Done():
		log.Info().Str("service", a.serviceName).Msg("context cancelled: shutting down")
	case err := <-a.failures:
		log.Error().Err(err).Str("service", a.serviceName).Msg("dependency failed")
	case sig := <-a.signals:
		log.Info().Str("signal", sig.String()).Str("service", a.serviceName).
			Msg("signal received: shutting down")
	}

	return a.stop()
}

// start runs a dependency's Start, converting a panic into a failure.
func (a *App) start(dep Dependency) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in Start() for dependency %s: %v", dep.Name(), r)
		}
	}()
	if err = dep.Start(); err != nil {
		err = fmt.Errorf("failure in Start() for dependency %s: %w", dep.Name(), err)
	}
	return err
}

// stop shuts down dependencies in reverse start order, bounded by the
// configured timeout.
func (a *App) stop() error {
	var errs []error
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := len(a.deps) - 1; i >= 0; i-- {
			dep := a.deps[i]
			log.Info().Str("dependency", dep.Name()).Msg("stopping dependency")
			if err := dep.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("failure in Stop() for dependency %s: %w",
					dep.Name(), err))
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(a.stopTimeout):
		errs = append(errs, fmt.Errorf("shutdown timed out after %s", a.stopTimeout))
	}

	return errors.Join(errs...)
}
