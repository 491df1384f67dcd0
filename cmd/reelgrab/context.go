package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"reelgrab/internal/config"
	"reelgrab/internal/logging"
	"reelgrab/internal/services"
	"reelgrab/internal/services/worker"
	"reelgrab/internal/session"
)

type commandContext struct {
	configFlag *string
	workerFlag *string
	verbose    *bool

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag, workerFlag *string, verbose *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		workerFlag: workerFlag,
		verbose:    verbose,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.workerFlag != nil {
			if base := strings.TrimRight(strings.TrimSpace(*c.workerFlag), "/"); base != "" {
				cfg.Worker.BaseURL = base
				if err := cfg.Validate(); err != nil {
					c.configErr = err
					return
				}
			}
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) newLogger(sessionID string, quiet bool) (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if c.verbose != nil && *c.verbose {
		quiet = false
	}
	return logging.NewFromConfig(cfg, sessionID, quiet)
}

func (c *commandContext) workerClient() (*worker.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.newLogger(uuid.NewString(), true)
	if err != nil {
		return nil, err
	}
	return worker.NewFromConfig(cfg, logger)
}

// openSession starts a session with its own log stream. The caller owns Close.
func (c *commandContext) openSession(ctx context.Context, quiet bool) (*session.Session, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	logger, err := c.newLogger(id, quiet)
	if err != nil {
		return nil, err
	}
	s, err := session.Open(ctx, cfg, logger, session.Options{ID: id})
	if err != nil {
		if errors.Is(err, session.ErrLocked) {
			return nil, fmt.Errorf("another reelgrab session is running (lock %s)", cfg.LockPath())
		}
		return nil, err
	}
	return s, nil
}

// withConnectedSession opens a session and waits for the push channel before
// calling fn.
func (c *commandContext) withConnectedSession(ctx context.Context, fn func(*session.Session) error) error {
	s, err := c.openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	cfg, _ := c.ensureConfig()
	attempts := max(cfg.Channel.ReconnectAttempts, 1)
	waitCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout()*2*time.Duration(attempts))
	defer cancel()
	go func() {
		select {
		case <-s.Done():
			cancel()
		case <-waitCtx.Done():
		}
	}()
	if err := s.WaitConnected(waitCtx); err != nil {
		if sessionErr := s.Err(); sessionErr != nil {
			return fmt.Errorf("connect to worker %s: %s", cfg.Worker.BaseURL, services.UserMessage(sessionErr))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("connect to worker %s: %w", cfg.Worker.BaseURL, err)
	}
	return fn(s)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

// userError turns a session error into the message a user should see.
func userError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return errors.New(services.UserMessage(err))
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
