// Package scaffold creates new cubist projects: empty ones, ones based on a
// built-in template, and clones of an existing repository.
package scaffold

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"go.uber.org/zap"

	"github.com/chainsafe/cubist/internal/command"
	"github.com/chainsafe/cubist/internal/ui"
	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/fsutil"
)

// Scaffolder creates projects.
type Scaffolder struct {
	runner      command.Runner
	logger      *zap.Logger
	confirm     func(prompt string) bool
	templateURL string
	author      string
}

// Option configures a Scaffolder.
type Option func(*Scaffolder)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scaffolder) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRunner sets the runner for git.
func WithRunner(r command.Runner) Option {
	return func(s *Scaffolder) { s.runner = r }
}

// WithConfirm replaces the overwrite prompt.
func WithConfirm(confirm func(prompt string) bool) Option {
	return func(s *Scaffolder) { s.confirm = confirm }
}

// WithTemplateURL replaces the repository built-in templates come from.
func WithTemplateURL(url string) Option {
	return func(s *Scaffolder) { s.templateURL = url }
}

// New returns a Scaffolder. Without a terminal, existing files are never
// overwritten unless forced.
func New(opts ...Option) *Scaffolder {
	s := &Scaffolder{
		logger:      zap.NewNop(),
		confirm:     promptConfirm,
		templateURL: TemplateURL,
		author:      defaultAuthor(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runner == nil {
		skip := os.Getenv("SKIP_POST_CHECKOUT")
		if skip == "" {
			skip = "1"
		}
		s.runner = &command.Exec{Logger: s.logger, Env: []string{"SKIP_POST_CHECKOUT=" + skip}}
	}
	return s
}

func promptConfirm(prompt string) bool {
	if !ui.IsAttended() {
		return false
	}
	ok, err := pterm.DefaultInteractiveConfirm.WithDefaultText(prompt).Show()
	return err == nil && ok
}

// writeOrPrompt writes data to path unless the file exists and neither
// force nor the user allows overwriting it.
func (s *Scaffolder) writeOrPrompt(path string, data []byte, force bool) error {
	if fsutil.Exists(path) && !force && !s.confirm(fmt.Sprintf("File %s exists. Overwrite?", path)) {
		s.logger.Debug("Keeping existing file", zap.String("path", path))
		return nil
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return apperrors.IOError(err, fmt.Sprintf("Unable to write to file: %s", path))
	}
	return nil
}

// Empty creates dir/name with a default config, an empty contract directory
// and a hello world application.
func (s *Scaffolder) Empty(name string, typ config.ProjType, dir string, force bool) error {
	ui.Phase("Creating", "new %s project %s in %s", typ, pterm.Bold.Sprint(name), dir)
	projDir := filepath.Join(dir, name)
	if err := os.MkdirAll(projDir, 0o755); err != nil {
		return apperrors.IOError(err, "Failed to create project directory")
	}
	cfg, err := config.New(typ, projDir)
	if err != nil {
		return err
	}
	if fsutil.Exists(cfg.Path()) && !force && !s.confirm(fmt.Sprintf("Config %s exists. Overwrite?", cfg.Path())) {
		return nil
	}
	if err := cfg.Save(true); err != nil {
		return fmt.Errorf("failed to save config to file %s: %w", cfg.Path(), err)
	}
	if err := os.MkdirAll(cfg.Contracts.RootDir, 0o755); err != nil {
		return apperrors.IOError(err, "Failed to create contracts directory")
	}
	p, err := projectFor(typ, cfg.ProjectDir())
	if err != nil {
		return err
	}
	return p.create(s, name, force)
}

// FromTemplate creates dir/name from a built-in template of the given
// language. Unless force is set, the template must contain a valid config.
func (s *Scaffolder) FromTemplate(ctx context.Context, name string, typ config.ProjType, tmpl Template, dir string, force bool, branch string) error {
	ui.Phase("Creating", "new %s-%s project %s in %s", tmpl, typ, pterm.Bold.Sprint(name), dir)
	projDir := filepath.Join(dir, name)
	if fsutil.Exists(projDir) {
		return apperrors.ConfigurationError(nil, fmt.Sprintf("Will not create template. %s exists", projDir))
	}
	if branch == "" {
		branch = "main"
	}
	tmp, err := os.MkdirTemp("", "cubist-template")
	if err != nil {
		return apperrors.IOError(err, "create temporary directory")
	}
	defer os.RemoveAll(tmp)

	ui.Phase("Downloading", "template repository from %s", s.templateURL)
	if _, err := s.runner.Run(ctx, "", "git", "clone", "--depth", "1", "--branch", branch, "--sparse", s.templateURL, tmp); err != nil {
		return err
	}
	sub := filepath.Join(string(tmpl), string(typ))
	ui.Phase("Checking out", "template directory %s", sub)
	if _, err := s.runner.Run(ctx, tmp, "git", "sparse-checkout", "set", filepath.ToSlash(sub)); err != nil {
		return err
	}

	ui.Phase("Copying", "template to %s", projDir)
	if err := moveDir(filepath.Join(tmp, sub), projDir); err != nil {
		return apperrors.IOError(err, fmt.Sprintf("move %s %s failed", filepath.Join(tmp, sub), projDir))
	}
	if !force {
		if _, err := config.FromDir(projDir); err != nil {
			return err
		}
	}
	p, err := projectFor(typ, projDir)
	if err != nil {
		return err
	}
	return p.rename(name)
}

// FromGitRepo clones url into dir/name without its history. Unless force
// is set, the repository must contain a valid config.
func (s *Scaffolder) FromGitRepo(ctx context.Context, name string, url GitURL, dir string, force bool) error {
	ui.Phase("Creating", "new %s project from git repo %s in %s", pterm.Bold.Sprint(name), url, dir)
	projDir := filepath.Join(dir, name)
	if fsutil.Exists(projDir) {
		return apperrors.ConfigurationError(nil, fmt.Sprintf("Will not clone repo. %s exists", projDir))
	}
	if _, err := s.runner.Run(ctx, "", "git", "clone", url.String(), projDir, "--depth", "1"); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(projDir, ".git")); err != nil {
		s.logger.Debug("Failed to remove .git", zap.Error(err))
	}
	if !force {
		if _, err := config.FromDir(projDir); err != nil {
			return err
		}
	}
	return nil
}

// moveDir moves the contents of src into dst, copying when a rename is not
// possible.
func moveDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, e := range entries {
		from, to := filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())
		if err := os.Rename(from, to); err == nil {
			continue
		}
		if e.IsDir() {
			err = fsutil.CopyDir(from, to)
		} else {
			err = fsutil.CopyFile(from, to)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
