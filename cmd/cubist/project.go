package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chainsafe/cubist/pkg/bindings"
	"github.com/chainsafe/cubist/pkg/compile"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/precompile"
	"github.com/chainsafe/cubist/pkg/scaffold"
)

func (c *cli) newNewCmd() *cobra.Command {
	var (
		typ      string
		template string
		fromRepo string
		dir      string
		force    bool
		branch   string
	)
	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Create new empty project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if dir == "" {
				cwd, err := os.Getwd()
				if err != nil {
					return err
				}
				dir = cwd
			}
			s := scaffold.New(scaffold.WithLogger(c.logger))
			switch {
			case fromRepo != "":
				if cmd.Flags().Changed("type") || template != "" {
					return fmt.Errorf("--from-repo cannot be used with --type or --template")
				}
				url, err := scaffold.ParseGitURL(fromRepo)
				if err != nil {
					return err
				}
				if err := s.FromGitRepo(cmd.Context(), name, url, dir, force); err != nil {
					return err
				}
			case template != "":
				pt, err := parseProjType(typ)
				if err != nil {
					return err
				}
				tmpl, err := scaffold.ParseTemplate(template)
				if err != nil {
					return err
				}
				if err := s.FromTemplate(cmd.Context(), name, pt, tmpl, dir, force, branch); err != nil {
					return err
				}
			default:
				if branch != "" {
					return fmt.Errorf("--branch requires --template")
				}
				pt, err := parseProjType(typ)
				if err != nil {
					return err
				}
				if err := s.Empty(name, pt, dir, force); err != nil {
					return err
				}
			}
			done()
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&typ, "type", "t", string(config.TypeScript), "Project type (JavaScript, TypeScript, Rust)")
	f.StringVar(&template, "template", "", "Create project from template (Storage, MPMC, TokenBridge)")
	f.StringVar(&fromRepo, "from-repo", "", "Create project from git repo template")
	f.StringVar(&dir, "dir", "", "Directory where to create project")
	f.BoolVar(&force, "force", false, "Force creation (e.g., by overwriting existing files or ignoring non-standard templates)")
	f.StringVar(&branch, "branch", "", "Branch to pull from, if creating a project from template")
	return cmd
}

func parseProjType(s string) (config.ProjType, error) {
	for _, t := range []config.ProjType{config.JavaScript, config.TypeScript, config.Rust} {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("invalid project type %q (expected JavaScript, TypeScript or Rust)", s)
}

// projectStep is one stage of the build pipeline.
type projectStep func(ctx context.Context, c *cli, cfg *config.Config) error

func preCompileStep(ctx context.Context, c *cli, cfg *config.Config) error {
	_, err := precompile.New(cfg, precompile.WithLogger(c.logger)).Run(ctx)
	return err
}

func compileStep(ctx context.Context, c *cli, cfg *config.Config) error {
	return compile.Compile(ctx, cfg, compile.WithLogger(c.logger))
}

func genStep(_ context.Context, c *cli, cfg *config.Config) error {
	_, err := bindings.Generate(cfg, bindings.WithLogger(c.logger))
	return err
}

func (c *cli) projectCmd(use, short string, steps ...projectStep) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig(configPath)
			if err != nil {
				return err
			}
			for _, step := range steps {
				if err := step(cmd.Context(), c, cfg); err != nil {
					return err
				}
			}
			done()
			return nil
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func (c *cli) newPreCompileCmd() *cobra.Command {
	return c.projectCmd("pre-compile", "Generate contract interfaces", preCompileStep)
}

func (c *cli) newCompileCmd() *cobra.Command {
	return c.projectCmd("compile", "Compile contracts", compileStep)
}

func (c *cli) newBuildCmd() *cobra.Command {
	return c.projectCmd("build", "Build (pre-compile + compile + gen)", preCompileStep, compileStep, genStep)
}

func (c *cli) newGenCmd() *cobra.Command {
	return c.projectCmd("gen", "Generate client bindings", genStep)
}
