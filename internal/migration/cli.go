package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// Runner is the subset of Migrator used by CLI.
type Runner interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	DownAll(ctx context.Context) error
	Goto(ctx context.Context, version uint) error
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]Status, error)
	Info(ctx context.Context) (*Info, error)
}

// CLI 为 migrate 子命令提供格式化输出
type CLI struct {
	runner Runner
	out    io.Writer
}

// NewCLI 创建 CLI，默认输出到 stdout
func NewCLI(r Runner) *CLI {
	return &CLI{runner: r, out: os.Stdout}
}

// SetOutput 设置输出
func (c *CLI) SetOutput(w io.Writer) { c.out = w }

// Run 执行子命令: up, down, reset, status, version, goto <v>, force <v>
func (c *CLI) Run(ctx context.Context, cmd string, version int) error {
	switch cmd {
	case "up":
		fmt.Fprintln(c.out, "Running migrations...")
		if err := c.runner.Up(ctx); err != nil {
			return err
		}
		return c.printVersion(ctx, "Migrations complete.")
	case "down":
		fmt.Fprintln(c.out, "Rolling back last migration...")
		if err := c.runner.Down(ctx); err != nil {
			return err
		}
		return c.printVersion(ctx, "Rollback complete.")
	case "reset":
		if err := c.runner.DownAll(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "All migrations rolled back.")
		return nil
	case "goto":
		if version < 0 {
			return fmt.Errorf("goto requires a non-negative version")
		}
		if err := c.runner.Goto(ctx, uint(version)); err != nil {
			return err
		}
		return c.printVersion(ctx, "Migration complete.")
	case "force":
		if err := c.runner.Force(ctx, version); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Version forced to %d\n", version)
		return nil
	case "version":
		return c.printVersion(ctx, "")
	case "status":
		return c.printStatus(ctx)
	default:
		return fmt.Errorf("unknown migrate subcommand: %s", cmd)
	}
}

func (c *CLI) printVersion(ctx context.Context, prefix string) error {
	v, dirty, err := c.runner.Version(ctx)
	if err != nil {
		return err
	}
	if prefix != "" {
		fmt.Fprint(c.out, prefix+" ")
	}
	if v == 0 {
		fmt.Fprintln(c.out, "No migrations applied.")
		return nil
	}
	fmt.Fprintf(c.out, "Current version: %d", v)
	if dirty {
		fmt.Fprint(c.out, " (dirty)")
	}
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) printStatus(ctx context.Context) error {
	statuses, err := c.runner.Status(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	for _, s := range statuses {
		state := "pending"
		switch {
		case s.Dirty:
			state = "dirty"
		case s.Applied:
			state = "applied"
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	info, err := c.runner.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "\nTotal: %d, Applied: %d, Pending: %d\n", info.Total, info.Applied, info.Pending)
	return nil
}
