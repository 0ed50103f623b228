// Package importer loads fetched rasters and point or region datasets into
// the spatial store.
package importer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
)

// Command runs an external import program:
//
//	<command> tiles <tag> <file>...
//	<command> dataset <tag> <source>
//
// A non-zero exit fails the import with the program's output as cause.
type Command struct {
	name   string
	args   []string
	logger *slog.Logger
}

// NewCommand parses a whitespace-separated command line.
func NewCommand(commandLine string, logger *slog.Logger) (*Command, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty import command: %w", domain.ErrConfig)
	}
	return &Command{name: fields[0], args: fields[1:], logger: logger}, nil
}

// ImportTiles imports staged raster files of tag.
func (c *Command) ImportTiles(ctx context.Context, tag string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	return c.run(ctx, append([]string{"tiles", tag}, paths...))
}

// ImportDataset imports a non-tiled dataset from source.
func (c *Command) ImportDataset(ctx context.Context, tag, source string) error {
	return c.run(ctx, []string{"dataset", tag, source})
}

func (c *Command) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, c.name, append(append([]string(nil), c.args...), args...)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	c.logger.Info("import command starting", "command", c.name, "args", args)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %w: %s", c.name, strings.Join(args[:2], " "), err, strings.TrimSpace(lastLines(out.String(), 5)))
	}
	c.logger.Debug("import command finished", "command", c.name, "output", out.String())
	return nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
