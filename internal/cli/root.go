// Package cli implements the tensordb command line client.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/hupe1980/tensordb"
	"github.com/hupe1980/tensordb/array"
	"github.com/hupe1980/tensordb/definition"
)

type env struct {
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	configPath string
}

// NewRootCommand returns the tensordb command.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	e := &env{stdin: stdin, stdout: stdout, stderr: stderr}

	rc := &cobra.Command{
		Use:   "tensordb",
		Short: "Store, transform and read labeled tensors.",
		Long: `tensordb stores labeled tensors in local, S3 or MinIO storage.

Every tensor is bound to a definition that can replace its actions with
formulas or run data steps before them.`,
		SilenceUsage: true,
	}
	rc.PersistentFlags().StringVarP(&e.configPath, "config", "c", "", "Configuration file to read from.")

	rc.AddCommand(e.newDefinitionCommand())
	rc.AddCommand(e.newCreateCommand())
	for _, a := range []definition.Action{definition.ActionStore, definition.ActionAppend, definition.ActionUpdate, definition.ActionUpsert} {
		rc.AddCommand(e.newWriteCommand(a))
	}
	rc.AddCommand(e.newDropCommand())
	rc.AddCommand(e.newReadCommand())
	rc.AddCommand(e.newExistCommand())
	rc.AddCommand(e.newDeleteCommand())
	rc.AddCommand(e.newAttrsCommand())
	rc.AddCommand(e.newBackupCommand())
	rc.AddCommand(e.newRestoreCommand())
	rc.AddCommand(e.newFormulaCommand())

	rc.SetOut(stdout)
	rc.SetErr(stderr)

	return rc
}

// run opens a client for the duration of fn.
func (e *env) run(ctx context.Context, fn func(ctx context.Context, c *tensordb.Client) error) (err error) {
	cfg, err := LoadConfig(e.configPath)
	if err != nil {
		return err
	}

	client, closer, err := Open(ctx, cfg, e.stderr)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := closer.Close(); err == nil {
			err = cerr
		}
	}()

	return fn(ctx, client)
}

func (e *env) print(v any) error {
	enc := json.NewEncoder(e.stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// readInput reads a file, or stdin for "-".
func (e *env) readInput(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(e.stdin)
	}

	return os.ReadFile(name)
}

func (e *env) readArray(name string) (*array.Array, error) {
	b, err := e.readInput(name)
	if err != nil {
		return nil, err
	}

	var a array.Array
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("decode array %s: %w", name, err)
	}

	return &a, nil
}

func parseCoords(s string) (array.Coords, error) {
	if s == "" {
		return nil, nil
	}

	var coords array.Coords
	if err := json.Unmarshal([]byte(s), &coords); err != nil {
		return nil, fmt.Errorf("decode coords: %w", err)
	}

	return coords, nil
}

func printArray(ctx context.Context, e *env, src array.Source) error {
	a, err := src.Compute(ctx)
	if err != nil {
		return err
	}

	return e.print(a)
}

func decodeAttrs(s string) (map[string]any, error) {
	var attrs map[string]any
	if err := json.Unmarshal([]byte(s), &attrs); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}

	return attrs, nil
}
