package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/tensordb"
	"github.com/hupe1980/tensordb/definition"
)

func (e *env) newDefinitionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "definition",
		Short: "Manage registered definitions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <id> <file>",
		Short: "Register a definition from a YAML or JSON file",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			b, err := e.readInput(args[1])
			if err != nil {
				return err
			}

			def, err := definition.ParseYAML(b)
			if err != nil {
				return err
			}

			return e.run(c.Context(), func(ctx context.Context, client *tensordb.Client) error {
				return client.AddTensorDefinition(ctx, args[0], def)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Print a registered definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return e.run(c.Context(), func(ctx context.Context, client *tensordb.Client) error {
				def, err := client.GetTensorDefinition(ctx, args[0])
				if err != nil {
					return err
				}

				return e.print(def)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered definitions",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return e.run(c.Context(), func(ctx context.Context, client *tensordb.Client) error {
				ids, err := client.ListTensorDefinitions(ctx)
				if err != nil {
					return err
				}

				for _, id := range ids {
					fmt.Fprintln(e.stdout, id)
				}

				return nil
			})
		},
	})

	return cmd
}

func (e *env) newCreateCommand() *cobra.Command {
	var (
		id       string
		file     string
		metadata map[string]string
	)

	cmd := &cobra.Command{
		Use:   "create <path>",
		Short: "Create a tensor bound to a definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			var ref definition.DefinitionRef

			switch {
			case id != "" && file != "":
				return fmt.Errorf("--definition and --definition-file are exclusive")
			case file != "":
				b, err := e.readInput(file)
				if err != nil {
					return err
				}

				def, err := definition.ParseYAML(b)
				if err != nil {
					return err
				}

				ref.Inline = def
			case id != "":
				ref.ID = id
			default:
				ref.Inline = &definition.Definition{}
			}

			meta := make(map[string]any, len(metadata))
			for k, v := range metadata {
				meta[k] = v
			}

			return e.run(c.Context(), func(ctx context.Context, client *tensordb.Client) error {
				return client.CreateTensor(ctx, args[0], ref, meta)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&id, "definition", "", "id of a registered definition")
	flags.StringVar(&file, "definition-file", "", "YAML or JSON file with an inline definition")
	flags.StringToStringVar(&metadata, "metadata", nil, "metadata recorded with the tensor, key=value")

	return cmd
}

func (e *env) newWriteCommand(action definition.Action) *cobra.Command {
	var fillValue float64

	cmd := &cobra.Command{
		Use:   string(action) + " <path> [file]",
		Short: strings.ToUpper(string(action[:1])) + string(action[1:]) + " an array read from a JSON file or stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(c *cobra.Command, args []string) error {
			var p tensordb.Params

			if c.Flags().Changed("fill-value") {
				p.FillValue = &fillValue
			}

			return e.run(c.Context(), func(ctx context.Context, client *tensordb.Client) error {
				if len(args) == 2 {
					a, err := e.readArray(args[1])
					if err != nil {
						return err
					}

					p.NewData = a
				}

				out, err := client.Do(ctx, args[0], action, p)
				if err != nil {
					return err
				}

				return e.printResults(out)
			})
		},
	}

	if action == definition.ActionAppend || action == definition.ActionUpsert {
		cmd.Flags().Float64Var(&fillValue, "fill-value", 0, "value of cells introduced by the write")
	}

	return cmd
}

type writeSummary struct {
	Chunks  int   `json:"chunks"`
	Bytes   int64 `json:"bytes"`
	Rewrite bool  `json:"rewrite"`
}

func (e *env) printResults(out *tensordb.Outcome) error {
	var s writeSummary

	for _, r := range out.Results {
		s.Chunks += r.ChunksWritten
		s.Bytes += r.BytesWritten
	}

	if out.Write != nil {
		s.Rewrite = out.Write.Rewrite()
	}

	return e.print(s)
}

func (e *env) newDropCommand() *cobra.Command {
	var coords string

	cmd := &cobra.Command{
		Use:   "drop <path>",
		Short: "Drop labels from a tensor",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			sel, err := parseCoords(coords)
			if err != nil {
				return err
			}

			return e.run(c.Context(), func(ctx context.Context, client *tensordb.Client) error {
				out, err := client.Drop(ctx, args[0], sel, tensordb.Params{})
				if err != nil {
					return err
				}

				return e.printResults(out)
			})
		},
	}

	cmd.Flags().StringVar(&coords, "coords", "", `labels to drop as JSON, e.g. {"index": [3, 4]}`)
	_ = cmd.MarkFlagRequired("coords")

	return cmd
}

func (e *env) newReadCommand() *cobra.Command {
	var coords string

	cmd := &cobra.Command{
		Use:   "read <path>",
		Short: "Print a tensor as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			sel, err := parseCoords(coords)
			if err != nil {
				return err
			}

			return e.run(c.Context(), func(ctx context.Context, client *tensordb.Client) error {
				data, err := client.Read(ctx, args[0], tensordb.Params{Coords: sel})
				if err != nil {
					return err
				}

				return printArray(ctx, e, data)
			})
		},
	}

	cmd.Flags().StringVar(&coords, "coords", "", `labels to select as JSON, e.g. {"columns": ["a"]}`)

	return cmd
}

func (e *env) newExistCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "exist <path>",
		Short: "Report whether data was written to a tensor",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return e.run(c.Context(), func(ctx context.Context, client *tensordb.Client) error {
				ok, err := client.Exist(ctx, args[0])
				if err != nil {
					return err
				}

				fmt.Fprintln(e.stdout, ok)

				return nil
			})
		},
	}
}

func (e *env) newDeleteCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <path>",
		Short: "Delete the data of a tensor",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return e.run(c.Context(), func(ctx context.Context, client *tensordb.Client) error {
				return client.DeleteFile(ctx, args[0], tensordb.Params{Force: &force})
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "forget the tensor too")

	return cmd
}

func (e *env) newAttrsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attrs",
		Short: "Read and write tensor attributes",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <path>",
		Short: "Print the attributes of a tensor",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return e.run(c.Context(), func(ctx context.Context, client *tensordb.Client) error {
				attrs, err := client.GetAttrs(ctx, args[0])
				if err != nil {
					return err
				}

				return e.print(attrs)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <path> <json>",
		Short: "Merge a JSON object into the attributes of a tensor",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			attrs, err := decodeAttrs(args[1])
			if err != nil {
				return err
			}

			return e.run(c.Context(), func(ctx context.Context, client *tensordb.Client) error {
				return client.SetAttrs(ctx, args[0], attrs)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "query <path> <jsonpath>",
		Short: "Evaluate a JSONPath expression against the attributes of a tensor",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return e.run(c.Context(), func(ctx context.Context, client *tensordb.Client) error {
				v, err := client.QueryAttrs(ctx, args[0], args[1])
				if err != nil {
					return err
				}

				return e.print(v)
			})
		},
	})

	return cmd
}

func (e *env) newBackupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backup <path>",
		Short: "Mirror a tensor into the backup storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return e.run(c.Context(), func(ctx context.Context, client *tensordb.Client) error {
				stats, err := client.Backup(ctx, args[0])
				if err != nil {
					return err
				}

				return e.print(stats)
			})
		},
	}
}

func (e *env) newRestoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <path>",
		Short: "Replace a tensor with its backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return e.run(c.Context(), func(ctx context.Context, client *tensordb.Client) error {
				stats, err := client.UpdateFromBackup(ctx, args[0])
				if err != nil {
					return err
				}

				return e.print(stats)
			})
		},
	}
}

func (e *env) newFormulaCommand() *cobra.Command {
	var exec bool

	cmd := &cobra.Command{
		Use:   "formula <formula>",
		Short: "Evaluate a formula over stored tensors",
		Long: "Evaluate a formula over stored tensors. Tensor paths are written " +
			"between backticks, e.g. \"`prices` * `weights`\".",
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return e.run(c.Context(), func(ctx context.Context, client *tensordb.Client) error {
				lazy, err := client.ReadFromFormula(ctx, args[0], tensordb.Params{UseExec: &exec})
				if err != nil {
					return err
				}

				return printArray(ctx, e, lazy)
			})
		},
	}

	cmd.Flags().BoolVar(&exec, "exec", false, "evaluate a statement program assigning new_data")

	return cmd
}
