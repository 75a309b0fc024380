// Package tensordb stores labeled float64 tensors in chunked blob storage and
// lets a per-tensor definition customize every action on them.
//
// A tensor lives at a path. Creating it binds the path to a definition,
// given inline or by the id of a registered one:
//
//	ctx := context.Background()
//	client, _ := tensordb.New(blobstore.NewLocalStore("./data"))
//	client.CreateTensor(ctx, "prices", definition.DefinitionRef{ID: "daily"}, nil)
//
// # Actions
//
// Actions are store, append, update, upsert, drop, read, backup,
// update_from_backup, exist, close, delete_file, set_attrs and get_attrs.
// Each one is available as a typed method and through Do:
//
//	client.Store(ctx, "prices", data, tensordb.Params{})
//	client.Append(ctx, "prices", nextDay, tensordb.Params{})
//	lazy, _ := client.Read(ctx, "prices", tensordb.Params{})
//	arr, _ := lazy.Compute(ctx)
//
// Writes are materialized before the method returns unless Compute is
// false; the pending write is then returned in Outcome.Write.
//
// # Definitions
//
// A definition can replace an action with an override method, or run a
// pipeline of data steps (read_from_formula, reindex, fillna, ffill,
// replace_values) before it. Parameters pinned for an action win over the
// caller's:
//
//	{
//	  "read": {"customized_method": "read_from_formula"},
//	  "read_from_formula": {"formula": "`prices` * `weights`"}
//	}
//
// # Formulas
//
// Formulas reference other tensors between backticks and are evaluated
// element-wise with label alignment. Statement programs (use_exec) are only
// accepted by clients built with WithStatementFormulas(true).
//
// # Storage
//
// Tensors are stored through a blobstore.BlobStore (local disk, memory, S3,
// MinIO). Definitions and creation documents go to a docstore.Store, the
// blob store itself by default. Writers of one path are serialized by the
// synchronizer the definition selects.
package tensordb
