package tensordb

import (
	"context"
	"fmt"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"

	"github.com/hupe1980/tensordb/array"
	"github.com/hupe1980/tensordb/backup"
	"github.com/hupe1980/tensordb/definition"
)

// attrQuery is the language of QueryAttrs.
var attrQuery = gval.Full(jsonpath.PlaceholderExtension())

func (c *Client) write(ctx context.Context, path string, action definition.Action, data array.Source, p Params) (*Outcome, error) {
	if data != nil {
		p.NewData = data
	}

	return c.Do(ctx, path, action, p)
}

// Store replaces the tensor at path with data.
func (c *Client) Store(ctx context.Context, path string, data array.Source, p Params) (*Outcome, error) {
	return c.write(ctx, path, definition.ActionStore, data, p)
}

// Append adds the labels of data missing from the tensor at path.
func (c *Client) Append(ctx context.Context, path string, data array.Source, p Params) (*Outcome, error) {
	return c.write(ctx, path, definition.ActionAppend, data, p)
}

// Update overwrites stored cells with data. Labels outside the stored
// extent are ignored.
func (c *Client) Update(ctx context.Context, path string, data array.Source, p Params) (*Outcome, error) {
	return c.write(ctx, path, definition.ActionUpdate, data, p)
}

// Upsert updates the stored labels of data and appends the rest.
func (c *Client) Upsert(ctx context.Context, path string, data array.Source, p Params) (*Outcome, error) {
	return c.write(ctx, path, definition.ActionUpsert, data, p)
}

// Drop removes labels from the tensor at path.
func (c *Client) Drop(ctx context.Context, path string, coords array.Coords, p Params) (*Outcome, error) {
	p.Coords = coords
	return c.Do(ctx, path, definition.ActionDrop, p)
}

// Read returns the tensor at path. Data is read on Compute.
func (c *Client) Read(ctx context.Context, path string, p Params) (array.Source, error) {
	out, err := c.Do(ctx, path, definition.ActionRead, p)
	if err != nil {
		return nil, err
	}

	return out.Data, nil
}

// Exist reports whether data was written to path.
func (c *Client) Exist(ctx context.Context, path string) (bool, error) {
	out, err := c.Do(ctx, path, definition.ActionExist, Params{})
	if err != nil {
		return false, err
	}

	return out.Exists, nil
}

// CloseTensor closes the cached handler of path.
func (c *Client) CloseTensor(ctx context.Context, path string) error {
	_, err := c.Do(ctx, path, definition.ActionClose, Params{})
	return err
}

// DeleteFile removes the data of path. With Force set the tensor is
// forgotten too and must be created again.
func (c *Client) DeleteFile(ctx context.Context, path string, p Params) error {
	_, err := c.Do(ctx, path, definition.ActionDeleteFile, p)
	return err
}

// SetAttrs merges attrs into the attributes of path.
func (c *Client) SetAttrs(ctx context.Context, path string, attrs map[string]any) error {
	_, err := c.Do(ctx, path, definition.ActionSetAttrs, Params{Attrs: attrs})
	return err
}

// GetAttrs returns the attributes of path.
func (c *Client) GetAttrs(ctx context.Context, path string) (map[string]any, error) {
	out, err := c.Do(ctx, path, definition.ActionGetAttrs, Params{})
	if err != nil {
		return nil, err
	}

	return out.Attrs, nil
}

// QueryAttrs evaluates a JSONPath expression, such as "$.source.name",
// against the attributes of path.
func (c *Client) QueryAttrs(ctx context.Context, path, query string) (any, error) {
	eval, err := attrQuery.NewEvaluable(query)
	if err != nil {
		return nil, fmt.Errorf("tensordb: attribute query %q: %w", query, err)
	}

	attrs, err := c.GetAttrs(ctx, path)
	if err != nil {
		return nil, err
	}

	doc := make(map[string]any, len(attrs))
	for k, v := range attrs {
		doc[k] = v
	}

	return eval(ctx, doc)
}

// Backup mirrors the data of path into the backup store.
func (c *Client) Backup(ctx context.Context, path string) (*backup.Stats, error) {
	out, err := c.Do(ctx, path, definition.ActionBackup, Params{})
	if err != nil {
		return nil, err
	}

	return out.Backup, nil
}

// UpdateFromBackup replaces the data of path with its backup.
func (c *Client) UpdateFromBackup(ctx context.Context, path string) (*backup.Stats, error) {
	out, err := c.Do(ctx, path, definition.ActionUpdateFromBackup, Params{})
	if err != nil {
		return nil, err
	}

	return out.Backup, nil
}

// ReadFromFormula evaluates a formula over stored tensors. Tensor paths are
// written between backticks:
//
//	data, err := client.ReadFromFormula(ctx, "`prices` * `weights`", tensordb.Params{})
//
// With UseExec the formula is a statement program; the client must be
// built with WithStatementFormulas(true). The result is computed on first
// use.
func (c *Client) ReadFromFormula(ctx context.Context, formula string, p Params) (*array.Lazy, error) {
	p.Formula = formula

	return c.evalFormula(ctx, p)
}
