package tensordb

import (
	"errors"
	"fmt"

	"github.com/hupe1980/tensordb/chunkstore"
	"github.com/hupe1980/tensordb/definition"
)

var (
	// ErrDefinitionNotFound is returned when a tensor was never created or
	// its definition id is not registered.
	ErrDefinitionNotFound = definition.ErrNotFound

	// ErrDataNotFound is returned when a tensor was created but nothing was
	// written to it yet.
	ErrDataNotFound = errors.New("tensordb: data not found")

	// ErrNoBackupStore is returned by backup actions of a client without
	// backup store.
	ErrNoBackupStore = errors.New("tensordb: no backup store configured")

	// ErrDispatchCycle is returned when action overrides refer to each other.
	ErrDispatchCycle = errors.New("tensordb: action overrides form a cycle")
)

// ActionError reports the path and action of a failed dispatch.
//
// The underlying error can be accessed via errors.Unwrap.
type ActionError struct {
	Path   string
	Action definition.Action
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("tensordb: %s %q: %v", e.Action, e.Path, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, chunkstore.ErrNotFound) && !errors.Is(err, ErrDataNotFound) {
		return fmt.Errorf("%w: %w", ErrDataNotFound, err)
	}

	return err
}

func actionError(path string, action definition.Action, err error) error {
	if err == nil {
		return nil
	}

	var ae *ActionError
	if errors.As(err, &ae) && ae.Path == path && ae.Action == action {
		return err
	}

	return &ActionError{Path: path, Action: action, Err: translateError(err)}
}
