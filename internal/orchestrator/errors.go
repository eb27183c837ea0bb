package orchestrator

import (
	"errors"

	"github.com/compose-network/mortar/internal/ledger/filestore"
	"github.com/compose-network/mortar/internal/lifecycle"
	"github.com/compose-network/mortar/internal/module"
	"github.com/compose-network/mortar/internal/scheduler"
	"github.com/compose-network/mortar/internal/txmanager"
)

// Category classifies a fatal error.
type Category string

const (
	CategoryDefinition Category = "definition"
	CategoryUser       Category = "user"
	CategoryTransient  Category = "transient"
	CategoryExecution  Category = "execution"
	CategoryUnknown    Category = "unknown"
)

var (
	definitionErrors = []error{
		module.ErrDefinitionConflict,
		module.ErrDuplicateEventName,
		module.ErrUnresolvedDependency,
		module.ErrCyclicDependency,
		module.ErrArgumentMismatch,
		module.ErrMissingArtifact,
		module.ErrInvalidHook,
	}
	userErrors = []error{
		ErrUserDeclined,
		txmanager.ErrUnknownActor,
		filestore.ErrLocked,
	}
)

// Categorize returns the category of err.
func Categorize(err error) Category {
	for _, target := range definitionErrors {
		if errors.Is(err, target) {
			return CategoryDefinition
		}
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return CategoryUser
		}
	}
	if errors.Is(err, txmanager.ErrGasPriceBackoffExceeded) {
		return CategoryTransient
	}

	var elementErr *scheduler.ElementError
	if errors.As(err, &elementErr) ||
		errors.Is(err, lifecycle.ErrTransactionReverted) ||
		errors.Is(err, lifecycle.ErrDependencyNotDeployed) {
		return CategoryExecution
	}
	return CategoryUnknown
}
