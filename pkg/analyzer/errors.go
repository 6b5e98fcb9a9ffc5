package analyzer

import (
	"errors"
	"fmt"
)

// ErrMissingContracts is returned when there is nothing to analyze.
var ErrMissingContracts = errors.New("no contracts to analyze")

// DuplicateContractsError is returned when two files define the same
// contract name.
type DuplicateContractsError struct {
	Name string
}

func (e *DuplicateContractsError) Error() string {
	return fmt.Sprintf("cannot have two contracts with the same name %s", e.Name)
}

// MissingContractError is returned when a contract is not in any source.
type MissingContractError struct {
	Name string
}

func (e *MissingContractError) Error() string {
	return fmt.Sprintf("did not find expected contract %s in sources", e.Name)
}

// MissingFunctionError is returned when a cross-chain call names a function
// the callee does not define, e.g. the implicit getter of a public variable.
type MissingFunctionError struct {
	Contract string
	Function string
}

func (e *MissingFunctionError) Error() string {
	return fmt.Sprintf("could not create interface for function %s not in source of %s", e.Function, e.Contract)
}

// NotExposableError is returned when a function called across chains
// cannot be bridged.
type NotExposableError struct {
	Contract string
	Function string
	Reason   string
}

func (e *NotExposableError) Error() string {
	return fmt.Sprintf("cannot generate interface for %s.%s: %s", e.Contract, e.Function, e.Reason)
}
