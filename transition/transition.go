// Package transition defines the collaborator interface the engine
// consumes: a stateful unit with a static description (input/output
// edges and a list of cases) and a single dispatch entrypoint.
package transition

import (
	"github.com/MarshallRawson/ntpnet/token"
)

// EdgeType pairs an edge's local name with the TypeTag of the payload
// that flows across it.
type EdgeType struct {
	Edge string
	Tag  token.TypeTag
}

// Condition is one conjunction of (edge, TypeTag) requirements that, if
// all present, enables firing the containing case.
type Condition []EdgeType

// Product is one conjunction of (edge, TypeTag) obligations a firing
// must produce.
type Product []EdgeType

// Case is one named firing rule: a disjunction of input Conditions and
// the parallel list of possible output Products. Inputs[i] is enabled
// independently of Inputs[j]; a firing that consumes Inputs[i] chooses
// one Products[k] to produce (indicated by the return value of Call).
type Case struct {
	Name    string
	Inputs  []Condition
	Outputs []Product
}

// Description is a transition's static shape: its declared input/output
// edges and its ordered list of cases. Cases preserve declaration order;
// the scheduler depends on this for deterministic, fair scanning.
type Description struct {
	InEdges  []EdgeType
	OutEdges []EdgeType
	Cases    []Case
}

// InMap is keyed by (edge name, TypeTag) and holds exactly the tokens
// consumed by one chosen condition.
type InMap map[EdgeType]token.Token

// OutMap must contain, on return from Call, exactly the (edge, TypeTag)
// pairs of one of the case's declared products, each mapped to a token.
type OutMap map[EdgeType]token.Token

// Transition is the collaborator interface the engine consumes.
// Implementations are not reentrant: the scheduler guarantees at most
// one in-flight Call per transition.
type Transition interface {
	// Description returns this transition's static shape. Called once,
	// immediately after construction.
	Description() Description

	// Call fires one condition of one case. in contains exactly the
	// tokens named by Description().Cases[...].Inputs[condition]; the
	// implementation must populate out with exactly the (edge, TypeTag)
	// pairs of one declared product for this case, and return that
	// product's index.
	Call(caseName string, condition int, in InMap, out OutMap) (product int)
}

// Maker is a constructor for a Transition. Net.Validate calls it once on
// the validating goroutine to read a throwaway instance's Description;
// the live instance comes from one further call on the target cluster's
// thread. It is the Go analogue of the Rust source's TransitionMaker
// boxed closure.
type Maker func() Transition
