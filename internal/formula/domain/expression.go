package formula

import (
	"sort"
)

// FormulaExpression is one node of a computation tree: a function applied
// to an ordered parameter list. Parameter subtrees are exclusively owned by
// their parent node.
type FormulaExpression struct {
	Function   FormulaFunction    `json:"function"`
	Parameters []FormulaParameter `json:"parameters"`
}

// Walk visits every expression node exactly once in pre-order. Traversal
// stops at the first error.
func (e *FormulaExpression) Walk(visit func(node *FormulaExpression) error) error {
	if e == nil {
		return nil
	}
	if err := visit(e); err != nil {
		return err
	}
	for i := range e.Parameters {
		if e.Parameters[i].Type != ParameterExpression {
			continue
		}
		if err := e.Parameters[i].Expression.Walk(visit); err != nil {
			return err
		}
	}
	return nil
}

// References collects the distinct symbolic names used by timeseries_ref
// parameters anywhere in the tree, sorted.
func (e *FormulaExpression) References() []string {
	seen := make(map[string]struct{})
	_ = e.Walk(func(node *FormulaExpression) error {
		for _, param := range node.Parameters {
			if param.Type == ParameterTimeSeriesRef && param.Reference != "" {
				seen[param.Reference] = struct{}{}
			}
		}
		return nil
	})
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckAcyclic verifies no expression node is reachable from itself. Trees
// decoded from JSON cannot be cyclic; this guards externally constructed
// trees that share or loop node pointers.
func (e *FormulaExpression) CheckAcyclic() bool {
	visited := make(map[*FormulaExpression]struct{})
	return checkAcyclic(e, visited)
}

func checkAcyclic(node *FormulaExpression, visited map[*FormulaExpression]struct{}) bool {
	if node == nil {
		return true
	}
	if _, seen := visited[node]; seen {
		return false
	}
	visited[node] = struct{}{}
	for i := range node.Parameters {
		if node.Parameters[i].Type != ParameterExpression {
			continue
		}
		if !checkAcyclic(node.Parameters[i].Expression, visited) {
			return false
		}
	}
	return true
}

// NodeCount returns the number of expression nodes in the tree.
func (e *FormulaExpression) NodeCount() int {
	count := 0
	_ = e.Walk(func(*FormulaExpression) error {
		count++
		return nil
	})
	return count
}
