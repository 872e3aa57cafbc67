package sandbox

import (
	"context"

	"github.com/expr-lang/expr/ast"
)

const awaitName = "await"

// Pending is the value an async helper call produces. Only await resolves it,
// so every async helper call is an explicit suspension point.
type Pending struct {
	name string
	run  func(ctx context.Context) (any, error)
}

// Name of the helper that produced the pending value.
func (p *Pending) Name() string { return p.name }

func resolvePending(ctx context.Context, v any) (any, error) {
	p, ok := v.(*Pending)
	if !ok || p == nil {
		return v, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.run(ctx)
}

// awaitCollector records call nodes already passed directly to await(...).
type awaitCollector struct {
	awaited map[ast.Node]struct{}
}

func (c *awaitCollector) Visit(node *ast.Node) {
	call, ok := (*node).(*ast.CallNode)
	if !ok || calleeName(call) != awaitName {
		return
	}
	for _, arg := range call.Arguments {
		c.awaited[arg] = struct{}{}
	}
}

// awaitInserter wraps each call to an async helper that is not already
// awaited in await(...). It runs after awaitCollector on the same tree.
type awaitInserter struct {
	async   map[string]struct{}
	awaited map[ast.Node]struct{}
	found   bool
}

func (v *awaitInserter) Visit(node *ast.Node) {
	call, ok := (*node).(*ast.CallNode)
	if !ok {
		return
	}
	if _, isAsync := v.async[calleeName(call)]; !isAsync {
		return
	}
	v.found = true
	if _, done := v.awaited[*node]; done {
		return
	}
	ast.Patch(node, &ast.CallNode{
		Callee:    &ast.IdentifierNode{Value: awaitName},
		Arguments: []ast.Node{call},
	})
}

func calleeName(call *ast.CallNode) string {
	if ident, ok := call.Callee.(*ast.IdentifierNode); ok {
		return ident.Value
	}
	return ""
}
