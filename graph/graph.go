package graph

import (
	"context"
	"fmt"
)

// NodeType represents the type of a node in the graph
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeEnd       NodeType = "end"
	NodeTypeLLM       NodeType = "llm"
	NodeTypeTool      NodeType = "tool"
	NodeTypeCondition NodeType = "condition"
)

// State represents the execution state passed between nodes
type State map[string]any

// NodeFunc is the function executed by a node
type NodeFunc func(context.Context, State) (State, error)

// ConditionFunc evaluates a condition and returns the next node name
type ConditionFunc func(context.Context, State) (string, error)

// Node represents a node in the execution graph
type Node struct {
	Name      string
	Type      NodeType
	Execute   NodeFunc
	Condition ConditionFunc     // Only for condition nodes
	NextNodes []string          // Outgoing edges (first edge is followed)
	NextMap   map[string]string // For condition nodes: condition result -> next node
}

// Graph represents a sequential execution flow with optional back-edges.
// A node may be revisited (that is how iteration loops are expressed);
// maxVisits bounds revisits so a bad condition can never spin forever.
type Graph struct {
	nodes     map[string]*Node
	startNode string
	endNode   string
	maxVisits int
}

// NewGraph creates a new graph
func NewGraph() *Graph {
	return &Graph{
		nodes:     make(map[string]*Node),
		maxVisits: 10,
	}
}

func (g *Graph) validateNode(node *Node) {
	if node.Name == "" {
		panic("node name cannot be empty")
	}

	switch node.Type {
	case NodeTypeCondition:
		if node.Condition == nil {
			panic(fmt.Sprintf("condition node %s must have non-nil Condition function", node.Name))
		}
	default:
		if node.Execute == nil {
			panic(fmt.Sprintf("node %s of type %s must have non-nil Execute function", node.Name, node.Type))
		}
	}
}

// AddNode adds a node to the graph
func (g *Graph) AddNode(node *Node) {
	if _, exists := g.nodes[node.Name]; exists {
		panic(fmt.Sprintf("node %s already exists", node.Name))
	}

	g.validateNode(node)

	g.nodes[node.Name] = node

	// Auto-set start and end nodes
	if node.Type == NodeTypeStart {
		g.startNode = node.Name
	}
	if node.Type == NodeTypeEnd {
		g.endNode = node.Name
	}
}

// SetStartNode sets the start node
func (g *Graph) SetStartNode(name string) {
	if _, exists := g.nodes[name]; !exists {
		panic(fmt.Sprintf("node %s not found", name))
	}
	g.startNode = name
}

// SetEndNode sets the end node
func (g *Graph) SetEndNode(name string) {
	if _, exists := g.nodes[name]; !exists {
		panic(fmt.Sprintf("node %s not found", name))
	}
	g.endNode = name
}

// SetMaxVisits sets the maximum number of visits to a node
func (g *Graph) SetMaxVisits(maxVisits int) {
	if maxVisits > 0 {
		g.maxVisits = maxVisits
	}
}

// GetNode returns a node by name
func (g *Graph) GetNode(name string) (*Node, error) {
	node, exists := g.nodes[name]
	if !exists {
		return nil, fmt.Errorf("node %s not found", name)
	}
	return node, nil
}

// Execute walks the graph from the start node. Exactly one node is active at
// a time: regular nodes run and hand off along their first edge, condition
// nodes pick the edge named by their result. Context cancellation is honoured
// between nodes only, never mid-node.
func (g *Graph) Execute(ctx context.Context, initialState State) (State, error) {
	if g.startNode == "" {
		return nil, fmt.Errorf("start node not set")
	}

	state := initialState
	if state == nil {
		state = make(State)
	}

	visited := make(map[string]int)
	current := g.startNode

	for {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		node, exists := g.nodes[current]
		if !exists {
			return nil, fmt.Errorf("node %s not found", current)
		}

		visited[current]++
		if visited[current] > g.maxVisits {
			return nil, fmt.Errorf("infinite loop detected at node %s", current)
		}

		if node.Type == NodeTypeEnd {
			return node.Execute(ctx, state)
		}

		next, err := g.step(ctx, node, state)
		if err != nil {
			return nil, err
		}
		current = next
	}
}

func (g *Graph) step(ctx context.Context, node *Node, state State) (string, error) {
	if node.Type == NodeTypeCondition {
		result, err := node.Condition(ctx, state)
		if err != nil {
			return "", fmt.Errorf("error evaluating condition at node %s: %w", node.Name, err)
		}
		next := node.NextMap[result]
		if next == "" {
			return "", fmt.Errorf("condition node %s has no edge for result %q", node.Name, result)
		}
		return next, nil
	}

	if _, err := node.Execute(ctx, state); err != nil {
		return "", fmt.Errorf("error executing node %s: %w", node.Name, err)
	}
	if len(node.NextNodes) == 0 {
		return "", fmt.Errorf("no next node specified for node %s", node.Name)
	}
	return node.NextNodes[0], nil
}

// Builder helps build graphs fluently
type Builder struct {
	graph *Graph
}

// NewBuilder creates a new graph builder
func NewBuilder() *Builder {
	return &Builder{
		graph: NewGraph(),
	}
}

// AddNode adds a node to the graph
func (b *Builder) AddNode(name string, nodeType NodeType, execute NodeFunc) *Builder {
	b.graph.AddNode(&Node{
		Name:    name,
		Type:    nodeType,
		Execute: execute,
	})
	return b
}

// AddConditionNode adds a condition node
func (b *Builder) AddConditionNode(name string, condition ConditionFunc, nextMap map[string]string) *Builder {
	b.graph.AddNode(&Node{
		Name:      name,
		Type:      NodeTypeCondition,
		Condition: condition,
		NextMap:   nextMap,
	})
	return b
}

// AddEdge connects two nodes
func (b *Builder) AddEdge(from, to string) *Builder {
	if node, exists := b.graph.nodes[from]; exists {
		node.NextNodes = append(node.NextNodes, to)
	}
	return b
}

// SetStart sets the start node
func (b *Builder) SetStart(name string) *Builder {
	b.graph.SetStartNode(name)
	return b
}

// SetEnd sets the end node
func (b *Builder) SetEnd(name string) *Builder {
	b.graph.SetEndNode(name)
	return b
}

// SetMaxVisits sets the maximum number of visits to a node
func (b *Builder) SetMaxVisits(maxVisits int) *Builder {
	b.graph.SetMaxVisits(maxVisits)
	return b
}

// Build returns the constructed graph
func (b *Builder) Build() *Graph {
	return b.graph
}
