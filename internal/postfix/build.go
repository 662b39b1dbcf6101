package postfix

import "github.com/etlmr-go/etlmr/internal/sqlconn"

// NodeSpec describes one dimension in the reference graph to build a
// Table tree from: its name, key attribute, lookup attributes, and the
// dimensions it references, corresponding to pyetlmr's flattened
// (dim, refdims) adjacency list reshaped into an explicit tree.
type NodeSpec struct {
	Name        string
	Key         string
	LookupAttrs []string
	Children    []NodeSpec
}

// BuildSnowflake builds the Table tree rooted at root, marking the root
// table so Fix never deletes its rows.
func BuildSnowflake(root NodeSpec, con *sqlconn.Connection) *Table {
	t := buildNode(root, con)
	t.SetRoot()
	return t
}

func buildNode(n NodeSpec, con *sqlconn.Connection) *Table {
	dupAttrs := append([]string{}, n.LookupAttrs...)
	reftables := make([]*Table, 0, len(n.Children))
	for _, child := range n.Children {
		t := buildNode(child, con)
		if !containsString(dupAttrs, t.Key()) {
			dupAttrs = append(dupAttrs, t.Key())
		}
		reftables = append(reftables, t)
	}
	return NewTable(n.Name, n.Key, dupAttrs, reftables, con)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
