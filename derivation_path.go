package cardwallet

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// HardenedOffset is added to the index of a hardened node.
const HardenedOffset uint32 = 0x80000000

// DerivationNode is one level of a BIP32 path.
type DerivationNode struct {
	Index    uint32
	Hardened bool
}

// ChildNumber is the BIP32 child number, with the hardened bit set.
func (node DerivationNode) ChildNumber() uint32 {
	if node.Hardened {
		return node.Index | HardenedOffset
	}
	return node.Index
}

func (node DerivationNode) String() string {
	s := strconv.FormatUint(uint64(node.Index), 10)
	if node.Hardened {
		s += "'"
	}
	return s
}

// DerivationPath locates a key within an HD tree. The empty path is the
// master node.
type DerivationPath struct {
	Nodes []DerivationNode
}

// ParseDerivationPath parses "m/44'/0'/0'/0/0". Both ' and h mark a hardened
// node.
func ParseDerivationPath(path string) (DerivationPath, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) == 0 || (parts[0] != "m" && parts[0] != "M") {
		return DerivationPath{}, errors.Errorf("invalid derivation path %q", path)
	}

	nodes := make([]DerivationNode, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := false
		if strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h") || strings.HasSuffix(part, "H") {
			hardened = true
			part = part[:len(part)-1]
		}

		index, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return DerivationPath{}, errors.Errorf("invalid path segment %q in %q", part, path)
		}
		if uint32(index) >= HardenedOffset {
			return DerivationPath{}, errors.Errorf("path segment %q out of range in %q", part, path)
		}

		nodes = append(nodes, DerivationNode{Index: uint32(index), Hardened: hardened})
	}

	return DerivationPath{Nodes: nodes}, nil
}

// MustParseDerivationPath is ParseDerivationPath for static tables.
func MustParseDerivationPath(path string) DerivationPath {
	parsed, err := ParseDerivationPath(path)
	if err != nil {
		panic(err)
	}
	return parsed
}

func (path DerivationPath) String() string {
	var b strings.Builder
	b.WriteString("m")
	for _, node := range path.Nodes {
		b.WriteString("/")
		b.WriteString(node.String())
	}
	return b.String()
}

func (path DerivationPath) Depth() int {
	return len(path.Nodes)
}

func (path DerivationPath) IsMaster() bool {
	return len(path.Nodes) == 0
}

// LastNode returns the deepest node; ok is false for the master path.
func (path DerivationPath) LastNode() (node DerivationNode, ok bool) {
	if len(path.Nodes) == 0 {
		return DerivationNode{}, false
	}
	return path.Nodes[len(path.Nodes)-1], true
}

// DropLast returns the ancestor n levels up. Dropping more levels than the
// path has yields the master path.
func (path DerivationPath) DropLast(n int) DerivationPath {
	if n >= len(path.Nodes) {
		return DerivationPath{}
	}
	nodes := make([]DerivationNode, len(path.Nodes)-n)
	copy(nodes, path.Nodes)
	return DerivationPath{Nodes: nodes}
}

// Append returns the path extended by node.
func (path DerivationPath) Append(node DerivationNode) DerivationPath {
	nodes := make([]DerivationNode, 0, len(path.Nodes)+1)
	nodes = append(nodes, path.Nodes...)
	return DerivationPath{Nodes: append(nodes, node)}
}

func (path DerivationPath) Equal(other DerivationPath) bool {
	if len(path.Nodes) != len(other.Nodes) {
		return false
	}
	for i := range path.Nodes {
		if path.Nodes[i] != other.Nodes[i] {
			return false
		}
	}
	return true
}
