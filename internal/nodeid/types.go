// internal/nodeid/types.go
package nodeid

// PathSegment represents a single component of an address path.
type PathSegment struct {
	Name string
}

// NewPathSegment creates a new path segment.
func NewPathSegment(name string) PathSegment {
	return PathSegment{Name: name}
}

// Address identifies a node by the chain of pipelines and the stage that
// produced it, ending in the node's own name:
// `subject.anatomical.segmentation.recon_all`.
type Address struct {
	Path []PathSegment
}

// New builds an address from plain segment names.
func New(names ...string) *Address {
	a := &Address{Path: make([]PathSegment, 0, len(names))}
	for _, n := range names {
		a.Path = append(a.Path, NewPathSegment(n))
	}
	return a
}

// Child returns a new address with name appended. The receiver is not
// modified; a nil receiver yields a single-segment address.
func (a *Address) Child(name string) *Address {
	var path []PathSegment
	if a != nil {
		path = make([]PathSegment, len(a.Path), len(a.Path)+1)
		copy(path, a.Path)
	}
	return &Address{Path: append(path, NewPathSegment(name))}
}

// Parent returns the address without its last segment, or nil for a
// single-segment address.
func (a *Address) Parent() *Address {
	if a == nil || len(a.Path) <= 1 {
		return nil
	}
	path := make([]PathSegment, len(a.Path)-1)
	copy(path, a.Path)
	return &Address{Path: path}
}

// Name returns the last segment's name.
func (a *Address) Name() string {
	if a == nil || len(a.Path) == 0 {
		return ""
	}
	return a.Path[len(a.Path)-1].Name
}

// Names returns the segment names in order.
func (a *Address) Names() []string {
	if a == nil {
		return nil
	}
	out := make([]string, len(a.Path))
	for i, s := range a.Path {
		out[i] = s.Name
	}
	return out
}
