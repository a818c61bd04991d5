package crdtdoc

// ContainerKind distinguishes the three shared container flavors the
// bridge understands.
type ContainerKind int

const (
	KindMap ContainerKind = iota
	KindList
	KindText
)

func (k ContainerKind) String() string {
	switch k {
	case KindMap:
		return "map"
	case KindList:
		return "list"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Container is a CRDT-backed shared container: a keyed map, an ordered
// list, or an opaque rich-text handle. Every container has at most one
// parent at a time (spec.md §3.2 invariant 2). The unexported methods
// restrict implementations to this package; pkg/bridge and friends consume
// containers only through this interface and Doc.
type Container interface {
	ID() string
	Kind() ContainerKind
	Doc() *Doc
	// Parent returns the container this one is attached under, the key
	// (string for a map, int for a list) it is attached at, and whether it
	// has a parent at all. Root containers have no parent.
	Parent() (parent Container, key any, ok bool)

	reparent(parent Container, key any) error
	clearParent()
	attach(d *Doc)
}

// parentLink records where a container is currently attached.
type parentLink struct {
	container Container
	key       any
}

// base is embedded by every container implementation.
type base struct {
	id     string
	d      *Doc
	self   Container
	parent *parentLink
}

func (b *base) ID() string { return b.id }
func (b *base) Doc() *Doc  { return b.d }

func (b *base) Parent() (Container, any, bool) {
	if b.parent == nil {
		return nil, nil, false
	}
	return b.parent.container, b.parent.key, true
}

// attach binds a detached container (such as one freshly returned by
// NewText) to a document the first time it is parented.
func (b *base) attach(d *Doc) {
	if b.d != nil {
		return
	}
	b.d = d
	d.register(b.self)
}

// reparent records this container's new parent, refusing if it already has
// a different one (spec.md §3.2 invariant 2). The planner performs the
// same check earlier so a whole batch can be rejected atomically before a
// transaction opens; this is the document's own last-line-of-defense copy
// of that guard.
func (b *base) reparent(parent Container, key any) error {
	if b.parent != nil && (b.parent.container.ID() != parent.ID() || b.parent.key != key) {
		return ErrAlreadyParented
	}
	b.parent = &parentLink{container: parent, key: key}
	return nil
}

func (b *base) clearParent() {
	b.parent = nil
}
