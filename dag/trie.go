package dag

import "github.com/blockberries/ckptberry/types"

type leaf struct {
	id   types.Hash
	node types.Node
}

type slot struct {
	sub  *branch
	leaf *leaf
}

type branch struct {
	slots [256]slot
}

// find returns the leaf holding id.
func (b *branch) find(id types.Hash) *leaf {
	for depth := 0; depth < types.HashSize; depth++ {
		s := &b.slots[id[depth]]
		switch {
		case s.sub != nil:
			b = s.sub
		case s.leaf != nil && s.leaf.id == id:
			return s.leaf
		default:
			return nil
		}
	}
	return nil
}

// insert places l and returns nil, or returns the resident leaf with the
// same identifier.
func (b *branch) insert(l *leaf) *leaf {
	for depth := 0; depth < types.HashSize; depth++ {
		s := &b.slots[l.id[depth]]
		if s.sub != nil {
			b = s.sub
			continue
		}
		if s.leaf == nil {
			s.leaf = l
			return nil
		}
		if s.leaf.id == l.id {
			return s.leaf
		}
		// Both identifiers share this byte, so they differ further down.
		sub := &branch{}
		sub.slots[s.leaf.id[depth+1]].leaf = s.leaf
		s.sub, s.leaf = sub, nil
		b = sub
	}
	return nil
}

// walk visits leaves in identifier order.
func (b *branch) walk(fn func(*leaf)) {
	for i := range b.slots {
		s := &b.slots[i]
		if s.sub != nil {
			s.sub.walk(fn)
		} else if s.leaf != nil {
			fn(s.leaf)
		}
	}
}
