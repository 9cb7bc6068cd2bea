// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"strconv"
	"strings"

	"github.com/memodb-foundation/memodb/lib/cid"
	"github.com/memodb-foundation/memodb/lib/name"
	"github.com/memodb-foundation/memodb/lib/node"
)

// PathStep is one step from a parent value to a child: a map key or a
// list index.
type PathStep struct {
	Key   string
	Index int
	IsKey bool
}

// KeyStep returns a map-key step.
func KeyStep(key string) PathStep { return PathStep{Key: key, IsKey: true} }

// IndexStep returns a list-index step.
func IndexStep(i int) PathStep { return PathStep{Index: i} }

// Path locates a value inside the graph below a root binding: follow
// Steps from the value Root resolves to.
type Path struct {
	Root  name.Name
	Steps []PathStep
}

// String renders the path as the root Name followed by indexing
// steps, e.g. /head/config["servers"][2].
func (p Path) String() string {
	var b strings.Builder
	b.WriteString(p.Root.String())
	for _, step := range p.Steps {
		if step.IsKey {
			b.WriteString("[" + strconv.Quote(step.Key) + "]")
		} else {
			b.WriteString("[" + strconv.Itoa(step.Index) + "]")
		}
	}
	return b.String()
}

// ListPathsTo walks parents of target transitively via NamesUsing,
// introspecting each parent Node for the embedded link positions, and
// returns every discovered (root, path) pair. Roots are Head and Call
// Names. Results are as complete as the backend's NamesUsing. A
// visited set holds the CIDs on the walk in progress, so no CID is
// re-entered below itself; a parent shared by several children is
// walked once per path through it.
func ListPathsTo(s Store, target cid.CID) ([]Path, error) {
	w := &pathWalker{store: s, visited: make(map[cid.CID]bool)}
	if err := w.walk(target, nil); err != nil {
		return nil, err
	}
	return w.found, nil
}

type pathWalker struct {
	store   Store
	visited map[cid.CID]bool
	found   []Path
}

// walk records every root whose graph reaches c, where suffix is the
// already-known path from c down to the original target.
func (w *pathWalker) walk(c cid.CID, suffix []PathStep) error {
	if w.visited[c] {
		return nil
	}
	w.visited[c] = true
	defer delete(w.visited, c)

	users, err := w.store.NamesUsing(c)
	if err != nil {
		return err
	}
	for _, user := range users {
		if parent, ok := user.AsCID(); ok {
			pn, err := w.store.Get(parent)
			if err != nil {
				return err
			}
			for _, inner := range pathsWithin(pn, c, nil) {
				full := make([]PathStep, 0, len(inner)+len(suffix))
				full = append(full, inner...)
				full = append(full, suffix...)
				if err := w.walk(parent, full); err != nil {
					return err
				}
			}
			continue
		}
		steps := make([]PathStep, len(suffix))
		copy(steps, suffix)
		w.found = append(w.found, Path{Root: user, Steps: steps})
	}
	return nil
}

// pathsWithin collects every path at which n links to target.
func pathsWithin(n node.Node, target cid.CID, prefix []PathStep) [][]PathStep {
	var out [][]PathStep
	switch n.Kind() {
	case node.KindLink:
		if c, _ := n.AsLink(); c == target {
			out = append(out, append([]PathStep(nil), prefix...))
		}
	case node.KindList:
		for i := 0; i < n.Len(); i++ {
			out = append(out, pathsWithin(n.At(i), target, append(prefix, IndexStep(i)))...)
		}
	case node.KindMap:
		for i := 0; i < n.Len(); i++ {
			e := n.EntryAt(i)
			out = append(out, pathsWithin(e.Value, target, append(prefix, KeyStep(e.Key)))...)
		}
	}
	return out
}
