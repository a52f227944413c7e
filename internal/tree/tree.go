// Package tree holds the conversation tree of one open conversation.
//
// A Tree is an immutable snapshot. Every operation is a pure transform that
// returns a new Tree and leaves the receiver untouched, so a reader holding a
// snapshot never observes a half-applied change. Store owns the live snapshot
// and serializes writers.
package tree

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/capitalize-ai/repochat/internal/apperr"
	"github.com/capitalize-ai/repochat/internal/model"
)

// rootKey indexes the children list of the virtual root.
const rootKey = ""

// Tree is an immutable snapshot of a conversation forest.
//
// children maps a parent id (rootKey for roots) to its child ids in insertion
// order, so the most recently inserted child is always last. Slices stored in
// children are never appended to in place; transforms replace them.
type Tree struct {
	messages map[string]model.Message
	children map[string][]string
	order    map[string]uint64
	next     uint64
}

// Empty returns a tree with no messages.
func Empty() *Tree {
	return &Tree{
		messages: map[string]model.Message{},
		children: map[string][]string{},
		order:    map[string]uint64{},
	}
}

// Build validates msgs and returns a tree holding exactly them. Slice order is
// taken as insertion order. Messages without a status load as COMPLETE.
func Build(msgs []model.Message) (*Tree, error) {
	const op = "tree.Load"

	t := Empty()
	for _, m := range msgs {
		if m.ID == "" {
			return nil, apperr.New(apperr.CodeMalformedHistory, op, "message without id")
		}
		if _, dup := t.messages[m.ID]; dup {
			return nil, apperr.New(apperr.CodeMalformedHistory, op, fmt.Sprintf("duplicate id %q", m.ID))
		}
		if m.Status == "" {
			m.Status = model.StatusComplete
		}
		m.ParentID = clonePtr(m.ParentID)
		t.messages[m.ID] = m
		t.order[m.ID] = t.next
		t.next++
	}

	for _, m := range msgs {
		parent := m.Parent()
		if m.ParentID != nil {
			if _, ok := t.messages[parent]; !ok {
				return nil, apperr.New(apperr.CodeMalformedHistory, op,
					fmt.Sprintf("message %q references missing parent %q", m.ID, parent))
			}
			if parent == m.ID {
				return nil, apperr.New(apperr.CodeMalformedHistory, op, fmt.Sprintf("message %q is its own parent", m.ID))
			}
		} else {
			parent = rootKey
		}
		t.children[parent] = append(t.children[parent], m.ID)
	}

	if reached := t.countReachable(); reached != len(t.messages) {
		return nil, apperr.New(apperr.CodeMalformedHistory, op,
			fmt.Sprintf("%d messages unreachable from a root", len(t.messages)-reached))
	}

	return t, nil
}

// countReachable counts messages reachable from the roots. With every parent
// resolved, anything unreachable sits on a cycle.
func (t *Tree) countReachable() int {
	count := 0
	stack := slices.Clone(t.children[rootKey])
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count++
		stack = append(stack, t.children[id]...)
	}
	return count
}

// Len returns the number of messages.
func (t *Tree) Len() int {
	return len(t.messages)
}

// Get returns the message with the given id.
func (t *Tree) Get(id string) (model.Message, bool) {
	m, ok := t.messages[id]
	if ok {
		m.ParentID = clonePtr(m.ParentID)
	}
	return m, ok
}

// Has reports whether id is present.
func (t *Tree) Has(id string) bool {
	_, ok := t.messages[id]
	return ok
}

// Children returns the children of id, oldest first. An empty id returns the
// roots.
func (t *Tree) Children(id string) []model.Message {
	ids := t.children[id]
	out := make([]model.Message, 0, len(ids))
	for _, cid := range ids {
		m, _ := t.Get(cid)
		out = append(out, m)
	}
	return out
}

// Messages returns every message in insertion order.
func (t *Tree) Messages() []model.Message {
	ids := slices.Collect(maps.Keys(t.messages))
	slices.SortFunc(ids, func(a, b string) int {
		return cmp.Compare(t.order[a], t.order[b])
	})
	out := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		m, _ := t.Get(id)
		out = append(out, m)
	}
	return out
}

// ActivePath returns the transcript rendered for the conversation: starting at
// the most recently inserted root, it repeatedly follows the most recently
// inserted child down to a leaf.
func (t *Tree) ActivePath() []model.Message {
	var path []model.Message
	for id, ok := t.latestChild(rootKey); ok; id, ok = t.latestChild(id) {
		m, _ := t.Get(id)
		path = append(path, m)
	}
	return path
}

// Leaf returns the last message of the active path.
func (t *Tree) Leaf() (model.Message, bool) {
	id, ok := t.leafID()
	if !ok {
		return model.Message{}, false
	}
	return t.Get(id)
}

func (t *Tree) leafID() (string, bool) {
	leaf, found := "", false
	for id, ok := t.latestChild(rootKey); ok; id, ok = t.latestChild(id) {
		leaf, found = id, true
	}
	return leaf, found
}

func (t *Tree) latestChild(id string) (string, bool) {
	ids := t.children[id]
	if len(ids) == 0 {
		return "", false
	}
	return ids[len(ids)-1], true
}

// WithPair inserts a user message under the active leaf and the assistant
// placeholder under it. The returned parent is the user message's parent id,
// nil when the tree was empty.
func (t *Tree) WithPair(user, assistant model.Message) (*Tree, *string, error) {
	const op = "tree.AppendPair"

	switch {
	case user.ID == "" || assistant.ID == "":
		return nil, nil, apperr.New(apperr.CodeIDCollision, op, "empty id")
	case user.ID == assistant.ID:
		return nil, nil, apperr.New(apperr.CodeIDCollision, op, fmt.Sprintf("user and assistant share id %q", user.ID))
	case t.Has(user.ID):
		return nil, nil, apperr.New(apperr.CodeIDCollision, op, fmt.Sprintf("id %q already exists", user.ID))
	case t.Has(assistant.ID):
		return nil, nil, apperr.New(apperr.CodeIDCollision, op, fmt.Sprintf("id %q already exists", assistant.ID))
	}

	var parent *string
	parentKey := rootKey
	if leaf, ok := t.leafID(); ok {
		parent = &leaf
		parentKey = leaf
	}

	user.ParentID = clonePtr(parent)
	user.SenderType = model.SenderUser
	if user.Status == "" {
		user.Status = model.StatusPending
	}
	userID := user.ID
	assistant.ParentID = &userID
	assistant.SenderType = model.SenderAssistant
	if assistant.Status == "" {
		assistant.Status = model.StatusPending
	}

	next := t.shallowCopy()
	next.messages = maps.Clone(t.messages)
	next.children = maps.Clone(t.children)
	next.order = maps.Clone(t.order)

	next.messages[user.ID] = user
	next.messages[assistant.ID] = assistant
	next.children[parentKey] = appendCopy(t.children[parentKey], user.ID)
	next.children[user.ID] = []string{assistant.ID}
	next.order[user.ID] = next.next
	next.order[assistant.ID] = next.next + 1
	next.next += 2

	return next, clonePtr(parent), nil
}

// WithDelta appends fragment to the content of id. A pending message moves
// to STREAMING.
func (t *Tree) WithDelta(id, fragment string) (*Tree, error) {
	const op = "tree.AppendDelta"

	m, ok := t.messages[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, op, fmt.Sprintf("message %q", id))
	}
	if m.Status.Final() {
		return nil, apperr.New(apperr.CodeFinalized, op, fmt.Sprintf("message %q is %s", id, m.Status))
	}

	m.Content += fragment
	if m.Status == model.StatusPending {
		m.Status = model.StatusStreaming
	}

	next := t.shallowCopy()
	next.messages = maps.Clone(t.messages)
	next.messages[id] = m
	return next, nil
}

// WithReconciledID renames tmp to final, rewriting the parent reference of
// every child of tmp in the same step.
func (t *Tree) WithReconciledID(tmp, final string) (*Tree, error) {
	const op = "tree.ReconcileID"

	m, ok := t.messages[tmp]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, op, fmt.Sprintf("message %q", tmp))
	}
	if tmp == final {
		return t, nil
	}
	if final == "" {
		return nil, apperr.New(apperr.CodeIDCollision, op, "empty final id")
	}
	if t.Has(final) {
		return nil, apperr.New(apperr.CodeIDCollision, op, fmt.Sprintf("id %q already exists", final))
	}
	if m.Status.Final() {
		return nil, apperr.New(apperr.CodeFinalized, op, fmt.Sprintf("message %q is %s", tmp, m.Status))
	}

	next := t.shallowCopy()
	next.messages = maps.Clone(t.messages)
	next.children = maps.Clone(t.children)
	next.order = maps.Clone(t.order)

	delete(next.messages, tmp)
	m.ID = final
	next.messages[final] = m

	finalID := final
	for _, cid := range t.children[tmp] {
		child := next.messages[cid]
		child.ParentID = &finalID
		next.messages[cid] = child
	}
	if kids, ok := t.children[tmp]; ok {
		delete(next.children, tmp)
		next.children[final] = kids
	}

	parentKey := m.Parent()
	siblings := slices.Clone(t.children[parentKey])
	if i := slices.Index(siblings, tmp); i >= 0 {
		siblings[i] = final
	}
	next.children[parentKey] = siblings

	next.order[final] = t.order[tmp]
	delete(next.order, tmp)

	return next, nil
}

// WithStatus sets the status of id. Finalized messages keep their status.
func (t *Tree) WithStatus(id string, status model.Status) (*Tree, error) {
	const op = "tree.SetStatus"

	m, ok := t.messages[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, op, fmt.Sprintf("message %q", id))
	}
	if m.Status == status {
		return t, nil
	}
	if m.Status.Final() {
		return nil, apperr.New(apperr.CodeFinalized, op, fmt.Sprintf("message %q is %s", id, m.Status))
	}

	m.Status = status
	next := t.shallowCopy()
	next.messages = maps.Clone(t.messages)
	next.messages[id] = m
	return next, nil
}

// shallowCopy shares every index with t; callers clone what they change.
func (t *Tree) shallowCopy() *Tree {
	return &Tree{
		messages: t.messages,
		children: t.children,
		order:    t.order,
		next:     t.next,
	}
}

func appendCopy(ids []string, id string) []string {
	out := make([]string, len(ids), len(ids)+1)
	copy(out, ids)
	return append(out, id)
}

func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
