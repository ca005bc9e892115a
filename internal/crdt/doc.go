// Package crdt implements a replicated text document (an RGA sequence CRDT)
// with state vectors and diff-based synchronization.
//
// Every operation is identified by (client, seq) where seq is contiguous per
// client. Inserts name the atom they follow (their parent) and carry a
// Lamport stamp; siblings are kept in descending (stamp, client) order and the
// text is the pre-order traversal of the visible atoms. Deletes leave
// tombstones. Operations whose parent or target is not known yet are buffered
// until it arrives, so updates may be applied in any order.
package crdt

import (
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
)

// SeedClient is the replica id used to generate initial content. Seeding the
// same content always produces the same operations.
const SeedClient uint64 = 0

// ID identifies one operation.
type ID struct {
	Client uint64
	Seq    uint64
}

// IsZero reports whether id is the document head.
func (id ID) IsZero() bool { return id.Client == 0 && id.Seq == 0 }

type opKind byte

const (
	kindInsert opKind = 1
	kindDelete opKind = 2
)

type op struct {
	kind   opKind
	id     ID
	stamp  uint64 // insert only
	parent ID     // insert only
	value  rune   // insert only
	target ID     // delete only
}

type atom struct {
	id       ID
	stamp    uint64
	value    rune
	deleted  bool
	children []*atom
}

// before reports whether a sorts ahead of b among siblings.
func (a *atom) before(b *atom) bool {
	if a.stamp != b.stamp {
		return a.stamp > b.stamp
	}
	if a.id.Client != b.id.Client {
		return a.id.Client > b.id.Client
	}
	return a.id.Seq > b.id.Seq
}

// Doc is one replica. It is safe for concurrent use.
type Doc struct {
	mu sync.Mutex

	client uint64
	stamp  uint64

	head  *atom
	atoms map[ID]*atom

	log    map[uint64]map[uint64]op
	vector map[uint64]uint64

	pendingInserts map[ID][]op
	pendingDeletes map[ID][]op

	dirty   bool
	text    string
	visible []*atom
}

// New returns an empty replica that authors local edits as client.
func New(client uint64) *Doc {
	head := &atom{}
	return &Doc{
		client:         client,
		head:           head,
		atoms:          map[ID]*atom{{}: head},
		log:            make(map[uint64]map[uint64]op),
		vector:         make(map[uint64]uint64),
		pendingInserts: make(map[ID][]op),
		pendingDeletes: make(map[ID][]op),
	}
}

// NewReplica returns an empty replica with a random non-zero client id.
func NewReplica() *Doc {
	client := rand.Uint64()
	for client == SeedClient {
		client = rand.Uint64()
	}
	return New(client)
}

// FromText returns a replica whose content is text, authored by SeedClient.
func FromText(text string) *Doc {
	d := New(SeedClient)
	if text != "" {
		d.Insert(0, text)
	}
	return d
}

// Client returns the replica id used for local edits.
func (d *Doc) Client() uint64 { return d.client }

// Apply merges a remote update. Malformed updates are rejected as a whole and
// leave the replica untouched.
func (d *Doc) Apply(update []byte) error {
	ops, err := decodeUpdate(update)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range ops {
		d.integrate(o)
	}
	return nil
}

// Text materializes the current content.
func (d *Doc) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rebuild()
	return d.text
}

// StateVector summarizes the operations this replica has seen.
func (d *Doc) StateVector() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return encodeStateVector(d.vector)
}

// Diff returns the operations a peer with remoteVector is missing.
func (d *Doc) Diff(remoteVector []byte) ([]byte, error) {
	remote, err := decodeStateVector(remoteVector)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return encodeUpdate(d.missing(remote)), nil
}

// FullUpdate is the diff against an empty state vector.
func (d *Doc) FullUpdate() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return encodeUpdate(d.missing(nil))
}

// Insert inserts text before the visible character at index and returns the
// update describing the edit. Out-of-range indexes are clamped.
func (d *Doc) Insert(index int, text string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	parent := d.predecessor(index)
	seq := d.lastSeq(d.client)
	ops := make([]op, 0, len(text))
	for _, r := range text {
		seq++
		o := op{
			kind:   kindInsert,
			id:     ID{Client: d.client, Seq: seq},
			stamp:  d.stamp + 1,
			parent: parent,
			value:  r,
		}
		d.integrate(o)
		ops = append(ops, o)
		parent = o.id
	}
	return encodeUpdate(ops)
}

// Delete removes up to length visible characters starting at index and
// returns the update describing the edit.
func (d *Doc) Delete(index, length int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rebuild()
	if index < 0 {
		index = 0
	}
	end := index + length
	if end > len(d.visible) {
		end = len(d.visible)
	}
	var targets []ID
	for i := index; i < end; i++ {
		targets = append(targets, d.visible[i].id)
	}

	seq := d.lastSeq(d.client)
	ops := make([]op, 0, len(targets))
	for _, target := range targets {
		seq++
		o := op{kind: kindDelete, id: ID{Client: d.client, Seq: seq}, target: target}
		d.integrate(o)
		ops = append(ops, o)
	}
	return encodeUpdate(ops)
}

func (d *Doc) integrate(o op) {
	bySeq := d.log[o.id.Client]
	if bySeq == nil {
		bySeq = make(map[uint64]op)
		d.log[o.id.Client] = bySeq
	}
	if _, seen := bySeq[o.id.Seq]; seen {
		return
	}
	bySeq[o.id.Seq] = o
	for {
		next := d.vector[o.id.Client] + 1
		if _, ok := bySeq[next]; !ok {
			break
		}
		d.vector[o.id.Client] = next
	}

	switch o.kind {
	case kindInsert:
		if o.stamp > d.stamp {
			d.stamp = o.stamp
		}
		d.insert(o)
	case kindDelete:
		d.remove(o)
	}
}

func (d *Doc) insert(o op) {
	parent, ok := d.atoms[o.parent]
	if !ok {
		d.pendingInserts[o.parent] = append(d.pendingInserts[o.parent], o)
		return
	}
	a := &atom{id: o.id, stamp: o.stamp, value: o.value}
	kids := parent.children
	pos := sort.Search(len(kids), func(i int) bool { return a.before(kids[i]) })
	kids = append(kids, nil)
	copy(kids[pos+1:], kids[pos:])
	kids[pos] = a
	parent.children = kids
	d.atoms[o.id] = a
	d.dirty = true

	if dels, ok := d.pendingDeletes[o.id]; ok {
		delete(d.pendingDeletes, o.id)
		for _, del := range dels {
			d.remove(del)
		}
	}
	if waiting, ok := d.pendingInserts[o.id]; ok {
		delete(d.pendingInserts, o.id)
		for _, child := range waiting {
			d.insert(child)
		}
	}
}

func (d *Doc) remove(o op) {
	a, ok := d.atoms[o.target]
	if !ok {
		d.pendingDeletes[o.target] = append(d.pendingDeletes[o.target], o)
		return
	}
	if !a.deleted {
		a.deleted = true
		d.dirty = true
	}
}

// missing lists logged operations not covered by remote, ordered by id.
func (d *Doc) missing(remote map[uint64]uint64) []op {
	var out []op
	for client, bySeq := range d.log {
		known := remote[client]
		for seq, o := range bySeq {
			if seq > known {
				out = append(out, o)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].id.Client != out[j].id.Client {
			return out[i].id.Client < out[j].id.Client
		}
		return out[i].id.Seq < out[j].id.Seq
	})
	return out
}

func (d *Doc) lastSeq(client uint64) uint64 {
	var last uint64
	for seq := range d.log[client] {
		if seq > last {
			last = seq
		}
	}
	return last
}

func (d *Doc) predecessor(index int) ID {
	d.rebuild()
	if index <= 0 || len(d.visible) == 0 {
		return ID{}
	}
	if index > len(d.visible) {
		index = len(d.visible)
	}
	return d.visible[index-1].id
}

func (d *Doc) rebuild() {
	if !d.dirty && d.visible != nil {
		return
	}
	visible := make([]*atom, 0, len(d.atoms))
	var b strings.Builder

	stack := make([]*atom, 0, 64)
	for i := len(d.head.children) - 1; i >= 0; i-- {
		stack = append(stack, d.head.children[i])
	}
	for len(stack) > 0 {
		a := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !a.deleted {
			visible = append(visible, a)
			b.WriteRune(a.value)
		}
		for i := len(a.children) - 1; i >= 0; i-- {
			stack = append(stack, a.children[i])
		}
	}
	d.visible = visible
	d.text = b.String()
	d.dirty = false
}
