// store/batch.go
package store

import "github.com/ViniZap4/thesis-notes/domain"

type OpKind int

const (
	OpPutNote OpKind = iota + 1
	OpDeleteFolder
	OpDeleteTag
	OpAdjustFolderCount
)

type Op struct {
	Kind    OpKind
	Note    *domain.Note
	OwnerID string
	// Path is the folder path for folder ops, Name the tag name for tag ops.
	Path  string
	Name  string
	Delta int
}

// Batch collects writes that a backend commits all-or-nothing.
type Batch struct {
	ops []Op
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) PutNote(n *domain.Note) *Batch {
	b.ops = append(b.ops, Op{Kind: OpPutNote, Note: n.Clone()})
	return b
}

func (b *Batch) DeleteFolder(ownerID, path string) *Batch {
	b.ops = append(b.ops, Op{Kind: OpDeleteFolder, OwnerID: ownerID, Path: path})
	return b
}

func (b *Batch) DeleteTag(ownerID, name string) *Batch {
	b.ops = append(b.ops, Op{Kind: OpDeleteTag, OwnerID: ownerID, Name: name})
	return b
}

func (b *Batch) AdjustFolderCount(ownerID, path string, delta int) *Batch {
	b.ops = append(b.ops, Op{Kind: OpAdjustFolderCount, OwnerID: ownerID, Path: path, Delta: delta})
	return b
}

func (b *Batch) Ops() []Op {
	return b.ops
}

func (b *Batch) Len() int {
	return len(b.ops)
}
