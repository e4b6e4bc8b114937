package chain

import (
	"github.com/orbisnet/orbisd/wire"
)

// ForkItem is one block held by the fork database. Items are owned by the
// database; callers hold them only transiently.
type ForkItem struct {
	Block *wire.SignedBlock

	// ID caches the block's id.
	ID wire.BlockID

	// Num caches the block's number.
	Num uint32
}

// Previous returns the id of the block this item extends.
func (item *ForkItem) Previous() wire.BlockID {
	return item.Block.Header.Previous
}

// ForkDB holds a bounded window of recent blocks forming a forest rooted at
// the pruning horizon. The head is the tip of the longest known chain.
type ForkDB struct {
	items   map[wire.BlockID]*ForkItem
	byNum   map[uint32]map[wire.BlockID]*ForkItem
	head    *ForkItem
	horizon uint32
}

// NewForkDB returns a fork database retaining roughly horizon block heights
// behind the head.
func NewForkDB(horizon uint32) *ForkDB {
	return &ForkDB{
		items:   make(map[wire.BlockID]*ForkItem),
		byNum:   make(map[uint32]map[wire.BlockID]*ForkItem),
		horizon: horizon,
	}
}

// Head returns the tip of the longest known chain, or nil when the window
// is empty.
func (f *ForkDB) Head() *ForkItem {
	return f.head
}

// SetHead forces the head to the given item. Used by the fork-switch
// recovery path.
func (f *ForkDB) SetHead(item *ForkItem) {
	f.head = item
}

// FetchBlock returns the item stored under the given id.
func (f *ForkDB) FetchBlock(id wire.BlockID) (*ForkItem, bool) {
	item, ok := f.items[id]
	return item, ok
}

// FetchBlocksByNumber returns all items at the given height.
func (f *ForkDB) FetchBlocksByNumber(blockNum uint32) []*ForkItem {
	group, ok := f.byNum[blockNum]
	if !ok {
		return nil
	}
	items := make([]*ForkItem, 0, len(group))
	for _, item := range group {
		items = append(items, item)
	}
	return items
}

// PushBlock inserts a block and returns the resulting head. The block is
// rejected when its previous block is unknown and the window is primed,
// because an unlinked block cannot be weighed against the current forest. A
// block with a zero previous id roots a competing tree and is always linked.
func (f *ForkDB) PushBlock(block *wire.SignedBlock) (*ForkItem, error) {
	id := block.BlockID()
	if existing, ok := f.items[id]; ok {
		// A re-pushed known block can still become the head, e.g. after
		// the chain was popped beneath it.
		if f.head == nil || existing.Num > f.head.Num {
			f.head = existing
		}
		return f.head, nil
	}
	if len(f.items) > 0 && !block.Header.Previous.IsZero() {
		if _, ok := f.items[block.Header.Previous]; !ok {
			return nil, ruleError(ErrPreviousBlockUnknown,
				"previous block "+block.Header.Previous.String()+
					" is not in the fork window")
		}
	}
	item := &ForkItem{Block: block, ID: id, Num: block.BlockNum()}
	f.insert(item)
	if f.head == nil || item.Num > f.head.Num {
		f.head = item
	}
	f.prune()
	return f.head, nil
}

func (f *ForkDB) insert(item *ForkItem) {
	f.items[item.ID] = item
	group, ok := f.byNum[item.Num]
	if !ok {
		group = make(map[wire.BlockID]*ForkItem)
		f.byNum[item.Num] = group
	}
	group[item.ID] = item
}

// Remove deletes the item stored under the given id. The head is cleared if
// it was the removed item; callers are expected to SetHead afterwards.
func (f *ForkDB) Remove(id wire.BlockID) {
	item, ok := f.items[id]
	if !ok {
		return
	}
	delete(f.items, id)
	if group, ok := f.byNum[item.Num]; ok {
		delete(group, id)
		if len(group) == 0 {
			delete(f.byNum, item.Num)
		}
	}
	if f.head != nil && f.head.ID == id {
		f.head = nil
	}
}

// PopBlock moves the head back to its previous block. The previous block
// must still be inside the window; popping the first block empties the
// head.
func (f *ForkDB) PopBlock() error {
	if f.head == nil {
		return ruleError(ErrEmptyChain, "no blocks to pop")
	}
	previousID := f.head.Previous()
	if previousID.IsZero() {
		f.head = nil
		return nil
	}
	previous, ok := f.items[previousID]
	if !ok {
		return ruleError(ErrPreviousBlockUnknown,
			"popping beyond the fork window")
	}
	f.head = previous
	return nil
}

// prune drops items that fell behind the retained horizon.
func (f *ForkDB) prune() {
	if f.head == nil || f.head.Num <= f.horizon {
		return
	}
	limit := f.head.Num - f.horizon
	for num, group := range f.byNum {
		if num >= limit {
			continue
		}
		for id := range group {
			delete(f.items, id)
		}
		delete(f.byNum, num)
	}
}

// FetchBranchFrom walks back from the two given tips until they meet.
// Both returned branches are ordered tip first and end at items sharing the
// same previous id, the common ancestor.
func (f *ForkDB) FetchBranchFrom(first, second wire.BlockID) ([]*ForkItem, []*ForkItem, error) {
	firstItem, ok := f.items[first]
	if !ok {
		return nil, nil, ruleError(ErrNoCommonAncestor,
			"branch tip "+first.String()+" is not in the fork window")
	}
	secondItem, ok := f.items[second]
	if !ok {
		return nil, nil, ruleError(ErrNoCommonAncestor,
			"branch tip "+second.String()+" is not in the fork window")
	}

	var firstBranch, secondBranch []*ForkItem
	walkBack := func(item *ForkItem, branch []*ForkItem) (*ForkItem, []*ForkItem, error) {
		branch = append(branch, item)
		next, ok := f.items[item.Previous()]
		if !ok {
			return nil, nil, ruleError(ErrNoCommonAncestor,
				"no common ancestor inside the fork window")
		}
		return next, branch, nil
	}

	var err error
	for firstItem.Num > secondItem.Num {
		firstItem, firstBranch, err = walkBack(firstItem, firstBranch)
		if err != nil {
			return nil, nil, err
		}
	}
	for secondItem.Num > firstItem.Num {
		secondItem, secondBranch, err = walkBack(secondItem, secondBranch)
		if err != nil {
			return nil, nil, err
		}
	}
	for firstItem.ID != secondItem.ID {
		if firstItem.Previous() == secondItem.Previous() {
			firstBranch = append(firstBranch, firstItem)
			secondBranch = append(secondBranch, secondItem)
			return firstBranch, secondBranch, nil
		}
		firstItem, firstBranch, err = walkBack(firstItem, firstBranch)
		if err != nil {
			return nil, nil, err
		}
		secondItem, secondBranch, err = walkBack(secondItem, secondBranch)
		if err != nil {
			return nil, nil, err
		}
	}
	// The tips met on the same item: one chain contains the other and the
	// shared item is the ancestor itself, so neither branch includes it.
	return firstBranch, secondBranch, nil
}
