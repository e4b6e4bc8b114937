package chain

import "github.com/pkg/errors"

// undoState records the inverse of every mutation performed while it was the
// top of the undo stack.
type undoState struct {
	// oldValues holds, for every object modified in this state, its value
	// before the first modification.
	oldValues map[ObjectID]Object

	// newIDs holds the ids of objects created in this state.
	newIDs map[ObjectID]struct{}

	// removed holds, for every object removed in this state, its value
	// before removal.
	removed map[ObjectID]Object

	// oldNextInstances holds per-type instance counters as they were
	// before this state first advanced them.
	oldNextInstances map[ObjectType]uint64
}

func newUndoState() *undoState {
	return &undoState{
		oldValues:        make(map[ObjectID]Object),
		newIDs:           make(map[ObjectID]struct{}),
		removed:          make(map[ObjectID]Object),
		oldNextInstances: make(map[ObjectType]uint64),
	}
}

// UndoDB is a last-in-first-out stack of reversible mutation scopes over the
// object store. Committed states stay on the stack so that whole blocks can
// still be popped; they only leave the stack when trimmed past the retained
// horizon or reverted by PopCommit.
type UndoDB struct {
	store          *Store
	stack          []*undoState
	activeSessions int
	disabled       bool
	maxSize        int
}

// NewUndoDB returns an undo database retaining at most maxSize states.
func NewUndoDB(maxSize int) *UndoDB {
	return &UndoDB{maxSize: maxSize}
}

// Session is one open mutation scope. Exactly one of Commit, Undo or Merge
// must be called; a deferred Rollback after any of them is a no-op.
type Session struct {
	db    *UndoDB
	state *undoState
	done  bool
}

// Disable stops capture entirely. Used while seeding genesis state.
func (db *UndoDB) Disable() {
	db.disabled = true
}

// Enable resumes capture.
func (db *UndoDB) Enable() {
	db.disabled = false
}

// Enabled reports whether mutations are currently being captured.
func (db *UndoDB) Enabled() bool {
	return !db.disabled && db.activeSessions > 0
}

// Size returns the number of states currently on the stack.
func (db *UndoDB) Size() int {
	return len(db.stack)
}

// ActiveSessions returns the number of open (uncommitted) sessions.
func (db *UndoDB) ActiveSessions() int {
	return db.activeSessions
}

// StartSession opens a new mutation scope on top of the stack.
func (db *UndoDB) StartSession() *Session {
	if db.disabled {
		return &Session{db: db, done: true}
	}
	state := newUndoState()
	db.stack = append(db.stack, state)
	db.activeSessions++
	return &Session{db: db, state: state}
}

func (db *UndoDB) top() *undoState {
	if len(db.stack) == 0 {
		return nil
	}
	return db.stack[len(db.stack)-1]
}

func (db *UndoDB) requireTop(state *undoState) {
	if db.top() != state {
		panic("undo session is not the top of the stack")
	}
}

// Commit seals the session's mutations. The state stays on the stack so the
// enclosing block remains poppable; it becomes permanent once trimmed.
func (s *Session) Commit() {
	if s.done {
		return
	}
	s.db.requireTop(s.state)
	s.done = true
	s.db.activeSessions--
	s.db.trim()
}

// Undo reverts every mutation recorded by the session and pops it.
func (s *Session) Undo() {
	if s.done {
		return
	}
	s.db.requireTop(s.state)
	s.done = true
	s.db.activeSessions--
	s.db.popAndRevert()
}

// Merge folds the session's mutations into the session below it. The parent
// then owns the combined delta.
func (s *Session) Merge() {
	if s.done {
		return
	}
	s.db.requireTop(s.state)
	if len(s.db.stack) < 2 {
		panic("undo session merge with no parent state")
	}
	s.done = true
	s.db.activeSessions--
	s.db.mergeTop()
}

// Rollback undoes the session unless it was already completed. Callers defer
// it to guarantee cleanup on every exit path.
func (s *Session) Rollback() {
	s.Undo()
}

// PopCommit reverts the most recent state even though its session already
// committed. This is how a whole block is popped.
func (db *UndoDB) PopCommit() {
	if len(db.stack) == 0 {
		panic("PopCommit on an empty undo stack")
	}
	if len(db.stack)-db.activeSessions <= 0 {
		panic("PopCommit would revert a state still owned by an open session")
	}
	db.popAndRevert()
}

// trim drops sealed states from the bottom of the stack past the retained
// horizon, making them permanent.
func (db *UndoDB) trim() {
	for len(db.stack) > db.maxSize && len(db.stack) > db.activeSessions {
		db.stack = append([]*undoState(nil), db.stack[1:]...)
	}
}

// popAndRevert applies the top state's inverses in reverse dependency order
// and pops it. Reverts bypass capture.
func (db *UndoDB) popAndRevert() {
	state := db.top()
	db.stack = db.stack[:len(db.stack)-1]

	for id := range state.newIDs {
		db.store.removeRaw(id)
	}
	for _, oldValue := range state.oldValues {
		db.store.replaceRaw(oldValue)
	}
	for _, removedValue := range state.removed {
		db.store.insertRaw(removedValue)
	}
	for objType, oldNext := range state.oldNextInstances {
		db.store.nextInstances[objType] = oldNext
	}
}

// mergeTop folds the top state into the one below it and pops it. The
// earliest recorded old value and the combined create/remove effects
// survive.
func (db *UndoDB) mergeTop() {
	head := db.stack[len(db.stack)-1]
	parent := db.stack[len(db.stack)-2]
	db.stack = db.stack[:len(db.stack)-1]

	for id, oldValue := range head.oldValues {
		if _, created := parent.newIDs[id]; created {
			continue
		}
		if _, modified := parent.oldValues[id]; modified {
			continue
		}
		parent.oldValues[id] = oldValue
	}
	for id := range head.newIDs {
		if removedValue, removed := parent.removed[id]; removed {
			// Removed then re-created collapses to a modify.
			parent.oldValues[id] = removedValue
			delete(parent.removed, id)
			continue
		}
		parent.newIDs[id] = struct{}{}
	}
	for id, removedValue := range head.removed {
		if _, created := parent.newIDs[id]; created {
			// Created then removed collapses to nothing.
			delete(parent.newIDs, id)
			continue
		}
		if oldValue, modified := parent.oldValues[id]; modified {
			// Modified then removed: the pre-modification value is
			// what removal must restore.
			parent.removed[id] = oldValue
			delete(parent.oldValues, id)
			continue
		}
		if _, alreadyRemoved := parent.removed[id]; alreadyRemoved {
			continue
		}
		parent.removed[id] = removedValue
	}
	for objType, oldNext := range head.oldNextInstances {
		if _, recorded := parent.oldNextInstances[objType]; !recorded {
			parent.oldNextInstances[objType] = oldNext
		}
	}
}

// Capture hooks called by the store on every tracked mutation.

func (db *UndoDB) onCreate(obj Object) error {
	state, err := db.captureState()
	if err != nil || state == nil {
		return err
	}
	state.newIDs[obj.ObjectID()] = struct{}{}
	return nil
}

func (db *UndoDB) onModify(oldValue Object) error {
	state, err := db.captureState()
	if err != nil || state == nil {
		return err
	}
	id := oldValue.ObjectID()
	if _, created := state.newIDs[id]; created {
		return nil
	}
	if _, modified := state.oldValues[id]; modified {
		return nil
	}
	state.oldValues[id] = oldValue
	return nil
}

func (db *UndoDB) onRemove(oldValue Object) error {
	state, err := db.captureState()
	if err != nil || state == nil {
		return err
	}
	id := oldValue.ObjectID()
	if _, created := state.newIDs[id]; created {
		delete(state.newIDs, id)
		return nil
	}
	if modifiedOld, modified := state.oldValues[id]; modified {
		state.removed[id] = modifiedOld
		delete(state.oldValues, id)
		return nil
	}
	if _, alreadyRemoved := state.removed[id]; alreadyRemoved {
		return nil
	}
	state.removed[id] = oldValue
	return nil
}

func (db *UndoDB) onNewInstance(objType ObjectType, oldNext uint64) {
	state, err := db.captureState()
	if err != nil || state == nil {
		return
	}
	if _, recorded := state.oldNextInstances[objType]; !recorded {
		state.oldNextInstances[objType] = oldNext
	}
}

// captureState returns the state mutations should be recorded into, nil if
// capture is disabled, or an error if no session is open while capture is
// enabled.
func (db *UndoDB) captureState() (*undoState, error) {
	if db.disabled {
		return nil, nil
	}
	if db.activeSessions == 0 {
		return nil, errors.New("object store mutation with no open undo session")
	}
	return db.top(), nil
}
