package guard

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// ErrAlreadyRunning is returned by Acquire when the persisted flag says a
// prior instance is still active. A previous unclean exit leaves the flag set,
// which is exactly the condition the flag exists to detect.
var ErrAlreadyRunning = errors.New("instance flag is set: another mirror is running, or the previous run exited uncleanly")

var runningKey = []byte("running")

// Guard persists a single on/off flag marking this host as having an active
// mirror. It is a crash-recovery aid, not a distributed lock: two processes
// racing Acquire at the same moment are not serialized, only a second
// deliberate start after an unclean prior exit is refused.
type Guard struct {
	db *badger.DB
}

// Open opens (or creates) the instance state at the given directory.
func Open(path string) (*Guard, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open instance state at %q: %w", path, err)
	}
	return &Guard{db: db}, nil
}

// OpenInMemory opens instance state that lives only for the process lifetime.
// Used by tests.
func OpenInMemory() (*Guard, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory instance state: %w", err)
	}
	return &Guard{db: db}, nil
}

// Acquire marks this process as the active mirror. Without force it refuses
// with ErrAlreadyRunning when the flag is already set, leaving the state
// untouched.
func (g *Guard) Acquire(force bool) error {
	if !force {
		running, err := g.Running()
		if err != nil {
			return err
		}
		if running {
			return ErrAlreadyRunning
		}
	}
	return g.set(true)
}

// Release clears the flag. Called exactly once, on every path that exits the
// process normally; a hard crash leaves the flag set on purpose.
func (g *Guard) Release() error {
	return g.set(false)
}

// Running reads the persisted flag. An absent key means no instance has ever
// run here, which reads as false.
func (g *Guard) Running() (bool, error) {
	var running bool
	err := g.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runningKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			running = len(val) == 1 && val[0] == 1
			return nil
		})
	})
	if err != nil {
		return false, fmt.Errorf("failed to read instance flag: %w", err)
	}
	return running, nil
}

func (g *Guard) set(running bool) error {
	val := []byte{0}
	if running {
		val[0] = 1
	}
	err := g.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runningKey, val)
	})
	if err != nil {
		return fmt.Errorf("failed to persist instance flag %t: %w", running, err)
	}
	return nil
}

func (g *Guard) Close() error {
	return g.db.Close()
}
