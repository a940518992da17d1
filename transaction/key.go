package transaction

import (
	"fmt"

	"github.com/zeebo/xxh3"
)

// Key identifies a lockable object: the source that owns it (a table, a
// cache region, a queue - whatever an AccessReporter was registered for)
// plus an object id scoped to that source. ObjectID must be a comparable
// Go value; it is used both as a map key and as part of the shard hash.
type Key struct {
	Source   string
	ObjectID any
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%v", k.Source, k.ObjectID)
}

// hash returns a fast, non-cryptographic hash of the key used only to pick
// a shard. Collisions are harmless: they just put two unrelated keys behind
// the same shard mutex.
func (k Key) hash() uint64 {
	return xxh3.HashString(k.Source + "\x00" + fmt.Sprint(k.ObjectID))
}
