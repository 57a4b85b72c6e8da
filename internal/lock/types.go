package lock

// ResourceID identifies a lockable resource. Values are compared by equality only.
type ResourceID string

// OwnerID identifies a logical lock owner, typically a transaction.
type OwnerID string

// Mode is the access mode of a lock request.
type Mode uint8

const (
	// Shared allows any number of concurrent shared holders.
	Shared Mode = iota + 1
	// Exclusive excludes every other holder.
	Exclusive
)

// String returns the lower-case mode name.
func (m Mode) String() string {
	switch m {
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	default:
		return "unknown"
	}
}

// ParseMode maps "shared" and "exclusive" to their Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "shared", "s":
		return Shared, true
	case "exclusive", "x":
		return Exclusive, true
	default:
		return 0, false
	}
}

// compatible reports whether two holders in modes a and b may coexist.
func compatible(a, b Mode) bool {
	return a == Shared && b == Shared
}

// HolderInfo describes one holder of a lock.
type HolderInfo struct {
	// Owner holds the lock.
	Owner OwnerID
	// Mode is the strongest mode the owner holds.
	Mode Mode
	// Count is the reentrant hold count.
	Count int
}

// WaiterInfo describes one queued request.
type WaiterInfo struct {
	// Owner is waiting.
	Owner OwnerID
	// Mode is the requested mode.
	Mode Mode
	// Upgrade is true when the owner already holds the lock in shared mode.
	Upgrade bool
}

// Info is a point-in-time view of one lock.
type Info struct {
	// Resource is the lock identity.
	Resource ResourceID
	// Holders are sorted by owner.
	Holders []HolderInfo
	// Waiters are in grant order.
	Waiters []WaiterInfo
}
