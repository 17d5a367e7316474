package permissions

// Bitmask is a combination of capability bits joined with bitwise OR.
// Unused high bits are legal and ignored by every check.
type Bitmask int64

// Capability bits. New capabilities are appended as the next power of two.
const (
	Read Bitmask = 1 << iota
	Write
	Delete
	Restart
	Shutdown
	Snapshot
	Console
)

// Default masks granted globally to the system roles.
const (
	DefaultAdminMask = Read | Write
	DefaultGuestMask = Read
)

var capabilityNames = []struct {
	bit  Bitmask
	name string
}{
	{Read, "read"},
	{Write, "write"},
	{Delete, "delete"},
	{Restart, "restart"},
	{Shutdown, "shutdown"},
	{Snapshot, "snapshot"},
	{Console, "console"},
}

// Has reports whether every bit of bit is present in mask.
func Has(mask, bit Bitmask) bool {
	return mask&bit == bit
}

// Has reports whether m contains bit.
func (m Bitmask) Has(bit Bitmask) bool {
	return Has(m, bit)
}

// Names lists the known capabilities set in m, lowest bit first.
func (m Bitmask) Names() []string {
	names := make([]string, 0, len(capabilityNames))
	for _, c := range capabilityNames {
		if m.Has(c.bit) {
			names = append(names, c.name)
		}
	}
	return names
}
