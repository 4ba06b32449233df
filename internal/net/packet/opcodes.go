package packet

// Peer message opcodes. Every message is [opcode][entity u64][body].
const (
	// Owner → observers, replicated value. Body: count u8, then per entry
	// id u16, cooldown f32, charge progress f32, charges u8.
	OpSnapshotUpdate byte = 1

	// Owner → observers, unreliable low-latency mirrors. Body: id u16.
	OpMirrorActivate   byte = 2
	OpMirrorDeactivate byte = 3
	OpMirrorInvoke     byte = 4
	OpMirrorCancel     byte = 5

	// Non-owner → owner, reliable. Body: msgpack save data blob.
	OpPersistRelay byte = 6
)

// OpName returns a printable opcode name for logs.
func OpName(op byte) string {
	switch op {
	case OpSnapshotUpdate:
		return "SnapshotUpdate"
	case OpMirrorActivate:
		return "MirrorActivate"
	case OpMirrorDeactivate:
		return "MirrorDeactivate"
	case OpMirrorInvoke:
		return "MirrorInvoke"
	case OpMirrorCancel:
		return "MirrorCancel"
	case OpPersistRelay:
		return "PersistRelay"
	}
	return "Unknown"
}
