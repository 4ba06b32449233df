package world

import "github.com/abilitynet/abilityd/internal/core/ecs"

// CommandKind is a player input or lifecycle request.
type CommandKind uint8

const (
	CmdUseSlot CommandKind = iota
	CmdDeactivate
	CmdCancel
	CmdKill
	CmdStagger
	CmdRevive
	CmdBind
)

// Command targets the owning replica of Entity.
type Command struct {
	Kind     CommandKind
	Entity   ecs.EntityID
	Slot     int
	Duration float32 // stagger length in seconds
	Build    string  // CmdBind only
}

// Enqueue queues a command for the next Input phase.
func (s *State) Enqueue(c Command) {
	s.commands = append(s.commands, c)
}

// DrainCommands returns and clears the command queue.
func (s *State) DrainCommands() []Command {
	out := s.commands
	s.commands = nil
	return out
}
