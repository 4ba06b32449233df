package packet

import (
	"fmt"

	"github.com/abilitynet/abilityd/internal/core/ecs"
	"go.uber.org/zap"
)

// HandlerFunc handles one message addressed to entity. The reader is
// positioned after the entity ID.
type HandlerFunc func(entity ecs.EntityID, r *Reader)

// Registry maps opcodes to handlers for one peer.
type Registry struct {
	handlers map[byte]HandlerFunc
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		handlers: make(map[byte]HandlerFunc),
		log:      log,
	}
}

// Register maps an opcode to a handler.
func (reg *Registry) Register(opcode byte, fn HandlerFunc) {
	reg.handlers[opcode] = fn
}

// Dispatch finds the handler for the opcode in data[0] and calls it.
// Unknown opcodes are ignored; truncated headers are an error.
func (reg *Registry) Dispatch(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty message")
	}
	opcode := data[0]
	fn, ok := reg.handlers[opcode]
	if !ok {
		reg.log.Debug("unknown opcode", zap.Uint8("opcode", opcode))
		return nil
	}

	r := NewReader(data)
	entity := r.ReadEntity()
	if r.Short() {
		return fmt.Errorf("message %s: truncated header", OpName(opcode))
	}
	reg.log.Debug("message received",
		zap.String("op", OpName(opcode)),
		zap.Stringer("entity", entity),
		zap.Int("size", len(data)),
	)
	return reg.safeCall(fn, entity, r, opcode)
}

// safeCall executes a handler with panic recovery so a single bad message
// cannot take down the tick loop.
func (reg *Registry) safeCall(fn HandlerFunc, entity ecs.EntityID, r *Reader, opcode byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("message handler panic recovered",
				zap.String("op", OpName(opcode)),
				zap.Stringer("entity", entity),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic for opcode %d: %v", opcode, rec)
		}
	}()
	fn(entity, r)
	return nil
}
