package vfs

import (
	"context"

	"github.com/qihaolou/Foxel/fs"
)

// Filesystem events emitted by the facade after successful mutations.
const (
	EventFileWritten = "file_written"
	EventFileDeleted = "file_deleted"
)

// EventHandler observes one facade event. Handlers run synchronously on
// the mutating goroutine, so they must stay cheap; anything heavy goes
// through the task queue.
type EventHandler func(ctx context.Context, event, path string)

// OnEvent subscribes h to every facade event.
func (v *VFS) OnEvent(h EventHandler) {
	v.emu.Lock()
	v.handlers = append(v.handlers, h)
	v.emu.Unlock()
}

func (v *VFS) emit(ctx context.Context, event, path string) {
	v.emu.RLock()
	handlers := v.handlers
	v.emu.RUnlock()
	fs.Debugf(nil, "event %s %q", event, path)
	for _, h := range handlers {
		h(ctx, event, path)
	}
}
