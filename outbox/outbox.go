// Package outbox implements the pull-based queue spec.md section 4.7
// requires of both engine sides: recv(message) mutates state and appends
// items here; drain_outbox() -> []Out hands the host a strictly-ordered
// batch of ToDevice/ToUser/ToStorage items to actually perform I/O with.
// Grounded on spec.md section 9's outbox+pull redesign note, replacing the
// cyclic sink/coordinator references the original implementation used.
package outbox

import (
	"sync"

	"github.com/frostsnap/engine/mutation"
)

// Kind tags which field of an Item is populated.
type Kind string

const (
	ToDevice  Kind = "to_device"
	ToUser    Kind = "to_user"
	ToStorage Kind = "to_storage"
)

// PromptKind enumerates the user-facing prompts a UiProtocol can raise,
// per spec.md section 4.7's interpretation of core ToUser messages into UI
// state.
type PromptKind string

const (
	PromptConfirmKeygenSessionHash PromptKind = "confirm_keygen_session_hash"
	PromptConfirmSignTask          PromptKind = "confirm_sign_task"
	PromptConfirmBackupDisplay     PromptKind = "confirm_backup_display"
	PromptEnterBackupWords         PromptKind = "enter_backup_words"
	PromptVerifyAddress            PromptKind = "verify_address"
	PromptProgress                 PromptKind = "progress"
	PromptAbort                    PromptKind = "abort"
)

// Prompt is one ToUser message: a small, structured description of what a
// human needs to see or confirm next. The engine never renders UI itself;
// a UiProtocol's Sink[State] translates these into host-specific state.
type Prompt struct {
	Kind        PromptKind
	Text        string
	SessionHash [32]byte
	DeviceID    string
}

// Item is one entry in the outbox: exactly one of ToDevice, ToUser, or
// ToStorage is non-nil, matching Kind.
type Item struct {
	Kind      Kind
	ToDevice  any
	ToUser    *Prompt
	ToStorage *mutation.Record
}

// Outbox is a strictly-FIFO queue of pending Items. Storage mutations
// recorded during one recv() are pushed before any ToDevice item the same
// recv() produces, satisfying spec.md section 4.7's ordering requirement
// that a mutation persist before the ToDevice that causally follows it is
// ever handed to a transport.
type Outbox struct {
	mu    sync.Mutex
	items []Item
}

// PushToStorage enqueues a mutation record.
func (o *Outbox) PushToStorage(rec mutation.Record) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = append(o.items, Item{Kind: ToStorage, ToStorage: &rec})
}

// PushToDevice enqueues an outbound wire message. msg is typically a
// wire.CoordinatorSendMessage or wire.DeviceSendMessage; it is left as
// `any` so this package never imports wire, avoiding an import cycle with
// packages wire depends on.
func (o *Outbox) PushToDevice(msg any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = append(o.items, Item{Kind: ToDevice, ToDevice: msg})
}

// PushToUser enqueues a user-facing prompt.
func (o *Outbox) PushToUser(p Prompt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = append(o.items, Item{Kind: ToUser, ToUser: &p})
}

// Drain returns every pending item in FIFO order and empties the queue.
// The host is expected to call Drain only after recv() has returned, per
// spec.md section 5's suspension-points-at-the-API-boundary rule.
func (o *Outbox) Drain() []Item {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.items
	o.items = nil
	return out
}

// Len reports how many items are currently queued, without draining them.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

// Sink receives a stream of UI state updates filtered from the engine's
// ToUser prompts, per spec.md section 4.7's "filters core ToUser messages
// into UI state updates via a Sink<State>".
type Sink[T any] interface {
	Update(state T)
}

// FuncSink adapts a plain function to the Sink interface, the common case
// for a host that just wants a callback.
type FuncSink[T any] func(T)

func (f FuncSink[T]) Update(state T) { f(state) }
