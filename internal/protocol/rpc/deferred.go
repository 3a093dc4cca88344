package rpc

import (
	"errors"
	"sync"
)

// ErrAlreadyCompleted is returned by a second Deferred.Complete call.
var ErrAlreadyCompleted = errors.New("rpc: deferred reply already completed")

// Deferred is the second half of an asynchronous reply. A handler that
// cannot answer immediately returns Defer() and hands a Deferred to the
// component that finishes the work. Completing it serialises the SUCCESS
// header, runs the completion hook (the call cache records the bytes
// there), and writes the reply on the original connection.
type Deferred struct {
	xid    uint32
	sender ReplySender
	hook   func(reply []byte)

	once sync.Once
}

// NewDeferred returns a Deferred replying to xid through sender. hook may
// be nil.
func NewDeferred(xid uint32, sender ReplySender, hook func(reply []byte)) *Deferred {
	return &Deferred{xid: xid, sender: sender, hook: hook}
}

// XID returns the transaction id of the pending call.
func (d *Deferred) XID() uint32 {
	return d.xid
}

// Complete sends results as the reply. Only the first call has an effect.
func (d *Deferred) Complete(results []byte) error {
	err := ErrAlreadyCompleted
	d.once.Do(func() {
		reply := SuccessReply(d.xid, results)
		if d.hook != nil {
			d.hook(reply)
		}
		err = nil
		if d.sender != nil {
			err = d.sender.SendReply(reply)
		}
	})
	return err
}
