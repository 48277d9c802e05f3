// Copyright 2026 The AIEIO Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package aie

import (
	"fmt"
	"runtime"
	"time"

	"aieio.dev/aieio/pkg/log"
)

// TxnOpcode is the kind of a recorded transaction command.
type TxnOpcode uint8

// Transaction commands.
const (
	TxnWrite TxnOpcode = iota
	TxnMaskWrite
	TxnMaskPoll
	TxnBlockWrite
	TxnBlockSet
)

func (o TxnOpcode) String() string {
	switch o {
	case TxnWrite:
		return "write"
	case TxnMaskWrite:
		return "maskwrite"
	case TxnMaskPoll:
		return "maskpoll"
	case TxnBlockWrite:
		return "blockwrite"
	case TxnBlockSet:
		return "blockset"
	default:
		return fmt.Sprintf("TxnOpcode(%d)", uint8(o))
	}
}

// TxnCmd is one recorded register command.
type TxnCmd struct {
	Op      TxnOpcode
	RegOff  uint64
	Mask    uint32
	Value   uint32
	Data    []uint32
	Count   int
	Timeout time.Duration
}

// Txn is an ordered batch of register commands.
type Txn struct {
	Cmds []TxnCmd
}

// Replay runs every command of txn against b in order.
func (t *Txn) Replay(b Backend) error {
	for i, c := range t.Cmds {
		var err error
		switch c.Op {
		case TxnWrite:
			err = b.Write32(c.RegOff, c.Value)
		case TxnMaskWrite:
			err = b.MaskWrite32(c.RegOff, c.Mask, c.Value)
		case TxnMaskPoll:
			err = b.MaskPoll(c.RegOff, c.Mask, c.Value, c.Timeout)
		case TxnBlockWrite:
			err = b.BlockWrite32(c.RegOff, c.Data)
		case TxnBlockSet:
			err = b.BlockSet32(c.RegOff, c.Value, c.Count)
		default:
			err = fmt.Errorf("%w: opcode %v", ErrInvalidArgs, c.Op)
		}
		if err != nil {
			return fmt.Errorf("transaction command %d (%v at %#x): %w", i, c.Op, c.RegOff, err)
		}
	}
	return nil
}

// Thread wiring, replaced in tests.
var (
	lockOSThread   = runtime.LockOSThread
	unlockOSThread = runtime.UnlockOSThread
)

type txnState struct {
	tid uint64
	txn Txn

	// io is the backend the transaction was started on. It outlives
	// Device.Finish so the owner can still be identified.
	io Backend
}

func (t *txnState) unlock() {
	unlockOSThread()
}

// owned reports whether the calling thread started the transaction.
func (t *txnState) owned() bool {
	return t.io.GetTid() == t.tid
}

// StartTxn starts recording register commands issued from the calling
// goroutine. The goroutine is wired to its OS thread until SubmitTxn or
// CancelTxn. Commands from other threads run immediately.
func (d *Device) StartTxn() error {
	b, err := d.backend()
	if err != nil {
		return err
	}
	lockOSThread()
	tid := b.GetTid()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.txn != nil {
		unlockOSThread()
		return fmt.Errorf("%w: transaction already started by thread %d", ErrInvalidArgs, d.txn.tid)
	}
	d.txn = &txnState{tid: tid, io: b}
	log.Debugf("Transaction started by thread %d", tid)
	return nil
}

// record appends cmd to the pending transaction if the caller owns it.
func (d *Device) record(b Backend, cmd TxnCmd) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.txn == nil || d.txn.tid != b.GetTid() {
		return false
	}
	d.txn.txn.Cmds = append(d.txn.txn.Cmds, cmd)
	return true
}

// takeTxn detaches the pending transaction owned by the caller.
func (d *Device) takeTxn() (Backend, *txnState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.io == nil {
		// Finish left the transaction to its owner to unwire.
		if t := d.txn; t != nil && t.owned() {
			d.txn = nil
			t.unlock()
		}
		return nil, nil, ErrFinished
	}
	if d.txn == nil {
		return nil, nil, fmt.Errorf("%w: no transaction started", ErrInvalidArgs)
	}
	if tid := d.io.GetTid(); tid != d.txn.tid {
		return nil, nil, fmt.Errorf("%w: transaction owned by thread %d, not %d", ErrInvalidArgs, d.txn.tid, tid)
	}
	t := d.txn
	d.txn = nil
	return d.io, t, nil
}

// SubmitTxn executes the recorded transaction. Backends implementing
// TxnSubmitter run it as one unit; others replay it command by command.
func (d *Device) SubmitTxn() error {
	b, t, err := d.takeTxn()
	if err != nil {
		return err
	}
	defer t.unlock()
	log.Debugf("Submitting transaction of %d commands", len(t.txn.Cmds))
	if s, ok := b.(TxnSubmitter); ok {
		return s.SubmitTxn(&t.txn)
	}
	return t.txn.Replay(b)
}

// CancelTxn drops the recorded transaction.
func (d *Device) CancelTxn() error {
	_, t, err := d.takeTxn()
	if err != nil {
		return err
	}
	t.unlock()
	return nil
}
