// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"
)

// MaxEngineIDLen bounds authoritative engine IDs accepted from the wire.
// RFC 3411 allows 5 to 32 octets; some agents exceed that, so be lenient.
const MaxEngineIDLen = 256

// Engine is the identity of an authoritative SNMPv3 engine as learned by
// discovery. timeDiff is the local clock minus the remote engineTime when
// the time was captured, so the current remote time can be extrapolated
// without asking the agent again.
type Engine struct {
	ID    []byte
	Boots uint32
	Time  uint32

	timeDiff time.Duration
	now      func() time.Time
}

// NewEngine records an engine as seen now.
func NewEngine(id []byte, boots, engineTime uint32) *Engine {
	e := &Engine{ID: append([]byte{}, id...)}
	e.SetTime(boots, engineTime)
	return e
}

func (e *Engine) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// SetTime re-captures boots and time, resetting the time difference.
func (e *Engine) SetTime(boots, engineTime uint32) {
	e.Boots = boots
	e.Time = engineTime
	e.timeDiff = time.Duration(e.clock().Unix()-int64(engineTime)) * time.Second
}

// AdjustedTime is the extrapolated current engineTime of the remote engine.
func (e *Engine) AdjustedTime() uint32 {
	if e == nil {
		return 0
	}
	t := e.clock().Unix() - int64(e.timeDiff/time.Second)
	if t < 0 {
		return 0
	}
	// engineTime is a 31 bit counter (RFC 3414 section 2.2.1)
	if t > 2147483647 {
		return 2147483647
	}
	return uint32(t)
}

// Known reports whether discovery has filled in the engine ID.
func (e *Engine) Known() bool {
	return e != nil && len(e.ID) > 0
}

// Equal compares engine IDs.
func (e *Engine) Equal(other *Engine) bool {
	if e == nil || other == nil {
		return e == other
	}
	return bytes.Equal(e.ID, other.ID)
}

func (e *Engine) Clone() *Engine {
	if e == nil {
		return nil
	}
	c := *e
	c.ID = append([]byte{}, e.ID...)
	return &c
}

func (e *Engine) String() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("id=%s boots=%d time=%d", hex.EncodeToString(e.ID), e.Boots, e.AdjustedTime())
}
