// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
)

// SecurityModel identifies how a message is secured (RFC 3411
// SnmpSecurityModel). V1 and V2C are community based.
type SecurityModel uint8

const (
	SecurityModelV1  SecurityModel = 1
	SecurityModelV2C SecurityModel = 2
	SecurityModelUSM SecurityModel = 3
	SecurityModelTSM SecurityModel = 4
)

func (m SecurityModel) String() string {
	switch m {
	case SecurityModelV1:
		return "v1"
	case SecurityModelV2C:
		return "v2c"
	case SecurityModelUSM:
		return "USM"
	case SecurityModelTSM:
		return "TSM"
	}
	return fmt.Sprintf("SecurityModel(%d)", uint8(m))
}

// SnmpV3MsgFlags contains various message flags to describe Authentication,
// Privacy, and whether a report PDU must be sent.
type SnmpV3MsgFlags uint8

// Possible values of SnmpV3MsgFlags
const (
	NoAuthNoPriv SnmpV3MsgFlags = 0x0 // No authentication, and no privacy
	AuthNoPriv   SnmpV3MsgFlags = 0x1 // Authentication and no privacy
	AuthPriv     SnmpV3MsgFlags = 0x3 // Authentication and privacy
	Reportable   SnmpV3MsgFlags = 0x4 // Report PDU must be sent.
)

func (f SnmpV3MsgFlags) auth() bool { return f&AuthNoPriv != 0 }
func (f SnmpV3MsgFlags) priv() bool { return f&0x2 != 0 }

func (f SnmpV3MsgFlags) String() string {
	level := "noAuthNoPriv"
	switch {
	case f.priv() && f.auth():
		level = "authPriv"
	case f.priv():
		level = "privWithoutAuth"
	case f.auth():
		level = "authNoPriv"
	}
	if f&Reportable != 0 {
		level += "|reportable"
	}
	return level
}

// SecurityContext holds the credentials used to secure requests to one
// target: a community for v1/v2c, or a USM user with its passwords, the
// authoritative engine learned by discovery and the keys localized to that
// engine. A context caches engine state, so it must not be shared between
// targets; use Clone. It is not safe for concurrent use.
type SecurityContext struct {
	model     SecurityModel
	community string

	userName     string
	authMethod   AuthMethod
	authPassword string
	privMethod   PrivMethod
	privPassword string

	engine       *Engine
	authKey      []byte
	privKey      []byte
	keysEngineID []byte

	// ContextName and ContextEngineID go into the scoped PDU of v3
	// requests. An empty ContextEngineID defaults to the authoritative
	// engine ID.
	ContextName     string
	ContextEngineID []byte

	desCounter uint32
	aesCounter uint64
}

// NewCommunityContext returns a v1 or v2c context.
func NewCommunityContext(model SecurityModel, community string) *SecurityContext {
	if model != SecurityModelV1 {
		model = SecurityModelV2C
	}
	return &SecurityContext{model: model, community: community}
}

// NewUSMContext returns a v3 context for a USM user. Keys are derived once
// the authoritative engine is known (SetAuthoritativeEngine or discovery).
func NewUSMContext(user string, authMethod AuthMethod, authPassword string,
	privMethod PrivMethod, privPassword string) *SecurityContext {
	return &SecurityContext{
		model:        SecurityModelUSM,
		userName:     user,
		authMethod:   authMethod,
		authPassword: authPassword,
		privMethod:   privMethod,
		privPassword: privPassword,
		desCounter:   rand.Uint32(),
		aesCounter:   rand.Uint64(),
	}
}

// NewTSMContext returns a v3 context for the Transport Security Model. The
// transport (DTLS) authenticates and encrypts; securityName is informative.
func NewTSMContext(securityName string) *SecurityContext {
	return &SecurityContext{model: SecurityModelTSM, userName: securityName}
}

func (sc *SecurityContext) Model() SecurityModel { return sc.model }

// Version is the message version implied by the security model.
func (sc *SecurityContext) Version() SnmpVersion {
	switch sc.model {
	case SecurityModelV1:
		return Version1
	case SecurityModelV2C:
		return Version2c
	}
	return Version3
}

func (sc *SecurityContext) Community() string { return sc.community }

func (sc *SecurityContext) SetCommunity(community string) { sc.community = community }

// UserName is the USM user, or the TSM security name.
func (sc *SecurityContext) UserName() string { return sc.userName }

func (sc *SecurityContext) AuthMethod() AuthMethod { return sc.authMethod }

func (sc *SecurityContext) PrivMethod() PrivMethod { return sc.privMethod }

// AuthoritativeEngine returns the cached engine, nil before discovery.
func (sc *SecurityContext) AuthoritativeEngine() *Engine { return sc.engine }

// SetAuthoritativeEngine binds the context to an engine and re-derives keys.
func (sc *SecurityContext) SetAuthoritativeEngine(e *Engine) error {
	sc.engine = e.Clone()
	return sc.RecalculateKeys()
}

// updateEngine adopts engine parameters carried by a received message. Keys
// are re-derived only if the engine ID changed.
func (sc *SecurityContext) updateEngine(id []byte, boots, engineTime uint32) error {
	if sc.engine != nil && bytes.Equal(sc.engine.ID, id) {
		sc.engine.SetTime(boots, engineTime)
		if sc.keysValid() {
			return nil
		}
		return sc.RecalculateKeys()
	}
	return sc.SetAuthoritativeEngine(NewEngine(id, boots, engineTime))
}

func (sc *SecurityContext) SetAuthPassword(password string) error {
	sc.authPassword = password
	return sc.RecalculateKeys()
}

func (sc *SecurityContext) SetPrivPassword(password string) error {
	sc.privPassword = password
	return sc.RecalculateKeys()
}

func (sc *SecurityContext) SetAuthMethod(m AuthMethod) error {
	sc.authMethod = m
	return sc.RecalculateKeys()
}

func (sc *SecurityContext) SetPrivMethod(m PrivMethod) error {
	sc.privMethod = m
	return sc.RecalculateKeys()
}

// SecurityLevel returns the msgFlags security bits for this context.
func (sc *SecurityContext) SecurityLevel() (SnmpV3MsgFlags, error) {
	switch sc.model {
	case SecurityModelTSM:
		return AuthPriv, nil
	case SecurityModelUSM:
	default:
		return NoAuthNoPriv, nil
	}
	switch {
	case sc.privMethod != PrivNone && sc.authMethod == AuthNone:
		return 0, errorf(CodeUnsupportedSecLevel, "security level", "privacy %s requires authentication", sc.privMethod)
	case sc.privMethod != PrivNone:
		return AuthPriv, nil
	case sc.authMethod != AuthNone:
		return AuthNoPriv, nil
	}
	return NoAuthNoPriv, nil
}

// RecalculateKeys derives the authentication and privacy keys localized to
// the current authoritative engine. Without a known engine the keys are
// cleared; they are never kept across an engine change.
func (sc *SecurityContext) RecalculateKeys() error {
	sc.authKey, sc.privKey, sc.keysEngineID = nil, nil, nil
	if sc.model != SecurityModelUSM || !sc.engine.Known() {
		return nil
	}
	if _, err := sc.SecurityLevel(); err != nil {
		return err
	}
	id := sc.engine.ID
	if sc.authMethod != AuthNone {
		key, err := localizedKey(sc.authMethod, sc.authPassword, id)
		if err != nil {
			return newError(CodeParam, "authentication key", err)
		}
		sc.authKey = key
	}
	if sc.privMethod != PrivNone {
		key, err := localizedKey(sc.authMethod, sc.privPassword, id)
		if err != nil {
			sc.authKey = nil
			return newError(CodeParam, "privacy key", err)
		}
		sc.privKey = key
	}
	sc.keysEngineID = append([]byte{}, id...)
	return nil
}

// keysValid reports whether keys are localized to the current engine.
func (sc *SecurityContext) keysValid() bool {
	if !sc.engine.Known() || !bytes.Equal(sc.keysEngineID, sc.engine.ID) {
		return false
	}
	if sc.authMethod != AuthNone && sc.authKey == nil {
		return false
	}
	return sc.privMethod == PrivNone || sc.privKey != nil
}

// Clone returns an independent copy, including engine state and keys.
func (sc *SecurityContext) Clone() *SecurityContext {
	c := *sc
	c.engine = sc.engine.Clone()
	c.authKey = append([]byte(nil), sc.authKey...)
	c.privKey = append([]byte(nil), sc.privKey...)
	c.keysEngineID = append([]byte(nil), sc.keysEngineID...)
	c.ContextEngineID = append([]byte(nil), sc.ContextEngineID...)
	return &c
}

func (sc *SecurityContext) nextDESSalt() uint32 {
	return atomic.AddUint32(&sc.desCounter, 1)
}

func (sc *SecurityContext) nextAESSalt() uint64 {
	return atomic.AddUint64(&sc.aesCounter, 1)
}

// SafeString describes the context without secrets.
func (sc *SecurityContext) SafeString() string {
	switch sc.model {
	case SecurityModelV1, SecurityModelV2C:
		return fmt.Sprintf("model=%s", sc.model)
	}
	return fmt.Sprintf("model=%s user=%s auth=%s priv=%s engine=%s",
		sc.model, sc.userName, sc.authMethod, sc.privMethod, sc.engine)
}

// NewUserResolver returns a SecurityResolver over a fixed set of USM users.
// Each user's context is cloned and localized to an engine the first time a
// message from that engine is seen; the localized contexts are cached and
// never mutated afterwards, apart from their atomic salt counters, so the
// resolver is safe for concurrent use.
func NewUserResolver(users map[string]*SecurityContext, logger Logger) SecurityResolver {
	var mu sync.Mutex
	localized := make(map[string]*SecurityContext)

	return func(user string, engine *Engine) *SecurityContext {
		if !engine.Known() {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()

		base, ok := users[user]
		if !ok || base.Model() != SecurityModelUSM {
			return nil
		}
		key := user + "\x00" + string(engine.ID)
		if sc, ok := localized[key]; ok {
			return sc
		}
		sc := base.Clone()
		if err := sc.SetAuthoritativeEngine(engine); err != nil {
			logger.Printf("localize keys for %q: %s", user, err)
			return nil
		}
		localized[key] = sc
		return sc
	}
}
