// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

import (
	"bytes"
	"fmt"
	"math"
)

// securityParameters is the msgSecurityParameters handling of one v3
// security model. marshal returns the content of the OCTET STRING wrapper
// and the offset of the authentication parameters within it, or -1 when the
// message is not signed by this layer.
type securityParameters interface {
	SafeString() string
	marshal() ([]byte, int, error)
	unmarshal(data []byte, base int) error
}

// usmSecurityParameters is UsmSecurityParameters of RFC 3414 section 2.4.
type usmSecurityParameters struct {
	EngineID   []byte
	Boots      uint32
	Time       uint32
	UserName   string
	AuthParams []byte
	PrivParams []byte

	// absolute offset of AuthParams in the received message
	authOffset int
}

var _ securityParameters = (*usmSecurityParameters)(nil)

func (sp *usmSecurityParameters) SafeString() string {
	return fmt.Sprintf("engine=%x boots=%d time=%d user=%q auth=%d bytes priv=%d bytes",
		sp.EngineID, sp.Boots, sp.Time, sp.UserName, len(sp.AuthParams), len(sp.PrivParams))
}

func (sp *usmSecurityParameters) marshal() ([]byte, int, error) {
	if len(sp.EngineID) > MaxEngineIDLen {
		return nil, -1, fmt.Errorf("engine ID too long: %d", len(sp.EngineID))
	}
	if sp.Boots > math.MaxInt32 || sp.Time > math.MaxInt32 {
		return nil, -1, fmt.Errorf("engine boots %d / time %d out of range", sp.Boots, sp.Time)
	}
	head := [][]byte{
		tlv(OctetString, sp.EngineID),
		tlv(Integer, marshalInt64(int64(sp.Boots))),
		tlv(Integer, marshalInt64(int64(sp.Time))),
		tlv(OctetString, []byte(sp.UserName)),
	}
	auth := tlv(OctetString, sp.AuthParams)
	priv := tlv(OctetString, sp.PrivParams)
	out := sequence(Sequence, append(head, auth, priv)...)

	if len(sp.AuthParams) == 0 {
		return out, -1, nil
	}
	offset := len(out) - len(priv) - len(auth) + (len(auth) - len(sp.AuthParams))
	return out, offset, nil
}

func (sp *usmSecurityParameters) unmarshal(data []byte, base int) error {
	r := &berReader{data: data, base: base}
	seq, err := r.enter(Sequence, "UsmSecurityParameters")
	if err != nil {
		return err
	}
	if !r.empty() {
		return fmt.Errorf("%d trailing bytes after UsmSecurityParameters", r.remaining())
	}
	if sp.EngineID, err = seq.readOctets("msgAuthoritativeEngineID"); err != nil {
		return err
	}
	if len(sp.EngineID) > MaxEngineIDLen {
		return fmt.Errorf("msgAuthoritativeEngineID too long: %d", len(sp.EngineID))
	}
	boots, err := seq.readInt("msgAuthoritativeEngineBoots")
	if err != nil {
		return err
	}
	engineTime, err := seq.readInt("msgAuthoritativeEngineTime")
	if err != nil {
		return err
	}
	if boots < 0 || boots > math.MaxInt32 || engineTime < 0 || engineTime > math.MaxInt32 {
		return fmt.Errorf("engine boots %d / time %d out of range", boots, engineTime)
	}
	sp.Boots, sp.Time = uint32(boots), uint32(engineTime)
	user, err := seq.readOctets("msgUserName")
	if err != nil {
		return err
	}
	sp.UserName = string(user)

	tag, auth, offset, err := seq.readTLV()
	if err != nil {
		return fmt.Errorf("msgAuthenticationParameters: %w", err)
	}
	if tag != OctetString {
		return fmt.Errorf("msgAuthenticationParameters: expected %s, got %s", OctetString, tag)
	}
	sp.AuthParams, sp.authOffset = auth, offset

	if sp.PrivParams, err = seq.readOctets("msgPrivacyParameters"); err != nil {
		return err
	}
	if !seq.empty() {
		return fmt.Errorf("%d trailing bytes in UsmSecurityParameters", seq.remaining())
	}
	return nil
}

// marshalV3 assembles an SNMPv3 message around the encoded PDU element:
//
//	SEQUENCE {
//	  msgVersion INTEGER (3)
//	  msgGlobalData SEQUENCE { msgID, msgMaxSize, msgFlags, msgSecurityModel }
//	  msgSecurityParameters OCTET STRING
//	  msgData  ScopedPDU | OCTET STRING (encrypted)
//	}
func (p *PDU) marshalV3(pdu []byte, sc *SecurityContext) ([]byte, error) {
	flags, err := sc.SecurityLevel()
	if err != nil {
		return nil, err
	}
	if sc.model == SecurityModelUSM && flags.auth() && !sc.keysValid() {
		return nil, errorf(CodeEngineID, "encode", "keys for user %q not localized to a known engine", sc.userName)
	}
	if p.Type.isConfirmed() {
		flags |= Reportable
	}

	contextEngineID := p.ContextEngineID
	if len(contextEngineID) == 0 {
		contextEngineID = sc.ContextEngineID
	}
	if len(contextEngineID) == 0 && sc.engine != nil {
		contextEngineID = sc.engine.ID
	}
	contextName := p.ContextName
	if contextName == "" {
		contextName = sc.ContextName
	}
	scoped := sequence(Sequence,
		tlv(OctetString, contextEngineID),
		tlv(OctetString, []byte(contextName)),
		pdu,
	)

	var sp securityParameters
	msgData := scoped
	switch sc.model {
	case SecurityModelUSM:
		usm := &usmSecurityParameters{UserName: sc.userName}
		if sc.engine != nil {
			usm.EngineID = sc.engine.ID
			usm.Boots = sc.engine.Boots
			usm.Time = sc.engine.AdjustedTime()
		}
		if flags.auth() {
			usm.AuthParams = make([]byte, sc.authMethod.digestLen())
		}
		if flags.priv() {
			ciphertext, salt, err := sc.encryptScopedPDU(scoped, usm.Boots, usm.Time)
			if err != nil {
				return nil, newError(CodeDecryption, "encrypt scoped PDU", err)
			}
			usm.PrivParams = salt
			msgData = tlv(OctetString, ciphertext)
		}
		sp = usm
	case SecurityModelTSM:
		sp = &tsmSecurityParameters{SecurityName: sc.userName}
	default:
		return nil, errorf(CodeParam, "encode", "security model %s cannot carry SNMPv3", sc.model)
	}

	params, authOffset, err := sp.marshal()
	if err != nil {
		return nil, newError(CodeParam, "encode security parameters", err)
	}
	maxSize := p.MsgMaxSize
	if maxSize == 0 {
		maxSize = defaultMaxSize
	}

	version := tlv(Integer, marshalInt64(int64(Version3)))
	global := sequence(Sequence,
		tlv(Integer, marshalInt64(int64(p.MsgID&0x7fffffff))),
		tlv(Integer, marshalInt64(int64(maxSize))),
		tlv(OctetString, []byte{byte(flags)}),
		tlv(Integer, marshalInt64(int64(sc.model))),
	)
	paramsTLV := tlv(OctetString, params)
	msg := sequence(Sequence, version, global, paramsTLV, msgData)

	if flags.auth() && authOffset >= 0 {
		body := len(version) + len(global) + len(paramsTLV) + len(msgData)
		offset := len(msg) - body + len(version) + len(global) + len(paramsTLV) - len(params) + authOffset
		if err := signMessage(sc.authMethod, sc.authKey, msg, offset); err != nil {
			return nil, newError(CodeAuthFailure, "sign", err)
		}
	}
	return msg, nil
}

func (sc *SecurityContext) encryptScopedPDU(scoped []byte, boots, engineTime uint32) ([]byte, []byte, error) {
	switch sc.privMethod {
	case PrivDES:
		return desEncrypt(sc.privKey, boots, sc.nextDESSalt(), scoped)
	case PrivAES:
		return aesEncrypt(sc.privKey, boots, engineTime, sc.nextAESSalt(), scoped)
	}
	return nil, nil, fmt.Errorf("no privacy method")
}

func (sc *SecurityContext) decryptScopedPDU(sp *usmSecurityParameters, ciphertext []byte) ([]byte, error) {
	switch sc.privMethod {
	case PrivDES:
		return desDecrypt(sc.privKey, sp.PrivParams, ciphertext)
	case PrivAES:
		return aesDecrypt(sc.privKey, sp.Boots, sp.Time, sp.PrivParams, ciphertext)
	}
	return nil, fmt.Errorf("no privacy method")
}

// unmarshalV3 decodes everything after msgVersion. data is the complete
// message, needed to verify the digest.
func (p *PDU) unmarshalV3(data []byte, msg *berReader, resolve SecurityResolver) error {
	global, err := msg.enter(Sequence, "msgGlobalData")
	if err != nil {
		return newError(CodeParse, "parse", err)
	}
	if err := p.unmarshalGlobalData(global); err != nil {
		return newError(CodeParse, "parse msgGlobalData", err)
	}

	tag, params, offset, err := msg.readTLV()
	if err != nil {
		return newError(CodeParse, "parse msgSecurityParameters", err)
	}
	if tag != OctetString {
		return errorf(CodeParse, "parse msgSecurityParameters", "expected %s, got %s", OctetString, tag)
	}
	switch p.SecurityModel {
	case SecurityModelUSM:
		usm := &usmSecurityParameters{}
		if err := usm.unmarshal(params, offset); err != nil {
			return newError(CodeParse, "parse msgSecurityParameters", err)
		}
		p.usm = usm
		p.UserName = usm.UserName
		if len(usm.EngineID) > 0 {
			p.AuthoritativeEngine = NewEngine(usm.EngineID, usm.Boots, usm.Time)
		}
	case SecurityModelTSM:
		tsm := &tsmSecurityParameters{}
		if err := tsm.unmarshal(params, offset); err != nil {
			return newError(CodeParse, "parse msgSecurityParameters", err)
		}
	default:
		return newError(CodeUnsupportedSecLevel, "parse", fmt.Errorf("%w: %d", ErrUnknownSecurityModels, p.SecurityModel))
	}

	flags := p.MsgFlags
	if flags.priv() && !flags.auth() {
		return newError(CodeUnsupportedSecLevel, "parse", fmt.Errorf("%w: %s", ErrUnknownSecurityLevel, flags))
	}

	// TSM messages are protected by the transport; only USM is checked here.
	var sc *SecurityContext
	if p.usm != nil && flags.auth() {
		if sc, err = p.authenticate(data, resolve); err != nil {
			return err
		}
	}

	if p.usm != nil && flags.priv() {
		ciphertext, err := msg.readOctets("encrypted scoped PDU")
		if err != nil {
			return newError(CodeParse, "parse", err)
		}
		if sc.privMethod == PrivNone {
			return newError(CodeUnsupportedSecLevel, "decrypt", fmt.Errorf("%w: user %q has no privacy", ErrUnknownSecurityLevel, sc.userName))
		}
		plaintext, err := sc.decryptScopedPDU(p.usm, ciphertext)
		if err != nil {
			return newError(CodeDecryption, "decrypt", fmt.Errorf("%w: %w", ErrDecryption, err))
		}
		scoped := newBERReader(plaintext)
		if err := p.unmarshalScopedPDU(scoped); err != nil {
			return newError(CodeDecryption, "decrypt", fmt.Errorf("%w: %w", ErrDecryption, err))
		}
		// CBC-DES pads to the block size
		if rem := scoped.remaining(); rem > 0 && (sc.privMethod != PrivDES || rem >= 8) {
			return newError(CodeDecryption, "decrypt", fmt.Errorf("%w: %d trailing bytes", ErrDecryption, rem))
		}
	} else if err := p.unmarshalScopedPDU(msg); err != nil {
		return err
	}

	if !msg.empty() {
		return errorf(CodeParse, "parse", "%d trailing bytes after scoped PDU", msg.remaining())
	}
	return nil
}

func (p *PDU) unmarshalGlobalData(r *berReader) error {
	msgID, err := r.readInt("msgID")
	if err != nil {
		return err
	}
	maxSize, err := r.readInt("msgMaxSize")
	if err != nil {
		return err
	}
	if msgID < 0 || msgID > math.MaxInt32 || maxSize < 0 || maxSize > math.MaxInt32 {
		return fmt.Errorf("msgID %d / msgMaxSize %d out of range", msgID, maxSize)
	}
	flags, err := r.readOctets("msgFlags")
	if err != nil {
		return err
	}
	if len(flags) != 1 {
		return fmt.Errorf("msgFlags must be one octet, got %d", len(flags))
	}
	model, err := r.readInt("msgSecurityModel")
	if err != nil {
		return err
	}
	if model < 1 || model > math.MaxInt32 {
		return fmt.Errorf("msgSecurityModel %d out of range", model)
	}
	if !r.empty() {
		return fmt.Errorf("%d trailing bytes in msgGlobalData", r.remaining())
	}
	p.MsgID = uint32(msgID)
	p.MsgMaxSize = uint32(maxSize)
	p.MsgFlags = SnmpV3MsgFlags(flags[0])
	p.SecurityModel = SecurityModel(min(model, 255))
	return nil
}

// authenticate resolves the user's context and checks the digest.
func (p *PDU) authenticate(data []byte, resolve SecurityResolver) (*SecurityContext, error) {
	var sc *SecurityContext
	if resolve != nil {
		sc = resolve(p.usm.UserName, p.AuthoritativeEngine)
	}
	if sc == nil || sc.model != SecurityModelUSM || sc.userName != p.usm.UserName {
		return nil, newError(CodeSecName, "authenticate", fmt.Errorf("%w: %q", ErrUnknownUsername, p.usm.UserName))
	}
	if sc.authMethod == AuthNone {
		return nil, newError(CodeUnsupportedSecLevel, "authenticate", fmt.Errorf("%w: user %q has no authentication", ErrUnknownSecurityLevel, sc.userName))
	}
	if !sc.keysValid() || !bytes.Equal(sc.engine.ID, p.usm.EngineID) {
		return nil, newError(CodeEngineID, "authenticate", fmt.Errorf("%w: %x", ErrUnknownEngineID, p.usm.EngineID))
	}
	if !verifyMessage(sc.authMethod, sc.authKey, data, p.usm.authOffset, len(p.usm.AuthParams)) {
		return nil, newError(CodeAuthFailure, "authenticate", ErrWrongDigest)
	}
	return sc, nil
}

// unmarshalScopedPDU reads ScopedPDU { contextEngineID, contextName, PDU }.
func (p *PDU) unmarshalScopedPDU(r *berReader) error {
	scoped, err := r.enter(Sequence, "ScopedPDU")
	if err != nil {
		return newError(CodeParse, "parse", err)
	}
	contextEngineID, err := scoped.readOctets("contextEngineID")
	if err != nil {
		return newError(CodeParse, "parse", err)
	}
	contextName, err := scoped.readOctets("contextName")
	if err != nil {
		return newError(CodeParse, "parse", err)
	}
	p.ContextEngineID = append([]byte{}, contextEngineID...)
	p.ContextName = string(contextName)
	if err := p.unmarshalPDU(scoped); err != nil {
		return err
	}
	if !scoped.empty() {
		return errorf(CodeParse, "parse", "%d trailing bytes in ScopedPDU", scoped.remaining())
	}
	return nil
}
