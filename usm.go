// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des" //nolint:gosec
	"crypto/hmac"
	"crypto/md5"  //nolint:gosec
	"crypto/sha1" //nolint:gosec
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"strings"
	"sync"
)

//
// User-based Security Model primitives, RFC 3414 and RFC 3826 (AES), RFC 7860
// (HMAC-SHA-2). Everything here is stateless apart from the password cache;
// SecurityContext owns the keys and counters.
//

// AuthMethod is the USM authentication protocol.
type AuthMethod uint8

const (
	AuthNone AuthMethod = iota
	AuthMD5
	AuthSHA1
	AuthSHA224
	AuthSHA256
	AuthSHA384
	AuthSHA512
)

func (a AuthMethod) String() string {
	switch a {
	case AuthNone:
		return "NONE"
	case AuthMD5:
		return "MD5"
	case AuthSHA1:
		return "SHA1"
	case AuthSHA224:
		return "SHA224"
	case AuthSHA256:
		return "SHA256"
	case AuthSHA384:
		return "SHA384"
	case AuthSHA512:
		return "SHA512"
	}
	return fmt.Sprintf("AuthMethod(%d)", uint8(a))
}

func (a AuthMethod) newHash() (func() hash.Hash, error) {
	switch a {
	case AuthMD5:
		return md5.New, nil
	case AuthSHA1:
		return sha1.New, nil
	case AuthSHA224:
		return sha256.New224, nil
	case AuthSHA256:
		return sha256.New, nil
	case AuthSHA384:
		return sha512.New384, nil
	case AuthSHA512:
		return sha512.New, nil
	}
	return nil, fmt.Errorf("no hash for authentication method %s", a)
}

// digestLen is the truncated HMAC length carried in msgAuthenticationParameters.
func (a AuthMethod) digestLen() int {
	switch a {
	case AuthMD5, AuthSHA1:
		return 12
	case AuthSHA224:
		return 16
	case AuthSHA256:
		return 24
	case AuthSHA384:
		return 32
	case AuthSHA512:
		return 48
	}
	return 0
}

// PrivMethod is the USM privacy protocol.
type PrivMethod uint8

const (
	PrivNone PrivMethod = iota
	PrivDES
	PrivAES
)

func (p PrivMethod) String() string {
	switch p {
	case PrivNone:
		return "NONE"
	case PrivDES:
		return "DES"
	case PrivAES:
		return "AES"
	}
	return fmt.Sprintf("PrivMethod(%d)", uint8(p))
}

// ParseAuthMethod accepts the names printed by AuthMethod.String, case
// insensitively, plus "SHA" for SHA1. An empty name is AuthNone.
func ParseAuthMethod(name string) (AuthMethod, error) {
	switch strings.ToUpper(strings.ReplaceAll(name, "-", "")) {
	case "", "NONE":
		return AuthNone, nil
	case "MD5":
		return AuthMD5, nil
	case "SHA", "SHA1":
		return AuthSHA1, nil
	case "SHA224":
		return AuthSHA224, nil
	case "SHA256":
		return AuthSHA256, nil
	case "SHA384":
		return AuthSHA384, nil
	case "SHA512":
		return AuthSHA512, nil
	}
	return AuthNone, errorf(CodeParam, "auth method", "unknown authentication method %q", name)
}

// ParsePrivMethod accepts DES, AES or AES128, case insensitively. An empty
// name is PrivNone.
func ParsePrivMethod(name string) (PrivMethod, error) {
	switch strings.ToUpper(strings.ReplaceAll(name, "-", "")) {
	case "", "NONE":
		return PrivNone, nil
	case "DES":
		return PrivDES, nil
	case "AES", "AES128":
		return PrivAES, nil
	}
	return PrivNone, errorf(CodeParam, "priv method", "unknown privacy method %q", name)
}

// passwordKeys caches the expensive password-to-key step. Localization is
// cheap and redone for every engine.
var passwordKeys = struct {
	sync.Mutex
	m map[string][]byte
}{m: make(map[string][]byte)}

// passwordToKey is RFC 3414 A.2: hash one megabyte of the repeated password.
func passwordToKey(method AuthMethod, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("empty password")
	}
	newHash, err := method.newHash()
	if err != nil {
		return nil, err
	}

	cacheKey := string([]byte{byte(method)}) + password
	passwordKeys.Lock()
	cached, ok := passwordKeys.m[cacheKey]
	passwordKeys.Unlock()
	if ok {
		return cached, nil
	}

	h := newHash()
	block := make([]byte, 64)
	pwd := []byte(password)
	index := 0
	for count := 0; count < 1048576; count += 64 {
		for i := range block {
			block[i] = pwd[index%len(pwd)]
			index++
		}
		h.Write(block)
	}
	ku := h.Sum(nil)

	passwordKeys.Lock()
	passwordKeys.m[cacheKey] = ku
	passwordKeys.Unlock()
	return ku, nil
}

// localizeKey binds a password key to an engine: H(Ku || engineID || Ku).
func localizeKey(method AuthMethod, ku, engineID []byte) ([]byte, error) {
	newHash, err := method.newHash()
	if err != nil {
		return nil, err
	}
	h := newHash()
	h.Write(ku)
	h.Write(engineID)
	h.Write(ku)
	return h.Sum(nil), nil
}

// localizedKey derives the key for password at engineID.
func localizedKey(method AuthMethod, password string, engineID []byte) ([]byte, error) {
	ku, err := passwordToKey(method, password)
	if err != nil {
		return nil, err
	}
	return localizeKey(method, ku, engineID)
}

// computeDigest returns the truncated HMAC of msg.
func computeDigest(method AuthMethod, key, msg []byte) ([]byte, error) {
	newHash, err := method.newHash()
	if err != nil {
		return nil, err
	}
	mac := hmac.New(newHash, key)
	mac.Write(msg)
	return mac.Sum(nil)[:method.digestLen()], nil
}

// signMessage computes the digest over msg, whose authentication parameters
// at msg[offset:offset+digestLen] must still be zero, and splices it in.
func signMessage(method AuthMethod, key, msg []byte, offset int) error {
	n := method.digestLen()
	if n == 0 {
		return fmt.Errorf("cannot sign with %s", method)
	}
	if offset < 0 || offset+n > len(msg) {
		return fmt.Errorf("authentication parameters at %d out of range", offset)
	}
	digest, err := computeDigest(method, key, msg)
	if err != nil {
		return err
	}
	copy(msg[offset:], digest)
	return nil
}

// verifyMessage recomputes the digest of msg with the authentication
// parameters zeroed and compares it with the received value. msg itself is
// not modified.
func verifyMessage(method AuthMethod, key, msg []byte, offset, length int) bool {
	n := method.digestLen()
	if n == 0 || length != n || offset < 0 || offset+n > len(msg) {
		return false
	}
	received := append([]byte{}, msg[offset:offset+n]...)
	work := append([]byte{}, msg...)
	clear(work[offset : offset+n])
	digest, err := computeDigest(method, key, work)
	if err != nil {
		return false
	}
	return hmac.Equal(digest, received)
}

// -- privacy ------------------------------------------------------------------

// desEncrypt is CBC-DES per RFC 3414 8.1.1.1. The salt (privacy parameters)
// is boots followed by a local counter; the IV is the pre-IV (key octets
// 8..15) XOR salt. Plaintext is zero padded to the block size.
func desEncrypt(key []byte, boots, counter uint32, plaintext []byte) (ciphertext, salt []byte, err error) {
	if len(key) < 16 {
		return nil, nil, fmt.Errorf("DES privacy key too short: %d", len(key))
	}
	salt = make([]byte, 8)
	binary.BigEndian.PutUint32(salt, boots)
	binary.BigEndian.PutUint32(salt[4:], counter)

	block, err := des.NewCipher(key[:8]) //nolint:gosec
	if err != nil {
		return nil, nil, err
	}
	iv := make([]byte, 8)
	for i := range iv {
		iv[i] = key[8+i] ^ salt[i]
	}

	padded := plaintext
	if rem := len(plaintext) % des.BlockSize; rem != 0 {
		padded = make([]byte, len(plaintext)+des.BlockSize-rem)
		copy(padded, plaintext)
	}
	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return ciphertext, salt, nil
}

func desDecrypt(key, salt, ciphertext []byte) ([]byte, error) {
	if len(key) < 16 {
		return nil, fmt.Errorf("DES privacy key too short: %d", len(key))
	}
	if len(salt) != 8 {
		return nil, fmt.Errorf("DES privacy parameters must be 8 bytes, got %d", len(salt))
	}
	if len(ciphertext) == 0 || len(ciphertext)%des.BlockSize != 0 {
		return nil, fmt.Errorf("DES ciphertext length %d not a multiple of %d", len(ciphertext), des.BlockSize)
	}
	block, err := des.NewCipher(key[:8]) //nolint:gosec
	if err != nil {
		return nil, err
	}
	iv := make([]byte, 8)
	for i := range iv {
		iv[i] = key[8+i] ^ salt[i]
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return plaintext, nil
}

// aesIV is boots || time || salt (RFC 3826 3.1.2.1).
func aesIV(boots, engineTime uint32, salt []byte) []byte {
	iv := make([]byte, aes.BlockSize)
	binary.BigEndian.PutUint32(iv, boots)
	binary.BigEndian.PutUint32(iv[4:], engineTime)
	copy(iv[8:], salt)
	return iv
}

// aesEncrypt is AES-128-CFB per RFC 3826; no padding.
func aesEncrypt(key []byte, boots, engineTime uint32, counter uint64, plaintext []byte) (ciphertext, salt []byte, err error) {
	if len(key) < 16 {
		return nil, nil, fmt.Errorf("AES privacy key too short: %d", len(key))
	}
	salt = make([]byte, 8)
	binary.BigEndian.PutUint64(salt, counter)
	block, err := aes.NewCipher(key[:16])
	if err != nil {
		return nil, nil, err
	}
	ciphertext = make([]byte, len(plaintext))
	cipher.NewCFBEncrypter(block, aesIV(boots, engineTime, salt)).XORKeyStream(ciphertext, plaintext) //nolint:staticcheck
	return ciphertext, salt, nil
}

func aesDecrypt(key []byte, boots, engineTime uint32, salt, ciphertext []byte) ([]byte, error) {
	if len(key) < 16 {
		return nil, fmt.Errorf("AES privacy key too short: %d", len(key))
	}
	if len(salt) != 8 {
		return nil, fmt.Errorf("AES privacy parameters must be 8 bytes, got %d", len(salt))
	}
	block, err := aes.NewCipher(key[:16])
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCFBDecrypter(block, aesIV(boots, engineTime, salt)).XORKeyStream(plaintext, ciphertext) //nolint:staticcheck
	return plaintext, nil
}
