// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmp

import (
	"encoding/hex"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEngineID = []byte{0x80, 0x00, 0x1f, 0x88, 0x80, 0x12, 0x34, 0x56, 0x78}

func TestSecurityLevel(t *testing.T) {
	tests := []struct {
		name    string
		sc      *SecurityContext
		want    SnmpV3MsgFlags
		wantErr bool
	}{
		{"v1", NewCommunityContext(SecurityModelV1, "public"), NoAuthNoPriv, false},
		{"v2c", NewCommunityContext(SecurityModelV2C, "public"), NoAuthNoPriv, false},
		{"noAuthNoPriv", NewUSMContext("u", AuthNone, "", PrivNone, ""), NoAuthNoPriv, false},
		{"authNoPriv", NewUSMContext("u", AuthSHA256, "authpass", PrivNone, ""), AuthNoPriv, false},
		{"authPriv", NewUSMContext("u", AuthSHA1, "authpass", PrivAES, "privpass"), AuthPriv, false},
		{"privWithoutAuth", NewUSMContext("u", AuthNone, "", PrivDES, "privpass"), 0, true},
		{"tsm", NewTSMContext("operator"), AuthPriv, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.sc.SecurityLevel()
			if tt.wantErr {
				assert.Equal(t, CodeUnsupportedSecLevel, CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSecurityContextVersion(t *testing.T) {
	assert.Equal(t, Version1, NewCommunityContext(SecurityModelV1, "c").Version())
	assert.Equal(t, Version2c, NewCommunityContext(SecurityModelV2C, "c").Version())
	assert.Equal(t, Version2c, NewCommunityContext(SecurityModelUSM, "c").Version(), "community contexts are v1 or v2c")
	assert.Equal(t, Version3, NewUSMContext("u", AuthNone, "", PrivNone, "").Version())
	assert.Equal(t, Version3, NewTSMContext("n").Version())
}

func TestRecalculateKeys(t *testing.T) {
	sc := NewUSMContext("user", AuthMD5, "maplesyrup", PrivDES, "maplesyrup")
	require.NoError(t, sc.RecalculateKeys())
	assert.False(t, sc.keysValid(), "no keys before the engine is known")

	engineID := []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2}
	require.NoError(t, sc.SetAuthoritativeEngine(NewEngine(engineID, 1, 100)))
	assert.True(t, sc.keysValid())
	assert.Equal(t, "526f5eed9fcce26f8964c2930787d82b", hex.EncodeToString(sc.authKey))
	assert.Equal(t, sc.authKey, sc.privKey, "same password and hash give the same key")

	// A new engine ID relocalizes.
	before := append([]byte{}, sc.authKey...)
	require.NoError(t, sc.updateEngine(testEngineID, 1, 100))
	assert.NotEqual(t, before, sc.authKey)
	assert.Equal(t, testEngineID, sc.keysEngineID)

	// Same engine, new time: keys kept.
	keys := sc.authKey
	require.NoError(t, sc.updateEngine(testEngineID, 2, 5))
	assert.Equal(t, keys, sc.authKey)
	assert.EqualValues(t, 2, sc.AuthoritativeEngine().Boots)

	require.NoError(t, sc.SetPrivPassword("another"))
	assert.NotEqual(t, sc.authKey, sc.privKey)

	assert.Equal(t, CodeParam, CodeOf(sc.SetAuthPassword("")))
}

func TestSecurityContextClone(t *testing.T) {
	sc := NewUSMContext("user", AuthSHA1, "authpass", PrivAES, "privpass")
	sc.ContextEngineID = []byte{1, 2, 3}
	require.NoError(t, sc.SetAuthoritativeEngine(NewEngine(testEngineID, 1, 1)))

	c := sc.Clone()
	c.authKey[0] ^= 0xff
	c.engine.ID[0] ^= 0xff
	c.ContextEngineID[0] = 9
	assert.True(t, sc.keysValid())
	assert.Equal(t, testEngineID, sc.engine.ID)
	assert.Equal(t, []byte{1, 2, 3}, sc.ContextEngineID)
	assert.Equal(t, sc.userName, c.userName)
}

func TestSafeStringHidesSecrets(t *testing.T) {
	sc := NewUSMContext("poller", AuthSHA256, "s3cr3t-auth", PrivAES, "s3cr3t-priv")
	require.NoError(t, sc.SetAuthoritativeEngine(NewEngine(testEngineID, 1, 1)))
	s := sc.SafeString()
	assert.Contains(t, s, "poller")
	assert.Contains(t, s, "SHA256")
	assert.NotContains(t, s, "s3cr3t")

	community := NewCommunityContext(SecurityModelV2C, "private-community")
	assert.NotContains(t, community.SafeString(), "private-community")
}

func TestSaltCountersAdvance(t *testing.T) {
	sc := NewUSMContext("u", AuthMD5, "authpass", PrivDES, "privpass")
	var wg sync.WaitGroup
	seen := make(chan uint64, 200)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				seen <- sc.nextAESSalt()
			}
		}()
	}
	wg.Wait()
	close(seen)
	unique := make(map[uint64]bool)
	for s := range seen {
		unique[s] = true
	}
	assert.Len(t, unique, 200, "salts never repeat")
}

func TestUserResolver(t *testing.T) {
	users := map[string]*SecurityContext{
		"alice": NewUSMContext("alice", AuthSHA1, "alicepass", PrivNone, ""),
		"bob":   NewUSMContext("bob", AuthMD5, "bobpass", PrivDES, "bobpriv"),
		"tsm":   NewTSMContext("tsm"),
	}
	resolve := NewUserResolver(users, Logger{})
	engine := NewEngine(testEngineID, 3, 1000)

	alice := resolve("alice", engine)
	require.NotNil(t, alice)
	assert.True(t, alice.keysValid())
	assert.Equal(t, testEngineID, alice.AuthoritativeEngine().ID)
	assert.Same(t, alice, resolve("alice", engine), "localized contexts are cached")
	assert.Nil(t, users["alice"].AuthoritativeEngine(), "configured context is left alone")

	other := resolve("alice", NewEngine([]byte{1, 2, 3, 4, 5}, 1, 1))
	require.NotNil(t, other)
	assert.NotSame(t, alice, other)
	assert.NotEqual(t, alice.authKey, other.authKey)

	assert.Nil(t, resolve("mallory", engine))
	assert.Nil(t, resolve("tsm", engine))
	assert.Nil(t, resolve("alice", nil))
	assert.Nil(t, resolve("alice", &Engine{}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotNil(t, resolve("bob", engine))
		}()
	}
	wg.Wait()
}

func TestSnmpV3MsgFlagsString(t *testing.T) {
	assert.Equal(t, "noAuthNoPriv", NoAuthNoPriv.String())
	assert.Equal(t, "authNoPriv|reportable", (AuthNoPriv | Reportable).String())
	assert.Equal(t, "authPriv", AuthPriv.String())
	assert.Equal(t, "privWithoutAuth", SnmpV3MsgFlags(0x2).String())
}

func BenchmarkSafeString(b *testing.B) {
	sc := NewUSMContext("poller", AuthSHA256, "authpass", PrivAES, "privpass")
	if err := sc.SetAuthoritativeEngine(NewEngine(testEngineID, 1, 1)); err != nil {
		b.Fatal(err)
	}
	p := &PDU{Version: Version3, Type: GetRequest, MsgID: 7, UserName: "poller",
		AuthoritativeEngine: sc.AuthoritativeEngine(), Variables: nullVariables([]OID{sysDescr0})}

	b.Run("SecurityContext", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_ = sc.SafeString()
		}
	})
	b.Run("PDU", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_ = p.String()
		}
	})
}
