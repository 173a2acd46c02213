// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nxpoll/snmp"
)

// Target is one agent, as configured in a profile file or on the command
// line.
type Target struct {
	Host         string        `yaml:"host"`
	Port         uint16        `yaml:"port"`
	Transport    string        `yaml:"transport"` // udp or dtls
	Version      string        `yaml:"version"`   // 1, 2c or 3
	Community    string        `yaml:"community"`
	User         string        `yaml:"user"`
	Auth         string        `yaml:"auth"`
	AuthPassword string        `yaml:"auth-password"`
	Priv         string        `yaml:"priv"`
	PrivPassword string        `yaml:"priv-password"`
	Context      string        `yaml:"context"`
	Timeout      time.Duration `yaml:"timeout"`
	Retries      *int          `yaml:"retries"`
}

// User is a v3 USM user accepted by the trap receiver.
type User struct {
	Name         string `yaml:"name"`
	Auth         string `yaml:"auth"`
	AuthPassword string `yaml:"auth-password"`
	Priv         string `yaml:"priv"`
	PrivPassword string `yaml:"priv-password"`
}

// Profile is the YAML file given with --profile:
//
//	targets:
//	  core:
//	    host: 192.0.2.1
//	    version: "3"
//	    user: poller
//	    auth: SHA256
//	    auth-password: secret-auth
//	    priv: AES
//	    priv-password: secret-priv
//	    timeout: 2s
//	    retries: 2
//	users:
//	  - name: poller
//	    auth: SHA256
//	    auth-password: secret-auth
type Profile struct {
	Targets map[string]Target `yaml:"targets"`
	Users   []User            `yaml:"users"`
}

func loadProfile(path string) (*Profile, error) {
	if path == "" {
		return &Profile{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	var p Profile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	return &p, nil
}

// merge overlays the non-zero fields of o onto t.
func (t Target) merge(o Target) Target {
	if o.Host != "" {
		t.Host = o.Host
	}
	if o.Port != 0 {
		t.Port = o.Port
	}
	if o.Transport != "" {
		t.Transport = o.Transport
	}
	if o.Version != "" {
		t.Version = o.Version
	}
	if o.Community != "" {
		t.Community = o.Community
	}
	if o.User != "" {
		t.User = o.User
	}
	if o.Auth != "" {
		t.Auth = o.Auth
	}
	if o.AuthPassword != "" {
		t.AuthPassword = o.AuthPassword
	}
	if o.Priv != "" {
		t.Priv = o.Priv
	}
	if o.PrivPassword != "" {
		t.PrivPassword = o.PrivPassword
	}
	if o.Context != "" {
		t.Context = o.Context
	}
	if o.Timeout != 0 {
		t.Timeout = o.Timeout
	}
	if o.Retries != nil {
		t.Retries = o.Retries
	}
	return t
}

// security builds the security context of the target.
func (t Target) security() (*snmp.SecurityContext, error) {
	switch t.Version {
	case "1":
		return snmp.NewCommunityContext(snmp.SecurityModelV1, t.Community), nil
	case "", "2c", "2":
		return snmp.NewCommunityContext(snmp.SecurityModelV2C, t.Community), nil
	case "3":
	default:
		return nil, fmt.Errorf("unknown SNMP version %q", t.Version)
	}
	if t.Transport == "dtls" {
		return snmp.NewTSMContext(t.User), nil
	}
	sc, err := User{t.User, t.Auth, t.AuthPassword, t.Priv, t.PrivPassword}.security()
	if err != nil {
		return nil, err
	}
	sc.ContextName = t.Context
	return sc, nil
}

func (u User) security() (*snmp.SecurityContext, error) {
	auth, err := snmp.ParseAuthMethod(u.Auth)
	if err != nil {
		return nil, err
	}
	priv, err := snmp.ParsePrivMethod(u.Priv)
	if err != nil {
		return nil, err
	}
	sc := snmp.NewUSMContext(u.Name, auth, u.AuthPassword, priv, u.PrivPassword)
	if _, err := sc.SecurityLevel(); err != nil {
		return nil, err
	}
	return sc, nil
}
