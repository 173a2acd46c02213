// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/nxpoll/snmp"
)

func newTrapsCmd() *cobra.Command {
	var engineID string
	var mappings []string
	cmd := &cobra.Command{
		Use:   "traps [udp://|dtls://]ADDR",
		Short: "Receive notifications and acknowledge informs",
		Long: `Receive SNMP traps and informs. Without ADDR listens on udp://0.0.0.0:162.

v3 users come from the profile's users list, or from -u/-a/-A/-x/-X.
For dtls:// listeners --cert, --key and --ca are required and
--map FINGERPRINT=NAME or --map san-any|san-dns|san-ip|san-rfc822|cn
turn client certificates into TSM security names.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := fmt.Sprintf("udp://0.0.0.0:%d", snmp.DefaultTrapPort)
			if len(args) == 1 {
				addr = args[0]
			}
			profile, err := loadProfile(opts.profile)
			if err != nil {
				return err
			}
			tree, err := loadTree()
			if err != nil {
				return err
			}

			tl := snmp.NewTrapListener()
			tl.Logger = logger()
			tl.Community = opts.flags.Community
			if tl.Users, err = trapUsers(profile); err != nil {
				return err
			}
			if engineID != "" {
				if tl.EngineID, err = hex.DecodeString(strings.TrimPrefix(engineID, "0x")); err != nil {
					return fmt.Errorf("bad --engine-id: %w", err)
				}
			}
			if strings.HasPrefix(addr, "dtls://") {
				if tl.DTLSConfig, err = dtlsConfig(true); err != nil {
					return err
				}
				if tl.CertMappings, err = parseCertMappings(mappings); err != nil {
					return err
				}
			}

			var mu sync.Mutex
			out := cmd.OutOrStdout()
			tl.OnTrap = metrics.TrapHandler(func(p *snmp.PDU, from net.Addr) {
				mu.Lock()
				defer mu.Unlock()
				printTrap(out, tree, p, from)
			})

			ctx, cancel := signalContext()
			defer cancel()
			go func() {
				<-ctx.Done()
				tl.Close()
			}()
			return tl.Listen(addr)
		},
	}
	cmd.Flags().StringVar(&engineID, "engine-id", "", "local engine ID (hex) advertised to v3 inform senders")
	cmd.Flags().StringArrayVar(&mappings, "map", nil, "DTLS certificate to security name mapping (repeatable)")
	return cmd
}

func trapUsers(profile *Profile) (map[string]*snmp.SecurityContext, error) {
	users := make(map[string]*snmp.SecurityContext)
	for _, u := range profile.Users {
		sc, err := u.security()
		if err != nil {
			return nil, fmt.Errorf("user %q: %w", u.Name, err)
		}
		users[u.Name] = sc
	}
	if f := opts.flags; f.User != "" {
		sc, err := User{f.User, f.Auth, f.AuthPassword, f.Priv, f.PrivPassword}.security()
		if err != nil {
			return nil, err
		}
		users[f.User] = sc
	}
	return users, nil
}

var certMapTypes = map[string]snmp.CertMapType{
	"san-rfc822": snmp.CertMapSANRFC822,
	"san-dns":    snmp.CertMapSANDNSName,
	"san-ip":     snmp.CertMapSANIPAddress,
	"san-any":    snmp.CertMapSANAny,
	"cn":         snmp.CertMapCommonName,
}

func parseCertMappings(specs []string) ([]snmp.CertMapping, error) {
	if len(specs) == 0 {
		return []snmp.CertMapping{{Type: snmp.CertMapSANAny}}, nil
	}
	var out []snmp.CertMapping
	for _, spec := range specs {
		if typ, ok := certMapTypes[spec]; ok {
			out = append(out, snmp.CertMapping{Type: typ})
			continue
		}
		fp, name, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("bad --map %q", spec)
		}
		m, err := snmp.ParseTLSFingerprint(fp, name)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func printTrap(w io.Writer, tree *snmp.MIBTree, p *snmp.PDU, from net.Addr) {
	who := p.Community()
	if p.Version == snmp.Version3 {
		who = p.UserName
	}
	fmt.Fprintf(w, "%s v%s %s from %s (%s) uptime=%d\n",
		tree.Translate(p.TrapOID()), p.Version, p.Type, from, who, p.Uptime())
	if p.Type == snmp.Trap {
		fmt.Fprintf(w, "  enterprise=%s agent=%s generic=%d specific=%d\n",
			tree.Translate(p.Enterprise), p.AgentAddress, p.GenericTrap, p.SpecificTrap)
	}
	for _, v := range p.Variables {
		fmt.Fprintln(w, "  "+formatVariable(tree, v))
	}
}
