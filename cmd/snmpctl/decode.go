// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nxpoll/snmp"
	"github.com/nxpoll/snmp/capture"
)

func newDecodeCmd() *cobra.Command {
	var ports []uint
	cmd := &cobra.Command{
		Use:   "decode FILE.pcap",
		Short: "Decode SNMP messages from a pcap capture",
		Long: `Decode SNMP messages from a pcap capture. v3 messages with
authentication or privacy are decoded with the profile's users, or the
user given with -u/-a/-A/-x/-X.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := loadProfile(opts.profile)
			if err != nil {
				return err
			}
			users, err := trapUsers(profile)
			if err != nil {
				return err
			}
			tree, err := loadTree()
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			r := &capture.Reader{
				Resolver: snmp.NewUserResolver(users, logger()),
				Logger:   logger(),
			}
			for _, p := range ports {
				r.Ports = append(r.Ports, uint16(p))
			}
			out := cmd.OutOrStdout()
			return r.Each(f, func(m capture.Message) error {
				fmt.Fprintf(out, "%s %s -> %s ", m.Timestamp.Format("15:04:05.000000"), m.Src, m.Dst)
				if m.Err != nil {
					fmt.Fprintf(out, "undecodable (%d bytes): %s\n", len(m.Payload), m.Err)
					return nil
				}
				fmt.Fprintln(out, m.PDU)
				for _, v := range m.PDU.Variables {
					fmt.Fprintln(out, "  "+formatVariable(tree, v))
				}
				return nil
			})
		},
	}
	cmd.Flags().UintSliceVar(&ports, "ports", nil, "UDP ports carrying SNMP (default 161,162)")
	return cmd
}
