// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nxpoll/snmp"
)

// splitArgs separates the agent address from the remaining arguments. With
// --target every argument is an operand.
func splitArgs(args []string) (string, []string, error) {
	if opts.target != "" {
		return "", args, nil
	}
	if len(args) == 0 {
		return "", nil, errors.New("missing HOST")
	}
	return args[0], args[1:], nil
}

func loadTree() (*snmp.MIBTree, error) {
	if opts.mibFile == "" {
		return snmp.NewMIBTree(), nil
	}
	f, err := os.Open(opts.mibFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return snmp.LoadMIBTree(f)
}

func resolveOIDs(tree *snmp.MIBTree, names []string) ([]snmp.OID, error) {
	if len(names) == 0 {
		return nil, errors.New("no OIDs given")
	}
	oids := make([]snmp.OID, 0, len(names))
	for _, name := range names {
		oid, err := tree.Resolve(name)
		if err != nil {
			return nil, err
		}
		oids = append(oids, oid)
	}
	return oids, nil
}

// formatVariable renders a varbind net-snmp style with its symbolic name.
func formatVariable(tree *snmp.MIBTree, v snmp.Variable) string {
	return tree.Translate(v.Name) + strings.TrimPrefix(v.String(), v.Name.String())
}

func printResponse(w io.Writer, tree *snmp.MIBTree, res *snmp.PDU) error {
	if res.ErrorStatus != snmp.NoError {
		name := ""
		if i := int(res.ErrorIndex); i > 0 && i <= len(res.Variables) {
			name = " at " + tree.Translate(res.Variables[i-1].Name)
		}
		return fmt.Errorf("agent error %s%s", res.ErrorStatus, name)
	}
	for _, v := range res.Variables {
		fmt.Fprintln(w, formatVariable(tree, v))
	}
	return nil
}

// withSession runs fn against the agent named by args.
func withSession(cmd *cobra.Command, args []string, fn func(s *snmp.Session, tree *snmp.MIBTree, operands []string) error) error {
	host, operands, err := splitArgs(args)
	if err != nil {
		return err
	}
	target, _, err := resolveTarget(host)
	if err != nil {
		return err
	}
	tree, err := loadTree()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, target)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s, tree, operands)
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [HOST] OID...",
		Short: "Send a GetRequest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, args, func(s *snmp.Session, tree *snmp.MIBTree, operands []string) error {
				oids, err := resolveOIDs(tree, operands)
				if err != nil {
					return err
				}
				res, err := s.Get(oids)
				if err != nil {
					return err
				}
				return printResponse(cmd.OutOrStdout(), tree, res)
			})
		},
	}
}

func newGetNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "getnext [HOST] OID...",
		Short: "Send a GetNextRequest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, args, func(s *snmp.Session, tree *snmp.MIBTree, operands []string) error {
				oids, err := resolveOIDs(tree, operands)
				if err != nil {
					return err
				}
				res, err := s.GetNext(oids)
				if err != nil {
					return err
				}
				return printResponse(cmd.OutOrStdout(), tree, res)
			})
		},
	}
}

func newGetBulkCmd() *cobra.Command {
	var nonRepeaters, maxRepetitions uint32
	cmd := &cobra.Command{
		Use:   "getbulk [HOST] OID...",
		Short: "Send a GetBulkRequest (v2c/v3)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, args, func(s *snmp.Session, tree *snmp.MIBTree, operands []string) error {
				oids, err := resolveOIDs(tree, operands)
				if err != nil {
					return err
				}
				res, err := s.GetBulk(oids, nonRepeaters, maxRepetitions)
				if err != nil {
					return err
				}
				return printResponse(cmd.OutOrStdout(), tree, res)
			})
		},
	}
	cmd.Flags().Uint32Var(&nonRepeaters, "non-repeaters", 0, "number of non-repeating OIDs at the start")
	cmd.Flags().Uint32Var(&maxRepetitions, "max-repetitions", snmp.DefaultMaxRepetitions, "rows per repeating OID")
	return cmd
}

// setTypes maps the net-snmp type letters to value types.
var setTypes = map[string]snmp.Asn1BER{
	"i": snmp.Integer,
	"u": snmp.Gauge32,
	"c": snmp.Counter32,
	"C": snmp.Counter64,
	"t": snmp.TimeTicks,
	"s": snmp.OctetString,
	"x": snmp.OctetString,
	"o": snmp.ObjectIdentifier,
	"a": snmp.IPAddress,
	"n": snmp.Null,
}

func parseSetOperands(tree *snmp.MIBTree, operands []string) ([]snmp.Variable, error) {
	if len(operands) == 0 || len(operands)%3 != 0 {
		return nil, errors.New("set needs OID TYPE VALUE triples")
	}
	vars := make([]snmp.Variable, 0, len(operands)/3)
	for i := 0; i < len(operands); i += 3 {
		oid, err := tree.Resolve(operands[i])
		if err != nil {
			return nil, err
		}
		typ, ok := setTypes[operands[i+1]]
		if !ok {
			return nil, fmt.Errorf("unknown type %q (use i u c C t s x o a n)", operands[i+1])
		}
		v := snmp.Variable{Name: oid}
		if operands[i+1] == "x" {
			err = v.SetValueFromHexString(typ, operands[i+2])
		} else {
			err = v.SetValueFromString(typ, operands[i+2])
		}
		if err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}
	return vars, nil
}

func newSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set [HOST] OID TYPE VALUE...",
		Short: "Send a SetRequest",
		Long: `Send a SetRequest. TYPE is one of:
  i INTEGER, u Gauge32, c Counter32, C Counter64, t TimeTicks,
  s STRING, x hex STRING, o OBJECT IDENTIFIER, a IpAddress, n NULL`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, args, func(s *snmp.Session, tree *snmp.MIBTree, operands []string) error {
				vars, err := parseSetOperands(tree, operands)
				if err != nil {
					return err
				}
				res, err := s.Set(vars)
				if err != nil {
					return err
				}
				return printResponse(cmd.OutOrStdout(), tree, res)
			})
		},
	}
}

func newWalkCmd() *cobra.Command {
	var bulk bool
	cmd := &cobra.Command{
		Use:   "walk [HOST] [OID]",
		Short: "Walk a subtree (default mib-2)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, args, func(s *snmp.Session, tree *snmp.MIBTree, operands []string) error {
				if len(operands) == 0 {
					operands = []string{"mib-2"}
				}
				if len(operands) > 1 {
					return errors.New("walk takes a single OID")
				}
				root, err := tree.Resolve(operands[0])
				if err != nil {
					return err
				}
				emit := func(v snmp.Variable) error {
					fmt.Fprintln(cmd.OutOrStdout(), formatVariable(tree, v))
					return nil
				}
				if bulk && s.Security.Version() != snmp.Version1 {
					return s.BulkWalk(root, emit)
				}
				return s.Walk(root, emit)
			})
		},
	}
	cmd.Flags().BoolVar(&bulk, "bulk", true, "use GETBULK when the version allows it")
	return cmd
}
