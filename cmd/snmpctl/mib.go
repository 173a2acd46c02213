// Copyright 2026 The nxpoll Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nxpoll/snmp"
)

func newMIBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mib",
		Short: "Inspect and build MIB tree files",
	}

	translate := &cobra.Command{
		Use:   "translate OID|NAME...",
		Short: "Convert between numeric OIDs and names",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := loadTree()
			if err != nil {
				return err
			}
			for _, arg := range args {
				oid, err := tree.Resolve(arg)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", oid, tree.Translate(oid))
			}
			return nil
		},
	}

	var compress bool
	var defs string
	save := &cobra.Command{
		Use:   "save FILE",
		Short: "Write the MIB tree, extended with --defs, to FILE",
		Long: `Write the MIB tree to FILE. --defs names a text file with one
"OID NAME [TYPE]" definition per line; lines starting with # are ignored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := loadTree()
			if err != nil {
				return err
			}
			if defs != "" {
				if err := addDefinitions(tree, defs); err != nil {
					return err
				}
			}
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := snmp.SaveMIBTree(f, tree, compress); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	save.Flags().BoolVar(&compress, "compress", true, "zlib compress the node records")
	save.Flags().StringVar(&defs, "defs", "", "file of OID NAME [TYPE] definitions to add")

	dump := &cobra.Command{
		Use:   "dump",
		Short: "List the named nodes of the MIB tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := loadTree()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), tree)
			return nil
		},
	}

	cmd.AddCommand(translate, save, dump)
	return cmd
}

func addDefinitions(tree *snmp.MIBTree, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if len(fields) < 2 {
			return fmt.Errorf("%s:%d: want OID NAME [TYPE]", path, line)
		}
		oid, err := snmp.ParseOID(fields[0])
		if err != nil {
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}
		obj := snmp.MIBObject{Name: fields[1]}
		if len(fields) > 2 {
			obj.Type = strings.Join(fields[2:], " ")
		}
		if _, err := tree.Add(oid, obj); err != nil {
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}
	}
	return sc.Err()
}
