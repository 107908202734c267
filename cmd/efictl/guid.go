package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/costinm/goefi/pkg/proto"
	"github.com/costinm/goefi/pkg/uefi"
)

func newGUIDCmd() *cobra.Command {
	var raw bool
	c := &cobra.Command{
		Use:   "guid <guid|protocol|hex>...",
		Short: "Show a GUID in registry, firmware and RFC 4122 byte order",
		Long: `Show a GUID given in registry format or as a known protocol name. With
--bytes, arguments are 32 hex digits in firmware memory order, as found in a
memory dump.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				g, err := parseGUID(arg, raw)
				if err != nil {
					return err
				}
				describeGUID(cmd, g)
			}
			return nil
		},
	}
	c.Flags().BoolVarP(&raw, "bytes", "b", false, "arguments are firmware order bytes in hex")

	c.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Generate a random GUID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := uuid.NewRandom()
			if err != nil {
				return err
			}
			describeGUID(cmd, uefi.GUIDFromUUID(u))
			return nil
		},
	})
	return c
}

func parseGUID(arg string, raw bool) (uefi.GUID, error) {
	if raw {
		b, err := hex.DecodeString(arg)
		if err != nil || len(b) != 16 {
			return uefi.GUID{}, fmt.Errorf("invalid GUID bytes %q: want 32 hex digits", arg)
		}
		return uefi.GUIDFromBytes([16]byte(b)), nil
	}
	if p, ok := proto.Lookup(arg); ok {
		return p.GUID, nil
	}
	return uefi.ParseGUID(arg)
}

func describeGUID(cmd *cobra.Command, g uefi.GUID) {
	out := cmd.OutOrStdout()
	b := g.Bytes()
	u := g.UUID()
	fmt.Fprintf(out, "%s\n", g)
	fmt.Fprintf(out, "  name:     %s\n", proto.Name(g))
	fmt.Fprintf(out, "  firmware: %s\n", hex.EncodeToString(b[:]))
	fmt.Fprintf(out, "  rfc4122:  %s\n", hex.EncodeToString(u[:]))
	fmt.Fprintf(out, "  go:       uefi.GUID{Data1: 0x%08x, Data2: 0x%04x, Data3: 0x%04x, Data4: [8]byte{%s}}\n",
		g.Data1, g.Data2, g.Data3, byteList(g.Data4[:]))
}

func byteList(b []byte) string {
	elems := make([]string, len(b))
	for i, v := range b {
		elems[i] = fmt.Sprintf("0x%02x", v)
	}
	return strings.Join(elems, ", ")
}
