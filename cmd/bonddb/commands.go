package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rigado/bonddb"
	"github.com/rigado/bonddb/bond"
	"github.com/rigado/bonddb/security"
	"github.com/rigado/bonddb/sliceops"
	"github.com/urfave/cli"
)

var keyFlags = []cli.Flag{
	cli.StringFlag{Name: "addr", Usage: "peer address"},
	cli.StringFlag{Name: "ediv", Usage: "encryption diversifier (hex)"},
	cli.StringFlag{Name: "irk", Usage: "remote IRK (hex, most significant byte first)"},
	cli.StringFlag{Name: "identity", Usage: "identity address"},
	cli.IntFlag{Name: "slot", Value: -1, Usage: "slot index"},
}

func commands() []cli.Command {
	return []cli.Command{
		{
			Name:   "init",
			Usage:  "clear the bond table",
			Action: withDB(initTable),
		},
		{
			Name:  "list",
			Usage: "list stored bonds",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "json", Usage: "print as json"},
			},
			Action: withDB(list),
		},
		{
			Name:  "add",
			Usage: "store a bond",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "addr", Usage: "peer address"},
				cli.StringFlag{Name: "type", Value: "public", Usage: "peer address type"},
				cli.StringFlag{Name: "ltk", Usage: "long term key (hex, most significant byte first)"},
				cli.StringFlag{Name: "ediv", Value: "0", Usage: "encryption diversifier (hex)"},
				cli.StringFlag{Name: "rand", Value: "0000000000000000", Usage: "8 byte rand (hex, wire order)"},
				cli.StringFlag{Name: "irk", Usage: "remote IRK (hex, most significant byte first)"},
				cli.StringFlag{Name: "identity", Usage: "identity address, defaults to --addr"},
				cli.StringFlag{Name: "identity-type", Value: "public", Usage: "identity address type"},
				cli.BoolFlag{Name: "secure", Usage: "LE secure connections bond"},
				cli.BoolFlag{Name: "mitm", Usage: "authenticated bond"},
			},
			Action: withDB(add),
		},
		{
			Name:   "search",
			Usage:  "look up a bond by --addr, --ediv, --irk, --identity or --slot",
			Flags:  keyFlags,
			Action: withDB(search),
		},
		{
			Name:  "remove",
			Usage: "remove bonds selected like search",
			Flags: append([]cli.Flag{
				cli.StringFlag{Name: "mode", Value: "this", Usage: "this, all-but-this or all"},
			}, keyFlags...),
			Action: withDB(remove),
		},
		{
			Name:  "identities",
			Usage: "list stored identities, or resolve an address against them",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "resolve", Usage: "resolvable private address to resolve"},
			},
			Action: withDB(identities),
		},
		{
			Name:      "export",
			Usage:     "write the table as json",
			ArgsUsage: "[file]",
			Action:    withDB(export),
		},
		{
			Name:      "import",
			Usage:     "replace the table with a json export",
			ArgsUsage: "file",
			Action:    withDB(importFile),
		},
	}
}

func withDB(fn func(c *cli.Context, db *bonddb.DB) error) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		db, done, err := openDB(c)
		if err != nil {
			return err
		}
		defer done()
		return fn(c, db)
	}
}

func initTable(c *cli.Context, db *bonddb.DB) error {
	if err := db.Clear(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "cleared %d slots at 0x%x\n", db.Capacity(), db.Offset())
	return nil
}

type entry struct {
	Slot       int    `json:"slot"`
	WriteOrder uint32 `json:"writeOrder"`
	Address    string `json:"address"`
	Keys       string `json:"keys"`
	Auth       string `json:"auth"`
	EDiv       uint16 `json:"ediv"`
	Identity   string `json:"identity,omitempty"`
}

func newEntry(s bonddb.Slot) entry {
	rec := &s.Record
	e := entry{
		Slot:       s.Index,
		WriteOrder: s.WriteOrder,
		Address:    rec.Peer.String(),
		Keys:       keyNames(rec.ValidKeys),
		Auth:       authNames(rec.Auth),
		EDiv:       rec.LTK.EDIV,
	}
	if rec.ValidKeys.Has(bonddb.KeyRemoteIRK) {
		e.Identity = rec.RemoteIRK.Identity.String()
	}
	return e
}

func keyNames(f bonddb.KeyFlags) string {
	var out []string
	for _, k := range []struct {
		f    bonddb.KeyFlags
		name string
	}{
		{bonddb.KeyLTK, "ltk"},
		{bonddb.KeyRemoteLTK, "rltk"},
		{bonddb.KeyRemoteIRK, "irk"},
		{bonddb.KeyLocalCSRK, "lcsrk"},
		{bonddb.KeyRemoteCSRK, "rcsrk"},
	} {
		if f.Has(k.f) {
			out = append(out, k.name)
		}
	}
	return strings.Join(out, ",")
}

func authNames(a bonddb.AuthLevel) string {
	var out []string
	for _, l := range []struct {
		a    bonddb.AuthLevel
		name string
	}{
		{bonddb.AuthBond, "bond"},
		{bonddb.AuthMITM, "mitm"},
		{bonddb.AuthSecure, "sc"},
		{bonddb.AuthKeySize16, "key16"},
	} {
		if a.Has(l.a) {
			out = append(out, l.name)
		}
	}
	return strings.Join(out, ",")
}

func list(c *cli.Context, db *bonddb.DB) error {
	slots := db.Slots()

	if c.Bool("json") {
		entries := make([]entry, 0, len(slots))
		for _, s := range slots {
			entries = append(entries, newEntry(s))
		}
		return jsoniter.NewEncoder(c.App.Writer).Encode(entries)
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "SLOT\tORDER\tADDRESS\tKEYS\tAUTH\tIDENTITY")
	for _, s := range slots {
		e := newEntry(s)
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n", e.Slot, e.WriteOrder, e.Address, e.Keys, e.Auth, e.Identity)
	}
	fmt.Fprintf(w, "%d/%d slots in use\n", len(slots), db.Capacity())
	return w.Flush()
}

// parseKey reads a most significant byte first hex key into wire order.
func parseKey(s string) ([16]byte, error) {
	var k [16]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(k) {
		return k, errors.Errorf("invalid key %q", s)
	}
	copy(k[:], sliceops.SwapBuf(b))
	return k, nil
}

func parseEDiv(s string) (uint16, error) {
	var v uint16
	if _, err := fmt.Sscanf(strings.TrimPrefix(s, "0x"), "%x", &v); err != nil {
		return 0, errors.Errorf("invalid ediv %q", s)
	}
	return v, nil
}

func add(c *cli.Context, db *bonddb.DB) error {
	var rec bonddb.Record
	var err error

	if rec.Peer.Addr, err = bonddb.ParseBDAddr(c.String("addr")); err != nil {
		return err
	}
	if rec.Peer.Type, err = bonddb.ParseAddrType(c.String("type")); err != nil {
		return err
	}

	rec.Auth = bonddb.AuthBond
	if c.Bool("secure") {
		rec.Auth |= bonddb.AuthSecure
	}
	if c.Bool("mitm") {
		rec.Auth |= bonddb.AuthMITM
	}

	if s := c.String("ltk"); s != "" {
		if rec.LTK.Key, err = parseKey(s); err != nil {
			return err
		}
		if rec.LTK.EDIV, err = parseEDiv(c.String("ediv")); err != nil {
			return err
		}
		r, err := hex.DecodeString(c.String("rand"))
		if err != nil || len(r) != len(rec.LTK.Rand) {
			return errors.Errorf("invalid rand %q", c.String("rand"))
		}
		copy(rec.LTK.Rand[:], r)
		rec.LTK.KeySize = 16
		rec.Auth |= bonddb.AuthKeySize16
		rec.ValidKeys |= bonddb.KeyLTK
	}

	if s := c.String("irk"); s != "" {
		if rec.RemoteIRK.Key, err = parseKey(s); err != nil {
			return err
		}
		rec.RemoteIRK.Identity = rec.Peer
		if s := c.String("identity"); s != "" {
			if rec.RemoteIRK.Identity.Addr, err = bonddb.ParseBDAddr(s); err != nil {
				return err
			}
			if rec.RemoteIRK.Identity.Type, err = bonddb.ParseAddrType(c.String("identity-type")); err != nil {
				return err
			}
		}
		rec.ValidKeys |= bonddb.KeyRemoteIRK
	}

	slot, err := db.Add(&rec)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "stored %v in slot %d\n", rec.Peer, slot)
	return nil
}

// searchKey builds the key from whichever one of the key flags is set.
func searchKey(c *cli.Context) (bonddb.SearchKey, error) {
	var keys []bonddb.SearchKey

	if s := c.String("addr"); s != "" {
		a, err := bonddb.ParseBDAddr(s)
		if err != nil {
			return nil, err
		}
		keys = append(keys, bonddb.ByAddr(a))
	}
	if s := c.String("ediv"); s != "" {
		v, err := parseEDiv(s)
		if err != nil {
			return nil, err
		}
		keys = append(keys, bonddb.ByEDIV(v))
	}
	if s := c.String("irk"); s != "" {
		k, err := parseKey(s)
		if err != nil {
			return nil, err
		}
		keys = append(keys, bonddb.ByIRK(k))
	}
	if s := c.String("identity"); s != "" {
		a, err := bonddb.ParseBDAddr(s)
		if err != nil {
			return nil, err
		}
		keys = append(keys, bonddb.ByIdentity(a))
	}
	if n := c.Int("slot"); n >= 0 {
		if n > 255 {
			return nil, errors.Errorf("invalid slot %d", n)
		}
		keys = append(keys, bonddb.BySlot(n))
	}

	if len(keys) != 1 {
		return nil, errors.New("exactly one of --addr, --ediv, --irk, --identity or --slot is required")
	}
	return keys[0], nil
}

func search(c *cli.Context, db *bonddb.DB) error {
	key, err := searchKey(c)
	if err != nil {
		return err
	}

	rec, ok := db.Search(key)
	if !ok {
		return errors.New("no matching bond")
	}

	for _, s := range db.Slots() {
		if s.Index == int(rec.Slot) {
			return jsoniter.NewEncoder(c.App.Writer).Encode(newEntry(s))
		}
	}
	return nil
}

func remove(c *cli.Context, db *bonddb.DB) error {
	var mode bonddb.RemoveMode
	switch c.String("mode") {
	case "this":
		mode = bonddb.RemoveThis
	case "all-but-this":
		mode = bonddb.RemoveAllButThis
	case "all":
		return db.Remove(nil, bonddb.RemoveAll)
	default:
		return errors.Errorf("unknown mode %q", c.String("mode"))
	}

	key, err := searchKey(c)
	if err != nil {
		return err
	}

	before := db.Occupied()
	if err := db.Remove(key, mode); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "removed %d bonds\n", before-db.Occupied())
	return nil
}

func identities(c *cli.Context, db *bonddb.DB) error {
	if s := c.String("resolve"); s != "" {
		a, err := bonddb.ParseBDAddr(s)
		if err != nil {
			return err
		}
		id, ok := security.New(db, nil).Resolve(a)
		if !ok {
			return errors.Errorf("%v does not resolve to a stored identity", a)
		}
		fmt.Fprintln(c.App.Writer, id.Identity)
		return nil
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tIRK")
	for _, id := range db.IdentityKeys() {
		fmt.Fprintf(w, "%s\t%s\n", id.Identity, hex.EncodeToString(sliceops.SwapBuf(id.IRK[:])))
	}
	return w.Flush()
}

func export(c *cli.Context, db *bonddb.DB) error {
	var w io.Writer = c.App.Writer
	if path := c.Args().First(); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrap(err, "can't create export file")
		}
		defer f.Close()
		w = f
	}
	return bond.NewManager(db).Export(w)
}

func importFile(c *cli.Context, db *bonddb.DB) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("import file required")
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "can't open import file")
	}
	defer f.Close()

	n, err := bond.NewManager(db).Import(f)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "imported %d bonds\n", n)
	return nil
}
