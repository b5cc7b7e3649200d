package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"code.kerpass.org/operchal/pkg/opercred"
	"code.kerpass.org/operchal/pkg/opercred/boltdb"
	"code.kerpass.org/operchal/pkg/opercred/pgdb"
)

const usageFmt = `
Command Usage: %s (-bolt <path> | -pg <dsn>) <action> [args]
  Manage the oper blocks database used by operchal-server.

Actions:
--------
  list [pattern]    print oper blocks whose name matches the glob pattern
  import <config>   save the oper blocks of a .json or .cbor configuration
  remove <name>...  remove oper blocks

Flags:
------
`

type Cmd struct {
	BoltPath string
	PgDSN    string
	PgSchema string
	Action   string
	Args     []string
}

func parseFlags(progname string, args []string) *Cmd {
	cmd := Cmd{}

	flags := flag.NewFlagSet(progname, flag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, usageFmt, path.Base(progname))
		flags.PrintDefaults()
	}

	flags.StringVar(&cmd.BoltPath, "bolt", "", `path of a boltdb oper blocks database`)
	flags.StringVar(&cmd.PgDSN, "pg", "", `postgres DSN of an oper blocks database`)
	flags.StringVar(&cmd.PgSchema, "pg-schema", "operchal", `postgres schema holding the oper table`)

	flags.Parse(args)

	if ("" == cmd.BoltPath) == ("" == cmd.PgDSN) {
		flags.Usage()
		log.Fatal("exactly one of -bolt or -pg is required")
	}
	if 0 == flags.NArg() {
		flags.Usage()
		log.Fatal("missing action")
	}
	cmd.Action = flags.Arg(0)
	cmd.Args = flags.Args()[1:]

	return &cmd
}

func main() {
	cmd := parseFlags(os.Args[0], os.Args[1:])
	ctx := context.Background()

	var store opercred.Store
	var err error
	if "" != cmd.PgDSN {
		var pgstore *pgdb.OperStore
		pgstore, err = pgdb.NewOperStore(ctx, cmd.PgDSN, cmd.PgSchema)
		if nil != err {
			log.Fatalf("Failed connecting database, got error %v", err)
		}
		defer pgstore.Close()
		err = pgdb.OperStoreMigrate(ctx, pgstore.DB, cmd.PgSchema)
		if nil != err {
			log.Fatalf("Failed database migration, got error %v", err)
		}
		store = pgstore
	} else {
		store, err = boltdb.New(cmd.BoltPath)
		if nil != err {
			log.Fatalf("Failed opening database, got error %v", err)
		}
	}

	switch cmd.Action {
	case "list":
		pattern := "*"
		if len(cmd.Args) > 0 {
			pattern = cmd.Args[0]
		}
		err = listOper(ctx, store, pattern)
	case "import":
		if 1 != len(cmd.Args) {
			log.Fatal("import requires a configuration path")
		}
		err = importOper(ctx, store, cmd.Args[0])
	case "remove":
		for _, name := range cmd.Args {
			err = store.RemoveOper(ctx, name)
			if nil != err {
				break
			}
			fmt.Printf("removed %s\n", name)
		}
	default:
		log.Fatalf("unknown action %q", cmd.Action)
	}
	if nil != err {
		log.Fatalf("Failed %s, got error %v", cmd.Action, err)
	}
}

func listOper(ctx context.Context, store opercred.Store, pattern string) error {
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("invalid pattern %q", pattern)
	}
	creds, err := store.ListOper(ctx)
	if nil != err {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, cred := range creds {
		match, _ := doublestar.Match(strings.ToLower(pattern), strings.ToLower(cred.Name))
		if !match {
			continue
		}
		err = enc.Encode(cred)
		if nil != err {
			return err
		}
	}

	return nil
}

func importOper(ctx context.Context, store opercred.Store, cfgpath string) error {
	cfg, err := opercred.LoadConfig(cfgpath)
	if nil != err {
		return err
	}
	err = cfg.Populate(ctx, filepath.Dir(cfgpath), store)
	if nil != err {
		return err
	}
	fmt.Printf("imported %d oper blocks\n", len(cfg.Opers))

	return nil
}
