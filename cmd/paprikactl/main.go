// Command paprikactl is a thin manual/debugging entry point over a
// file-backed paprika store (SPEC_FULL.md §6 "CLI"). It is not part of the
// core's specified behavior; every subcommand just opens a Database and
// drives one Batch/ReadBatch operation.
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/erigontech/paprika/nibble"
	"github.com/erigontech/paprika/paprika"
	"github.com/erigontech/paprika/store"
)

var (
	flagDataDir  = &cli.StringFlag{Name: "datadir", Aliases: []string{"d"}, Required: true, Usage: "path to the store file"}
	flagCapacity = &cli.StringFlag{Name: "capacity", Value: "4GB", Usage: "store size, created if the file doesn't exist yet"}
	flagDepth    = &cli.UintFlag{Name: "history-depth", Value: paprika.DefaultHistoryDepth}
)

func main() {
	app := &cli.App{
		Name:  "paprikactl",
		Usage: "operate a paprika paged key-value store",
		Commands: []*cli.Command{
			statsCommand,
			getCommand,
			setCommand,
			reorgCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "paprikactl:", err)
		os.Exit(1)
	}
}

func openDatabase(c *cli.Context) (*paprika.Database, error) {
	var capacity datasize.ByteSize
	if err := capacity.UnmarshalText([]byte(c.String(flagCapacity.Name))); err != nil {
		return nil, fmt.Errorf("parsing --capacity: %w", err)
	}
	cfg := paprika.Config{
		CapacityBytes: capacity,
		HistoryDepth:  uint32(c.Uint(flagDepth.Name)),
		FlushToDisk:   true,
		Logger:        zap.NewNop(),
	}
	pm, err := store.OpenMmapManager(c.String(flagDataDir.Name), uint64(capacity), cfg.FlushToDisk)
	if err != nil {
		return nil, err
	}
	db, err := paprika.Open(pm, cfg)
	if err != nil {
		_ = pm.Close()
		return nil, err
	}
	return db, nil
}

func parseKey(s string) (nibble.Path, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nibble.Path{}, fmt.Errorf("key must be hex-encoded: %w", err)
	}
	return nibble.FromBytes(raw), nil
}

var statsCommand = &cli.Command{
	Name:  "stats",
	Usage: "print the current root's metadata",
	Flags: []cli.Flag{flagDataDir, flagCapacity, flagDepth},
	Action: func(c *cli.Context) error {
		db, err := openDatabase(c)
		if err != nil {
			return err
		}
		defer db.Close()
		meta, err := db.CurrentMetadata()
		if err != nil {
			return err
		}
		fmt.Printf("batch_id:     %d\n", meta.BatchID)
		fmt.Printf("block_number: %d\n", meta.BlockNumber)
		fmt.Printf("state_hash:   %x\n", meta.StateHash)
		return nil
	},
}

var getCommand = &cli.Command{
	Name:      "get",
	Usage:     "read a single key from the live root",
	ArgsUsage: "<hex-key>",
	Flags:     []cli.Flag{flagDataDir, flagCapacity, flagDepth},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("expected exactly one hex-encoded key argument", 1)
		}
		key, err := parseKey(c.Args().First())
		if err != nil {
			return err
		}
		db, err := openDatabase(c)
		if err != nil {
			return err
		}
		defer db.Close()

		r, err := db.BeginReadOnlyBatch()
		if err != nil {
			return err
		}
		defer r.Dispose()

		value, err := r.Get(key)
		if err != nil {
			return err
		}
		fmt.Println(hex.EncodeToString(value))
		return nil
	},
}

var setCommand = &cli.Command{
	Name:      "set",
	Usage:     "write a single key/value pair and commit (ad-hoc manual testing only)",
	ArgsUsage: "<hex-key> <hex-value>",
	Flags:     []cli.Flag{flagDataDir, flagCapacity, flagDepth},
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.Exit("expected <hex-key> <hex-value>", 1)
		}
		key, err := parseKey(c.Args().Get(0))
		if err != nil {
			return err
		}
		value, err := hex.DecodeString(c.Args().Get(1))
		if err != nil {
			return fmt.Errorf("value must be hex-encoded: %w", err)
		}

		db, err := openDatabase(c)
		if err != nil {
			return err
		}
		defer db.Close()

		b, err := db.BeginBatch(&paprika.FingerprintHook{})
		if err != nil {
			return err
		}
		if err := b.Set(key, value); err != nil {
			return err
		}
		hash, err := b.Commit(paprika.FlushDataAndRoot)
		if err != nil {
			return err
		}
		fmt.Printf("committed, state_hash: %x\n", hash)
		return nil
	},
}

var reorgCommand = &cli.Command{
	Name:  "reorg",
	Usage: "reorganize back to a prior state_hash and start a fresh batch there",
	Flags: []cli.Flag{
		flagDataDir, flagCapacity, flagDepth,
		&cli.StringFlag{Name: "to-state-hash", Required: true, Usage: "hex-encoded 32-byte state_hash to reorganize back to"},
	},
	Action: func(c *cli.Context) error {
		raw, err := hex.DecodeString(c.String("to-state-hash"))
		if err != nil || len(raw) != 32 {
			return cli.Exit("--to-state-hash must be a 32-byte hex string", 1)
		}
		var target [32]byte
		copy(target[:], raw)

		db, err := openDatabase(c)
		if err != nil {
			return err
		}
		defer db.Close()

		b, err := db.ReorganizeBackToAndStartNew(target, &paprika.FingerprintHook{})
		if err != nil {
			return err
		}
		if err := b.Abort(); err != nil {
			return err
		}
		fmt.Printf("live root is now batch_id %d, anchored at state_hash %x\n", b.BatchID()-1, target)
		return nil
	},
}
