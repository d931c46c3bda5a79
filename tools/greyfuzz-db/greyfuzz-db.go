// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// greyfuzz-db packs, unpacks, lists and edits corpus databases.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/greyfuzz/greyfuzz/pkg/db"
	"github.com/greyfuzz/greyfuzz/pkg/hash"
	"github.com/greyfuzz/greyfuzz/pkg/osutil"
	"github.com/greyfuzz/greyfuzz/pkg/tool"
	"github.com/ulikunitz/xz"
)

const xzExt = ".xz"

func main() {
	flagVersion := flag.Uint64("version", 0, "database version")
	defer tool.Init()()
	args := flag.Args()
	if len(args) < 2 {
		usage()
	}
	var err error
	switch {
	case args[0] == "pack" && len(args) == 3:
		err = pack(args[1], args[2], *flagVersion)
	case args[0] == "unpack" && len(args) == 3:
		err = unpack(args[1], args[2])
	case args[0] == "list" && len(args) == 2:
		err = list(args[1], os.Stdout)
	case args[0] == "rm" && len(args) >= 3:
		err = remove(args[1], args[2:])
	default:
		usage()
	}
	if err != nil {
		tool.Fail(err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  greyfuzz-db [-version N] pack dir corpus.db[.xz]\n")
	fmt.Fprintf(os.Stderr, "  greyfuzz-db unpack corpus.db[.xz] dir\n")
	fmt.Fprintf(os.Stderr, "  greyfuzz-db list corpus.db[.xz]\n")
	fmt.Fprintf(os.Stderr, "  greyfuzz-db rm corpus.db hash...\n")
	os.Exit(1)
}

type packedInput struct {
	data string
	seq  uint64
	name string
}

// pack creates the database from files named key-seq, as produced by unpack.
// Other names are accepted too and are ordered after the numbered ones.
// The database is xz-compressed if file has the .xz extension.
func pack(dir, file string, version uint64) error {
	files, err := osutil.ListDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read dir: %w", err)
	}
	var inputs []packedInput
	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to read file %v: %w", name, err)
		}
		seq := uint64(1<<63 - 1)
		key := name
		if parts := strings.Split(name, "-"); len(parts) == 2 {
			if s, err := strconv.ParseUint(parts[1], 10, 64); err == nil {
				key, seq = parts[0], s
			}
		}
		if sig := hash.String(data); key != sig {
			fmt.Fprintf(os.Stderr, "fixing hash %v -> %v\n", key, sig)
		}
		inputs = append(inputs, packedInput{string(data), seq, name})
	}
	sort.SliceStable(inputs, func(i, j int) bool {
		if inputs[i].seq != inputs[j].seq {
			return inputs[i].seq < inputs[j].seq
		}
		return inputs[i].name < inputs[j].name
	})
	var data []string
	for _, inp := range inputs {
		data = append(data, inp.data)
	}
	if !strings.HasSuffix(file, xzExt) {
		return db.Create(file, version, data)
	}
	tmp := strings.TrimSuffix(file, xzExt) + ".tmp"
	defer os.Remove(tmp)
	if err := db.Create(tmp, version, data); err != nil {
		return err
	}
	raw, err := os.ReadFile(tmp)
	if err != nil {
		return err
	}
	compressed, err := compressXZ(raw)
	if err != nil {
		return err
	}
	return osutil.WriteFile(file, compressed)
}

func unpack(file, dir string) error {
	corpusDB, err := openDB(file)
	if err != nil {
		return err
	}
	if err := osutil.MkdirAll(dir); err != nil {
		return err
	}
	for key, rec := range corpusDB.Records {
		fname := filepath.Join(dir, key)
		if rec.Seq != 0 {
			fname += fmt.Sprintf("-%v", rec.Seq)
		}
		if err := osutil.WriteFile(fname, rec.Val); err != nil {
			return fmt.Errorf("failed to output file: %w", err)
		}
	}
	return nil
}

func list(file string, w io.Writer) error {
	corpusDB, err := openDB(file)
	if err != nil {
		return err
	}
	for i, input := range corpusDB.Inputs() {
		fmt.Fprintf(w, "%v\t%q\n", i, input)
	}
	return nil
}

// remove deletes the inputs whose hashes start with the given prefixes.
func remove(file string, prefixes []string) error {
	if strings.HasSuffix(file, xzExt) {
		return fmt.Errorf("can't modify compressed database %v, unpack it first", file)
	}
	corpusDB, err := openPlainDB(file)
	if err != nil {
		return err
	}
	for _, prefix := range prefixes {
		var keys []string
		for key := range corpusDB.Records {
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
		switch len(keys) {
		case 0:
			return fmt.Errorf("no input with hash %v", prefix)
		case 1:
			fmt.Fprintf(os.Stderr, "removing %v\n", keys[0])
			corpusDB.Delete(keys[0])
		default:
			return fmt.Errorf("hash %v is ambiguous: %v inputs match", prefix, len(keys))
		}
	}
	return corpusDB.Flush()
}

// openDB opens the database, decompressing it to a temp file first if
// it has the .xz extension.
func openDB(file string) (*db.DB, error) {
	if !strings.HasSuffix(file, xzExt) {
		return openPlainDB(file)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	if data, err = decompressXZ(data); err != nil {
		return nil, fmt.Errorf("failed to decompress %v: %w", file, err)
	}
	tmp, err := os.CreateTemp("", "greyfuzz-db")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, err
	}
	return openPlainDB(tmp.Name())
}

func openPlainDB(file string) (*db.DB, error) {
	if !osutil.IsExist(file) {
		return nil, fmt.Errorf("database %v does not exist", file)
	}
	corpusDB, err := db.Open(file, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return corpusDB, nil
}

func compressXZ(data []byte) ([]byte, error) {
	buf := new(bytes.Buffer)
	w, err := xz.NewWriter(buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressXZ(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
