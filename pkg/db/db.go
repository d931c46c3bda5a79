// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package db implements a simple key-value database.
// The database is cached in memory and mirrored on disk in an append-only
// file of flate-compressed records. It is used to persist fuzzer seeds
// across restarts.
package db

import (
	"bufio"
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/greyfuzz/greyfuzz/pkg/hash"
	"github.com/greyfuzz/greyfuzz/pkg/log"
	"github.com/greyfuzz/greyfuzz/pkg/osutil"
)

type DB struct {
	Version uint64            // arbitrary user version (0 for new database)
	Records map[string]Record // in-memory cache, must not be modified directly

	filename    string
	uncompacted int           // number of records in the file
	pending     *bytes.Buffer // pending writes to the file
	maxSeq      uint64
}

type Record struct {
	Val []byte
	Seq uint64
}

// Open loads the database from filename, creating the file if needed.
// A corrupted file is an error, unless repair is set: then the readable
// records are kept, the file is rewritten and the error is still returned
// along with the database.
func Open(filename string, repair bool) (*DB, error) {
	db := &DB{
		filename: filename,
	}
	f, err := os.OpenFile(db.filename, os.O_RDONLY|os.O_CREATE, osutil.DefaultFilePerm)
	if err != nil {
		return nil, err
	}
	var readErr error
	db.Version, db.Records, db.uncompacted, readErr = deserializeDB(bufio.NewReader(f))
	f.Close()
	if readErr != nil && !repair {
		return nil, readErr
	}
	for _, rec := range db.Records {
		db.maxSeq = max(db.maxSeq, rec.Seq)
	}
	if readErr != nil || len(db.Records) == 0 || db.uncompacted/10*9 > len(db.Records) {
		if err := db.compact(); err != nil {
			return nil, err
		}
	}
	return db, readErr
}

func (db *DB) Save(key string, val []byte, seq uint64) {
	if seq == seqDeleted {
		panic("reserved seq")
	}
	if rec, ok := db.Records[key]; ok && seq == rec.Seq && bytes.Equal(val, rec.Val) {
		return
	}
	db.Records[key] = Record{val, seq}
	db.maxSeq = max(db.maxSeq, seq)
	db.serialize(key, val, seq)
	db.uncompacted++
}

// SaveInput stores a fuzzer input under the hash of its data.
// Inputs get increasing sequence numbers, so they are read back
// in the order they were saved. It returns false for known inputs.
func (db *DB) SaveInput(input string) bool {
	key := hash.String([]byte(input))
	if _, ok := db.Records[key]; ok {
		return false
	}
	db.Save(key, []byte(input), db.maxSeq+1)
	return true
}

func (db *DB) Delete(key string) {
	if _, ok := db.Records[key]; !ok {
		return
	}
	delete(db.Records, key)
	db.serialize(key, nil, seqDeleted)
	db.uncompacted++
}

func (db *DB) Flush() error {
	if db.uncompacted/10*9 > len(db.Records) {
		return db.compact()
	}
	if db.pending == nil {
		return nil
	}
	f, err := os.OpenFile(db.filename, os.O_WRONLY|os.O_APPEND|os.O_CREATE, osutil.DefaultFilePerm)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(db.pending.Bytes()); err != nil {
		return err
	}
	db.pending = nil
	return nil
}

func (db *DB) BumpVersion(version uint64) error {
	if db.Version == version {
		return db.Flush()
	}
	db.Version = version
	return db.compact()
}

// Inputs returns the stored values ordered by sequence number, then by key.
func (db *DB) Inputs() []string {
	keys := make([]string, 0, len(db.Records))
	for key := range db.Records {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := db.Records[keys[i]], db.Records[keys[j]]
		if ri.Seq != rj.Seq {
			return ri.Seq < rj.Seq
		}
		return keys[i] < keys[j]
	})
	ret := make([]string, len(keys))
	for i, key := range keys {
		ret[i] = string(db.Records[key].Val)
	}
	return ret
}

func (db *DB) compact() error {
	buf := new(bytes.Buffer)
	serializeHeader(buf, db.Version)
	for key, rec := range db.Records {
		serializeRecord(buf, key, rec.Val, rec.Seq)
	}
	f, err := os.Create(db.filename + ".tmp")
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(buf.Bytes()); err != nil {
		return err
	}
	f.Close()
	if err := os.Rename(f.Name(), db.filename); err != nil {
		return err
	}
	db.uncompacted = len(db.Records)
	db.pending = nil
	return nil
}

func (db *DB) serialize(key string, val []byte, seq uint64) {
	if db.pending == nil {
		db.pending = new(bytes.Buffer)
	}
	serializeRecord(db.pending, key, val, seq)
}

const (
	dbMagic    = uint32(0xbaddb)
	recMagic   = uint32(0xfee1bad)
	curVersion = uint32(2)
	seqDeleted = ^uint64(0)
)

func serializeHeader(w *bytes.Buffer, version uint64) {
	binary.Write(w, binary.LittleEndian, dbMagic)
	binary.Write(w, binary.LittleEndian, curVersion)
	binary.Write(w, binary.LittleEndian, version)
}

func serializeRecord(w *bytes.Buffer, key string, val []byte, seq uint64) {
	binary.Write(w, binary.LittleEndian, recMagic)
	binary.Write(w, binary.LittleEndian, uint32(len(key)))
	w.WriteString(key)
	binary.Write(w, binary.LittleEndian, seq)
	if seq == seqDeleted {
		if len(val) != 0 {
			panic("deleting record with value")
		}
		return
	}
	if len(val) == 0 {
		binary.Write(w, binary.LittleEndian, uint32(0))
		return
	}
	lenPos := w.Len()
	binary.Write(w, binary.LittleEndian, uint32(0))
	startPos := w.Len()
	fw, err := flate.NewWriter(w, flate.BestCompression)
	if err != nil {
		panic(err)
	}
	if _, err := fw.Write(val); err != nil {
		panic(err)
	}
	fw.Close()
	binary.LittleEndian.PutUint32(w.Bytes()[lenPos:], uint32(w.Len()-startPos))
}

func deserializeDB(r *bufio.Reader) (version uint64, records map[string]Record, uncompacted int, err error) {
	records = make(map[string]Record)
	if version, err = deserializeHeader(r); err != nil {
		err = fmt.Errorf("failed to deserialize database header: %w", err)
		return
	}
	for {
		key, val, seq, recErr := deserializeRecord(r)
		if errors.Is(recErr, io.EOF) {
			return
		}
		if recErr != nil {
			err = fmt.Errorf("failed to deserialize database record: %w", recErr)
			log.Logf(0, "%v", err)
			return
		}
		uncompacted++
		if seq == seqDeleted {
			delete(records, key)
		} else {
			records[key] = Record{val, seq}
		}
	}
}

func deserializeHeader(r *bufio.Reader) (uint64, error) {
	var magic, ver uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, err
	}
	if magic != dbMagic {
		return 0, fmt.Errorf("bad db header: 0x%x", magic)
	}
	if err := binary.Read(r, binary.LittleEndian, &ver); err != nil {
		return 0, err
	}
	if ver == 0 || ver > curVersion {
		return 0, fmt.Errorf("bad db version: %v", ver)
	}
	var userVer uint64
	if ver >= 2 {
		if err := binary.Read(r, binary.LittleEndian, &userVer); err != nil {
			return 0, err
		}
	}
	return userVer, nil
}

func deserializeRecord(r *bufio.Reader) (key string, val []byte, seq uint64, err error) {
	var magic uint32
	if err = binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return
	}
	if magic != recMagic {
		err = fmt.Errorf("bad record header: 0x%x", magic)
		return
	}
	var keyLen uint32
	if err = binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
		return
	}
	keyBuf := make([]byte, keyLen)
	if _, err = io.ReadFull(r, keyBuf); err != nil {
		return
	}
	key = string(keyBuf)
	if err = binary.Read(r, binary.LittleEndian, &seq); err != nil {
		return
	}
	if seq == seqDeleted {
		return
	}
	var valLen uint32
	if err = binary.Read(r, binary.LittleEndian, &valLen); err != nil {
		return
	}
	if valLen != 0 {
		fr := flate.NewReader(&io.LimitedReader{R: r, N: int64(valLen)})
		if val, err = io.ReadAll(fr); err != nil {
			return
		}
		fr.Close()
	}
	return
}

// Create creates a new database in the specified file with the specified inputs.
func Create(filename string, version uint64, inputs []string) error {
	os.Remove(filename)
	db, err := Open(filename, false)
	if err != nil {
		return fmt.Errorf("failed to open database file: %w", err)
	}
	if err := db.BumpVersion(version); err != nil {
		return fmt.Errorf("failed to bump database version: %w", err)
	}
	for _, input := range inputs {
		db.SaveInput(input)
	}
	if err := db.Flush(); err != nil {
		return fmt.Errorf("failed to save database file: %w", err)
	}
	return nil
}

// ReadCorpus returns the inputs stored in the database file in save order.
// An empty filename means no corpus.
func ReadCorpus(filename string) ([]string, error) {
	if filename == "" {
		return nil, nil
	}
	db, err := Open(filename, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open database file: %w", err)
	}
	return db.Inputs(), nil
}
