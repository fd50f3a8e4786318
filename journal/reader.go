package journal

import (
	"bufio"
	"encoding/json"
	"hash/crc32"
	"os"
	"strconv"
	"strings"

	"github.com/conarylabs/conary/build"
)

// ReadAll reads every valid record from the journal file at path, in
// order, stopping at the first line that fails its CRC check (a sign of a
// torn write from a mid-line crash). Every record before that point is
// returned; the corrupt line and anything after it is discarded, per spec
// §4.2: "reading stops at the first CRC mismatch; earlier records remain
// valid."
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, build.ExtendErr("unable to open journal for reading", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		rec, ok := decodeLine(line)
		if !ok {
			break
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, build.ExtendErr("error scanning journal", err)
	}
	return records, nil
}

// decodeLine parses one "{crc32_hex}|{json}" line, verifying the checksum.
// It returns ok=false on any malformed or corrupt line.
func decodeLine(line string) (Record, bool) {
	parts := strings.SplitN(line, "|", 2)
	if len(parts) != 2 {
		return Record{}, false
	}
	wantSum, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return Record{}, false
	}
	payload := []byte(parts[1])
	gotSum := crc32.ChecksumIEEE(payload)
	if uint32(wantSum) != gotSum {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, false
	}
	return rec, true
}

// LastBarrier returns the last barrier record in records, which determines
// the last known state of the transaction per spec §4.2.
func LastBarrier(records []Record) (Record, bool) {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Kind.IsBarrier() {
			return records[i], true
		}
	}
	return Record{}, false
}
