package replication

import "encoding/base64"

// emptyRDBBase64 is the fixed, empty-database RDB payload every FULLRESYNC
// sends. This repo has no RDB encoder of its own — a real one is out of
// scope (see DESIGN.md) — so every full resync ships this canned payload
// and relies on command propagation to bring the replica's store up to
// date from there.
const emptyRDBBase64 = "UkVESVMwMDEx+glyZWRpcy12ZXIFNy4yLjD6CnJlZGlzLWJpdHPAQPoFY3RpbWXCbQi8ZfoIdXNlZC1tZW3CsMQQAPoIYW9mLWJhc2XAAP/wbjv+wP9aog=="

// EmptyRDB returns the canned RDB payload sent with every FULLRESYNC.
func EmptyRDB() []byte {
	data, err := base64.StdEncoding.DecodeString(emptyRDBBase64)
	if err != nil {
		panic("replication: malformed embedded empty RDB payload: " + err.Error())
	}
	return data
}
