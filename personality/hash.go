package personality

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Hash returns the content address of a (personality, functions) pair as a
// hex sha256 digest. The encoding is canonical: struct fields marshal in a
// fixed order and map keys sort, so equal pairs hash equal regardless of how
// the caller ordered their JSON fields.
func Hash(p Personality, functions []Function) string {
	payload, err := json.Marshal(struct {
		Personality Personality `json:"personality"`
		Functions   []Function  `json:"functions"`
	}{p, functions})
	if err != nil {
		// Only unmarshalable types reach here; the types above are plain data.
		panic(err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
