package replay

import "strings"

// storedEntrySep separates a stream id from its payload text inside one
// Redis list element. '\x1f' (unit separator) never occurs in a stream id
// and is vanishingly unlikely in payload text, but we split on the first
// occurrence regardless so a stray one in the payload can't corrupt the id.
const storedEntrySep = "\x1f"

func encodeStoredEntry(streamID, text string) string {
	return streamID + storedEntrySep + text
}

func splitStoredEntry(raw string) (streamID, text string, ok bool) {
	i := strings.Index(raw, storedEntrySep)
	if i < 0 {
		return "", "", false
	}
	return raw[:i], raw[i+len(storedEntrySep):], true
}
