package dispatch

import "bytes"

// specialSelectors are the binary/special message selectors that take
// exactly one argument regardless of how many colons (zero) they
// contain, matching the reference interpreter's special-selector table.
var specialSelectors = [][]byte{
	[]byte("+"), []byte(","), []byte("-"), []byte("/"), []byte("*"), []byte(">"),
	[]byte("<"), []byte("<="), []byte(">="), []byte("="), []byte("~="), []byte("=="),
	[]byte("~=="), []byte("&&"), []byte("||"), []byte("\\"),
}

// Arity returns the number of arguments selector takes: 1 for a special
// (binary) selector, otherwise the number of colons in a keyword
// selector (0 for a unary selector).
func Arity(selector []byte) int {
	for _, s := range specialSelectors {
		if bytes.Equal(s, selector) {
			return 1
		}
	}
	n := 0
	for _, b := range selector {
		if b == ':' {
			n++
		}
	}
	return n
}
