package logrouter

import (
	"regexp"
	"strings"
)

// symbolPattern matches mainland exchange symbols such as 600000.SH,
// 000001.SZ or 830799.BJ inside free-form message text.
var symbolPattern = regexp.MustCompile(`\d{6}\.(SZ|SH|BJ)`)

// Allowed decides whether a record belongs to the worker trading symbol.
//
// The rule, applied to every sink:
//  1. The symbol appears in the logger name: the record is the worker's own.
//  2. Otherwise, when the message mentions any symbol tokens, the record is
//     kept only if the worker's symbol is among them.
//  3. A record with no symbol tokens anywhere is a system log and is kept.
func Allowed(symbol string, loggerName, message string) bool {
	if symbol != "" && strings.Contains(loggerName, symbol) {
		return true
	}
	tokens := symbolPattern.FindAllString(message, -1)
	if len(tokens) == 0 {
		return true
	}
	for _, tok := range tokens {
		if tok == symbol {
			return true
		}
	}
	return false
}

// MessageTokens returns the symbol tokens mentioned in a message. Exposed
// for diagnostics.
func MessageTokens(message string) []string {
	return symbolPattern.FindAllString(message, -1)
}
