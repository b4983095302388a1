package refine

import "strings"

// declarationAnchors is the broadened set of declaration-anchor keywords
// the retype substitution recognizes before a variable name.
// undefined{,1,2,4,8} are the decompiler's own placeholder types for
// unrecovered declarations.
var declarationAnchors = map[string]bool{
	"int": true, "uint": true, "char": true, "short": true, "long": true,
	"float": true, "double": true,
	"undefined": true, "undefined1": true, "undefined2": true,
	"undefined4": true, "undefined8": true,
}

// RenameIdentifiers replaces every identifier token matching a key in
// renames with its mapped value, leaving string/char literals and
// comments untouched. Idempotent: running it again on already-renamed
// identifiers is a no-op, since renamed identifiers are no longer keys of
// renames.
func RenameIdentifiers(tokens []Token, renames map[string]string) []Token {
	if len(renames) == 0 {
		return tokens
	}
	out := make([]Token, len(tokens))
	for i, t := range tokens {
		if t.Kind == TokenIdentifier {
			if newName, ok := renames[t.Text]; ok {
				out[i] = Token{Kind: TokenIdentifier, Text: newName}
				continue
			}
		}
		out[i] = t
	}
	return out
}

// ApplyRetypes rewrites declaration anchors immediately preceding a
// variable's identifier token with its confirmed type: matches an anchor
// keyword, optional asterisks and whitespace, then the bound variable
// name, and replaces the anchor with the confirmed type verbatim. The
// variable name passed in must be the PRE-rename name — retyping is
// matched against the original declaration before RenameIdentifiers runs,
// so callers should apply ApplyRetypes first, then RenameIdentifiers.
//
// Declarations whose anchor is not in the broadened declarationAnchors set
// are left untouched and reported via the returned warnings slice.
func ApplyRetypes(tokens []Token, confirmedTypes map[string]string) ([]Token, []string) {
	if len(confirmedTypes) == 0 {
		return tokens, nil
	}

	out := append([]Token(nil), tokens...)
	var warnings []string

	// Map variable name -> proposed type for quick lookup while scanning.
	for varName, newType := range confirmedTypes {
		anchorIdx, isKnownAnchor, found := findDeclarationAnchor(out, varName)
		if !found {
			warnings = append(warnings, "no declaration anchor found for variable "+varName+"; type left as-is")
			continue
		}
		if !isKnownAnchor {
			warnings = append(warnings, "retyped "+varName+" using a generic (unrecognized) declaration anchor "+out[anchorIdx].Text)
		}
		// Replace the anchor token's text with the proposed type. Any
		// asterisks between anchor and variable name are left in place so
		// `int *y` correctly becomes `T *y`.
		out[anchorIdx] = Token{Kind: TokenIdentifier, Text: newType}
	}

	return out, warnings
}

// findDeclarationAnchor scans for the last identifier token equal to
// varName and walks backward over "other" tokens containing only asterisks
// and whitespace to find a preceding anchor keyword. If that keyword is
// not in the known declarationAnchors set, it is still used as a generic
// fallback anchor, and isKnownAnchor is false.
func findDeclarationAnchor(tokens []Token, varName string) (idx int, isKnownAnchor bool, found bool) {
	for i, t := range tokens {
		if t.Kind != TokenIdentifier || t.Text != varName {
			continue
		}
		j := i - 1
		for j >= 0 && tokens[j].Kind == TokenOther && isStarsAndSpace(tokens[j].Text) {
			j--
		}
		if j >= 0 && tokens[j].Kind == TokenIdentifier {
			return j, declarationAnchors[tokens[j].Text], true
		}
	}
	return 0, false, false
}

func isStarsAndSpace(s string) bool {
	for _, r := range s {
		if r != '*' && r != ' ' && r != '\t' {
			return false
		}
	}
	return true
}

// CountBraces returns the number of '{' and '}' characters in text,
// ignoring nothing — this is a raw count, not a parse.
func CountBraces(text string) (open, close int) {
	open = strings.Count(text, "{")
	close = strings.Count(text, "}")
	return
}
