package index

import "regexp"

// Symbol extraction is pattern-based on purpose: it feeds prompt
// construction, not a compiler. A function is any token sequence matching
// "[async] [function] identifier( ... ) {"; a class is "class identifier".
// Control-flow keywords are filtered so "if (...) {" is not a function.

var (
	functionPattern = regexp.MustCompile(`(?m)(?:async\s+)?(?:function\s+)?([A-Za-z_$][A-Za-z0-9_$]*)\s*\([^)]*\)\s*\{`)
	classPattern    = regexp.MustCompile(`(?m)\bclass\s+([A-Za-z_$][A-Za-z0-9_$]*)`)

	reservedWords = map[string]bool{
		"if": true, "for": true, "while": true, "switch": true,
		"catch": true, "return": true, "function": true, "async": true,
		"do": true, "else": true, "new": true, "typeof": true,
	}
)

// ExtractFunctions returns the names of function-like declarations found in
// content, in order of appearance, de-duplicated.
func ExtractFunctions(content string) []string {
	matches := functionPattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]bool)
	var names []string
	for _, m := range matches {
		name := m[1]
		if reservedWords[name] || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// ExtractClasses returns the names of class declarations found in content,
// in order of appearance, de-duplicated.
func ExtractClasses(content string) []string {
	matches := classPattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]bool)
	var names []string
	for _, m := range matches {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
