package schema

import "fmt"

// ValidateIdentifier checks if a database identifier (table or column name)
// is safe to interpolate into SQL. Returns an error if the identifier
// contains characters that could enable SQL injection.
//
// Valid identifiers:
// - Start with letter or underscore
// - Contain only letters, digits, and underscores
// - Maximum length of 64 characters (MySQL limit)
// - Not empty
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}

	if len(name) > 64 {
		return fmt.Errorf("identifier too long: %d characters (max 64)", len(name))
	}

	first := rune(name[0])
	if !isValidIdentifierStart(first) {
		return fmt.Errorf("identifier must start with letter or underscore: %q", name)
	}

	for i, r := range name {
		if i == 0 {
			continue
		}
		if !isValidIdentifierChar(r) {
			return fmt.Errorf("identifier contains invalid character %q at position %d: %q", r, i, name)
		}
	}

	return nil
}

func isValidIdentifierStart(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
}

func isValidIdentifierChar(r rune) bool {
	return isValidIdentifierStart(r) || (r >= '0' && r <= '9')
}
