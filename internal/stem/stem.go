package stem

import (
	"fmt"
	"path"
)

// Category is the closed set of stem kinds. Consumption sites switch
// exhaustively over it so a new category is a compile-time visible change.
type Category string

const (
	CategoryName      Category = "name"
	CategoryDeveloper Category = "developer"
	CategoryScript    Category = "script"
	CategoryGeneric   Category = "generic"
	CategorySilence   Category = "silence"
)

// Categories returns every known category in stable order.
func Categories() []Category {
	return []Category{CategoryName, CategoryDeveloper, CategoryScript, CategoryGeneric, CategorySilence}
}

// ParseCategory validates a raw category string.
func ParseCategory(raw string) (Category, error) {
	switch Category(raw) {
	case CategoryName, CategoryDeveloper, CategoryScript, CategoryGeneric, CategorySilence:
		return Category(raw), nil
	}
	return "", fmt.Errorf("unknown stem category %q", raw)
}

// Fragment is a single physical audio asset. Fragments are never mutated in
// place: a changed identity is a new fragment under a new identifier.
type Fragment struct {
	ID         string
	Category   Category
	Slug       string
	LocalPath  string
	RemoteKey  string
	SampleRate int
	BitDepth   int
	Channels   int
	DurationMS float64
	Checksum   string
}

// RemoteKey derives the object-store key for an identifier. The remote
// hierarchy mirrors the local one and is a pure function of the identifier.
func RemoteKey(id string) string {
	cat, _, ok := ParseID(id)
	if !ok {
		return path.Join("stems", id+".wav")
	}
	return path.Join("stems", string(cat), id+".wav")
}

// OutputRemoteKey derives the object-store key for a merged output file.
func OutputRemoteKey(filename string) string {
	return path.Join("outputs", filename)
}
