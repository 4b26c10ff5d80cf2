// Package patch applies text-level mutations to the indexed source tree.
// Anchors are literal or pattern-based and best-effort: an operation whose
// anchor is absent is a counted no-op that must never corrupt the file.
package patch

import "fmt"

// Kind identifies one of the five mutation kinds. Values match the wire
// names used in oracle change-set JSON.
type Kind string

const (
	KindAddMethod      Kind = "addMethod"
	KindUpdateMethod   Kind = "updateMethod"
	KindInsertAfter    Kind = "insertAfter"
	KindReplaceSection Kind = "replaceSection"
	KindCreateFile     Kind = "createFile"
)

// Operation is one self-contained source mutation. Operations do not
// reference each other and are applied independently in request order.
type Operation struct {
	File        string `json:"filePath"`
	Kind        Kind   `json:"operation"`
	Method      string `json:"method,omitempty"`
	Content     string `json:"content,omitempty"`
	Search      string `json:"search,omitempty"`
	InsertAfter string `json:"insertAfter,omitempty"`
}

// Validate checks that the operation carries the fields its kind requires.
func (op Operation) Validate() error {
	if op.File == "" {
		return fmt.Errorf("operation missing filePath")
	}
	switch op.Kind {
	case KindAddMethod:
		if op.Content == "" {
			return fmt.Errorf("addMethod on %s missing content", op.File)
		}
	case KindUpdateMethod:
		if op.Method == "" {
			return fmt.Errorf("updateMethod on %s missing method name", op.File)
		}
	case KindInsertAfter:
		if op.InsertAfter == "" {
			return fmt.Errorf("insertAfter on %s missing anchor", op.File)
		}
	case KindReplaceSection:
		if op.Search == "" {
			return fmt.Errorf("replaceSection on %s missing search text", op.File)
		}
	case KindCreateFile:
		// Empty content is a legal created file
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
	return nil
}

func (op Operation) String() string {
	switch op.Kind {
	case KindUpdateMethod:
		return fmt.Sprintf("%s(%s.%s)", op.Kind, op.File, op.Method)
	default:
		return fmt.Sprintf("%s(%s)", op.Kind, op.File)
	}
}
