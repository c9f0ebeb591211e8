package schema

import "fmt"

// ParseError reports an XSD document that is not well-formed XML or not
// structurally valid XSD.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("schema parse failed: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnsupportedFeatureError reports an XSD construct outside the supported
// subset. It is surfaced at load time rather than silently ignored.
type UnsupportedFeatureError struct {
	Feature string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("unsupported schema feature: %s", e.Feature)
}
