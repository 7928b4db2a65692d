package code

// Tag identifies the provenance of a segment. It is a closed set: every
// segment in a block carries exactly one of these.
type Tag uint8

const (
	// TagUnknown is the zero value; segments never carry it after construction.
	TagUnknown Tag = iota
	// TagOriginalUserCode is fresh user input with full offset metadata.
	TagOriginalUserCode
	// TagOtherUserCode is user code for which the original offsets are gone
	// (items re-emitted from previous submissions).
	TagOtherUserCode
	// TagPackVariable is generated code that moves one variable in or out of
	// the variable store.
	TagPackVariable
	// TagWithFallback is generated code with a replacement to try if it fails
	// to compile.
	TagWithFallback
	// TagOtherGeneratedCode is generated code we don't expect errors from.
	TagOtherGeneratedCode
	// TagCommand is a colon command captured before the first code line.
	TagCommand
)

func (t Tag) String() string {
	switch t {
	case TagOriginalUserCode:
		return "original_user_code"
	case TagOtherUserCode:
		return "other_user_code"
	case TagPackVariable:
		return "pack_variable"
	case TagWithFallback:
		return "with_fallback"
	case TagOtherGeneratedCode:
		return "other_generated_code"
	case TagCommand:
		return "command"
	}
	return "unknown"
}

// UserCodeMeta carries offsets into the user's original input. Present only
// on TagOriginalUserCode segments.
type UserCodeMeta struct {
	// StartByte is the byte offset of the segment in the original input.
	StartByte int
	// StartLine is the 1-based line on which the segment starts.
	StartLine int
	// StartColumn is the 1-based column (in Unicode scalar values) at which
	// the segment starts on its first line.
	StartColumn int
}

// CommandCall is a parsed colon command (":dep serde", ":clear", ...).
type CommandCall struct {
	Command string
	Args    string
	// StartByte and LineNumber locate the command in the original input.
	StartByte  int
	LineNumber int
}

// Kind is the provenance of a segment: a tag plus tag-specific payload.
// Payload fields for tags other than the active one stay zero.
type Kind struct {
	Tag Tag
	// Meta is set for TagOriginalUserCode.
	Meta UserCodeMeta
	// VariableName is set for TagPackVariable.
	VariableName string
	// Fallback is set for TagWithFallback.
	Fallback *Block
	// Command is set for TagCommand.
	Command *CommandCall
}

// IsUserSupplied reports whether code with this kind was typed by the user.
func (k Kind) IsUserSupplied() bool {
	return k.Tag == TagOriginalUserCode || k.Tag == TagOtherUserCode
}

// Equal compares kinds by tag and payload identity relevant to that tag.
func (k Kind) Equal(other Kind) bool {
	if k.Tag != other.Tag {
		return false
	}
	switch k.Tag {
	case TagOriginalUserCode:
		return k.Meta == other.Meta
	case TagPackVariable:
		return k.VariableName == other.VariableName
	default:
		return true
	}
}

// OriginalUserCode returns a kind for fresh user input.
func OriginalUserCode(meta UserCodeMeta) Kind {
	return Kind{Tag: TagOriginalUserCode, Meta: meta}
}

// OtherUserCode returns a kind for user code without offset metadata.
func OtherUserCode() Kind { return Kind{Tag: TagOtherUserCode} }

// PackVariable returns a kind for store pack/unpack code for one variable.
func PackVariable(name string) Kind {
	return Kind{Tag: TagPackVariable, VariableName: name}
}

// WithFallback returns a kind whose segment may be swapped for fallback.
func WithFallback(fallback *Block) Kind {
	return Kind{Tag: TagWithFallback, Fallback: fallback}
}

// OtherGeneratedCode returns a kind for generated glue code.
func OtherGeneratedCode() Kind { return Kind{Tag: TagOtherGeneratedCode} }

// Command returns a kind for a captured colon command.
func Command(call *CommandCall) Kind {
	return Kind{Tag: TagCommand, Command: call}
}
