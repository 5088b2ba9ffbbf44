package types

import "fmt"

// Code is a stable status identifier the core emits across both the
// single-model predict path and the pipeline path.
type Code int

const (
	OK Code = iota
	MODEL_NAME_MISSING
	MODEL_MISSING
	MODEL_VERSION_MISSING
	MODEL_VERSION_NOT_LOADED
	INVALID_MISSING_INPUT
	INVALID_MISSING_OUTPUT
	FORBIDDEN_MODEL_DYNAMIC_PARAMETER
	PIPELINE_DEFINITION_NAME_MISSING
	PIPELINE_DEFINITION_ALREADY_EXIST
	PIPELINE_NODE_NAME_DUPLICATE
	PIPELINE_NODE_WRONG_KIND_CONFIGURATION
	PIPELINE_MISSING_ENTRY_OR_EXIT
	PIPELINE_MULTIPLE_ENTRY_NODES
	PIPELINE_MULTIPLE_EXIT_NODES
	PIPELINE_CYCLE_FOUND
	PIPELINE_CONTAINS_UNCONNECTED_NODES
	PIPELINE_DEFINITION_MISSING_DEPENDENCY_MAPPING
	// PIPELINE_NODE_REFERENCE_MISSING distinguishes a dangling node
	// reference inside a connection from an unknown model name, rather
	// than collapsing both into MODEL_NAME_MISSING.
	PIPELINE_NODE_REFERENCE_MISSING
)

var codeNames = map[Code]string{
	OK:                                              "OK",
	MODEL_NAME_MISSING:                              "MODEL_NAME_MISSING",
	MODEL_MISSING:                                   "MODEL_MISSING",
	MODEL_VERSION_MISSING:                           "MODEL_VERSION_MISSING",
	MODEL_VERSION_NOT_LOADED:                        "MODEL_VERSION_NOT_LOADED",
	INVALID_MISSING_INPUT:                           "INVALID_MISSING_INPUT",
	INVALID_MISSING_OUTPUT:                          "INVALID_MISSING_OUTPUT",
	FORBIDDEN_MODEL_DYNAMIC_PARAMETER:               "FORBIDDEN_MODEL_DYNAMIC_PARAMETER",
	PIPELINE_DEFINITION_NAME_MISSING:                "PIPELINE_DEFINITION_NAME_MISSING",
	PIPELINE_DEFINITION_ALREADY_EXIST:               "PIPELINE_DEFINITION_ALREADY_EXIST",
	PIPELINE_NODE_NAME_DUPLICATE:                    "PIPELINE_NODE_NAME_DUPLICATE",
	PIPELINE_NODE_WRONG_KIND_CONFIGURATION:          "PIPELINE_NODE_WRONG_KIND_CONFIGURATION",
	PIPELINE_MISSING_ENTRY_OR_EXIT:                  "PIPELINE_MISSING_ENTRY_OR_EXIT",
	PIPELINE_MULTIPLE_ENTRY_NODES:                   "PIPELINE_MULTIPLE_ENTRY_NODES",
	PIPELINE_MULTIPLE_EXIT_NODES:                    "PIPELINE_MULTIPLE_EXIT_NODES",
	PIPELINE_CYCLE_FOUND:                            "PIPELINE_CYCLE_FOUND",
	PIPELINE_CONTAINS_UNCONNECTED_NODES:             "PIPELINE_CONTAINS_UNCONNECTED_NODES",
	PIPELINE_DEFINITION_MISSING_DEPENDENCY_MAPPING:  "PIPELINE_DEFINITION_MISSING_DEPENDENCY_MAPPING",
	PIPELINE_NODE_REFERENCE_MISSING:                 "PIPELINE_NODE_REFERENCE_MISSING",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error is the single error value type the core returns. It carries a
// status code plus free-form context, mirroring internal/manager/errors.go's
// typed-error style but collapsed into one type since the taxonomy here is
// data, not behavior, per call site.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StatusCode maps a core error onto an HTTP status, letting the shell avoid
// a switch on Code at every handler (see internal/httpapi.HTTPError).
func (e *Error) StatusCode() int {
	switch e.Code {
	case OK:
		return 200
	case MODEL_NAME_MISSING, MODEL_MISSING, MODEL_VERSION_MISSING,
		PIPELINE_DEFINITION_NAME_MISSING, PIPELINE_NODE_REFERENCE_MISSING:
		return 404
	case MODEL_VERSION_NOT_LOADED:
		return 409
	case PIPELINE_DEFINITION_ALREADY_EXIST:
		return 409
	case INVALID_MISSING_INPUT, INVALID_MISSING_OUTPUT,
		FORBIDDEN_MODEL_DYNAMIC_PARAMETER,
		PIPELINE_NODE_NAME_DUPLICATE, PIPELINE_NODE_WRONG_KIND_CONFIGURATION,
		PIPELINE_MISSING_ENTRY_OR_EXIT, PIPELINE_MULTIPLE_ENTRY_NODES,
		PIPELINE_MULTIPLE_EXIT_NODES, PIPELINE_CYCLE_FOUND,
		PIPELINE_CONTAINS_UNCONNECTED_NODES,
		PIPELINE_DEFINITION_MISSING_DEPENDENCY_MAPPING:
		return 400
	default:
		return 500
	}
}

// New builds an *Error carrying code and a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Is reports whether err is a *Error with the given code.
func Is(err error, code Code) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}
