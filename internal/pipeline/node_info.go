package pipeline

import (
	"strings"

	"github.com/toydogcat/model-server/pkg/types"
)

// NodeKind identifies which of the three node variants a NodeInfo describes.
type NodeKind int

const (
	NodeEntry NodeKind = iota
	NodeDL
	NodeExit
)

func (k NodeKind) String() string {
	switch k {
	case NodeEntry:
		return "ENTRY"
	case NodeDL:
		return "DL"
	case NodeExit:
		return "EXIT"
	default:
		return "UNKNOWN"
	}
}

// NodeInfo describes one pipeline node at definition time.
// ModelVersion of 0 means "use the model's default at resolve time" — both
// at validation time (this implementation validates against the pinned
// version when present rather than always against the default) and at
// Pipeline construction time.
type NodeInfo struct {
	Name          string
	Kind          NodeKind
	ModelName     string
	ModelVersion  types.ModelVersion
	OutputAliases map[string]string // alias -> concrete model output name
}

// Connection is an oriented dependency from From to To, annotated with a
// non-empty producerAlias -> consumerInput mapping.
type Connection struct {
	From    string
	To      string
	Aliases map[string]string
}

// ParseNodeKind maps a config/wire "kind" string onto a NodeKind, shared by
// every caller that parses a pipeline definition from text (the HTTP admin
// API and the startup config loader) so both reject a typo'd kind with the
// same status rather than silently defaulting to NodeEntry's zero value.
func ParseNodeKind(s string) (NodeKind, error) {
	switch strings.ToUpper(s) {
	case "ENTRY":
		return NodeEntry, nil
	case "DL":
		return NodeDL, nil
	case "EXIT":
		return NodeExit, nil
	default:
		return 0, types.New(types.PIPELINE_NODE_WRONG_KIND_CONFIGURATION, "unknown node kind %q", s)
	}
}
