package compiler

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chicogong/affect/pkg/schemas"
)

// ArtifactVersion is the current compiled artifact format
const ArtifactVersion = 1

// ErrArtifactVersion is returned for artifacts written by an incompatible
// format version
var ErrArtifactVersion = errors.New("unsupported artifact version")

// Artifact is the persisted form of a compiled program
type Artifact struct {
	Version   int                         `json:"version"`
	Source    string                      `json:"source,omitempty"`
	Pipelines []*schemas.ExecutionContext `json:"pipelines"`
}

// MarshalArtifact encodes compiled pipelines as indented JSON. source
// optionally names the file they were compiled from.
func MarshalArtifact(pipelines []*schemas.ExecutionContext, source string) ([]byte, error) {
	a := Artifact{Version: ArtifactVersion, Source: source, Pipelines: pipelines}
	if a.Pipelines == nil {
		a.Pipelines = []*schemas.ExecutionContext{}
	}
	return json.MarshalIndent(a, "", "  ")
}

// UnmarshalArtifact decodes an artifact produced by MarshalArtifact
func UnmarshalArtifact(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if a.Version != ArtifactVersion {
		return nil, fmt.Errorf("%w: %d (want %d)", ErrArtifactVersion, a.Version, ArtifactVersion)
	}
	for i, p := range a.Pipelines {
		if p == nil {
			return nil, fmt.Errorf("decode artifact: pipeline %d is null", i)
		}
		if !p.MediaType.Valid() {
			return nil, fmt.Errorf("decode artifact: pipeline %d: unknown media type %q", i, p.MediaType)
		}
	}
	return &a, nil
}
