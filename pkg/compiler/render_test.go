package compiler

import (
	"errors"
	"go/parser"
	"go/token"
	"strings"
	"testing"

	"github.com/chicogong/affect/pkg/schemas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRender_Scenario(t *testing.T) {
	pipelines, err := CompileSource(scenario, map[string]string{"input": "in.mp4", "output": "out.mp4"})
	require.NoError(t, err)

	src, err := Render(pipelines, RenderOptions{})
	require.NoError(t, err)
	out := string(src)

	assert.Contains(t, out, "// Code generated by affect. DO NOT EDIT.")
	assert.Contains(t, out, "package pipeline")
	assert.Contains(t, out, `cmd, err := b.CreateCommand("in.mp4", mediaType)`)
	assert.Contains(t, out, `schemas.Operation{Type: schemas.OpResize, Width: schemas.Px(1280), Height: schemas.Px(720)}`)
	assert.Contains(t, out, `schemas.Operation{Type: schemas.OpEncode, Codec: "h264", Param: "2000"}`)
	assert.Contains(t, out, `return b.Execute(ctx, cmd, "out.mp4")`)
	assert.NotContains(t, out, "GetMetadata", "metadata is only probed for conditionals")

	resize := strings.Index(out, "OpResize")
	encode := strings.Index(out, "OpEncode")
	assert.Less(t, resize, encode, "operations keep source order")
}

func TestRender_NestedConditionals(t *testing.T) {
	src := `affect video {
  input a.mp4
  if width > 1920 or codec == "hevc" {
    if fps > 30 {
      fps 30
    } else {
      crop center center 640 360
    }
  } else {
    outputOptions -tag:v "hvc1"
  }
}`
	pipelines, err := CompileSource(src, nil)
	require.NoError(t, err)

	out, err := Render(pipelines, RenderOptions{Package: "jobs", FuncName: "Process"})
	require.NoError(t, err)
	text := string(out)

	assert.Contains(t, text, "package jobs")
	assert.Contains(t, text, "func Process(ctx context.Context, b backend.Backend) error")
	assert.Contains(t, text, "X: schemas.Center(), Y: schemas.Center()")
	assert.Contains(t, text, `Args: []string{"-tag:v", "hvc1"}`)
	assert.Contains(t, text, `return b.Execute(ctx, cmd, "")`)
	assert.Equal(t, 1, strings.Count(text, "b.GetMetadata("))
	assert.Equal(t, 2, strings.Count(text, ".Evaluate(m)"))

	_, perr := parser.ParseFile(token.NewFileSet(), "gen.go", out, parser.AllErrors)
	assert.NoError(t, perr)
}

func TestRender_UnknownOperation(t *testing.T) {
	_, err := Render([]*schemas.ExecutionContext{{
		Input:      "a.mp4",
		MediaType:  schemas.MediaTypeVideo,
		Operations: []schemas.Operation{{Type: "sharpen"}},
	}}, RenderOptions{})
	assert.ErrorContains(t, err, `unknown operation "sharpen"`)
}

func TestRender_AlwaysWellFormed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		src, vars := genSource(t)
		pipelines, err := CompileSource(src, vars)
		if err != nil {
			t.Fatalf("compile failed: %v", err)
		}
		out, err := Render(pipelines, RenderOptions{})
		if err != nil {
			t.Fatalf("render failed: %v\n%s", err, src)
		}
		if _, err := parser.ParseFile(token.NewFileSet(), "gen.go", out, 0); err != nil {
			t.Fatalf("generated source does not parse: %v\n%s", err, out)
		}
	})
}

func TestArtifact_RoundTrip(t *testing.T) {
	pipelines, err := CompileSource(scenario, map[string]string{"input": "in.mp4", "output": "out.mp4"})
	require.NoError(t, err)

	data, err := MarshalArtifact(pipelines, "scenario.affect")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version": 1`)

	a, err := UnmarshalArtifact(data)
	require.NoError(t, err)
	assert.Equal(t, "scenario.affect", a.Source)
	assert.Equal(t, pipelines, a.Pipelines)
}

func TestArtifact_Errors(t *testing.T) {
	_, err := UnmarshalArtifact([]byte(`{"version": 7, "pipelines": []}`))
	assert.True(t, errors.Is(err, ErrArtifactVersion))

	_, err = UnmarshalArtifact([]byte(`{"version": 1, "pipelines": [{"input": "a", "media_type": "smell"}]}`))
	assert.ErrorContains(t, err, "unknown media type")

	_, err = UnmarshalArtifact([]byte(`not json`))
	assert.ErrorContains(t, err, "decode artifact")
}
