package schemas

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// OpType identifies the kind of a compiled operation
type OpType string

const (
	OpInput  OpType = "input"
	OpSave   OpType = "save"
	OpResize OpType = "resize"
	OpEncode OpType = "encode"
	OpFilter OpType = "filter"
	OpCrop   OpType = "crop"
	OpRotate OpType = "rotate"
	OpIf     OpType = "if"

	// Pass-through operations map directly onto backend output options
	OpVideoCodec     OpType = "videoCodec"
	OpVideoBitrate   OpType = "videoBitrate"
	OpAudioCodec     OpType = "audioCodec"
	OpAudioBitrate   OpType = "audioBitrate"
	OpFormat         OpType = "format"
	OpSize           OpType = "size"
	OpFPS            OpType = "fps"
	OpNoVideo        OpType = "noVideo"
	OpNoAudio        OpType = "noAudio"
	OpAudioChannels  OpType = "audioChannels"
	OpAudioFrequency OpType = "audioFrequency"
	OpOutputOptions  OpType = "outputOptions"
)

// PassThroughOps lists the operations that carry a single backend option value
var PassThroughOps = []OpType{
	OpVideoCodec, OpVideoBitrate, OpAudioCodec, OpAudioBitrate, OpFormat, OpSize,
	OpFPS, OpNoVideo, OpNoAudio, OpAudioChannels, OpAudioFrequency, OpOutputOptions,
}

// IsPassThrough reports whether t is one of the pass-through operations
func (t OpType) IsPassThrough() bool {
	for _, p := range PassThroughOps {
		if t == p {
			return true
		}
	}
	return false
}

// Sentinel is a named placeholder allowed in place of a numeric coordinate
type Sentinel string

const (
	SentinelNone   Sentinel = ""
	SentinelAuto   Sentinel = "auto"
	SentinelCenter Sentinel = "center"
)

// Dim is a pixel value that is either a number or a sentinel. The zero
// value is the number 0.
type Dim struct {
	Value    int
	Sentinel Sentinel
}

// Px returns a numeric Dim
func Px(v int) *Dim {
	return &Dim{Value: v}
}

// Auto returns the auto sentinel
func Auto() *Dim {
	return &Dim{Sentinel: SentinelAuto}
}

// Center returns the center sentinel
func Center() *Dim {
	return &Dim{Sentinel: SentinelCenter}
}

// IsAuto reports whether d is the auto sentinel
func (d *Dim) IsAuto() bool {
	return d != nil && d.Sentinel == SentinelAuto
}

// IsCenter reports whether d is the center sentinel
func (d *Dim) IsCenter() bool {
	return d != nil && d.Sentinel == SentinelCenter
}

// String returns the DSL spelling of d
func (d Dim) String() string {
	if d.Sentinel != SentinelNone {
		return string(d.Sentinel)
	}
	return strconv.Itoa(d.Value)
}

// MarshalJSON encodes numbers as JSON numbers and sentinels as strings
func (d Dim) MarshalJSON() ([]byte, error) {
	if d.Sentinel != SentinelNone {
		return json.Marshal(string(d.Sentinel))
	}
	return json.Marshal(d.Value)
}

// UnmarshalJSON accepts a number or one of the sentinel strings
func (d *Dim) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*d = Dim{Value: n}
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("dimension must be a number or a sentinel string: %w", err)
	}
	parsed, err := ParseDim(s, true)
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}

// ParseDim parses a DSL dimension. allowCenter enables the center sentinel.
func ParseDim(s string, allowCenter bool) (*Dim, error) {
	switch Sentinel(s) {
	case SentinelAuto:
		return Auto(), nil
	case SentinelCenter:
		if !allowCenter {
			return nil, fmt.Errorf("%q is only allowed for crop offsets", s)
		}
		return Center(), nil
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("%q is not a number, auto or center", s)
	}
	if v < 0 {
		return nil, fmt.Errorf("%q must not be negative", s)
	}
	return Px(v), nil
}

// Operation is a compiled, backend-agnostic pipeline step. Only the fields
// relevant to Type are set.
type Operation struct {
	Type OpType `json:"type"`

	// input, save
	Path string `json:"path,omitempty"`

	// resize, crop
	Width  *Dim `json:"width,omitempty"`
	Height *Dim `json:"height,omitempty"`
	X      *Dim `json:"x,omitempty"`
	Y      *Dim `json:"y,omitempty"`

	// encode
	Codec string `json:"codec,omitempty"`
	Param string `json:"param,omitempty"`

	// filter
	Name string `json:"name,omitempty"`

	// filter value and pass-through option value
	Value string `json:"value,omitempty"`

	// outputOptions
	Args []string `json:"args,omitempty"`

	// rotate
	Angle float64 `json:"angle,omitempty"`
	Flip  string  `json:"flip,omitempty"`

	// if
	Condition      *Condition  `json:"condition,omitempty"`
	ThenOperations []Operation `json:"then_operations,omitempty"`
	ElseOperations []Operation `json:"else_operations,omitempty"`
}

// Clone returns a deep copy of the operation
func (op Operation) Clone() Operation {
	out := op
	out.Width = cloneDim(op.Width)
	out.Height = cloneDim(op.Height)
	out.X = cloneDim(op.X)
	out.Y = cloneDim(op.Y)
	if op.Args != nil {
		out.Args = append([]string(nil), op.Args...)
	}
	if op.Condition != nil {
		c := op.Condition.Clone()
		out.Condition = &c
	}
	out.ThenOperations = CloneOperations(op.ThenOperations)
	out.ElseOperations = CloneOperations(op.ElseOperations)
	return out
}

// CloneOperations deep-copies an operation list
func CloneOperations(ops []Operation) []Operation {
	if ops == nil {
		return nil
	}
	out := make([]Operation, len(ops))
	for i, op := range ops {
		out[i] = op.Clone()
	}
	return out
}

func cloneDim(d *Dim) *Dim {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// Flip directions accepted by rotate
const (
	FlipHorizontal = "horizontal"
	FlipVertical   = "vertical"
)
