package schemas

import (
	"strconv"
	"time"
)

// MediaInfo contains detected media properties
type MediaInfo struct {
	Format       FormatInfo    `json:"format"`
	VideoStreams []VideoStream `json:"video_streams,omitempty"`
	AudioStreams []AudioStream `json:"audio_streams,omitempty"`
}

// FormatInfo contains format-level information
type FormatInfo struct {
	Filename string        `json:"filename,omitempty"`
	Format   string        `json:"format,omitempty"`
	Duration time.Duration `json:"duration"`
	Size     int64         `json:"size"`
	BitRate  int64         `json:"bit_rate,omitempty"`
}

// VideoStream represents a video stream
type VideoStream struct {
	Index       int     `json:"index"`
	Codec       string  `json:"codec"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FrameRate   float64 `json:"frame_rate"`
	PixelFormat string  `json:"pixel_format,omitempty"`
	BitRate     int64   `json:"bit_rate,omitempty"`
}

// AudioStream represents an audio stream
type AudioStream struct {
	Index      int    `json:"index"`
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitRate    int64  `json:"bit_rate,omitempty"`
}

// Metadata property names usable in conditions
const (
	PropWidth    = "width"
	PropHeight   = "height"
	PropDuration = "duration"
	PropSize     = "size"
	PropBitrate  = "bitrate"
	PropCodec    = "codec"
	PropFPS      = "fps"
)

// Properties lists every property a condition may reference
var Properties = []string{PropWidth, PropHeight, PropDuration, PropSize, PropBitrate, PropCodec, PropFPS}

// IsProperty reports whether name is a known metadata property
func IsProperty(name string) bool {
	for _, p := range Properties {
		if p == name {
			return true
		}
	}
	return false
}

// Metadata is the flat snapshot of a media file that conditions are
// evaluated against. Duration is in seconds, Size in bytes and Bitrate in
// bits per second.
type Metadata struct {
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Size     int64   `json:"size,omitempty"`
	Bitrate  int64   `json:"bitrate,omitempty"`
	Codec    string  `json:"codec,omitempty"`
	FPS      float64 `json:"fps,omitempty"`
}

// MetadataFromInfo flattens probe output. Video stream fields win over
// audio stream fields.
func MetadataFromInfo(info *MediaInfo) *Metadata {
	if info == nil {
		return &Metadata{}
	}

	m := &Metadata{
		Duration: info.Format.Duration.Seconds(),
		Size:     info.Format.Size,
		Bitrate:  info.Format.BitRate,
	}

	if len(info.VideoStreams) > 0 {
		v := info.VideoStreams[0]
		m.Width = v.Width
		m.Height = v.Height
		m.Codec = v.Codec
		m.FPS = v.FrameRate
		if m.Bitrate == 0 {
			m.Bitrate = v.BitRate
		}
	} else if len(info.AudioStreams) > 0 {
		a := info.AudioStreams[0]
		m.Codec = a.Codec
		if m.Bitrate == 0 {
			m.Bitrate = a.BitRate
		}
	}

	return m
}

// Property returns the string form of a named property
func (m *Metadata) Property(name string) (string, bool) {
	if m == nil {
		return "", false
	}
	switch name {
	case PropWidth:
		return strconv.Itoa(m.Width), true
	case PropHeight:
		return strconv.Itoa(m.Height), true
	case PropDuration:
		return strconv.FormatFloat(m.Duration, 'f', -1, 64), true
	case PropSize:
		return strconv.FormatInt(m.Size, 10), true
	case PropBitrate:
		return strconv.FormatInt(m.Bitrate, 10), true
	case PropCodec:
		return m.Codec, true
	case PropFPS:
		return strconv.FormatFloat(m.FPS, 'f', -1, 64), true
	}
	return "", false
}
