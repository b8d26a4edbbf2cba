package schemas

import (
	"fmt"
	"path"
	"strings"
)

// MediaType is the kind of media a pipeline block operates on
type MediaType string

const (
	MediaTypeAuto  MediaType = "auto"
	MediaTypeVideo MediaType = "video"
	MediaTypeAudio MediaType = "audio"
	MediaTypeImage MediaType = "image"
)

// MediaTypes lists every media type a block header may declare
var MediaTypes = []MediaType{MediaTypeAuto, MediaTypeVideo, MediaTypeAudio, MediaTypeImage}

// ParseMediaType converts a block header keyword into a MediaType
func ParseMediaType(s string) (MediaType, error) {
	mt := MediaType(strings.ToLower(strings.TrimSpace(s)))
	if !mt.Valid() {
		return "", fmt.Errorf("unknown media type %q (valid: auto|video|audio|image)", s)
	}
	return mt, nil
}

// Valid reports whether mt is one of the four declared media types
func (mt MediaType) Valid() bool {
	for _, known := range MediaTypes {
		if mt == known {
			return true
		}
	}
	return false
}

// extensions maps file extensions to the media type they usually carry
var extensions = map[string]MediaType{
	".mp4":  MediaTypeVideo,
	".m4v":  MediaTypeVideo,
	".mov":  MediaTypeVideo,
	".mkv":  MediaTypeVideo,
	".webm": MediaTypeVideo,
	".avi":  MediaTypeVideo,
	".flv":  MediaTypeVideo,
	".ts":   MediaTypeVideo,
	".mpg":  MediaTypeVideo,
	".mpeg": MediaTypeVideo,
	".gif":  MediaTypeVideo,
	".mp3":  MediaTypeAudio,
	".m4a":  MediaTypeAudio,
	".aac":  MediaTypeAudio,
	".wav":  MediaTypeAudio,
	".flac": MediaTypeAudio,
	".ogg":  MediaTypeAudio,
	".opus": MediaTypeAudio,
	".wma":  MediaTypeAudio,
	".jpg":  MediaTypeImage,
	".jpeg": MediaTypeImage,
	".png":  MediaTypeImage,
	".webp": MediaTypeImage,
	".bmp":  MediaTypeImage,
	".tif":  MediaTypeImage,
	".tiff": MediaTypeImage,
}

// Extension returns the lower-cased extension of a local path or URI,
// ignoring any query string
func Extension(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 && strings.Contains(p, "://") {
		p = p[:i]
	}
	return strings.ToLower(path.Ext(p))
}

// DetectMediaType infers the media type of a file from its extension.
// It returns MediaTypeAuto when the extension is unknown.
func DetectMediaType(p string) MediaType {
	if mt, ok := extensions[Extension(p)]; ok {
		return mt
	}
	return MediaTypeAuto
}

// ResolveMediaType returns mt unless it is auto, in which case the type is
// detected from the input path
func ResolveMediaType(mt MediaType, input string) MediaType {
	if mt != MediaTypeAuto && mt != "" {
		return mt
	}
	return DetectMediaType(input)
}
