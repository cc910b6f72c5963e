package estimate

import (
	"mime"

	"github.com/gabriel-vasile/mimetype"
)

// DetectMIMEType returns the media type of an upload. The declared type is
// trusted unless it is missing or generic, in which case the content is
// sniffed.
func DetectMIMEType(declared string, data []byte) string {
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil &&
		mediaType != "" && mediaType != "application/octet-stream" {
		return mediaType
	}
	mediaType, _, err := mime.ParseMediaType(mimetype.Detect(data).String())
	if err != nil {
		return "application/octet-stream"
	}
	return mediaType
}
