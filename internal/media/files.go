package media

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Container is the output file format.
type Container string

const (
	ContainerMP4  Container = "mp4"
	ContainerWebM Container = "webm"
	Container3GP  Container = "3gp"
)

var containerMimeTypes = map[Container]string{
	ContainerMP4:  "video/mp4",
	ContainerWebM: "video/webm",
	Container3GP:  "video/3gpp",
}

// Extension returns the file extension without the dot.
func (c Container) Extension() string {
	return string(c)
}

// MimeType returns the mime type registered with the media index.
func (c Container) MimeType() string {
	return containerMimeTypes[c]
}

// ContainerForPath resolves a container from a file extension.
func ContainerForPath(path string) (Container, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	c := Container(ext)
	_, ok := containerMimeTypes[c]
	return c, ok
}

// MimeTypeForPath returns the container mime type of a recording, or "" when
// the extension is not a known video container.
func MimeTypeForPath(path string) string {
	c, ok := ContainerForPath(path)
	if !ok {
		return ""
	}
	return c.MimeType()
}

// OutputFileName names a recording after its start time,
// e.g. 20240131_142501_07.mp4. Milliseconds keep at least two digits.
func OutputFileName(t time.Time, c Container) string {
	return fmt.Sprintf("%s_%02d.%s", t.Format("20060102_150405"), t.Nanosecond()/int(time.Millisecond), c.Extension())
}
