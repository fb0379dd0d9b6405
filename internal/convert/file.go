package convert

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"epd7in3f/internal/epd"
)

// ReadFramebuffer reads exactly one raw framebuffer from r.
func ReadFramebuffer(r io.Reader) (epd.Framebuffer, error) {
	buf, err := io.ReadAll(io.LimitReader(r, epd.FrameSize+1))
	if err != nil {
		return epd.Framebuffer{}, fmt.Errorf("convert: read framebuffer: %w", err)
	}
	return epd.NewFramebuffer(buf)
}

// LoadFramebuffer reads a raw .bin framebuffer file from fsys.
func LoadFramebuffer(fsys afero.Fs, path string) (epd.Framebuffer, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return epd.Framebuffer{}, err
	}
	defer f.Close()
	fb, err := ReadFramebuffer(f)
	if err != nil {
		return epd.Framebuffer{}, fmt.Errorf("%s: %w", path, err)
	}
	return fb, nil
}

// SaveFramebuffer writes fb as a raw .bin file on fsys.
func SaveFramebuffer(fsys afero.Fs, path string, fb epd.Framebuffer) error {
	if !fb.Valid() {
		return epd.ErrGeometryMismatch
	}
	return afero.WriteFile(fsys, path, fb.Bytes(), 0o644)
}

// ArrayName derives the C symbol for an image file, e.g. "photo.png" gives
// "photoImage7colour".
func ArrayName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "_" + name
	}
	return name + "Image7colour"
}

// WriteC writes fb as a C source array named name, 16 bytes per line.
func WriteC(w io.Writer, name, header string, fb epd.Framebuffer) error {
	if !fb.Valid() {
		return epd.ErrGeometryMismatch
	}
	bw := bufio.NewWriter(w)
	if header != "" {
		fmt.Fprintf(bw, "#include \"%s\"\n\n", header)
	}
	fmt.Fprintf(bw, "const unsigned char %s[%d] = {", name, epd.FrameSize)
	for i, b := range fb.Bytes() {
		if i%16 == 0 {
			bw.WriteString("\n")
		}
		fmt.Fprintf(bw, "0x%02x,", b)
	}
	bw.WriteString("\n};\n")
	return bw.Flush()
}

// WriteHeader writes the matching extern declaration for WriteC output.
func WriteHeader(w io.Writer, guard, name string) error {
	guard = "_" + strings.ToUpper(guard) + "_H_"
	_, err := fmt.Fprintf(w, "#ifndef %s\n#define %s\n\nextern const unsigned char %s[];\n\n#endif\n", guard, guard, name)
	return err
}
