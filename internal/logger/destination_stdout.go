package logger

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/gookit/color"
	"golang.org/x/term"
)

func renderGray(s string) string  { return color.RenderString(color.Gray.Code(), s) }
func renderDebug(s string) string { return color.RenderString(color.Debug.Code(), s) }
func renderInfo(s string) string  { return color.RenderString(color.Info.Code(), s) }
func renderWarn(s string) string  { return color.RenderString(color.Warn.Code(), s) }
func renderError(s string) string { return color.RenderString(color.Error.Code(), s) }

type destinationStdout struct {
	w        io.Writer
	useColor bool
	buf      bytes.Buffer
}

func newDestinationStdout(w io.Writer) destination {
	return &destinationStdout{
		w:        w,
		useColor: w == os.Stdout && term.IsTerminal(int(os.Stdout.Fd())),
	}
}

func (d *destinationStdout) log(t time.Time, level Level, format string, args ...interface{}) {
	formatEntry(&d.buf, t, level, d.useColor, format, args)
	d.w.Write(d.buf.Bytes()) //nolint:errcheck
}

func (d *destinationStdout) close() {
}
