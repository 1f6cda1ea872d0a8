package engine

import (
	"errors"
	"os"
	"strings"

	"github.com/alexisbeaulieu97/kettle/internal/ports"
)

const (
	// TextTemplate renders a failure record as plain text.
	TextTemplate = "user-code-error.txt"
	// HTMLTemplate renders a failure record as an HTML fragment.
	HTMLTemplate = "user-code-error.html"
)

// FailureRecord is the data handed to the error templates. Field names are
// part of the template contract.
type FailureRecord struct {
	Type    string        `json:"type"`
	Message string        `json:"message"`
	Stack   []ports.Frame `json:"stack"`
}

// Fields returns the record as the template field set: type, message and
// stack, where each frame maps filename, location (nil at module level),
// line_number and line.
func (f FailureRecord) Fields() map[string]any {
	stack := make([]map[string]any, 0, len(f.Stack))
	for _, frame := range f.Stack {
		var location any
		if frame.Location != "" {
			location = frame.Location
		}
		stack = append(stack, map[string]any{
			"filename":    frame.Filename,
			"location":    location,
			"line_number": frame.LineNumber,
			"line":        frame.Line,
		})
	}
	return map[string]any{
		"type":    f.Type,
		"message": f.Message,
		"stack":   stack,
	}
}

// Reporter builds and renders failure records.
type Reporter struct {
	Sanitizer StackSanitizer
	Renderer  ports.TemplateRenderer
}

// CompileFailure builds the single-frame record for a syntax error.
func (r *Reporter) CompileFailure(err *ports.CompileError, sourceRoot string) FailureRecord {
	frame := FormatFrame(ports.Frame{
		Filename:   err.Filename,
		LineNumber: err.LineNumber,
		Line:       err.Line,
	}, sourceRoot)
	return FailureRecord{
		Type:    err.Type(),
		Message: firstLine(err.Message),
		Stack:   []ports.Frame{frame},
	}
}

// RuntimeFailure builds the record for an error raised by step code. Frame
// text is filled from the step source for the step's own file and from disk
// for anything else.
func (r *Reporter) RuntimeFailure(err error, stepPath, source, sourceRoot string) FailureRecord {
	var runtimeErr *ports.RuntimeError
	if !errors.As(err, &runtimeErr) {
		return FailureRecord{
			Type:    "Error",
			Message: firstLine(err.Error()),
			Stack:   []ports.Frame{FormatFrame(ports.Frame{Filename: stepPath}, sourceRoot)},
		}
	}

	lines := newLineCache(stepPath, source)
	frames := make([]ports.Frame, 0, len(runtimeErr.Frames))
	for _, frame := range runtimeErr.Frames {
		if frame.Line == "" {
			frame.Line = lines.get(frame.Filename, frame.LineNumber)
		}
		frames = append(frames, frame)
	}
	if len(frames) == 0 {
		frames = append(frames, ports.Frame{Filename: stepPath, Location: ports.ModuleMarker})
	}

	kind := runtimeErr.Kind
	if kind == "" {
		kind = "Error"
	}
	return FailureRecord{
		Type:    kind,
		Message: firstLine(runtimeErr.Message),
		Stack:   r.Sanitizer.Sanitize(frames, sourceRoot),
	}
}

// Render produces the text and HTML renderings of record.
func (r *Reporter) Render(record FailureRecord) (string, string, error) {
	fields := record.Fields()
	text, err := r.Renderer.RenderTemplate(TextTemplate, fields)
	if err != nil {
		return "", "", err
	}
	html, err := r.Renderer.RenderTemplate(HTMLTemplate, fields)
	if err != nil {
		return "", "", err
	}
	return text, html, nil
}

func firstLine(message string) string {
	message = strings.TrimSpace(message)
	if idx := strings.IndexByte(message, '\n'); idx >= 0 {
		return strings.TrimSpace(message[:idx])
	}
	return message
}

type lineCache struct {
	files map[string][]string
}

func newLineCache(stepPath, source string) *lineCache {
	return &lineCache{files: map[string][]string{stepPath: splitSourceLines(source)}}
}

func (c *lineCache) get(filename string, line int) string {
	lines, ok := c.files[filename]
	if !ok {
		raw, err := os.ReadFile(filename)
		if err == nil {
			lines = splitSourceLines(Decode(raw, nil))
		}
		c.files[filename] = lines
	}
	if line <= 0 || line > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[line-1])
}
