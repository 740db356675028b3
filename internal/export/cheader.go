// Package export turns a fitted forest into a standalone C header that the
// device firmware includes to run inference without any training stack.
//
// Only the "inline" method is supported: every tree becomes a static inline
// function of nested if/else blocks with single precision thresholds.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"iot-anomaly/internal/forest"
)

const (
	MethodInline = "inline"
	DTypeFloat   = "float"
)

var ErrUnsupported = errors.New("export: unsupported option")

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options selects the generated code flavor.
type Options struct {
	Method string
	DType  string
	Name   string // prefix of every generated symbol
}

// DefaultOptions matches what the firmware includes as model.h. The firmware
// wrapper already claims ANOMALY_DETECTOR_H, so the generated guard carries a
// _MODEL_H suffix.
func DefaultOptions() Options {
	return Options{Method: MethodInline, DType: DTypeFloat, Name: "anomaly_detector"}
}

func (o Options) validate() error {
	if o.Method != MethodInline {
		return fmt.Errorf("%w: method %q", ErrUnsupported, o.Method)
	}
	if o.DType != DTypeFloat {
		return fmt.Errorf("%w: dtype %q", ErrUnsupported, o.DType)
	}
	if !identRe.MatchString(o.Name) {
		return fmt.Errorf("%w: name %q is not a C identifier", ErrUnsupported, o.Name)
	}
	return nil
}

type headerData struct {
	Name      string
	Macro     string
	Guard     string
	NFeatures int
	NClasses  int
	NTrees    int
	Trees     []string
}

var headerTmpl = template.Must(template.New("header").Parse(`// Generated random forest classifier. Do not edit.
#ifndef {{.Guard}}
#define {{.Guard}}

#include <stdint.h>

#define {{.Macro}}_N_FEATURES {{.NFeatures}}
#define {{.Macro}}_N_CLASSES {{.NClasses}}
#define {{.Macro}}_N_TREES {{.NTrees}}
{{range $i, $body := .Trees}}
static inline void {{$.Name}}_tree_{{$i}}(const float *features, float *out) {
{{$body}}}
{{end}}
static inline int32_t {{.Name}}_predict_proba(const float *features, int32_t n_features, float *out, int32_t out_length) {
    if (n_features != {{.NFeatures}} || out_length != {{.NClasses}}) {
        return -1;
    }
    for (int32_t i = 0; i < {{.NClasses}}; i++) {
        out[i] = 0.0f;
    }
{{- range $i, $body := .Trees}}
    {{$.Name}}_tree_{{$i}}(features, out);
{{- end}}
    for (int32_t i = 0; i < {{.NClasses}}; i++) {
        out[i] /= {{.NTrees}}.0f;
    }
    return 0;
}

static inline int32_t {{.Name}}_predict(const float *features, int32_t n_features) {
    float proba[{{.NClasses}}];
    if ({{.Name}}_predict_proba(features, n_features, proba, {{.NClasses}}) != 0) {
        return -1;
    }
    int32_t best = 0;
    for (int32_t i = 1; i < {{.NClasses}}; i++) {
        if (proba[i] > proba[best]) {
            best = i;
        }
    }
    return best;
}

#endif // {{.Guard}}
`))

// Guard returns the include guard emitted for a header named name.
func Guard(name string) string {
	return strings.ToUpper(name) + "_MODEL_H"
}

// floatLiteral formats v as a C single precision literal.
func floatLiteral(v float64) string {
	s := strconv.FormatFloat(float64(float32(v)), 'g', -1, 32)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s + "f"
}

func writeNode(buf *bytes.Buffer, t *forest.Tree, id, depth int) {
	indent := strings.Repeat("    ", depth)
	n := &t.Nodes[id]
	if n.IsLeaf() {
		for cls, p := range n.Value {
			if p == 0 {
				continue
			}
			fmt.Fprintf(buf, "%sout[%d] += %s;\n", indent, cls, floatLiteral(p))
		}
		return
	}

	fmt.Fprintf(buf, "%sif (features[%d] <= %s) {\n", indent, n.Feature, floatLiteral(n.Threshold))
	writeNode(buf, t, n.Left, depth+1)
	fmt.Fprintf(buf, "%s} else {\n", indent)
	writeNode(buf, t, n.Right, depth+1)
	fmt.Fprintf(buf, "%s}\n", indent)
}

// Write renders f as a C header.
func Write(w io.Writer, f *forest.Forest, opts Options) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if !f.Fitted() {
		return forest.ErrNotFitted
	}

	data := headerData{
		Name:      opts.Name,
		Macro:     strings.ToUpper(opts.Name),
		Guard:     Guard(opts.Name),
		NFeatures: f.NFeatures,
		NClasses:  f.NClasses,
		NTrees:    len(f.Trees),
		Trees:     make([]string, len(f.Trees)),
	}
	for i := range f.Trees {
		var buf bytes.Buffer
		writeNode(&buf, &f.Trees[i], 0, 1)
		data.Trees[i] = buf.String()
	}

	if err := headerTmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to render header: %w", err)
	}
	return nil
}

// Save writes the header to path.
func Save(path string, f *forest.Forest, opts Options) error {
	var buf bytes.Buffer
	if err := Write(&buf, f, opts); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write header file: %w", err)
	}
	return nil
}
