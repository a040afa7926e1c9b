package cipher

import "strings"

// MaxPasses caps the number of full passes AutoDecode makes over its input.
const MaxPasses = 10

// Step records a layer that changed the text during a pass.
type Step struct {
	Pass  int   `json:"pass"`
	Layer Layer `json:"layer"`
}

// Result is the outcome of AutoDecodeTrace.
type Result struct {
	Output string `json:"output"`
	// Passes counts the passes run, including the final unchanged one.
	Passes int `json:"passes"`
	// Converged is false when the pass budget ran out while the text was
	// still changing.
	Converged bool   `json:"converged"`
	Steps     []Step `json:"steps,omitempty"`
}

// Layers returns the fired layers in order.
func (r Result) Layers() []Layer {
	layers := make([]Layer, 0, len(r.Steps))
	for _, s := range r.Steps {
		layers = append(layers, s.Layer)
	}
	return layers
}

// textStep rewrites spans of the buffer.
type textStep struct {
	layer  Layer
	decode func(string) (string, bool)
}

// envelopeStep treats the whole trimmed buffer as one encoded blob.
type envelopeStep struct {
	matches func(string) bool
	decode  func(string) (string, []Layer, bool)
}

var textSteps = []textStep{
	{LayerEscape, unescapeSequences},
	{LayerPercent, percentDecode},
	{LayerHTML, htmlDecode},
}

// Both envelope steps look at the same trimmed text. When both decode, the
// Base64 result is the one kept.
var envelopeSteps = []envelopeStep{
	{LooksLikeHex, decodeHex},
	{LooksLikeBase64, decodeBase64},
}

// AutoDecode strips every encoding layer it recognises from text and returns
// the result. Text with no recognisable layer is returned unchanged.
func AutoDecode(text string) string {
	return AutoDecodeTrace(text).Output
}

// AutoDecodeTrace runs the same passes as AutoDecode and reports which layers
// fired in which pass.
func AutoDecodeTrace(text string) Result {
	res := Result{Output: text}
	for pass := 1; pass <= MaxPasses; pass++ {
		next, fired := decodePass(res.Output)
		res.Passes = pass
		for _, layer := range fired {
			res.Steps = append(res.Steps, Step{Pass: pass, Layer: layer})
		}
		if next == res.Output {
			res.Converged = true
			break
		}
		res.Output = next
	}
	return res
}

// decodePass applies each step once, in order, to in.
func decodePass(in string) (string, []Layer) {
	cur := in
	var fired []Layer

	for _, step := range textSteps {
		if out, ok := step.decode(cur); ok {
			cur = out
			fired = append(fired, step.layer)
		}
	}

	stripped := strings.TrimSpace(cur)
	for _, step := range envelopeSteps {
		if !step.matches(stripped) {
			continue
		}
		if out, layers, ok := step.decode(stripped); ok && out != stripped {
			cur = out
			fired = append(fired, layers...)
		}
	}

	return cur, fired
}
