// Package cipher peels nested text encodings off captured payloads.
//
// # Overview
//
// The engine takes an opaque string such as a log line, a captured HTTP body or
// an HTML attribute and repeatedly strips the layers it recognises:
//   - backslash escapes (\uXXXX, \UXXXXXXXX, \xXX, \n, \t, ...)
//   - URL percent-encoding
//   - HTML/XML character entities
//   - hexadecimal
//   - Base64, optionally wrapping gzip
//
// Every pass runs all five steps in that order. Decoding stops at the first
// pass that leaves the text unchanged, or after MaxPasses passes.
//
// # Quick Start
//
//	out := cipher.AutoDecode("%E4%BD%A0%E5%A5%BD")
//	// out: "你好"
//
// To see which layers fired:
//
//	res := cipher.AutoDecodeTrace("JTJGaGVsbG8=")
//	for _, step := range res.Steps {
//	    fmt.Printf("pass %d: %s\n", step.Pass, step.Layer)
//	}
//
// # Detection
//
// LooksLikeHex and LooksLikeBase64 classify text by shape only. SmartDetector
// reports every layer whose shape matches, with a rough confidence:
//
//	detector := cipher.NewSmartDetector()
//	results, _ := detector.Detect(ctx, []byte("SGVsbG8gV29ybGQh"))
//
// # Building payloads
//
// The operation registry holds reversible encoders used to construct nested
// test payloads:
//
//	pipeline := &cipher.Pipeline{
//	    Operations: []cipher.OperationConfig{
//	        {Name: "gzip_compress"},
//	        {Name: "base64_encode"},
//	        {Name: "url_encode"},
//	    },
//	    Reversible: true,
//	}
//	encoded, _ := pipeline.Execute(ctx, []byte(`{"msg":"hi"}`))
//	cipher.AutoDecode(string(encoded)) // {"msg":"hi"}
//
// # Failure handling
//
// AutoDecode never fails. A layer that does not match, or that matches but
// does not decode to valid UTF-8, is skipped for that pass and the text from
// before the step is kept.
//
// # Thread Safety
//
// AutoDecode and the detectors hold no state. The operation registry is
// guarded by a read/write mutex.
package cipher
