package cipher

import (
	"context"
	"errors"
	"testing"
)

func TestPipelineExecution(t *testing.T) {
	tests := []struct {
		name       string
		operations []OperationConfig
		input      string
		expected   string
	}{
		{
			name: "single operation",
			operations: []OperationConfig{
				{Name: "base64_encode"},
			},
			input:    "hello",
			expected: "aGVsbG8=",
		},
		{
			name: "double encoding",
			operations: []OperationConfig{
				{Name: "base64_encode"},
				{Name: "base64_encode"},
			},
			input:    "test",
			expected: "ZEdWemRBPT0=",
		},
		{
			name: "encode then decode",
			operations: []OperationConfig{
				{Name: "url_encode"},
				{Name: "url_decode"},
			},
			input:    "hello world",
			expected: "hello world",
		},
		{
			name: "percent over hex",
			operations: []OperationConfig{
				{Name: "hex_encode"},
				{Name: "url_encode"},
			},
			input:    "hi",
			expected: "6869",
		},
		{
			name: "escape then percent",
			operations: []OperationConfig{
				{Name: "unicode_escape"},
				{Name: "url_encode"},
			},
			input:    "中文",
			expected: "%5Cu4e2d%5Cu6587",
		},
	}

	ctx := context.Background()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipeline := &Pipeline{
				Operations: tt.operations,
				Reversible: true,
			}

			result, err := pipeline.Execute(ctx, []byte(tt.input))
			if err != nil {
				t.Fatalf("pipeline execution failed: %v", err)
			}

			if string(result) != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, string(result))
			}
		})
	}
}

func TestPipelineReversibility(t *testing.T) {
	tests := []struct {
		name       string
		operations []OperationConfig
		input      string
	}{
		{
			name: "single reversible operation",
			operations: []OperationConfig{
				{Name: "base64_encode"},
			},
			input: "hello world",
		},
		{
			name: "multiple reversible operations",
			operations: []OperationConfig{
				{Name: "url_encode"},
				{Name: "base64_encode"},
				{Name: "hex_encode"},
			},
			input: "test@example.com?query=value",
		},
		{
			name: "compression and encoding",
			operations: []OperationConfig{
				{Name: "gzip_compress"},
				{Name: "base64_encode"},
			},
			input: "This is a long text that should compress well. " +
				"It has lots of repetitive content. " +
				"This is a long text that should compress well.",
		},
		{
			name: "html and escapes",
			operations: []OperationConfig{
				{Name: "html_encode"},
				{Name: "unicode_escape"},
			},
			input: `<p class="x">彭斯诚 & 😀</p>`,
		},
	}

	ctx := context.Background()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipeline := &Pipeline{
				Operations: tt.operations,
				Reversible: true,
			}

			// Execute forward
			encoded, err := pipeline.Execute(ctx, []byte(tt.input))
			if err != nil {
				t.Fatalf("forward pipeline failed: %v", err)
			}

			reversePipeline, err := pipeline.Reverse()
			if err != nil {
				t.Fatalf("failed to create reverse pipeline: %v", err)
			}

			decoded, err := reversePipeline.Execute(ctx, encoded)
			if err != nil {
				t.Fatalf("reverse pipeline failed: %v", err)
			}

			if string(decoded) != tt.input {
				t.Errorf("roundtrip failed: expected %q, got %q", tt.input, string(decoded))
			}
		})
	}
}

func TestPipelineReverseOrder(t *testing.T) {
	pipeline, err := ParsePipeline([]string{"gzip_compress", "base64_encode", "url_encode"})
	if err != nil {
		t.Fatalf("ParsePipeline: %v", err)
	}
	reversed, err := pipeline.Reverse()
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}

	expected := []string{"url_decode", "base64_decode", "gzip_decompress"}
	for i, name := range expected {
		if reversed.Operations[i].Name != name {
			t.Errorf("step %d: expected %s, got %s", i, name, reversed.Operations[i].Name)
		}
	}
}

func TestPipelineNonReversible(t *testing.T) {
	registerMock(t, "mock_one_way", OperationTypeEncode, LayerHex)

	pipeline, err := ParsePipeline([]string{"hex_encode", "mock_one_way"})
	if err != nil {
		t.Fatalf("ParsePipeline: %v", err)
	}
	if pipeline.Reversible {
		t.Fatal("pipeline with a one-way operation should not be reversible")
	}
	if _, err := pipeline.Reverse(); !errors.Is(err, ErrNotReversible) {
		t.Errorf("expected ErrNotReversible, got %v", err)
	}
}

func TestParsePipelineErrors(t *testing.T) {
	if _, err := ParsePipeline(nil); err == nil {
		t.Error("expected error for empty pipeline")
	}
	if _, err := ParsePipeline([]string{"base64_encode", "rot13"}); !errors.Is(err, ErrUnknownOperation) {
		t.Errorf("expected ErrUnknownOperation, got %v", err)
	}
}

func TestPipelineUnknownOperation(t *testing.T) {
	pipeline := &Pipeline{
		Operations: []OperationConfig{
			{Name: "unknown_operation"},
		},
		Reversible: false,
	}

	ctx := context.Background()
	_, err := pipeline.Execute(ctx, []byte("test"))
	if !errors.Is(err, ErrUnknownOperation) {
		t.Errorf("expected ErrUnknownOperation, got %v", err)
	}
}

func TestPipelineStepFailure(t *testing.T) {
	pipeline := &Pipeline{Operations: []OperationConfig{{Name: "base64_decode"}}}

	if _, err := pipeline.Execute(context.Background(), []byte("not base64!")); err == nil {
		t.Error("expected decode failure to surface")
	}
}

func TestPipelineCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pipeline := &Pipeline{Operations: []OperationConfig{{Name: "hex_encode"}}}
	_, err := pipeline.Execute(ctx, []byte("test"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPipelineEmptyOperations(t *testing.T) {
	pipeline := &Pipeline{
		Operations: []OperationConfig{},
		Reversible: true,
	}

	ctx := context.Background()
	input := []byte("test")
	result, err := pipeline.Execute(ctx, input)
	if err != nil {
		t.Fatalf("empty pipeline should not fail: %v", err)
	}

	if string(result) != string(input) {
		t.Errorf("empty pipeline should return input unchanged")
	}
}
