package cipher

import "context"

// Layer names one encoding the engine knows how to remove.
type Layer string

const (
	LayerEscape  Layer = "escape"
	LayerPercent Layer = "percent"
	LayerHTML    Layer = "html"
	LayerHex     Layer = "hex"
	LayerBase64  Layer = "base64"
	LayerGzip    Layer = "gzip"
)

// OperationType defines the category of transformation operation
type OperationType string

const (
	OperationTypeEncode     OperationType = "encode"
	OperationTypeDecode     OperationType = "decode"
	OperationTypeCompress   OperationType = "compress"
	OperationTypeDecompress OperationType = "decompress"
)

// Operation represents a single transformation operation that can be applied to data
type Operation interface {
	// Name returns the unique identifier for this operation
	Name() string

	// Type returns the category of this operation
	Type() OperationType

	// Layer returns the encoding layer the operation adds or removes
	Layer() Layer

	// Description returns a human-readable description
	Description() string

	// Execute applies the operation to the input data
	Execute(ctx context.Context, input []byte, params map[string]interface{}) ([]byte, error)

	// Reverse returns the inverse operation if available
	Reverse() (Operation, bool)
}

// DetectionResult represents the result of automatic encoding detection
type DetectionResult struct {
	Layer      Layer   `json:"layer"`
	Confidence float64 `json:"confidence"` // 0.0 to 1.0
	Reasoning  string  `json:"reasoning"`
	Operation  string  `json:"operation"` // Suggested operation name to decode
}

// Detector identifies the encoding layers present in input data
type Detector interface {
	// Detect reports every layer whose shape matches the input
	Detect(ctx context.Context, input []byte) ([]DetectionResult, error)

	// SupportedLayers returns the layers this detector can identify
	SupportedLayers() []Layer
}

// BaseOperation provides common functionality for operations
type BaseOperation struct {
	NameValue        string
	TypeValue        OperationType
	LayerValue       Layer
	DescriptionValue string
	ReverseOp        Operation
}

func (b *BaseOperation) Name() string {
	return b.NameValue
}

func (b *BaseOperation) Type() OperationType {
	return b.TypeValue
}

func (b *BaseOperation) Layer() Layer {
	return b.LayerValue
}

func (b *BaseOperation) Description() string {
	return b.DescriptionValue
}

func (b *BaseOperation) Reverse() (Operation, bool) {
	if b.ReverseOp == nil {
		return nil, false
	}
	return b.ReverseOp, true
}
