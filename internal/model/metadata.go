package model

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed metadata.schema.json
var metadataSchemaJSON []byte

var metadataSchema = mustCompileSchema(metadataSchemaJSON, "metadata.schema.json")

func mustCompileSchema(raw []byte, name string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("failed to parse embedded %s: %v", name, err))
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("failed to add %s resource: %v", name, err))
	}

	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile %s: %v", name, err))
	}
	return sch
}

// OutputKind says whether a model's output layer emits logits or an already
// normalized distribution.
type OutputKind string

const (
	OutputLogits        OutputKind = "logits"
	OutputProbabilities OutputKind = "probabilities"
)

// Metadata is the JSON sidecar exported next to each ONNX file at training
// time.
type Metadata struct {
	Name        string     `json:"name"`
	InputName   string     `json:"input_name"`
	OutputName  string     `json:"output_name"`
	InputShape  []int64    `json:"input_shape"`
	OutputShape []int64    `json:"output_shape"`
	Classes     []string   `json:"classes"`
	ImageSize   int        `json:"image_size"`
	Mean        []float32  `json:"mean"`
	Std         []float32  `json:"std"`
	OutputKind  OutputKind `json:"output_kind"`
	Taps        []TapSpec  `json:"taps"`
}

// TapSpec declares an intermediate layer exported as an extra graph output
// together with the layers that map it to the logits.
type TapSpec struct {
	Layer      string           `json:"layer"`
	OutputName string           `json:"output_name"`
	Shape      []int64          `json:"shape"`
	Head       []map[string]any `json:"head"`
}

// Labels returns the class list in output order.
func (m Metadata) Labels() Labels {
	return ParseLabels(m.Classes)
}

// InputSpec returns the resolution and normalization statistics.
func (m Metadata) InputSpec() InputSpec {
	spec := InputSpec{Size: m.ImageSize}
	copy(spec.Mean[:], m.Mean)
	copy(spec.Std[:], m.Std)
	return spec
}

// Tap returns the tap declared for layer.
func (m Metadata) Tap(layer string) (TapSpec, bool) {
	for _, t := range m.Taps {
		if t.Layer == layer {
			return t, true
		}
	}
	return TapSpec{}, false
}

// Check enforces consistency the schema cannot express.
func (m Metadata) Check() error {
	if len(m.InputShape) != 4 || m.InputShape[1] != 3 ||
		m.InputShape[2] != int64(m.ImageSize) || m.InputShape[3] != int64(m.ImageSize) {
		return fmt.Errorf("input shape %v does not match image size %d", m.InputShape, m.ImageSize)
	}
	if len(m.OutputShape) != 2 || m.OutputShape[1] != int64(len(m.Classes)) {
		return fmt.Errorf("output width %v does not match %d classes", m.OutputShape, len(m.Classes))
	}
	for _, t := range m.Taps {
		if _, err := BuildHead(t.Head); err != nil {
			return fmt.Errorf("tap %q: %w", t.Layer, err)
		}
	}
	return nil
}

// LoadMetadata reads a sidecar from disk. Files ending in .zst are
// decompressed first; sidecars carrying head weights are large.
func LoadMetadata(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return Metadata{}, fmt.Errorf("failed to open zstd metadata: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	return ParseMetadata(raw)
}

// ParseMetadata validates raw against the sidecar schema and decodes it.
func ParseMetadata(raw []byte) (Metadata, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if err := metadataSchema.Validate(doc); err != nil {
		return Metadata{}, fmt.Errorf("metadata does not match schema: %w", err)
	}

	meta := Metadata{
		InputName:  "input",
		OutputName: "output",
		OutputKind: OutputLogits,
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if err := meta.Check(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}
