package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/thyrook/fenvision/internal/classify"
	"github.com/thyrook/fenvision/internal/fen"
	"github.com/thyrook/fenvision/internal/geometry"
	"github.com/thyrook/fenvision/internal/vision"
)

// Classifier backends accepted by ClassifierConfig.Backend.
const (
	ClassifierIntensity = "intensity"
	ClassifierModel     = "model"
	ClassifierGemini    = "gemini"
)

// Config represents the application configuration
type Config struct {
	Vision     vision.Config    `json:"vision"`
	Classifier ClassifierConfig `json:"classifier"`
	Pipeline   PipelineConfig   `json:"pipeline"`
	Storage    StorageConfig    `json:"storage"`
	Interface  InterfaceConfig  `json:"interface"`
}

// ClassifierConfig selects and tunes the square classifier
type ClassifierConfig struct {
	Backend       string                `json:"backend"`
	ModelPath     string                `json:"model_path"`
	ConfidenceMin float64               `json:"confidence_min"` // Predictions below this become empty squares; 0 disables
	Contrast      float64               `json:"contrast"`       // Intensity backend only
	Gemini        classify.GeminiConfig `json:"gemini"`
}

// PipelineConfig contains orchestration settings and the metadata used
// for the non-board FEN fields
type PipelineConfig struct {
	Workers    int    `json:"workers"`
	SideToMove string `json:"side_to_move"`
	Castling   string `json:"castling"`
	EnPassant  string `json:"en_passant"`
	Halfmove   int    `json:"halfmove"`
	Fullmove   int    `json:"fullmove"`
}

// StorageConfig contains conversion history settings
type StorageConfig struct {
	DBPath     string `json:"db_path"`
	MaxRecords int    `json:"max_records"`
}

// InterfaceConfig contains logging settings
type InterfaceConfig struct {
	LogLevel string `json:"log_level"`
	LogPath  string `json:"log_path"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	meta := fen.DefaultMetadata()
	return &Config{
		Vision: *vision.DefaultConfig(),
		Classifier: ClassifierConfig{
			Backend:  ClassifierIntensity,
			Contrast: classify.DefaultContrast,
			Gemini: classify.GeminiConfig{
				Region: classify.DefaultGeminiRegion,
				Model:  classify.DefaultGeminiModel,
			},
		},
		Pipeline: PipelineConfig{
			Workers:    1,
			SideToMove: string(meta.SideToMove),
			Castling:   meta.Castling,
			EnPassant:  meta.EnPassant,
			Halfmove:   meta.Halfmove,
			Fullmove:   meta.Fullmove,
		},
		Storage: StorageConfig{
			DBPath:     "data/conversions.db",
			MaxRecords: 10000,
		},
		Interface: InterfaceConfig{
			LogLevel: "info",
		},
	}
}

// Load reads and parses the configuration file. Missing fields keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault loads path, falling back to the defaults when path is empty
// or does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// Save writes the configuration to a file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Vision.Validate(); err != nil {
		return err
	}

	switch c.Classifier.Backend {
	case ClassifierIntensity:
		if c.Classifier.Contrast <= 0 {
			return fmt.Errorf("classifier contrast must be positive, got %v", c.Classifier.Contrast)
		}
	case ClassifierModel:
		if c.Classifier.ModelPath == "" {
			return fmt.Errorf("classifier backend %q needs model_path", c.Classifier.Backend)
		}
	case ClassifierGemini:
		// Credentials may come from the environment; NewGemini checks them.
	default:
		return fmt.Errorf("unknown classifier backend %q", c.Classifier.Backend)
	}
	if c.Classifier.ConfidenceMin < 0 || c.Classifier.ConfidenceMin > 1 {
		return fmt.Errorf("confidence_min must be in [0,1], got %v", c.Classifier.ConfidenceMin)
	}

	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline workers must be at least 1, got %d", c.Pipeline.Workers)
	}
	if len(c.Pipeline.SideToMove) != 1 {
		return fmt.Errorf("side_to_move must be one character, got %q", c.Pipeline.SideToMove)
	}
	if c.Pipeline.Halfmove < 0 {
		return fmt.Errorf("halfmove must be >= 0, got %d", c.Pipeline.Halfmove)
	}
	if c.Pipeline.Fullmove < 1 {
		return fmt.Errorf("fullmove must be >= 1, got %d", c.Pipeline.Fullmove)
	}

	if c.Storage.MaxRecords < 0 {
		return fmt.Errorf("max_records must not be negative, got %d", c.Storage.MaxRecords)
	}

	return nil
}

// Metadata returns the FEN fields configured for the pipeline.
func (c *Config) Metadata() fen.Metadata {
	meta := fen.DefaultMetadata()
	if c.Pipeline.SideToMove != "" {
		meta.SideToMove = c.Pipeline.SideToMove[0]
	}
	if c.Pipeline.Castling != "" {
		meta.Castling = c.Pipeline.Castling
	}
	if c.Pipeline.EnPassant != "" {
		meta.EnPassant = c.Pipeline.EnPassant
	}
	meta.Halfmove = c.Pipeline.Halfmove
	meta.Fullmove = c.Pipeline.Fullmove
	return meta
}

// RecognizerKey fingerprints the settings that decide which board a photo
// is read as: the vision and classifier sections. Credentials, workers,
// metadata and paths outside them do not change the result and are left out.
func (c *Config) RecognizerKey() string {
	data, err := json.Marshal(struct {
		Vision     vision.Config    `json:"vision"`
		Classifier ClassifierConfig `json:"classifier"`
	}{c.Vision, c.Classifier})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

// EnsureDirectories creates the parent directories of every configured
// path.
func (c *Config) EnsureDirectories() error {
	paths := []string{c.Storage.DBPath, c.Interface.LogPath}
	if c.Classifier.Backend == ClassifierModel {
		paths = append(paths, c.Classifier.ModelPath)
	}

	for _, p := range paths {
		if p == "" {
			continue
		}
		dir := filepath.Dir(p)
		if dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// LoadCorners reads a corner file. YAML and JSON are both accepted, in any
// of these shapes:
//
//	top_left: {x: 10, y: 12}        # mapping by corner name
//	- [10, 12]                      # sequence of four [x, y] pairs, TL TR BR BL
//	"10,12 790,8 795,790 6,795"     # the -corners flag syntax
func LoadCorners(path string) (geometry.CornerSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return geometry.CornerSet{}, err
	}

	corners, err := ParseCornersDocument(data)
	if err != nil {
		return geometry.CornerSet{}, fmt.Errorf("corners %s: %w", path, err)
	}
	return corners, nil
}

// ParseCornersDocument decodes the contents of a corner file.
func ParseCornersDocument(data []byte) (geometry.CornerSet, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return geometry.CornerSet{}, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return geometry.CornerSet{}, fmt.Errorf("empty document")
	}

	node := doc.Content[0]
	if node.Kind == yaml.MappingNode {
		if inner := mappingValue(node, "corners"); inner != nil {
			node = inner
		}
	}

	switch node.Kind {
	case yaml.ScalarNode:
		return geometry.ParseCorners(node.Value)

	case yaml.SequenceNode:
		if len(node.Content) != 4 {
			return geometry.CornerSet{}, fmt.Errorf("expected 4 corners, got %d", len(node.Content))
		}
		var pts [4]geometry.Point
		for i, item := range node.Content {
			p, err := decodePoint(item)
			if err != nil {
				return geometry.CornerSet{}, fmt.Errorf("corner %d: %w", i+1, err)
			}
			pts[i] = p
		}
		return geometry.CornerSet{TopLeft: pts[0], TopRight: pts[1], BottomRight: pts[2], BottomLeft: pts[3]}, nil

	case yaml.MappingNode:
		for _, key := range []string{"top_left", "top_right", "bottom_right", "bottom_left"} {
			if mappingValue(node, key) == nil {
				return geometry.CornerSet{}, fmt.Errorf("missing %s", key)
			}
		}
		var c geometry.CornerSet
		if err := node.Decode(&c); err != nil {
			return geometry.CornerSet{}, err
		}
		return c, nil
	}

	return geometry.CornerSet{}, fmt.Errorf("unsupported corners document")
}

func decodePoint(n *yaml.Node) (geometry.Point, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return geometry.ParsePoint(n.Value)
	case yaml.SequenceNode:
		var xy []float64
		if err := n.Decode(&xy); err != nil {
			return geometry.Point{}, err
		}
		if len(xy) != 2 {
			return geometry.Point{}, fmt.Errorf("want [x, y], got %d values", len(xy))
		}
		return geometry.Pt(xy[0], xy[1]), nil
	default:
		var p geometry.Point
		err := n.Decode(&p)
		return p, err
	}
}

func mappingValue(n *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

// SaveCorners writes corners as YAML.
func SaveCorners(path string, corners geometry.CornerSet) error {
	data, err := yaml.Marshal(corners)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
