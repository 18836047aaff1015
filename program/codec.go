package program

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Format identifies an image encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
	FormatCBOR
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	case FormatCBOR:
		return "cbor"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

var ErrUnknownFormat = errors.New("unknown image format")

// cborEncMode uses canonical mode so identical images encode identically.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("program: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// FormatForPath picks a format from a file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cbor", ".dmb":
		return FormatCBOR, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, path)
}

// Decode parses an image in the given format.
func Decode(data []byte, f Format) (*Image, error) {
	var img Image
	var err error
	switch f {
	case FormatJSON:
		err = json.Unmarshal(data, &img)
	case FormatYAML:
		err = yaml.Unmarshal(data, &img)
	case FormatCBOR:
		err = cbor.Unmarshal(data, &img)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, f)
	}
	if err != nil {
		return nil, fmt.Errorf("program: decode %s image: %w", f, err)
	}
	return &img, nil
}

// Encode serializes an image in the given format.
func Encode(img *Image, f Format) ([]byte, error) {
	var data []byte
	var err error
	switch f {
	case FormatJSON:
		data, err = json.MarshalIndent(img, "", "  ")
	case FormatYAML:
		data, err = yaml.Marshal(img)
	case FormatCBOR:
		data, err = cborEncMode.Marshal(img)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, f)
	}
	if err != nil {
		return nil, fmt.Errorf("program: encode %s image: %w", f, err)
	}
	return data, nil
}

// Load reads an image file, choosing the codec by extension.
func Load(path string) (*Image, error) {
	f, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	img, err := Decode(data, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Save writes an image file, choosing the codec by extension.
func Save(path string, img *Image) error {
	f, err := FormatForPath(path)
	if err != nil {
		return err
	}
	data, err := Encode(img, f)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}
