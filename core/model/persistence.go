package model

import (
	"encoding/gob"
	"io"
	"os"

	"github.com/scisearch/scisearch/pkg/errors"
)

// Save serializes a trained object (a fitted stage, or a whole trained
// search bundle) to a file with gob.
func Save(v interface{}, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(v); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// Load deserializes a trained object from a file. v must be a pointer.
func Load(v interface{}, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(v); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}

// SaveTo serializes a trained object to a writer.
func SaveTo(v interface{}, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(v); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// LoadFrom deserializes a trained object from a reader. v must be a pointer.
func LoadFrom(v interface{}, r io.Reader) error {
	if err := gob.NewDecoder(r).Decode(v); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}

// RegisterGobType registers a concrete Stage or Transformer implementation
// so it can travel through interface-typed fields of a saved bundle.
func RegisterGobType(v interface{}) {
	gob.Register(v)
}
