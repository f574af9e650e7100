package uuid

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid"
)

// HexAlphabet lowercase hex digits, for ids that must look like hashes
const HexAlphabet = "0123456789abcdef"

// Generator UUID generator interface
type Generator interface {
	Generate() (string, error)
}

// NanoIDGenerator UUID implementation using NanoID
type NanoIDGenerator struct {
	Length   int
	Alphabet string // empty means the default url-safe alphabet
	Prefix   string
}

var _ Generator = &NanoIDGenerator{}

// NewNanoIDGenerator create a new `NanoIDGenerator` instance
func NewNanoIDGenerator(length int) *NanoIDGenerator {
	if length < 1 {
		panic("length must be larger than 1")
	}
	return &NanoIDGenerator{Length: length}
}

// NewHexGenerator generates prefix followed by length hex digits, eg. 0x-prefixed hashes
func NewHexGenerator(prefix string, length int) *NanoIDGenerator {
	g := NewNanoIDGenerator(length)
	g.Alphabet = HexAlphabet
	g.Prefix = prefix
	return g
}

// Generate generate UUID
func (ns *NanoIDGenerator) Generate() (string, error) {
	var (
		id  string
		err error
	)
	if ns.Alphabet == "" {
		id, err = gonanoid.Nanoid(ns.Length)
	} else {
		id, err = gonanoid.Generate(ns.Alphabet, ns.Length)
	}
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return ns.Prefix + id, nil
}
